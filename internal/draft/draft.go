// Package draft implements the per-project version history engine: an
// append-only-with-cap ledger of draft snapshots plus query operations
// over it.
package draft

import (
	"encoding/json"
	"errors"
	"time"
)

// Sentinel errors for the API layer.
var (
	// ErrNotFound covers absent projects and projects owned by another
	// user.
	ErrNotFound = errors.New("project not found")
	// ErrVersionNotFound means the referenced version is not in history.
	ErrVersionNotFound = errors.New("version not found")
	// ErrInvalidFormat rejects unsupported export formats.
	ErrInvalidFormat = errors.New("invalid export format")
)

// DefaultHistoryCap is how many snapshots a project retains. The oldest
// beyond the cap are evicted by CreatedAt.
const DefaultHistoryCap = 50

// Snapshot is a single versioned copy of project content. Content is
// opaque: the engine stores, sizes and hashes it but never interprets it.
type Snapshot struct {
	Content   json.RawMessage `json:"content,omitempty"`
	Version   int             `json:"version"`
	CreatedAt time.Time       `json:"created_at"`
	Author    string          `json:"author,omitempty"`
	Changes   string          `json:"changes,omitempty"`
	// Auto distinguishes autosave snapshots from manual saves.
	Auto bool     `json:"auto"`
	Tags []string `json:"tags,omitempty"`
	// Size is the byte length of the serialized content.
	Size int `json:"size"`
	// Checksum is a hex content hash for integrity and dedup checks.
	Checksum string `json:"checksum"`
}

// Project owns a current draft and its capped history.
type Project struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	CurrentDraft *Snapshot  `json:"current_draft,omitempty"`
	History      []Snapshot `json:"history,omitempty"`
}

// Meta carries optional snapshot attribution.
type Meta struct {
	Author  string
	Changes string
	Tags    []string
	// Auto marks the snapshot as an autosave rather than a manual save.
	Auto bool
}

// Diff is the coarse comparison between two versions: whether content
// differs at all and the byte-size delta. Field-level diffing is left
// to clients.
type Diff struct {
	Version1       int  `json:"version1"`
	Version2       int  `json:"version2"`
	ContentDiffers bool `json:"content_differs"`
	SizeDelta      int  `json:"size_delta"`
}

// Query is a conjunctive search filter; zero-valued fields are ignored.
type Query struct {
	Tags             []string
	Author           string
	DateFrom         *time.Time
	DateTo           *time.Time
	ContentSubstring string
}

// Stats aggregates a project's history.
type Stats struct {
	TotalVersions int        `json:"total_versions"`
	AutoSaves     int        `json:"auto_saves"`
	ManualSaves   int        `json:"manual_saves"`
	UniqueAuthors int        `json:"unique_authors"`
	UniqueTags    int        `json:"unique_tags"`
	AverageSize   int        `json:"average_size"`
	Oldest        *time.Time `json:"oldest,omitempty"`
	Newest        *time.Time `json:"newest,omitempty"`
}

// ExportFormat selects the export serialization.
type ExportFormat string

// Supported export formats.
const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
)

// ExportOptions controls Export output.
type ExportOptions struct {
	Format ExportFormat
	// Versions, when non-empty, limits the export to those versions.
	Versions []int
	// IncludeContent embeds the raw content in each row.
	IncludeContent bool
}
