package draft

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Export serializes history rows as JSON or CSV. The returned content
// type matches the chosen format.
func (e *Engine) Export(ctx context.Context, projectID, ownerID string, opts ExportOptions) ([]byte, string, error) {
	history, err := e.History(ctx, projectID, ownerID)
	if err != nil {
		return nil, "", err
	}
	rows := filterVersions(history, opts.Versions)
	if !opts.IncludeContent {
		for i := range rows {
			rows[i].Content = nil
		}
	}

	switch opts.Format {
	case FormatJSON, "":
		data, err := json.MarshalIndent(map[string]any{
			"project_id":  projectID,
			"exported_at": e.clock.Now().Format(time.RFC3339),
			"versions":    rows,
		}, "", "  ")
		if err != nil {
			return nil, "", fmt.Errorf("marshal export: %w", err)
		}
		return data, "application/json", nil
	case FormatCSV:
		data, err := exportCSV(rows, opts.IncludeContent)
		if err != nil {
			return nil, "", err
		}
		return data, "text/csv", nil
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidFormat, opts.Format)
	}
}

func exportCSV(rows []Snapshot, includeContent bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"version", "created_at", "author", "changes", "auto", "tags", "size", "checksum"}
	if includeContent {
		header = append(header, "content")
	}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, snap := range rows {
		record := []string{
			strconv.Itoa(snap.Version),
			snap.CreatedAt.Format(time.RFC3339),
			snap.Author,
			snap.Changes,
			strconv.FormatBool(snap.Auto),
			strings.Join(snap.Tags, ";"),
			strconv.Itoa(snap.Size),
			snap.Checksum,
		}
		if includeContent {
			record = append(record, string(snap.Content))
		}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func filterVersions(history []Snapshot, versions []int) []Snapshot {
	if len(versions) == 0 {
		return history
	}
	want := make(map[int]struct{}, len(versions))
	for _, v := range versions {
		want[v] = struct{}{}
	}
	out := make([]Snapshot, 0, len(versions))
	for _, snap := range history {
		if _, ok := want[snap.Version]; ok {
			out = append(out, snap)
		}
	}
	return out
}
