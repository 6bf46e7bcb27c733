// Package markup defines the structured data generation contract.
package markup

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrEmptyPage is returned when a page has no usable content to work from.
var ErrEmptyPage = errors.New("markup: page has no usable content")

// Input carries everything a generator needs for one page.
type Input struct {
	URL      string
	Title    string
	Content  string
	Markdown string
	Keywords []string
}

// Generator produces schema.org JSON-LD for a page.
type Generator interface {
	Generate(ctx context.Context, in Input) (json.RawMessage, error)
}
