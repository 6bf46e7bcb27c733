package markup

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/schemasmith/schemasmith/internal/scrape"
)

// Processor ties scraping and generation into the per-URL unit of work the
// job scheduler dispatches.
type Processor struct {
	scraper   scrape.Scraper
	generator Generator
}

// NewProcessor builds a Processor.
func NewProcessor(scraper scrape.Scraper, generator Generator) *Processor {
	return &Processor{scraper: scraper, generator: generator}
}

// Process fetches the page and produces its structured data payload.
func (p *Processor) Process(ctx context.Context, url string, keywords []string) (json.RawMessage, error) {
	page, err := p.scraper.Scrape(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("scraping %s: %w", url, err)
	}

	schema, err := p.generator.Generate(ctx, Input{
		URL:      page.URL,
		Title:    page.Title,
		Content:  page.Content,
		Markdown: page.Markdown,
		Keywords: keywords,
	})
	if err != nil {
		return nil, fmt.Errorf("generating markup for %s: %w", url, err)
	}

	payload, err := json.Marshal(map[string]any{
		"url":    page.URL,
		"title":  page.Title,
		"schema": schema,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding result for %s: %w", url, err)
	}
	return payload, nil
}
