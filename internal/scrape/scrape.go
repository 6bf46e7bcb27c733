// Package scrape defines the web content extraction contract. The
// extraction provider is an external collaborator; this package only
// fixes the shape of what comes back.
package scrape

import "context"

// Page is the extracted content of one URL.
type Page struct {
	URL      string   `json:"url"`
	Title    string   `json:"title"`
	Content  string   `json:"content"`
	Markdown string   `json:"markdown"`
	Links    []string `json:"links,omitempty"`
}

// Scraper extracts page content from a URL.
type Scraper interface {
	Scrape(ctx context.Context, url string) (Page, error)
}
