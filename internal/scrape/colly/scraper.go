// Package collyscraper implements the scrape contract using gocolly.
package collyscraper

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/schemasmith/schemasmith/internal/scrape"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes truncates extracted text; the generator only needs
	// enough page context to produce markup.
	MaxBodyBytes int
}

// Scraper implements scrape.Scraper using a Colly collector. Extraction is
// shallow: title, visible text and links. Anything smarter belongs to a
// replaceable provider behind the same contract.
type Scraper struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds a Scraper.
func New(cfg Config) *Scraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 * 1024
	}
	c := colly.NewCollector(colly.Async(false))
	c.WithTransport(newHTTPTransport())
	return &Scraper{cfg: cfg, baseCollector: c}
}

// Scrape executes a single HTTP GET and extracts page content.
func (s *Scraper) Scrape(ctx context.Context, url string) (scrape.Page, error) {
	collector := s.baseCollector.Clone()
	if s.cfg.UserAgent != "" {
		collector.UserAgent = s.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = true
	collector.SetRequestTimeout(s.cfg.Timeout)

	page := scrape.Page{URL: url}
	var fetchErr error

	collector.OnHTML("title", func(e *colly.HTMLElement) {
		if page.Title == "" {
			page.Title = strings.TrimSpace(e.Text)
		}
	})
	collector.OnHTML("body", func(e *colly.HTMLElement) {
		text := strings.Join(strings.Fields(e.Text), " ")
		if len(text) > s.cfg.MaxBodyBytes {
			text = text[:s.cfg.MaxBodyBytes]
		}
		page.Content = text
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link != "" {
			page.Links = append(page.Links, link)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	if err := runCollector(ctx, collector, url, &fetchErr); err != nil {
		return scrape.Page{}, err
	}
	page.Markdown = toMarkdown(page)
	return page, nil
}

func runCollector(ctx context.Context, collector *colly.Collector, url string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("scrape canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("scrape visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("scrape response failed: %w", *fetchErr)
		}
		return nil
	}
}

func toMarkdown(page scrape.Page) string {
	var b strings.Builder
	if page.Title != "" {
		b.WriteString("# ")
		b.WriteString(page.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(page.Content)
	return b.String()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
