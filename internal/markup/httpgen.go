package markup

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGeneratorConfig configures the remote generation client.
type HTTPGeneratorConfig struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
}

// HTTPGenerator calls an external generation service over HTTP. The service
// receives the page context and returns a JSON-LD document.
type HTTPGenerator struct {
	cfg    HTTPGeneratorConfig
	client *http.Client
}

// NewHTTPGenerator builds an HTTPGenerator.
func NewHTTPGenerator(cfg HTTPGeneratorConfig) *HTTPGenerator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &HTTPGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type generateRequest struct {
	URL      string   `json:"url"`
	Title    string   `json:"title,omitempty"`
	Content  string   `json:"content,omitempty"`
	Markdown string   `json:"markdown,omitempty"`
	Keywords []string `json:"keywords,omitempty"`
}

type generateResponse struct {
	Schema json.RawMessage `json:"schema"`
	Error  string          `json:"error,omitempty"`
}

// Generate posts the page context to the service and returns the schema.
func (g *HTTPGenerator) Generate(ctx context.Context, in Input) (json.RawMessage, error) {
	if in.Content == "" && in.Markdown == "" {
		return nil, ErrEmptyPage
	}

	body, err := json.Marshal(generateRequest{
		URL:      in.URL,
		Title:    in.Title,
		Content:  in.Content,
		Markdown: in.Markdown,
		Keywords: in.Keywords,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("generator returned %d: %s", resp.StatusCode, string(snippet))
	}

	var decoded generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decoding generate response: %w", err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("generator error: %s", decoded.Error)
	}
	if len(decoded.Schema) == 0 {
		return nil, fmt.Errorf("generator returned empty schema")
	}
	return decoded.Schema, nil
}
