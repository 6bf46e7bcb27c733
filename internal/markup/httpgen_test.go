package markup

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHTTPGeneratorRoundTrip(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotReq generateRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"schema":{"@type":"Article","headline":"hello"}}`))
	}))
	defer server.Close()

	gen := NewHTTPGenerator(HTTPGeneratorConfig{Endpoint: server.URL, APIKey: "secret"})
	schema, err := gen.Generate(context.Background(), Input{
		URL:      "https://example.com/post",
		Title:    "hello",
		Content:  "body text",
		Keywords: []string{"seo"},
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"@type":"Article","headline":"hello"}`, string(schema))
	require.Equal(t, "Bearer secret", gotAuth)
	require.Equal(t, "https://example.com/post", gotReq.URL)
	require.Equal(t, []string{"seo"}, gotReq.Keywords)
}

func TestHTTPGeneratorRejectsEmptyPage(t *testing.T) {
	t.Parallel()

	gen := NewHTTPGenerator(HTTPGeneratorConfig{Endpoint: "http://unused.test"})
	_, err := gen.Generate(context.Background(), Input{URL: "https://example.com"})
	require.ErrorIs(t, err, ErrEmptyPage)
}

func TestHTTPGeneratorStatusError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	gen := NewHTTPGenerator(HTTPGeneratorConfig{Endpoint: server.URL})
	_, err := gen.Generate(context.Background(), Input{URL: "https://example.com", Content: "x"})
	require.ErrorContains(t, err, "generator returned 429")
	require.ErrorContains(t, err, "rate limited")
}

func TestHTTPGeneratorServiceError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"error":"no usable content"}`))
	}))
	defer server.Close()

	gen := NewHTTPGenerator(HTTPGeneratorConfig{Endpoint: server.URL})
	_, err := gen.Generate(context.Background(), Input{URL: "https://example.com", Content: "x"})
	require.ErrorContains(t, err, "no usable content")

	// An empty schema with no error is also refused.
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer empty.Close()
	gen = NewHTTPGenerator(HTTPGeneratorConfig{Endpoint: empty.URL})
	_, err = gen.Generate(context.Background(), Input{URL: "https://example.com", Content: "x"})
	require.ErrorContains(t, err, "empty schema")
}
