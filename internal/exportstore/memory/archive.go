// Package memory keeps export artifacts in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Archive stores artifacts in a map and hands out pseudo URIs.
type Archive struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New creates an in-memory Archive.
func New() *Archive {
	return &Archive{data: make(map[string][]byte)}
}

// Put persists the content under key and returns a memory:// URI.
func (a *Archive) Put(_ context.Context, key string, _ string, data io.Reader) (string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read artifact: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.data[key] = append([]byte(nil), raw...)
	return fmt.Sprintf("memory://%s", key), nil
}

// Object returns the stored bytes for key, if present.
func (a *Archive) Object(key string) ([]byte, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	raw, ok := a.data[key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), raw...), true
}
