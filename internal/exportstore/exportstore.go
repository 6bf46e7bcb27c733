// Package exportstore persists exported version-history documents.
package exportstore

import (
	"context"
	"io"
)

// Archive writes an export artifact to durable storage and returns a URI
// that can be handed back to the caller.
type Archive interface {
	Put(ctx context.Context, key string, contentType string, data io.Reader) (string, error)
}
