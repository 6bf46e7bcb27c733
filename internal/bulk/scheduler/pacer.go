package scheduler

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/schemasmith/schemasmith/internal/metrics"
)

// Pacer throttles dispatches to the external processor.
type Pacer interface {
	Wait(ctx context.Context, rawURL string) error
}

// HostPacer applies a token-bucket limit per target host so one job's
// burst cannot starve another job hitting the same provider-side quota.
type HostPacer struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// PacerConfig holds host pacing configuration.
type PacerConfig struct {
	DefaultRPS   float64
	DefaultBurst int
}

// NewHostPacer creates a HostPacer. A non-positive RPS disables limiting.
func NewHostPacer(cfg PacerConfig) *HostPacer {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &HostPacer{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting
// the context.
func (p *HostPacer) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	p.mu.Lock()
	limiter, exists := p.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(p.defaultRate, p.defaultBurst)
		p.limiters[host] = limiter
	}
	p.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	metrics.ObservePacerDelay(host, time.Since(start))
	return nil
}
