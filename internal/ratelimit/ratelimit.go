// Package ratelimit budgets outbound requests against the valuation
// site, which throttles automated traffic aggressively.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const pollInterval = 250 * time.Millisecond

// Limiter enforces request budgets over sliding minute, hour and day
// windows. A request must fit every configured window to be allowed.
type Limiter struct {
	enabled bool

	mu      sync.Mutex
	windows []*window
}

type window struct {
	span  time.Duration
	limit int
	hits  []time.Time
}

func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	kept := w.hits[:0]
	for _, hit := range w.hits {
		if hit.After(cutoff) {
			kept = append(kept, hit)
		}
	}
	w.hits = kept
}

// New builds a limiter; window limits of zero or less are unenforced.
func New(perMinute, perHour, perDay int, enabled bool) *Limiter {
	l := &Limiter{enabled: enabled}
	for _, cfg := range []struct {
		span  time.Duration
		limit int
	}{
		{time.Minute, perMinute},
		{time.Hour, perHour},
		{24 * time.Hour, perDay},
	} {
		if cfg.limit > 0 {
			l.windows = append(l.windows, &window{span: cfg.span, limit: cfg.limit})
		}
	}
	return l
}

// Allow reports whether a request fits the budget and records it if so.
func (l *Limiter) Allow() bool {
	if !l.enabled {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	for _, w := range l.windows {
		w.prune(now)
		if len(w.hits) >= w.limit {
			return false
		}
	}
	for _, w := range l.windows {
		w.hits = append(w.hits, now)
	}
	return true
}

// Wait blocks until a request is allowed or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// Reset drops all recorded requests.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, w := range l.windows {
		w.hits = nil
	}
}

// WindowStats describes usage of one sliding window.
type WindowStats struct {
	Span      string `json:"span"`
	Used      int    `json:"used"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
}

// Stats is a snapshot for the stats endpoint.
type Stats struct {
	Enabled bool          `json:"enabled"`
	Windows []WindowStats `json:"windows,omitempty"`
}

func (l *Limiter) Stats() Stats {
	if !l.enabled {
		return Stats{Enabled: false}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	stats := Stats{Enabled: true}
	for _, w := range l.windows {
		w.prune(now)
		remaining := w.limit - len(w.hits)
		if remaining < 0 {
			remaining = 0
		}
		stats.Windows = append(stats.Windows, WindowStats{
			Span:      w.span.String(),
			Used:      len(w.hits),
			Limit:     w.limit,
			Remaining: remaining,
		})
	}
	return stats
}
