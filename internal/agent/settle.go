package agent

import (
	"context"
	"time"

	"github.com/v0xg/digitwin/internal/crawler"
)

// Settler waits for the UI to finish re-rendering after a mutation
type Settler interface {
	Settle(ctx context.Context)
}

// PollSettler re-extracts snapshots until two consecutive ones are equal,
// giving up after maxWait
type PollSettler struct {
	surface  crawler.Surface
	interval time.Duration
	maxWait  time.Duration
}

// NewPollSettler creates a PollSettler. A zero maxWait disables settling.
func NewPollSettler(surface crawler.Surface, interval, maxWait time.Duration) *PollSettler {
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}
	return &PollSettler{surface: surface, interval: interval, maxWait: maxWait}
}

// Settle implements Settler
func (p *PollSettler) Settle(ctx context.Context) {
	if p.maxWait <= 0 {
		return
	}

	deadline := time.NewTimer(p.maxWait)
	defer deadline.Stop()
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	prev := crawler.Extract(ctx, p.surface)
	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			return
		case <-ticker.C:
			cur := crawler.Extract(ctx, p.surface)
			if cur.Equal(prev) {
				return
			}
			prev = cur
		}
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
