package provider

import (
	"context"
	"sync"
	"time"
)

// Throttle spaces outbound API calls at least minGap apart. Yahoo's chart
// endpoint starts returning 429s well before any documented quota, so every
// provider call goes through one of these.
type Throttle struct {
	mu     sync.Mutex
	minGap time.Duration
	next   time.Time
}

func NewThrottle(minGap time.Duration) *Throttle {
	return &Throttle{minGap: minGap}
}

// Wait blocks until this call's slot arrives or the context is cancelled.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	now := time.Now()
	slot := t.next
	if slot.Before(now) {
		slot = now
	}
	t.next = slot.Add(t.minGap)
	t.mu.Unlock()

	wait := time.Until(slot)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
