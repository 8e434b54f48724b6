package backend

import (
	"context"
	"sync"
	"time"
)

// pacer enforces a minimum gap between sends. It owns the only pacing state
// in the client, so concurrent callers serialise here.
type pacer struct {
	mu       sync.Mutex
	gap      time.Duration
	lastSend time.Time
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

func newPacer(gap time.Duration) *pacer {
	return &pacer{gap: gap, now: time.Now, sleep: sleepCtx}
}

// Wait blocks until the gap since the previous send has elapsed, then claims
// the slot. Returns early if ctx is cancelled.
func (p *pacer) Wait(ctx context.Context) error {
	if p == nil || p.gap <= 0 {
		return nil
	}
	p.mu.Lock()
	now := p.now()
	wait := p.gap - now.Sub(p.lastSend)
	if wait < 0 {
		wait = 0
	}
	// Claim the slot before sleeping so concurrent senders queue behind us.
	prev := p.lastSend
	claim := now.Add(wait)
	p.lastSend = claim
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}
	if err := p.sleep(ctx, wait); err != nil {
		// The send never happened. Give the slot back unless a later
		// sender has already queued past our claim.
		p.mu.Lock()
		if p.lastSend.Equal(claim) {
			p.lastSend = prev
		}
		p.mu.Unlock()
		return err
	}
	return nil
}
