package orchestrator

import (
	"context"
	"sync"
)

// progress lets goroutines wait for an apply loop to reach a seq.
type progress struct {
	mu  sync.Mutex
	seq uint64
	ch  chan struct{}
}

func newProgress() *progress {
	return &progress{ch: make(chan struct{})}
}

func (p *progress) advance(seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.seq {
		return
	}
	p.seq = seq
	close(p.ch)
	p.ch = make(chan struct{})
}

func (p *progress) wait(ctx context.Context, seq uint64) error {
	for {
		p.mu.Lock()
		if p.seq >= seq {
			p.mu.Unlock()
			return nil
		}
		ch := p.ch
		p.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
