package watch

import (
	"context"
	"sync"
	"time"
)

// Poller calls a function on a fixed interval until stopped. It can be
// restarted after Stop.
type Poller struct {
	interval time.Duration
	poll     func(ctx context.Context)

	mu     sync.Mutex
	cancel context.CancelFunc
	loops  sync.WaitGroup
}

// NewPoller creates a stopped poller.
func NewPoller(interval time.Duration, poll func(ctx context.Context)) *Poller {
	return &Poller{interval: interval, poll: poll}
}

// Start begins polling. It is a no-op while already running.
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.loops.Add(1)
	go p.loop(ctx)
}

// Stop cancels polling without waiting for an in-flight poll, so it is
// safe to call from code the poll function may be blocked on.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Wait blocks until every loop started so far has exited. Call it after
// Stop.
func (p *Poller) Wait() {
	p.loops.Wait()
}

// Running reports whether polling is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context) {
	defer p.loops.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}
