package comfortcloud

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	defaultMaxConcurrent = 2
	defaultMinInterval   = 200 * time.Millisecond
)

// GateConfig tunes the admission gate. Zero values use the defaults: two
// concurrent operations, 200ms between operation starts, unbounded queue.
type GateConfig struct {
	// MaxConcurrent is the number of operations allowed in flight at once.
	MaxConcurrent int
	// MinInterval is the minimum spacing between operation starts. It pads
	// start times, it does not wait for completions.
	MinInterval time.Duration
	// MaxQueue bounds how many operations may wait for admission. Zero or
	// negative means unbounded.
	MaxQueue int
}

// Gate serializes access to the upstream API: at most MaxConcurrent
// operations run at once, consecutive starts are at least MinInterval apart,
// and admission is strictly first come first served. The vendor service
// throttles aggressively, so everything the client sends goes through here.
type Gate struct {
	maxConcurrent int
	minInterval   time.Duration
	maxQueue      int

	mu        sync.Mutex
	queue     []*gateWaiter
	active    int
	lastStart time.Time
}

// gateWaiter is one queued operation. ready is closed at admission, after
// startAt has been stamped with the operation's reserved start time.
type gateWaiter struct {
	ready   chan struct{}
	startAt time.Time
}

func NewGate(config GateConfig) *Gate {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = defaultMaxConcurrent
	}
	if config.MinInterval <= 0 {
		config.MinInterval = defaultMinInterval
	}
	return &Gate{
		maxConcurrent: config.MaxConcurrent,
		minInterval:   config.MinInterval,
		maxQueue:      config.MaxQueue,
	}
}

// Schedule runs op once the gate admits it. Operations are admitted in
// arrival order; if the queue is at capacity the call fails immediately with
// ErrQueueFull and nothing is enqueued. Cancelling ctx while waiting
// abandons the slot.
func (g *Gate) Schedule(ctx context.Context, op func(ctx context.Context) error) error {
	w := &gateWaiter{ready: make(chan struct{})}

	g.mu.Lock()
	if g.maxQueue > 0 && len(g.queue) >= g.maxQueue {
		g.mu.Unlock()
		return fmt.Errorf("%w: %d operations already waiting", ErrQueueFull, g.maxQueue)
	}
	g.queue = append(g.queue, w)
	g.dispatch()
	g.mu.Unlock()

	select {
	case <-w.ready:
	case <-ctx.Done():
		if !g.abandon(w) {
			// Admission raced the cancellation; the slot is ours to return.
			<-w.ready
			g.release()
		}
		return ctx.Err()
	}

	// The start slot was reserved at admission. Sleeping up to it keeps
	// starts MinInterval apart even when several operations are admitted
	// back to back.
	if wait := time.Until(w.startAt); wait > 0 {
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			g.release()
			return ctx.Err()
		}
	}

	err := op(ctx)
	g.release()
	return err
}

// dispatch admits queue heads while concurrency slots are free. Caller holds
// g.mu.
func (g *Gate) dispatch() {
	now := time.Now()
	for len(g.queue) > 0 && g.active < g.maxConcurrent {
		w := g.queue[0]
		g.queue = g.queue[1:]

		startAt := now
		if next := g.lastStart.Add(g.minInterval); next.After(startAt) {
			startAt = next
		}
		w.startAt = startAt
		g.lastStart = startAt
		g.active++
		close(w.ready)
	}
}

// abandon removes w from the queue. It reports false when w was already
// admitted and therefore holds a concurrency slot.
func (g *Gate) abandon(w *gateWaiter) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i, queued := range g.queue {
		if queued == w {
			g.queue = append(g.queue[:i], g.queue[i+1:]...)
			return true
		}
	}
	return false
}

// release frees a concurrency slot and admits the next waiter if any.
func (g *Gate) release() {
	g.mu.Lock()
	g.active--
	g.dispatch()
	g.mu.Unlock()
}

// Stats reports the number of operations waiting for admission and currently
// holding a concurrency slot.
func (g *Gate) Stats() (waiting, inflight int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue), g.active
}
