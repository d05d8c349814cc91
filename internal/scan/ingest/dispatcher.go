package ingest

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrDispatcherStopped is returned for work offered after Run has returned.
var ErrDispatcherStopped = errors.New("dispatcher stopped")

// DefaultQueueSize bounds how many units of work may wait for the owner.
const DefaultQueueSize = 256

// Dispatcher serialises work onto one owner goroutine. Everything that
// touches a session's grid or mesh goes through it.
type Dispatcher struct {
	work    chan func()
	stopped chan struct{}
	running atomic.Bool

	posted   atomic.Uint64
	executed atomic.Uint64
}

// DispatcherStats reports work counters.
type DispatcherStats struct {
	Posted   uint64 `json:"posted"`
	Executed uint64 `json:"executed"`
	Queued   int    `json:"queued"`
	Running  bool   `json:"running"`
}

// NewDispatcher returns a dispatcher with room for queueSize pending units.
func NewDispatcher(queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		work:    make(chan func(), queueSize),
		stopped: make(chan struct{}),
	}
}

// Run executes work until ctx is cancelled. It must be called once.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.running.Store(true)
	defer func() {
		d.running.Store(false)
		close(d.stopped)
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-d.work:
			fn()
			d.executed.Add(1)
		}
	}
}

// Post queues fn without waiting for it to run. It blocks only while the
// queue is full.
func (d *Dispatcher) Post(ctx context.Context, fn func()) error {
	select {
	case <-d.stopped:
		return ErrDispatcherStopped
	default:
	}
	select {
	case d.work <- fn:
		d.posted.Add(1)
		return nil
	case <-d.stopped:
		return ErrDispatcherStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the owner goroutine and waits for it to finish.
func (d *Dispatcher) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if err := d.Post(ctx, func() { done <- fn() }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-d.stopped:
		// Run may have picked fn up just before stopping.
		select {
		case err := <-done:
			return err
		default:
			return ErrDispatcherStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Posted:   d.posted.Load(),
		Executed: d.executed.Load(),
		Queued:   len(d.work),
		Running:  d.running.Load(),
	}
}
