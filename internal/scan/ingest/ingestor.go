package ingest

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/banshee-data/scanmesh/internal/monitoring"
	"github.com/banshee-data/scanmesh/internal/scan/session"
)

var logf = monitoring.Component("Ingest")

// Subscriber is the part of serialmux.SerialMuxInterface the ingestor needs.
type Subscriber interface {
	Subscribe() (string, chan string)
	Unsubscribe(string)
}

// ActiveTarget resolves the session a sample should land in.
type ActiveTarget interface {
	ActiveSession() *session.Session
}

// Ingestor decodes scanner lines and posts each sample to the dispatcher. The
// target session is captured when the line arrives, so switching the active
// session never redirects a sample already in flight.
type Ingestor struct {
	target     ActiveTarget
	dispatcher *Dispatcher

	lines     atomic.Uint64
	discarded atomic.Uint64
	posted    atomic.Uint64
	applied   atomic.Uint64
	rejected  atomic.Uint64

	rejectLog *monitoring.Throttle
}

// IngestStats reports line and sample counters.
type IngestStats struct {
	Lines     uint64 `json:"lines"`
	Discarded uint64 `json:"discarded"`
	Posted    uint64 `json:"posted"`
	Applied   uint64 `json:"applied"`
	Rejected  uint64 `json:"rejected"`
}

// NewIngestor wires a target and dispatcher together.
func NewIngestor(target ActiveTarget, d *Dispatcher) *Ingestor {
	return &Ingestor{
		target:     target,
		dispatcher: d,
		rejectLog:  monitoring.NewThrottle(100),
	}
}

// Run subscribes to sub and ingests lines until ctx is done or the
// subscription channel closes.
func (in *Ingestor) Run(ctx context.Context, sub Subscriber) error {
	id, ch := sub.Subscribe()
	defer sub.Unsubscribe(id)

	src := NewChannelSource(ch)
	for src.Wait(ctx) {
		if _, err := in.Drain(ctx, src); err != nil {
			return err
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	logf("subscription closed, stopping")
	return nil
}

// Drain handles every line src has ready and returns how many it read.
func (in *Ingestor) Drain(ctx context.Context, src LineSource) (int, error) {
	n := 0
	for {
		line, ok := src.ReadLine()
		if !ok {
			return n, nil
		}
		n++
		if err := in.HandleLine(ctx, line); err != nil {
			return n, err
		}
	}
}

// HandleLine parses one line and, if it holds a sample, posts the grid update
// for the currently active session. Malformed lines are counted and dropped.
func (in *Ingestor) HandleLine(ctx context.Context, line string) error {
	in.lines.Add(1)
	sample, ok := Parse(line)
	if !ok {
		in.discarded.Add(1)
		return nil
	}

	target := in.target.ActiveSession()
	err := in.dispatcher.Post(ctx, func() {
		if err := target.ApplySample(sample.Motor, sample.Servo, sample.Range); err != nil {
			in.rejected.Add(1)
			in.rejectLog.Logf("[Ingest] dropping sample m=%d s=%d r=%.0f for session %d: %v",
				sample.Motor, sample.Servo, sample.Range, target.ID(), err)
			return
		}
		in.applied.Add(1)
	})
	if err != nil {
		if errors.Is(err, ErrDispatcherStopped) {
			logf("dispatcher stopped, sample dropped")
		}
		return err
	}
	in.posted.Add(1)
	return nil
}

// Stats returns a snapshot of the counters.
func (in *Ingestor) Stats() IngestStats {
	return IngestStats{
		Lines:     in.lines.Load(),
		Discarded: in.discarded.Load(),
		Posted:    in.posted.Load(),
		Applied:   in.applied.Load(),
		Rejected:  in.rejected.Load(),
	}
}
