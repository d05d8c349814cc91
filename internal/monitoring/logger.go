package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf receives every diagnostic line in the process. It starts as
// log.Printf.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger swaps Logf. nil discards output, which is what tests use.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}

// Component returns a logger that tags every line with a bracketed component
// name, e.g. "[Ingest] ...", and forwards to the current Logf.
func Component(name string) func(format string, v ...interface{}) {
	prefix := "[" + name + "] "
	return func(format string, v ...interface{}) {
		Logf(prefix+format, v...)
	}
}

// Throttle lets through the first message and then one in every n calls. It
// keeps hot paths such as per-sample ingestion from flooding the log.
type Throttle struct {
	n     uint64
	count atomic.Uint64
}

// NewThrottle returns a Throttle passing one message in every n.
func NewThrottle(n uint64) *Throttle {
	if n == 0 {
		n = 1
	}
	return &Throttle{n: n}
}

// Logf logs through Logf when the throttle allows it. It reports whether the
// message was written.
func (t *Throttle) Logf(format string, v ...interface{}) bool {
	c := t.count.Add(1)
	if (c-1)%t.n != 0 {
		return false
	}
	Logf(format, v...)
	return true
}

// Count is the number of messages offered so far.
func (t *Throttle) Count() uint64 { return t.count.Load() }
