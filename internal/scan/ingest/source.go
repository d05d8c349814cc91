package ingest

import "context"

// LineSource yields complete lines without blocking. ok is false when no line
// is currently available or the source is exhausted.
type LineSource interface {
	ReadLine() (line string, ok bool)
}

// ChannelSource adapts a subscription channel, such as one returned by
// serialmux.Subscribe, to LineSource.
type ChannelSource struct {
	ch      <-chan string
	pending *string
	closed  bool
}

// NewChannelSource wraps ch.
func NewChannelSource(ch <-chan string) *ChannelSource {
	return &ChannelSource{ch: ch}
}

// ReadLine returns the next buffered line, if any.
func (s *ChannelSource) ReadLine() (string, bool) {
	if s.pending != nil {
		line := *s.pending
		s.pending = nil
		return line, true
	}
	if s.closed {
		return "", false
	}
	select {
	case line, ok := <-s.ch:
		if !ok {
			s.closed = true
			return "", false
		}
		return line, true
	default:
		return "", false
	}
}

// Wait blocks until a line is ready. It returns false once the channel is
// closed or ctx is done.
func (s *ChannelSource) Wait(ctx context.Context) bool {
	if s.pending != nil {
		return true
	}
	if s.closed {
		return false
	}
	select {
	case line, ok := <-s.ch:
		if !ok {
			s.closed = true
			return false
		}
		s.pending = &line
		return true
	case <-ctx.Done():
		return false
	}
}

// Closed reports whether the underlying channel has been closed.
func (s *ChannelSource) Closed() bool { return s.closed }
