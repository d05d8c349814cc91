package serialmux

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
)

// subscriberSet tracks line channels by id. Once shut, new channels are
// handed out already closed so readers never block on a dead port.
type subscriberSet struct {
	mu      sync.Mutex
	chans   map[string]chan string
	dropped map[string]uint64
	shut    bool
	buffer  int
}

func newSubscriberSet(buffer int) *subscriberSet {
	return &subscriberSet{
		chans:   make(map[string]chan string),
		dropped: make(map[string]uint64),
		buffer:  buffer,
	}
}

// randomID returns 8 random bytes, hex encoded.
func randomID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

func (s *subscriberSet) add() (string, chan string) {
	id, ch := randomID(), make(chan string, s.buffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shut {
		close(ch)
	} else {
		s.chans[id] = ch
	}
	return id, ch
}

// remove closes the channel for id and returns how many lines it missed.
func (s *subscriberSet) remove(id string) (missed uint64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.chans[id]
	if !ok {
		return 0, false
	}
	close(ch)
	missed = s.dropped[id]
	delete(s.chans, id)
	delete(s.dropped, id)
	return missed, true
}

// send offers line to every channel without blocking; a full channel
// counts a drop against its subscriber.
func (s *subscriberSet) send(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.chans {
		select {
		case ch <- line:
		default:
			s.dropped[id]++
		}
	}
}

func (s *subscriberSet) droppedFor(id string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped[id]
}

func (s *subscriberSet) isShut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.shut
}

// shutdown closes every channel. It reports false if already shut.
func (s *subscriberSet) shutdown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shut {
		return false
	}
	s.shut = true
	for id, ch := range s.chans {
		close(ch)
		delete(s.chans, id)
	}
	clear(s.dropped)
	return true
}

func (s *subscriberSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chans)
}
