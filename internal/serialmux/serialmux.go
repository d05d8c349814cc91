// Package serialmux shares one scanner serial port between several readers.
// Every line the device prints is fanned out to all subscribers, and commands
// from any caller are serialised onto the port.
package serialmux

import (
	"bufio"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/banshee-data/scanmesh/internal/monitoring"
)

var ErrWriteFailed = errors.New("failed to write to serial port")

// SubscriberBuffer is the per-subscriber line backlog. Lines arriving while a
// subscriber's buffer is full are dropped for that subscriber only.
const SubscriberBuffer = 1024

var logf = monitoring.Component("SerialMux")

// SerialMuxInterface is what the rest of the program depends on.
type SerialMuxInterface interface {
	// Subscribe registers a new line consumer. The id is passed to
	// Unsubscribe.
	Subscribe() (string, chan string)
	// Unsubscribe closes and forgets the channel for id.
	Unsubscribe(string)
	// SendCommand writes one command line to the device.
	SendCommand(string) error
	// Monitor reads lines until ctx is done or the port reports EOF.
	Monitor(context.Context) error
	// Close closes every subscriber channel and the port.
	Close() error
	// AttachAdminRoutes mounts the raw console under /debug/.
	AttachAdminRoutes(*http.ServeMux)
}

// SerialMux multiplexes a single port. T is usually serial.Port, or a
// simulated port in dev mode and tests.
type SerialMux[T SerialPorter] struct {
	port T
	subs *subscriberSet
	wmu  sync.Mutex
}

// NewSerialMux wraps port.
func NewSerialMux[T SerialPorter](port T) *SerialMux[T] {
	return &SerialMux[T]{port: port, subs: newSubscriberSet(SubscriberBuffer)}
}

func (s *SerialMux[T]) Subscribe() (string, chan string) { return s.subs.add() }

func (s *SerialMux[T]) Unsubscribe(id string) {
	if missed, ok := s.subs.remove(id); ok && missed > 0 {
		logf("subscriber %s missed %d lines", id, missed)
	}
}

// SendCommand writes command, terminated by a newline, in a single write.
func (s *SerialMux[T]) SendCommand(command string) error {
	line := strings.TrimSuffix(command, "\n") + "\n"
	s.wmu.Lock()
	defer s.wmu.Unlock()
	switch n, err := s.port.Write([]byte(line)); {
	case err != nil:
		return err
	case n < len(line):
		return ErrWriteFailed
	}
	return nil
}

type scanResult struct {
	line string
	err  error
	done bool
}

// Monitor reads the port line by line and hands each line to the
// subscribers. A nil return means the port reached EOF or the mux was
// closed.
func (s *SerialMux[T]) Monitor(ctx context.Context) error {
	results := make(chan scanResult)
	go s.scan(ctx, results)

	for {
		var r scanResult
		select {
		case <-ctx.Done():
			return ctx.Err()
		case r = <-results:
		}
		if r.done || r.err != nil {
			return r.err
		}
		if s.subs.isShut() {
			return nil
		}
		s.subs.send(r.line)
	}
}

// scan runs apart from Monitor because reads block regardless of ctx.
func (s *SerialMux[T]) scan(ctx context.Context, out chan<- scanResult) {
	emit := func(r scanResult) bool {
		select {
		case out <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}
	sc := bufio.NewScanner(s.port)
	for sc.Scan() {
		if !emit(scanResult{line: strings.TrimRight(sc.Text(), "\r")}) {
			return
		}
	}
	emit(scanResult{err: sc.Err(), done: true})
}

func (s *SerialMux[T]) Close() error {
	s.subs.shutdown()
	return s.port.Close()
}

func (s *SerialMux[T]) AttachAdminRoutes(mux *http.ServeMux) {
	attachConsoleRoutes(mux, s)
}
