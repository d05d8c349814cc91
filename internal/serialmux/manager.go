package serialmux

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/scanmesh/internal/timeutil"
)

var (
	// ErrManagerClosed is returned once Close has been called.
	ErrManagerClosed = errors.New("serial manager is closed")
	// ErrUnavailable is returned while no port is open, for example after a
	// failed reload.
	ErrUnavailable = errors.New("serial mux unavailable")
)

// Factory opens a mux for path with opts. Real, simulated and disabled modes
// each supply their own.
type Factory func(path string, opts PortOptions) (SerialMuxInterface, error)

// PortConfig describes the port currently open.
type PortConfig struct {
	Path    string      `json:"path"`
	Options PortOptions `json:"options"`
	Source  string      `json:"source"`
}

// ReloadResult is returned to API clients after a reload request.
type ReloadResult struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Config  *PortConfig `json:"config,omitempty"`
}

// Manager wraps a SerialMuxInterface and lets the port be reopened with new
// settings while the program runs. It implements SerialMuxInterface itself.
//
// Subscribers get channels from the manager's own fanout, not from the mux, so
// they survive a reload: a background loop subscribes to whichever mux is
// current and forwards its lines, reconnecting when a reload closes the old
// mux's channel.
type Manager struct {
	mu            sync.RWMutex
	current       SerialMuxInterface
	config        *PortConfig
	closed        bool
	cancelMonitor context.CancelFunc

	factory  Factory
	reloadMu sync.Mutex
	clock    timeutil.Clock

	done   chan struct{}
	fanout *subscriberSet
}

var _ SerialMuxInterface = (*Manager)(nil)

// NewManager starts the fanout loop over initial. cfg describes initial and
// may be zero.
func NewManager(initial SerialMuxInterface, cfg PortConfig, factory Factory) *Manager {
	m := &Manager{
		current: initial,
		factory: factory,
		clock:   timeutil.RealClock{},
		done:    make(chan struct{}),
		fanout:  newSubscriberSet(SubscriberBuffer),
	}
	if cfg.Path != "" {
		c := cfg
		m.config = &c
	}
	go m.runFanout()
	return m
}

// Current returns the mux in use. It may be nil during or after a failed
// reload.
func (m *Manager) Current() SerialMuxInterface {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// Config returns a copy of the active port configuration.
func (m *Manager) Config() PortConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return PortConfig{}
	}
	return *m.config
}

func (m *Manager) pause(d time.Duration) bool {
	select {
	case <-m.done:
		return false
	case <-m.clock.After(d):
		return true
	}
}

func (m *Manager) runFanout() {
	var subID string
	var subCh chan string
	var subMux SerialMuxInterface

	defer func() {
		if subMux != nil {
			subMux.Unsubscribe(subID)
		}
		m.fanout.shutdown()
		logf("fanout loop stopped")
	}()

	for {
		if subMux == nil {
			mux := m.Current()
			if mux == nil {
				if !m.pause(250 * time.Millisecond) {
					return
				}
				continue
			}
			subID, subCh = mux.Subscribe()
			subMux = mux
		}

		select {
		case <-m.done:
			return
		case line, ok := <-subCh:
			if !ok {
				// The mux was closed, most likely by a reload.
				subMux, subCh = nil, nil
				if !m.pause(50 * time.Millisecond) {
					return
				}
				continue
			}
			m.fanout.send(line)
		}
	}
}

// Subscribe returns a channel that stays valid across reloads. After Close it
// returns a closed channel.
func (m *Manager) Subscribe() (string, chan string) {
	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		ch := make(chan string)
		close(ch)
		return randomID(), ch
	}
	return m.fanout.add()
}

func (m *Manager) Unsubscribe(id string) { m.fanout.remove(id) }

func (m *Manager) SendCommand(command string) error {
	m.mu.RLock()
	mux, closed := m.current, m.closed
	m.mu.RUnlock()
	if closed {
		return ErrManagerClosed
	}
	if mux == nil {
		return ErrUnavailable
	}
	return mux.SendCommand(command)
}

// Monitor runs the current mux's Monitor and moves to the new mux after each
// reload. It returns when ctx is done.
func (m *Manager) Monitor(ctx context.Context) error {
	for {
		m.mu.Lock()
		mux, closed := m.current, m.closed
		mctx, cancel := context.WithCancel(ctx)
		m.cancelMonitor = cancel
		m.mu.Unlock()

		if closed {
			cancel()
			return ErrManagerClosed
		}
		if mux == nil {
			cancel()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-m.clock.After(250 * time.Millisecond):
				continue
			}
		}

		err := mux.Monitor(mctx)
		reloaded := mctx.Err() != nil
		cancel()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !reloaded {
			logf("monitor ended with error: %v", err)
		}
		wait := 100 * time.Millisecond
		if err != nil && !reloaded {
			wait = 500 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.clock.After(wait):
		}
	}
}

// Close closes the current mux and every subscriber channel. Only call it at
// shutdown.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	cur := m.current
	m.current = nil
	if m.cancelMonitor != nil {
		m.cancelMonitor()
	}
	m.mu.Unlock()

	var err error
	if cur != nil {
		err = cur.Close()
	}
	close(m.done)
	return err
}

func (m *Manager) AttachAdminRoutes(mux *http.ServeMux) {
	attachConsoleRoutes(mux, m)
}

// Reload reopens the scanner at path with opts. An unchanged configuration is
// a no-op. The old port is closed before the new one opens because a port
// cannot be opened twice; if opening fails the manager is left without a port
// until the next successful reload.
func (m *Manager) Reload(ctx context.Context, path string, opts PortOptions) (*ReloadResult, error) {
	if m.factory == nil {
		return nil, errors.New("serial mux factory not configured")
	}
	if path == "" {
		return nil, errors.New("serial port path is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	normalized, err := opts.Normalize()
	if err != nil {
		return nil, fmt.Errorf("invalid serial configuration: %w", err)
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	m.mu.RLock()
	closed := m.closed
	m.mu.RUnlock()
	if closed {
		return nil, ErrManagerClosed
	}

	cur := m.Config()
	if m.Current() != nil && cur.Path == path && cur.Options.Equal(normalized) {
		return &ReloadResult{
			Success: true,
			Message: fmt.Sprintf("serial port %s already active", path),
			Config:  &cur,
		}, nil
	}

	m.mu.Lock()
	old := m.current
	m.current = nil
	if m.cancelMonitor != nil {
		m.cancelMonitor()
	}
	m.mu.Unlock()

	if old != nil {
		logf("closing current port before reload")
		if err := old.Close(); err != nil {
			logf("failed to close previous port: %v", err)
		}
	}

	next, err := m.factory(path, normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", path, err)
	}

	cfg := PortConfig{Path: path, Options: normalized, Source: "api"}
	m.mu.Lock()
	m.current = next
	m.config = &cfg
	m.mu.Unlock()
	logf("reloaded serial port %s", path)

	return &ReloadResult{
		Success: true,
		Message: fmt.Sprintf("reloaded serial port %s", path),
		Config:  &cfg,
	}, nil
}
