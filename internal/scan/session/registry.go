package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/banshee-data/scanmesh/internal/monitoring"
	"github.com/banshee-data/scanmesh/internal/scan"
)

// Options configures a Registry.
type Options struct {
	Params
	// InitialTransform places the session created with the registry.
	InitialTransform scan.Transform
}

// DefaultOptions matches the scanner firmware with the first scan raised
// half a unit above the floor.
func DefaultOptions() Options {
	return Options{
		Params: Params{
			Resolution:   scan.DefaultResolution(),
			NeutralRange: scan.DefaultNeutralRange,
		},
		InitialTransform: scan.Transform{Translation: scan.Point3{Z: 0.5}},
	}
}

// Registry holds the ordered sessions and the active index. It is never
// empty.
type Registry struct {
	params Params
	alloc  *IDAllocator

	mu       sync.RWMutex
	sessions []*Session
	active   int

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int
}

// NewRegistry creates a registry holding one session placed at
// opts.InitialTransform.
func NewRegistry(opts Options) (*Registry, error) {
	r := &Registry{
		params:    opts.Params,
		alloc:     NewIDAllocator(),
		listeners: make(map[int]Listener),
	}
	s, err := New(r.alloc.Next(), r.params, opts.InitialTransform)
	if err != nil {
		return nil, fmt.Errorf("failed to create initial session: %w", err)
	}
	r.attach(s)
	r.sessions = []*Session{s}
	return r, nil
}

// Params returns the shape every new session is built with.
func (r *Registry) Params() Params { return r.params }

// Allocator exposes the id allocator, mostly for tests and persistence.
func (r *Registry) Allocator() *IDAllocator { return r.alloc }

// Subscribe registers l and returns a function removing it.
func (r *Registry) Subscribe(l Listener) (cancel func()) {
	r.listenersMu.Lock()
	id := r.nextListener
	r.nextListener++
	r.listeners[id] = l
	r.listenersMu.Unlock()
	return func() {
		r.listenersMu.Lock()
		delete(r.listeners, id)
		r.listenersMu.Unlock()
	}
}

// Len returns the number of sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Active returns the active index.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// ActiveSession returns the session ingestion currently targets. Safe to call
// from any goroutine.
func (r *Registry) ActiveSession() *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[r.active]
}

// Sessions returns the sessions in display order.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Session(nil), r.sessions...)
}

// Session returns the session at index i.
func (r *Registry) Session(i int) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.sessions) {
		return nil, &scan.IndexError{Axis: "session", Index: i, Max: len(r.sessions) - 1}
	}
	return r.sessions[i], nil
}

// AddSession appends a session with zero offsets and returns its index. The
// active index does not move.
func (r *Registry) AddSession() (int, error) {
	s, err := New(r.alloc.Next(), r.params, scan.Transform{})
	if err != nil {
		return 0, err
	}
	r.attach(s)

	r.mu.Lock()
	r.sessions = append(r.sessions, s)
	idx := len(r.sessions) - 1
	r.mu.Unlock()

	monitoring.Logf("[Registry] added session %d at index %d", s.ID(), idx)
	r.broadcast(Event{Kind: EventAdded, SessionID: s.ID(), Index: idx, Mesh: s.MeshSnapshot()})
	return idx, nil
}

// RemoveActive drops the active session. The last remaining session cannot be
// removed. The active index stays put unless it fell off the end.
func (r *Registry) RemoveActive() error {
	r.mu.Lock()
	if len(r.sessions) <= 1 {
		r.mu.Unlock()
		return fmt.Errorf("%w: cannot remove the last session", ErrPrecondition)
	}
	idx := r.active
	removed := r.sessions[idx]
	r.sessions = append(r.sessions[:idx:idx], r.sessions[idx+1:]...)
	if r.active >= len(r.sessions) {
		r.active = len(r.sessions) - 1
	}
	now := r.sessions[r.active]
	nowIdx := r.active
	r.mu.Unlock()

	removed.notify = nil
	monitoring.Logf("[Registry] removed session %d, active is now %d", removed.ID(), now.ID())
	r.broadcast(Event{Kind: EventRemoved, SessionID: removed.ID(), Index: idx})
	r.broadcast(Event{Kind: EventActivated, SessionID: now.ID(), Index: nowIdx, Mesh: now.MeshSnapshot()})
	return nil
}

// SetActive selects the session ingestion should target.
func (r *Registry) SetActive(i int) error {
	r.mu.Lock()
	if i < 0 || i >= len(r.sessions) {
		n := len(r.sessions)
		r.mu.Unlock()
		return &scan.IndexError{Axis: "session", Index: i, Max: n - 1}
	}
	r.active = i
	s := r.sessions[i]
	r.mu.Unlock()

	r.broadcast(Event{Kind: EventActivated, SessionID: s.ID(), Index: i, Mesh: s.MeshSnapshot()})
	return nil
}

// ReplaceAll swaps in a new set of sessions and resets the active index to 0.
// The allocator is advanced past the largest id so new sessions never collide.
func (r *Registry) ReplaceAll(sessions []*Session) error {
	if len(sessions) == 0 {
		return fmt.Errorf("%w: replacement must hold at least one session", ErrPrecondition)
	}
	seen := make(map[int]bool, len(sessions))
	maxID := 0
	for _, s := range sessions {
		if s == nil {
			return fmt.Errorf("%w: nil session", ErrPrecondition)
		}
		if seen[s.ID()] {
			return fmt.Errorf("%w: %d", ErrDuplicateID, s.ID())
		}
		seen[s.ID()] = true
		if s.ID() > maxID {
			maxID = s.ID()
		}
	}

	r.mu.Lock()
	old := r.sessions
	r.sessions = append([]*Session(nil), sessions...)
	r.active = 0
	r.mu.Unlock()

	for _, s := range old {
		s.notify = nil
	}
	for _, s := range sessions {
		r.attach(s)
	}
	r.alloc.AdvancePast(maxID)

	snap := meshes(sessions)
	monitoring.Logf("[Registry] replaced all sessions (%d loaded, next id %d)", len(sessions), r.alloc.Peek())
	r.broadcast(Event{Kind: EventReplaced, SessionID: sessions[0].ID(), Index: 0, Sessions: snap})
	return nil
}

// Meshes copies every session's mesh, in order.
func (r *Registry) Meshes() []SessionMesh {
	return meshes(r.Sessions())
}

func meshes(sessions []*Session) []SessionMesh {
	snap := make([]SessionMesh, len(sessions))
	for i, s := range sessions {
		snap[i] = SessionMesh{SessionID: s.ID(), Name: s.Name(), Mesh: s.MeshSnapshot()}
	}
	return snap
}

// Records snapshots every session in order. Owner goroutine only.
func (r *Registry) Records() []Record {
	sessions := r.Sessions()
	recs := make([]Record, len(sessions))
	for i, s := range sessions {
		recs[i] = s.Record()
	}
	return recs
}

// LoadRecords rebuilds sessions from records and replaces the registry
// contents. Nothing changes if any record is invalid.
func (r *Registry) LoadRecords(recs []Record) error {
	sessions := make([]*Session, 0, len(recs))
	for _, rec := range recs {
		s, err := FromRecord(rec)
		if err != nil {
			return err
		}
		sessions = append(sessions, s)
	}
	return r.ReplaceAll(sessions)
}

// Save writes every session to store.
func (r *Registry) Save(ctx context.Context, store Store) error {
	if err := store.SaveAll(ctx, r.Records()); err != nil {
		return fmt.Errorf("failed to save sessions: %w", err)
	}
	return nil
}

// Load replaces the registry contents with the last saved scan set. It
// returns false, leaving the registry untouched, when nothing was saved.
func (r *Registry) Load(ctx context.Context, store Store) (bool, error) {
	recs, found, err := store.LoadAll(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to load sessions: %w", err)
	}
	if !found {
		return false, nil
	}
	if err := r.LoadRecords(recs); err != nil {
		return false, fmt.Errorf("failed to load sessions: %w", err)
	}
	return true, nil
}

func (r *Registry) attach(s *Session) {
	s.notify = r.sessionChanged
}

func (r *Registry) indexOf(s *Session) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i, o := range r.sessions {
		if o == s {
			return i
		}
	}
	return -1
}

func (r *Registry) sessionChanged(s *Session, ev Event) {
	idx := r.indexOf(s)
	if idx < 0 {
		return
	}
	ev.Index = idx
	r.broadcast(ev)
}

func (r *Registry) broadcast(ev Event) {
	r.listenersMu.Lock()
	ls := make([]Listener, 0, len(r.listeners))
	for _, l := range r.listeners {
		ls = append(ls, l)
	}
	r.listenersMu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}
