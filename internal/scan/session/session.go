// Package session groups grids, transforms and meshes into named scans and
// keeps the ordered set of scans the operator works with.
//
// Sessions are not safe for concurrent use. Every mutating call, and any read
// of a live grid or mesh, must happen on the single owner goroutine (see
// ingest.Dispatcher). Registry index bookkeeping is guarded separately so the
// active session can be looked up from other goroutines.
package session

import (
	"errors"
	"fmt"
	"image/color"

	"github.com/banshee-data/scanmesh/internal/scan"
)

var (
	// ErrPrecondition is returned when an operation would break a registry invariant.
	ErrPrecondition = errors.New("precondition failed")
	// ErrDuplicateID is returned when a scan set contains two sessions with the same id.
	ErrDuplicateID = errors.New("duplicate session id")
	// ErrInvalidRecord is returned when a stored record cannot be turned back into a session.
	ErrInvalidRecord = errors.New("invalid session record")
)

// Params fixes the shape of every session built by a registry.
type Params struct {
	Resolution   scan.Resolution
	NeutralRange float64
}

// Session is one scan: a grid of ranges, the transform placing it in scan
// space, and the mesh derived from both.
type Session struct {
	id        int
	name      string
	grid      *scan.Grid
	transform scan.Transform
	closed    bool
	color     color.NRGBA
	mesh      *scan.Mesh

	notify func(*Session, Event)
}

// New creates a session with a neutral grid and builds its initial mesh.
func New(id int, p Params, t scan.Transform) (*Session, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	g, err := scan.NewGrid(p.Resolution, p.NeutralRange)
	if err != nil {
		return nil, err
	}
	s := &Session{
		id:        id,
		name:      fmt.Sprintf("Scan %d", id),
		grid:      g,
		transform: t,
		color:     scan.PaletteColor(id),
	}
	s.rebuild()
	return s, nil
}

func (s *Session) ID() int                   { return s.id }
func (s *Session) Name() string              { return s.name }
func (s *Session) Transform() scan.Transform { return s.transform }
func (s *Session) Closed() bool              { return s.closed }
func (s *Session) Color() color.NRGBA        { return s.color }
func (s *Session) Resolution() scan.Resolution {
	return s.grid.Resolution()
}

// Grid returns the live grid. Owner goroutine only.
func (s *Session) Grid() *scan.Grid { return s.grid }

// Mesh returns the live mesh. Owner goroutine only; use MeshSnapshot to hand
// geometry to another goroutine.
func (s *Session) Mesh() *scan.Mesh { return s.mesh }

// MeshSnapshot returns a detached copy of the mesh.
func (s *Session) MeshSnapshot() *scan.Mesh { return s.mesh.Clone() }

// Equal compares sessions by id.
func (s *Session) Equal(o *Session) bool {
	return s != nil && o != nil && s.id == o.id
}

// SetName renames the session.
func (s *Session) SetName(name string) {
	s.name = name
}

// SetOffsets replaces the transform and rebuilds the whole mesh. Nothing
// changes if any value is not finite.
func (s *Session) SetOffsets(translation scan.Point3, rotX, rotZ float64) error {
	next := s.transform
	if err := next.SetTranslation(translation); err != nil {
		return err
	}
	if err := next.SetRotationX(rotX); err != nil {
		return err
	}
	if err := next.SetRotationZ(rotZ); err != nil {
		return err
	}
	s.transform = next
	s.rebuild()
	s.emit(Event{Kind: EventRebuilt, Mesh: s.MeshSnapshot()})
	return nil
}

// ToggleClosed flips the closed flag and rebuilds; closed == false draws the
// pole caps. It returns the new flag.
func (s *Session) ToggleClosed() bool {
	s.closed = !s.closed
	s.rebuild()
	s.emit(Event{Kind: EventRebuilt, Mesh: s.MeshSnapshot()})
	return s.closed
}

// ApplySample stores one range and patches the single affected vertex. The
// rest of the mesh is left alone.
func (s *Session) ApplySample(motor, servo int, r float64) error {
	if err := s.grid.Set(motor, servo, r); err != nil {
		return err
	}
	patch, ok, err := scan.PatchVertex(s.mesh, s.grid, s.transform, motor, servo)
	if err != nil {
		return err
	}
	if ok {
		s.emit(Event{Kind: EventPatched, Patch: &patch})
	}
	return nil
}

// Reset fills the grid with the neutral range and rebuilds.
func (s *Session) Reset(neutral float64) error {
	if err := s.grid.Fill(neutral); err != nil {
		return err
	}
	s.rebuild()
	s.emit(Event{Kind: EventRebuilt, Mesh: s.MeshSnapshot()})
	return nil
}

func (s *Session) rebuild() {
	s.mesh = scan.Rebuild(s.grid, s.transform, s.closed)
	s.mesh.Color = s.color
}

func (s *Session) emit(ev Event) {
	if s.notify == nil {
		return
	}
	ev.SessionID = s.id
	s.notify(s, ev)
}
