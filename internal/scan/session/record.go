package session

import (
	"context"
	"fmt"
	"image/color"

	"github.com/banshee-data/scanmesh/internal/scan"
)

// Record is the persistent form of a session.
type Record struct {
	ID         int             `json:"id"`
	Name       string          `json:"name"`
	Resolution scan.Resolution `json:"resolution"`
	Ranges     [][]float64     `json:"ranges"` // [servo][motor]
	Transform  scan.Transform  `json:"transform"`
	Closed     bool            `json:"closed"`
	Color      color.NRGBA     `json:"color"`
}

// Store persists whole scan sets. LoadAll reports found == false when
// nothing has been saved yet.
type Store interface {
	SaveAll(ctx context.Context, records []Record) error
	LoadAll(ctx context.Context) (records []Record, found bool, err error)
}

// Record snapshots the session. Owner goroutine only.
func (s *Session) Record() Record {
	return Record{
		ID:         s.id,
		Name:       s.name,
		Resolution: s.grid.Resolution(),
		Ranges:     s.grid.Rows(),
		Transform:  s.transform,
		Closed:     s.closed,
		Color:      s.color,
	}
}

// FromRecord rebuilds a session, including its mesh, from a record.
func FromRecord(rec Record) (*Session, error) {
	if rec.ID <= 0 {
		return nil, fmt.Errorf("%w: id %d", ErrInvalidRecord, rec.ID)
	}
	if err := rec.Transform.Validate(); err != nil {
		return nil, fmt.Errorf("%w: session %d: %v", ErrInvalidRecord, rec.ID, err)
	}
	g, err := scan.NewGridFromRows(rec.Resolution, rec.Ranges)
	if err != nil {
		return nil, fmt.Errorf("%w: session %d: %v", ErrInvalidRecord, rec.ID, err)
	}
	s := &Session{
		id:        rec.ID,
		name:      rec.Name,
		grid:      g,
		transform: rec.Transform,
		closed:    rec.Closed,
		color:     rec.Color,
	}
	if s.name == "" {
		s.name = fmt.Sprintf("Scan %d", rec.ID)
	}
	if s.color == (color.NRGBA{}) {
		s.color = scan.PaletteColor(rec.ID)
	}
	s.rebuild()
	return s, nil
}
