package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/session"
	"github.com/banshee-data/scanmesh/internal/timeutil"
)

// ErrScanSetNotFound is returned when a set id has no rows.
var ErrScanSetNotFound = errors.New("scan set not found")

// ScanSet describes one saved set without its grids.
type ScanSet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	ScanCount int       `json:"scan_count"`
}

// ScanStore keeps every save as a new scan set, so earlier sets stay
// loadable. It implements session.Store over the latest set.
type ScanStore struct {
	db    *DB
	clock timeutil.Clock
}

var _ session.Store = (*ScanStore)(nil)

func NewScanStore(db *DB) *ScanStore {
	return &ScanStore{db: db, clock: timeutil.RealClock{}}
}

// WithClock stamps new sets from c instead of the system clock.
func (s *ScanStore) WithClock(c timeutil.Clock) *ScanStore {
	s.clock = timeutil.OrReal(c)
	return s
}

// SaveAll stores records as a new set with a generated name.
func (s *ScanStore) SaveAll(ctx context.Context, records []session.Record) error {
	_, err := s.SaveSet(ctx, "", records)
	return err
}

// SaveSet stores records as a new set and returns its id. The whole set is
// written in one transaction.
func (s *ScanStore) SaveSet(ctx context.Context, name string, records []session.Record) (ScanSet, error) {
	if len(records) == 0 {
		return ScanSet{}, fmt.Errorf("refusing to save an empty scan set")
	}
	now := s.clock.Now()
	set := ScanSet{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
		ScanCount: len(records),
	}
	if set.Name == "" {
		set.Name = "Scan set " + now.Format("2006-01-02 15:04:05")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ScanSet{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO scan_sets (set_id, name, created_at, scan_count) VALUES (?, ?, ?, ?)`,
		set.ID, set.Name, now.UnixNano(), set.ScanCount,
	); err != nil {
		return ScanSet{}, fmt.Errorf("insert scan set: %w", err)
	}

	for pos, rec := range records {
		blob, err := encodeRanges(rec.Ranges)
		if err != nil {
			return ScanSet{}, fmt.Errorf("encode scan %d: %w", rec.ID, err)
		}
		st := rangeStats(rec)
		t := rec.Transform
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO scans (
				set_id, position, scan_id, name, motor_steps, servo_steps,
				tx, ty, tz, rot_x, rot_z, closed,
				color_r, color_g, color_b, color_a, grid_blob,
				range_min, range_max, range_mean
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			set.ID, pos, rec.ID, rec.Name, rec.Resolution.MotorSteps, rec.Resolution.ServoSteps,
			t.Translation.X, t.Translation.Y, t.Translation.Z, t.RotationX, t.RotationZ, rec.Closed,
			rec.Color.R, rec.Color.G, rec.Color.B, rec.Color.A, blob,
			st.Min, st.Max, st.Mean,
		); err != nil {
			return ScanSet{}, fmt.Errorf("insert scan %d: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return ScanSet{}, err
	}
	return set, nil
}

// LoadAll returns the most recently saved set. found is false when nothing
// has been saved.
func (s *ScanStore) LoadAll(ctx context.Context) ([]session.Record, bool, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT set_id FROM scan_sets ORDER BY created_at DESC, rowid DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	recs, err := s.LoadSet(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return recs, true, nil
}

// LoadSet returns the records of set id in their saved order.
func (s *ScanStore) LoadSet(ctx context.Context, id string) ([]session.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT scan_id, name, motor_steps, servo_steps,
			tx, ty, tz, rot_x, rot_z, closed,
			color_r, color_g, color_b, color_a, grid_blob
		FROM scans WHERE set_id = ? ORDER BY position`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []session.Record
	for rows.Next() {
		var (
			rec  session.Record
			blob []byte
		)
		if err := rows.Scan(
			&rec.ID, &rec.Name, &rec.Resolution.MotorSteps, &rec.Resolution.ServoSteps,
			&rec.Transform.Translation.X, &rec.Transform.Translation.Y, &rec.Transform.Translation.Z,
			&rec.Transform.RotationX, &rec.Transform.RotationZ, &rec.Closed,
			&rec.Color.R, &rec.Color.G, &rec.Color.B, &rec.Color.A, &blob,
		); err != nil {
			return nil, err
		}
		if rec.Ranges, err = decodeRanges(blob); err != nil {
			return nil, fmt.Errorf("decode scan %d: %w", rec.ID, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrScanSetNotFound, id)
	}
	return recs, nil
}

// ListScanSets returns saved sets, newest first.
func (s *ScanStore) ListScanSets(ctx context.Context) ([]ScanSet, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT set_id, name, created_at, scan_count FROM scan_sets ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sets := []ScanSet{}
	for rows.Next() {
		var (
			set  ScanSet
			nano int64
		)
		if err := rows.Scan(&set.ID, &set.Name, &nano, &set.ScanCount); err != nil {
			return nil, err
		}
		set.CreatedAt = time.Unix(0, nano)
		sets = append(sets, set)
	}
	return sets, rows.Err()
}

// DeleteScanSet removes a set and its scans.
func (s *ScanStore) DeleteScanSet(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scan_sets WHERE set_id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrScanSetNotFound, id)
	}
	return nil
}

func rangeStats(rec session.Record) scan.GridStats {
	g, err := scan.NewGridFromRows(rec.Resolution, rec.Ranges)
	if err != nil {
		return scan.GridStats{}
	}
	return g.Stats()
}

// encodeRanges gob-encodes and gzips a [servo][motor] range table.
func encodeRanges(rows [][]float64) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(rows); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRanges(blob []byte) ([][]float64, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var rows [][]float64
	if err := gob.NewDecoder(gz).Decode(&rows); err != nil {
		return nil, err
	}
	return rows, nil
}
