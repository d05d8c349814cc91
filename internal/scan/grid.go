// Package scan holds the geometry core of the scanner: the angular range grid,
// the rigid transform from grid samples to scan space, and the mesh builder
// that keeps a triangulated surface in step with the grid.
package scan

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultMotorSteps is one full platform revolution.
	DefaultMotorSteps = 200
	// DefaultServoSteps is the vertical arc in degrees, one step per degree.
	DefaultServoSteps = 90
	// DefaultNeutralRange keeps a fresh surface visible before any sample lands.
	DefaultNeutralRange = 10.0
)

// Resolution fixes the dimensions of a grid. Motor steps run 0..MotorSteps and
// servo steps 0..ServoSteps, both inclusive.
type Resolution struct {
	MotorSteps int `json:"motor_steps"`
	ServoSteps int `json:"servo_steps"`
}

// DefaultResolution matches the scanner firmware.
func DefaultResolution() Resolution {
	return Resolution{MotorSteps: DefaultMotorSteps, ServoSteps: DefaultServoSteps}
}

// Validate requires at least two motor steps and one servo step.
func (r Resolution) Validate() error {
	if r.MotorSteps < 2 {
		return fmt.Errorf("motor_steps must be at least 2, got %d", r.MotorSteps)
	}
	if r.ServoSteps < 1 {
		return fmt.Errorf("servo_steps must be at least 1, got %d", r.ServoSteps)
	}
	return nil
}

// VertexCount is the number of mesh vertices built from a grid of this size.
func (r Resolution) VertexCount() int {
	return 1 + r.MotorSteps*(r.ServoSteps+1)
}

// MotorAngle converts a motor step into degrees of platform rotation.
func (r Resolution) MotorAngle(step int) float64 {
	return float64(step) * 360.0 / float64(r.MotorSteps)
}

func (r Resolution) cells() int {
	return (r.MotorSteps + 1) * (r.ServoSteps + 1)
}

func (r Resolution) check(motor, servo int) error {
	if motor < 0 || motor > r.MotorSteps {
		return &IndexError{Axis: "motor", Index: motor, Max: r.MotorSteps}
	}
	if servo < 0 || servo > r.ServoSteps {
		return &IndexError{Axis: "servo", Index: servo, Max: r.ServoSteps}
	}
	return nil
}

// Grid stores one range per (motor, servo) cell. It is never resized.
type Grid struct {
	res    Resolution
	ranges []float64 // row-major by servo step, MotorSteps+1 cells per row
}

// NewGrid creates a grid with every cell set to neutral.
func NewGrid(res Resolution, neutral float64) (*Grid, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	g := &Grid{res: res, ranges: make([]float64, res.cells())}
	if err := g.Fill(neutral); err != nil {
		return nil, fmt.Errorf("neutral: %w", err)
	}
	return g, nil
}

// NewGridFromRows rebuilds a grid from rows indexed [servo][motor], as
// produced by Rows.
func NewGridFromRows(res Resolution, rows [][]float64) (*Grid, error) {
	if err := res.Validate(); err != nil {
		return nil, err
	}
	if len(rows) != res.ServoSteps+1 {
		return nil, fmt.Errorf("grid has %d servo rows, want %d", len(rows), res.ServoSteps+1)
	}
	g := &Grid{res: res, ranges: make([]float64, 0, res.cells())}
	for s, row := range rows {
		if len(row) != res.MotorSteps+1 {
			return nil, fmt.Errorf("servo row %d has %d cells, want %d", s, len(row), res.MotorSteps+1)
		}
		for m, v := range row {
			if !validRange(v) {
				return nil, fmt.Errorf("cell (%d,%d) = %v: %w", m, s, v, ErrInvalidRange)
			}
		}
		g.ranges = append(g.ranges, row...)
	}
	return g, nil
}

// Resolution returns the grid dimensions.
func (g *Grid) Resolution() Resolution { return g.res }

// Get returns the range stored at (motor, servo).
func (g *Grid) Get(motor, servo int) (float64, error) {
	if err := g.res.check(motor, servo); err != nil {
		return 0, err
	}
	return g.ranges[g.offset(motor, servo)], nil
}

// Set stores a range at (motor, servo). Out-of-range coordinates are reported,
// never clamped.
func (g *Grid) Set(motor, servo int, r float64) error {
	if err := g.res.check(motor, servo); err != nil {
		return err
	}
	if !validRange(r) {
		return fmt.Errorf("range %v: %w", r, ErrInvalidRange)
	}
	g.ranges[g.offset(motor, servo)] = r
	return nil
}

// Fill overwrites every cell.
func (g *Grid) Fill(r float64) error {
	if !validRange(r) {
		return fmt.Errorf("range %v: %w", r, ErrInvalidRange)
	}
	for i := range g.ranges {
		g.ranges[i] = r
	}
	return nil
}

// Rows returns a copy of the grid indexed [servo][motor].
func (g *Grid) Rows() [][]float64 {
	width := g.res.MotorSteps + 1
	rows := make([][]float64, g.res.ServoSteps+1)
	for s := range rows {
		rows[s] = append([]float64(nil), g.ranges[s*width:(s+1)*width]...)
	}
	return rows
}

// Clone returns an independent copy.
func (g *Grid) Clone() *Grid {
	return &Grid{res: g.res, ranges: append([]float64(nil), g.ranges...)}
}

// GridStats summarises the stored ranges.
type GridStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

// Stats computes min, max, mean and standard deviation over all cells.
func (g *Grid) Stats() GridStats {
	mean, std := stat.MeanStdDev(g.ranges, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return GridStats{
		Min:    floats.Min(g.ranges),
		Max:    floats.Max(g.ranges),
		Mean:   mean,
		StdDev: std,
	}
}

func (g *Grid) offset(motor, servo int) int {
	return servo*(g.res.MotorSteps+1) + motor
}

func validRange(r float64) bool {
	return !math.IsNaN(r) && !math.IsInf(r, 0) && r >= 0
}
