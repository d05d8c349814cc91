package scan

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Point3 is a position in scan space.
type Point3 = r3.Vec

// Transform places a scan in scan space: a translation plus rotations, in
// degrees, about the vertical (Z) and horizontal (X) axes.
type Transform struct {
	Translation Point3  `json:"translation"`
	RotationX   float64 `json:"rot_x"`
	RotationZ   float64 `json:"rot_z"`
}

// Apply converts a range sample taken at (motorStep, servoStep) into a point.
// The servo step is the elevation angle in degrees, the motor step maps to
// motorStep*360/MotorSteps degrees of yaw. Yaw is offset by RotationZ and the
// result is tilted by RotationX before the translation is added.
func (t Transform) Apply(res Resolution, localRange float64, motorStep, servoStep int) Point3 {
	alpha := degToRad(float64(servoStep))
	beta := degToRad(res.MotorAngle(motorStep) + t.RotationZ)
	gamma := degToRad(t.RotationX)

	sa, ca := math.Sincos(alpha)
	sb, cb := math.Sincos(beta)
	sg, cg := math.Sincos(gamma)

	// local vector is (localRange, 0, 0); the Y and Z terms of the full
	// rotation are kept so the composition reads as the matrix it is.
	vx, vy, vz := localRange, 0.0, 0.0

	p := Point3{
		X: vx*cb*ca - vy*sb + vz*cb*sa,
		Y: vx*(cg*sb*ca-sg*sa) + vy*cg*cb + vz*(-cg*sb*sa-sg*ca),
		Z: vx*(sg*ca+cg*sa) + vy*sg*cb + vz*(-sg*sa+cg*ca),
	}
	return r3.Add(p, t.Translation)
}

// Origin is the untransformed scanner position, used as the mesh apex.
func (t Transform) Origin() Point3 {
	return t.Translation
}

// SetTranslation replaces the translation.
func (t *Transform) SetTranslation(p Point3) error {
	if !finite(p.X) || !finite(p.Y) || !finite(p.Z) {
		return fmt.Errorf("translation %v: %w", p, ErrNonFinite)
	}
	t.Translation = p
	return nil
}

// SetRotationX replaces the tilt about the horizontal axis, in degrees.
func (t *Transform) SetRotationX(deg float64) error {
	if !finite(deg) {
		return fmt.Errorf("rot_x %v: %w", deg, ErrNonFinite)
	}
	t.RotationX = deg
	return nil
}

// SetRotationZ replaces the yaw offset, in degrees.
func (t *Transform) SetRotationZ(deg float64) error {
	if !finite(deg) {
		return fmt.Errorf("rot_z %v: %w", deg, ErrNonFinite)
	}
	t.RotationZ = deg
	return nil
}

// Validate reports whether every component is finite.
func (t Transform) Validate() error {
	probe := t
	if err := probe.SetTranslation(t.Translation); err != nil {
		return err
	}
	if err := probe.SetRotationX(t.RotationX); err != nil {
		return err
	}
	return probe.SetRotationZ(t.RotationZ)
}

func degToRad(d float64) float64 { return d * math.Pi / 180.0 }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
