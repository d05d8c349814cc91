// Package render draws session meshes as static pictures and exports their
// points for external tools.
package render

import (
	"errors"
	"fmt"
	"image/color"
	"strings"

	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/session"
)

// ErrUnknownProjection is returned by ParseProjection.
var ErrUnknownProjection = errors.New("unknown projection")

// Projection picks the two axes a 2D render shows.
type Projection int

const (
	Top   Projection = iota // X/Y, looking down
	Front                   // X/Z
	Side                    // Y/Z
)

var projectionNames = map[Projection]string{Top: "top", Front: "front", Side: "side"}

func (p Projection) String() string {
	if n, ok := projectionNames[p]; ok {
		return n
	}
	return fmt.Sprintf("Projection(%d)", int(p))
}

// ParseProjection accepts "top", "front" or "side"; empty means top.
func ParseProjection(s string) (Projection, error) {
	if s == "" {
		return Top, nil
	}
	for p, n := range projectionNames {
		if strings.EqualFold(s, n) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("%w %q", ErrUnknownProjection, s)
}

// Axes returns the axis labels in display order.
func (p Projection) Axes() (x, y string) {
	switch p {
	case Front:
		return "X", "Z"
	case Side:
		return "Y", "Z"
	default:
		return "X", "Y"
	}
}

// Project maps a point onto the projection plane.
func (p Projection) Project(v scan.Point3) (x, y float64) {
	switch p {
	case Front:
		return v.X, v.Z
	case Side:
		return v.Y, v.Z
	default:
		return v.X, v.Y
	}
}

// maxPointsPerSession bounds how many vertices a render draws per session.
const maxPointsPerSession = 20000

// stride returns the vertex step that keeps n under maxPointsPerSession.
func stride(n int) int {
	if n <= maxPointsPerSession {
		return 1
	}
	return (n + maxPointsPerSession - 1) / maxPointsPerSession
}

// sampleVertices skips vertex 0, the scanner origin, and thins the rest.
func sampleVertices(m *scan.Mesh) []scan.Point3 {
	if m == nil || len(m.Vertices) < 2 {
		return nil
	}
	verts := m.Vertices[1:]
	step := stride(len(verts))
	out := make([]scan.Point3, 0, len(verts)/step+1)
	for i := 0; i < len(verts); i += step {
		out = append(out, verts[i])
	}
	return out
}

func label(v session.SessionMesh) string {
	if v.Name != "" {
		return v.Name
	}
	return fmt.Sprintf("Scan %d", v.SessionID)
}

func hexColor(c color.NRGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}
