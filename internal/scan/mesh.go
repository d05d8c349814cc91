package scan

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Triangle is a triple of vertex indices.
type Triangle [3]int

// Mesh is the triangulated surface of one scan. Vertex 0 is the scanner
// origin; vertex 1+m+s*MotorSteps holds the sample at (m, s) for
// m in [0, MotorSteps).
type Mesh struct {
	Vertices  []Point3
	Triangles []Triangle
	Color     color.NRGBA
}

// VertexPatch records a single vertex recomputed from the grid.
type VertexPatch struct {
	Index    int
	Motor    int
	Servo    int
	Range    float64
	Position Point3
}

// VertexIndex maps a grid cell to its mesh vertex. The seam column
// (motor == MotorSteps) shares vertex positions with motor 0 and has no vertex
// of its own; ok is false for it.
func VertexIndex(res Resolution, motor, servo int) (idx int, ok bool) {
	if motor == res.MotorSteps {
		return 0, false
	}
	return 1 + motor + servo*res.MotorSteps, true
}

// Rebuild computes every vertex and triangle from the grid.
//
// Triangles cover motor steps 1..MotorSteps/2, the half revolution the
// firmware sweeps. When closed is false each of the first and last servo rows
// gets a fan anchored at vertex 0 so the surface reads as a solid.
func Rebuild(g *Grid, t Transform, closed bool) *Mesh {
	res := g.Resolution()
	m := &Mesh{
		Vertices:  make([]Point3, 1, res.VertexCount()),
		Triangles: make([]Triangle, 0, triangleCount(res, closed)),
	}
	m.Vertices[0] = t.Origin()

	for s := 0; s <= res.ServoSteps; s++ {
		for mo := 0; mo < res.MotorSteps; mo++ {
			r := g.ranges[g.offset(mo, s)]
			m.Vertices = append(m.Vertices, t.Apply(res, r, mo, s))
		}
	}

	half := res.MotorSteps / 2
	if !closed {
		for _, row := range []int{0, res.ServoSteps} {
			base := row * res.MotorSteps
			for k := 1; k <= half; k++ {
				m.Triangles = append(m.Triangles, Triangle{0, k + base, k + 1 + base})
			}
		}
	}
	for row := 0; row < res.ServoSteps; row++ {
		lo := row * res.MotorSteps
		hi := (row + 1) * res.MotorSteps
		for k := 1; k <= half; k++ {
			m.Triangles = append(m.Triangles,
				Triangle{k + lo, k + 1 + lo, k + hi},
				Triangle{k + 1 + lo, k + 1 + hi, k + hi},
			)
		}
	}
	return m
}

// PatchVertex recomputes the single vertex fed by grid cell (motor, servo).
// A seam sample (motor == MotorSteps) leaves the mesh untouched and returns
// ok == false.
func PatchVertex(m *Mesh, g *Grid, t Transform, motor, servo int) (patch VertexPatch, ok bool, err error) {
	r, err := g.Get(motor, servo)
	if err != nil {
		return VertexPatch{}, false, err
	}
	res := g.Resolution()
	if len(m.Vertices) != res.VertexCount() {
		return VertexPatch{}, false, fmt.Errorf("%d vertices for %d: %w", len(m.Vertices), res.VertexCount(), ErrMeshMismatch)
	}
	idx, ok := VertexIndex(res, motor, servo)
	if !ok {
		return VertexPatch{}, false, nil
	}
	p := t.Apply(res, r, motor, servo)
	m.Vertices[idx] = p
	return VertexPatch{Index: idx, Motor: motor, Servo: servo, Range: r, Position: p}, true, nil
}

func triangleCount(res Resolution, closed bool) int {
	half := res.MotorSteps / 2
	n := 2 * half * res.ServoSteps
	if !closed {
		n += 2 * half
	}
	return n
}

// Clone returns a deep copy safe to hand to another goroutine.
func (m *Mesh) Clone() *Mesh {
	return &Mesh{
		Vertices:  append([]Point3(nil), m.Vertices...),
		Triangles: append([]Triangle(nil), m.Triangles...),
		Color:     m.Color,
	}
}

// VertexCount includes the origin vertex at index 0.
func (m *Mesh) VertexCount() int { return len(m.Vertices) }

// TriangleCount includes the pole-cap fans when the mesh was built open.
func (m *Mesh) TriangleCount() int { return len(m.Triangles) }

// Validate checks that every triangle references an existing vertex.
func (m *Mesh) Validate() error {
	for i, tri := range m.Triangles {
		for _, v := range tri {
			if v < 0 || v >= len(m.Vertices) {
				return fmt.Errorf("triangle %d: %w", i, &IndexError{Axis: "vertex", Index: v, Max: len(m.Vertices) - 1})
			}
		}
	}
	return nil
}

// Bounds returns the axis-aligned box enclosing all vertices.
func (m *Mesh) Bounds() r3.Box {
	if len(m.Vertices) == 0 {
		return r3.Box{}
	}
	lo := Point3{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi := Point3{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, v := range m.Vertices {
		lo = Point3{X: math.Min(lo.X, v.X), Y: math.Min(lo.Y, v.Y), Z: math.Min(lo.Z, v.Z)}
		hi = Point3{X: math.Max(hi.X, v.X), Y: math.Max(hi.Y, v.Y), Z: math.Max(hi.Z, v.Z)}
	}
	return r3.Box{Min: lo, Max: hi}
}

// SurfaceArea sums the area of every triangle.
func (m *Mesh) SurfaceArea() float64 {
	var area float64
	for _, tri := range m.Triangles {
		a, b, c := m.Vertices[tri[0]], m.Vertices[tri[1]], m.Vertices[tri[2]]
		area += 0.5 * r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
	}
	return area
}
