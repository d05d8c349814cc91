package scan

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func smallGrid(t *testing.T) *Grid {
	t.Helper()
	g, err := NewGrid(Resolution{MotorSteps: 4, ServoSteps: 2}, DefaultNeutralRange)
	require.NoError(t, err)
	return g
}

func TestRebuildSmallOpen(t *testing.T) {
	g := smallGrid(t)
	tr := Transform{Translation: Point3{Z: 0.5}}
	m := Rebuild(g, tr, false)

	assert.Equal(t, 13, m.VertexCount())
	assert.Equal(t, tr.Origin(), m.Vertices[0])
	require.NoError(t, m.Validate())

	want := []Triangle{
		// fan over first servo row
		{0, 1, 2}, {0, 2, 3},
		// fan over last servo row
		{0, 9, 10}, {0, 10, 11},
		// skin rows 0-1
		{1, 2, 5}, {2, 6, 5},
		{2, 3, 6}, {3, 7, 6},
		// skin rows 1-2
		{5, 6, 9}, {6, 10, 9},
		{6, 7, 10}, {7, 11, 10},
	}
	if diff := cmp.Diff(want, m.Triangles); diff != "" {
		t.Errorf("triangles mismatch (-want +got):\n%s", diff)
	}
}

func TestRebuildClosedSkipsCaps(t *testing.T) {
	g := smallGrid(t)
	open := Rebuild(g, Transform{}, false)
	closed := Rebuild(g, Transform{}, true)

	assert.Equal(t, open.VertexCount(), closed.VertexCount())
	assert.Equal(t, 8, closed.TriangleCount())
	assert.Equal(t, 12, open.TriangleCount())
	for _, tri := range closed.Triangles {
		assert.NotContains(t, tri[:], 0)
	}
}

func TestRebuildDefaultResolution(t *testing.T) {
	g, err := NewGrid(DefaultResolution(), DefaultNeutralRange)
	require.NoError(t, err)
	m := Rebuild(g, Transform{}, false)
	assert.Equal(t, 1+200*91, m.VertexCount())
	assert.Equal(t, 2*100+2*100*90, m.TriangleCount())
	assert.NoError(t, m.Validate())
}

func TestVertexLayout(t *testing.T) {
	g := smallGrid(t)
	require.NoError(t, g.Set(3, 1, 2))
	tr := Transform{RotationZ: 12}
	m := Rebuild(g, tr, false)

	idx, ok := VertexIndex(g.Resolution(), 3, 1)
	require.True(t, ok)
	assert.Equal(t, 8, idx)
	assert.Equal(t, tr.Apply(g.Resolution(), 2, 3, 1), m.Vertices[idx])

	_, ok = VertexIndex(g.Resolution(), 4, 1)
	assert.False(t, ok)
}

func TestPatchVertexMatchesRebuild(t *testing.T) {
	res := Resolution{MotorSteps: 8, ServoSteps: 4}
	g, err := NewGrid(res, DefaultNeutralRange)
	require.NoError(t, err)
	tr := Transform{Translation: Point3{X: -1, Y: 2, Z: 0.5}, RotationX: 10, RotationZ: 25}
	m := Rebuild(g, tr, false)

	rng := rand.New(rand.NewSource(7))
	for s := 0; s <= res.ServoSteps; s++ {
		for mo := 0; mo <= res.MotorSteps; mo++ {
			require.NoError(t, g.Set(mo, s, rng.Float64()*100))
			_, _, err := PatchVertex(m, g, tr, mo, s)
			require.NoError(t, err)
		}
	}

	want := Rebuild(g, tr, false)
	if diff := cmp.Diff(want, m); diff != "" {
		t.Errorf("patched mesh differs from rebuild (-want +got):\n%s", diff)
	}
}

func TestPatchVertexOrderIndependent(t *testing.T) {
	res := Resolution{MotorSteps: 6, ServoSteps: 3}
	tr := Transform{RotationZ: 40}
	type sample struct {
		m, s int
		r    float64
	}
	samples := []sample{{0, 0, 3}, {5, 3, 8}, {2, 1, 1.5}, {4, 2, 20}, {1, 3, 0}}

	apply := func(order []sample) *Mesh {
		g, err := NewGrid(res, DefaultNeutralRange)
		require.NoError(t, err)
		m := Rebuild(g, tr, true)
		for _, sm := range order {
			require.NoError(t, g.Set(sm.m, sm.s, sm.r))
			_, _, err := PatchVertex(m, g, tr, sm.m, sm.s)
			require.NoError(t, err)
		}
		return m
	}

	forward := apply(samples)
	reversed := make([]sample, len(samples))
	for i, sm := range samples {
		reversed[len(samples)-1-i] = sm
	}
	backward := apply(reversed)
	if diff := cmp.Diff(forward, backward); diff != "" {
		t.Errorf("order changed mesh (-forward +backward):\n%s", diff)
	}
}

func TestPatchVertexIdempotent(t *testing.T) {
	g := smallGrid(t)
	m := Rebuild(g, Transform{}, false)
	require.NoError(t, g.Set(1, 1, 4))

	p1, ok, err := PatchVertex(m, g, Transform{}, 1, 1)
	require.NoError(t, err)
	require.True(t, ok)
	once := m.Clone()
	p2, _, err := PatchVertex(m, g, Transform{}, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
	assert.Equal(t, once, m)
	assert.Equal(t, 6, p1.Index)
	assert.Equal(t, 4.0, p1.Range)
}

func TestPatchVertexSeamAndErrors(t *testing.T) {
	g := smallGrid(t)
	m := Rebuild(g, Transform{}, false)
	before := m.Clone()

	require.NoError(t, g.Set(4, 1, 1))
	_, ok, err := PatchVertex(m, g, Transform{}, 4, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, m)

	_, _, err = PatchVertex(m, g, Transform{}, 5, 1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, _, err = PatchVertex(m, g, Transform{}, 0, 3)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)

	other, err := NewGrid(Resolution{MotorSteps: 6, ServoSteps: 2}, 10)
	require.NoError(t, err)
	_, _, err = PatchVertex(m, other, Transform{}, 1, 1)
	assert.ErrorIs(t, err, ErrMeshMismatch)
}

func TestMeshCloneIsDeep(t *testing.T) {
	m := Rebuild(smallGrid(t), Transform{}, false)
	c := m.Clone()
	c.Vertices[3] = Point3{X: 99}
	c.Triangles[0] = Triangle{1, 1, 1}
	assert.NotEqual(t, c.Vertices[3], m.Vertices[3])
	assert.NotEqual(t, c.Triangles[0], m.Triangles[0])
}

func TestMeshValidateCatchesBadIndex(t *testing.T) {
	m := Rebuild(smallGrid(t), Transform{}, false)
	m.Triangles = append(m.Triangles, Triangle{0, 1, 13})
	assert.ErrorIs(t, m.Validate(), ErrIndexOutOfRange)
}

func TestMeshBoundsAndArea(t *testing.T) {
	m := &Mesh{
		Vertices:  []Point3{{}, {X: 1}, {Y: 1}, {Z: -2}},
		Triangles: []Triangle{{0, 1, 2}},
	}
	b := m.Bounds()
	assert.Equal(t, Point3{X: 0, Y: 0, Z: -2}, b.Min)
	assert.Equal(t, Point3{X: 1, Y: 1, Z: 0}, b.Max)
	assert.InDelta(t, 0.5, m.SurfaceArea(), 1e-12)
}

func TestPaletteColor(t *testing.T) {
	seen := map[[3]uint8]bool{}
	for i := 1; i <= 8; i++ {
		c := PaletteColor(i)
		assert.Equal(t, uint8(MeshAlpha), c.A)
		assert.Equal(t, c, PaletteColor(i), "color must be deterministic")
		key := [3]uint8{c.R, c.G, c.B}
		assert.False(t, seen[key], "color %d repeats", i)
		seen[key] = true
	}
}
