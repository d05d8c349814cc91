package session

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanmesh/internal/scan"
)

func smallParams() Params {
	return Params{Resolution: scan.Resolution{MotorSteps: 4, ServoSteps: 2}, NeutralRange: 10}
}

func newSmallSession(t *testing.T, id int) *Session {
	t.Helper()
	s, err := New(id, smallParams(), scan.Transform{})
	require.NoError(t, err)
	return s
}

func TestNewSession(t *testing.T) {
	tr := scan.Transform{Translation: scan.Point3{Z: 0.5}}
	s, err := New(3, smallParams(), tr)
	require.NoError(t, err)

	assert.Equal(t, 3, s.ID())
	assert.Equal(t, "Scan 3", s.Name())
	assert.Equal(t, tr, s.Transform())
	assert.False(t, s.Closed())
	assert.Equal(t, scan.PaletteColor(3), s.Color())
	assert.Equal(t, 13, s.Mesh().VertexCount())
	assert.Equal(t, s.Color(), s.Mesh().Color)
	assert.Equal(t, tr.Origin(), s.Mesh().Vertices[0])

	_, err = New(1, Params{Resolution: scan.Resolution{MotorSteps: 0, ServoSteps: 2}, NeutralRange: 10}, tr)
	assert.Error(t, err)
	_, err = New(1, smallParams(), scan.Transform{RotationX: math.NaN()})
	assert.ErrorIs(t, err, scan.ErrNonFinite)
}

func TestSessionEqualByID(t *testing.T) {
	a := newSmallSession(t, 1)
	b := newSmallSession(t, 1)
	c := newSmallSession(t, 2)
	require.NoError(t, b.ApplySample(1, 1, 3))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, a.Equal(nil))
}

func TestSessionApplySamplePatchesOneVertex(t *testing.T) {
	s := newSmallSession(t, 1)
	before := s.MeshSnapshot()

	var events []Event
	s.notify = func(_ *Session, ev Event) { events = append(events, ev) }

	require.NoError(t, s.ApplySample(2, 1, 4))

	after := s.Mesh()
	changed := 0
	for i := range before.Vertices {
		if before.Vertices[i] != after.Vertices[i] {
			changed++
			assert.Equal(t, 1+2+1*4, i)
		}
	}
	assert.Equal(t, 1, changed)
	assert.Equal(t, before.Triangles, after.Triangles)

	require.Len(t, events, 1)
	assert.Equal(t, EventPatched, events[0].Kind)
	assert.Equal(t, 1, events[0].SessionID)
	require.NotNil(t, events[0].Patch)
	assert.Equal(t, 7, events[0].Patch.Index)
}

func TestSessionApplySampleErrors(t *testing.T) {
	s := newSmallSession(t, 1)
	assert.ErrorIs(t, s.ApplySample(5, 0, 1), scan.ErrIndexOutOfRange)
	assert.ErrorIs(t, s.ApplySample(0, 3, 1), scan.ErrIndexOutOfRange)
	assert.ErrorIs(t, s.ApplySample(0, 0, -1), scan.ErrInvalidRange)

	// seam sample is stored but does not move geometry
	before := s.MeshSnapshot()
	require.NoError(t, s.ApplySample(4, 1, 2))
	v, err := s.Grid().Get(4, 1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
	assert.Equal(t, before, s.Mesh())
}

func TestSessionSetOffsetsRebuilds(t *testing.T) {
	s := newSmallSession(t, 1)
	require.NoError(t, s.ApplySample(1, 1, 5))

	var kinds []EventKind
	s.notify = func(_ *Session, ev Event) { kinds = append(kinds, ev.Kind) }

	require.NoError(t, s.SetOffsets(scan.Point3{X: 1, Y: 2, Z: 3}, 15, 30))
	want := scan.Rebuild(s.Grid(), s.Transform(), false)
	want.Color = s.Color()
	if diff := cmp.Diff(want, s.Mesh()); diff != "" {
		t.Errorf("mesh not rebuilt (-want +got):\n%s", diff)
	}
	assert.Equal(t, []EventKind{EventRebuilt}, kinds)

	err := s.SetOffsets(scan.Point3{}, math.NaN(), 0)
	assert.ErrorIs(t, err, scan.ErrNonFinite)
	assert.Equal(t, 15.0, s.Transform().RotationX)
	assert.Equal(t, scan.Point3{X: 1, Y: 2, Z: 3}, s.Transform().Translation)
}

func TestSessionToggleClosed(t *testing.T) {
	s := newSmallSession(t, 1)
	open := s.Mesh().TriangleCount()

	assert.True(t, s.ToggleClosed())
	assert.Less(t, s.Mesh().TriangleCount(), open)
	assert.False(t, s.ToggleClosed())
	assert.Equal(t, open, s.Mesh().TriangleCount())
}

func TestSessionReset(t *testing.T) {
	s := newSmallSession(t, 1)
	require.NoError(t, s.ApplySample(1, 1, 5))
	require.NoError(t, s.Reset(7))
	v, _ := s.Grid().Get(1, 1)
	assert.Equal(t, 7.0, v)
	assert.Error(t, s.Reset(-1))
}

func TestRecordRoundTrip(t *testing.T) {
	s := newSmallSession(t, 4)
	require.NoError(t, s.ApplySample(2, 2, 1.25))
	require.NoError(t, s.SetOffsets(scan.Point3{X: -1}, 5, 10))
	s.ToggleClosed()
	s.SetName("kitchen")

	back, err := FromRecord(s.Record())
	require.NoError(t, err)
	assert.True(t, s.Equal(back))
	assert.Equal(t, s.Record(), back.Record())
	if diff := cmp.Diff(s.Mesh(), back.Mesh()); diff != "" {
		t.Errorf("mesh differs after round trip (-want +got):\n%s", diff)
	}
}

func TestFromRecordRejectsBadRecords(t *testing.T) {
	good := newSmallSession(t, 2).Record()

	noID := good
	noID.ID = 0
	_, err := FromRecord(noID)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	badGrid := good
	badGrid.Ranges = badGrid.Ranges[:1]
	_, err = FromRecord(badGrid)
	assert.ErrorIs(t, err, ErrInvalidRecord)

	badTransform := good
	badTransform.Transform.RotationZ = math.Inf(1)
	_, err = FromRecord(badTransform)
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestFromRecordFillsDefaults(t *testing.T) {
	rec := newSmallSession(t, 9).Record()
	rec.Name = ""
	rec.Color.R, rec.Color.G, rec.Color.B, rec.Color.A = 0, 0, 0, 0
	s, err := FromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, "Scan 9", s.Name())
	assert.Equal(t, scan.PaletteColor(9), s.Color())
}

func TestIDAllocator(t *testing.T) {
	a := NewIDAllocator()
	assert.Equal(t, 1, a.Next())
	assert.Equal(t, 2, a.Next())
	a.AdvancePast(10)
	assert.Equal(t, 11, a.Peek())
	assert.Equal(t, 11, a.Next())
	a.AdvancePast(3)
	assert.Equal(t, 12, a.Next())
}
