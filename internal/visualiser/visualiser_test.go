package visualiser

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"

	"github.com/banshee-data/scanmesh/internal/monitoring"
	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/session"
	"github.com/banshee-data/scanmesh/internal/testutil"
	"github.com/banshee-data/scanmesh/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

func TestFrameFromEvent(t *testing.T) {
	mesh := &scan.Mesh{Vertices: []scan.Point3{{}, {X: 1}}}
	patch := &scan.VertexPatch{Index: 1, Range: 2}
	snap := []session.SessionMesh{{SessionID: 4, Mesh: mesh}}

	tests := []struct {
		name   string
		ev     session.Event
		kind   FrameKind
		meshes int
	}{
		{"added", session.Event{Kind: session.EventAdded, SessionID: 2, Mesh: mesh}, FrameMesh, 1},
		{"rebuilt", session.Event{Kind: session.EventRebuilt, SessionID: 2, Mesh: mesh}, FrameMesh, 1},
		{"activated", session.Event{Kind: session.EventActivated, SessionID: 2, Mesh: mesh}, FrameActive, 1},
		{"patched", session.Event{Kind: session.EventPatched, SessionID: 2, Patch: patch}, FramePatch, 0},
		{"removed", session.Event{Kind: session.EventRemoved, SessionID: 2}, FrameRemoved, 0},
		{"replaced", session.Event{Kind: session.EventReplaced, SessionID: 4, Sessions: snap}, FrameSnapshot, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := FrameFromEvent(tt.ev)
			require.NotNil(t, f)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.ev.SessionID, f.SessionID)
			assert.Len(t, f.Meshes, tt.meshes)
		})
	}

	assert.Nil(t, FrameFromEvent(session.Event{Kind: session.EventPatched}))
	assert.Nil(t, FrameFromEvent(session.Event{}))
}

func TestForSession(t *testing.T) {
	snap := &Frame{Kind: FrameSnapshot, Meshes: []session.SessionMesh{{SessionID: 1}, {SessionID: 2}}}
	got := snap.forSession(2)
	require.Len(t, got.Meshes, 1)
	assert.Equal(t, 2, got.Meshes[0].SessionID)
	assert.Len(t, snap.Meshes, 2)
	assert.Same(t, snap, snap.forSession(0))

	mesh := &Frame{Kind: FrameMesh, SessionID: 1}
	assert.Nil(t, mesh.forSession(2))
	assert.Same(t, mesh, mesh.forSession(1))
}

func TestFrameCodec(t *testing.T) {
	reg := testutil.NewRegistry(t)
	want := &Frame{
		Seq:       7,
		Kind:      FrameSnapshot,
		Timestamp: time.UnixMilli(1700000000123),
		SessionID: 1,
		Meshes:    reg.Meshes(),
		Patch:     &scan.VertexPatch{Index: 3, Motor: 2, Servo: 0, Range: 4.5, Position: scan.Point3{X: 1, Y: 2, Z: 3}},
	}
	got, err := FrameFromStruct(frameToStruct(want))
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("frame mismatch (-want +got):\n%s", diff)
	}

	_, err = FrameFromStruct(nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

type harness struct {
	reg *session.Registry
	pub *Publisher
	cc  *grpc.ClientConn
}

func startHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	reg := testutil.NewRegistry(t)
	pub := NewPublisher(cfg, func(context.Context) ([]session.SessionMesh, error) {
		return reg.Meshes(), nil
	})
	t.Cleanup(reg.Subscribe(pub.OnEvent))

	lis := bufconn.Listen(1 << 20)
	require.NoError(t, pub.Serve(lis))
	t.Cleanup(pub.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { cc.Close() })
	return &harness{reg: reg, pub: pub, cc: cc}
}

func TestStreamFrames(t *testing.T) {
	cfg := DefaultConfig()
	clock := timeutil.NewMockClock(time.UnixMilli(1700000000000))
	cfg.Clock = clock
	h := startHarness(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := StreamFrames(ctx, h.cc, StreamRequest{})
	require.NoError(t, err)

	f, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameSnapshot, f.Kind)
	require.Len(t, f.Meshes, 1)
	assert.Equal(t, testutil.SmallResolution.VertexCount(), len(f.Meshes[0].Mesh.Vertices))
	assert.Equal(t, "Scan 1", f.Meshes[0].Name)
	assert.True(t, f.Timestamp.Equal(clock.Now()), "snapshot stamped %v", f.Timestamp)

	clock.Advance(1500 * time.Millisecond)
	_, err = h.reg.AddSession()
	require.NoError(t, err)
	f, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameMesh, f.Kind)
	assert.Equal(t, 2, f.SessionID)
	assert.True(t, f.Timestamp.Equal(time.UnixMilli(1700000001500)), "mesh frame stamped %v", f.Timestamp)

	require.NoError(t, h.reg.ActiveSession().ApplySample(1, 1, 3))
	f, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, FramePatch, f.Kind)
	require.NotNil(t, f.Patch)
	assert.Equal(t, 1+1+1*testutil.SmallResolution.MotorSteps, f.Patch.Index)
	assert.Equal(t, 3.0, f.Patch.Range)

	assert.Eventually(t, func() bool { return h.pub.Stats().ClientCount == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, uint64(2), h.pub.Stats().FrameCount)
}

func TestStreamFramesFiltersSession(t *testing.T) {
	h := startHarness(t, DefaultConfig())
	_, err := h.reg.AddSession()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	stream, err := StreamFrames(ctx, h.cc, StreamRequest{SessionID: 2})
	require.NoError(t, err)

	f, err := stream.Recv()
	require.NoError(t, err)
	require.Len(t, f.Meshes, 1)
	assert.Equal(t, 2, f.Meshes[0].SessionID)

	// Session 1 is active; its samples are filtered out.
	require.NoError(t, h.reg.ActiveSession().ApplySample(1, 1, 3))
	require.NoError(t, h.reg.SetActive(1))
	f, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, FrameActive, f.Kind)
	assert.Equal(t, 2, f.SessionID)
}

func TestStreamFramesMaxClients(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxClients = 1
	h := startHarness(t, cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	first, err := StreamFrames(ctx, h.cc, StreamRequest{})
	require.NoError(t, err)
	_, err = first.Recv()
	require.NoError(t, err)

	second, err := StreamFrames(ctx, h.cc, StreamRequest{})
	require.NoError(t, err)
	_, err = second.Recv()
	assert.True(t, IsTooManyClients(err), "got %v", err)
}

func TestPublishBeforeServeIsDropped(t *testing.T) {
	pub := NewPublisher(DefaultConfig(), nil)
	pub.Publish(&Frame{Kind: FrameMesh})
	assert.Equal(t, uint64(0), pub.Stats().FrameCount)
	assert.False(t, pub.Stats().Running)
}

func TestServeTwice(t *testing.T) {
	h := startHarness(t, DefaultConfig())
	assert.ErrorIs(t, h.pub.Serve(bufconn.Listen(1024)), ErrAlreadyRunning)
}
