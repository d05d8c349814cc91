package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanmesh/internal/monitoring"
	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/session"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func startDispatcher(t *testing.T, queue int) (*Dispatcher, context.CancelFunc) {
	t.Helper()
	d := NewDispatcher(queue)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return d, cancel
}

func newRegistry(t *testing.T) *session.Registry {
	t.Helper()
	opts := session.DefaultOptions()
	opts.Resolution = scan.Resolution{MotorSteps: 8, ServoSteps: 4}
	r, err := session.NewRegistry(opts)
	require.NoError(t, err)
	return r
}

// flush waits until every previously posted unit has run.
func flush(t *testing.T, d *Dispatcher) {
	t.Helper()
	require.NoError(t, d.Do(context.Background(), func() error { return nil }))
}

func TestDispatcherRunsInOrder(t *testing.T) {
	d, _ := startDispatcher(t, 4)
	var got []int
	for i := 0; i < 20; i++ {
		i := i
		require.NoError(t, d.Post(context.Background(), func() { got = append(got, i) }))
	}
	flush(t, d)

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)

	// the flush unit counts as executed only after it returns
	require.Eventually(t, func() bool { return d.Stats().Executed == 21 }, time.Second, time.Millisecond)
	st := d.Stats()
	assert.Equal(t, uint64(21), st.Posted)
	assert.True(t, st.Running)
}

func TestDispatcherDoReturnsError(t *testing.T) {
	d, _ := startDispatcher(t, 1)
	boom := errors.New("boom")
	assert.ErrorIs(t, d.Do(context.Background(), func() error { return boom }), boom)
}

func TestDispatcherStopped(t *testing.T) {
	d, cancel := startDispatcher(t, 1)
	cancel()
	require.Eventually(t, func() bool { return !d.Stats().Running }, time.Second, 5*time.Millisecond)

	// the stop signal is closed once Run has returned
	<-d.stopped
	assert.ErrorIs(t, d.Post(context.Background(), func() {}), ErrDispatcherStopped)
	assert.ErrorIs(t, d.Do(context.Background(), func() error { return nil }), ErrDispatcherStopped)
}

func TestDispatcherPostHonoursContext(t *testing.T) {
	d := NewDispatcher(1) // never run
	require.NoError(t, d.Post(context.Background(), func() {}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Post(ctx, func() {}), context.DeadlineExceeded)
}

type sliceSource struct{ lines []string }

func (s *sliceSource) ReadLine() (string, bool) {
	if len(s.lines) == 0 {
		return "", false
	}
	l := s.lines[0]
	s.lines = s.lines[1:]
	return l, true
}

func TestIngestorAppliesToActiveSession(t *testing.T) {
	d, _ := startDispatcher(t, 16)
	reg := newRegistry(t)
	in := NewIngestor(reg, d)

	src := &sliceSource{lines: []string{
		"#1 2 3 40",
		"Onetime Measure:",
		"#1 9 0 5",  // motor 10 is past the grid
		"#1 7 1 12", // seam column
	}}
	n, err := in.Drain(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	flush(t, d)

	var got, seam float64
	require.NoError(t, d.Do(context.Background(), func() error {
		var err error
		got, err = reg.ActiveSession().Grid().Get(3, 3)
		if err != nil {
			return err
		}
		seam, err = reg.ActiveSession().Grid().Get(8, 1)
		return err
	}))
	assert.Equal(t, 40.0, got)
	assert.Equal(t, 12.0, seam)

	st := in.Stats()
	assert.Equal(t, IngestStats{Lines: 4, Discarded: 1, Posted: 3, Applied: 2, Rejected: 1}, st)
}

func TestIngestorSeamColumnLeavesMeshUnchanged(t *testing.T) {
	d, _ := startDispatcher(t, 16)
	reg := newRegistry(t)
	in := NewIngestor(reg, d)

	var before *scan.Mesh
	require.NoError(t, d.Do(context.Background(), func() error {
		before = reg.ActiveSession().MeshSnapshot()
		return nil
	}))

	// raw motor 7 is the last firmware step, stored in grid column 8
	require.NoError(t, in.HandleLine(context.Background(), "#5 7 2 90"))
	flush(t, d)

	require.NoError(t, d.Do(context.Background(), func() error {
		v, err := reg.ActiveSession().Grid().Get(8, 2)
		require.NoError(t, err)
		assert.Equal(t, 90.0, v)
		assert.Equal(t, before, reg.ActiveSession().MeshSnapshot())
		return nil
	}))

	// raw motor 0 lands in column 1 and does move a vertex
	require.NoError(t, in.HandleLine(context.Background(), "#5 0 2 90"))
	flush(t, d)
	require.NoError(t, d.Do(context.Background(), func() error {
		assert.NotEqual(t, before, reg.ActiveSession().MeshSnapshot())
		return nil
	}))
}

func TestIngestorCapturesTargetAtArrival(t *testing.T) {
	reg := newRegistry(t)
	_, err := reg.AddSession()
	require.NoError(t, err)

	// not running yet: work queues up behind the active switch
	d := NewDispatcher(8)
	in := NewIngestor(reg, d)
	require.NoError(t, in.HandleLine(context.Background(), "#1 0 0 3"))
	require.NoError(t, reg.SetActive(1))
	require.NoError(t, in.HandleLine(context.Background(), "#1 0 0 4"))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = d.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()
	flush(t, d)

	first, _ := reg.Session(0)
	second, _ := reg.Session(1)
	require.NoError(t, d.Do(context.Background(), func() error {
		v0, _ := first.Grid().Get(1, 0)
		v1, _ := second.Grid().Get(1, 0)
		assert.Equal(t, 3.0, v0)
		assert.Equal(t, 4.0, v1)
		return nil
	}))
}

type chanSubscriber struct {
	ch           chan string
	unsubscribed bool
}

func (c *chanSubscriber) Subscribe() (string, chan string) { return "sub", c.ch }
func (c *chanSubscriber) Unsubscribe(string)               { c.unsubscribed = true }

func TestIngestorRunStopsWhenChannelCloses(t *testing.T) {
	d, _ := startDispatcher(t, 16)
	reg := newRegistry(t)
	in := NewIngestor(reg, d)

	sub := &chanSubscriber{ch: make(chan string, 4)}
	sub.ch <- "#1 0 1 6"
	sub.ch <- "noise"
	close(sub.ch)

	require.NoError(t, in.Run(context.Background(), sub))
	assert.True(t, sub.unsubscribed)
	flush(t, d)
	assert.Equal(t, uint64(1), in.Stats().Applied)
	assert.Equal(t, uint64(1), in.Stats().Discarded)
}

func TestIngestorRunStopsOnCancel(t *testing.T) {
	d, _ := startDispatcher(t, 16)
	in := NewIngestor(newRegistry(t), d)
	sub := &chanSubscriber{ch: make(chan string)}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- in.Run(ctx, sub) }()
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestChannelSource(t *testing.T) {
	ch := make(chan string, 3)
	src := NewChannelSource(ch)

	_, ok := src.ReadLine()
	assert.False(t, ok, "empty channel must not block")

	ch <- "a"
	ch <- "b"
	require.True(t, src.Wait(context.Background()))
	l, ok := src.ReadLine()
	assert.True(t, ok)
	assert.Equal(t, "a", l)
	l, ok = src.ReadLine()
	assert.True(t, ok)
	assert.Equal(t, "b", l)

	close(ch)
	_, ok = src.ReadLine()
	assert.False(t, ok)
	assert.True(t, src.Closed())
	assert.False(t, src.Wait(context.Background()))
}
