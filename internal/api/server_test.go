package api

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanmesh/internal/config"
	"github.com/banshee-data/scanmesh/internal/db"
	"github.com/banshee-data/scanmesh/internal/monitoring"
	"github.com/banshee-data/scanmesh/internal/scan/device"
	"github.com/banshee-data/scanmesh/internal/serialmux"
	"github.com/banshee-data/scanmesh/internal/testutil"
	"github.com/banshee-data/scanmesh/internal/timeutil"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	os.Exit(m.Run())
}

type testEnv struct {
	srv       *Server
	h         http.Handler
	port      *serialmux.TestableSerialPort
	manager   *serialmux.Manager
	exportDir string
	clock     *timeutil.MockClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	reg := testutil.NewRegistry(t)
	d := testutil.StartDispatcher(t)

	database, err := db.NewDB(filepath.Join(t.TempDir(), "scans.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	port := serialmux.NewTestableSerialPort()
	manager := serialmux.NewManager(serialmux.NewSerialMux(port), serialmux.PortConfig{Path: "/dev/test"},
		func(string, serialmux.PortOptions) (serialmux.SerialMuxInterface, error) {
			return serialmux.NewSerialMux(serialmux.NewTestableSerialPort()), nil
		})
	t.Cleanup(func() { manager.Close() })

	exportDir := filepath.Join(t.TempDir(), "exports")
	clock := timeutil.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	srv := NewServer(Deps{
		Registry:   reg,
		Dispatcher: d,
		Store:      db.NewScanStore(database),
		Device:     device.NewController(manager, testutil.SmallResolution),
		Serial:     manager,
		Config:     config.DefaultScannerConfig(),
		ExportDir:  exportDir,
		Clock:      clock,
	})
	return &testEnv{srv: srv, h: srv.ServeMux(), port: port, manager: manager, exportDir: exportDir, clock: clock}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (int, string) {
	t.Helper()
	rec := testutil.DoJSON(t, e.h, method, path, body)
	return rec.Code, rec.Body.String()
}

func TestListScans(t *testing.T) {
	env := newTestEnv(t)
	rec := testutil.DoJSON(t, env.h, http.MethodGet, "/api/scans", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ScansResponse
	testutil.DecodeJSON(t, rec, &resp)
	assert.Equal(t, 0, resp.Active)
	assert.Equal(t, testutil.SmallResolution, resp.Resolution)
	require.Len(t, resp.Sessions, 1)
	s := resp.Sessions[0]
	assert.Equal(t, 1, s.ID)
	assert.True(t, s.Active)
	assert.Equal(t, testutil.SmallResolution.VertexCount(), s.Vertices)
	assert.Equal(t, 0.5, s.Transform.Translation.Z)
	assert.Len(t, s.Color, 9)
}

func TestAddAndActivate(t *testing.T) {
	env := newTestEnv(t)

	rec := testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	var added SessionSummary
	testutil.DecodeJSON(t, rec, &added)
	assert.Equal(t, 2, added.ID)
	assert.Equal(t, 1, added.Index)
	assert.False(t, added.Active)

	rec = testutil.DoJSON(t, env.h, http.MethodPut, "/api/scans/active", map[string]int{"index": 1})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var active SessionSummary
	testutil.DecodeJSON(t, rec, &active)
	assert.Equal(t, 2, active.ID)
	assert.True(t, active.Active)

	code, _ := env.do(t, http.MethodPut, "/api/scans/active", map[string]int{"index": 7})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPut, "/api/scans/active", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	rec = testutil.DoJSON(t, env.h, http.MethodGet, "/api/scans/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	testutil.DecodeJSON(t, rec, &active)
	assert.Equal(t, 2, active.ID)
}

func TestRemoveActive(t *testing.T) {
	env := newTestEnv(t)

	code, body := env.do(t, http.MethodDelete, "/api/scans/active", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, body, "last session")

	env.do(t, http.MethodPost, "/api/scans", nil)
	rec := testutil.DoJSON(t, env.h, http.MethodDelete, "/api/scans/active", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var now SessionSummary
	testutil.DecodeJSON(t, rec, &now)
	assert.Equal(t, 2, now.ID)
	assert.Equal(t, 0, now.Index)
}

func TestOffsetsClosedResetName(t *testing.T) {
	env := newTestEnv(t)

	rec := testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans/offsets", map[string]interface{}{
		"translation": []float64{1, 2, 3},
		"rot_z":       90,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var s SessionSummary
	testutil.DecodeJSON(t, rec, &s)
	assert.Equal(t, 1.0, s.Transform.Translation.X)
	assert.Equal(t, 3.0, s.Transform.Translation.Z)
	assert.Equal(t, 90.0, s.Transform.RotationZ)
	assert.Equal(t, 0.0, s.Transform.RotationX)

	rec = testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans/offsets", map[string]interface{}{"rot_x": 10})
	require.Equal(t, http.StatusOK, rec.Code)
	testutil.DecodeJSON(t, rec, &s)
	assert.Equal(t, 2.0, s.Transform.Translation.Y)
	assert.Equal(t, 10.0, s.Transform.RotationX)

	code, _ := env.do(t, http.MethodPost, "/api/scans/offsets", map[string]interface{}{"bogus": 1})
	assert.Equal(t, http.StatusBadRequest, code)

	rec = testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans/closed", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	testutil.DecodeJSON(t, rec, &s)
	assert.True(t, s.Closed)

	rec = testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans/reset", map[string]int{"index": 0})
	require.Equal(t, http.StatusOK, rec.Code)
	testutil.DecodeJSON(t, rec, &s)
	assert.Equal(t, s.RangeStats.Min, s.RangeStats.Max)

	rec = testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans/name", map[string]string{"name": "Kitchen"})
	require.Equal(t, http.StatusOK, rec.Code)
	testutil.DecodeJSON(t, rec, &s)
	assert.Equal(t, "Kitchen", s.Name)

	code, _ = env.do(t, http.MethodPost, "/api/scans/name", map[string]string{"name": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/api/scans/closed", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestMesh(t *testing.T) {
	env := newTestEnv(t)
	rec := testutil.DoJSON(t, env.h, http.MethodGet, "/api/scans/mesh", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var m MeshResponse
	testutil.DecodeJSON(t, rec, &m)
	assert.Equal(t, 1, m.SessionID)
	assert.Len(t, m.Vertices, testutil.SmallResolution.VertexCount())
	assert.NotEmpty(t, m.Triangles)
	assert.Positive(t, m.SurfaceArea)
	assert.Equal(t, [3]float64{0, 0, 0.5}, m.Vertices[0])

	code, _ := env.do(t, http.MethodGet, "/api/scans/mesh?index=3", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/api/scans/mesh?index=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSaveLoadAndSets(t *testing.T) {
	env := newTestEnv(t)

	rec := testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans/load", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var lr LoadResponse
	testutil.DecodeJSON(t, rec, &lr)
	assert.False(t, lr.Loaded)

	env.do(t, http.MethodPost, "/api/scans", nil)
	rec = testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans/save", map[string]string{"name": "living room"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var set db.ScanSet
	testutil.DecodeJSON(t, rec, &set)
	assert.Equal(t, "living room", set.Name)
	assert.Equal(t, 2, set.ScanCount)

	env.do(t, http.MethodPost, "/api/scans", nil)

	rec = testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans/load", map[string]string{"id": set.ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	testutil.DecodeJSON(t, rec, &lr)
	assert.True(t, lr.Loaded)
	assert.Equal(t, 2, lr.Sessions)
	assert.GreaterOrEqual(t, lr.NextID, 3)

	rec = testutil.DoJSON(t, env.h, http.MethodGet, "/api/scans/sets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var sets []db.ScanSet
	testutil.DecodeJSON(t, rec, &sets)
	require.Len(t, sets, 1)
	assert.Equal(t, set.ID, sets[0].ID)

	code, _ := env.do(t, http.MethodDelete, "/api/scans/sets?id="+set.ID, nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = env.do(t, http.MethodDelete, "/api/scans/sets?id="+set.ID, nil)
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = env.do(t, http.MethodPost, "/api/scans/load", map[string]string{"id": set.ID})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestPersistenceDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Store = nil
	for _, path := range []string{"/api/scans/save", "/api/scans/load"} {
		code, _ := env.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusServiceUnavailable, code, path)
	}
	code, _ := env.do(t, http.MethodGet, "/api/scans/sets", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t)
	rec := testutil.DoJSON(t, env.h, http.MethodPost, "/api/scans/export", map[string]string{"name": "../room"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ExportResponse
	testutil.DecodeJSON(t, rec, &resp)
	assert.Equal(t, filepath.Join(env.exportDir, "room.asc"), resp.Path)
	assert.Equal(t, testutil.SmallResolution.VertexCount()-1, resp.Points)
	_, err := os.Stat(resp.Path)
	assert.NoError(t, err)
}

func TestRender(t *testing.T) {
	env := newTestEnv(t)

	rec := testutil.DoJSON(t, env.h, http.MethodGet, "/api/render/png?view=front", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))

	rec = testutil.DoJSON(t, env.h, http.MethodGet, "/api/render/html?index=0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Scan 1")

	code, _ := env.do(t, http.MethodGet, "/api/render/png?view=iso", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodGet, "/api/render/html?index=9", nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPost, "/api/render/png", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, code)
}

func TestDeviceEndpoints(t *testing.T) {
	env := newTestEnv(t)

	rec := testutil.DoJSON(t, env.h, http.MethodGet, "/api/device/commands", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cmds []device.Command
	testutil.DecodeJSON(t, rec, &cmds)
	assert.NotEmpty(t, cmds)

	rec = testutil.DoJSON(t, env.h, http.MethodPost, "/api/device/command", map[string]interface{}{"name": "move", "args": []int{1, 2}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "#3 1 2")

	code, _ := env.do(t, http.MethodPost, "/api/device/command", map[string]interface{}{"name": "move", "args": []int{99, 0}})
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = env.do(t, http.MethodPost, "/api/device/command", map[string]string{"name": "selfdestruct"})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = env.do(t, http.MethodPost, "/api/device/raw", map[string]string{"line": "#?"})
	assert.Equal(t, http.StatusOK, code)
	code, _ = env.do(t, http.MethodPost, "/api/device/raw", map[string]string{"line": "#1\n#2"})
	assert.Equal(t, http.StatusBadRequest, code)

	assert.Equal(t, "#3 1 2\n#?\n", env.port.Written())

	rec = testutil.DoJSON(t, env.h, http.MethodGet, "/api/device/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st device.Status
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, "#?", st.LastCommand)
}

func TestDeviceDisabled(t *testing.T) {
	env := newTestEnv(t)
	env.srv.Device = nil
	code, _ := env.do(t, http.MethodPost, "/api/device/command", map[string]string{"name": "radar3d"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestSerialEndpoints(t *testing.T) {
	env := newTestEnv(t)

	orig := listPorts
	t.Cleanup(func() { listPorts = orig })
	listPorts = func() ([]string, error) { return []string{"/dev/ttyUSB0"}, nil }
	rec := testutil.DoJSON(t, env.h, http.MethodGet, "/api/serial/ports", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "/dev/ttyUSB0")

	listPorts = func() ([]string, error) { return nil, errors.New("no permission") }
	code, _ := env.do(t, http.MethodGet, "/api/serial/ports", nil)
	assert.Equal(t, http.StatusInternalServerError, code)

	rec = testutil.DoJSON(t, env.h, http.MethodGet, "/api/serial/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg serialmux.PortConfig
	testutil.DecodeJSON(t, rec, &cfg)
	assert.Equal(t, "/dev/test", cfg.Path)

	rec = testutil.DoJSON(t, env.h, http.MethodPost, "/api/serial/reload", map[string]interface{}{
		"path":    "/dev/other",
		"options": map[string]interface{}{"baud_rate": 9600},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res serialmux.ReloadResult
	testutil.DecodeJSON(t, rec, &res)
	assert.True(t, res.Success)
	assert.Equal(t, "/dev/other", env.manager.Config().Path)
	assert.True(t, env.port.Closed())

	code, _ = env.do(t, http.MethodPost, "/api/serial/reload", map[string]interface{}{"path": "/dev/x", "options": map[string]interface{}{"data_bits": 3}})
	assert.Equal(t, http.StatusBadGateway, code)
	code, _ = env.do(t, http.MethodPost, "/api/serial/reload", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestStatsAndConfig(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/scans", nil)
	env.clock.Advance(90 * time.Second)

	rec := testutil.DoJSON(t, env.h, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st StatsResponse
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, 2, st.Sessions)
	assert.Equal(t, 90.0, st.UptimeSecs)
	assert.True(t, st.Dispatcher.Running)
	assert.GreaterOrEqual(t, st.Dispatcher.Executed, uint64(1))
	require.NotNil(t, st.Device)
	require.NotNil(t, st.Serial)
	assert.Nil(t, st.Ingest)
	assert.True(t, strings.HasPrefix(st.Version, "scanmesh "))

	rec = testutil.DoJSON(t, env.h, http.MethodGet, "/api/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var cfg config.ScannerConfig
	testutil.DecodeJSON(t, rec, &cfg)
	assert.Equal(t, 200, cfg.GetMotorSteps())
}

func TestLoggingMiddleware(t *testing.T) {
	env := newTestEnv(t)
	var (
		mu    sync.Mutex
		lines []string
	)
	monitoring.SetLogger(func(format string, v ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		lines = append(lines, fmt.Sprintf(format, v...))
	})
	t.Cleanup(func() { monitoring.SetLogger(nil) })

	h := LoggingMiddleware(env.h)
	rec := testutil.DoJSON(t, h, http.MethodGet, "/api/stats?x=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	mu.Lock()
	defer mu.Unlock()
	var found bool
	for _, l := range lines {
		if strings.Contains(l, "GET") && strings.Contains(l, "/api/stats?x=1") && strings.Contains(l, "200") {
			found = true
		}
	}
	assert.True(t, found, "request not logged: %q", lines)
}
