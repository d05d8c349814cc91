// Package testutil holds fixtures shared by the HTTP, render and streaming
// tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/ingest"
	"github.com/banshee-data/scanmesh/internal/scan/session"
)

// SmallResolution keeps meshes small enough to assert on by hand.
var SmallResolution = scan.Resolution{MotorSteps: 8, ServoSteps: 4}

// NewRegistry returns a registry at SmallResolution with the default
// neutral range and initial offset.
func NewRegistry(t *testing.T) *session.Registry {
	t.Helper()
	opts := session.DefaultOptions()
	opts.Resolution = SmallResolution
	reg, err := session.NewRegistry(opts)
	require.NoError(t, err)
	return reg
}

// StartDispatcher runs a dispatcher until the test ends.
func StartDispatcher(t *testing.T) *ingest.Dispatcher {
	t.Helper()
	d := ingest.NewDispatcher(64)
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
	return d
}

// Flush waits for every unit posted to d so far.
func Flush(t *testing.T, d *ingest.Dispatcher) {
	t.Helper()
	require.NoError(t, d.Do(context.Background(), func() error { return nil }))
}

// DoJSON sends body, JSON encoded unless nil, to h and returns the recorder.
func DoJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON unmarshals a recorder body into v.
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), "body: %s", rec.Body.String())
}
