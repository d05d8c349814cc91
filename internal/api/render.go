package api

import (
	"bytes"
	"net/http"

	"github.com/banshee-data/scanmesh/internal/httputil"
	"github.com/banshee-data/scanmesh/internal/render"
	"github.com/banshee-data/scanmesh/internal/scan/session"
)

// renderViews parses ?view= and ?index= and snapshots the meshes to draw.
func (s *Server) renderViews(w http.ResponseWriter, r *http.Request) ([]session.SessionMesh, render.Projection, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, 0, false
	}
	proj, err := render.ParseProjection(r.URL.Query().Get("view"))
	if err != nil {
		writeError(w, err)
		return nil, 0, false
	}
	index, err := parseIndex(r)
	if err != nil {
		writeError(w, err)
		return nil, 0, false
	}
	views, err := s.views(r, index)
	if err != nil {
		writeError(w, err)
		return nil, 0, false
	}
	return views, proj, true
}

func (s *Server) handleRenderPNG(w http.ResponseWriter, r *http.Request) {
	views, proj, ok := s.renderViews(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.WritePNG(&buf, views, proj, render.PNGOptions{}); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleRenderHTML(w http.ResponseWriter, r *http.Request) {
	views, proj, ok := s.renderViews(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := render.WriteHTML(&buf, views, proj); err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
