package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/scanmesh/internal/httputil"
	"github.com/banshee-data/scanmesh/internal/render"
	"github.com/banshee-data/scanmesh/internal/scan"
	"github.com/banshee-data/scanmesh/internal/scan/session"
)

// SessionSummary describes one session without its geometry.
type SessionSummary struct {
	Index      int            `json:"index"`
	ID         int            `json:"id"`
	Name       string         `json:"name"`
	Active     bool           `json:"active"`
	Closed     bool           `json:"closed"`
	Color      string         `json:"color"`
	Transform  scan.Transform `json:"transform"`
	Vertices   int            `json:"vertices"`
	Triangles  int            `json:"triangles"`
	RangeStats scan.GridStats `json:"range_stats"`
}

// ScansResponse lists every session in order.
type ScansResponse struct {
	Active     int              `json:"active"`
	Resolution scan.Resolution  `json:"resolution"`
	Sessions   []SessionSummary `json:"sessions"`
}

// MeshResponse is one session's geometry.
type MeshResponse struct {
	SessionID   int             `json:"session_id"`
	Name        string          `json:"name"`
	Color       string          `json:"color"`
	Closed      bool            `json:"closed"`
	Vertices    [][3]float64    `json:"vertices"`
	Triangles   []scan.Triangle `json:"triangles"`
	Bounds      r3.Box          `json:"bounds"`
	SurfaceArea float64         `json:"surface_area"`
}

// targetRequest selects a session by index; a missing index means the
// active session.
type targetRequest struct {
	Index *int `json:"index,omitempty"`
}

type offsetsRequest struct {
	Index       *int        `json:"index,omitempty"`
	Translation *[3]float64 `json:"translation,omitempty"`
	RotationX   *float64    `json:"rot_x,omitempty"`
	RotationZ   *float64    `json:"rot_z,omitempty"`
}

type nameRequest struct {
	Index *int   `json:"index,omitempty"`
	Name  string `json:"name"`
}

func colorHex(s *session.Session) string {
	c := s.Color()
	return fmt.Sprintf("#%02x%02x%02x%02x", c.R, c.G, c.B, c.A)
}

// summarise runs on the dispatcher.
func (s *Server) summarise(i int, sess *session.Session) SessionSummary {
	m := sess.Mesh()
	return SessionSummary{
		Index:      i,
		ID:         sess.ID(),
		Name:       sess.Name(),
		Active:     i == s.Registry.Active(),
		Closed:     sess.Closed(),
		Color:      colorHex(sess),
		Transform:  sess.Transform(),
		Vertices:   m.VertexCount(),
		Triangles:  m.TriangleCount(),
		RangeStats: sess.Grid().Stats(),
	}
}

func (s *Server) listScans(r *http.Request) (ScansResponse, error) {
	var resp ScansResponse
	err := s.do(r.Context(), func() error {
		sessions := s.Registry.Sessions()
		resp.Active = s.Registry.Active()
		resp.Resolution = s.Registry.Params().Resolution
		resp.Sessions = make([]SessionSummary, len(sessions))
		for i, sess := range sessions {
			resp.Sessions[i] = s.summarise(i, sess)
		}
		return nil
	})
	return resp, err
}

// target resolves req to a session and its index. Dispatcher only.
func (s *Server) target(index *int) (*session.Session, int, error) {
	if index == nil {
		i := s.Registry.Active()
		sess, err := s.Registry.Session(i)
		return sess, i, err
	}
	sess, err := s.Registry.Session(*index)
	return sess, *index, err
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		resp, err := s.listScans(r)
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSONOK(w, resp)
	case http.MethodPost:
		var out SessionSummary
		err := s.do(r.Context(), func() error {
			i, err := s.Registry.AddSession()
			if err != nil {
				return err
			}
			sess, err := s.Registry.Session(i)
			if err != nil {
				return err
			}
			out = s.summarise(i, sess)
			return nil
		})
		if err != nil {
			writeError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusCreated, out)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	var fn func() error
	switch r.Method {
	case http.MethodGet:
		fn = func() error { return nil }
	case http.MethodPut, http.MethodPost:
		var req targetRequest
		if err := httputil.DecodeJSON(w, r, &req); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if req.Index == nil {
			httputil.BadRequest(w, "index is required")
			return
		}
		fn = func() error { return s.Registry.SetActive(*req.Index) }
	case http.MethodDelete:
		fn = s.Registry.RemoveActive
	default:
		httputil.MethodNotAllowed(w)
		return
	}

	var out SessionSummary
	err := s.do(r.Context(), func() error {
		if err := fn(); err != nil {
			return err
		}
		sess, i, err := s.target(nil)
		if err != nil {
			return err
		}
		out = s.summarise(i, sess)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, out)
}

// mutate decodes a request into req, then runs apply on the target session
// and answers with its summary.
func (s *Server) mutate(w http.ResponseWriter, r *http.Request, req interface{}, index func() *int, apply func(*session.Session) error) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := httputil.DecodeJSON(w, r, req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var out SessionSummary
	err := s.do(r.Context(), func() error {
		sess, i, err := s.target(index())
		if err != nil {
			return err
		}
		if err := apply(sess); err != nil {
			return err
		}
		out = s.summarise(i, sess)
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handleOffsets(w http.ResponseWriter, r *http.Request) {
	var req offsetsRequest
	s.mutate(w, r, &req, func() *int { return req.Index }, func(sess *session.Session) error {
		t := sess.Transform()
		translation := t.Translation
		if req.Translation != nil {
			translation = scan.Point3{X: req.Translation[0], Y: req.Translation[1], Z: req.Translation[2]}
		}
		rotX, rotZ := t.RotationX, t.RotationZ
		if req.RotationX != nil {
			rotX = *req.RotationX
		}
		if req.RotationZ != nil {
			rotZ = *req.RotationZ
		}
		return sess.SetOffsets(translation, rotX, rotZ)
	})
}

func (s *Server) handleClosed(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	s.mutate(w, r, &req, func() *int { return req.Index }, func(sess *session.Session) error {
		sess.ToggleClosed()
		return nil
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req targetRequest
	s.mutate(w, r, &req, func() *int { return req.Index }, func(sess *session.Session) error {
		return sess.Reset(s.Registry.Params().NeutralRange)
	})
}

func (s *Server) handleName(w http.ResponseWriter, r *http.Request) {
	var req nameRequest
	s.mutate(w, r, &req, func() *int { return req.Index }, func(sess *session.Session) error {
		name := strings.TrimSpace(req.Name)
		if name == "" {
			return fmt.Errorf("%w: name must not be empty", errInvalidRequest)
		}
		sess.SetName(name)
		return nil
	})
}

// parseIndex reads the optional "index" query parameter.
func parseIndex(r *http.Request) (*int, error) {
	v := r.URL.Query().Get("index")
	if v == "" {
		return nil, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid index %q", errInvalidRequest, v)
	}
	return &i, nil
}

func (s *Server) handleMesh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	index, err := parseIndex(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var out MeshResponse
	err = s.do(r.Context(), func() error {
		sess, _, err := s.target(index)
		if err != nil {
			return err
		}
		m := sess.Mesh()
		out = MeshResponse{
			SessionID:   sess.ID(),
			Name:        sess.Name(),
			Color:       colorHex(sess),
			Closed:      sess.Closed(),
			Vertices:    make([][3]float64, len(m.Vertices)),
			Triangles:   append([]scan.Triangle(nil), m.Triangles...),
			Bounds:      m.Bounds(),
			SurfaceArea: m.SurfaceArea(),
		}
		for i, v := range m.Vertices {
			out.Vertices[i] = [3]float64{v.X, v.Y, v.Z}
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, out)
}

// views snapshots meshes for rendering: every session, or only the one at
// index.
func (s *Server) views(r *http.Request, index *int) ([]session.SessionMesh, error) {
	var views []session.SessionMesh
	err := s.do(r.Context(), func() error {
		if index == nil {
			views = s.Registry.Meshes()
			return nil
		}
		sess, err := s.Registry.Session(*index)
		if err != nil {
			return err
		}
		views = []session.SessionMesh{{SessionID: sess.ID(), Name: sess.Name(), Mesh: sess.MeshSnapshot()}}
		return nil
	})
	return views, err
}

type exportRequest struct {
	Index *int   `json:"index,omitempty"`
	Name  string `json:"name,omitempty"`
}

// ExportResponse reports where an export was written.
type ExportResponse struct {
	Path   string `json:"path"`
	Points int    `json:"points"`
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	var req exportRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var view session.SessionMesh
	err := s.do(r.Context(), func() error {
		sess, _, err := s.target(req.Index)
		if err != nil {
			return err
		}
		view = session.SessionMesh{SessionID: sess.ID(), Name: sess.Name(), Mesh: sess.MeshSnapshot()}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	path, n, err := render.ExportASC(s.ExportDir, req.Name, view)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, ExportResponse{Path: path, Points: n})
}
