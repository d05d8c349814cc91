package api

import (
	"net/http"

	"github.com/banshee-data/scanmesh/internal/db"
	"github.com/banshee-data/scanmesh/internal/httputil"
	"github.com/banshee-data/scanmesh/internal/scan/session"
)

type saveRequest struct {
	Name string `json:"name,omitempty"`
}

type loadRequest struct {
	// ID picks a saved set; empty loads the most recent one.
	ID string `json:"id,omitempty"`
}

// LoadResponse reports what a load put in the registry.
type LoadResponse struct {
	Loaded   bool   `json:"loaded"`
	Sessions int    `json:"sessions"`
	NextID   int    `json:"next_id"`
	Message  string `json:"message,omitempty"`
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.Store == nil {
		writeError(w, errNoStore)
		return
	}
	var req saveRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var recs []session.Record
	if err := s.do(r.Context(), func() error {
		recs = s.Registry.Records()
		return nil
	}); err != nil {
		writeError(w, err)
		return
	}
	set, err := s.Store.SaveSet(r.Context(), req.Name, recs)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, set)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.Store == nil {
		writeError(w, errNoStore)
		return
	}
	var req loadRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	var (
		recs []session.Record
		err  error
	)
	if req.ID == "" {
		var found bool
		recs, found, err = s.Store.LoadAll(r.Context())
		if err == nil && !found {
			httputil.WriteJSONOK(w, LoadResponse{Message: "nothing saved yet"})
			return
		}
	} else {
		recs, err = s.Store.LoadSet(r.Context(), req.ID)
	}
	if err != nil {
		writeError(w, err)
		return
	}

	var resp LoadResponse
	err = s.do(r.Context(), func() error {
		if err := s.Registry.LoadRecords(recs); err != nil {
			return err
		}
		resp = LoadResponse{
			Loaded:   true,
			Sessions: s.Registry.Len(),
			NextID:   s.Registry.Allocator().Peek(),
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleSets(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		writeError(w, errNoStore)
		return
	}
	switch r.Method {
	case http.MethodGet:
		sets, err := s.Store.ListScanSets(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if sets == nil {
			sets = []db.ScanSet{}
		}
		httputil.WriteJSONOK(w, sets)
	case http.MethodDelete:
		id := r.URL.Query().Get("id")
		if id == "" {
			httputil.BadRequest(w, "id is required")
			return
		}
		if err := s.Store.DeleteScanSet(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		httputil.MethodNotAllowed(w)
	}
}
