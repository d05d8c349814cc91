package api

import (
	"context"
	"net/http"

	"github.com/banshee-data/scanmesh/internal/httputil"
	"github.com/banshee-data/scanmesh/internal/scan/device"
	"github.com/banshee-data/scanmesh/internal/serialmux"
)

type commandRequest struct {
	Name string `json:"name"`
	Args []int  `json:"args,omitempty"`
}

type rawRequest struct {
	Line string `json:"line"`
}

type serialReloadRequest struct {
	Path    string                `json:"path"`
	Options serialmux.PortOptions `json:"options"`
}

func (s *Server) handleDeviceCommands(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, device.Commands())
}

func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.Device == nil {
		writeError(w, errNoDevice)
		return
	}
	var req commandRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	line, err := s.Device.Send(req.Name, req.Args...)
	if err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"sent": line})
}

func (s *Server) handleDeviceRaw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.Device == nil {
		writeError(w, errNoDevice)
		return
	}
	var req rawRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.Device.Raw(req.Line); err != nil {
		writeError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"sent": req.Line})
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.Device == nil {
		writeError(w, errNoDevice)
		return
	}
	httputil.WriteJSONOK(w, s.Device.Status())
}

// listPorts is swapped in tests; the real call enumerates OS devices.
var listPorts = serialmux.ListPorts

func (s *Server) handleSerialPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ports, err := listPorts()
	if err != nil {
		writeError(w, err)
		return
	}
	if ports == nil {
		ports = []string{}
	}
	httputil.WriteJSONOK(w, map[string][]string{"ports": ports})
}

func (s *Server) handleSerialConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.Serial == nil {
		writeError(w, errNoSerial)
		return
	}
	httputil.WriteJSONOK(w, s.Serial.Config())
}

func (s *Server) handleSerialReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if s.Serial == nil {
		writeError(w, errNoSerial)
		return
	}
	var req serialReloadRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Path == "" {
		httputil.BadRequest(w, "path is required")
		return
	}
	res, err := s.Serial.Reload(context.WithoutCancel(r.Context()), req.Path, req.Options)
	if err != nil {
		httputil.WriteJSON(w, http.StatusBadGateway, serialmux.ReloadResult{Success: false, Message: err.Error()})
		return
	}
	httputil.WriteJSONOK(w, res)
}
