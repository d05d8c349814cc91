package serialmux

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"tailscale.com/tsweb"
)

//go:embed templates/*
var consoleFS embed.FS

var consoleTemplate = template.Must(template.ParseFS(consoleFS, "templates/console.html.tmpl"))

// attachConsoleRoutes mounts a raw device console on the tsweb debug page.
// scanner-tail streams incoming lines as server-sent events, and
// scanner-send writes one command.
func attachConsoleRoutes(mux *http.ServeMux, s SerialMuxInterface) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("scanner-console", "raw scanner console", serveConsolePage)
	debug.HandleSilentFunc("scanner-console.js", serveConsoleScript)
	debug.HandleSilentFunc("scanner-send", consoleSend(s))
	debug.HandleSilentFunc("scanner-tail", consoleTail(s))
}

func serveConsolePage(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := consoleTemplate.Execute(w, nil); err != nil {
		logf("console template: %v", err)
	}
}

func serveConsoleScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "application/javascript")
	http.ServeFileFS(w, r, consoleFS, "templates/console.js")
}

func consoleSend(s SerialMuxInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		cmd := strings.TrimSpace(r.FormValue("command"))
		if cmd == "" {
			http.Error(w, "Missing command", http.StatusBadRequest)
			return
		}
		if err := s.SendCommand(cmd); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write command: %v", err), http.StatusBadGateway)
			return
		}
		_, _ = fmt.Fprintf(w, "Sent %q\n", cmd)
	}
}

func consoleTail(s SerialMuxInterface) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}
		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Accel-Buffering", "no")

		id, lines := s.Subscribe()
		defer s.Unsubscribe(id)

		write := func(format string, args ...any) bool {
			if _, err := fmt.Fprintf(w, format, args...); err != nil {
				return false
			}
			flusher.Flush()
			return true
		}
		if !write(": ping\n\n") {
			return
		}
		for {
			select {
			case <-r.Context().Done():
				return
			case line, open := <-lines:
				if !open || !write("data: %s\n\n", line) {
					return
				}
			}
		}
	}
}
