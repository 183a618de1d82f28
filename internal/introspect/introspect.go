// Package introspect implements the introspection HTTP endpoint (C9):
// GET /, /status, /configs, /logs — all read-only, all always replying
// HTTP 200 even on internal error (spec.md §6, §9 Q2).
package introspect

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/websoft9/tunnelsupervisor/internal/config"
	"github.com/websoft9/tunnelsupervisor/internal/supervisor"
	"github.com/websoft9/tunnelsupervisor/internal/tunnel"
)

// Version is reported by GET /. Nothing in this repository sets it, so it
// reads "dev" unless overridden at link time with -ldflags -X. Left as a
// plain var, not a build-info read, to mirror the original's version_string
// parameter threaded in from the entrypoint.
var Version = "dev"

// SourceProvider is the subset of Supervisor the endpoint depends on.
type SourceProvider interface {
	Snapshot() map[string]*config.Descriptor
	Status() *supervisor.Status
	TunnelManagerID() string
}

// Server is the introspection HTTP endpoint.
type Server struct {
	httpServer *http.Server
	tunnelDir  string
	logPath    string
	source     SourceProvider
}

// New builds the introspection endpoint's router. tunnelDir and logPath
// are what /configs and /logs zip up; localhostOnly controls the bind
// address per the top-level config's inspection_localhost_only key.
func New(source SourceProvider, tunnelDir string, logPath string, port int, localhostOnly bool) *Server {
	s := &Server{tunnelDir: tunnelDir, logPath: logPath, source: source}

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(30 * time.Second))

	r.Get("/", s.handlePing)
	r.Get("/status", s.handleStatus)
	r.Get("/configs", s.handleConfigs)
	r.Get("/logs", s.handleLogs)

	host := "0.0.0.0"
	if localhostOnly {
		host = "127.0.0.1"
	}

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// ListenAndServe starts serving and blocks until the server stops or fails.
// The Supervisor runs this on its own goroutine and restarts it per
// spec.md §4.6's "if the introspection endpoint has died, restart it".
func (s *Server) ListenAndServe() error {
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, payload map[string]any) {
	payload["tunnel_manager_id"] = s.source.TunnelManagerID()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK) // always 200, even for the error payloads below (spec.md §9 Q2)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[introspect] write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	log.Printf("[introspect] request error: %v", err)
	s.writeJSON(w, map[string]any{"error": err.Error()})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{"status": "ok", "version": Version})
}

type descriptorStatus struct {
	RemoteHost string `json:"remote_host"`
	RemotePort int    `json:"remote_port"`
	Status     string `json:"status"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Status().ToDict()

	descriptors := make(map[string]descriptorStatus)
	for name, d := range s.source.Snapshot() {
		descriptors[name] = descriptorStatus{
			RemoteHost: d.LocalHost,
			RemotePort: d.LocalPort,
			Status:     tunnel.CheckConnection(d.LocalHost, d.LocalPort),
		}
	}

	s.writeJSON(w, map[string]any{
		"created_at":  snap.CreatedAt,
		"mac_address": snap.MACAddress,
		"status_data": snap.StatusData,
		"descriptors": descriptors,
	})
}

func (s *Server) handleConfigs(w http.ResponseWriter, r *http.Request) {
	s.serveZip(w, "configs.zip", []string{s.tunnelDir}, nil)
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	filter := func(name string) bool { return strings.Contains(name, ".log") }
	s.serveZip(w, "logs.zip", []string{filepath.Dir(s.logPath)}, filter)
}

// serveZip streams a zip archive of every file under dirs (optionally
// filtered by name) directly to w, with no temp file — spec.md doesn't
// require on-disk staging, and streaming avoids the cleanup question
// entirely.
func (s *Server) serveZip(w http.ResponseWriter, name string, dirs []string, filter func(string) bool) {
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	w.WriteHeader(http.StatusOK)

	zw := zip.NewWriter(w)
	defer zw.Close()

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil || info.IsDir() {
				return nil
			}
			if filter != nil && !filter(info.Name()) {
				return nil
			}
			f, err := zw.Create(path)
			if err != nil {
				return nil
			}
			src, err := os.Open(path)
			if err != nil {
				return nil
			}
			defer src.Close()
			_, _ = io.Copy(f, src)
			return nil
		})
	}
}
