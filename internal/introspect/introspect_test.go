package introspect

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/websoft9/tunnelsupervisor/internal/config"
	"github.com/websoft9/tunnelsupervisor/internal/supervisor"
)

type fakeSource struct {
	status    *supervisor.Status
	snapshot  map[string]*config.Descriptor
	managerID string
}

func (f *fakeSource) Snapshot() map[string]*config.Descriptor { return f.snapshot }
func (f *fakeSource) Status() *supervisor.Status               { return f.status }
func (f *fakeSource) TunnelManagerID() string                  { return f.managerID }

func newTestServer(t *testing.T, tunnelDir, logPath string) (*Server, *fakeSource) {
	t.Helper()
	status := supervisor.NewStatus()
	status.StartTunnel("db")

	src := &fakeSource{
		status:    status,
		managerID: "mgr-1",
		snapshot: map[string]*config.Descriptor{
			// ServerHost/ServerPort (the SSH rendezvous server) are
			// deliberately left unreachable-looking too, but /status must
			// report on LocalHost/LocalPort (the local backend service) —
			// that's the field CheckConnection is actually supposed to probe.
			"db": {Name: "db", ServerHost: "127.0.0.1", ServerPort: 1, LocalHost: "127.0.0.1", LocalPort: findClosedPort(t)},
		},
	}
	return New(src, tunnelDir, logPath, 0, true), src
}

func findClosedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestHandlePing(t *testing.T) {
	s, _ := newTestServer(t, t.TempDir(), filepath.Join(t.TempDir(), "app.log"))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
	if body["tunnel_manager_id"] != "mgr-1" {
		t.Errorf("tunnel_manager_id = %v, want mgr-1", body["tunnel_manager_id"])
	}
}

func TestHandleStatus(t *testing.T) {
	s, _ := newTestServer(t, t.TempDir(), filepath.Join(t.TempDir(), "app.log"))
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}

	statusData, ok := body["status_data"].(map[string]any)
	if !ok {
		t.Fatalf("status_data missing or wrong type: %v", body["status_data"])
	}
	dbEntry, ok := statusData["db"].(map[string]any)
	if !ok {
		t.Fatalf("status_data[db] missing: %v", statusData)
	}
	if dbEntry["started_times"].(float64) != 1 {
		t.Errorf("started_times = %v, want 1", dbEntry["started_times"])
	}

	descriptors, ok := body["descriptors"].(map[string]any)
	if !ok {
		t.Fatalf("descriptors missing: %v", body)
	}
	dbDesc, ok := descriptors["db"].(map[string]any)
	if !ok {
		t.Fatalf("descriptors[db] missing: %v", descriptors)
	}
	if dbDesc["status"] != "unreachable" {
		t.Errorf("descriptors[db].status = %v, want unreachable", dbDesc["status"])
	}

	// /status must report on the local backend service (remote_host/
	// remote_port in the descriptor's own INI keys), not the SSH
	// rendezvous server — this is what makes it able to surface "local
	// service down" independently of the SSH transport's own health.
	localPort := s.source.Snapshot()["db"].LocalPort
	if dbDesc["remote_port"].(float64) != float64(localPort) {
		t.Errorf("descriptors[db].remote_port = %v, want %d (LocalPort, not ServerPort)", dbDesc["remote_port"], localPort)
	}
}

func TestHandleConfigs_ProducesValidZip(t *testing.T) {
	tunnelDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tunnelDir, "db.ini"), []byte("[connector]\n"), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	s, _ := newTestServer(t, tunnelDir, filepath.Join(t.TempDir(), "app.log"))
	req := httptest.NewRequest(http.MethodGet, "/configs", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Content-Type"); got != "application/zip" {
		t.Errorf("Content-Type = %q, want application/zip", got)
	}

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("not a valid zip: %v", err)
	}
	found := false
	for _, f := range zr.File {
		if filepath.Base(f.Name) == "db.ini" {
			found = true
		}
	}
	if !found {
		t.Error("db.ini missing from configs.zip")
	}
}

func TestHandleLogs_FiltersByLogExtension(t *testing.T) {
	logDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(logDir, "app.log"), []byte("log line\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	if err := os.WriteFile(filepath.Join(logDir, "notes.txt"), []byte("irrelevant\n"), 0o644); err != nil {
		t.Fatalf("write notes: %v", err)
	}

	s, _ := newTestServer(t, t.TempDir(), filepath.Join(logDir, "app.log"))
	req := httptest.NewRequest(http.MethodGet, "/logs", nil)
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)

	zr, err := zip.NewReader(bytes.NewReader(w.Body.Bytes()), int64(w.Body.Len()))
	if err != nil {
		t.Fatalf("not a valid zip: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, filepath.Base(f.Name))
	}
	if len(names) != 1 || names[0] != "app.log" {
		t.Errorf("zip entries = %v, want only app.log", names)
	}
}
