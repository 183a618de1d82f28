package procworker

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestDescriptorFromEnv_NotAWorker(t *testing.T) {
	os.Unsetenv(WorkerModeEnv)
	_, isWorker := DescriptorFromEnv()
	if isWorker {
		t.Error("DescriptorFromEnv reported isWorker=true with the env var unset")
	}
}

func TestDescriptorFromEnv_Worker(t *testing.T) {
	t.Setenv(WorkerModeEnv, "/etc/tunnelsupervisor/tunnels/db.ini")
	path, isWorker := DescriptorFromEnv()
	if !isWorker {
		t.Fatal("DescriptorFromEnv reported isWorker=false with the env var set")
	}
	if path != "/etc/tunnelsupervisor/tunnels/db.ini" {
		t.Errorf("path = %q, want %q", path, "/etc/tunnelsupervisor/tunnels/db.ini")
	}
}

func TestSpawnAndWait_ExitCodeSurfaces(t *testing.T) {
	h, err := Spawn("/bin/sh", "t1", "/dev/null", []string{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	// Spawn always passes the "__tunnel-worker__" argument, which /bin/sh
	// tries to open as a script file; it cannot, and exits non-zero at once.
	// That failure must surface through Wait as both an error and the code.
	code, err := h.Wait()
	if err == nil {
		t.Fatal("Wait: got nil error, want the child's non-zero exit")
	}
	if code == 0 {
		t.Errorf("exit code = %d, want non-zero", code)
	}
	if h.PID() == 0 {
		t.Error("PID() = 0 after a successful spawn")
	}
}

func TestStop_ReturnsOnceExitedFires(t *testing.T) {
	h, err := Spawn("/bin/sh", "t1", "/dev/null", []string{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	exited := make(chan struct{})
	go func() {
		_, _ = h.Wait()
		close(exited)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		h.Stop(ctx, exited)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
}
