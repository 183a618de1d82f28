// Package procworker isolates each Tunnel Worker in its own OS process by
// re-executing the supervisor binary with a hidden subcommand, mirroring
// the original pytun's one-process-per-tunnel design (spec.md §4.6, §9).
//
// Process isolation means one tunnel's panic, goroutine leak, or fd
// exhaustion can never take down another tunnel or the Supervisor itself —
// the Supervisor only ever observes a child's exit status.
package procworker

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// WorkerModeEnv, when set in a child's environment, tells main() to run the
// hidden worker entrypoint instead of the Supervisor's normal CLI.
const WorkerModeEnv = "TUNNELSUPERVISOR_WORKER_DESCRIPTOR"

// killGrace bounds how long Stop waits for a child to exit after SIGTERM
// before escalating to SIGKILL.
const killGrace = 5 * time.Second

// Handle represents one running Worker process.
type Handle struct {
	TunnelName     string
	DescriptorPath string

	// InstanceID identifies one spawn attempt, distinct from any OS PID
	// (which gets reused across restarts) — every log line the Supervisor
	// writes about this child carries it, so a restarted tunnel's two
	// lifetimes are never confused with each other in the log stream.
	InstanceID string

	cmd *exec.Cmd
}

// Spawn re-execs the current binary with the worker subcommand, passing
// descriptorPath via WorkerModeEnv rather than argv so it survives ps(1)
// redaction concerns the same way the original's argv-scrubbing did.
func Spawn(binaryPath, tunnelName, descriptorPath string, extraEnv []string) (*Handle, error) {
	cmd := exec.Command(binaryPath, "__tunnel-worker__")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = nil
	cmd.Env = append(append(os.Environ(), extraEnv...), WorkerModeEnv+"="+descriptorPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("procworker: spawn %s: %w", tunnelName, err)
	}

	return &Handle{TunnelName: tunnelName, DescriptorPath: descriptorPath, InstanceID: uuid.NewString(), cmd: cmd}, nil
}

// PID returns the child's process ID.
func (h *Handle) PID() int {
	if h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Wait blocks until the child exits and reports its exit code. A negative
// code means the child was killed by a signal rather than exiting normally.
func (h *Handle) Wait() (exitCode int, err error) {
	err = h.cmd.Wait()
	if h.cmd.ProcessState != nil {
		return h.cmd.ProcessState.ExitCode(), err
	}
	return -1, err
}

// Stop asks the child to exit gracefully (SIGTERM to its process group, so
// any grandchildren it spawned exit too), escalating to SIGKILL after
// killGrace if exited has not fired by then. exited must be a channel the
// caller closes (or sends on) once its own Wait() call observes the child
// has exited — Stop never calls Wait itself, since exec.Cmd.Wait may only
// be called once and the Supervisor's monitor goroutine already owns that
// call.
func (h *Handle) Stop(ctx context.Context, exited <-chan struct{}) {
	if h.cmd.Process == nil {
		return
	}
	pgid := h.PID()
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-exited:
	case <-time.After(killGrace):
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	case <-ctx.Done():
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
	}
}

// DescriptorFromEnv reports the descriptor path passed to a worker process
// and whether this process was invoked as a worker at all.
func DescriptorFromEnv() (path string, isWorker bool) {
	v, ok := os.LookupEnv(WorkerModeEnv)
	return v, ok
}
