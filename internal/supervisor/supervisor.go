package supervisor

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/websoft9/tunnelsupervisor/internal/alerts"
	"github.com/websoft9/tunnelsupervisor/internal/config"
	"github.com/websoft9/tunnelsupervisor/internal/procworker"
)

// pollSchedule is the Supervisor's main-loop cadence (spec.md §4.6): fixed,
// unbounded restart, no backoff — the rendezvous server being down for
// hours is expected, and alerts are the feedback channel, not restart
// throttling.
const pollSchedule = "@every 30s"

const downAlertMessage = "Connector Down!"

// entry tracks one live (or just-exited) Worker process.
type entry struct {
	descriptor *config.Descriptor
	handle     *procworker.Handle
	exited     chan struct{}
	exitCode   int
	exitErr    error
}

// Supervisor is the Supervisor (C6): it spawns one OS process per
// descriptor, restarts any that exit, and keeps the Status Registry and
// Alert Fanout informed.
type Supervisor struct {
	binaryPath      string
	configPath      string
	tunnelManagerID string

	status *Status
	fanout *alerts.Fanout

	mu      sync.Mutex
	entries map[string]*entry // keyed by descriptor path

	cron *cron.Cron
}

// New constructs a Supervisor. binaryPath is re-exec'd (with the hidden
// worker subcommand) once per descriptor — see internal/procworker.
// configPath is passed to each Worker process via config.EnvTopLevelPath so
// it can build its own AlertSenders from the same top-level config.
func New(binaryPath, configPath, tunnelManagerID string, status *Status, fanout *alerts.Fanout) *Supervisor {
	return &Supervisor{
		binaryPath:      binaryPath,
		configPath:      configPath,
		tunnelManagerID: tunnelManagerID,
		status:          status,
		fanout:          fanout,
		entries:         make(map[string]*entry),
	}
}

// Start runs the Supervisor's startup sequence (spec.md §4.6 steps 3-4):
// constructs and starts one Worker per descriptor, recording a start event
// in the Status Registry for each. If any spawn fails, every
// already-started Worker is terminated and the first error is returned.
func (s *Supervisor) Start(ctx context.Context, descriptors []*config.Descriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range descriptors {
		if err := s.spawnLocked(ctx, d); err != nil {
			s.terminateAllLocked(ctx)
			return fmt.Errorf("supervisor: start %s: %w", d.Name, err)
		}
	}

	s.cron = cron.New()
	if _, err := s.cron.AddFunc(pollSchedule, func() { s.poll(ctx) }); err != nil {
		s.terminateAllLocked(ctx)
		return fmt.Errorf("supervisor: schedule poll loop: %w", err)
	}
	s.cron.Start()

	return nil
}

// spawnLocked spawns a Worker process for d and records its start event.
// Caller must hold s.mu.
func (s *Supervisor) spawnLocked(ctx context.Context, d *config.Descriptor) error {
	h, err := procworker.Spawn(s.binaryPath, d.Name, d.Path, []string{config.EnvTopLevelPath + "=" + s.configPath})
	if err != nil {
		return err
	}
	e := &entry{descriptor: d, handle: h, exited: make(chan struct{})}
	go s.waitFor(e)

	s.entries[d.Path] = e
	s.status.StartTunnel(d.Name)
	log.Printf("[supervisor] started tunnel %s (pid %d, instance %s)", d.Name, h.PID(), h.InstanceID)
	return nil
}

// waitFor blocks on the child's exit and records its outcome. It runs for
// the lifetime of the process; poll observes completion via e.exited.
func (s *Supervisor) waitFor(e *entry) {
	code, err := e.handle.Wait()
	e.exitCode = code
	e.exitErr = err
	close(e.exited)
}

// poll implements the Supervisor's main loop (spec.md §4.6): any entry
// whose process has exited is removed and restarted from the same
// descriptor, with one alert emitted through the Fanout per restart.
func (s *Supervisor) poll(ctx context.Context) {
	s.mu.Lock()
	var toRestart []*config.Descriptor
	for path, e := range s.entries {
		select {
		case <-e.exited:
			log.Printf("[supervisor] tunnel %s is down (exit=%d, err=%v)", e.descriptor.Name, e.exitCode, e.exitErr)
			toRestart = append(toRestart, e.descriptor)
			delete(s.entries, path)
		default:
		}
	}
	s.mu.Unlock()

	for _, d := range toRestart {
		if s.fanout != nil {
			if err := s.fanout.SendAlert(d.Name, downAlertMessage, false); err != nil {
				log.Printf("[supervisor] alert fanout error for %s: %v", d.Name, err)
			}
		}

		s.mu.Lock()
		if err := s.spawnLocked(ctx, d); err != nil {
			log.Printf("[supervisor] failed to restart tunnel %s: %v", d.Name, err)
		} else {
			log.Printf("[supervisor] restarted tunnel %s", d.Name)
		}
		s.mu.Unlock()
	}
}

// Shutdown implements spec.md §4.6 step 6: stop the poll loop, shut down
// the Fanout, terminate every Worker, and join them, all before returning.
func (s *Supervisor) Shutdown(ctx context.Context) {
	if s.cron != nil {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}

	s.mu.Lock()
	s.terminateAllLocked(ctx)
	s.mu.Unlock()

	if s.fanout != nil {
		s.fanout.Shutdown()
	}
}

// terminateAllLocked sends every live Worker SIGTERM (escalating to
// SIGKILL) and waits for each to exit. Caller must hold s.mu.
func (s *Supervisor) terminateAllLocked(ctx context.Context) {
	var wg sync.WaitGroup
	for path, e := range s.entries {
		wg.Add(1)
		go func(e *entry) {
			defer wg.Done()
			e.handle.Stop(ctx, e.exited)
		}(e)
		delete(s.entries, path)
	}
	wg.Wait()
}

// Snapshot returns the current {name: descriptor} table, used by the
// introspection endpoint's /status handler.
func (s *Supervisor) Snapshot() map[string]*config.Descriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*config.Descriptor, len(s.entries))
	for _, e := range s.entries {
		out[e.descriptor.Name] = e.descriptor
	}
	return out
}

// Status returns the Supervisor's Status Registry.
func (s *Supervisor) Status() *Status { return s.status }

// TunnelManagerID returns the configured tunnel_manager_id.
func (s *Supervisor) TunnelManagerID() string { return s.tunnelManagerID }
