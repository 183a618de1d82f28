// Package tunnel implements the per-tunnel Worker state machine (C3), its
// Byte Pump (C1) and Liveness Prober (C2), and the host-key policy the
// Worker's SSH connect path enforces.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/websoft9/tunnelsupervisor/internal/alerts"
	"github.com/websoft9/tunnelsupervisor/internal/config"
)

// State is one node of the Worker state machine described in spec.md §4.3.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateRequestingPortForward
	StateServing
	StateDraining
	StateExited
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateConnecting:
		return "connecting"
	case StateRequestingPortForward:
		return "requesting-port-forward"
	case StateServing:
		return "serving"
	case StateDraining:
		return "draining"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}

// ExitReason classifies why Run returned, matching spec.md §4.3's Exited
// sub-states.
type ExitReason string

const (
	ExitRequested    ExitReason = "requested"    // signal-driven / context cancellation
	ExitConnectError ExitReason = "connect-error"
	ExitBindError    ExitReason = "bind-error"
	ExitFailed       ExitReason = "failed" // liveness probe tripped
	ExitError        ExitReason = "error"  // accept-loop or other forwarding error
)

// sshConnectTimeout bounds the dial + handshake (spec.md §4.3, §5).
const sshConnectTimeout = 10 * time.Second

// acceptPollInterval bounds each accept-loop iteration so the failed flag
// is re-checked even with no inbound traffic (spec.md §4.3).
const acceptPollInterval = 10 * time.Second

// Worker owns one SSH session, its remote port-forward, and every Byte
// Pump spawned from channels accepted on it. A Worker's Run is meant to be
// the entire body of a process dedicated to one descriptor — see
// internal/procworker for how the Supervisor isolates each Worker in its
// own OS process.
type Worker struct {
	Descriptor   *config.Descriptor
	AlertSenders []alerts.Sender

	mu    sync.Mutex
	state State

	failedMu sync.Mutex
	failed   bool

	transportClosed   bool
	transportClosedMu sync.RWMutex

	pumps sync.WaitGroup
}

// NewWorker constructs a Worker for descriptor d. senders are invoked
// directly (not through an Alert Fanout) by the Byte Pump on per-connection
// failures, per spec.md §4.1.
func NewWorker(d *config.Descriptor, senders []alerts.Sender) *Worker {
	return &Worker{Descriptor: d, AlertSenders: senders, state: StateInit}
}

// State returns the Worker's current state. Safe for concurrent use.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Worker) markFailed() {
	w.failedMu.Lock()
	w.failed = true
	w.failedMu.Unlock()
}

func (w *Worker) isFailed() bool {
	w.failedMu.Lock()
	defer w.failedMu.Unlock()
	return w.failed
}

// Run drives the Worker through its entire state machine and blocks until
// the tunnel exits — either because ctx was cancelled (graceful shutdown),
// the liveness probe failed, or an unrecoverable error occurred. It never
// panics; every internal failure is converted to an ExitReason + error.
func (w *Worker) Run(ctx context.Context) (ExitReason, error) {
	w.setState(StateConnecting)
	client, err := w.connect(ctx)
	if err != nil {
		w.setState(StateExited)
		return ExitConnectError, fmt.Errorf("%w: %v", ErrConnectFailed, err)
	}
	defer client.Close()

	// Watches client.Wait() so the prober's second check ("transport
	// reports itself active") has something concrete to consult — x/crypto/ssh
	// exposes no public IsActive method.
	go w.watchTransport(client)

	w.setState(StateRequestingPortForward)
	bindAddr := fmt.Sprintf("0.0.0.0:%d", w.Descriptor.ServerPortToForward)
	ln, err := client.Listen("tcp", bindAddr)
	if err != nil {
		w.setState(StateExited)
		return ExitBindError, fmt.Errorf("%w: %v", ErrBindRejected, err)
	}
	defer ln.Close()

	w.setState(StateServing)
	log.Printf("[worker] %s: forwarding remote port %d to %s:%d",
		w.Descriptor.Name, w.Descriptor.ServerPortToForward, w.Descriptor.LocalHost, w.Descriptor.LocalPort)

	interval := w.Descriptor.KeepAliveInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	p := newProber(client, interval, w.markFailed, &w.transportClosed, &w.transportClosedMu)
	p.Start()
	defer p.Stop()

	reason, runErr := w.acceptLoop(ctx, ln)

	w.setState(StateDraining)
	p.Stop()
	_ = ln.Close()
	_ = client.Close()
	w.pumps.Wait() // join every in-flight Byte Pump before declaring Exited

	w.setState(StateExited)
	return reason, runErr
}

// acceptLoop blocks up to acceptPollInterval for the next inbound channel;
// on timeout it re-checks the failed flag and loops, matching spec.md
// §4.3's accept-loop contract.
func (w *Worker) acceptLoop(ctx context.Context, ln net.Listener) (ExitReason, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	acceptCh := make(chan acceptResult)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				acceptCh <- acceptResult{nil, err}
				return
			}
			select {
			case acceptCh <- acceptResult{conn, nil}:
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ExitRequested, nil

		case res := <-acceptCh:
			if res.err != nil {
				if w.isFailed() {
					return ExitFailed, fmt.Errorf("accept after probe failure: %w", res.err)
				}
				return ExitError, res.err
			}
			w.pumps.Add(1)
			go func() {
				defer w.pumps.Done()
				pumpConn(res.conn, w.Descriptor.LocalHost, w.Descriptor.LocalPort, w.Descriptor.Name, w.AlertSenders)
			}()

		case <-time.After(acceptPollInterval):
			if w.isFailed() {
				return ExitFailed, errors.New("liveness probe reported tunnel failed")
			}
		}
	}
}

// connect dials the rendezvous server with the descriptor's SSH policy.
func (w *Worker) connect(ctx context.Context) (*ssh.Client, error) {
	return DialDescriptor(ctx, w.Descriptor)
}

// DialDescriptor dials the rendezvous server named by d with its SSH
// policy: explicit key only (no agent, no key discovery), reject-on-unknown
// host key, and a bounded handshake timeout. Exported so the self-test CLI
// subcommand (test_tunnels) can exercise the exact same connect path the
// Worker uses without standing up a whole Worker.
func DialDescriptor(ctx context.Context, d *config.Descriptor) (*ssh.Client, error) {
	keyBytes, err := os.ReadFile(d.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read client key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse client key: %w", err)
	}

	hostKeyCallback, err := buildHostKeyCallback(d.ServerKeyPath)
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            d.Username,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         sshConnectTimeout,
	}

	addr := fmt.Sprintf("%s:%d", d.ServerHost, d.ServerPort)

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	ch := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", addr, clientCfg)
		ch <- dialResult{client, err}
	}()

	select {
	case r := <-ch:
		return r.client, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(sshConnectTimeout + time.Second):
		return nil, fmt.Errorf("dial %s: timed out", addr)
	}
}

// watchTransport blocks in client.Wait() and records when the transport is
// observed to have gone away, so the prober's transport-active check has a
// concrete signal to read.
func (w *Worker) watchTransport(client *ssh.Client) {
	_ = client.Wait()
	w.transportClosedMu.Lock()
	w.transportClosed = true
	w.transportClosedMu.Unlock()
}
