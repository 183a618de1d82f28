package tunnel

import (
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// probeSessionTimeout bounds the third liveness check (spec.md §4.2, §5).
const probeSessionTimeout = 30 * time.Second

// prober is the Liveness Prober (C2). At each interval it performs three
// checks against the SSH session: a protocol-level keepalive request, a
// transport-active check, and opening+closing a fresh session channel. Any
// failure calls onFailed once and stops re-arming.
//
// A single transport-level liveness signal is not trusted on its own —
// TCP, and even the SSH transport, can remain "active" long after the peer
// is actually unreachable. Opening a new session is the strongest signal
// available short of forwarding real traffic.
type prober struct {
	client   *ssh.Client
	interval time.Duration
	onFailed func()

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool

	closed   *sync.Once
	isClosed *bool
	closedMu *sync.RWMutex
}

// newProber returns a prober for client. interval must be positive.
// closedFlag reports whether the transport has already been observed dead
// by a background watcher (see Worker.watchTransport) — this implements
// the prober's second check ("confirm the transport reports itself
// active") without x/crypto/ssh exposing a direct IsActive method.
func newProber(client *ssh.Client, interval time.Duration, onFailed func(), closedFlag *bool, closedMu *sync.RWMutex) *prober {
	return &prober{
		client:   client,
		interval: interval,
		onFailed: onFailed,
		isClosed: closedFlag,
		closedMu: closedMu,
	}
}

// Start arms the first probe after interval.
func (p *prober) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.timer = time.AfterFunc(p.interval, p.fire)
}

// Stop cancels any pending probe. A probe already running completes but its
// result is discarded (it will try to re-arm onto a stopped prober, a no-op).
func (p *prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
	}
}

func (p *prober) fire() {
	if err := p.check(); err != nil {
		p.mu.Lock()
		stopped := p.stopped
		p.mu.Unlock()
		if !stopped {
			p.onFailed()
		}
		return
	}
	p.rearm()
}

func (p *prober) rearm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.timer = time.AfterFunc(p.interval, p.fire)
}

// check runs the three-step liveness check described in spec.md §4.2.
func (p *prober) check() error {
	// (i) protocol-level ignore-equivalent message.
	if _, _, err := p.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		return err
	}

	// (ii) transport reports itself active.
	p.closedMu.RLock()
	closed := *p.isClosed
	p.closedMu.RUnlock()
	if closed {
		return errTransportClosed
	}

	// (iii) open a session channel with a bounded timeout and close it.
	type result struct {
		sess *ssh.Session
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		sess, err := p.client.NewSession()
		ch <- result{sess, err}
	}()
	select {
	case r := <-ch:
		if r.err != nil {
			return r.err
		}
		return r.sess.Close()
	case <-time.After(probeSessionTimeout):
		return errProbeSessionTimeout
	}
}
