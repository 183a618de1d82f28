package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSender struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingSender) SendAlert(tunnelName, message string) error {
	r.mu.Lock()
	r.calls = append(r.calls, tunnelName)
	r.mu.Unlock()
	return r.err
}

func (r *recordingSender) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func TestFanout_DeliversToAllSenders(t *testing.T) {
	s1 := &recordingSender{}
	s2 := &recordingSender{}
	f := NewFanout([]Sender{s1, s2})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Shutdown()

	if err := f.SendAlert("tunnel-1", "down", true); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}
	if s1.callCount() != 1 || s2.callCount() != 1 {
		t.Errorf("expected both senders invoked once, got %d and %d", s1.callCount(), s2.callCount())
	}
}

func TestFanout_FailLoudlyReturnsError(t *testing.T) {
	boom := errors.New("boom")
	s1 := &recordingSender{err: boom}
	f := NewFanout([]Sender{s1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Shutdown()

	if err := f.SendAlert("tunnel-1", "down", true); !errors.Is(err, boom) {
		t.Errorf("SendAlert error = %v, want %v", err, boom)
	}
}

func TestFanout_RateLimitedErrorIsSwallowed(t *testing.T) {
	s1 := &recordingSender{err: ErrRateLimited}
	f := NewFanout([]Sender{s1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Shutdown()

	if err := f.SendAlert("tunnel-1", "down", true); err != nil {
		t.Errorf("SendAlert should swallow ErrRateLimited even when fail_loudly, got %v", err)
	}
}

func TestFanout_NotFailLoudlyDoesNotBlock(t *testing.T) {
	s1 := &recordingSender{}
	f := NewFanout([]Sender{s1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.Start(ctx)
	defer f.Shutdown()

	done := make(chan struct{})
	go func() {
		_ = f.SendAlert("tunnel-1", "down", false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("SendAlert with fail_loudly=false should return promptly")
	}
}
