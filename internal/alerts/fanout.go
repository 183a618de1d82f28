package alerts

import (
	"context"
	"errors"
	"fmt"
	"log"
)

// fanoutQueueDepth bounds how many alert-delivery tasks may be queued
// before SendAlert blocks. One background worker drains the queue
// (spec.md §4.5: "size 1 is sufficient — alerts are low volume"); the
// depth only smooths bursts of several senders reacting to one event.
const fanoutQueueDepth = 8

type alertTask struct {
	sender     Sender
	tunnelName string
	message    string
	result     chan<- error // nil unless the caller wants to await completion
}

// Fanout decouples alert delivery from the Supervisor's restart loop. One
// background goroutine invokes every configured Sender so a slow or
// misbehaving backend never blocks supervision (spec.md §4.5).
type Fanout struct {
	senders []Sender
	queue   chan alertTask
	done    chan struct{}
}

// NewFanout builds a Fanout over senders. Call Start before the first
// SendAlert.
func NewFanout(senders []Sender) *Fanout {
	return &Fanout{
		senders: senders,
		queue:   make(chan alertTask, fanoutQueueDepth),
		done:    make(chan struct{}),
	}
}

// Start launches the single background worker. It runs until Shutdown is
// called or ctx is cancelled.
func (f *Fanout) Start(ctx context.Context) {
	go f.run(ctx)
}

func (f *Fanout) run(ctx context.Context) {
	for {
		select {
		case task, ok := <-f.queue:
			if !ok {
				return
			}
			f.deliver(task)
		case <-ctx.Done():
			return
		case <-f.done:
			return
		}
	}
}

func (f *Fanout) deliver(task alertTask) {
	err := task.sender.SendAlert(task.tunnelName, task.message)
	switch {
	case err == nil:
		// delivered
	case errors.Is(err, ErrRateLimited):
		log.Printf("[alerts] rate limited: tunnel=%s", task.tunnelName)
	default:
		log.Printf("[alerts] delivery failed: tunnel=%s: %v", task.tunnelName, err)
	}
	if task.result != nil {
		task.result <- err
	}
}

// SendAlert enqueues one delivery task per registered Sender and returns
// once all tasks are submitted — not once they are delivered. When
// failLoudly is true, it additionally waits for every task to complete and
// returns the first non-rate-limit error, matching the original's
// exception_on_failure semantics used by the self-test subcommands.
func (f *Fanout) SendAlert(tunnelName, message string, failLoudly bool) error {
	results := make([]chan error, 0, len(f.senders))
	for _, s := range f.senders {
		var resultCh chan error
		if failLoudly {
			resultCh = make(chan error, 1)
			results = append(results, resultCh)
		}
		select {
		case f.queue <- alertTask{sender: s, tunnelName: tunnelName, message: message, result: resultCh}:
		case <-f.done:
			return fmt.Errorf("alerts: fanout is shut down")
		}
	}

	if !failLoudly {
		return nil
	}

	var firstErr error
	for _, ch := range results {
		if err := <-ch; err != nil && !errors.Is(err, ErrRateLimited) && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Shutdown stops the background worker. Pending tasks are dropped.
func (f *Fanout) Shutdown() {
	select {
	case <-f.done:
	default:
		close(f.done)
	}
}
