package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/websoft9/tunnelsupervisor/internal/alerts"
	"github.com/websoft9/tunnelsupervisor/internal/config"
	"github.com/websoft9/tunnelsupervisor/internal/tunnel"
)

// runWorker is the entrypoint a Worker process runs under once
// procworker.Spawn re-execs this binary. It owns one descriptor's whole
// lifetime and never returns until that tunnel exits, so its result is
// simply this process's exit code.
func runWorker(descriptorPath string) int {
	d, err := config.LoadDescriptor(descriptorPath)
	if err != nil {
		log.Printf("[worker] load descriptor %s: %v", descriptorPath, err)
		return 1
	}

	senders := loadWorkerSenders(d.Name)
	w := tunnel.NewWorker(d, senders)

	ctx, cancel := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Printf("[worker] %s: received shutdown signal", d.Name)
		cancel()
	}()

	reason, runErr := w.Run(ctx)
	cancel()

	if runErr != nil {
		log.Printf("[worker] %s: exited (%s): %v", d.Name, reason, runErr)
	} else {
		log.Printf("[worker] %s: exited (%s)", d.Name, reason)
	}

	if reason == tunnel.ExitRequested {
		return 0
	}
	return 1
}

// loadWorkerSenders rebuilds the same AlertSenders the Supervisor itself
// uses, from the top-level config path passed via config.EnvTopLevelPath.
// A Worker receives almost nothing from its parent besides its own
// descriptor (spec.md §9: process isolation means no pipes for the core
// path) — this one extra environment variable is what lets the Byte Pump's
// per-connection alerts work without the Supervisor itself being on the
// critical path.
func loadWorkerSenders(tunnelName string) []alerts.Sender {
	topPath := os.Getenv(config.EnvTopLevelPath)
	if topPath == "" {
		return nil
	}
	top, err := config.LoadTopLevel(topPath)
	if err != nil {
		log.Printf("[worker] %s: load top-level config %s: %v", tunnelName, topPath, err)
		return nil
	}
	senders, err := alerts.BuildSenders(top.TunnelManagerID, top.SMTP, top.HTTP)
	if err != nil {
		log.Printf("[worker] %s: build alert senders: %v", tunnelName, err)
		return nil
	}
	return senders
}
