package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/websoft9/tunnelsupervisor/internal/alerts"
	"github.com/websoft9/tunnelsupervisor/internal/config"
	"github.com/websoft9/tunnelsupervisor/internal/introspect"
	"github.com/websoft9/tunnelsupervisor/internal/supervisor"
)

// introspectRestartDelay bounds how quickly the endpoint is restarted after
// an unexpected exit (spec.md §4.6: "if the introspection endpoint has
// died, restart it").
const introspectRestartDelay = time.Second

// shutdownTimeout bounds how long graceful shutdown waits for every Worker
// and the introspection endpoint to stop before main() returns anyway.
const shutdownTimeout = 30 * time.Second

var (
	configPathFlag      string
	testSMTPFlag        bool
	testHTTPFlag        bool
	testConnectionsFlag bool
	testTunnelsFlag     bool
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tunnelsupervisor",
		Short: "Supervises a fleet of reverse SSH tunnels, restarting and alerting on failure",
		// RunE so a configuration or startup error becomes a non-zero exit
		// code instead of a silent success.
		RunE: runRoot,
	}

	flags := root.Flags()
	flags.StringVar(&configPathFlag, "config_ini", "pytun.ini", "path to the top-level configuration file")
	flags.BoolVar(&testSMTPFlag, "test_smtp", false, "send a test alert through the configured SMTP backend, then exit")
	flags.BoolVar(&testHTTPFlag, "test_http", false, "send a test alert through the configured HTTP backend, then exit")
	flags.BoolVar(&testConnectionsFlag, "test_connections", false, "check TCP reachability of every tunnel's local backend service, then exit")
	flags.BoolVar(&testTunnelsFlag, "test_tunnels", false, "attempt a full SSH handshake against every tunnel, then exit")

	return root
}

func runRoot(cmd *cobra.Command, args []string) error {
	top, err := config.LoadTopLevel(configPathFlag)
	if err != nil {
		return fmt.Errorf("load %s: %w", configPathFlag, err)
	}

	descriptorPaths, err := config.DiscoverDescriptors(top.TunnelDirs)
	if err != nil {
		return fmt.Errorf("discover tunnels under %s: %w", top.TunnelDirs, err)
	}
	descriptors := make([]*config.Descriptor, 0, len(descriptorPaths))
	for _, p := range descriptorPaths {
		d, err := config.LoadDescriptor(p)
		if err != nil {
			return fmt.Errorf("load descriptor %s: %w", p, err)
		}
		descriptors = append(descriptors, d)
	}

	switch {
	case testSMTPFlag:
		os.Exit(runSelfTestSMTP(top))
	case testHTTPFlag:
		os.Exit(runSelfTestHTTP(top))
	case testConnectionsFlag:
		os.Exit(runSelfTestConnections(descriptors))
	case testTunnelsFlag:
		os.Exit(runSelfTestTunnels(descriptors))
	}

	return runSupervisor(top, descriptors)
}

func runSupervisor(top *config.TopLevelConfig, descriptors []*config.Descriptor) error {
	senders, err := alerts.BuildSenders(top.TunnelManagerID, top.SMTP, top.HTTP)
	if err != nil {
		return fmt.Errorf("build alert senders: %w", err)
	}
	fanout := alerts.NewFanout(senders)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fanout.Start(ctx)

	binaryPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve own executable path: %w", err)
	}
	configAbsPath, err := filepath.Abs(configPathFlag)
	if err != nil {
		configAbsPath = configPathFlag
	}

	status := supervisor.NewStatus()
	sup := supervisor.New(binaryPath, configAbsPath, top.TunnelManagerID, status, fanout)
	if err := sup.Start(ctx, descriptors); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}

	introServer := introspect.New(sup, top.TunnelDirs, top.LogPath, top.InspectionPort, top.InspectionLocalhostOnly)
	go runIntrospectUntilShutdown(ctx, introServer)

	log.Printf("[tunnelsupervisor] %s: supervising %d tunnel(s)", top.TunnelManagerID, len(descriptors))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Printf("[tunnelsupervisor] shutdown signal received")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	_ = introServer.Shutdown(shutdownCtx)
	sup.Shutdown(shutdownCtx)
	fanout.Shutdown()

	color.Green("tunnelsupervisor: shutdown complete")
	return nil
}

// runIntrospectUntilShutdown restarts the introspection endpoint whenever it
// exits with an error, until ctx is cancelled by the main shutdown path.
func runIntrospectUntilShutdown(ctx context.Context, s *introspect.Server) {
	for {
		err := s.ListenAndServe()
		if err == nil {
			// nil only happens after a deliberate Shutdown call.
			return
		}
		log.Printf("[tunnelsupervisor] introspection endpoint exited: %v, restarting in %s", err, introspectRestartDelay)
		select {
		case <-time.After(introspectRestartDelay):
		case <-ctx.Done():
			return
		}
	}
}
