package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BadgerOps/mirrorgen/internal/engine"
	"github.com/BadgerOps/mirrorgen/internal/server"
	"github.com/spf13/cobra"
)

var serveListen string

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve mirrorlists over HTTP",
		Long: `Start an HTTP server that renders a fresh mirrorlist for every request.

  GET /mirrorlist   mirrorlist for the configured filters; query parameters
                    protocol, country, max_delay, min_completion,
                    max_duration, ipv4, ipv6 and limit override them
  GET /api/runs     recent generation runs (requires store.db_path)
  GET /api/runs/ID  one run with its skipped records
  GET /healthz      liveness

When schedule.enabled is set, the server also regenerates output.path on
schedule.cron in the background.

By default, the server listens on the address configured in the config file
(default: 127.0.0.1:8080). Use --listen to override.`,
		Example: `  mirrorgen serve
  mirrorgen serve --listen 0.0.0.0:9000
  curl 'http://127.0.0.1:8080/mirrorlist?country=DE&limit=5'`,
		RunE: serveRun,
	}

	addSelectionFlags(cmd)
	cmd.Flags().StringVar(&serveListen, "listen", "", "address to listen on (host:port)")

	return cmd
}

func serveRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalGenerator == nil {
		return fmt.Errorf("generator not initialized")
	}

	listen := globalCfg.Server.Listen
	log.Info("server starting", "listen", listen, "history", globalStore != nil, "schedule", globalCfg.Schedule.Enabled)

	var sched *engine.Scheduler
	if globalCfg.Schedule.Enabled {
		var err error
		sched, err = newGenerateScheduler(globalCfg, globalGenerator)
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	srv := server.NewServer(globalGenerator, globalStore, globalCfg, logger)

	// Channel to listen for errors from server
	errChan := make(chan error, 1)

	go func() {
		fmt.Printf("Starting server on %s...\n", listen)
		if err := srv.Start(listen); err != nil {
			errChan <- err
		}
	}()

	// Wait for either an error or a shutdown signal
	sigChan := make(chan struct{})
	go func() {
		sig := waitForShutdown()
		log.Info("received shutdown signal", "signal", sig)
		close(sigChan)
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-sigChan:
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		fmt.Println("Server stopped gracefully")
	}

	return nil
}
