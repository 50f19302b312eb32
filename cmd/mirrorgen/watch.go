package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BadgerOps/mirrorgen/internal/config"
	"github.com/BadgerOps/mirrorgen/internal/engine"
	"github.com/spf13/cobra"
)

var (
	watchCron      string
	watchNoInitial bool

	// waitForShutdown blocks until the process is asked to stop
	waitForShutdown = func() os.Signal {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigChan)
		return <-sigChan
	}
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Regenerate the mirrorlist on a cron schedule",
		Long: `Regenerate the mirrorlist on a schedule until interrupted. Every run
fetches a fresh feed. A failed run is logged and leaves the previous file in
place; the next tick tries again.

The schedule comes from schedule.cron in the config file (standard five-field
cron syntax) unless --cron is given.`,
		Example: `  mirrorgen watch -o /etc/pacman.d/mirrorlist
  mirrorgen watch --cron "@hourly" --country DE -o /etc/pacman.d/mirrorlist`,
		RunE: watchRun,
	}

	addSelectionFlags(cmd)
	addOutputFlag(cmd)
	cmd.Flags().StringVar(&watchCron, "cron", "", "cron schedule (overrides schedule.cron)")
	cmd.Flags().BoolVar(&watchNoInitial, "no-initial", false, "wait for the first scheduled tick instead of generating immediately")

	return cmd
}

func watchRun(cmd *cobra.Command, args []string) error {
	log := slog.Default()

	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if globalGenerator == nil {
		return fmt.Errorf("generator not initialized")
	}

	sched, err := newGenerateScheduler(globalCfg, globalGenerator)
	if err != nil {
		return err
	}

	if !watchNoInitial {
		if err := sched.RunNow(); err != nil {
			log.Error("initial generation failed", "error", err)
		}
	}

	sched.Start()
	fmt.Printf("Watching schedule %q, next run at %s\n", globalCfg.Schedule.Cron, sched.Next().Format("2006-01-02 15:04:05"))

	sig := waitForShutdown()
	log.Info("received shutdown signal", "signal", sig)
	sched.Stop()

	return nil
}

// newGenerateScheduler wires a generation job into the configured cron schedule
func newGenerateScheduler(cfg *config.Config, gen *engine.Generator) (*engine.Scheduler, error) {
	opts, err := generateOptions(cfg)
	if err != nil {
		return nil, err
	}

	job := func(ctx context.Context) error {
		_, err := gen.Generate(ctx, opts)
		return err
	}

	sched, err := engine.NewScheduler(cfg.Schedule.Cron, job, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return sched, nil
}
