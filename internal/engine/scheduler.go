package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is the work a Scheduler runs on each tick.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a cron schedule. Runs never overlap: a tick that
// fires while the previous run is still going is skipped, and RunNow waits
// for any scheduled run to finish first.
type Scheduler struct {
	cron    *cron.Cron
	entryID cron.EntryID
	job     Job
	logger  *slog.Logger

	runMu      sync.Mutex
	lifeCtx    context.Context
	lifeCancel context.CancelFunc
}

// NewScheduler parses spec (standard five-field cron) and prepares job.
func NewScheduler(spec string, job Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:       c,
		job:        job,
		logger:     logger,
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
	}

	entryID, err := c.AddFunc(spec, func() {
		if err := s.RunNow(); err != nil {
			s.logger.Error("scheduled generation failed", "error", err)
		}
	})
	if err != nil {
		lifeCancel()
		return nil, fmt.Errorf("invalid cron expression %q: %w", spec, err)
	}
	s.entryID = entryID
	return s, nil
}

// Start begins firing on schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "next_run", s.Next())
}

// Stop cancels any in-flight run and waits for it to return.
func (s *Scheduler) Stop() {
	s.lifeCancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// RunNow executes the job immediately, serialized with scheduled runs.
func (s *Scheduler) RunNow() error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if err := s.lifeCtx.Err(); err != nil {
		return err
	}
	start := time.Now()
	err := s.job(s.lifeCtx)
	s.logger.Debug("scheduled job finished", "elapsed", time.Since(start), "next_run", s.Next())
	return err
}

// Next returns the next scheduled fire time, zero if not started.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// cronLogger adapts slog to cron's logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
