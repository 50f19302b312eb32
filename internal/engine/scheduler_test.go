package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestNewSchedulerInvalidSpec(t *testing.T) {
	_, err := NewScheduler("every tuesday", func(ctx context.Context) error { return nil }, testLogger())
	if err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestSchedulerRunNow(t *testing.T) {
	var calls atomic.Int32
	s, err := NewScheduler("0 */6 * * *", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler() error: %v", err)
	}

	if !s.Next().IsZero() {
		t.Errorf("Next() before Start = %v, want zero", s.Next())
	}

	s.Start()
	if s.Next().IsZero() {
		t.Error("Next() after Start should be set")
	}

	if err := s.RunNow(); err != nil {
		t.Fatalf("RunNow() error: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}

	s.Stop()
	if err := s.RunNow(); !errors.Is(err, context.Canceled) {
		t.Errorf("RunNow() after Stop = %v, want context.Canceled", err)
	}
	if calls.Load() != 1 {
		t.Errorf("job ran after Stop, calls = %d", calls.Load())
	}
}

func TestSchedulerRunNowPropagatesError(t *testing.T) {
	want := errors.New("feed unavailable")
	s, err := NewScheduler("@hourly", func(ctx context.Context) error { return want }, testLogger())
	if err != nil {
		t.Fatalf("NewScheduler() error: %v", err)
	}
	defer s.Stop()

	if err := s.RunNow(); !errors.Is(err, want) {
		t.Errorf("RunNow() = %v, want %v", err, want)
	}
}
