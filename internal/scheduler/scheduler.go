// Package scheduler wraps gocron for devloop's periodic jobs: store
// checkpoints on an interval and, when configured, a recurring query
// extraction trigger.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/devloop/internal/events"
	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
	"git.home.luguber.info/inful/devloop/internal/logfields"
)

// Checkpointer persists the current store state.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Scheduler wraps the gocron scheduler for devloop's periodic tasks.
type Scheduler struct {
	scheduler gocron.Scheduler
	bus       *events.Bus
}

func New(bus *events.Bus) (*Scheduler, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("bus is required").Build()
	}
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to create gocron scheduler").Build()
	}
	return &Scheduler{scheduler: s, bus: bus}, nil
}

// ScheduleCheckpoint saves the store every interval, independently of idle
// entries. A zero interval disables the job.
func (s *Scheduler) ScheduleCheckpoint(interval time.Duration, cp Checkpointer) error {
	if interval <= 0 || cp == nil {
		return nil
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := cp.Checkpoint(ctx); err != nil {
				slog.Warn("Scheduled checkpoint failed", logfields.Error(err))
			}
		}),
		gocron.WithName("store-checkpoint"),
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to schedule checkpoint job").Build()
	}
	slog.Info("Scheduled periodic store checkpoint", slog.Duration("interval", interval))
	return nil
}

// ScheduleExtract publishes a recurring query extraction trigger. Useful for
// pages whose queries depend on wall-clock time. A zero interval disables
// the job.
func (s *Scheduler) ScheduleExtract(interval time.Duration) error {
	if interval <= 0 {
		return nil
	}
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			evt := events.ExtractQueriesNow{Reason: "scheduled", RequestedAt: time.Now()}
			if err := s.bus.Publish(ctx, evt); err != nil {
				slog.Warn("Failed to publish scheduled extract trigger", logfields.Error(err))
			}
		}),
		gocron.WithName("extract-queries"),
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryRuntime, "failed to schedule extract job").Build()
	}
	slog.Info("Scheduled periodic query extraction", slog.Duration("interval", interval))
	return nil
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for running jobs.
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}
