// Package session is the composition root for a devloop process: it wires
// the bus, observability, checkpoint store, listeners, HTTP surface,
// scheduler and the orchestrator from one loaded config, and runs them as a
// unit. Embedders with a real generator pipeline construct a Session with
// their own services; the CLI uses the reference pipeline.
package session

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/devloop/internal/config"
	"git.home.luguber.info/inful/devloop/internal/events"
	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
	"git.home.luguber.info/inful/devloop/internal/listeners"
	"git.home.luguber.info/inful/devloop/internal/logfields"
	"git.home.luguber.info/inful/devloop/internal/observability"
	"git.home.luguber.info/inful/devloop/internal/orchestrator"
	"git.home.luguber.info/inful/devloop/internal/scheduler"
	"git.home.luguber.info/inful/devloop/internal/server"
	"git.home.luguber.info/inful/devloop/internal/store"
)

// Session owns every long-lived component of one devloop run.
type Session struct {
	cfg config.Config

	bus         *events.Bus
	metrics     *observability.Metrics
	tracer      *observability.TracerProvider
	checkpoints *store.CheckpointStore
	machine     *orchestrator.Machine
	httpSrv     *server.Server
	sched       *scheduler.Scheduler
}

// New wires a session from the loaded configuration and the collaborator
// services.
func New(cfg config.Config, services orchestrator.Services) (*Session, error) {
	bus := events.NewBus()
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	tracer := observability.NewTracerProvider()

	if err := os.MkdirAll(filepath.Dir(cfg.Store.CheckpointPath), 0o755); err != nil {
		bus.Close()
		return nil, ferrors.WrapError(err, ferrors.CategoryStore, "failed to create checkpoint directory").
			WithContext("path", cfg.Store.CheckpointPath).Build()
	}
	checkpoints, err := store.NewCheckpointStore(cfg.Store.CheckpointPath)
	if err != nil {
		bus.Close()
		return nil, err
	}
	// Everything below holds an open sqlite handle; release it together with
	// the bus when wiring fails partway.
	fail := func(err error) error {
		bus.Close()
		if cerr := checkpoints.Close(); cerr != nil {
			slog.Warn("Checkpoint store close", logfields.Error(cerr))
		}
		return err
	}

	mutationListener, err := listeners.NewMutationListener(listeners.MutationListenerConfig{
		URL:     cfg.Listeners.NATS.URL,
		Subject: cfg.Listeners.NATS.Subject,
	}, bus)
	if err != nil {
		return nil, fail(err)
	}
	sourceWatcher, err := listeners.NewSourceWatcher(listeners.SourceWatcherConfig{
		Roots:    cfg.Listeners.Watch.Roots,
		Ignore:   cfg.Listeners.Watch.Ignore,
		Coalesce: cfg.Listeners.Watch.Coalesce,
	}, bus)
	if err != nil {
		return nil, fail(err)
	}

	machine, err := orchestrator.NewMachine(bus, services, orchestrator.Config{
		QuietWindow:      cfg.Debounce.QuietWindow,
		MaxDelay:         cfg.Debounce.MaxDelay,
		Checkpoints:      checkpoints,
		MutationListener: mutationListener,
		SourceWatcher:    sourceWatcher,
		Tracer:           tracer,
		Metrics:          metrics,
	})
	if err != nil {
		return nil, fail(err)
	}

	httpSrv, err := server.New(cfg, bus, metrics, func() string {
		return string(machine.CurrentState())
	})
	if err != nil {
		return nil, fail(err)
	}

	sched, err := scheduler.New(bus)
	if err != nil {
		return nil, fail(err)
	}

	s := &Session{
		cfg:         cfg,
		bus:         bus,
		metrics:     metrics,
		tracer:      tracer,
		checkpoints: checkpoints,
		machine:     machine,
		httpSrv:     httpSrv,
		sched:       sched,
	}

	if err := sched.ScheduleCheckpoint(cfg.Scheduler.CheckpointInterval, s); err != nil {
		return nil, fail(err)
	}
	if err := sched.ScheduleExtract(cfg.Scheduler.ExtractEvery); err != nil {
		return nil, fail(err)
	}

	return s, nil
}

// State reports the orchestrator's active state.
func (s *Session) State() string {
	return string(s.machine.CurrentState())
}

// Checkpoint satisfies the scheduler's Checkpointer. Before bootstrap
// completes there is nothing to persist.
func (s *Session) Checkpoint(ctx context.Context) error {
	st := s.machine.Context().Store
	if st == nil {
		return nil
	}
	if err := s.checkpoints.Save(ctx, st, string(s.machine.CurrentState())); err != nil {
		return err
	}
	s.metrics.IncCheckpoint()
	return nil
}

// Run blocks until ctx is canceled or a fatal error occurs. The
// orchestrator's error is relayed unmodified; a server failure stops the
// session the same way.
func (s *Session) Run(ctx context.Context) error {
	defer s.close()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srvErr := make(chan error, 1)
	go func() {
		if err := s.httpSrv.Run(runCtx); err != nil {
			srvErr <- err
		}
	}()

	s.sched.Start()

	machineErr := make(chan error, 1)
	go func() { machineErr <- s.machine.Run(runCtx) }()

	select {
	case err := <-machineErr:
		return err
	case err := <-srvErr:
		cancel()
		<-machineErr
		return err
	}
}

func (s *Session) close() {
	if err := s.sched.Stop(); err != nil {
		slog.Warn("Scheduler shutdown", logfields.Error(err))
	}
	s.bus.Close()
	if err := s.checkpoints.Close(); err != nil {
		slog.Warn("Checkpoint store close", logfields.Error(err))
	}
}
