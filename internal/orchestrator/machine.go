// Package orchestrator contains the build-loop state machine: the state
// graph, per-state event routing and suppression, the guard conditions that
// pick the next phase, and the lifecycle of spawned phase children.
//
// The machine runs as a single logical control goroutine consuming one event
// at a time. Children run concurrently but communicate with the machine
// solely through the scoped input passed at spawn time and a single
// completion message. The machine itself performs no blocking work: it waits
// only for the next external event or the active child's completion.
package orchestrator

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/devloop/internal/events"
	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
	"git.home.luguber.info/inful/devloop/internal/logfields"
	"git.home.luguber.info/inful/devloop/internal/observability"
	"git.home.luguber.info/inful/devloop/internal/store"
)

// Config configures the machine.
type Config struct {
	// QuietWindow and MaxDelay parameterize the idle collector.
	QuietWindow time.Duration
	MaxDelay    time.Duration

	// Checkpoints receives a store checkpoint on every idle entry. Optional.
	Checkpoints *store.CheckpointStore

	// MutationListener is started once after bootstrap completes. Optional.
	MutationListener SideProcess
	// SourceWatcher is started once after the dev servers come up. Optional.
	SourceWatcher SideProcess

	Tracer  *observability.TracerProvider
	Metrics *observability.Metrics
}

// Machine is the top-level build-loop orchestrator.
type Machine struct {
	cfg      Config
	bus      *events.Bus
	services Services
	bctx     *BuildContext

	state     State
	stateAtom atomic.Value // State, readable off-loop

	active    *child
	collector *Collector

	// queryChanges is the forwarding channel for the active query child.
	// Recreated on every Running-Queries entry.
	queryChanges chan []string

	workers    WorkerGroup
	phaseStart time.Time
	readyOnce  sync.Once
	ready      chan struct{}
}

// NewMachine creates the orchestrator. The services are the excluded
// collaborators; every one of them must be provided.
func NewMachine(bus *events.Bus, services Services, cfg Config) (*Machine, error) {
	if bus == nil {
		return nil, ferrors.ValidationError("bus is required").Build()
	}
	if services.Bootstrap == nil || services.DataSource == nil || services.PostBootstrap == nil ||
		services.QueryRunner == nil || services.Recompiler == nil || services.DevServers == nil ||
		services.PageRecreator == nil {
		return nil, ferrors.ValidationError("all collaborator services are required").Build()
	}
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = 250 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewTracerProvider()
	}

	m := &Machine{
		cfg:      cfg,
		bus:      bus,
		services: services,
		bctx:     &BuildContext{Checkpoints: cfg.Checkpoints},
		ready:    make(chan struct{}),
	}
	m.stateAtom.Store(StateInitializing)
	return m, nil
}

// Ready is closed once Run has subscribed to all event kinds. Intended for
// tests and deterministic startup sequencing.
func (m *Machine) Ready() <-chan struct{} {
	return m.ready
}

// CurrentState reports the active state. Safe to call from any goroutine.
func (m *Machine) CurrentState() State {
	s, _ := m.stateAtom.Load().(State)
	return s
}

// Context exposes the shared build context for status reporting. Callers
// outside the machine goroutine must treat it as read-only and racy.
func (m *Machine) Context() *BuildContext {
	return m.bctx
}

// Run drives the build loop until the context is canceled or a phase child
// fails. A child failure is fatal to the development session: its error is
// returned unmodified. There is no terminal state.
func (m *Machine) Run(ctx context.Context) error {
	if ctx == nil {
		return ferrors.ValidationError("context cannot be nil").Build()
	}

	mutCh, unsubMut := events.Subscribe[events.MutationReceived](m.bus, 64)
	defer unsubMut()
	srcCh, unsubSrc := events.Subscribe[events.SourceFileChanged](m.bus, 64)
	defer unsubSrc()
	webhookCh, unsubWebhook := events.Subscribe[events.WebhookReceived](m.bus, 16)
	defer unsubWebhook()
	extractCh, unsubExtract := events.Subscribe[events.ExtractQueriesNow](m.bus, 16)
	defer unsubExtract()

	defer func() {
		m.cancelActive()
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.workers.StopAndWait(stopCtx); err != nil {
			slog.Warn("Timed out waiting for side processes", logfields.Error(err))
		}
	}()

	m.readyOnce.Do(func() { close(m.ready) })

	m.transition(ctx, StateInitializing, "initial")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Build loop stopped by context cancellation", logfields.State(string(m.state)))
			return nil

		case evt, ok := <-mutCh:
			if !ok {
				return nil
			}
			m.onMutation(evt)

		case evt, ok := <-srcCh:
			if !ok {
				return nil
			}
			m.onSourceChanged(evt)

		case evt, ok := <-webhookCh:
			if !ok {
				return nil
			}
			m.onWebhook(ctx, evt)

		case evt, ok := <-extractCh:
			if !ok {
				return nil
			}
			m.onExtract(evt)

		case compl := <-m.activeDone():
			if err := m.onCompletion(ctx, compl); err != nil {
				return err
			}
		}
	}
}

// onMutation routes a mutation according to the active state: applied
// immediately during data phases, forwarded to the collector while idle,
// suppressed during bootstrap, queued everywhere else.
func (m *Machine) onMutation(evt events.MutationReceived) {
	mut := store.Mutation{ID: evt.ID, Payload: evt.Payload, ReceivedAt: evt.ReceivedAt}

	switch m.state {
	case StateInitializing:
		// The bootstrap rebuild subsumes this change.
		m.cfg.Metrics.IncEvent("mutation_received", string(m.state), observability.DispositionSuppressed)
		slog.Debug("Mutation suppressed during bootstrap", logfields.MutationID(mut.ID))

	case StateInitializingData, StateReloadingData:
		m.cfg.Metrics.IncEvent("mutation_received", string(m.state), observability.DispositionApplied)
		if err := m.bctx.Store.Apply(mut); err != nil {
			slog.Warn("Failed to apply mutation to store",
				logfields.MutationID(mut.ID), logfields.State(string(m.state)), logfields.Error(err))
		}

	case StateWaiting:
		m.cfg.Metrics.IncEvent("mutation_received", string(m.state), observability.DispositionForwarded)
		m.collector.AddMutation(mut)

	default:
		m.cfg.Metrics.IncEvent("mutation_received", string(m.state), observability.DispositionQueued)
		m.bctx.queueMutation(mut)
		m.cfg.Metrics.SetPendingMutations(len(m.bctx.PendingMutationBatch))
	}
}

// onSourceChanged routes a file change: dropped during bootstrap and data
// reload, forwarded to the query child or the collector where one is
// active, and in all non-dropping states marks the dirty flag.
func (m *Machine) onSourceChanged(evt events.SourceFileChanged) {
	switch m.state {
	case StateInitializing:
		m.cfg.Metrics.IncEvent("source_file_changed", string(m.state), observability.DispositionSuppressed)

	case StateReloadingData:
		// Dropped entirely: a full reload re-derives everything. The next
		// watcher event after the reload re-marks the flag.
		m.cfg.Metrics.IncEvent("source_file_changed", string(m.state), observability.DispositionSuppressed)

	case StateRunningQueries:
		m.cfg.Metrics.IncEvent("source_file_changed", string(m.state), observability.DispositionForwarded)
		m.bctx.SourceFilesDirty = true
		select {
		case m.queryChanges <- evt.Paths:
		default:
			// Forwarding is best effort; the dirty flag is the authority.
			slog.Debug("Query child not draining source changes", logfields.Paths(len(evt.Paths)))
		}

	case StateWaiting:
		m.cfg.Metrics.IncEvent("source_file_changed", string(m.state), observability.DispositionForwarded)
		m.bctx.SourceFilesDirty = true
		m.collector.NoteFileChange()

	default:
		m.cfg.Metrics.IncEvent("source_file_changed", string(m.state), observability.DispositionQueued)
		m.bctx.SourceFilesDirty = true
	}
}

// onWebhook pre-empts whatever phase is active and forces a full data
// reload. Initializing overrides the global transition: the bootstrap in
// flight subsumes the reload.
func (m *Machine) onWebhook(ctx context.Context, evt events.WebhookReceived) {
	if m.state == StateInitializing {
		m.cfg.Metrics.IncEvent("webhook_received", string(m.state), observability.DispositionSuppressed)
		slog.Debug("Webhook suppressed during bootstrap")
		return
	}

	m.cfg.Metrics.IncEvent("webhook_received", string(m.state), observability.DispositionApplied)
	slog.Info("Webhook received, pre-empting active phase",
		logfields.State(string(m.state)), slog.Int("body_bytes", len(evt.Body)))

	m.bctx.WebhookBody = evt.Body
	m.cancelActive()
	m.transition(ctx, StateReloadingData, "webhook")
}

// onExtract is meaningful only while idle; elsewhere it has no defined
// handler and is deliberately ignored.
func (m *Machine) onExtract(evt events.ExtractQueriesNow) {
	if m.state != StateWaiting {
		m.cfg.Metrics.IncEvent("extract_queries_now", string(m.state), observability.DispositionSuppressed)
		slog.Debug("Extract trigger ignored outside idle", logfields.State(string(m.state)))
		return
	}
	m.cfg.Metrics.IncEvent("extract_queries_now", string(m.state), observability.DispositionForwarded)
	m.collector.Trigger(evt.Reason)
}

// onCompletion consumes the active child's completion message and selects
// the next state. A child error ends the session with that error unmodified.
func (m *Machine) onCompletion(ctx context.Context, compl completion) error {
	m.active = nil

	if compl.err != nil {
		observability.EndSpan(m.bctx.TracingSpan, compl.err)
		m.bctx.TracingSpan = nil
		slog.Error("Phase child failed",
			logfields.Child(compl.child.name), logfields.State(string(m.state)), logfields.Error(compl.err))
		return compl.err
	}

	slog.Debug("Phase child completed", logfields.Child(compl.child.name), logfields.State(string(m.state)))

	switch m.state {
	case StateInitializing:
		result := compl.result.(BootstrapResult)
		m.bctx.Store = result.Store
		m.bctx.WorkerPool = result.WorkerPool
		m.startSideProcess(ctx, m.cfg.MutationListener)
		m.transition(ctx, StateInitializingData, "bootstrapped")

	case StateInitializingData:
		m.bctx.LastServiceResult = compl.result
		m.bctx.WebhookBody = nil
		m.transition(ctx, StateRunningPostBootstrap, "sourced")

	case StateRunningPostBootstrap:
		m.transition(ctx, StateRunningQueries, "hooked")

	case StateRunningQueries:
		m.bctx.LastServiceResult = compl.result
		next, guardName := evalGuards(postQueryGuards, m.bctx)
		m.transition(ctx, next, guardName)

	case StateRecompiling:
		m.bctx.SourceFilesDirty = false
		m.transition(ctx, StateWaiting, "recompiled")

	case StateStartingDevServers:
		result := compl.result.(DevServersResult)
		m.bctx.Compiler = result.Compiler
		m.bctx.DevServers = result.DevServers
		m.bctx.SourceFilesDirty = false
		m.startSideProcess(ctx, m.cfg.SourceWatcher)
		m.transition(ctx, StateWaiting, "dev_servers_up")

	case StateWaiting:
		result := compl.result.(WaitResult)
		// A mutation selected ahead of this completion message was added to
		// the collector after it built the result; fold it in so nothing
		// queued while idle misses the next rebuild.
		if late := m.collector.drain(); len(late) > 0 {
			result.Batch = append(result.Batch, late...)
		}
		m.collector = nil
		m.bctx.LastServiceResult = result
		m.cfg.Metrics.ObserveBatchSize(len(result.Batch))
		slog.Info("Idle collector completed",
			logfields.BatchSize(len(result.Batch)), slog.String("cause", result.Cause))
		if len(result.Batch) == 0 {
			m.transition(ctx, StateRunningQueries, "requery")
		} else {
			m.transition(ctx, StateRecreatingPages, "batch_ready")
		}

	case StateReloadingData:
		m.bctx.LastServiceResult = compl.result
		m.bctx.WebhookBody = nil
		m.transition(ctx, StateRunningQueries, "reloaded")

	case StateRecreatingPages:
		m.bctx.LastServiceResult = compl.result
		m.transition(ctx, StateRunningQueries, "pages_recreated")

	default:
		return ferrors.OrchestratorError("completion in unknown state").
			WithContext("state", string(m.state)).Build()
	}

	return nil
}

// transition closes the previous phase span, records the transition, and
// runs the new state's entry action (which spawns the state's child).
func (m *Machine) transition(ctx context.Context, to State, cause string) {
	from := m.state
	if !m.phaseStart.IsZero() {
		m.cfg.Metrics.ObservePhaseDuration(string(from), time.Since(m.phaseStart))
	}
	m.phaseStart = time.Now()

	observability.EndSpan(m.bctx.TracingSpan, nil)
	phaseID := uuid.NewString()
	ctx = observability.WithState(observability.WithPhaseID(ctx, phaseID), string(to))
	ctx, span := m.cfg.Tracer.StartPhaseSpan(ctx, string(to), phaseID)
	m.bctx.TracingSpan = span

	m.state = to
	m.stateAtom.Store(to)
	m.cfg.Metrics.IncTransition(string(from), string(to))

	slog.Info("Phase transition",
		logfields.PrevState(string(from)), logfields.State(string(to)),
		logfields.PhaseID(phaseID), slog.String("cause", cause))

	_ = m.bus.Publish(ctx, events.StateTransitioned{
		From:  string(from),
		To:    string(to),
		Guard: cause,
		At:    time.Now(),
	})

	m.enterState(ctx, to)
}

// enterState performs the state's entry action and spawns its child.
func (m *Machine) enterState(ctx context.Context, s State) {
	switch s {
	case StateInitializing:
		m.spawnChild(ctx, "bootstrap", func(cctx context.Context) (Result, error) {
			return m.services.Bootstrap.Run(cctx)
		})

	case StateInitializingData:
		scope := DataSourceScope{
			Span:           m.bctx.TracingSpan,
			Store:          m.bctx.Store,
			WebhookBody:    m.bctx.WebhookBody,
			DeferMutations: true,
			FirstRun:       true,
		}
		m.spawnChild(ctx, "dataSource", func(cctx context.Context) (Result, error) {
			return m.services.DataSource.Run(cctx, scope)
		})

	case StateRunningPostBootstrap:
		scope := HookScope{Store: m.bctx.Store, SourcedResult: m.bctx.LastServiceResult}
		m.spawnChild(ctx, "postBootstrap", func(cctx context.Context) (Result, error) {
			return m.services.PostBootstrap.Run(cctx, scope)
		})

	case StateRunningQueries:
		m.queryChanges = make(chan []string, 16)
		scope := QueryScope{
			Span:          m.bctx.TracingSpan,
			Store:         m.bctx.Store,
			WorkerPool:    m.bctx.WorkerPool,
			PriorResult:   m.bctx.LastServiceResult,
			SourceChanges: m.queryChanges,
		}
		m.spawnChild(ctx, "queryRunner", func(cctx context.Context) (Result, error) {
			return m.services.QueryRunner.Run(cctx, scope)
		})

	case StateRecompiling:
		scope := RecompileScope{Compiler: m.bctx.Compiler}
		m.spawnChild(ctx, "recompile", func(cctx context.Context) (Result, error) {
			return m.services.Recompiler.Run(cctx, scope)
		})

	case StateStartingDevServers:
		m.spawnChild(ctx, "devServers", func(cctx context.Context) (Result, error) {
			return m.services.DevServers.Run(cctx)
		})

	case StateWaiting:
		m.checkpoint(ctx)
		seed := m.bctx.drainBatch()
		m.cfg.Metrics.SetPendingMutations(0)
		collector, err := NewCollector(CollectorConfig{
			QuietWindow: m.cfg.QuietWindow,
			MaxDelay:    m.cfg.MaxDelay,
		}, seed)
		if err != nil {
			// Config was validated at construction; only a programming
			// error lands here.
			panic(err)
		}
		m.collector = collector
		m.spawnChild(ctx, "idleCollector", func(cctx context.Context) (Result, error) {
			return collector.Run(cctx)
		})

	case StateReloadingData:
		scope := DataSourceScope{
			Span:           m.bctx.TracingSpan,
			Store:          m.bctx.Store,
			WebhookBody:    m.bctx.WebhookBody,
			DeferMutations: true,
			FirstRun:       false,
		}
		m.spawnChild(ctx, "dataSource", func(cctx context.Context) (Result, error) {
			return m.services.DataSource.Run(cctx, scope)
		})

	case StateRecreatingPages:
		result, _ := m.bctx.LastServiceResult.(WaitResult)
		scope := RecreateScope{Store: m.bctx.Store, Batch: result.Batch}
		m.spawnChild(ctx, "recreatePages", func(cctx context.Context) (Result, error) {
			return m.services.PageRecreator.Run(cctx, scope)
		})
	}
}

// checkpoint persists the store on idle entry.
func (m *Machine) checkpoint(ctx context.Context) {
	if m.bctx.Checkpoints == nil || m.bctx.Store == nil {
		return
	}
	if err := m.bctx.Checkpoints.Save(ctx, m.bctx.Store, string(StateWaiting)); err != nil {
		slog.Warn("Failed to checkpoint store", logfields.Error(err))
		return
	}
	m.cfg.Metrics.IncCheckpoint()
	slog.Debug("Store checkpointed",
		logfields.Sequence(m.bctx.Store.Sequence()), slog.Int("nodes", m.bctx.Store.NodeCount()))
}

// startSideProcess launches a long-lived listener. Side processes are
// spawned once and are not re-spawned on failure; a dead listener is
// logged, not fatal.
func (m *Machine) startSideProcess(ctx context.Context, p SideProcess) {
	if p == nil {
		return
	}
	started := m.workers.Go(func() {
		if err := p.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Side process exited", slog.String("process", p.Name()), logfields.Error(err))
		}
	})
	if started {
		slog.Info("Side process started", slog.String("process", p.Name()))
	}
}
