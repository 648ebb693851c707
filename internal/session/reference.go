package session

import (
	"context"
	"log/slog"

	"git.home.luguber.info/inful/devloop/internal/logfields"
	"git.home.luguber.info/inful/devloop/internal/orchestrator"
	"git.home.luguber.info/inful/devloop/internal/store"
)

// ReferenceServices returns a minimal working pipeline for the standalone
// CLI. It keeps the store honest (mutations and idle batches really land in
// it) but stands in for the generator-specific phases: a real site generator
// embeds the orchestrator with its own services instead.
func ReferenceServices(workerCount int) orchestrator.Services {
	if workerCount <= 0 {
		workerCount = 4
	}
	return orchestrator.Services{
		Bootstrap:     referenceBootstrap{workers: workerCount},
		DataSource:    referenceDataSource{},
		PostBootstrap: referenceHook{},
		QueryRunner:   referenceQueryRunner{},
		Recompiler:    referenceRecompiler{},
		DevServers:    referenceDevServers{},
		PageRecreator: referenceRecreator{},
	}
}

// referencePool is a fixed-size token pool handed around as the opaque
// worker pool handle.
type referencePool struct {
	slots chan struct{}
}

func newReferencePool(n int) *referencePool {
	p := &referencePool{slots: make(chan struct{}, n)}
	for i := 0; i < n; i++ {
		p.slots <- struct{}{}
	}
	return p
}

type referenceBootstrap struct {
	workers int
}

func (b referenceBootstrap) Run(_ context.Context) (orchestrator.BootstrapResult, error) {
	slog.Info("Bootstrap complete", slog.Int("workers", b.workers))
	return orchestrator.BootstrapResult{
		Store:      store.New(),
		WorkerPool: newReferencePool(b.workers),
	}, nil
}

type referenceDataSource struct{}

func (referenceDataSource) Run(_ context.Context, scope orchestrator.DataSourceScope) (orchestrator.Result, error) {
	if len(scope.WebhookBody) > 0 {
		// A webhook body shaped like a node payload is treated as one.
		mut := store.Mutation{ID: "webhook", Payload: scope.WebhookBody}
		if err := scope.Store.Apply(mut); err != nil {
			slog.Debug("Webhook body is not a node payload", logfields.Error(err))
		}
	}
	slog.Info("Data sourced",
		slog.Bool("first_run", scope.FirstRun), slog.Int("nodes", scope.Store.NodeCount()))
	return nil, nil
}

type referenceHook struct{}

func (referenceHook) Run(_ context.Context, scope orchestrator.HookScope) (orchestrator.Result, error) {
	slog.Info("Post-bootstrap hook complete")
	return nil, nil
}

type referenceQueryRunner struct{}

func (referenceQueryRunner) Run(_ context.Context, scope orchestrator.QueryScope) (orchestrator.Result, error) {
	// Drain anything already forwarded; a real runner would re-extract
	// queries for these paths.
	changed := 0
	for {
		select {
		case paths := <-scope.SourceChanges:
			changed += len(paths)
		default:
			slog.Info("Queries executed",
				slog.Int("nodes", scope.Store.NodeCount()), logfields.Paths(changed))
			return nil, nil
		}
	}
}

type referenceRecompiler struct{}

func (referenceRecompiler) Run(_ context.Context, _ orchestrator.RecompileScope) (orchestrator.Result, error) {
	slog.Info("Bundle recompiled")
	return nil, nil
}

type referenceDevServers struct{}

func (referenceDevServers) Run(_ context.Context) (orchestrator.DevServersResult, error) {
	slog.Info("Dev servers started")
	return orchestrator.DevServersResult{
		Compiler:   "reference-compiler",
		DevServers: orchestrator.DevServerHandles{Bundler: "reference-bundler", LiveReload: "reference-livereload"},
	}, nil
}

type referenceRecreator struct{}

func (referenceRecreator) Run(_ context.Context, scope orchestrator.RecreateScope) (orchestrator.Result, error) {
	if err := scope.Store.ApplyBatch(scope.Batch); err != nil {
		slog.Warn("Batch contained unapplicable mutations", logfields.Error(err))
	}
	slog.Info("Pages recreated", logfields.BatchSize(len(scope.Batch)))
	return nil, nil
}
