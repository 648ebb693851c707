package orchestrator

import (
	"context"

	"git.home.luguber.info/inful/devloop/internal/observability"
	"git.home.luguber.info/inful/devloop/internal/store"
)

// Result is the value a completed child hands back to the machine.
type Result any

// BootstrapResult is produced by the bootstrap child.
type BootstrapResult struct {
	Store      *store.Store
	WorkerPool WorkerPoolHandle
}

// DataSourceScope is the input handed to the data-sourcing child. FirstRun
// distinguishes initial sourcing from a webhook-triggered reload, which
// skips first-run-only setup.
type DataSourceScope struct {
	Span           observability.Span
	Store          *store.Store
	WebhookBody    []byte
	DeferMutations bool
	FirstRun       bool
}

// HookScope is the input handed to the post-bootstrap hook.
type HookScope struct {
	Store         *store.Store
	SourcedResult Result
}

// QueryScope is the input handed to the query-running child. SourceChanges
// delivers file-change paths forwarded while the child is active, so it can
// decide internally whether to re-extract queries.
type QueryScope struct {
	Span          observability.Span
	Store         *store.Store
	WorkerPool    WorkerPoolHandle
	PriorResult   Result
	SourceChanges <-chan []string
}

// RecompileScope is the input handed to the bundle-recompilation child.
type RecompileScope struct {
	Compiler CompilerHandle
}

// DevServersResult is produced by the dev-server startup child.
type DevServersResult struct {
	Compiler   CompilerHandle
	DevServers DevServerHandles
}

// RecreateScope is the input handed to the page-recreation child. Batch is
// the full idle batch in arrival order.
type RecreateScope struct {
	Store *store.Store
	Batch []store.Mutation
}

// BootstrapService performs initial setup and yields the store and worker
// pool handles.
type BootstrapService interface {
	Run(ctx context.Context) (BootstrapResult, error)
}

// DataSourceService sources content, infers the schema, and creates pages.
type DataSourceService interface {
	Run(ctx context.Context, scope DataSourceScope) (Result, error)
}

// PostBootstrapService is the one-shot hook run after first sourcing.
type PostBootstrapService interface {
	Run(ctx context.Context, scope HookScope) (Result, error)
}

// QueryRunnerService executes queries and renders page data.
type QueryRunnerService interface {
	Run(ctx context.Context, scope QueryScope) (Result, error)
}

// RecompilerService rebuilds the bundle.
type RecompilerService interface {
	Run(ctx context.Context, scope RecompileScope) (Result, error)
}

// DevServerService starts the bundler and dev servers on first run.
type DevServerService interface {
	Run(ctx context.Context) (DevServersResult, error)
}

// PageRecreatorService reconciles page creation against mutations applied
// outside the normal sourcing flow.
type PageRecreatorService interface {
	Run(ctx context.Context, scope RecreateScope) (Result, error)
}

// Services bundles the collaborating pipelines invoked by the machine.
// The machine knows their inputs and completion results, nothing else.
type Services struct {
	Bootstrap     BootstrapService
	DataSource    DataSourceService
	PostBootstrap PostBootstrapService
	QueryRunner   QueryRunnerService
	Recompiler    RecompilerService
	DevServers    DevServerService
	PageRecreator PageRecreatorService
}

// SideProcess is a long-lived listener spawned once by the machine and never
// re-spawned: the mutation listener after bootstrap and the source watcher
// after dev-server startup. Unlike phase children, side processes outlive
// state transitions.
type SideProcess interface {
	Name() string
	Run(ctx context.Context) error
}
