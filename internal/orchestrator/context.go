package orchestrator

import (
	"git.home.luguber.info/inful/devloop/internal/observability"
	"git.home.luguber.info/inful/devloop/internal/store"
)

// CompilerHandle is the running bundler instance. Opaque to the core; its
// presence is a state-selection guard. It transitions only from absent to
// present and is never cleared for the process lifetime.
type CompilerHandle any

// WorkerPoolHandle is the query worker pool produced by bootstrap. Opaque to
// the core.
type WorkerPoolHandle any

// DevServerHandles are the bundler dev server and the live-reload server,
// assigned once after the first successful dev-server startup.
type DevServerHandles struct {
	Bundler    any
	LiveReload any
}

// BuildContext is the shared mutable record owned by the machine for the
// process lifetime. Spawned children receive scoped views of it, never the
// record itself; only the machine goroutine mutates it.
type BuildContext struct {
	Store       *store.Store
	Checkpoints *store.CheckpointStore
	WorkerPool  WorkerPoolHandle

	// TracingSpan is the current phase span, closed and replaced across
	// phase boundaries.
	TracingSpan observability.Span

	// WebhookBody is non-empty only between a webhook event and the
	// completion of the subsequent reload phase.
	WebhookBody []byte

	// PendingMutationBatch holds mutations queued for the next rebuild in
	// arrival order. It is drained as a whole when a rebuild begins.
	PendingMutationBatch []store.Mutation

	// SourceFilesDirty is set on any file change observed outside an active
	// recompilation and cleared once recompilation completes.
	SourceFilesDirty bool

	Compiler   CompilerHandle
	DevServers DevServerHandles

	// LastServiceResult is the most recent completed child result, consumed
	// by the next phase's entry logic.
	LastServiceResult Result
}

// queueMutation appends to the pending batch, preserving arrival order.
func (b *BuildContext) queueMutation(m store.Mutation) {
	b.PendingMutationBatch = append(b.PendingMutationBatch, m)
}

// drainBatch hands the whole pending batch to a rebuild and clears it.
func (b *BuildContext) drainBatch() []store.Mutation {
	batch := b.PendingMutationBatch
	b.PendingMutationBatch = nil
	return batch
}
