package orchestrator

// State identifies the active build phase. Exactly one state is active at
// any instant; each state owns at most one phase child.
type State string

const (
	// StateInitializing runs the bootstrap child. All external events are
	// suppressed: a full bootstrap subsumes any pending change.
	StateInitializing State = "initializing"

	// StateInitializingData runs first data sourcing and schema inference.
	// Mutations are applied to the store immediately so they land before
	// inference runs.
	StateInitializingData State = "initializingData"

	// StateRunningPostBootstrap runs the one-shot post-bootstrap hook.
	StateRunningPostBootstrap State = "runningPostBootstrap"

	// StateRunningQueries runs query execution. File changes are forwarded
	// to the active child and also mark the dirty flag.
	StateRunningQueries State = "runningQueries"

	// StateRecompiling rebuilds the bundle after source changes.
	StateRecompiling State = "recompiling"

	// StateStartingDevServers starts the bundler and dev servers on first run.
	StateStartingDevServers State = "startingDevServers"

	// StateWaiting is the idle steady state. Mutations and file changes are
	// forwarded to the idle collector; the store is checkpointed on entry.
	StateWaiting State = "waiting"

	// StateReloadingData re-sources all data after a webhook, pre-empting
	// whatever phase was active.
	StateReloadingData State = "reloadingData"

	// StateRecreatingPages reconciles page creation against mutations that
	// accumulated while idle.
	StateRecreatingPages State = "recreatingPages"
)

// guard is one entry of an ordered predicate list. Guards are evaluated
// top-to-bottom on phase completion; the first match wins.
type guard struct {
	name string
	when func(*BuildContext) bool
	next State
}

// postQueryGuards selects the phase after query execution. Order matters:
// a missing compiler always wins over a dirty source tree, because the
// dev-server startup performs its own initial compile.
var postQueryGuards = []guard{
	{name: "first_run", when: func(b *BuildContext) bool { return b.Compiler == nil }, next: StateStartingDevServers},
	{name: "source_dirty", when: func(b *BuildContext) bool { return b.SourceFilesDirty }, next: StateRecompiling},
	{name: "idle", when: func(b *BuildContext) bool { return true }, next: StateWaiting},
}

func evalGuards(guards []guard, b *BuildContext) (State, string) {
	for _, g := range guards {
		if g.when(b) {
			return g.next, g.name
		}
	}
	// The guard list always ends in an unconditional entry.
	return StateWaiting, "idle"
}
