package events

import "time"

// MutationReceived carries a single content mutation raised by the mutation
// listener. Depending on the active build phase it is applied immediately,
// queued for the next rebuild, or absorbed by an in-flight bootstrap.
type MutationReceived struct {
	ID         string
	Payload    []byte
	ReceivedAt time.Time
}

// SourceFileChanged is raised by the source watcher when files under the
// watched roots change. Paths are deduplicated within the watcher's
// coalescing window but never across events.
type SourceFileChanged struct {
	Paths     []string
	ChangedAt time.Time
}

// WebhookReceived is raised by the webhook endpoint. It pre-empts whatever
// phase is active and forces a full data reload.
type WebhookReceived struct {
	Body       []byte
	ReceivedAt time.Time
}

// ExtractQueriesNow forces the idle collector to complete immediately and
// hand its batch to the next rebuild, regardless of debounce state. Raised
// by the admin endpoint or a scheduled trigger.
type ExtractQueriesNow struct {
	Reason      string
	RequestedAt time.Time
}

// StateTransitioned announces an orchestrator phase transition. Published
// for diagnostics and tests; nothing in the build loop depends on it.
type StateTransitioned struct {
	From  string
	To    string
	Guard string
	At    time.Time
}
