package logfields

import "log/slog"

// Canonical log field name constants to avoid drift across packages.
const (
	KeyState      = "state"
	KeyPrevState  = "prev_state"
	KeyEvent      = "event"
	KeyPhaseID    = "phase_id"
	KeyChild      = "child"
	KeyBatchSize  = "batch_size"
	KeyPaths      = "paths"
	KeyMutationID = "mutation_id"
	KeySubject    = "subject"
	KeyDurationMS = "duration_ms"
	KeySequence   = "sequence"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func PrevState(s string) slog.Attr    { return slog.String(KeyPrevState, s) }
func Event(e string) slog.Attr        { return slog.String(KeyEvent, e) }
func PhaseID(id string) slog.Attr     { return slog.String(KeyPhaseID, id) }
func Child(name string) slog.Attr     { return slog.String(KeyChild, name) }
func BatchSize(n int) slog.Attr       { return slog.Int(KeyBatchSize, n) }
func Paths(n int) slog.Attr           { return slog.Int(KeyPaths, n) }
func MutationID(id string) slog.Attr  { return slog.String(KeyMutationID, id) }
func Subject(s string) slog.Attr      { return slog.String(KeySubject, s) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Sequence(n int64) slog.Attr      { return slog.Int64(KeySequence, n) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
