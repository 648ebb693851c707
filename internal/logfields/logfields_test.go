package logfields

import (
	"errors"
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"State", KeyState, "waiting", State("waiting")},
		{"PrevState", KeyPrevState, "runningQueries", PrevState("runningQueries")},
		{"Event", KeyEvent, "mutation_received", Event("mutation_received")},
		{"PhaseID", KeyPhaseID, "ph-1", PhaseID("ph-1")},
		{"Child", KeyChild, "bootstrap", Child("bootstrap")},
		{"MutationID", KeyMutationID, "m1", MutationID("m1")},
		{"Subject", KeySubject, "devloop.mutations", Subject("devloop.mutations")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

func TestNumericAndErrorHelpers(t *testing.T) {
	if v := BatchSize(3); v.Key != KeyBatchSize {
		t.Fatalf("BatchSize key mismatch: %s", v.Key)
	}
	if v := Paths(2); v.Key != KeyPaths {
		t.Fatalf("Paths key mismatch: %s", v.Key)
	}
	if v := Sequence(9); v.Key != KeySequence {
		t.Fatalf("Sequence key mismatch: %s", v.Key)
	}
	if v := Error(nil); v.Value.String() != "" {
		t.Fatalf("Error(nil) should render empty, got %q", v.Value.String())
	}
	if v := Error(errors.New("boom")); v.Value.String() != "boom" {
		t.Fatalf("Error should render message, got %q", v.Value.String())
	}
}
