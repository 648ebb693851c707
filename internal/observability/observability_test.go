package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestTracerProvider_SpanRoundtrip(t *testing.T) {
	tp := NewTracerProvider()

	ctx, span := tp.StartPhaseSpan(context.Background(), "initializingData", "ph-1")
	require.NotNil(t, span)

	got, ok := SpanFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, span, got)

	span.AddEvent("mutation applied")
	span.SetAttribute("mutations", 3)
	EndSpan(span, nil)
}

func TestEndSpan_RecordsError(t *testing.T) {
	tp := NewTracerProvider()
	_, span := tp.StartSpan(context.Background(), "phase.reloadingData")

	local, ok := span.(*LocalSpan)
	require.True(t, ok)

	EndSpan(span, errors.New("sourcing failed"))
	require.Error(t, local.err)
}

func TestLogContext_Accumulates(t *testing.T) {
	ctx := context.Background()
	ctx = WithState(ctx, "waiting")
	ctx = WithPhaseID(ctx, "ph-9")
	ctx = WithChild(ctx, "queryRunner")

	lc := GetContext(ctx)
	require.Equal(t, "waiting", lc.State)
	require.Equal(t, "ph-9", lc.PhaseID)
	require.Equal(t, "queryRunner", lc.Child)
}

func TestMetrics_RegisterAndRecord(t *testing.T) {
	reg := prom.NewRegistry()
	m := NewMetrics(reg)
	require.Same(t, reg, m.Registry())

	m.IncTransition("initializing", "initializingData")
	m.IncEvent("mutation_received", "waiting", DispositionForwarded)
	m.ObservePhaseDuration("runningQueries", 120*time.Millisecond)
	m.ObserveBatchSize(4)
	m.SetPendingMutations(2)
	m.IncCheckpoint()

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["devloop_state_transitions_total"])
	require.True(t, names["devloop_events_total"])
	require.True(t, names["devloop_phase_duration_seconds"])
	require.True(t, names["devloop_mutation_batch_size"])
	require.True(t, names["devloop_pending_mutations"])
	require.True(t, names["devloop_store_checkpoints_total"])
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.IncTransition("a", "b")
	m.IncEvent("e", "s", DispositionSuppressed)
	m.ObserveBatchSize(1)
	m.IncCheckpoint()
	require.Nil(t, m.Registry())
}
