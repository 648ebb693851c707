package observability

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promcollect "github.com/prometheus/client_golang/prometheus/collectors"
)

// EventDisposition labels what the orchestrator did with an external event.
type EventDisposition string

const (
	DispositionApplied    EventDisposition = "applied"
	DispositionQueued     EventDisposition = "queued"
	DispositionForwarded  EventDisposition = "forwarded"
	DispositionSuppressed EventDisposition = "suppressed"
)

// Metrics implements build-loop metrics on a dedicated Prometheus registry.
type Metrics struct {
	once     sync.Once
	registry *prom.Registry

	transitions   *prom.CounterVec
	eventsTotal   *prom.CounterVec
	phaseDuration *prom.HistogramVec
	batchSize     prom.Histogram
	currentState  *prom.GaugeVec
	pendingBatch  prom.Gauge
	checkpoints   prom.Counter
}

// NewMetrics constructs and registers devloop metrics (idempotent).
func NewMetrics(reg *prom.Registry) *Metrics {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	m := &Metrics{registry: reg}
	m.once.Do(func() {
		m.transitions = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "devloop",
			Name:      "state_transitions_total",
			Help:      "State transitions by source and target state",
		}, []string{"from", "to"})
		m.eventsTotal = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "devloop",
			Name:      "events_total",
			Help:      "External events by kind, active state and disposition",
		}, []string{"event", "state", "disposition"})
		m.phaseDuration = prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "devloop",
			Name:      "phase_duration_seconds",
			Help:      "Duration of completed build phases",
			Buckets:   prom.DefBuckets,
		}, []string{"phase"})
		m.batchSize = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "devloop",
			Name:      "mutation_batch_size",
			Help:      "Size of mutation batches handed to rebuild phases",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		})
		m.currentState = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "devloop",
			Name:      "current_state",
			Help:      "1 for the active orchestrator state, 0 otherwise",
		}, []string{"state"})
		m.pendingBatch = prom.NewGauge(prom.GaugeOpts{
			Namespace: "devloop",
			Name:      "pending_mutations",
			Help:      "Mutations queued for the next rebuild",
		})
		m.checkpoints = prom.NewCounter(prom.CounterOpts{
			Namespace: "devloop",
			Name:      "store_checkpoints_total",
			Help:      "Store checkpoints persisted on idle entry",
		})
		reg.MustRegister(m.transitions, m.eventsTotal, m.phaseDuration, m.batchSize, m.currentState, m.pendingBatch, m.checkpoints)
		reg.MustRegister(promcollect.NewGoCollector(), promcollect.NewProcessCollector(promcollect.ProcessCollectorOpts{}))
	})
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prom.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	m.currentState.WithLabelValues(from).Set(0)
	m.currentState.WithLabelValues(to).Set(1)
}

func (m *Metrics) IncEvent(event, state string, disposition EventDisposition) {
	if m == nil || m.eventsTotal == nil {
		return
	}
	m.eventsTotal.WithLabelValues(event, state, string(disposition)).Inc()
}

func (m *Metrics) ObservePhaseDuration(phase string, d time.Duration) {
	if m == nil || m.phaseDuration == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (m *Metrics) ObserveBatchSize(n int) {
	if m == nil || m.batchSize == nil {
		return
	}
	m.batchSize.Observe(float64(n))
}

func (m *Metrics) SetPendingMutations(n int) {
	if m == nil || m.pendingBatch == nil {
		return
	}
	m.pendingBatch.Set(float64(n))
}

func (m *Metrics) IncCheckpoint() {
	if m == nil || m.checkpoints == nil {
		return
	}
	m.checkpoints.Inc()
}
