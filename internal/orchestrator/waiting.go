package orchestrator

import (
	"context"
	"sync"
	"time"

	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
	"git.home.luguber.info/inful/devloop/internal/store"
)

// WaitResult is the idle collector's completion value: the full ordered
// batch of mutations to apply, plus timing diagnostics.
type WaitResult struct {
	Batch      []store.Mutation
	Cause      string // "quiet", "max_delay" or a trigger reason
	EventCount int
	FirstEvent time.Time
	LastEvent  time.Time
}

// CollectorConfig configures the idle collector's debounce behavior.
type CollectorConfig struct {
	// QuietWindow completes the collector once no event has arrived for
	// this long.
	QuietWindow time.Duration
	// MaxDelay bounds how long a steady stream of events can postpone
	// completion, measured from the first event.
	MaxDelay time.Duration
}

// Collector batches mutation and file-change events while the machine is
// idle, without disturbing its steady state. It completes with the full
// batch either when the quiet window elapses after the last event (bounded
// by the max delay) or on an explicit trigger.
//
// The machine forwards events by calling AddMutation, NoteFileChange and
// Trigger from its loop; those calls never block. Run is the child body.
type Collector struct {
	cfg CollectorConfig

	mu         sync.Mutex
	batch      []store.Mutation
	eventCount int
	firstAt    time.Time
	lastAt     time.Time

	notify  chan struct{}
	trigger chan string
}

// NewCollector creates a collector seeded with any residual queued batch.
// A non-empty seed counts as an initial event so residual mutations are
// never stranded waiting for fresh activity.
func NewCollector(cfg CollectorConfig, seed []store.Mutation) (*Collector, error) {
	if cfg.QuietWindow <= 0 {
		return nil, ferrors.ValidationError("quiet window must be > 0").Build()
	}
	if cfg.MaxDelay <= 0 {
		return nil, ferrors.ValidationError("max delay must be > 0").Build()
	}

	c := &Collector{
		cfg:     cfg,
		batch:   append([]store.Mutation(nil), seed...),
		notify:  make(chan struct{}, 1),
		trigger: make(chan string, 1),
	}
	if len(seed) > 0 {
		now := time.Now()
		c.eventCount = len(seed)
		c.firstAt = now
		c.lastAt = now
		c.poke()
	}
	return c, nil
}

// AddMutation appends a mutation to the in-progress batch in arrival order
// and resets the quiet window.
func (c *Collector) AddMutation(m store.Mutation) {
	c.mu.Lock()
	c.batch = append(c.batch, m)
	c.observeEventLocked()
	c.mu.Unlock()
	c.poke()
}

// NoteFileChange records file-change activity. It resets the quiet window
// but contributes nothing to the batch: recompilation is selected by the
// machine's dirty flag, not by the batch.
func (c *Collector) NoteFileChange() {
	c.mu.Lock()
	c.observeEventLocked()
	c.mu.Unlock()
	c.poke()
}

// Trigger forces immediate completion regardless of debounce state.
func (c *Collector) Trigger(reason string) {
	if reason == "" {
		reason = "trigger"
	}
	select {
	case c.trigger <- reason:
	default:
	}
}

// drain takes whatever accumulated after completion. The machine's select
// can deliver a buffered mutation ahead of the completion message, in which
// case AddMutation lands on an already-completed collector; drain recovers
// those so they join the batch instead of vanishing with the collector.
func (c *Collector) drain() []store.Mutation {
	c.mu.Lock()
	defer c.mu.Unlock()

	batch := c.batch
	c.batch = nil
	return batch
}

func (c *Collector) observeEventLocked() {
	now := time.Now()
	if c.eventCount == 0 {
		c.firstAt = now
	}
	c.eventCount++
	c.lastAt = now
}

func (c *Collector) poke() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Run blocks until the collector decides enough has accumulated. It is
// spawned as the Waiting state's child; cancelling the context abandons the
// in-progress batch (a webhook reload re-derives everything from source).
func (c *Collector) Run(ctx context.Context) (WaitResult, error) {
	quietTimer := time.NewTimer(time.Hour)
	stopTimer(quietTimer)
	maxTimer := time.NewTimer(time.Hour)
	stopTimer(maxTimer)

	var (
		quietC <-chan time.Time
		maxC   <-chan time.Time
	)

	for {
		select {
		case <-ctx.Done():
			return WaitResult{}, ctx.Err()

		case <-c.notify:
			resetTimer(quietTimer, c.cfg.QuietWindow)
			quietC = quietTimer.C
			if maxC == nil {
				resetTimer(maxTimer, c.cfg.MaxDelay)
				maxC = maxTimer.C
			}

		case <-quietC:
			return c.complete("quiet"), nil

		case <-maxC:
			return c.complete("max_delay"), nil

		case reason := <-c.trigger:
			return c.complete(reason), nil
		}
	}
}

func (c *Collector) complete(cause string) WaitResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := WaitResult{
		Batch:      c.batch,
		Cause:      cause,
		EventCount: c.eventCount,
		FirstEvent: c.firstAt,
		LastEvent:  c.lastAt,
	}
	c.batch = nil
	return result
}

func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, after time.Duration) {
	stopTimer(t)
	t.Reset(after)
}
