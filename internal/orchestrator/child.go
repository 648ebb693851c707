package orchestrator

import (
	"context"
	"fmt"
)

// completion is the single message a phase child delivers back to the
// machine. Exactly one completion is sent per spawned child.
type completion struct {
	child  *child
	result Result
	err    error
}

// child is the handle to one spawned phase child. The machine communicates
// with it only through the scoped input passed at spawn time and the done
// channel; leaving the owning state cancels the scoped context and detaches.
type child struct {
	name   string
	cancel context.CancelFunc
	done   chan completion
}

// spawnChild starts fn as the active phase child. The done channel is
// buffered so a detached child can deliver its completion and exit without
// a receiver.
func (m *Machine) spawnChild(ctx context.Context, name string, fn func(context.Context) (Result, error)) {
	if m.active != nil {
		// Two concurrent phase children would break every store-access
		// guarantee the machine provides. This is a programming error,
		// not a runtime condition to recover from.
		panic(fmt.Sprintf("orchestrator: spawn %q while %q is still active", name, m.active.name))
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &child{
		name:   name,
		cancel: cancel,
		done:   make(chan completion, 1),
	}
	go func() {
		result, err := fn(cctx)
		c.done <- completion{child: c, result: result, err: err}
	}()
	m.active = c
}

// cancelActive cancels and detaches the active child, if any. A completion
// from a detached child is never observed; a re-entered state spawns a
// fresh instance.
func (m *Machine) cancelActive() {
	if m.active == nil {
		return
	}
	m.active.cancel()
	m.active = nil
	m.collector = nil
}

// activeDone returns the active child's completion channel, or nil (which
// blocks forever in a select) when no child is active.
func (m *Machine) activeDone() <-chan completion {
	if m.active == nil {
		return nil
	}
	return m.active.done
}
