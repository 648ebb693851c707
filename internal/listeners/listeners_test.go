package listeners

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/devloop/internal/events"
)

func TestNewMutationListener_Validation(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	_, err := NewMutationListener(MutationListenerConfig{URL: "nats://localhost:4222", Subject: "s"}, nil)
	require.Error(t, err)

	_, err = NewMutationListener(MutationListenerConfig{Subject: "s"}, bus)
	require.Error(t, err)

	_, err = NewMutationListener(MutationListenerConfig{URL: "nats://localhost:4222"}, bus)
	require.Error(t, err)

	l, err := NewMutationListener(MutationListenerConfig{URL: "nats://localhost:4222", Subject: "s"}, bus)
	require.NoError(t, err)
	require.Equal(t, "mutation-listener", l.Name())
}

func TestMutationEvent_IDFromEnvelope(t *testing.T) {
	evt := mutationEvent([]byte(`{"mutation_id":"abc-123","node_id":"n1"}`))
	require.Equal(t, "abc-123", evt.ID)
	require.JSONEq(t, `{"mutation_id":"abc-123","node_id":"n1"}`, string(evt.Payload))
}

func TestMutationEvent_AssignsIDWhenMissing(t *testing.T) {
	first := mutationEvent([]byte(`{"node_id":"n1"}`))
	second := mutationEvent([]byte(`not even json`))

	require.NotEmpty(t, first.ID)
	require.NotEmpty(t, second.ID)
	require.NotEqual(t, first.ID, second.ID)
}

func TestSourceWatcher_CoalescesAndDeduplicates(t *testing.T) {
	dir := t.TempDir()

	bus := events.NewBus()
	defer bus.Close()

	changeCh, unsub := events.Subscribe[events.SourceFileChanged](bus, 16)
	defer unsub()

	w, err := NewSourceWatcher(SourceWatcherConfig{
		Roots:    []string{dir},
		Coalesce: 50 * time.Millisecond,
	}, bus)
	require.NoError(t, err)
	require.Equal(t, "source-watcher", w.Name())

	ctx := context.Background()
	go func() { _ = w.Run(ctx) }()

	// Give the watcher time to establish its watch set.
	time.Sleep(100 * time.Millisecond)

	target := filepath.Join(dir, "page.js")
	require.NoError(t, os.WriteFile(target, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("ab"), 0o644))
	require.NoError(t, os.WriteFile(target, []byte("abc"), 0o644))

	select {
	case evt := <-changeCh:
		require.Contains(t, evt.Paths, target)
		// Repeated writes to one file within the window collapse.
		require.Len(t, evt.Paths, 1)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for coalesced change event")
	}
}

func TestSourceWatcher_IgnorePatterns(t *testing.T) {
	dir := t.TempDir()

	bus := events.NewBus()
	defer bus.Close()

	changeCh, unsub := events.Subscribe[events.SourceFileChanged](bus, 16)
	defer unsub()

	w, err := NewSourceWatcher(SourceWatcherConfig{
		Roots:    []string{dir},
		Ignore:   []string{"*.swp"},
		Coalesce: 50 * time.Millisecond,
	}, bus)
	require.NoError(t, err)

	ctx := context.Background()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".page.js.swp"), []byte("x"), 0o644))
	kept := filepath.Join(dir, "page.js")
	require.NoError(t, os.WriteFile(kept, []byte("x"), 0o644))

	select {
	case evt := <-changeCh:
		require.Contains(t, evt.Paths, kept)
		for _, p := range evt.Paths {
			require.NotContains(t, p, ".swp")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestSourceWatcher_WatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()

	bus := events.NewBus()
	defer bus.Close()

	changeCh, unsub := events.Subscribe[events.SourceFileChanged](bus, 16)
	defer unsub()

	w, err := NewSourceWatcher(SourceWatcherConfig{
		Roots:    []string{dir},
		Coalesce: 50 * time.Millisecond,
	}, bus)
	require.NoError(t, err)

	ctx := context.Background()
	go func() { _ = w.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)

	sub := filepath.Join(dir, "pages")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(150 * time.Millisecond)

	nested := filepath.Join(sub, "index.js")
	require.NoError(t, os.WriteFile(nested, []byte("x"), 0o644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case evt := <-changeCh:
			for _, p := range evt.Paths {
				if p == nested {
					return
				}
			}
		case <-deadline:
			t.Fatal("change inside new directory never observed")
		}
	}
}

func TestNewSourceWatcher_Validation(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	_, err := NewSourceWatcher(SourceWatcherConfig{}, bus)
	require.Error(t, err)

	_, err = NewSourceWatcher(SourceWatcherConfig{Roots: []string{"."}}, nil)
	require.Error(t, err)
}
