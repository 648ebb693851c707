package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/devloop/internal/foundation/errors"
	"git.home.luguber.info/inful/devloop/internal/store"
)

func testMutation(id string) store.Mutation {
	return store.Mutation{
		ID:         id,
		Payload:    []byte(`{"node_id":"` + id + `"}`),
		ReceivedAt: time.Now(),
	}
}

func TestCollector_QuietWindowCompletesBatchInOrder(t *testing.T) {
	c, err := NewCollector(CollectorConfig{
		QuietWindow: 30 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}, nil)
	require.NoError(t, err)

	resultCh := make(chan WaitResult, 1)
	go func() {
		result, runErr := c.Run(context.Background())
		require.NoError(t, runErr)
		resultCh <- result
	}()

	c.AddMutation(testMutation("a"))
	c.AddMutation(testMutation("b"))
	c.AddMutation(testMutation("c"))

	select {
	case got := <-resultCh:
		require.Equal(t, "quiet", got.Cause)
		require.Len(t, got.Batch, 3)
		require.Equal(t, "a", got.Batch[0].ID)
		require.Equal(t, "b", got.Batch[1].ID)
		require.Equal(t, "c", got.Batch[2].ID)
		require.Equal(t, 3, got.EventCount)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quiet completion")
	}
}

func TestCollector_MaxDelayBoundsSteadyStream(t *testing.T) {
	c, err := NewCollector(CollectorConfig{
		QuietWindow: 100 * time.Millisecond, // would postpone forever under a steady stream
		MaxDelay:    150 * time.Millisecond,
	}, nil)
	require.NoError(t, err)

	resultCh := make(chan WaitResult, 1)
	go func() {
		result, runErr := c.Run(context.Background())
		require.NoError(t, runErr)
		resultCh <- result
	}()

	stop := make(chan struct{})
	go func() {
		i := 0
		for {
			select {
			case <-stop:
				return
			case <-time.After(30 * time.Millisecond):
				c.AddMutation(testMutation(string(rune('a' + i%26))))
				i++
			}
		}
	}()
	defer close(stop)

	select {
	case got := <-resultCh:
		require.Equal(t, "max_delay", got.Cause)
		require.NotEmpty(t, got.Batch)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for max delay completion")
	}
}

func TestCollector_TriggerCompletesImmediately(t *testing.T) {
	c, err := NewCollector(CollectorConfig{
		QuietWindow: 10 * time.Second,
		MaxDelay:    20 * time.Second,
	}, nil)
	require.NoError(t, err)

	resultCh := make(chan WaitResult, 1)
	go func() {
		result, runErr := c.Run(context.Background())
		require.NoError(t, runErr)
		resultCh <- result
	}()

	c.AddMutation(testMutation("a"))
	c.Trigger("admin")

	select {
	case got := <-resultCh:
		require.Equal(t, "admin", got.Cause)
		require.Len(t, got.Batch, 1)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for trigger completion")
	}
}

func TestCollector_SeedCountsAsInitialEvent(t *testing.T) {
	seed := []store.Mutation{testMutation("queued-1"), testMutation("queued-2")}
	c, err := NewCollector(CollectorConfig{
		QuietWindow: 30 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}, seed)
	require.NoError(t, err)

	resultCh := make(chan WaitResult, 1)
	go func() {
		result, runErr := c.Run(context.Background())
		require.NoError(t, runErr)
		resultCh <- result
	}()

	// No further events: the seed alone must arm the debounce.
	select {
	case got := <-resultCh:
		require.Equal(t, "quiet", got.Cause)
		require.Len(t, got.Batch, 2)
		require.Equal(t, "queued-1", got.Batch[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("seeded collector never completed")
	}
}

func TestCollector_FileChangeResetsWindowWithoutBatching(t *testing.T) {
	c, err := NewCollector(CollectorConfig{
		QuietWindow: 30 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}, nil)
	require.NoError(t, err)

	resultCh := make(chan WaitResult, 1)
	go func() {
		result, runErr := c.Run(context.Background())
		require.NoError(t, runErr)
		resultCh <- result
	}()

	c.NoteFileChange()

	select {
	case got := <-resultCh:
		require.Equal(t, "quiet", got.Cause)
		require.Empty(t, got.Batch)
		require.Equal(t, 1, got.EventCount)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quiet completion")
	}
}

func TestCollector_CancelAbandonsBatch(t *testing.T) {
	c, err := NewCollector(CollectorConfig{
		QuietWindow: 10 * time.Second,
		MaxDelay:    20 * time.Second,
	}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, runErr := c.Run(ctx)
		errCh <- runErr
	}()

	c.AddMutation(testMutation("a"))
	cancel()

	select {
	case runErr := <-errCh:
		require.ErrorIs(t, runErr, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for cancellation")
	}
}

func TestCollector_DrainRecoversMutationAddedAfterCompletion(t *testing.T) {
	c, err := NewCollector(CollectorConfig{
		QuietWindow: 30 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}, nil)
	require.NoError(t, err)

	resultCh := make(chan WaitResult, 1)
	go func() {
		result, runErr := c.Run(context.Background())
		require.NoError(t, runErr)
		resultCh <- result
	}()

	c.AddMutation(testMutation("a"))

	var got WaitResult
	select {
	case got = <-resultCh:
		require.Len(t, got.Batch, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for quiet completion")
	}

	// A mutation can still land between completion and the machine
	// consuming the result; it must be recoverable, not stranded.
	c.AddMutation(testMutation("late"))

	late := c.drain()
	require.Len(t, late, 1)
	require.Equal(t, "late", late[0].ID)
	require.Empty(t, c.drain(), "drain must hand each mutation out once")
}

func TestCollector_ConfigValidation(t *testing.T) {
	_, err := NewCollector(CollectorConfig{QuietWindow: 0, MaxDelay: time.Second}, nil)
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))

	_, err = NewCollector(CollectorConfig{QuietWindow: time.Second, MaxDelay: 0}, nil)
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
}
