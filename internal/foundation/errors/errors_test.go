package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifiedError_ErrorString(t *testing.T) {
	err := NewError(CategoryStore, "checkpoint failed").Build()
	require.Equal(t, "[store:error] checkpoint failed", err.Error())

	cause := errors.New("disk full")
	wrapped := WrapError(cause, CategoryStore, "checkpoint failed").Build()
	require.Equal(t, "[store:error] checkpoint failed: disk full", wrapped.Error())
	require.ErrorIs(t, wrapped, cause)
}

func TestClassifiedError_Classification(t *testing.T) {
	err := OrchestratorError("two phases active").Build()
	require.True(t, err.IsCategory(CategoryOrchestrator))
	require.True(t, err.IsFatal())
	require.False(t, err.CanRetry())

	retryable := ListenerError("nats disconnect").Build()
	require.True(t, retryable.CanRetry())
	require.Equal(t, RetryBackoff, retryable.RetryStrategy())
}

func TestClassifiedError_Context(t *testing.T) {
	err := ValidationError("quiet window must be > 0").
		WithContext("quiet_window", "0s").
		Build()

	v, ok := err.Context().GetString("quiet_window")
	require.True(t, ok)
	require.Equal(t, "0s", v)
}

func TestHasCategory(t *testing.T) {
	err := ChildError("bootstrap failed").Build()
	require.True(t, HasCategory(err, CategoryChild))
	require.False(t, HasCategory(err, CategoryStore))
	require.False(t, HasCategory(fmt.Errorf("plain"), CategoryChild))
	require.Equal(t, CategoryInternal, GetCategory(fmt.Errorf("plain")))
}
