// internal/browser/context_utils_test.go
package browser

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ctxKey string

func TestCombineContext(t *testing.T) {
	const key ctxKey = "target"

	t.Run("InheritsSessionValues", func(t *testing.T) {
		sessionCtx := context.WithValue(context.Background(), key, "tab-1")
		combined, cancel := CombineContext(sessionCtx, context.Background())
		defer cancel()

		assert.Equal(t, "tab-1", combined.Value(key))
		assert.NoError(t, combined.Err())
	})

	t.Run("CancelledBySession", func(t *testing.T) {
		sessionCtx, cancelSession := context.WithCancel(context.Background())
		combined, cancel := CombineContext(sessionCtx, context.Background())
		defer cancel()

		cancelSession()
		assert.Eventually(t, func() bool { return combined.Err() != nil }, time.Second, 5*time.Millisecond)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("OperationDeadlineCancels", func(t *testing.T) {
		opCtx, cancelOp := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancelOp()

		combined, cancel := CombineContext(context.Background(), opCtx)
		defer cancel()

		<-combined.Done()
		assert.ErrorIs(t, opCtx.Err(), context.DeadlineExceeded)
		assert.ErrorIs(t, combined.Err(), context.Canceled)
	})

	t.Run("SessionDeadlineIsKept", func(t *testing.T) {
		deadline := time.Now().Add(time.Minute)
		sessionCtx, cancelSession := context.WithDeadline(context.Background(), deadline)
		defer cancelSession()

		combined, cancel := CombineContext(sessionCtx, context.Background())
		defer cancel()

		got, ok := combined.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, deadline, got, time.Millisecond)
	})
}

func TestDetach(t *testing.T) {
	const key ctxKey = "target"

	parent, cancelParent := context.WithTimeout(context.WithValue(context.Background(), key, "tab-2"), 20*time.Millisecond)
	detached := Detach(parent)
	cancelParent()

	assert.Equal(t, "tab-2", detached.Value(key))
	assert.Nil(t, detached.Done())
	assert.NoError(t, detached.Err())
	_, ok := detached.Deadline()
	assert.False(t, ok)

	derived, cancelDerived := context.WithTimeout(detached, 20*time.Millisecond)
	defer cancelDerived()
	<-derived.Done()
	assert.ErrorIs(t, derived.Err(), context.DeadlineExceeded)
}
