package signals

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendCallsReceiversInOrder(t *testing.T) {
	d := NewDispatcher()
	var calls []string
	d.Connect(UserCreated, func(ctx context.Context, payload any) error {
		calls = append(calls, "first:"+payload.(string))
		return nil
	})
	d.Connect(UserCreated, func(ctx context.Context, payload any) error {
		calls = append(calls, "second:"+payload.(string))
		return nil
	})
	d.Connect(UserDeleted, func(ctx context.Context, payload any) error {
		calls = append(calls, "deleted")
		return nil
	})

	require.NoError(t, d.Send(context.Background(), UserCreated, "alice"))
	assert.Equal(t, []string{"first:alice", "second:alice"}, calls)
}

func TestSendJoinsErrors(t *testing.T) {
	d := NewDispatcher()
	errA := errors.New("a failed")
	var ranSecond bool
	d.Connect(ProjectCreated, func(ctx context.Context, payload any) error { return errA })
	d.Connect(ProjectCreated, func(ctx context.Context, payload any) error {
		ranSecond = true
		return nil
	})

	err := d.Send(context.Background(), ProjectCreated, nil)
	assert.ErrorIs(t, err, errA)
	assert.True(t, ranSecond)
}

func TestContextDispatcher(t *testing.T) {
	assert.NoError(t, Send(context.Background(), UserCreated, nil))

	d := NewDispatcher()
	var got any
	d.Connect(ProjectDeleted, func(ctx context.Context, payload any) error {
		got = payload
		return nil
	})

	ctx := WithDispatcher(context.Background(), d)
	fromCtx, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Same(t, d, fromCtx)

	require.NoError(t, Send(ctx, ProjectDeleted, 42))
	assert.Equal(t, 42, got)
}
