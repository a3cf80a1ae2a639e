package task

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Ekronos-Agents/internal/errors"
)

type failingProducer struct{}

func (failingProducer) Publish(context.Context, string) error { return assert.AnError }
func (failingProducer) Close() error                          { return nil }

func TestSubmitValidatesAndDefaults(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(4)
	service := NewService(NewMemoryStore(), queue)

	_, err := service.Submit(ctx, Request{Goal: "  "})
	require.Error(t, err)
	assert.Equal(t, CodeTaskValidation, xerrors.CodeOf(err))
	assert.Equal(t, 400, xerrors.HTTPStatusOf(err))

	task, err := service.Submit(ctx, Request{Goal: "hello", Context: map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, []string{}, task.Constraints)
	assert.NotEmpty(t, task.ID)
	assert.Equal(t, 1, queue.Len())
}

func TestSubmitIsIdempotentByID(t *testing.T) {
	ctx := context.Background()
	queue := NewMemoryQueue(4)
	service := NewService(NewMemoryStore(), queue)

	first, err := service.Submit(ctx, Request{ID: "fixed", Goal: "hello"})
	require.NoError(t, err)
	second, err := service.Submit(ctx, Request{ID: "fixed", Goal: "other"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "hello", second.Goal)
	assert.Equal(t, 1, queue.Len())
}

func TestSubmitPublishFailureMarksTaskFailed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	service := NewService(store, failingProducer{})

	_, err := service.Submit(ctx, Request{ID: "p1", Goal: "hello"})
	require.Error(t, err)
	assert.Equal(t, CodeTaskPublish, xerrors.CodeOf(err))

	task, err := service.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, task.Status)
	assert.Equal(t, string(CodeTaskPublish), task.ErrorCode)
}

func TestServiceNotConfigured(t *testing.T) {
	service := NewService(nil, nil)
	_, err := service.Submit(context.Background(), Request{Goal: "x"})
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
	_, err = service.Get(context.Background(), "x")
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
	assert.NoError(t, service.Close())
}

func TestGetMissingTaskMapsTo404(t *testing.T) {
	_, err := NewService(NewMemoryStore(), NewMemoryQueue(1)).Get(context.Background(), "nope")
	assert.True(t, IsTaskError(err, CodeTaskNotFound))
	assert.Equal(t, 404, xerrors.HTTPStatusOf(err))
}
