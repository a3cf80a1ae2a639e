package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/observability/alerting"
	"Ekronos-Agents/internal/orchestrator"
)

type fakeExecutor struct {
	processed atomic.Int32
	latency   time.Duration
	fail      func(goal string) error
}

func (f *fakeExecutor) Run(ctx context.Context, in orchestrator.RunInput) (*orchestrator.RunResult, error) {
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.processed.Add(1)
	if f.fail != nil {
		if err := f.fail(in.Goal); err != nil {
			return nil, err
		}
	}
	return &orchestrator.RunResult{TraceID: "trace-" + in.Goal, Targets: []string{"economy"}}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (r *recordingDispatcher) Notify(_ context.Context, e alerting.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingDispatcher) snapshot() []alerting.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerting.Event(nil), r.events...)
}

func startProcessor(t *testing.T, exec Executor, store Store, queue Queue, opts ...ProcessorOption) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	processor := NewProcessor(exec, store, queue, opts...)
	go func() {
		defer close(done)
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("processor exited: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestProcessorHandlesConcurrentTasks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(1024)
	exec := &fakeExecutor{latency: 5 * time.Millisecond}
	service := NewService(store, queue)
	startProcessor(t, exec, store, queue, WithWorkerCount(8))

	total := 100
	submitted := make([]string, 0, total)
	for i := 0; i < total; i++ {
		task, err := service.Submit(ctx, Request{Goal: fmt.Sprintf("goal-%d", i)})
		require.NoError(t, err)
		submitted = append(submitted, task.ID)
	}

	for _, id := range submitted {
		task, err := service.WaitUntilCompleted(ctx, id, 5*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, StatusSucceeded, task.Status)
		require.NotNil(t, task.Result)
		assert.Equal(t, "trace-"+task.Goal, task.Result.TraceID)
		assert.Equal(t, 1, task.Attempts)
	}
	assert.EqualValues(t, total, exec.processed.Load())
}

func TestProcessorFailureIsTerminalAndAlerts(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	exec := &fakeExecutor{fail: func(goal string) error {
		return xerrors.New(xerrors.CodeUpstream, "LLM error: boom")
	}}
	alerts := &recordingDispatcher{}
	service := NewService(store, queue)
	startProcessor(t, exec, store, queue, WithAlertDispatcher(alerts))

	task, err := service.Submit(ctx, Request{Goal: "hello"})
	require.NoError(t, err)
	done, err := service.WaitUntilCompleted(ctx, task.ID, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, string(xerrors.CodeUpstream), done.ErrorCode)
	assert.Contains(t, done.LastError, "LLM error: boom")

	// 再次投递同一任务不会重新执行。
	require.NoError(t, queue.Publish(ctx, task.ID))
	require.Eventually(t, func() bool { return queue.Len() == 0 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, exec.processed.Load())

	events := alerts.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, task.ID, events[0].TaskID)
	assert.Equal(t, "hello", events[0].Goal)
	assert.Equal(t, xerrors.CodeUpstream, events[0].Code)
	assert.Equal(t, "run", events[0].Metadata["stage"])
}

func TestProcessorTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore()
	queue := NewMemoryQueue(8)
	exec := &fakeExecutor{latency: time.Second}
	service := NewService(store, queue)
	startProcessor(t, exec, store, queue, WithTaskTimeout(20*time.Millisecond))

	task, err := service.Submit(ctx, Request{Goal: "slow"})
	require.NoError(t, err)
	done, err := service.WaitUntilCompleted(ctx, task.ID, 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, string(CodeTaskProcessing), done.ErrorCode)
	assert.Contains(t, done.LastError, "deadline exceeded")
}

func TestProcessorWithoutConsumer(t *testing.T) {
	err := NewProcessor(&fakeExecutor{}, NewMemoryStore(), nil).Start(context.Background())
	assert.Equal(t, xerrors.CodeConfiguration, xerrors.CodeOf(err))
}
