package task

import (
	"context"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/orchestrator"
)

// Store 抽象了任务状态的持久化接口。
type Store interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Claim 把 pending 任务切换为 running；其他状态分别返回
	// ErrTaskConflict（已在运行）或 ErrTaskFinished。
	Claim(ctx context.Context, id string) (*Task, error)
	MarkSucceeded(ctx context.Context, id string, result *orchestrator.RunResult) error
	MarkFailed(ctx context.Context, id string, code xerrors.Code, lastError string) error
	List(ctx context.Context, opts ListOptions) ([]*Task, error)
	Stats(ctx context.Context, opts ListOptions) (TaskStats, error)
	Close() error
}
