package task

import (
	"context"
	"log/slog"

	"Ekronos-Agents/pkg/logger"
)

// Handler 处理来自消息队列的任务 ID。
type Handler func(ctx context.Context, taskID string) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, taskID string) error
	Close() error
}

// Consumer 负责从队列中消费任务。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}

// 任务只执行一次，处理失败的消息不会重新入队，只记录日志。
func logHandlerError(queue, taskID string, err error) {
	if err == nil {
		return
	}
	logger.Named("task-queue").Error("任务处理失败",
		slog.String("queue", queue),
		slog.String("task_id", taskID),
		slog.Any("error", err),
	)
}
