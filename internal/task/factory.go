package task

import (
	"context"
	"fmt"
	"strings"

	"Ekronos-Agents/internal/config"
	xerrors "Ekronos-Agents/internal/errors"
)

// OpenStore 根据配置创建任务存储，driver 取值 memory|mysql|sqlite。
func OpenStore(cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "mysql":
		return NewMySQLStore(cfg.DSN)
	case "sqlite":
		return NewSQLiteStore(cfg.DSN)
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unsupported task store driver %q", cfg.Driver))
	}
}

// OpenQueue 根据配置创建任务队列，driver 取值 memory|redis|rabbitmq|nats。
func OpenQueue(ctx context.Context, cfg config.QueueConfig) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryQueue(cfg.Buffer), nil
	case "redis":
		return NewRedisQueue(ctx, RedisQueueConfig{
			Address:  cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Queue:    cfg.Redis.Prefix,
		})
	case "rabbitmq":
		return NewRabbitMQQueue(RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  true,
		})
	case "nats":
		return NewNATSQueue(NATSConfig{
			URL:     cfg.NATS.URL,
			Subject: cfg.NATS.Subject,
			Group:   cfg.NATS.Group,
			Buffer:  cfg.Buffer,
		})
	default:
		return nil, xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("unsupported task queue driver %q", cfg.Driver))
	}
}
