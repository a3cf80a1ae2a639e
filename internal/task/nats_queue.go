package task

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
)

// NATSConfig 描述 NATS 队列组的连接参数。
type NATSConfig struct {
	URL     string
	Subject string
	Group   string
	// Buffer 是订阅端本地缓冲的消息数。
	Buffer int
}

// NATSQueue 基于 NATS 队列组分发任务，同组内每条消息只投递给一个订阅者。
// 核心 NATS 不持久化消息，消费者离线期间发布的任务会丢失。
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
	buffer  int
}

// NewNATSQueue 连接 NATS 服务器。
func NewNATSQueue(cfg NATSConfig) (*NATSQueue, error) {
	if cfg.URL == "" {
		return nil, errors.New("NATS URL 不能为空")
	}
	subject := cfg.Subject
	if subject == "" {
		subject = "ekronos.tasks"
	}
	group := cfg.Group
	if group == "" {
		group = "ekronos-workers"
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	conn, err := nats.Connect(cfg.URL, nats.Name("ekronos-tasks"))
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	return &NATSQueue{conn: conn, subject: subject, group: group, buffer: buffer}, nil
}

// Publish 发布任务 ID 并等待服务器确认已收到。
func (q *NATSQueue) Publish(ctx context.Context, taskID string) error {
	if q == nil || q.conn == nil {
		return errors.New("NATS 队列未初始化")
	}
	if err := q.conn.Publish(q.subject, []byte(taskID)); err != nil {
		return fmt.Errorf("NATS 发布任务失败: %w", err)
	}
	if err := q.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("NATS flush 失败: %w", err)
	}
	return nil
}

// Consume 以队列组订阅主题，并由 workerCount 个协程处理消息。
func (q *NATSQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.conn == nil {
		return errors.New("NATS 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	msgs := make(chan *nats.Msg, q.buffer)
	sub, err := q.conn.ChanQueueSubscribe(q.subject, q.group, msgs)
	if err != nil {
		return fmt.Errorf("订阅 NATS 主题失败: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	var wg sync.WaitGroup
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-msgs:
					taskID := string(msg.Data)
					logHandlerError(q.subject, taskID, handler(ctx, taskID))
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

// Close 排空并关闭连接。
func (q *NATSQueue) Close() error {
	if q == nil || q.conn == nil {
		return nil
	}
	if err := q.conn.Drain(); err != nil {
		q.conn.Close()
		return err
	}
	return nil
}

var _ Queue = (*NATSQueue)(nil)
