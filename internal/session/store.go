package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound 表示会话不存在或已过期。
var ErrNotFound = errors.New("session not found")

// Store 以会话 ID 为键保存访问令牌。
type Store interface {
	Get(ctx context.Context, id string) (string, error)
	Put(ctx context.Context, id, token string, ttl time.Duration) error
	Expire(ctx context.Context, id string) error
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

// MemoryStore 是进程内的 Store 实现，过期条目在读取时清理。
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore 创建内存会话存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get 返回会话对应的令牌。
func (s *MemoryStore) Get(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return "", ErrNotFound
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, id)
		return "", ErrNotFound
	}
	return entry.token, nil
}

// Put 写入令牌，ttl<=0 表示永不过期。
func (s *MemoryStore) Put(_ context.Context, id, token string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := memoryEntry{token: token}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[id] = entry
	return nil
}

// Expire 删除会话，不存在时不报错。
func (s *MemoryStore) Expire(_ context.Context, id string) error {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
	return nil
}

// RedisConfig 描述 Redis 会话存储的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// RedisStore 使用 Redis 字符串键保存会话，过期由 Redis 负责。
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore 连接 Redis 并创建会话存储。
func NewRedisStore(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "ekronos:session:"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// Get 读取令牌。
func (s *RedisStore) Get(ctx context.Context, id string) (string, error) {
	token, err := s.client.Get(ctx, s.prefix+id).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("读取会话失败: %w", err)
	}
	return token, nil
}

// Put 通过 SET EX 写入令牌。
func (s *RedisStore) Put(ctx context.Context, id, token string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, s.prefix+id, token, ttl).Err(); err != nil {
		return fmt.Errorf("写入会话失败: %w", err)
	}
	return nil
}

// Expire 删除会话键。
func (s *RedisStore) Expire(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.prefix+id).Err(); err != nil {
		return fmt.Errorf("删除会话失败: %w", err)
	}
	return nil
}

// Close 关闭底层连接。
func (s *RedisStore) Close() error {
	return s.client.Close()
}
