package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/pkg/logger"
)

// DefaultTTL 是会话与 cookie 的默认有效期。
const DefaultTTL = 24 * time.Hour

// Manager 负责创建、解析与销毁会话。
type Manager struct {
	store  Store
	signer *Signer
	ttl    time.Duration
	audit  *slog.Logger
}

// NewManager 构造会话管理器，ttl<=0 时使用 DefaultTTL。
func NewManager(store Store, secret string, ttl time.Duration) *Manager {
	if store == nil {
		store = NewMemoryStore()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, signer: NewSigner(secret), ttl: ttl, audit: logger.Audit()}
}

// TTL 返回会话有效期，供 cookie MaxAge 使用。
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Create 保存访问令牌并返回签名后的 cookie 值。
func (m *Manager) Create(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "access token required")
	}
	id, err := newID()
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUnknown, err, "生成会话 ID 失败")
	}
	if err := m.store.Put(ctx, id, token, m.ttl); err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "保存会话失败")
	}
	m.audit.Info("session created", slog.String("session_id", id[:8]))
	return m.signer.Sign(id), nil
}

// Token 根据 cookie 值查找访问令牌；无效或过期的会话返回 CodeUnauthorized。
func (m *Manager) Token(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", xerrors.New(xerrors.CodeUnauthorized, "Not authenticated")
	}
	id, err := m.signer.Verify(value)
	if err != nil {
		return "", xerrors.New(xerrors.CodeUnauthorized, "Not authenticated")
	}
	token, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return "", xerrors.New(xerrors.CodeUnauthorized, "Not authenticated")
	}
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取会话失败")
	}
	return token, nil
}

// Destroy 使 cookie 对应的会话失效；签名无效的值被忽略。
func (m *Manager) Destroy(ctx context.Context, value string) error {
	id, err := m.signer.Verify(value)
	if err != nil {
		return nil
	}
	if err := m.store.Expire(ctx, id); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除会话失败")
	}
	return nil
}

func newID() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
