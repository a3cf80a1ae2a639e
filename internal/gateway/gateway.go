// Package gateway forwards validated agent artifacts to the deployment
// gateways over HTTP.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/schema"
	"Ekronos-Agents/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// Result 描述一次转发的结果。Response 为网关返回的 JSON，非 JSON 时为 {"raw": text}。
type Result struct {
	StatusCode int
	Response   any
}

// Forwarder 把 JSON 载荷 POST 到固定的网关地址。
type Forwarder struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// Option 定义可选的转发器配置。
type Option func(*Forwarder)

// WithHTTPClient 指定自定义 HTTP 客户端。
func WithHTTPClient(c *http.Client) Option {
	return func(f *Forwarder) {
		if c != nil {
			f.client = c
		}
	}
}

// WithTimeout 设置默认 HTTP 客户端的超时时间。
func WithTimeout(d time.Duration) Option {
	return func(f *Forwarder) {
		if d > 0 {
			f.client = &http.Client{Timeout: d}
		}
	}
}

// New 创建转发器。url 为空时 Forward 返回配置错误。
func New(url string, opts ...Option) *Forwarder {
	f := &Forwarder{
		url:    strings.TrimSpace(url),
		client: &http.Client{Timeout: defaultTimeout},
		log:    logger.Named("gateway"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	return f
}

// URL 返回目标地址。
func (f *Forwarder) URL() string { return f.url }

// Forward 发送载荷。网关返回 >= 400 或网络失败时返回 CodeUpstream 错误（HTTP 502）。
func (f *Forwarder) Forward(ctx context.Context, payload any) (*Result, error) {
	if f.url == "" {
		return nil, xerrors.New(xerrors.CodeConfiguration, "gateway url is not configured")
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode gateway payload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfiguration, err, "build gateway request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		f.log.Warn("gateway request failed", slog.String("url", f.url), slog.Any("error", err))
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, fmt.Sprintf("Gateway error: %v", err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeUpstream, err, fmt.Sprintf("Gateway error: %v", err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		f.log.Warn("gateway rejected payload",
			slog.String("url", f.url), slog.Int("status", resp.StatusCode))
		return nil, xerrors.New(xerrors.CodeUpstream,
			fmt.Sprintf("Gateway error: HTTP %d body=%s", resp.StatusCode, string(raw)),
			xerrors.StatusMetadata(resp.StatusCode))
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = map[string]any{"raw": string(raw)}
	}
	logger.Audit().Info("gateway forward",
		slog.String("url", f.url),
		slog.Int("status", resp.StatusCode),
		slog.Duration("elapsed", time.Since(start)),
	)
	return &Result{StatusCode: resp.StatusCode, Response: decoded}, nil
}

// CoerceMintAmount 规范化 VFT 载荷中的 mint_amount：整数转为十进制字符串，
// 纯数字字符串保持不变，其余取值返回 CodeInvalidArgument。载荷会被原地修改。
func CoerceMintAmount(vft map[string]any) error {
	switch v := vft["mint_amount"].(type) {
	case string:
		if !schema.IsUintString(v) {
			return xerrors.New(xerrors.CodeInvalidArgument, "Invalid mint_amount: must be digits-only base10 string.")
		}
	case json.Number:
		if !schema.IsUintString(v.String()) {
			return xerrors.New(xerrors.CodeInvalidArgument, "Invalid mint_amount type: must be digits-only string or int.")
		}
		vft["mint_amount"] = v.String()
	case int:
		vft["mint_amount"] = fmt.Sprint(v)
	case int64:
		vft["mint_amount"] = fmt.Sprint(v)
	default:
		return xerrors.New(xerrors.CodeInvalidArgument, "Invalid mint_amount type: must be digits-only string or int.")
	}
	return nil
}

// RegisteredToken 从网关响应的 data.registered_token 中读取已注册的代币地址。
func RegisteredToken(response any) (string, bool) {
	obj, ok := response.(map[string]any)
	if !ok {
		return "", false
	}
	data, ok := obj["data"].(map[string]any)
	if !ok {
		return "", false
	}
	rt, ok := data["registered_token"].(string)
	if !ok || !schema.IsHexAddress(strings.TrimSpace(rt)) {
		return "", false
	}
	return rt, true
}
