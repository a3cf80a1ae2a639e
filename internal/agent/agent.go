package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/knowledge"
	"Ekronos-Agents/internal/llm"
	"Ekronos-Agents/pkg/logger"
)

// Agent 名称。studio 部署使用前五个，deployer 部署使用后两个。
const (
	SmartProgram = "smart_program"
	Frontend     = "frontend"
	Server       = "server"
	Indexer      = "indexer"
	Economy      = "economy"
	VFTDeployer  = "vft_deployer"
	Liquidity    = "liquidity"
)

// Request 是一次编排运行内所有 agent 共享的只读输入。
type Request struct {
	TraceID     string         `json:"trace_id"`
	Goal        string         `json:"goal"`
	Constraints []string       `json:"constraints"`
	Context     map[string]any `json:"context"`
	Artifacts   map[string]any `json:"artifacts"`
}

// Response 是 agent 的输出。Result 为可 JSON 序列化的对象，结构化 agent 总是包含 ok 字段。
type Response struct {
	Agent   string         `json:"agent"`
	Summary string         `json:"summary"`
	Result  map[string]any `json:"result"`
}

// Agent 对一个 Request 执行一次 LLM 调用并返回 Response。
// 模型输出不合规时以 Result.ok=false 表达，只有传输层失败才返回 error。
type Agent interface {
	Name() string
	Run(ctx context.Context, req *Request) (*Response, error)
}

// Option 定义可选的 agent 配置。
type Option func(*settings)

type settings struct {
	model    string
	effort   string
	training knowledge.Provider
	log      *slog.Logger
}

// WithModel 覆盖该 agent 使用的模型名，空值表示使用提供方默认模型。
func WithModel(model string) Option {
	return func(s *settings) {
		s.model = model
	}
}

// WithReasoningEffort 覆盖默认的推理强度。
func WithReasoningEffort(effort string) Option {
	return func(s *settings) {
		s.effort = effort
	}
}

// WithTraining 配置训练语料来源，仅 smart_program 使用。
func WithTraining(p knowledge.Provider) Option {
	return func(s *settings) {
		s.training = p
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) {
		s.log = l
	}
}

// base 封装所有 agent 共有的 LLM 调用逻辑。
type base struct {
	name string
	llm  llm.Client
	settings
}

func newBase(name string, client llm.Client, defaultEffort string, opts []Option) base {
	b := base{name: name, llm: client, settings: settings{effort: defaultEffort}}
	for _, opt := range opts {
		if opt != nil {
			opt(&b.settings)
		}
	}
	if b.log == nil {
		b.log = logger.Named("agent")
	}
	b.log = b.log.With(slog.String("agent", name))
	return b
}

// Name 返回 agent 名称。
func (b *base) Name() string { return b.name }

func (b *base) complete(ctx context.Context, req *Request, system, user string) (string, error) {
	if b.llm == nil {
		return "", xerrors.New(xerrors.CodeConfiguration, "未配置大模型客户端")
	}
	// 调用本身不设超时，只受调用方 ctx 约束。
	start := time.Now()
	raw, err := b.llm.Complete(ctx, llm.Prompt{
		Model:           b.model,
		System:          system,
		User:            user,
		ReasoningEffort: b.effort,
	})
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return "", xerrors.Wrap(xerrors.CodeTimeout, err, fmt.Sprintf("%s: 大模型推理超时", b.name))
		}
		return "", xerrors.Wrap(xerrors.CodeUpstream, err, fmt.Sprintf("%s: 大模型推理失败", b.name))
	}
	logger.WithTrace(b.log, req.TraceID).Debug("llm completed",
		slog.Duration("elapsed", time.Since(start)),
		slog.Int("chars", len(raw)),
	)
	return raw, nil
}

func (b *base) respond(summary string, result map[string]any) *Response {
	return &Response{Agent: b.name, Summary: summary, Result: result}
}

// nonJSON 表示模型输出中找不到 JSON 对象。
func nonJSON(raw string) map[string]any {
	return map[string]any{"ok": false, "raw": raw}
}

// invalid 表示模型输出可解析但未通过校验。
func invalid(reason string, payload map[string]any, raw string) map[string]any {
	return map[string]any{"ok": false, "reason": reason, "payload": payload, "raw": raw}
}

// success 返回 {ok: true} 与 payload 顶层字段的合并结果。
func success(payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		out[k] = v
	}
	out["ok"] = true
	return out
}
