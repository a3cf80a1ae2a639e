package agent

import (
	"context"

	"Ekronos-Agents/internal/llm"
)

// FreeTextAgent 把目标原样交给模型，并把回复文本放入 Result 的单个字段。
type FreeTextAgent struct {
	base
	system    string
	resultKey string
	summary   string
}

// NewFrontend 创建 frontend agent，输出 {ui_design}。
func NewFrontend(client llm.Client, opts ...Option) *FreeTextAgent {
	return &FreeTextAgent{
		base:      newBase(Frontend, client, "", opts),
		system:    "You are a frontend React and UX expert.",
		resultKey: "ui_design",
		summary:   "Frontend UI design",
	}
}

// NewServer 创建 server agent，输出 {backend_design}。
func NewServer(client llm.Client, opts ...Option) *FreeTextAgent {
	return &FreeTextAgent{
		base:      newBase(Server, client, "", opts),
		system:    "You are a backend engineer specialized in APIs.",
		resultKey: "backend_design",
		summary:   "Backend API design",
	}
}

// Run 实现 Agent。
func (a *FreeTextAgent) Run(ctx context.Context, req *Request) (*Response, error) {
	out, err := a.complete(ctx, req, a.system, req.Goal)
	if err != nil {
		return nil, err
	}
	return a.respond(a.summary, map[string]any{a.resultKey: out}), nil
}
