package llm

import (
	"context"
	"strings"
)

// Prompt 是一次单轮对话补全请求：system 指令加一条 user 消息。
type Prompt struct {
	// Model 为空时由提供方使用其默认模型。
	Model  string
	System string
	User   string
	// ReasoningEffort 取值 low|medium|high，不支持该参数的提供方会忽略。
	ReasoningEffort string
}

// Client 定义调用大模型的统一接口，返回模型输出的原始文本。
type Client interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// ClientFunc 让普通函数满足 Client 接口。
type ClientFunc func(ctx context.Context, p Prompt) (string, error)

// Complete 实现 Client。
func (f ClientFunc) Complete(ctx context.Context, p Prompt) (string, error) {
	return f(ctx, p)
}

// JoinText 拼接多段文本输出。
func JoinText(parts []string) string {
	return strings.Join(parts, "")
}
