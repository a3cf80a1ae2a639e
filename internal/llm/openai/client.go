package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/llm"
)

const (
	defaultModelName = "gpt-5"
	defaultTimeout   = 5 * time.Minute
)

// Config 描述调用 OpenAI Chat Completions API 所需的信息。
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Timeout 为单次 HTTP 调用的上限；推理模型在 high effort 下可能需要数分钟。
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过官方 SDK 调用 OpenAI。SDK 自带的重试被关闭，失败直接返回给调用方。
type Client struct {
	sdk   sdk.Client
	model string
}

// NewClient 根据配置创建 OpenAI 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("未提供 OpenAI API Key")
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModelName
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(httpClient),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(base, "/")+"/"))
	}

	return &Client{sdk: sdk.NewClient(opts...), model: model}, nil
}

// Complete 发送 system + user 两条消息，返回第一个 choice 的文本内容。
func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	model := p.Model
	if model == "" {
		model = c.model
	}

	params := sdk.ChatCompletionNewParams{
		Model: shared.ChatModel(model),
		Messages: []sdk.ChatCompletionMessageParamUnion{
			sdk.SystemMessage(p.System),
			sdk.UserMessage(p.User),
		},
	}
	if p.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(p.ReasoningEffort)
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstream, err, "OpenAI 调用失败")
	}
	if len(resp.Choices) == 0 {
		return "", xerrors.New(xerrors.CodeUpstream, "OpenAI 响应中没有有效的 choices")
	}
	return resp.Choices[0].Message.Content, nil
}
