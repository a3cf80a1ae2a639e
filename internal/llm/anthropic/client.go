// Package anthropic adapts the Anthropic Messages API to llm.Client.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/llm"
)

const (
	defaultMaxTokens = 8192
	defaultTimeout   = 5 * time.Minute
)

// Config 描述调用 Anthropic Messages API 所需的信息。
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	Timeout    time.Duration
	HTTPClient *http.Client
}

// Client 通过官方 SDK 调用 Claude 模型。ReasoningEffort 在此提供方下被忽略。
type Client struct {
	inner     sdk.Client
	model     sdk.Model
	maxTokens int64
}

// NewClient 根据配置创建 Anthropic 客户端。
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY is not set")
	}

	model := sdk.Model(strings.TrimSpace(cfg.Model))
	if model == "" {
		model = sdk.ModelClaudeSonnet4_5_20250929
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
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

	return &Client{inner: sdk.NewClient(opts...), model: model, maxTokens: maxTokens}, nil
}

// Complete 以 system 块加单条 user 消息调用模型，拼接返回的全部文本块。
func (c *Client) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	model := c.model
	if p.Model != "" {
		model = sdk.Model(p.Model)
	}

	params := sdk.MessageNewParams{
		Model:     model,
		MaxTokens: c.maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(p.User)),
		},
	}
	if p.System != "" {
		params.System = []sdk.TextBlockParam{{Text: p.System}}
	}

	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeUpstream, err, "Anthropic 调用失败")
	}

	var parts []string
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(sdk.TextBlock); ok {
			parts = append(parts, text.Text)
		}
	}
	return llm.JoinText(parts), nil
}
