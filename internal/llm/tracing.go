package llm

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"Ekronos-Agents/pkg/logger"
)

const tracerName = "Ekronos-Agents/internal/llm"

type tracedClient struct {
	inner    Client
	provider string
	tracer   trace.Tracer
	log      *slog.Logger
}

// Traced 为每次补全调用创建一个 client 类型的 span，并在失败时记录日志。
// 使用全局 TracerProvider，未安装 SDK 时为 no-op。
func Traced(inner Client, provider string) Client {
	if inner == nil {
		return nil
	}
	return &tracedClient{
		inner:    inner,
		provider: provider,
		tracer:   otel.Tracer(tracerName),
		log:      logger.Named("llm"),
	}
}

func (c *tracedClient) Complete(ctx context.Context, p Prompt) (string, error) {
	ctx, span := c.tracer.Start(
		ctx,
		"llm.complete",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", c.provider),
			attribute.String("llm.model", p.Model),
			attribute.String("llm.reasoning_effort", p.ReasoningEffort),
			attribute.Int("llm.prompt_chars", len(p.System)+len(p.User)),
		),
	)
	defer span.End()

	start := time.Now()
	text, err := c.inner.Complete(ctx, p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "llm complete failed")
		c.log.ErrorContext(ctx, "llm complete failed",
			slog.String("provider", c.provider),
			slog.String("model", p.Model),
			slog.Duration("elapsed", time.Since(start)),
			slog.Any("error", err),
		)
		return "", err
	}
	span.SetAttributes(attribute.Int("llm.response_chars", len(text)))
	span.SetStatus(codes.Ok, "ok")
	return text, nil
}
