// Package orchestrator fans a goal out to the agents chosen by the router and
// aggregates their results, either as one RunResult or as a stream of
// progress events.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"Ekronos-Agents/internal/agent"
	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/router"
	"Ekronos-Agents/pkg/logger"
)

const (
	defaultMaxConcurrency = 8
	defaultTickInterval   = 5 * time.Second

	// SummariesKey 是 RunResult.Context 中累积各 agent 摘要的键。
	SummariesKey = "agent_summaries"
)

// RunInput 是一次同步编排的输入。
type RunInput struct {
	Goal            string
	Constraints     []string
	Context         map[string]any
	PreferredAgents []string
}

// Step 记录单个 agent 的执行结果。
type Step struct {
	Agent   string         `json:"agent"`
	Summary string         `json:"summary"`
	Result  map[string]any `json:"result"`
}

// RunResult 是一次编排运行的完整轨迹。
type RunResult struct {
	TraceID    string                    `json:"trace_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Targets    []string                  `json:"targets"`
	Steps      []Step                    `json:"steps"`
	Artifacts  map[string]map[string]any `json:"artifacts"`
	Context    map[string]any            `json:"context"`
}

// RunObserver 在每个 agent 结束时被调用，用于指标采集。
type RunObserver func(agent string, elapsed time.Duration, err error)

// Option 定义可选的编排器配置。
type Option func(*Orchestrator)

// WithMaxConcurrency 限制进程内同时执行的 agent 数量。
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxConcurrency = n
		}
	}
}

// WithTickInterval 设置流式进度事件的间隔。
func WithTickInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.tick = d
		}
	}
}

// WithLogger 指定日志实例。
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithObserver 注册 agent 执行观察者。
func WithObserver(fn RunObserver) Option {
	return func(o *Orchestrator) {
		o.observe = fn
	}
}

// Orchestrator 负责路由、并发执行与结果合并。
type Orchestrator struct {
	registry       *agent.Registry
	router         router.Router
	maxConcurrency int
	sem            *semaphore.Weighted
	tick           time.Duration
	log            *slog.Logger
	observe        RunObserver
	tracer         trace.Tracer
}

// New 创建编排器。
func New(registry *agent.Registry, r router.Router, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		router:         r,
		maxConcurrency: defaultMaxConcurrency,
		tick:           defaultTickInterval,
		tracer:         otel.Tracer("Ekronos-Agents/orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if o.log == nil {
		o.log = logger.Named("orchestrator")
	}
	o.sem = semaphore.NewWeighted(int64(o.maxConcurrency))
	return o
}

// Registry 返回编排器使用的 agent 注册表。
func (o *Orchestrator) Registry() *agent.Registry { return o.registry }

// Route 暴露路由结果，便于接口层在执行前做校验。
func (o *Orchestrator) Route(goal string, preferred []string) []string {
	return o.router.Route(goal, preferred)
}

// resolve 在任何 agent 启动前把目标名称解析为实例。
func (o *Orchestrator) resolve(targets []string) ([]agent.Agent, error) {
	agents := make([]agent.Agent, 0, len(targets))
	for _, name := range targets {
		a, err := o.registry.Get(name)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// invoke 在并发配额内执行单个 agent。
func (o *Orchestrator) invoke(ctx context.Context, a agent.Agent, req *agent.Request) (*agent.Response, error) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer o.sem.Release(1)

	start := time.Now()
	resp, err := a.Run(ctx, req)
	if err == nil && resp == nil {
		err = xerrors.New(xerrors.CodeUnknown, fmt.Sprintf("%s: agent returned no response", a.Name()))
	}
	if o.observe != nil {
		o.observe(a.Name(), time.Since(start), err)
	}
	return resp, err
}

// Invoke 跳过路由，在并发配额内直接执行名为 name 的 agent。
func (o *Orchestrator) Invoke(ctx context.Context, name string, req *agent.Request) (*agent.Response, error) {
	a, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if req.TraceID == "" {
		req.TraceID = uuid.NewString()
	}
	if req.Constraints == nil {
		req.Constraints = []string{}
	}
	if req.Context == nil {
		req.Context = map[string]any{}
	}
	if req.Artifacts == nil {
		req.Artifacts = map[string]any{}
	}
	logger.WithTrace(o.log, req.TraceID).Info("agent invoked directly", slog.String("agent", name))
	return o.invoke(ctx, a, req)
}

// Run 并发执行路由选中的全部 agent，等待全部结束后按目标顺序合并结果。
// 任一 agent 返回错误时整次运行失败，但不会取消其他仍在执行的 agent。
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*RunResult, error) {
	traceID := uuid.NewString()
	started := time.Now().UTC()
	log := logger.WithTrace(o.log, traceID)

	ctx, span := o.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("trace_id", traceID),
	))
	defer span.End()

	targets := o.router.Route(in.Goal, in.PreferredAgents)
	span.SetAttributes(attribute.StringSlice("targets", targets))
	agents, err := o.resolve(targets)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	constraints := in.Constraints
	if constraints == nil {
		constraints = []string{}
	}
	runContext := make(map[string]any, len(in.Context)+1)
	for k, v := range in.Context {
		runContext[k] = v
	}
	req := &agent.Request{
		TraceID:     traceID,
		Goal:        in.Goal,
		Constraints: constraints,
		Context:     runContext,
		Artifacts:   map[string]any{},
	}

	log.Info("orchestration started", slog.Any("targets", targets))
	logger.Audit().Info("agents run started",
		slog.String("trace_id", traceID), slog.Any("targets", targets))

	responses := make([]*agent.Response, len(agents))
	var g errgroup.Group
	for i, a := range agents {
		g.Go(func() error {
			resp, err := o.invoke(ctx, a, req)
			if err != nil {
				log.Warn("agent failed", slog.String("agent", a.Name()), slog.Any("error", err))
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Audit().Warn("agents run failed", slog.String("trace_id", traceID), slog.Any("error", err))
		return nil, err
	}

	result := &RunResult{
		TraceID:   traceID,
		StartedAt: started,
		Targets:   targets,
		Steps:     make([]Step, 0, len(responses)),
		Artifacts: make(map[string]map[string]any, len(responses)),
		Context:   runContext,
	}
	summaries, _ := runContext[SummariesKey].([]any)
	for _, resp := range responses {
		result.Steps = append(result.Steps, Step{Agent: resp.Agent, Summary: resp.Summary, Result: resp.Result})
		result.Artifacts[resp.Agent] = resp.Result
		summaries = append(summaries, map[string]any{resp.Agent: resp.Summary})
	}
	runContext[SummariesKey] = summaries
	result.FinishedAt = time.Now().UTC()

	span.SetStatus(codes.Ok, "")
	log.Info("orchestration finished", slog.Duration("elapsed", result.FinishedAt.Sub(started)))
	logger.Audit().Info("agents run finished",
		slog.String("trace_id", traceID), slog.Int("steps", len(result.Steps)))
	return result, nil
}
