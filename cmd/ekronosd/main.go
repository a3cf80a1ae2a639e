package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"Ekronos-Agents/internal/agent"
	"Ekronos-Agents/internal/api"
	"Ekronos-Agents/internal/config"
	"Ekronos-Agents/internal/knowledge"
	"Ekronos-Agents/internal/llm"
	"Ekronos-Agents/internal/llm/anthropic"
	"Ekronos-Agents/internal/llm/openai"
	"Ekronos-Agents/internal/observability/alerting"
	"Ekronos-Agents/internal/observability/metrics"
	"Ekronos-Agents/internal/orchestrator"
	"Ekronos-Agents/internal/router"
	"Ekronos-Agents/internal/session"
	"Ekronos-Agents/internal/task"
	"Ekronos-Agents/internal/web3"
	"Ekronos-Agents/internal/web3/ethereum"
	"Ekronos-Agents/pkg/logger"
)

// main 是 ekronosd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("ekronosd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("EKRONOS_CONFIG"))
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	lg := logger.Named("ekronosd")

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	var registry *agent.Registry
	switch cfg.Server.Deployment {
	case config.DeploymentDeployer:
		registry = agent.DeployerRegistry(llmClient, cfg.ModelFor)
	default:
		training := knowledge.NewDirProvider(cfg.Training.Dirs, cfg.Training.MaxFiles, cfg.Training.MaxChars)
		registry = agent.StudioRegistry(llmClient, cfg.ModelFor, training)
	}
	collector := metrics.Default()
	orch := orchestrator.New(registry, router.ForDeployment(cfg.Server.Deployment),
		orchestrator.WithMaxConcurrency(cfg.LLM.MaxConcurrency),
		orchestrator.WithObserver(collector.ObserveAgentRun),
	)

	sessions, closeSessions, err := createSessions(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSessions()

	taskStore, err := task.OpenStore(cfg.Tasks.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskStore.Close(); err != nil {
			lg.Warn("关闭任务存储失败", slog.Any("error", err))
		}
	}()

	taskQueue, err := task.OpenQueue(ctx, cfg.Tasks.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			lg.Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if url := strings.TrimSpace(cfg.Alerting.WebhookURL); url != "" {
		notifiers = append(notifiers, alerting.NewWebhookNotifier(url, 10*time.Second))
	}

	taskService := task.NewService(taskStore, taskQueue)
	processor := task.NewProcessor(orch, taskStore, taskQueue,
		task.WithWorkerCount(cfg.Tasks.Workers),
		task.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
	)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			lg.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	var chain web3.Client
	if rpcURL := strings.TrimSpace(cfg.Web3.RPCURL); rpcURL != "" {
		client, err := ethereum.NewClient(ctx, ethereum.Config{Name: cfg.Web3.Network, RPCURL: rpcURL})
		if err != nil {
			return err
		}
		defer client.Close()
		chain = client
	}

	server := api.NewServer(cfg, api.Dependencies{
		Orchestrator: orch,
		Tasks:        taskService,
		Sessions:     sessions,
		Chain:        chain,
		Metrics:      collector,
	})

	lg.Info("ekronosd 启动",
		slog.String("deployment", cfg.Server.Deployment),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.Any("agents", registry.Names()),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	provider := strings.ToLower(cfg.LLM.Provider)
	switch provider {
	case "openai":
		client, err := openai.NewClient(openai.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return llm.Traced(client, provider), nil
	case "anthropic":
		client, err := anthropic.NewClient(anthropic.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return llm.Traced(client, provider), nil
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

// createSessions 按 session.driver 选择内存或 Redis 会话存储。
func createSessions(ctx context.Context, cfg *config.Config) (*session.Manager, func(), error) {
	switch strings.ToLower(cfg.Session.Driver) {
	case "", "memory":
		return session.NewManager(nil, cfg.Session.CookieSecret, cfg.Session.TTL), func() {}, nil
	case "redis":
		store, err := session.NewRedisStore(ctx, session.RedisConfig{
			Address:  cfg.Session.Redis.Addr,
			Password: cfg.Session.Redis.Password,
			DB:       cfg.Session.Redis.DB,
			Prefix:   cfg.Session.Redis.Prefix,
		})
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() { _ = store.Close() }
		return session.NewManager(store, cfg.Session.CookieSecret, cfg.Session.TTL), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("未知的会话存储驱动: %s", cfg.Session.Driver)
	}
}
