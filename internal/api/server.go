package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"Ekronos-Agents/internal/config"
	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/gateway"
	"Ekronos-Agents/internal/github"
	"Ekronos-Agents/internal/observability/metrics"
	"Ekronos-Agents/internal/orchestrator"
	"Ekronos-Agents/internal/session"
	"Ekronos-Agents/internal/task"
	"Ekronos-Agents/internal/web3"
	"Ekronos-Agents/pkg/logger"
)

// Dependencies 汇总 HTTP 层依赖的服务。除 Orchestrator 外均可为空：
// 会话、GitHub 与网关缺省时按配置构造，任务与链客户端缺省时对应接口返回 503。
type Dependencies struct {
	Orchestrator *orchestrator.Orchestrator
	Tasks        *task.Service
	Sessions     *session.Manager
	GitHub       *github.Client
	Gateway      *gateway.Forwarder
	Liquidity    *gateway.Forwarder
	Chain        web3.Client
	Metrics      *metrics.Collector
}

// Server 负责暴露 REST、SSE 与 WebSocket 接口，供外部驱动 agent 编排。
type Server struct {
	cfg      *config.Config
	deps     Dependencies
	echo     *echo.Echo
	log      *slog.Logger
	upgrader websocket.Upgrader
	origins  []string
	now      func() time.Time
}

// NewServer 构造 API 服务实例并注册全部路由。
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if deps.Sessions == nil {
		deps.Sessions = session.NewManager(nil, cfg.Session.CookieSecret, cfg.Session.TTL)
	}
	if deps.GitHub == nil {
		deps.GitHub = github.New(github.Config{
			APIBaseURL:   cfg.GitHub.APIBaseURL,
			OAuthBaseURL: cfg.GitHub.OAuthBaseURL,
			ClientID:     cfg.GitHub.ClientID,
			ClientSecret: cfg.GitHub.ClientSecret,
			BackendURL:   cfg.Server.BackendURL,
			Timeout:      cfg.GitHub.Timeout,
		})
	}
	if deps.Gateway == nil {
		deps.Gateway = gateway.New(cfg.Gateway.URL, gateway.WithTimeout(cfg.Gateway.Timeout))
	}
	if deps.Liquidity == nil {
		deps.Liquidity = gateway.New(cfg.Gateway.LiquidityURL, gateway.WithTimeout(cfg.Gateway.Timeout))
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.Default()
	}

	s := &Server{
		cfg:     cfg,
		deps:    deps,
		log:     logger.Named("api"),
		origins: allowedOrigins(cfg.Server),
		now:     time.Now,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	s.echo = s.newEcho()
	return s
}

// Handler 返回完整的 HTTP 处理器，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Server.Address,
		Handler:           s.echo,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening",
			slog.String("address", s.cfg.Server.Address),
			slog.String("deployment", s.cfg.Server.Deployment))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError

	e.Use(s.deps.Metrics.Middleware())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			s.log.Info("request", attrs...)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     s.origins,
		AllowCredentials: true,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(s.deps.Metrics.Handler()))

	e.POST("/agents/run", s.handleRun)
	e.GET("/agents/stream", s.handleStream)
	e.GET("/agents/ws", s.handleWebSocket)
	e.POST("/agents/run-and-send", s.handleRunAndSend)
	e.POST("/agents/liquidity/run-and-send", s.handleLiquidity)

	e.POST("/agents/tasks", s.handleSubmitTask)
	e.GET("/agents/tasks", s.handleListTasks)
	e.GET("/agents/tasks/stats", s.handleTaskStats)
	e.GET("/agents/tasks/:id", s.handleTaskDetail)

	e.GET("/api/auth/github/start", s.handleOAuthStart)
	e.GET("/api/auth/github/callback", s.handleOAuthCallback)
	e.POST("/api/auth/logout", s.handleLogout)
	e.GET("/api/me", s.handleMe)
	e.POST("/api/github/fork", s.handleFork)
	e.POST("/api/pr", s.handleUserPR)
	e.POST("/pr/create", s.handleServicePR)

	e.GET("/chain/snapshot", s.handleChainSnapshot)
	return e
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// errorBody 是所有错误响应的统一结构：{"error": {...}}。
type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// detailedError 为错误响应附加结构化的 details 字段。
type detailedError struct {
	err     error
	details map[string]any
}

func (e *detailedError) Error() string { return e.err.Error() }

func (e *detailedError) Unwrap() error { return e.err }

func withDetails(err error, details map[string]any) error {
	return &detailedError{err: err, details: details}
}

func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status, body := renderError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("path", c.Path()),
			slog.String("code", body.Code),
			slog.Any("error", err))
	}

	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(status)
	} else {
		writeErr = c.JSON(status, map[string]errorBody{"error": body})
	}
	if writeErr != nil {
		s.log.Warn("write error response", slog.Any("error", writeErr))
	}
}

func renderError(err error) (int, errorBody) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code, errorBody{
			Code:    strings.ToUpper(strings.ReplaceAll(http.StatusText(he.Code), " ", "_")),
			Message: fmt.Sprint(he.Message),
		}
	}

	body := errorBody{
		Code:    string(xerrors.CodeOf(err)),
		Message: xerrors.MessageOf(err),
	}
	var de *detailedError
	if errors.As(err, &de) {
		body.Details = de.details
	}
	return xerrors.HTTPStatusOf(err), body
}

func allowedOrigins(cfg config.ServerConfig) []string {
	if len(cfg.CORSOrigins) > 0 {
		return cfg.CORSOrigins
	}
	if cfg.FrontendURL != "" {
		return []string{strings.TrimRight(cfg.FrontendURL, "/")}
	}
	return []string{"*"}
}

// checkOrigin 允许同源请求（无 Origin 头）以及 CORS 白名单内的来源。
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
