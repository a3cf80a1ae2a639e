package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"Ekronos-Agents/internal/agent"
	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/gateway"
	"Ekronos-Agents/internal/orchestrator"
	"Ekronos-Agents/internal/schema"
)

// runRequest 是 /agents/run、/agents/run-and-send 与 /agents/tasks 共用的请求体。
type runRequest struct {
	ID              string          `json:"id,omitempty"`
	Goal            string          `json:"goal"`
	Constraints     json.RawMessage `json:"constraints"`
	Context         map[string]any  `json:"context"`
	PreferredAgents []string        `json:"preferred_agents"`
}

// input 校验请求并转换为编排输入。未知的 preferred_agents 直接拒绝。
func (s *Server) input(req runRequest) (orchestrator.RunInput, error) {
	if strings.TrimSpace(req.Goal) == "" {
		return orchestrator.RunInput{}, xerrors.New(xerrors.CodeInvalidArgument, "goal is required")
	}
	constraints, err := parseConstraints(req.Constraints)
	if err != nil {
		return orchestrator.RunInput{}, err
	}
	registry := s.deps.Orchestrator.Registry()
	for _, name := range req.PreferredAgents {
		if !registry.Has(name) {
			return orchestrator.RunInput{}, xerrors.New(xerrors.CodeInvalidArgument, "unknown agent: "+name)
		}
	}
	ctx := req.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	return orchestrator.RunInput{
		Goal:            req.Goal,
		Constraints:     constraints,
		Context:         ctx,
		PreferredAgents: req.PreferredAgents,
	}, nil
}

func (s *Server) handleRun(c echo.Context) error {
	var req runRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	in, err := s.input(req)
	if err != nil {
		return err
	}
	result, err := s.deps.Orchestrator.Run(c.Request().Context(), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// handleRunAndSend 运行编排后把 vft_deployer 的载荷转发给部署网关。
func (s *Server) handleRunAndSend(c echo.Context) error {
	var req runRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	in, err := s.input(req)
	if err != nil {
		return err
	}
	ctx := c.Request().Context()
	result, err := s.deps.Orchestrator.Run(ctx, in)
	if err != nil {
		return err
	}

	vft, ok := result.Artifacts[agent.VFTDeployer]["vft"].(map[string]any)
	if !ok || len(vft) == 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "Missing VFT payload from vft_deployer")
	}
	if err := gateway.CoerceMintAmount(vft); err != nil {
		return err
	}
	sent, err := s.deps.Gateway.Forward(ctx, vft)
	if err != nil {
		return err
	}
	result.Artifacts["gateway"] = map[string]any{
		"ok":           true,
		"request_sent": vft,
		"status_code":  sent.StatusCode,
		"response":     sent.Response,
	}
	return c.JSON(http.StatusOK, result)
}

type liquidityRequest struct {
	Token   any `json:"token"`
	Context any `json:"context"`
}

// handleLiquidity 只运行 liquidity agent，并把载荷转发给流动性网关。
func (s *Server) handleLiquidity(c echo.Context) error {
	var req liquidityRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	token, ok := req.Token.(string)
	if !ok || !schema.IsHexAddress(strings.TrimSpace(token)) {
		return xerrors.New(xerrors.CodeInvalidArgument, "Invalid token format. Expected 0x... hex string.")
	}
	if strings.TrimSpace(s.deps.Liquidity.URL()) == "" {
		return xerrors.New(xerrors.CodeConfiguration, "gateway liquidity_url is not configured")
	}

	runContext := map[string]any{}
	if given, ok := req.Context.(map[string]any); ok {
		for k, v := range given {
			runContext[k] = v
		}
	}
	runContext["token"] = token

	ctx := c.Request().Context()
	resp, err := s.deps.Orchestrator.Invoke(ctx, agent.Liquidity, &agent.Request{
		Goal:    "Register liquidity for token " + token,
		Context: runContext,
	})
	if err != nil {
		return err
	}

	payload, ok := resp.Result["liquidity"].(map[string]any)
	if !ok {
		return xerrors.New(xerrors.CodeUnknown, "LiquidityAgent did not return liquidity payload")
	}
	if !exactKeys(payload, "token", "registered_token") {
		return xerrors.New(xerrors.CodeUnknown, "Liquidity payload must have exactly: token, registered_token")
	}
	payload["token"] = token

	sent, err := s.deps.Liquidity.Forward(ctx, payload)
	if err != nil {
		return err
	}
	var registered any
	if rt, ok := gateway.RegisteredToken(sent.Response); ok {
		registered = rt
	}
	return c.JSON(http.StatusOK, map[string]any{
		"ok":               true,
		"token":            token,
		"registered_token": registered,
		"agent": map[string]any{
			"summary":      resp.Summary,
			"payload_sent": payload,
		},
		"gateway": sent.Response,
	})
}

// handleStream 以 SSE 推送编排进度，每条事件为 "data: {json}\n\n"。
func (s *Server) handleStream(c echo.Context) error {
	goal := c.QueryParam("goal")
	if strings.TrimSpace(goal) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "goal is required")
	}
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	events, err := s.deps.Orchestrator.Stream(ctx, goal)
	if err != nil {
		return err
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	for ev := range events {
		data, err := encodeEvent(ev)
		if err != nil {
			s.log.Warn("encode stream event", slog.Any("error", err))
			continue
		}
		if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
			cancel()
			drain(events)
			return nil
		}
		res.Flush()
	}
	return nil
}

// handleWebSocket 与 SSE 推送相同的事件序列，每条事件为一个文本帧。客户端关闭即取消运行。
func (s *Server) handleWebSocket(c echo.Context) error {
	goal := c.QueryParam("goal")
	if strings.TrimSpace(goal) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "goal is required")
	}
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	events, err := s.deps.Orchestrator.Stream(ctx, goal)
	if err != nil {
		return err
	}

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		cancel()
		drain(events)
		s.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return nil
	}
	defer conn.Close()

	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for ev := range events {
		data, err := encodeEvent(ev)
		if err != nil {
			s.log.Warn("encode stream event", slog.Any("error", err))
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			cancel()
			drain(events)
			return nil
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
	return nil
}

// encodeEvent 把事件编码为单行 JSON，保留 <、>、& 与非 ASCII 字符原样输出。
func encodeEvent(ev orchestrator.Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(ev); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func drain(events <-chan orchestrator.Event) {
	for range events {
	}
}

func exactKeys(obj map[string]any, keys ...string) bool {
	if len(obj) != len(keys) {
		return false
	}
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}
