package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Ekronos-Agents/internal/agent"
	"Ekronos-Agents/internal/llm"
	"Ekronos-Agents/internal/orchestrator"
	"Ekronos-Agents/internal/router"
)

type fakeAgent struct {
	name string
	run  func(ctx context.Context, req *agent.Request) (*agent.Response, error)
}

func (f *fakeAgent) Name() string { return f.name }

func (f *fakeAgent) Run(ctx context.Context, req *agent.Request) (*agent.Response, error) {
	return f.run(ctx, req)
}

func okAgent(name string) *fakeAgent {
	return &fakeAgent{name: name, run: func(context.Context, *agent.Request) (*agent.Response, error) {
		return &agent.Response{Agent: name, Summary: name + " done", Result: map[string]any{"ok": true}}, nil
	}}
}

// gatewayStub 记录收到的载荷并返回固定响应。
type gatewayStub struct {
	mu       sync.Mutex
	received []map[string]any
	status   int
	body     string
}

func (g *gatewayStub) start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		_ = json.NewDecoder(r.Body).Decode(&payload)
		g.mu.Lock()
		g.received = append(g.received, payload)
		g.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		status := g.status
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(g.body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestRunDeployTokenScenario(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), Dependencies{})

	resp, body := call(t, http.MethodPost, ts.URL+"/agents/run", map[string]any{
		"goal": "deploy a new token with 18 decimals and 1000000 supply",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.NotEmpty(t, body["trace_id"])
	assert.Equal(t, []any{"vft_deployer"}, body["targets"])

	artifacts := body["artifacts"].(map[string]any)
	vft := artifacts["vft_deployer"].(map[string]any)
	assert.Equal(t, true, vft["ok"])
	payload := vft["vft"].(map[string]any)
	assert.Equal(t, "EKR", payload["symbol"])
	assert.Equal(t, "1000000", payload["mint_amount"])
}

func TestRunRequestValidation(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), Dependencies{})

	resp, body := call(t, http.MethodPost, ts.URL+"/agents/run", map[string]any{
		"goal": "deploy", "preferred_agents": []string{"smart_program"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	code, msg := errorOf(t, body)
	assert.Equal(t, "INVALID_ARGUMENT", code)
	assert.Equal(t, "unknown agent: smart_program", msg)

	resp, _ = call(t, http.MethodPost, ts.URL+"/agents/run", `{"goal":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = call(t, http.MethodPost, ts.URL+"/agents/run", map[string]any{"goal": "x", "constraints": 3})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunAcceptsConstraintShapes(t *testing.T) {
	var mu sync.Mutex
	var seen [][]string
	capture := &fakeAgent{name: "capture", run: func(_ context.Context, req *agent.Request) (*agent.Response, error) {
		mu.Lock()
		seen = append(seen, req.Constraints)
		mu.Unlock()
		return &agent.Response{Agent: "capture", Summary: "s", Result: map[string]any{"ok": true}}, nil
	}}
	orch := orchestrator.New(agent.NewRegistry(capture),
		router.Func(func(string, []string) []string { return []string{"capture"} }))
	_, ts := newTestServer(t, testConfig(), Dependencies{Orchestrator: orch})

	for _, constraints := range []any{
		[]string{"no admin keys"},
		map[string]any{"budget": 10, "chain": "vara"},
		nil,
	} {
		resp, body := call(t, http.MethodPost, ts.URL+"/agents/run", map[string]any{
			"goal": "g", "constraints": constraints,
		})
		require.Equal(t, http.StatusOK, resp.StatusCode, body)
	}
	assert.Equal(t, [][]string{
		{"no admin keys"},
		{"budget: 10", "chain: vara"},
		{},
	}, seen)
}

func TestRunAndSendForwardsVFT(t *testing.T) {
	gw := &gatewayStub{body: `{"data":{"program_id":"0xfeed"}}`}
	cfg := testConfig()
	cfg.Gateway.URL = gw.start(t)
	_, ts := newTestServer(t, cfg, Dependencies{})

	resp, body := call(t, http.MethodPost, ts.URL+"/agents/run-and-send", map[string]any{
		"goal": "deploy a new token with 18 decimals and 1000000 supply",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	require.Len(t, gw.received, 1)
	assert.Equal(t, "1000000", gw.received[0]["mint_amount"])
	assert.Equal(t, "EKR", gw.received[0]["symbol"])

	forwarded := body["artifacts"].(map[string]any)["gateway"].(map[string]any)
	assert.Equal(t, true, forwarded["ok"])
	assert.EqualValues(t, 200, forwarded["status_code"])
	assert.Equal(t, map[string]any{"data": map[string]any{"program_id": "0xfeed"}}, forwarded["response"])
	assert.Equal(t, "EKR", forwarded["request_sent"].(map[string]any)["symbol"])
}

func TestRunAndSendMissingVFT(t *testing.T) {
	junk := llm.ClientFunc(func(context.Context, llm.Prompt) (string, error) { return "no json here", nil })
	gw := &gatewayStub{}
	cfg := testConfig()
	cfg.Gateway.URL = gw.start(t)
	_, ts := newTestServer(t, cfg, Dependencies{Orchestrator: deployerOrchestrator(junk)})

	resp, body := call(t, http.MethodPost, ts.URL+"/agents/run-and-send", map[string]any{"goal": "deploy token"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, msg := errorOf(t, body)
	assert.Equal(t, "Missing VFT payload from vft_deployer", msg)
	assert.Empty(t, gw.received)
}

func TestRunAndSendGatewayFailure(t *testing.T) {
	gw := &gatewayStub{status: http.StatusInternalServerError, body: "boom"}
	cfg := testConfig()
	cfg.Gateway.URL = gw.start(t)
	_, ts := newTestServer(t, cfg, Dependencies{})

	resp, body := call(t, http.MethodPost, ts.URL+"/agents/run-and-send", map[string]any{"goal": "deploy token"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	_, msg := errorOf(t, body)
	assert.Equal(t, "Gateway error: HTTP 500 body=boom", msg)
}

func TestLiquidityScenario(t *testing.T) {
	gw := &gatewayStub{body: `{"data":{"registered_token":"0xdef456"}}`}
	cfg := testConfig()
	cfg.Gateway.LiquidityURL = gw.start(t)
	_, ts := newTestServer(t, cfg, Dependencies{})

	resp, body := call(t, http.MethodPost, ts.URL+"/agents/liquidity/run-and-send", map[string]any{
		"token":   "0xabc123",
		"context": map[string]any{"network": "testnet"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "0xabc123", body["token"])
	assert.Equal(t, "0xdef456", body["registered_token"])
	sentByAgent := body["agent"].(map[string]any)
	assert.Equal(t, "Liquidity payload generated.", sentByAgent["summary"])
	assert.Equal(t, map[string]any{"token": "0xabc123", "registered_token": nil}, sentByAgent["payload_sent"])

	require.Len(t, gw.received, 1)
	assert.Equal(t, map[string]any{"token": "0xabc123", "registered_token": nil}, gw.received[0])
}

func TestLiquidityOverwritesAgentToken(t *testing.T) {
	other := llm.ClientFunc(func(context.Context, llm.Prompt) (string, error) {
		return `{"token":"0x999999","registered_token":null}`, nil
	})
	gw := &gatewayStub{body: `{"data":{}}`}
	cfg := testConfig()
	cfg.Gateway.LiquidityURL = gw.start(t)
	_, ts := newTestServer(t, cfg, Dependencies{Orchestrator: deployerOrchestrator(other)})

	resp, body := call(t, http.MethodPost, ts.URL+"/agents/liquidity/run-and-send", map[string]any{"token": "0xabc123"})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Nil(t, body["registered_token"])
	require.Len(t, gw.received, 1)
	assert.Equal(t, "0xabc123", gw.received[0]["token"])
}

func TestLiquidityErrors(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), Dependencies{})

	resp, body := call(t, http.MethodPost, ts.URL+"/agents/liquidity/run-and-send", map[string]any{"token": "abc"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_, msg := errorOf(t, body)
	assert.Equal(t, "Invalid token format. Expected 0x... hex string.", msg)

	resp, body = call(t, http.MethodPost, ts.URL+"/agents/liquidity/run-and-send", map[string]any{"token": "0xabc123"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	code, _ := errorOf(t, body)
	assert.Equal(t, "CONFIGURATION", code)

	cfg := testConfig()
	cfg.Gateway.LiquidityURL = (&gatewayStub{}).start(t)
	for _, tc := range []struct {
		result map[string]any
		want   string
	}{
		{map[string]any{"ok": false}, "LiquidityAgent did not return liquidity payload"},
		{
			map[string]any{"ok": true, "liquidity": map[string]any{"token": "0xabc123", "registered_token": nil, "pool": "x"}},
			"Liquidity payload must have exactly: token, registered_token",
		},
	} {
		result := tc.result
		liq := &fakeAgent{name: agent.Liquidity, run: func(context.Context, *agent.Request) (*agent.Response, error) {
			return &agent.Response{Agent: agent.Liquidity, Summary: "s", Result: result}, nil
		}}
		orch := orchestrator.New(agent.NewRegistry(liq), router.Deployer())
		_, ts = newTestServer(t, cfg, Dependencies{Orchestrator: orch})
		resp, body = call(t, http.MethodPost, ts.URL+"/agents/liquidity/run-and-send", map[string]any{"token": "0xabc123"})
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		_, msg = errorOf(t, body)
		assert.Equal(t, tc.want, msg)
	}
}

func streamOrchestrator() *orchestrator.Orchestrator {
	failing := &fakeAgent{name: "b", run: func(context.Context, *agent.Request) (*agent.Response, error) {
		return nil, errors.New("model unavailable")
	}}
	return orchestrator.New(agent.NewRegistry(okAgent("a"), failing),
		router.Func(func(string, []string) []string { return []string{"a", "b"} }),
		orchestrator.WithTickInterval(time.Hour))
}

func TestStreamSSE(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), Dependencies{Orchestrator: streamOrchestrator()})

	resp, err := http.Get(ts.URL + "/agents/stream?goal=build")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	assert.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	var events []orchestrator.Event
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		require.True(t, strings.HasPrefix(line, "data: "), line)
		var ev orchestrator.Event
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	require.NoError(t, scanner.Err())

	require.NotEmpty(t, events)
	assert.Equal(t, orchestrator.EventRouterUpdate, events[0].Type)
	assert.Equal(t, orchestrator.EventDone, events[len(events)-1].Type)

	byType := map[string]int{}
	for _, ev := range events {
		byType[ev.Type]++
		if ev.Type == orchestrator.EventAgentError {
			assert.Equal(t, "b", ev.Agent)
			assert.Contains(t, ev.Error, "model unavailable")
		}
	}
	assert.Equal(t, 1, byType[orchestrator.EventAgentDone])
	assert.Equal(t, 1, byType[orchestrator.EventAgentError])
	assert.Equal(t, 1, byType[orchestrator.EventDone])
}

func TestStreamSSEKeepsMarkupUnescaped(t *testing.T) {
	failing := &fakeAgent{name: "b", run: func(context.Context, *agent.Request) (*agent.Response, error) {
		return nil, errors.New("<div> & 失败")
	}}
	orch := orchestrator.New(agent.NewRegistry(failing),
		router.Func(func(string, []string) []string { return []string{"b"} }),
		orchestrator.WithTickInterval(time.Hour))
	_, ts := newTestServer(t, testConfig(), Dependencies{Orchestrator: orch})

	resp, err := http.Get(ts.URL + "/agents/stream?goal=build")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(raw), `"error":"<div> & 失败"`)
	assert.NotContains(t, string(raw), `\u003c`)
	assert.NotContains(t, string(raw), `\u0026`)
}

func TestEncodeEventSingleLine(t *testing.T) {
	data, err := encodeEvent(orchestrator.Event{Type: orchestrator.EventAgentDone, Agent: "a", Summary: "a > b & c"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "\n")
	assert.Contains(t, string(data), `"summary":"a > b & c"`)
}

func TestStreamRequiresGoal(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), Dependencies{Orchestrator: streamOrchestrator()})
	resp, _ := call(t, http.MethodGet, ts.URL+"/agents/stream", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketStream(t *testing.T) {
	_, ts := newTestServer(t, testConfig(), Dependencies{Orchestrator: streamOrchestrator()})

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/agents/ws?goal=build"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var types []string
	for {
		var ev orchestrator.Event
		if err := conn.ReadJSON(&ev); err != nil {
			break
		}
		types = append(types, ev.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, orchestrator.EventRouterUpdate, types[0])
	assert.Equal(t, orchestrator.EventDone, types[len(types)-1])
	assert.Contains(t, types, orchestrator.EventAgentError)
}
