package ekronos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client, err := NewClient(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestNewClientRejectsRelativeURL(t *testing.T) {
	if _, err := NewClient("localhost:8000", nil); err == nil {
		t.Fatal("expected error for url without scheme")
	}
}

func TestRunPostsRequest(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/agents/run" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if body["goal"] != "deploy a token" {
			t.Errorf("unexpected goal: %v", body["goal"])
		}
		if _, ok := body["constraints"].(map[string]any); !ok {
			t.Errorf("constraints should be sent as given, got %T", body["constraints"])
		}
		_, _ = w.Write([]byte(`{"trace_id":"t-1","targets":["vft_deployer"],"steps":[{"agent":"vft_deployer","summary":"ok","result":{}}],"artifacts":{},"context":{}}`))
	}))

	result, err := client.Run(context.Background(), RunRequest{
		Goal:        "deploy a token",
		Constraints: map[string]any{"decimals": 18},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.TraceID != "t-1" || len(result.Steps) != 1 || result.Steps[0].Agent != "vft_deployer" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestRunAndSendDecodesGatewayArtifact(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/run-and-send" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"trace_id":"t","artifacts":{"gateway":{"ok":true,"status_code":200}}}`))
	}))
	result, err := client.RunAndSend(context.Background(), RunRequest{Goal: "deploy"})
	if err != nil {
		t.Fatalf("run and send: %v", err)
	}
	if result.Artifacts["gateway"]["ok"] != true {
		t.Fatalf("unexpected gateway artifact: %v", result.Artifacts["gateway"])
	}
}

func TestRegisterLiquidity(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/agents/liquidity/run-and-send" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"ok":true,"token":"0xabc","registered_token":null,` +
			`"agent":{"summary":"s","payload_sent":{"token":"0xabc","registered_token":null}},"gateway":{"ok":true}}`))
	}))
	result, err := client.RegisterLiquidity(context.Background(), LiquidityRequest{Token: "0xabc"})
	if err != nil {
		t.Fatalf("register liquidity: %v", err)
	}
	if !result.OK || result.Token != "0xabc" || result.RegisteredToken != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Agent.PayloadSent["token"] != "0xabc" {
		t.Fatalf("unexpected payload: %v", result.Agent.PayloadSent)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"INVALID_ARGUMENT","message":"goal is required","details":{"k":"v"}}}`))
	}))
	_, err := client.Run(context.Background(), RunRequest{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest || apiErr.Code != "INVALID_ARGUMENT" || apiErr.Message != "goal is required" {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
	if apiErr.Details["k"] != "v" {
		t.Fatalf("unexpected details: %v", apiErr.Details)
	}
}

func TestAPIErrorPlainBody(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}))
	err := client.Health(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Message != "bad gateway" {
		t.Fatalf("unexpected message: %q", apiErr.Message)
	}
}

func TestStreamParsesEvents(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("goal") != "deploy token" {
			t.Errorf("unexpected goal: %q", r.URL.Query().Get("goal"))
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"type\":\"router_update\",\"trace_id\":\"t\",\"targets\":[\"vft_deployer\"]}\n\n")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "data: {\"type\":\"agent_done\",\"trace_id\":\"t\",\"agent\":\"vft_deployer\"}\n\n")
		fmt.Fprint(w, "data: {\"type\":\"done\",\"trace_id\":\"t\"}\n\n")
	}))

	var types []string
	err := client.Stream(context.Background(), "deploy token", func(ev Event) error {
		types = append(types, ev.Type)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if strings.Join(types, ",") != "router_update,agent_done,done" {
		t.Fatalf("unexpected events: %v", types)
	}
}

func TestStreamHandlerErrorStops(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"type\":\"agent_start\"}\n\ndata: {\"type\":\"done\"}\n\n")
	}))
	stop := errors.New("stop")
	calls := 0
	err := client.Stream(context.Background(), "x", func(Event) error {
		calls++
		return stop
	})
	if !errors.Is(err, stop) || calls != 1 {
		t.Fatalf("expected handler error after one event, got %v (%d calls)", err, calls)
	}
}

func TestParseSSEJoinsMultilineData(t *testing.T) {
	var got []string
	input := "data: first\ndata: second\n\ndata: tail"
	if err := parseSSE(strings.NewReader(input), func(d string) error {
		got = append(got, d)
		return nil
	}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(got) != 2 || got[0] != "first\nsecond" || got[1] != "tail" {
		t.Fatalf("unexpected events: %q", got)
	}
}

func TestTaskEndpoints(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/agents/tasks":
			w.WriteHeader(http.StatusAccepted)
			_, _ = w.Write([]byte(`{"id":"task-1","goal":"g","constraints":[],"status":"pending","attempts":0}`))
		case r.Method == http.MethodGet && r.URL.Path == "/agents/tasks/task-1":
			_, _ = w.Write([]byte(`{"id":"task-1","status":"succeeded","result":{"trace_id":"t"}}`))
		case r.Method == http.MethodGet && r.URL.Path == "/agents/tasks":
			q := r.URL.Query()
			if q.Get("status") != "pending,failed" || q.Get("limit") != "5" || q.Get("order") != "asc" || q.Has("offset") {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{"tasks":[{"id":"task-1","status":"pending"}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	ctx := context.Background()

	submitted, err := client.SubmitTask(ctx, RunRequest{ID: "task-1", Goal: "g"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if submitted.Status != "pending" {
		t.Fatalf("unexpected status: %s", submitted.Status)
	}

	detail, err := client.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if detail.Result == nil || detail.Result.TraceID != "t" {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	tasks, err := client.ListTasks(ctx, ListOptions{Statuses: []string{"pending", "failed"}, Limit: 5, Ascending: true})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "task-1" {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}

func TestListTasksWindowQuery(t *testing.T) {
	since := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	has := true
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("updated_since") != "2026-01-02T03:04:05Z" || q.Get("has_result") != "true" || q.Has("updated_until") {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"tasks":[]}`))
	}))
	tasks, err := client.ListTasks(context.Background(), ListOptions{UpdatedSince: since, HasResult: &has})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("unexpected tasks: %+v", tasks)
	}
}
