// Package ekronos is a thin Go client for the Ekronos agent backend REST API.
package ekronos

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"
)

// DefaultHTTPTimeout is applied to clients created without a custom http.Client.
// Streams are not bounded by it; pass a client without a timeout for long runs.
const DefaultHTTPTimeout = 2 * time.Minute

// Client wraps the HTTP interactions with the agent backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

// RunRequest is the body accepted by /agents/run, /agents/run-and-send and
// /agents/tasks. Constraints may be a list of strings or an object.
type RunRequest struct {
	ID              string         `json:"id,omitempty"`
	Goal            string         `json:"goal"`
	Constraints     any            `json:"constraints,omitempty"`
	Context         map[string]any `json:"context,omitempty"`
	PreferredAgents []string       `json:"preferred_agents,omitempty"`
}

// Step is the outcome of a single agent within a run.
type Step struct {
	Agent   string         `json:"agent"`
	Summary string         `json:"summary"`
	Result  map[string]any `json:"result"`
}

// RunResult is the full trace of one orchestration run.
type RunResult struct {
	TraceID    string                    `json:"trace_id"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
	Targets    []string                  `json:"targets"`
	Steps      []Step                    `json:"steps"`
	Artifacts  map[string]map[string]any `json:"artifacts"`
	Context    map[string]any            `json:"context"`
}

// LiquidityRequest registers liquidity for an already deployed token.
type LiquidityRequest struct {
	Token   string         `json:"token"`
	Context map[string]any `json:"context,omitempty"`
}

// LiquidityResult is returned by /agents/liquidity/run-and-send.
type LiquidityResult struct {
	OK              bool    `json:"ok"`
	Token           string  `json:"token"`
	RegisteredToken *string `json:"registered_token"`
	Agent           struct {
		Summary     string         `json:"summary"`
		PayloadSent map[string]any `json:"payload_sent"`
	} `json:"agent"`
	Gateway any `json:"gateway"`
}

// AgentProgress is the per-agent state carried by progress ticks.
type AgentProgress struct {
	Status   string  `json:"status"`
	ElapsedS float64 `json:"elapsed_s"`
}

// Event is one message of the /agents/stream event sequence.
type Event struct {
	Type     string                   `json:"type"`
	TraceID  string                   `json:"trace_id"`
	Agent    string                   `json:"agent,omitempty"`
	Message  string                   `json:"message,omitempty"`
	Targets  []string                 `json:"targets,omitempty"`
	Summary  string                   `json:"summary,omitempty"`
	Result   map[string]any           `json:"result,omitempty"`
	Error    string                   `json:"error,omitempty"`
	ElapsedS *float64                 `json:"elapsed_s,omitempty"`
	Agents   map[string]AgentProgress `json:"agents,omitempty"`
}

// Task is an asynchronously executed run.
type Task struct {
	ID              string         `json:"id"`
	Goal            string         `json:"goal"`
	Constraints     []string       `json:"constraints"`
	Context         map[string]any `json:"context,omitempty"`
	PreferredAgents []string       `json:"preferred_agents,omitempty"`
	Status          string         `json:"status"`
	Attempts        int            `json:"attempts"`
	LastError       string         `json:"last_error,omitempty"`
	ErrorCode       string         `json:"error_code,omitempty"`
	Result          *RunResult     `json:"result,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}

// ListOptions filters ListTasks. Zero values are omitted from the query.
type ListOptions struct {
	Statuses  []string
	Limit     int
	Offset    int
	Query     string
	Ascending bool
	// UpdatedSince/UpdatedUntil bound the task's last update, inclusive.
	UpdatedSince time.Time
	UpdatedUntil time.Time
	// HasResult, when set, keeps only tasks with (or without) a run result.
	HasResult *bool
}

// APIError represents an {"error": {...}} envelope returned by the server.
type APIError struct {
	StatusCode int
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("ekronos api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("ekronos api error (%d): %s", e.StatusCode, e.Message)
}

// NewClient instantiates a client for the backend at rawURL. When httpClient
// is nil, a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q: scheme and host are required", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient}, nil
}

// Health reports whether the server answers /health.
func (c *Client) Health(ctx context.Context) error {
	return c.get(ctx, "/health", nil, nil)
}

// Run executes a synchronous orchestration run.
func (c *Client) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	var out RunResult
	if err := c.post(ctx, "/agents/run", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RunAndSend runs the deployer and forwards its VFT payload to the gateway.
// The gateway outcome is stored under Artifacts["gateway"].
func (c *Client) RunAndSend(ctx context.Context, req RunRequest) (*RunResult, error) {
	var out RunResult
	if err := c.post(ctx, "/agents/run-and-send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterLiquidity runs the liquidity agent for a token and forwards its payload.
func (c *Client) RegisterLiquidity(ctx context.Context, req LiquidityRequest) (*LiquidityResult, error) {
	var out LiquidityResult
	if err := c.post(ctx, "/agents/liquidity/run-and-send", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Stream opens /agents/stream for goal and calls handler for every event until
// the server closes the stream, ctx is cancelled or handler returns an error.
func (c *Client) Stream(ctx context.Context, goal string, handler func(Event) error) error {
	q := url.Values{}
	q.Set("goal", goal)
	req, err := c.newRequest(ctx, http.MethodGet, "/agents/stream", q, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	return parseSSE(resp.Body, func(data string) error {
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		return handler(ev)
	})
}

// SubmitTask queues a run and returns the pending task.
func (c *Client) SubmitTask(ctx context.Context, req RunRequest) (*Task, error) {
	var out Task
	if err := c.post(ctx, "/agents/tasks", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask fetches a task by identifier.
func (c *Client) GetTask(ctx context.Context, id string) (*Task, error) {
	var out Task
	if err := c.get(ctx, "/agents/tasks/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasks lists tasks, newest first unless opts.Ascending is set.
func (c *Client) ListTasks(ctx context.Context, opts ListOptions) ([]Task, error) {
	q := url.Values{}
	if len(opts.Statuses) > 0 {
		q.Set("status", strings.Join(opts.Statuses, ","))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.Query != "" {
		q.Set("q", opts.Query)
	}
	if opts.Ascending {
		q.Set("order", "asc")
	}
	if !opts.UpdatedSince.IsZero() {
		q.Set("updated_since", opts.UpdatedSince.UTC().Format(time.RFC3339))
	}
	if !opts.UpdatedUntil.IsZero() {
		q.Set("updated_until", opts.UpdatedUntil.UTC().Format(time.RFC3339))
	}
	if opts.HasResult != nil {
		q.Set("has_result", strconv.FormatBool(*opts.HasResult))
	}
	var out struct {
		Tasks []Task `json:"tasks"`
	}
	if err := c.get(ctx, "/agents/tasks", q, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join("/", c.baseURL.Path, endpoint)
	u.RawPath = ""
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read error response: %w", err)
	}
	if len(data) > 0 {
		_ = json.Unmarshal(data, &struct {
			Error *APIError `json:"error"`
		}{Error: apiErr})
	}
	if apiErr.Message == "" {
		apiErr.Message = string(bytes.TrimSpace(data))
	}
	return apiErr
}

// parseSSE reads "data:" lines and calls fn once per blank-line terminated event.
// Multi-line data is joined with "\n"; comments and other fields are ignored.
func parseSSE(r io.Reader, fn func(data string) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	var data []string
	flush := func() error {
		if len(data) == 0 {
			return nil
		}
		joined := strings.Join(data, "\n")
		data = data[:0]
		return fn(joined)
	}
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				return err
			}
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return flush()
}
