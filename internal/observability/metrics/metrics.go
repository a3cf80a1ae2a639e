package metrics

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	xerrors "Ekronos-Agents/internal/errors"
)

type requestKey struct {
	handler string
	method  string
	code    string
}

type routeKey struct {
	handler string
	method  string
}

type agentKey struct {
	agent   string
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Collector 以 Prometheus 文本格式累积 HTTP 与 agent 指标。
type Collector struct {
	mu           sync.Mutex
	requests     map[requestKey]uint64
	errors       map[routeKey]uint64
	latency      map[routeKey]*histogram
	agentRuns    map[agentKey]uint64
	agentLatency map[string]*histogram
}

// NewCollector 创建一个空的指标收集器。
func NewCollector() *Collector {
	return &Collector{
		requests:     make(map[requestKey]uint64),
		errors:       make(map[routeKey]uint64),
		latency:      make(map[routeKey]*histogram),
		agentRuns:    make(map[agentKey]uint64),
		agentLatency: make(map[string]*histogram),
	}
}

var defaultCollector = NewCollector()

// Default 返回进程级收集器。
func Default() *Collector { return defaultCollector }

// ObserveHTTPRequest records metrics about an HTTP request lifecycle.
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.requests[requestKey{handler: handler, method: method, code: strconv.Itoa(status)}]++
	key := routeKey{handler: handler, method: method}
	if status >= 500 {
		c.errors[key]++
	}
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10)
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

// ObserveAgentRun 记录一次 agent 调用，签名与 orchestrator.RunObserver 一致。
func (c *Collector) ObserveAgentRun(agent string, elapsed time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.agentRuns[agentKey{agent: agent, outcome: outcome}]++
	hist := c.agentLatency[agent]
	if hist == nil {
		// LLM 调用通常在秒到分钟级。
		hist = newHistogram(1, 5, 10, 30, 60, 120, 300)
		c.agentLatency[agent] = hist
	}
	hist.observe(elapsed.Seconds())
}

// Middleware 为每个请求记录状态码与耗时，handler 标签使用路由模板。
func (c *Collector) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			start := time.Now()
			err := next(ctx)
			status := ctx.Response().Status
			if err != nil {
				var he *echo.HTTPError
				if errors.As(err, &he) {
					status = he.Code
				} else if !ctx.Response().Committed {
					status = xerrors.HTTPStatusOf(err)
				}
			}
			route := ctx.Path()
			if route == "" {
				route = "unmatched"
			}
			c.ObserveHTTPRequest(route, ctx.Request().Method, status, time.Since(start))
			return err
		}
	}
}

// Handler exposes the metrics in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.render())
	})
}

func newHistogram(buckets ...float64) *histogram {
	return &histogram{buckets: buckets, counts: make([]uint64, len(buckets))}
}

// observe 的 bucket 计数是累积的，超过最后一个边界的值只计入 +Inf（即 count）。
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

func (h *histogram) write(b *strings.Builder, name, labels string) {
	for idx, bound := range h.buckets {
		fmt.Fprintf(b, "%s_bucket{%s,le=\"%s\"} %d\n", name, labels, formatFloat(bound), h.counts[idx])
	}
	fmt.Fprintf(b, "%s_bucket{%s,le=\"+Inf\"} %d\n", name, labels, h.count)
	fmt.Fprintf(b, "%s_sum{%s} %s\n", name, labels, formatFloat(h.sum))
	fmt.Fprintf(b, "%s_count{%s} %d\n", name, labels, h.count)
}

func (c *Collector) render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(2048)

	b.WriteString("# HELP ekronos_http_requests_total Total number of HTTP requests processed.\n")
	b.WriteString("# TYPE ekronos_http_requests_total counter\n")
	reqKeys := make([]requestKey, 0, len(c.requests))
	for k := range c.requests {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		a, z := reqKeys[i], reqKeys[j]
		if a.handler != z.handler {
			return a.handler < z.handler
		}
		if a.method != z.method {
			return a.method < z.method
		}
		return a.code < z.code
	})
	for _, k := range reqKeys {
		fmt.Fprintf(&b, "ekronos_http_requests_total{handler=\"%s\",method=\"%s\",code=\"%s\"} %d\n",
			escape(k.handler), escape(k.method), escape(k.code), c.requests[k])
	}

	b.WriteString("# HELP ekronos_http_request_errors_total Total number of HTTP requests that resulted in a server error.\n")
	b.WriteString("# TYPE ekronos_http_request_errors_total counter\n")
	for _, k := range sortedRouteKeys(c.errors) {
		fmt.Fprintf(&b, "ekronos_http_request_errors_total{handler=\"%s\",method=\"%s\"} %d\n",
			escape(k.handler), escape(k.method), c.errors[k])
	}

	b.WriteString("# HELP ekronos_http_request_duration_seconds HTTP request duration in seconds.\n")
	b.WriteString("# TYPE ekronos_http_request_duration_seconds histogram\n")
	for _, k := range sortedRouteKeys(c.latency) {
		labels := fmt.Sprintf("handler=\"%s\",method=\"%s\"", escape(k.handler), escape(k.method))
		c.latency[k].write(&b, "ekronos_http_request_duration_seconds", labels)
	}

	b.WriteString("# HELP ekronos_agent_runs_total Agent invocations by outcome.\n")
	b.WriteString("# TYPE ekronos_agent_runs_total counter\n")
	agentKeys := make([]agentKey, 0, len(c.agentRuns))
	for k := range c.agentRuns {
		agentKeys = append(agentKeys, k)
	}
	sort.Slice(agentKeys, func(i, j int) bool {
		if agentKeys[i].agent != agentKeys[j].agent {
			return agentKeys[i].agent < agentKeys[j].agent
		}
		return agentKeys[i].outcome < agentKeys[j].outcome
	})
	for _, k := range agentKeys {
		fmt.Fprintf(&b, "ekronos_agent_runs_total{agent=\"%s\",outcome=\"%s\"} %d\n",
			escape(k.agent), escape(k.outcome), c.agentRuns[k])
	}

	b.WriteString("# HELP ekronos_agent_run_duration_seconds Agent invocation latency in seconds.\n")
	b.WriteString("# TYPE ekronos_agent_run_duration_seconds histogram\n")
	agents := make([]string, 0, len(c.agentLatency))
	for a := range c.agentLatency {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	for _, a := range agents {
		c.agentLatency[a].write(&b, "ekronos_agent_run_duration_seconds", fmt.Sprintf("agent=\"%s\"", escape(a)))
	}

	return b.String()
}

func sortedRouteKeys[V any](m map[routeKey]V) []routeKey {
	keys := make([]routeKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].handler != keys[j].handler {
			return keys[i].handler < keys[j].handler
		}
		return keys[i].method < keys[j].method
	})
	return keys
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
