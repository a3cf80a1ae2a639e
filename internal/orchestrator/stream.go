package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"Ekronos-Agents/internal/agent"
	"Ekronos-Agents/pkg/logger"
)

// 流式事件类型。
const (
	EventRouterUpdate = "router_update"
	EventAgentStart   = "agent_start"
	EventAgentDone    = "agent_done"
	EventAgentError   = "agent_error"
	EventProgressTick = "progress_tick"
	EventDone         = "done"
)

// agent 在进度事件中的状态。
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusDone    = "done"
	StatusError   = "error"
)

// Event 是流式编排输出的一条事件，序列化后即为 SSE / WebSocket 的消息体。
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

// AgentProgress 是 progress_tick 中单个 agent 的快照。
type AgentProgress struct {
	Status   string  `json:"status"`
	ElapsedS float64 `json:"elapsed_s"`
}

type agentState struct {
	status   string
	started  time.Time
	finished time.Time
}

func (s agentState) elapsed(now time.Time) float64 {
	switch {
	case s.started.IsZero():
		return 0
	case !s.finished.IsZero():
		return round1(s.finished.Sub(s.started))
	default:
		return round1(now.Sub(s.started))
	}
}

type outcome struct {
	index int
	resp  *agent.Response
	err   error
}

// Stream 路由目标后并发执行各 agent，并把进度以事件形式写入返回的通道。
// 事件顺序为 router_update、一条立即发出的 progress_tick、各 agent 的 agent_start 与
// agent_done/agent_error 以及周期性的 progress_tick，最后是一条 done。ctx 被取消时停止全部工作并直接关闭通道，
// 不再发送 done。每个 agent 使用独立的空上下文请求。
func (o *Orchestrator) Stream(ctx context.Context, goal string) (<-chan Event, error) {
	targets := o.router.Route(goal, nil)
	agents, err := o.resolve(targets)
	if err != nil {
		return nil, err
	}

	out := make(chan Event)
	go o.pump(ctx, uuid.NewString(), goal, targets, agents, out)
	return out, nil
}

// pump 是唯一持有状态表并向 out 写入事件的 goroutine。
func (o *Orchestrator) pump(parent context.Context, traceID, goal string, targets []string, agents []agent.Agent, out chan<- Event) {
	defer close(out)
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	log := logger.WithTrace(o.log, traceID)
	started := time.Now()
	states := make([]agentState, len(agents))
	for i := range states {
		states[i].status = StatusQueued
	}

	send := func(ev Event) bool {
		ev.TraceID = traceID
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !send(Event{Type: EventRouterUpdate, Message: "Routing completed", Targets: targets}) {
		return
	}

	starts := make(chan int)
	results := make(chan outcome)
	for i, a := range agents {
		go func() {
			select {
			case starts <- i:
			case <-ctx.Done():
				return
			}
			req := &agent.Request{
				TraceID:     traceID,
				Goal:        goal,
				Constraints: []string{},
				Context:     map[string]any{},
				Artifacts:   map[string]any{},
			}
			resp, err := o.invoke(ctx, a, req)
			select {
			case results <- outcome{index: i, resp: resp, err: err}:
			case <-ctx.Done():
			}
		}()
	}

	progress := func(now time.Time) Event {
		elapsed := round1(now.Sub(started))
		snapshot := make(map[string]AgentProgress, len(states))
		for i, s := range states {
			snapshot[targets[i]] = AgentProgress{Status: s.status, ElapsedS: s.elapsed(now)}
		}
		return Event{
			Type:     EventProgressTick,
			ElapsedS: &elapsed,
			Agents:   snapshot,
			Message:  fmt.Sprintf("Working… elapsed %.1fs", elapsed),
		}
	}

	if !send(progress(time.Now())) {
		return
	}
	ticker := time.NewTicker(o.tick)
	defer ticker.Stop()

	remaining := len(agents)
	for remaining > 0 {
		select {
		case <-ctx.Done():
			log.Info("stream cancelled", slog.Int("pending", remaining))
			return

		case i := <-starts:
			states[i].status = StatusRunning
			states[i].started = time.Now()
			if !send(Event{Type: EventAgentStart, Agent: targets[i]}) {
				return
			}

		case r := <-results:
			remaining--
			states[r.index].finished = time.Now()
			ev := Event{Agent: targets[r.index]}
			if r.err != nil {
				states[r.index].status = StatusError
				ev.Type, ev.Error = EventAgentError, r.err.Error()
				log.Warn("agent failed", slog.String("agent", targets[r.index]), slog.Any("error", r.err))
			} else {
				states[r.index].status = StatusDone
				ev.Type, ev.Summary, ev.Result = EventAgentDone, r.resp.Summary, r.resp.Result
			}
			if !send(ev) {
				return
			}

		case now := <-ticker.C:
			if !send(progress(now)) {
				return
			}
		}
	}

	send(Event{Type: EventDone})
}

func round1(d time.Duration) float64 {
	return math.Round(d.Seconds()*10) / 10
}
