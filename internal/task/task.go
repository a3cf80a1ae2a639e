package task

import (
	stdErrors "errors"
	"net/http"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/orchestrator"
)

// Status 表示任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Request 是提交异步编排任务的输入，与 /agents/run 的请求体一致。
type Request struct {
	ID              string
	Goal            string
	Constraints     []string
	Context         map[string]any
	PreferredAgents []string
}

// Task 描述了排队执行的一次编排运行。
type Task struct {
	ID              string                  `json:"id"`
	Goal            string                  `json:"goal"`
	Constraints     []string                `json:"constraints"`
	Context         map[string]any          `json:"context,omitempty"`
	PreferredAgents []string                `json:"preferred_agents,omitempty"`
	Status          Status                  `json:"status"`
	Attempts        int                     `json:"attempts"`
	LastError       string                  `json:"last_error,omitempty"`
	ErrorCode       string                  `json:"error_code,omitempty"`
	Result          *orchestrator.RunResult `json:"result,omitempty"`
	CreatedAt       int64                   `json:"created_at"`
	UpdatedAt       int64                   `json:"updated_at"`
}

// Input 把任务还原为编排输入。
func (t *Task) Input() orchestrator.RunInput {
	return orchestrator.RunInput{
		Goal:            t.Goal,
		Constraints:     cloneStrings(t.Constraints),
		Context:         cloneContext(t.Context),
		PreferredAgents: cloneStrings(t.PreferredAgents),
	}
}

// Terminal 报告任务是否已结束。
func (t *Task) Terminal() bool {
	return t.Status == StatusSucceeded || t.Status == StatusFailed
}

const (
	CodeTaskNotFound   xerrors.Code = "TASK_NOT_FOUND"
	CodeTaskConflict   xerrors.Code = "TASK_CONFLICT"
	CodeTaskFinished   xerrors.Code = "TASK_FINISHED"
	CodeTaskValidation xerrors.Code = "TASK_VALIDATION_FAILED"
	CodeTaskPublish    xerrors.Code = "TASK_PUBLISH_FAILED"
	CodeTaskProcessing xerrors.Code = "TASK_PROCESSING_FAILED"
)

func init() {
	xerrors.Register(CodeTaskNotFound, xerrors.Attributes{
		Message:    "task not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeTaskConflict, xerrors.Attributes{
		Message:    "task conflict",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeTaskFinished, xerrors.Attributes{
		Message:    "task already finished",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeTaskValidation, xerrors.Attributes{
		Message:    "task validation failed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
	})
	xerrors.Register(CodeTaskPublish, xerrors.Attributes{
		Message:    "failed to publish task",
		Severity:   xerrors.SeverityCritical,
		HTTPStatus: http.StatusServiceUnavailable,
		Alert:      true,
	})
	xerrors.Register(CodeTaskProcessing, xerrors.Attributes{
		Message:    "task execution failed",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusInternalServerError,
		Alert:      true,
	})
}

var (
	// ErrTaskNotFound 表示指定的任务不存在。
	ErrTaskNotFound = xerrors.New(CodeTaskNotFound, "task not found")
	// ErrTaskConflict 表示任务在当前状态下无法进行所请求的操作。
	ErrTaskConflict = xerrors.New(CodeTaskConflict, "task conflict")
	// ErrTaskFinished 表示任务已成功或失败，不会再次执行。
	ErrTaskFinished = xerrors.New(CodeTaskFinished, "task already finished")
)

// IsTaskError 判断错误是否为指定的任务错误。
func IsTaskError(err error, target xerrors.Code) bool {
	if err == nil {
		return false
	}
	switch target {
	case CodeTaskNotFound:
		return stdErrors.Is(err, ErrTaskNotFound)
	case CodeTaskConflict:
		return stdErrors.Is(err, ErrTaskConflict)
	case CodeTaskFinished:
		return stdErrors.Is(err, ErrTaskFinished)
	}
	return xerrors.CodeOf(err) == target
}

// IsValidStatus 检查给定的任务状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneContext(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneTask(task *Task) *Task {
	clone := *task
	clone.Constraints = cloneStrings(task.Constraints)
	clone.PreferredAgents = cloneStrings(task.PreferredAgents)
	clone.Context = cloneContext(task.Context)
	if task.Result != nil {
		r := *task.Result
		clone.Result = &r
	}
	return &clone
}
