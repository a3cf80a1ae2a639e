package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	xerrors "Ekronos-Agents/internal/errors"
	"Ekronos-Agents/internal/task"
)

func (s *Server) tasks() (*task.Service, error) {
	if s.deps.Tasks == nil {
		return nil, xerrors.New(xerrors.CodeUnavailable, "task service not configured")
	}
	return s.deps.Tasks, nil
}

// handleSubmitTask 接受与 /agents/run 相同的请求体，返回 202 与排队中的任务。
func (s *Server) handleSubmitTask(c echo.Context) error {
	svc, err := s.tasks()
	if err != nil {
		return err
	}
	var req runRequest
	if err := decodeBody(c, &req); err != nil {
		return err
	}
	in, err := s.input(req)
	if err != nil {
		return err
	}
	submitted, err := svc.Submit(c.Request().Context(), task.Request{
		ID:              req.ID,
		Goal:            in.Goal,
		Constraints:     in.Constraints,
		Context:         in.Context,
		PreferredAgents: in.PreferredAgents,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, submitted)
}

func (s *Server) handleTaskDetail(c echo.Context) error {
	svc, err := s.tasks()
	if err != nil {
		return err
	}
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "task id is required")
	}
	t, err := svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) handleListTasks(c echo.Context) error {
	svc, err := s.tasks()
	if err != nil {
		return err
	}
	opts, err := listOptions(c)
	if err != nil {
		return err
	}
	items, err := svc.List(c.Request().Context(), opts...)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*task.Task{}
	}
	return c.JSON(http.StatusOK, map[string]any{"tasks": items})
}

func (s *Server) handleTaskStats(c echo.Context) error {
	svc, err := s.tasks()
	if err != nil {
		return err
	}
	opts, err := listOptions(c)
	if err != nil {
		return err
	}
	stats, err := svc.Stats(c.Request().Context(), opts...)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

// listOptions 解析 status（逗号分隔）、limit、offset、q、order、
// updated_since/updated_until（RFC3339）与 has_result 查询参数。
func listOptions(c echo.Context) ([]task.ListOption, error) {
	var opts []task.ListOption
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		var statuses []task.Status
		for _, part := range strings.Split(raw, ",") {
			status := task.Status(strings.ToLower(strings.TrimSpace(part)))
			if !task.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid status: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, task.WithStatuses(statuses...))
	}
	for _, p := range []struct {
		name  string
		apply func(int) task.ListOption
	}{
		{"limit", task.WithLimit},
		{"offset", task.WithOffset},
	} {
		raw := strings.TrimSpace(c.QueryParam(p.name))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid "+p.name+": "+raw)
		}
		opts = append(opts, p.apply(n))
	}
	for _, p := range []struct {
		name  string
		apply func(time.Time) task.ListOption
	}{
		{"updated_since", task.WithUpdatedSince},
		{"updated_until", task.WithUpdatedUntil},
	} {
		raw := strings.TrimSpace(c.QueryParam(p.name))
		if raw == "" {
			continue
		}
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid "+p.name+": "+raw)
		}
		opts = append(opts, p.apply(ts))
	}
	if raw := strings.TrimSpace(c.QueryParam("has_result")); raw != "" {
		present, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid has_result: "+raw)
		}
		opts = append(opts, task.WithResultPresence(present))
	}
	if q := strings.TrimSpace(c.QueryParam("q")); q != "" {
		opts = append(opts, task.WithQuery(q))
	}
	if strings.EqualFold(c.QueryParam("order"), "asc") {
		opts = append(opts, task.WithSortOrder(task.SortByUpdatedAsc))
	}
	return opts, nil
}

func (s *Server) handleChainSnapshot(c echo.Context) error {
	if s.deps.Chain == nil {
		return xerrors.New(xerrors.CodeUnavailable, "chain client not configured")
	}
	snapshot, err := s.deps.Chain.FetchChainSnapshot(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot)
}
