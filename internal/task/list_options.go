package task

import (
	"strings"
	"time"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// SortOrder 决定列表按更新时间排序的方向。
type SortOrder int

const (
	// SortByUpdatedDesc 最近更新的任务在前，为默认顺序。
	SortByUpdatedDesc SortOrder = iota
	// SortByUpdatedAsc 最早更新的任务在前。
	SortByUpdatedAsc
)

// ListOptions 是 Store.List 与 Store.Stats 共用的筛选条件。
// UpdatedGTE/UpdatedLTE 为 Unix 秒，0 表示不限制。
type ListOptions struct {
	Limit      int
	Offset     int
	Statuses   []Status
	UpdatedGTE int64
	UpdatedLTE int64
	HasResult  *bool
	Order      SortOrder
	Query      string
}

// ListOption 修改 ListOptions。
type ListOption func(*ListOptions)

// WithLimit 设置单页条数，超出 [1,100] 时在 applyDefaults 中收敛。
func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

// WithOffset 跳过前 offset 条匹配结果。
func WithOffset(offset int) ListOption {
	return func(o *ListOptions) { o.Offset = offset }
}

// WithStatuses 只保留给定状态的任务，非法状态会被忽略。
func WithStatuses(statuses ...Status) ListOption {
	return func(o *ListOptions) {
		o.Statuses = append([]Status(nil), statuses...)
	}
}

// WithUpdatedSince 只保留在 ts 及之后更新过的任务。
func WithUpdatedSince(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedGTE = unixOrZero(ts) }
}

// WithUpdatedUntil 只保留在 ts 及之前最后更新的任务。
func WithUpdatedUntil(ts time.Time) ListOption {
	return func(o *ListOptions) { o.UpdatedLTE = unixOrZero(ts) }
}

// WithResultPresence 按是否已有编排结果筛选：true 只要已完成并带结果的任务。
func WithResultPresence(present bool) ListOption {
	return func(o *ListOptions) { o.HasResult = &present }
}

// WithSortOrder 切换排序方向。
func WithSortOrder(order SortOrder) ListOption {
	return func(o *ListOptions) { o.Order = order }
}

// WithQuery 对任务 ID、goal 与最近错误做不区分大小写的子串匹配。
func WithQuery(query string) ListOption {
	return func(o *ListOptions) { o.Query = query }
}

func buildListOptions(opts []ListOption) ListOptions {
	var out ListOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&out)
		}
	}
	out.applyDefaults()
	return out
}

func (o *ListOptions) applyDefaults() {
	switch {
	case o.Limit <= 0:
		o.Limit = defaultListLimit
	case o.Limit > maxListLimit:
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	o.Statuses = dedupStatuses(o.Statuses)
	if o.Order != SortByUpdatedAsc {
		o.Order = SortByUpdatedDesc
	}
	o.Query = strings.TrimSpace(o.Query)
}

func unixOrZero(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.Unix()
}

// dedupStatuses 去掉非法与重复的状态，保持原有顺序；结果为空时返回 nil 表示不过滤。
func dedupStatuses(in []Status) []Status {
	var out []Status
	seen := make(map[Status]bool, len(in))
	for _, s := range in {
		if !IsValidStatus(s) || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
