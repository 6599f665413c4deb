// Package schedule 将模型给出的调度请求转换为调度器调用
// 所有操作都返回可读的结果文本，错误不会越过这一层
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/KodaTao/WritingAgent/pkg/function"
	"github.com/KodaTao/WritingAgent/pkg/observability"
	"github.com/KodaTao/WritingAgent/pkg/scheduler"
)

// CallbackName 调度任务触发时调用的回调
const CallbackName = "execute_task"

// 结果文本
const (
	msgNotSchedulable = "Not a valid schedule input"
	msgNoTasks        = "No scheduled tasks found."
)

// MaxDelaySeconds 延时上限（十年），保证换算为 time.Duration 不溢出
const MaxDelaySeconds int64 = 10 * 365 * 24 * 60 * 60

// When 调度时间，只能是下面四种之一
type When interface {
	kind() string
}

// NoSchedule 不需要调度
type NoSchedule struct{}

// ScheduledAt 在指定时间执行
type ScheduledAt struct {
	Time time.Time
}

// DelayedBy 延时若干秒执行
type DelayedBy struct {
	Seconds int64
}

// Cron 按 Cron 表达式重复执行
type Cron struct {
	Expr string
}

func (NoSchedule) kind() string  { return "no-schedule" }
func (ScheduledAt) kind() string { return "scheduled" }
func (DelayedBy) kind() string   { return "delayed" }
func (Cron) kind() string        { return "cron" }

// Store 调度器提供的任务存储
type Store interface {
	Create(ctx context.Context, timing scheduler.Timing, callback, payload string) (string, error)
	List(ctx context.Context) ([]scheduler.ScheduledTask, error)
	Cancel(ctx context.Context, id string) error
}

// Adapter 调度适配器，本身不持有可变状态
type Adapter struct {
	store  Store
	logger *slog.Logger
}

// NewAdapter 创建调度适配器
func NewAdapter(store Store, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = observability.DefaultLogger()
	}
	return &Adapter{store: store, logger: logger}
}

// Schedule 登记一个任务
// NoSchedule 和不完整的时间不会到达调度器
func (a *Adapter) Schedule(ctx context.Context, when When, description string) function.Result {
	var (
		timing scheduler.Timing
		value  string
	)

	switch w := when.(type) {
	case NoSchedule:
		observability.ScheduleLog(ctx, w.kind(), "", "rejected")
		return function.Result{Message: msgNotSchedulable}
	case ScheduledAt:
		if w.Time.IsZero() {
			return a.invalid(ctx, w.kind(), "a date is required")
		}
		timing = scheduler.At(w.Time)
		value = w.Time.Format(time.RFC3339)
	case DelayedBy:
		if w.Seconds < 0 {
			return a.invalid(ctx, w.kind(), "delay_in_seconds must not be negative")
		}
		if w.Seconds > MaxDelaySeconds {
			return a.invalid(ctx, w.kind(), fmt.Sprintf("delay_in_seconds must not exceed %d", MaxDelaySeconds))
		}
		timing = scheduler.After(time.Duration(w.Seconds) * time.Second)
		value = strconv.FormatInt(w.Seconds, 10)
	case Cron:
		if _, err := scheduler.ParseCron(w.Expr); err != nil {
			return a.invalid(ctx, w.kind(), fmt.Sprintf("invalid cron expression %q: %v", w.Expr, err))
		}
		timing = scheduler.Cron(w.Expr)
		value = w.Expr
	default:
		observability.ScheduleLog(ctx, "unknown", "", "rejected")
		return function.Result{Message: msgNotSchedulable}
	}

	id, err := a.store.Create(ctx, timing, CallbackName, description)
	if err != nil {
		a.logger.Error("failed to schedule task", "kind", when.kind(), "timing", value, "error", err)
		observability.ScheduleLog(ctx, when.kind(), value, "failed")
		return function.Result{Message: fmt.Sprintf("Error scheduling task: %v", err)}
	}

	observability.ScheduleLog(ctx, when.kind(), value, "scheduled")
	return function.Result{
		Message: fmt.Sprintf("Task scheduled for type %q : %s", when.kind(), value),
		Data: map[string]any{
			"id":          id,
			"type":        when.kind(),
			"when":        value,
			"description": description,
		},
	}
}

// List 列出已登记的任务
func (a *Adapter) List(ctx context.Context) function.Result {
	tasks, err := a.store.List(ctx)
	if err != nil {
		a.logger.Error("failed to list scheduled tasks", "error", err)
		return function.Result{Message: fmt.Sprintf("Error listing scheduled tasks: %v", err)}
	}
	if len(tasks) == 0 {
		return function.Result{Message: msgNoTasks}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Scheduled tasks (%d):\n", len(tasks))
	items := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		timing := t.Timing().String()
		fmt.Fprintf(&b, "- %s [%s %s] %s", t.ID, t.Kind, timing, t.Payload)
		if t.NextRunAt != nil {
			fmt.Fprintf(&b, " (next run %s)", t.NextRunAt.Format(time.RFC3339))
		}
		b.WriteString("\n")
		items = append(items, map[string]any{
			"id":          t.ID,
			"kind":        string(t.Kind),
			"timing":      timing,
			"description": t.Payload,
		})
	}
	return function.Result{Message: b.String(), Data: items}
}

// Cancel 取消任务
func (a *Adapter) Cancel(ctx context.Context, id string) function.Result {
	if err := a.store.Cancel(ctx, id); err != nil {
		a.logger.Error("failed to cancel task", "task_id", id, "error", err)
		return function.Result{Message: fmt.Sprintf("Error canceling task %s: %v", id, err)}
	}
	return function.Result{Message: fmt.Sprintf("Task %s has been successfully canceled", id)}
}

// invalid 时间信息不完整
func (a *Adapter) invalid(ctx context.Context, kind, reason string) function.Result {
	observability.ScheduleLog(ctx, kind, "", "invalid")
	return function.Result{Message: fmt.Sprintf("Invalid %s schedule: %s", kind, reason)}
}
