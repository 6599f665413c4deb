// Package builtin 提供内置的 Function 实现
package builtin

import (
	"context"
	"reflect"

	"github.com/KodaTao/WritingAgent/pkg/function"
	"github.com/KodaTao/WritingAgent/pkg/schedule"
)

// WhenParams 调度时间参数
type WhenParams struct {
	Type           string `json:"type" jsonschema:"required,enum=no-schedule,enum=scheduled,enum=delayed,enum=cron" jsonschema_description:"How the task is scheduled"`
	Date           string `json:"date,omitempty" jsonschema_description:"For type scheduled: the date and time to run, ISO8601 e.g. 2025-01-15T10:30:00+08:00"`
	DelayInSeconds int64  `json:"delay_in_seconds,omitempty" jsonschema:"minimum=0,maximum=315360000" jsonschema_description:"For type delayed: seconds to wait before running (at most ten years)"`
	Cron           string `json:"cron,omitempty" jsonschema_description:"For type cron: cron expression, e.g. '0 9 * * *' for every day at 9:00"`
}

// ScheduleTaskParams 创建调度任务的参数
type ScheduleTaskParams struct {
	Description string     `json:"description" jsonschema:"required" jsonschema_description:"What should happen when the task runs; used as the prompt at that time"`
	When        WhenParams `json:"when" jsonschema:"required" jsonschema_description:"When the task should run"`
}

// ScheduleTaskFunction 创建调度任务
type ScheduleTaskFunction struct {
	adapter *schedule.Adapter
}

// NewScheduleTaskFunction 创建 ScheduleTaskFunction
func NewScheduleTaskFunction(a *schedule.Adapter) *ScheduleTaskFunction {
	return &ScheduleTaskFunction{adapter: a}
}

func (f *ScheduleTaskFunction) Name() string {
	return "schedule_task"
}

func (f *ScheduleTaskFunction) Description() string {
	return "Schedule a writing task to run later: at a specific date, after a delay in seconds, or repeatedly with a cron expression. When it runs, the description is sent to the assistant as a prompt."
}

func (f *ScheduleTaskFunction) ParamsType() reflect.Type {
	return reflect.TypeOf(ScheduleTaskParams{})
}

func (f *ScheduleTaskFunction) Execute(ctx context.Context, params any) (function.Result, error) {
	p := params.(ScheduleTaskParams)
	when := schedule.ParseWhen(p.When.Type, p.When.Date, p.When.DelayInSeconds, p.When.Cron)
	return f.adapter.Schedule(ctx, when, p.Description), nil
}

// GetScheduledTasksFunction 列出调度任务
type GetScheduledTasksFunction struct {
	adapter *schedule.Adapter
}

// NewGetScheduledTasksFunction 创建 GetScheduledTasksFunction
func NewGetScheduledTasksFunction(a *schedule.Adapter) *GetScheduledTasksFunction {
	return &GetScheduledTasksFunction{adapter: a}
}

func (f *GetScheduledTasksFunction) Name() string {
	return "get_scheduled_tasks"
}

func (f *GetScheduledTasksFunction) Description() string {
	return "List all scheduled tasks with their ids, timing and description."
}

func (f *GetScheduledTasksFunction) ParamsType() reflect.Type {
	return nil
}

func (f *GetScheduledTasksFunction) Execute(ctx context.Context, params any) (function.Result, error) {
	return f.adapter.List(ctx), nil
}

// CancelScheduledTaskParams 取消调度任务的参数
type CancelScheduledTaskParams struct {
	TaskID string `json:"task_id" jsonschema:"required" jsonschema_description:"ID of the task to cancel, as returned by get_scheduled_tasks"`
}

// CancelScheduledTaskFunction 取消调度任务
type CancelScheduledTaskFunction struct {
	adapter *schedule.Adapter
}

// NewCancelScheduledTaskFunction 创建 CancelScheduledTaskFunction
func NewCancelScheduledTaskFunction(a *schedule.Adapter) *CancelScheduledTaskFunction {
	return &CancelScheduledTaskFunction{adapter: a}
}

func (f *CancelScheduledTaskFunction) Name() string {
	return "cancel_scheduled_task"
}

func (f *CancelScheduledTaskFunction) Description() string {
	return "Cancel a scheduled task by its id."
}

func (f *CancelScheduledTaskFunction) ParamsType() reflect.Type {
	return reflect.TypeOf(CancelScheduledTaskParams{})
}

func (f *CancelScheduledTaskFunction) Execute(ctx context.Context, params any) (function.Result, error) {
	p := params.(CancelScheduledTaskParams)
	return f.adapter.Cancel(ctx, p.TaskID), nil
}

// ScheduleFunctions 返回调度相关的全部 Function
func ScheduleFunctions(a *schedule.Adapter) []function.Function {
	return []function.Function{
		NewScheduleTaskFunction(a),
		NewGetScheduledTasksFunction(a),
		NewCancelScheduledTaskFunction(a),
	}
}
