// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/KodaTao/WritingAgent/pkg/types"
)

// TimingKind 调度方式
type TimingKind string

const (
	KindAt    TimingKind = "at"    // 指定时间点执行一次
	KindDelay TimingKind = "delay" // 延时若干秒执行一次
	KindCron  TimingKind = "cron"  // 按 Cron 表达式重复执行
)

// Timing 任务的调度时间描述
// 创建后不再修改
type Timing struct {
	Kind  TimingKind
	At    time.Time
	Delay time.Duration
	Cron  string
}

// At 在指定时间点执行
func At(t time.Time) Timing {
	return Timing{Kind: KindAt, At: t}
}

// After 延时执行
func After(d time.Duration) Timing {
	return Timing{Kind: KindDelay, Delay: d}
}

// Cron 按 Cron 表达式重复执行
func Cron(expr string) Timing {
	return Timing{Kind: KindCron, Cron: expr}
}

// Validate 检查调度时间是否完整
func (t Timing) Validate() error {
	switch t.Kind {
	case KindAt:
		if t.At.IsZero() {
			return fmt.Errorf("%w: missing time", ErrInvalidTiming)
		}
	case KindDelay:
		if t.Delay < 0 {
			return fmt.Errorf("%w: negative delay", ErrInvalidTiming)
		}
	case KindCron:
		if _, err := ParseCron(t.Cron); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTiming, err)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTiming, t.Kind)
	}
	return nil
}

// String 返回调度时间的可读形式
func (t Timing) String() string {
	switch t.Kind {
	case KindAt:
		return t.At.Format(time.RFC3339)
	case KindDelay:
		return strconv.FormatInt(int64(t.Delay/time.Second), 10) + "s"
	case KindCron:
		return t.Cron
	default:
		return string(t.Kind)
	}
}

// ScheduledTask 已登记的调度任务
// 创建后时间信息不再修改，取消即删除
type ScheduledTask struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Callback     string     `gorm:"not null;index" json:"callback"`        // 触发时调用的回调名
	Payload      string     `gorm:"type:text" json:"payload"`              // 任务描述，原样交给回调
	Kind         TimingKind `gorm:"not null;size:16" json:"kind"`          // at / delay / cron
	RunAt        *time.Time `gorm:"index" json:"run_at,omitempty"`         // 一次性任务的执行时间
	DelaySeconds int64      `json:"delay_seconds,omitempty"`               // 延时任务的原始延时
	CronExpr     string     `json:"cron_expr,omitempty"`                   // Cron 表达式
	NextRunAt    *time.Time `json:"next_run_at,omitempty"`                 // 下次执行时间
	Channel      string     `gorm:"type:text" json:"channel,omitempty"`    // 渠道上下文 JSON
	CreatedAt    time.Time  `json:"created_at"`
}

// TableName 指定表名
func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}

// Timing 还原任务的调度时间
func (t *ScheduledTask) Timing() Timing {
	switch t.Kind {
	case KindCron:
		return Cron(t.CronExpr)
	case KindDelay:
		return After(time.Duration(t.DelaySeconds) * time.Second)
	default:
		if t.RunAt == nil {
			return At(time.Time{})
		}
		return At(*t.RunAt)
	}
}

// IsRecurring 是否为重复任务
func (t *ScheduledTask) IsRecurring() bool {
	return t.Kind == KindCron
}

// ChannelContext 解析任务的渠道上下文，未设置时返回 nil
func (t *ScheduledTask) ChannelContext() *types.ChannelContext {
	if t.Channel == "" {
		return nil
	}
	var ch types.ChannelContext
	if err := json.Unmarshal([]byte(t.Channel), &ch); err != nil {
		return nil
	}
	return &ch
}

// RunStatus 回调执行状态
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// TaskRun 回调执行记录
type TaskRun struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	TaskID     string     `gorm:"not null;index;size:36" json:"task_id"`
	Callback   string     `gorm:"not null" json:"callback"`
	StartedAt  time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Status     RunStatus  `gorm:"not null;size:16" json:"status"`
	Result     string     `gorm:"type:text" json:"result,omitempty"`
	Error      string     `gorm:"type:text" json:"error,omitempty"`
	DurationMs int64      `json:"duration_ms"`
}

// TableName 指定表名
func (TaskRun) TableName() string {
	return "task_runs"
}
