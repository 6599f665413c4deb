// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"context"

	"github.com/KodaTao/WritingAgent/pkg/observability"
)

// AgentExecutor 定义 Agent 执行接口
// 用于解耦 scheduler 和 chassis 包，避免循环依赖
type AgentExecutor interface {
	// Execute 执行一次独立对话，返回 LLM 的最终回复
	Execute(ctx context.Context, prompt string) (string, error)
}

// Notifier 将回调结果发送到任务登记时的渠道
type Notifier interface {
	Notify(ctx context.Context, task ScheduledTask, text string) error
}

// AgentCallback 以任务描述作为提示词执行一次对话
// notifier 不为 nil 时把回复发送到任务渠道，发送失败不影响执行结果
func AgentCallback(executor AgentExecutor, notifier Notifier) Callback {
	return func(ctx context.Context, task ScheduledTask) (string, error) {
		reply, err := executor.Execute(ctx, task.Payload)
		if err != nil {
			return "", err
		}
		if notifier != nil {
			if err := notifier.Notify(ctx, task, reply); err != nil {
				observability.WarnContext(ctx, "failed to deliver task result", "task_id", task.ID, "error", err)
			}
		}
		return reply, nil
	}
}
