package chassis

import (
	"context"

	"github.com/KodaTao/WritingAgent/pkg/scheduler"
	"github.com/KodaTao/WritingAgent/pkg/types"
)

// taskExecutionPromptPrefix 任务执行时的提示前缀
// 告诉模型这是已到期的任务，应直接完成而不是再次登记
const taskExecutionPromptPrefix = `[Scheduled task] This task was scheduled earlier and is due now. Do it right away.
Do not create a new schedule for it. Reply with the finished result for the user.

Task: `

// agentExecutorAdapter 实现 scheduler.AgentExecutor 接口
// 用于将 Agent 适配到 scheduler 包，避免循环依赖
type agentExecutorAdapter struct {
	agent *Agent
}

// NewAgentExecutorAdapter 创建 AgentExecutor 适配器
func NewAgentExecutorAdapter(agent *Agent) scheduler.AgentExecutor {
	return &agentExecutorAdapter{agent: agent}
}

// Execute 执行一次独立的对话，返回 LLM 的最终回复
// 每次执行使用新的 session 和精简版系统提示，执行完即删除
func (a *agentExecutorAdapter) Execute(ctx context.Context, prompt string) (string, error) {
	sessionID := "task_" + generateSessionID()
	defer a.agent.DeleteSession(sessionID)

	resp, err := a.agent.chat(ctx, types.ChatRequest{
		SessionID: sessionID,
		Message:   taskExecutionPromptPrefix + prompt,
		Channel:   types.ChannelFromContext(ctx),
	}, a.agent.promptGenerator.GenerateMinimalPrompt)
	if err != nil {
		return "", err
	}
	return resp.Reply, nil
}
