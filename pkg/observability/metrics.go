// Package observability 提供可观测性功能：日志、指标、链路追踪
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "writingagent"

var (
	// ToolInvocations 工具调用次数，按工具名和最终状态统计
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tool_invocations_total",
		Help:      "Number of tool invocations by tool and final state.",
	}, []string{"tool", "status"})

	// ToolDuration 工具执行耗时
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tool_duration_seconds",
		Help:      "Tool execution latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"tool"})

	// LLMRequests LLM 请求次数
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "llm_requests_total",
		Help:      "Number of chat completion requests sent to the model.",
	}, []string{"provider"})

	// ScheduleRequests 调度请求次数
	ScheduleRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "schedule_requests_total",
		Help:      "Number of schedule requests by timing kind and outcome.",
	}, []string{"kind", "status"})

	// ScheduledRuns 定时任务回调执行次数
	ScheduledRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_runs_total",
		Help:      "Number of scheduled callback executions by callback and status.",
	}, []string{"callback", "status"})

	// PendingApprovals 当前等待人工确认的调用数
	PendingApprovals = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "pending_approvals",
		Help:      "Tool invocations waiting for human confirmation.",
	})
)

// MetricsHandler 返回 Prometheus 指标 HTTP 处理器
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
