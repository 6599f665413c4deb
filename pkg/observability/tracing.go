// Package observability 提供可观测性功能：日志、指标、链路追踪
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/KodaTao/WritingAgent"

// Tracer 返回全局 Tracer
// 未配置 TracerProvider 时使用 otel 默认的 no-op 实现
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan 开启一个 span，并附加属性
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan 根据错误设置 span 状态并结束
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
