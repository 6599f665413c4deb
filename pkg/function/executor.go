// Package function 提供 Function 接口定义和相关类型
package function

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"
	"go.opentelemetry.io/otel/attribute"

	"github.com/KodaTao/WritingAgent/pkg/observability"
)

// InvocationState 工具调用状态
//
//	requested → validated → (auto_executed | pending_confirmation) → completed
//	requested → rejected（参数不合法）
//	auto_executed → failed（执行出错）
//	pending_confirmation → completed | rejected（拒绝或超时）
type InvocationState string

const (
	StateRequested           InvocationState = "requested"
	StateValidated           InvocationState = "validated"
	StateAutoExecuted        InvocationState = "auto_executed"
	StatePendingConfirmation InvocationState = "pending_confirmation"
	StateCompleted           InvocationState = "completed"
	StateRejected            InvocationState = "rejected"
	StateFailed              InvocationState = "failed"
)

// Final 是否为终态
func (s InvocationState) Final() bool {
	return s == StateCompleted || s == StateRejected || s == StateFailed
}

// Executor 函数执行器
// 封装参数校验、确认门、超时控制和 panic 捕获
type Executor struct {
	registry  *Registry
	approvals *ApprovalStore
	timeout   time.Duration
}

// NewExecutor 创建函数执行器
func NewExecutor(registry *Registry, approvals *ApprovalStore, timeout time.Duration) *Executor {
	if timeout == 0 {
		timeout = 30 * time.Second // 默认超时 30 秒
	}
	if approvals == nil {
		approvals = NewApprovalStore(0)
	}
	return &Executor{
		registry:  registry,
		approvals: approvals,
		timeout:   timeout,
	}
}

// ExecuteRequest 执行请求
type ExecuteRequest struct {
	CallID       string          // 模型给出的调用 ID
	FunctionName string          // 工具名
	Arguments    json.RawMessage // JSON 参数
	SessionID    string          // 所属会话
}

// ExecuteResponse 执行响应
type ExecuteResponse struct {
	Result      Result
	State       InvocationState
	Transitions []InvocationState
	ApprovalID  string
	Duration    time.Duration
	Error       error
}

// Text 返回交给模型的结果文本
func (r ExecuteResponse) Text() string {
	if r.Error != nil {
		return r.Error.Error()
	}
	return r.Result.Text()
}

func (r *ExecuteResponse) move(state InvocationState) {
	r.State = state
	r.Transitions = append(r.Transitions, state)
}

// Execute 处理一次工具调用
// 参数不合法时返回 rejected，需要确认的工具返回 pending_confirmation
func (e *Executor) Execute(ctx context.Context, req ExecuteRequest) ExecuteResponse {
	start := time.Now()
	resp := ExecuteResponse{}
	resp.move(StateRequested)

	desc, ok := e.registry.Descriptor(req.FunctionName)
	if !ok {
		resp.move(StateRejected)
		resp.Error = fmt.Errorf("%w: %s", ErrFunctionNotFound, req.FunctionName)
		resp.Duration = time.Since(start)
		observability.FunctionCallLog(ctx, req.FunctionName, string(resp.State), resp.Duration.Milliseconds())
		return resp
	}

	if err := desc.Schema.Validate(req.Arguments); err != nil {
		resp.move(StateRejected)
		resp.Error = fmt.Errorf("invalid arguments for %s: %w", req.FunctionName, err)
		resp.Duration = time.Since(start)
		observability.FunctionCallLog(ctx, req.FunctionName, string(resp.State), resp.Duration.Milliseconds())
		return resp
	}
	resp.move(StateValidated)

	// 需要确认的工具不执行，登记后等待人工处理
	if e.registry.IsGated(req.FunctionName) {
		approval := e.approvals.Add(req)
		resp.move(StatePendingConfirmation)
		resp.ApprovalID = approval.ID
		resp.Result = Result{
			Message: fmt.Sprintf("%s requires confirmation before it runs (approval id: %s). Waiting for the user.", req.FunctionName, approval.ID),
		}
		resp.Duration = time.Since(start)
		observability.FunctionCallLog(ctx, req.FunctionName, string(resp.State), resp.Duration.Milliseconds())
		return resp
	}

	fn, _ := e.registry.Auto(req.FunctionName)
	resp.move(StateAutoExecuted)
	e.run(ctx, fn, desc, req.Arguments, &resp)
	resp.Duration = time.Since(start)
	observability.FunctionCallLog(ctx, req.FunctionName, string(resp.State), resp.Duration.Milliseconds())
	return resp
}

// Resolve 处理人工确认结果
// approved 为 true 时执行确认表中的逻辑，否则调用被拒绝
func (e *Executor) Resolve(ctx context.Context, approvalID string, approved bool) (Approval, ExecuteResponse, error) {
	start := time.Now()
	resp := ExecuteResponse{ApprovalID: approvalID}
	resp.move(StatePendingConfirmation)

	approval, err := e.approvals.Take(approvalID, approved)
	if errors.Is(err, ErrApprovalNotFound) {
		return approval, resp, err
	}
	if err != nil {
		resp.move(StateRejected)
		resp.Error = fmt.Errorf("%s was not run: %w", approval.Tool, err)
		return approval, finish(ctx, approval.Tool, start, resp), nil
	}

	if !approved {
		resp.move(StateRejected)
		resp.Result = Result{Message: fmt.Sprintf("The user denied running %s.", approval.Tool)}
		return approval, finish(ctx, approval.Tool, start, resp), nil
	}

	fn, ok := e.registry.Gated(approval.Tool)
	desc, _ := e.registry.Descriptor(approval.Tool)
	if !ok || desc == nil {
		resp.move(StateFailed)
		resp.Error = fmt.Errorf("%w: %s", ErrFunctionNotFound, approval.Tool)
		return approval, finish(ctx, approval.Tool, start, resp), nil
	}

	e.run(ctx, fn, desc, approval.Arguments, &resp)
	return approval, finish(ctx, approval.Tool, start, resp), nil
}

// finish 记录耗时并输出调用日志
func finish(ctx context.Context, name string, start time.Time, resp ExecuteResponse) ExecuteResponse {
	resp.Duration = time.Since(start)
	observability.FunctionCallLog(ctx, name, string(resp.State), resp.Duration.Milliseconds())
	return resp
}

// Approvals 返回确认存储
func (e *Executor) Approvals() *ApprovalStore {
	return e.approvals
}

// run 解码参数并执行函数，结果写入 resp
func (e *Executor) run(ctx context.Context, fn Function, desc *Descriptor, args json.RawMessage, resp *ExecuteResponse) {
	ctx, span := observability.StartSpan(ctx, "tool "+desc.Name,
		attribute.String("tool.name", desc.Name),
		attribute.Bool("tool.gated", desc.RequiresConfirmation),
	)

	params, err := desc.Schema.Decode(args)
	if err != nil {
		resp.move(StateRejected)
		resp.Error = err
		observability.EndSpan(span, err)
		return
	}

	// 创建带超时的 context
	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	result, err := e.executeWithRecover(execCtx, fn, params)
	observability.EndSpan(span, err)
	if err != nil {
		resp.move(StateFailed)
		resp.Error = err
		return
	}
	resp.move(StateCompleted)
	resp.Result = result
}

type execOutcome struct {
	result Result
	err    error
}

// executeWithRecover 执行函数并捕获 panic
func (e *Executor) executeWithRecover(ctx context.Context, fn Function, params any) (Result, error) {
	done := make(chan execOutcome, 1)

	go func() {
		var out execOutcome
		var catcher panics.Catcher
		catcher.Try(func() {
			out.result, out.err = fn.Execute(ctx, params)
		})
		if r := catcher.Recovered(); r != nil {
			out = execOutcome{err: fmt.Errorf("%w: %v", ErrFunctionPanicked, r.Value)}
			observability.Error("Function panicked",
				"function", fn.Name(),
				"panic", r.Value,
			)
		}
		done <- out
	}()

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, fmt.Errorf("function execution timeout: %w", ctx.Err())
	}
}

// SetTimeout 设置超时时间
func (e *Executor) SetTimeout(timeout time.Duration) {
	e.timeout = timeout
}

// GetTimeout 获取超时时间
func (e *Executor) GetTimeout() time.Duration {
	return e.timeout
}

// ErrFunctionPanicked 函数执行时 panic
var ErrFunctionPanicked = errors.New("function panicked")
