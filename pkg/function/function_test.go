package function

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/KodaTao/WritingAgent/pkg/observability"
)

// MockFunction 测试用的 Mock 函数
type MockFunction struct {
	name        string
	description string
	paramsType  reflect.Type
	executeFunc func(ctx context.Context, params any) (Result, error)
}

func (m *MockFunction) Name() string             { return m.name }
func (m *MockFunction) Description() string      { return m.description }
func (m *MockFunction) ParamsType() reflect.Type { return m.paramsType }
func (m *MockFunction) Execute(ctx context.Context, params any) (Result, error) {
	if m.executeFunc != nil {
		return m.executeFunc(ctx, params)
	}
	return Result{Message: "executed"}, nil
}

// TestParams 测试用的参数结构
type TestParams struct {
	Name    string `json:"name" jsonschema:"required" jsonschema_description:"名称"`
	Count   int    `json:"count,omitempty" jsonschema:"minimum=0,default=10" jsonschema_description:"数量"`
	Enabled bool   `json:"enabled,omitempty" jsonschema_description:"是否启用"`
}

func mustBuild(t *testing.T, b *Builder) *Registry {
	t.Helper()
	r, err := b.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return r
}

func TestBuilder_Register(t *testing.T) {
	b := NewBuilder()

	fn := &MockFunction{name: "test_func", description: "A test function"}
	if err := b.Register(fn); err != nil {
		t.Errorf("Register() error = %v", err)
	}

	// 注册 nil 应该失败
	if err := b.Register(nil); err != ErrNilFunction {
		t.Errorf("Register(nil) should return ErrNilFunction, got %v", err)
	}

	// 注册空名称应该失败
	if err := b.Register(&MockFunction{name: ""}); err != ErrEmptyFunctionName {
		t.Errorf("Register(empty name) should return ErrEmptyFunctionName, got %v", err)
	}

	// 重复注册应该失败，无论进入哪张表
	if err := b.Register(&MockFunction{name: "test_func"}); !errors.Is(err, ErrDuplicateFunction) {
		t.Errorf("duplicate Register() should return ErrDuplicateFunction, got %v", err)
	}
	if err := b.RegisterGated(&MockFunction{name: "test_func"}); !errors.Is(err, ErrDuplicateFunction) {
		t.Errorf("duplicate RegisterGated() should return ErrDuplicateFunction, got %v", err)
	}

	r := mustBuild(t, b)
	if !r.Has("test_func") {
		t.Error("Registry should have the registered function")
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRegistry_GateTablesAreExclusive(t *testing.T) {
	b := NewBuilder()
	if err := b.RegisterAll(
		&MockFunction{name: "alpha"},
		&MockFunction{name: "beta"},
	); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	if err := b.RegisterGated(&MockFunction{name: "gamma"}); err != nil {
		t.Fatalf("RegisterGated() error = %v", err)
	}
	if err := b.Gate("beta"); err != nil {
		t.Fatalf("Gate() error = %v", err)
	}
	// 已在确认表中的名称重复 Gate 不报错
	if err := b.Gate("gamma"); err != nil {
		t.Errorf("Gate(already gated) error = %v", err)
	}
	if err := b.Gate("missing"); !errors.Is(err, ErrFunctionNotFound) {
		t.Errorf("Gate(missing) should return ErrFunctionNotFound, got %v", err)
	}

	r := mustBuild(t, b)

	tests := []struct {
		name  string
		gated bool
	}{
		{"alpha", false},
		{"beta", true},
		{"gamma", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, inAuto := r.Auto(tt.name)
			_, inGated := r.Gated(tt.name)
			if inAuto == inGated {
				t.Fatalf("%s must be in exactly one table (auto=%v gated=%v)", tt.name, inAuto, inGated)
			}
			if r.IsGated(tt.name) != tt.gated {
				t.Errorf("IsGated(%s) = %v, want %v", tt.name, r.IsGated(tt.name), tt.gated)
			}
			if _, ok := r.Get(tt.name); !ok {
				t.Errorf("Get(%s) should find the function", tt.name)
			}
		})
	}

	if got := r.GatedNames(); !reflect.DeepEqual(got, []string{"beta", "gamma"}) {
		t.Errorf("GatedNames() = %v", got)
	}
}

func TestRegistry_Manifest(t *testing.T) {
	b := NewBuilder()
	b.Register(&MockFunction{
		name:        "zeta",
		description: "last",
		paramsType:  reflect.TypeOf(TestParams{}),
	})
	b.RegisterGated(&MockFunction{name: "alpha", description: "first"})
	r := mustBuild(t, b)

	if got := r.List(); !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Fatalf("List() = %v, want sorted names", got)
	}

	manifest := r.Manifest()
	if len(manifest) != 2 {
		t.Fatalf("Manifest() length = %d, want 2", len(manifest))
	}
	if !manifest[0].RequiresConfirmation || manifest[1].RequiresConfirmation {
		t.Errorf("RequiresConfirmation flags wrong: %+v", manifest)
	}

	zeta := manifest[1]
	if len(zeta.Parameters) != 3 {
		t.Fatalf("zeta parameters = %d, want 3", len(zeta.Parameters))
	}
	if zeta.Parameters[0].Name != "name" || !zeta.Parameters[0].Required {
		t.Errorf("first parameter = %+v, want required name", zeta.Parameters[0])
	}
	if zeta.Parameters[1].Type != "integer" || zeta.Parameters[1].Default != "10" {
		t.Errorf("count parameter = %+v", zeta.Parameters[1])
	}

	var schema map[string]any
	if err := json.Unmarshal(zeta.InputSchema, &schema); err != nil {
		t.Fatalf("InputSchema is not JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("InputSchema type = %v, want object", schema["type"])
	}

	// 能力清单在多次构建之间保持一致
	b2 := NewBuilder()
	b2.Register(&MockFunction{name: "zeta", description: "last", paramsType: reflect.TypeOf(TestParams{})})
	b2.RegisterGated(&MockFunction{name: "alpha", description: "first"})
	r2 := mustBuild(t, b2)
	first, _ := json.Marshal(r.Manifest())
	second, _ := json.Marshal(r2.Manifest())
	if string(first) != string(second) {
		t.Errorf("manifest differs between builds:\n%s\n%s", first, second)
	}
}

func TestParamSchema_Validate(t *testing.T) {
	schema, err := CompileSchema(&MockFunction{name: "v", paramsType: reflect.TypeOf(TestParams{})})
	if err != nil {
		t.Fatalf("CompileSchema() error = %v", err)
	}

	tests := []struct {
		name    string
		args    string
		wantErr bool
	}{
		{"valid", `{"name":"x","count":3}`, false},
		{"only required", `{"name":"x"}`, false},
		{"missing required", `{"count":3}`, true},
		{"wrong type", `{"name":1}`, true},
		{"below minimum", `{"name":"x","count":-1}`, true},
		{"unknown field", `{"name":"x","extra":true}`, true},
		{"not json", `{name:`, true},
		{"empty", ``, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate(json.RawMessage(tt.args))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(%s) error = %v, wantErr %v", tt.args, err, tt.wantErr)
			}
			if err != nil {
				var se *SchemaError
				if !errors.Is(err, ErrSchemaValidation) || !errors.As(err, &se) {
					t.Errorf("error should wrap ErrSchemaValidation and *SchemaError, got %v", err)
				}
			}
		})
	}
}

func TestParamSchema_Decode(t *testing.T) {
	schema, _ := CompileSchema(&MockFunction{name: "v", paramsType: reflect.TypeOf(TestParams{})})
	v, err := schema.Decode(json.RawMessage(`{"name":"x","count":2}`))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	p, ok := v.(TestParams)
	if !ok {
		t.Fatalf("Decode() type = %T, want TestParams", v)
	}
	if p.Name != "x" || p.Count != 2 {
		t.Errorf("Decode() = %+v", p)
	}

	ptrSchema, _ := CompileSchema(&MockFunction{name: "p", paramsType: reflect.TypeOf(&TestParams{})})
	v, _ = ptrSchema.Decode(json.RawMessage(`{"name":"y"}`))
	if _, ok := v.(*TestParams); !ok {
		t.Errorf("Decode() type = %T, want *TestParams", v)
	}

	// 无参数函数接受空参数
	noParams, _ := CompileSchema(&MockFunction{name: "none"})
	if err := noParams.Validate(nil); err != nil {
		t.Errorf("Validate(nil) on empty schema error = %v", err)
	}
	if err := noParams.Validate(json.RawMessage(`{"x":1}`)); err == nil {
		t.Error("empty schema should reject unknown fields")
	}
}

func TestCompileSchema_NonStruct(t *testing.T) {
	_, err := CompileSchema(&MockFunction{name: "bad", paramsType: reflect.TypeOf("")})
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Errorf("CompileSchema(string) should return *SchemaError, got %v", err)
	}
}

func newTestExecutor(t *testing.T, timeout time.Duration, auto []Function, gated []Function) *Executor {
	t.Helper()
	b := NewBuilder()
	if err := b.RegisterAll(auto...); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	for _, fn := range gated {
		if err := b.RegisterGated(fn); err != nil {
			t.Fatalf("RegisterGated() error = %v", err)
		}
	}
	return NewExecutor(mustBuild(t, b), NewApprovalStore(time.Minute), timeout)
}

func TestExecutor_Execute(t *testing.T) {
	echo := &MockFunction{
		name:       "echo",
		paramsType: reflect.TypeOf(TestParams{}),
		executeFunc: func(ctx context.Context, params any) (Result, error) {
			return Result{Message: "hello " + params.(TestParams).Name}, nil
		},
	}
	failing := &MockFunction{
		name: "failing",
		executeFunc: func(ctx context.Context, params any) (Result, error) {
			return Result{}, errors.New("boom")
		},
	}
	e := newTestExecutor(t, time.Second, []Function{echo, failing}, nil)
	ctx := context.Background()

	resp := e.Execute(ctx, ExecuteRequest{CallID: "c1", FunctionName: "echo", Arguments: json.RawMessage(`{"name":"world"}`)})
	if resp.State != StateCompleted || resp.Error != nil {
		t.Fatalf("Execute(echo) state = %s err = %v", resp.State, resp.Error)
	}
	if resp.Text() != "hello world" {
		t.Errorf("Text() = %q", resp.Text())
	}
	want := []InvocationState{StateRequested, StateValidated, StateAutoExecuted, StateCompleted}
	if !reflect.DeepEqual(resp.Transitions, want) {
		t.Errorf("Transitions = %v, want %v", resp.Transitions, want)
	}

	resp = e.Execute(ctx, ExecuteRequest{FunctionName: "echo", Arguments: json.RawMessage(`{}`)})
	if resp.State != StateRejected || !errors.Is(resp.Error, ErrSchemaValidation) {
		t.Errorf("invalid args state = %s err = %v, want rejected", resp.State, resp.Error)
	}

	resp = e.Execute(ctx, ExecuteRequest{FunctionName: "nope"})
	if resp.State != StateRejected || !errors.Is(resp.Error, ErrFunctionNotFound) {
		t.Errorf("unknown tool state = %s err = %v", resp.State, resp.Error)
	}

	resp = e.Execute(ctx, ExecuteRequest{FunctionName: "failing"})
	if resp.State != StateFailed || resp.Error == nil {
		t.Errorf("failing tool state = %s err = %v, want failed", resp.State, resp.Error)
	}
}

func TestExecutor_Timeout(t *testing.T) {
	slow := &MockFunction{
		name: "slow",
		executeFunc: func(ctx context.Context, params any) (Result, error) {
			select {
			case <-time.After(time.Second):
				return Result{Message: "late"}, nil
			case <-ctx.Done():
				return Result{}, ctx.Err()
			}
		},
	}
	e := newTestExecutor(t, 50*time.Millisecond, []Function{slow}, nil)

	resp := e.Execute(context.Background(), ExecuteRequest{FunctionName: "slow"})
	if resp.State != StateFailed {
		t.Fatalf("state = %s, want failed", resp.State)
	}
	if !errors.Is(resp.Error, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", resp.Error)
	}
}

func TestExecutor_Panic(t *testing.T) {
	panicky := &MockFunction{
		name: "panicky",
		executeFunc: func(ctx context.Context, params any) (Result, error) {
			panic("kaboom")
		},
	}
	e := newTestExecutor(t, time.Second, []Function{panicky}, nil)

	resp := e.Execute(context.Background(), ExecuteRequest{FunctionName: "panicky"})
	if resp.State != StateFailed || !errors.Is(resp.Error, ErrFunctionPanicked) {
		t.Errorf("state = %s err = %v, want failed with ErrFunctionPanicked", resp.State, resp.Error)
	}
}

func TestExecutor_GatedFlow(t *testing.T) {
	calls := 0
	danger := &MockFunction{
		name:       "danger",
		paramsType: reflect.TypeOf(TestParams{}),
		executeFunc: func(ctx context.Context, params any) (Result, error) {
			calls++
			return Result{Message: "done " + params.(TestParams).Name}, nil
		},
	}
	e := newTestExecutor(t, time.Second, nil, []Function{danger})
	ctx := context.Background()

	req := ExecuteRequest{CallID: "c1", SessionID: "s1", FunctionName: "danger", Arguments: json.RawMessage(`{"name":"x"}`)}
	resp := e.Execute(ctx, req)
	if resp.State != StatePendingConfirmation || resp.ApprovalID == "" {
		t.Fatalf("state = %s approval = %q, want pending_confirmation", resp.State, resp.ApprovalID)
	}
	if calls != 0 {
		t.Fatal("gated function must not run before approval")
	}
	if pending := e.Approvals().Pending("s1"); len(pending) != 1 || pending[0].CallID != "c1" {
		t.Fatalf("Pending() = %+v", pending)
	}

	approval, resolved, err := e.Resolve(ctx, resp.ApprovalID, true)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if approval.Status != ApprovalApproved || resolved.State != StateCompleted {
		t.Errorf("approval = %s state = %s", approval.Status, resolved.State)
	}
	if resolved.Text() != "done x" || calls != 1 {
		t.Errorf("Text() = %q calls = %d", resolved.Text(), calls)
	}

	// 已处理的确认不能再次处理
	if _, _, err := e.Resolve(ctx, resp.ApprovalID, true); !errors.Is(err, ErrApprovalNotFound) {
		t.Errorf("second Resolve() error = %v, want ErrApprovalNotFound", err)
	}

	// 拒绝
	resp = e.Execute(ctx, req)
	approval, resolved, _ = e.Resolve(ctx, resp.ApprovalID, false)
	if approval.Status != ApprovalDenied || resolved.State != StateRejected || calls != 1 {
		t.Errorf("deny: approval = %s state = %s calls = %d", approval.Status, resolved.State, calls)
	}
}

func TestApprovalStore_Expiry(t *testing.T) {
	store := NewApprovalStore(time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	a := store.Add(ExecuteRequest{FunctionName: "danger", SessionID: "s1"})
	b := store.Add(ExecuteRequest{FunctionName: "danger", SessionID: "s2"})
	if got := store.Pending(""); len(got) != 2 {
		t.Fatalf("Pending(all) = %d, want 2", len(got))
	}

	now = now.Add(2 * time.Minute)
	if got := store.Pending(""); len(got) != 0 {
		t.Errorf("expired approvals should not be pending, got %d", len(got))
	}

	taken, err := store.Take(a.ID, true)
	if !errors.Is(err, ErrApprovalExpired) || taken.Status != ApprovalExpired {
		t.Errorf("Take(expired) = %s, %v", taken.Status, err)
	}

	if n := store.Expire(); n != 1 {
		t.Errorf("Expire() = %d, want 1", n)
	}
	if _, ok := store.Get(b.ID); ok {
		t.Error("expired approval should be removed")
	}
}

func TestExecutor_ResolveExpired(t *testing.T) {
	danger := &MockFunction{name: "danger"}
	e := newTestExecutor(t, time.Second, nil, []Function{danger})
	now := time.Now()
	e.approvals.now = func() time.Time { return now }

	resp := e.Execute(context.Background(), ExecuteRequest{FunctionName: "danger"})
	now = now.Add(time.Hour)

	_, resolved, err := e.Resolve(context.Background(), resp.ApprovalID, true)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.State != StateRejected || !errors.Is(resolved.Error, ErrApprovalExpired) {
		t.Errorf("expired approval state = %s err = %v, want rejected", resolved.State, resolved.Error)
	}
}

func TestExecutor_ResolveUnknownGatedTool(t *testing.T) {
	e := newTestExecutor(t, time.Second, []Function{&MockFunction{name: "echo"}}, nil)
	pending := e.Approvals().Add(ExecuteRequest{CallID: "c1", SessionID: "s1", FunctionName: "ghost"})

	counter := observability.ToolInvocations.WithLabelValues("ghost", string(StateFailed))
	before := testutil.ToFloat64(counter)

	_, resolved, err := e.Resolve(context.Background(), pending.ID, true)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if resolved.State != StateFailed || !errors.Is(resolved.Error, ErrFunctionNotFound) {
		t.Errorf("state = %s err = %v, want failed with ErrFunctionNotFound", resolved.State, resolved.Error)
	}
	if resolved.Duration <= 0 {
		t.Errorf("Duration = %v, want > 0", resolved.Duration)
	}
	if got := testutil.ToFloat64(counter) - before; got != 1 {
		t.Errorf("failed invocations recorded = %v, want 1", got)
	}
}
