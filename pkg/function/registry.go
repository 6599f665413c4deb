// Package function 提供 Function 接口定义和相关类型
package function

import (
	"errors"
	"fmt"
	"sort"

	"github.com/KodaTao/WritingAgent/pkg/observability"
)

// Descriptor 工具描述（不含执行逻辑）
// 执行逻辑位于自动执行表或确认表中，二者互斥
type Descriptor struct {
	Name                 string
	Description          string
	Schema               *ParamSchema
	RequiresConfirmation bool
}

// Builder 注册表构建器
// 启动阶段收集 Function，Build 后得到不可变的 Registry
type Builder struct {
	auto  map[string]Function
	gated map[string]Function
}

// NewBuilder 创建注册表构建器
func NewBuilder() *Builder {
	return &Builder{
		auto:  make(map[string]Function),
		gated: make(map[string]Function),
	}
}

// Register 注册一个自动执行的 Function
func (b *Builder) Register(fn Function) error {
	if err := b.check(fn); err != nil {
		return err
	}
	b.auto[fn.Name()] = fn
	return nil
}

// RegisterAll 批量注册自动执行的 Functions
func (b *Builder) RegisterAll(fns ...Function) error {
	for _, fn := range fns {
		if err := b.Register(fn); err != nil {
			return err
		}
	}
	return nil
}

// RegisterGated 注册一个需要人工确认的 Function
// 其执行逻辑只进入确认表，不会被自动调用
func (b *Builder) RegisterGated(fn Function) error {
	if err := b.check(fn); err != nil {
		return err
	}
	b.gated[fn.Name()] = fn
	return nil
}

// Gate 将已注册的自动执行 Function 移入确认表
// 用于根据配置把某些工具改为需要确认
func (b *Builder) Gate(names ...string) error {
	for _, name := range names {
		fn, ok := b.auto[name]
		if !ok {
			if _, gated := b.gated[name]; gated {
				continue
			}
			return fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
		}
		delete(b.auto, name)
		b.gated[name] = fn
	}
	return nil
}

// check 校验 Function 可以注册
func (b *Builder) check(fn Function) error {
	if fn == nil {
		return ErrNilFunction
	}
	name := fn.Name()
	if name == "" {
		return ErrEmptyFunctionName
	}
	_, inAuto := b.auto[name]
	_, inGated := b.gated[name]
	if inAuto || inGated {
		return fmt.Errorf("%w: %s", ErrDuplicateFunction, name)
	}
	return nil
}

// Build 编译所有参数 Schema 并生成不可变注册表
func (b *Builder) Build() (*Registry, error) {
	r := &Registry{
		descriptors: make(map[string]*Descriptor, len(b.auto)+len(b.gated)),
		auto:        make(map[string]Function, len(b.auto)),
		gated:       make(map[string]Function, len(b.gated)),
	}

	add := func(fn Function, gated bool) error {
		schema, err := CompileSchema(fn)
		if err != nil {
			return err
		}
		name := fn.Name()
		if _, exists := r.descriptors[name]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateFunction, name)
		}
		r.descriptors[name] = &Descriptor{
			Name:                 name,
			Description:          fn.Description(),
			Schema:               schema,
			RequiresConfirmation: gated,
		}
		if gated {
			r.gated[name] = fn
		} else {
			r.auto[name] = fn
		}
		return nil
	}

	for _, fn := range b.auto {
		if err := add(fn, false); err != nil {
			return nil, err
		}
	}
	for _, fn := range b.gated {
		if err := add(fn, true); err != nil {
			return nil, err
		}
	}

	r.names = make([]string, 0, len(r.descriptors))
	for name := range r.descriptors {
		r.names = append(r.names, name)
	}
	sort.Strings(r.names)

	r.manifest = make([]FunctionInfo, 0, len(r.names))
	for _, name := range r.names {
		d := r.descriptors[name]
		r.manifest = append(r.manifest, FunctionInfo{
			Name:                 d.Name,
			Description:          d.Description,
			Parameters:           d.Schema.ParamInfo(),
			InputSchema:          d.Schema.Raw,
			RequiresConfirmation: d.RequiresConfirmation,
		})
	}

	observability.Info("Function registry built",
		"auto", len(r.auto),
		"gated", len(r.gated),
	)
	return r, nil
}

// Registry 函数注册表
// Build 之后不再修改，可以无锁并发读取
type Registry struct {
	descriptors map[string]*Descriptor
	auto        map[string]Function
	gated       map[string]Function
	names       []string
	manifest    []FunctionInfo
}

// Get 获取指定名称的 Function（自动执行表或确认表）
func (r *Registry) Get(name string) (Function, bool) {
	if fn, ok := r.auto[name]; ok {
		return fn, true
	}
	fn, ok := r.gated[name]
	return fn, ok
}

// Descriptor 获取工具描述
func (r *Registry) Descriptor(name string) (*Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Auto 从自动执行表获取 Function
func (r *Registry) Auto(name string) (Function, bool) {
	fn, ok := r.auto[name]
	return fn, ok
}

// Gated 从确认表获取 Function
func (r *Registry) Gated(name string) (Function, bool) {
	fn, ok := r.gated[name]
	return fn, ok
}

// IsGated 检查工具是否需要人工确认
func (r *Registry) IsGated(name string) bool {
	_, ok := r.gated[name]
	return ok
}

// Has 检查是否存在指定名称的 Function
func (r *Registry) Has(name string) bool {
	_, ok := r.descriptors[name]
	return ok
}

// List 列出所有已注册的 Function 名称（按名称排序）
func (r *Registry) List() []string {
	return append([]string(nil), r.names...)
}

// GatedNames 列出需要确认的 Function 名称
func (r *Registry) GatedNames() []string {
	names := make([]string, 0, len(r.gated))
	for _, name := range r.names {
		if r.IsGated(name) {
			names = append(names, name)
		}
	}
	return names
}

// ListInfo 列出所有 Function 的详细信息（能力清单）
// 每次启动生成的结果相同
func (r *Registry) ListInfo() []FunctionInfo {
	return append([]FunctionInfo(nil), r.manifest...)
}

// Manifest 返回能力清单，ListInfo 的别名
func (r *Registry) Manifest() []FunctionInfo {
	return r.ListInfo()
}

// Count 返回已注册的 Function 数量
func (r *Registry) Count() int {
	return len(r.descriptors)
}

// 错误定义
var (
	ErrNilFunction       = errors.New("function cannot be nil")
	ErrEmptyFunctionName = errors.New("function name cannot be empty")
	ErrFunctionNotFound  = errors.New("function not found")
	ErrDuplicateFunction = errors.New("function already registered")
)
