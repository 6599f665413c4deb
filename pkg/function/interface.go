// Package function 提供 Function 接口定义和相关类型
package function

import (
	"context"
	"encoding/json"
	"reflect"
)

// Function 是所有可调用函数（工具）的基础接口
// AI 通过 Name() 识别函数，通过 Description() 理解函数用途
type Function interface {
	// Name 返回函数的唯一标识符，AI 通过此名称调用
	// 命名规范：小写字母、数字、下划线，如 "generate_story_idea"
	// 名称是与模型之间的协议的一部分，不能随意改名
	Name() string

	// Description 返回函数描述，用于 AI 理解函数用途
	Description() string

	// Execute 执行函数
	// ctx 用于超时控制和取消
	// params 是已通过 Schema 校验并解码的参数，类型由 ParamsType() 决定
	Execute(ctx context.Context, params any) (Result, error)

	// ParamsType 返回参数的反射类型
	// 框架通过此方法生成 JSON Schema
	// 返回 nil 表示该函数不需要参数
	ParamsType() reflect.Type
}

// Result 函数执行结果
type Result struct {
	// Data 结构化数据，将被编码为 TOON 格式
	Data any `json:"data,omitempty"`

	// Markdown 可选的 Markdown 格式输出
	Markdown string `json:"markdown,omitempty"`

	// Message 文本结果，模板类工具的全部输出都在这里
	Message string `json:"message,omitempty"`
}

// Text 返回结果的文本形式
func (r Result) Text() string {
	if r.Message != "" {
		return r.Message
	}
	return r.Markdown
}

// FunctionInfo 函数元信息，用于能力清单、API 返回和 Prompt 生成
type FunctionInfo struct {
	Name                 string          `json:"name"`
	Description          string          `json:"description"`
	Parameters           []ParamInfo     `json:"parameters,omitempty"`
	InputSchema          json.RawMessage `json:"input_schema"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
}

// ParamInfo 参数元信息
type ParamInfo struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     string `json:"default,omitempty"`
}
