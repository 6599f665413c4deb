// Package function 提供 Function 接口定义和相关类型
package function

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"

	invopop "github.com/invopop/jsonschema"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// emptyObjectSchema 无参数函数使用的 Schema
const emptyObjectSchema = `{"$schema":"https://json-schema.org/draft/2020-12/schema","type":"object","properties":{},"additionalProperties":false}`

// reflector 从参数结构体生成 JSON Schema
// 字段说明来自 jsonschema_description tag，必填/取值范围来自 jsonschema tag
var reflector = &invopop.Reflector{
	Anonymous:                  true,
	DoNotReference:             true,
	ExpandedStruct:             true,
	AllowAdditionalProperties:  false,
	RequiredFromJSONSchemaTags: true,
}

// ParamSchema 函数参数的 JSON Schema（原始文本 + 编译后的校验器）
type ParamSchema struct {
	Raw       json.RawMessage
	reflected *invopop.Schema
	validator *jsonschema.Schema
	params    reflect.Type
}

// CompileSchema 为 Function 生成并编译参数 Schema
func CompileSchema(fn Function) (*ParamSchema, error) {
	paramType := fn.ParamsType()

	ps := &ParamSchema{params: paramType}
	if paramType == nil {
		ps.Raw = json.RawMessage(emptyObjectSchema)
	} else {
		// 如果是指针，获取元素类型
		if paramType.Kind() == reflect.Ptr {
			paramType = paramType.Elem()
		}
		if paramType.Kind() != reflect.Struct {
			return nil, &SchemaError{Message: fmt.Sprintf("params of %s must be a struct, got %s", fn.Name(), paramType.Kind())}
		}

		ps.reflected = reflector.ReflectFromType(paramType)
		raw, err := json.Marshal(ps.reflected)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal schema of %s: %w", fn.Name(), err)
		}
		ps.Raw = raw
	}

	validator, err := jsonschema.CompileString(fn.Name()+".json", string(ps.Raw))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema of %s: %w", fn.Name(), err)
	}
	ps.validator = validator

	return ps, nil
}

// Validate 校验模型给出的 JSON 参数
// 校验失败返回的错误同时包装 ErrSchemaValidation 和 *SchemaError
func (s *ParamSchema) Validate(args json.RawMessage) error {
	args = normalizeArgs(args)

	var value any
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaValidation, &SchemaError{Message: "arguments are not valid JSON", Cause: err})
	}

	if err := s.validator.Validate(value); err != nil {
		return fmt.Errorf("%w: %w", ErrSchemaValidation, &SchemaError{Message: "arguments do not match the input schema", Cause: err})
	}
	return nil
}

// Decode 将已校验的 JSON 参数解码为 ParamsType 对应的值
// ParamsType 为指针时返回指针，否则返回值
func (s *ParamSchema) Decode(args json.RawMessage) (any, error) {
	if s.params == nil {
		return nil, nil
	}

	var target reflect.Value
	if s.params.Kind() == reflect.Ptr {
		target = reflect.New(s.params.Elem())
	} else {
		target = reflect.New(s.params)
	}

	if err := json.Unmarshal(normalizeArgs(args), target.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchemaValidation, &SchemaError{Message: "failed to decode arguments", Cause: err})
	}

	if s.params.Kind() != reflect.Ptr {
		return target.Elem().Interface(), nil
	}
	return target.Interface(), nil
}

// ParamInfo 从 Schema 中提取参数信息（按字段声明顺序）
func (s *ParamSchema) ParamInfo() []ParamInfo {
	if s.reflected == nil || s.reflected.Properties == nil {
		return nil
	}

	var params []ParamInfo
	for pair := s.reflected.Properties.Oldest(); pair != nil; pair = pair.Next() {
		prop := pair.Value
		param := ParamInfo{
			Name:        pair.Key,
			Type:        getTypeName(prop),
			Description: prop.Description,
			Required:    slices.Contains(s.reflected.Required, pair.Key),
		}
		if prop.Default != nil {
			param.Default = fmt.Sprint(prop.Default)
		}
		params = append(params, param)
	}
	return params
}

// ExtractParamInfo 从 Function 中提取参数信息
func ExtractParamInfo(fn Function) []ParamInfo {
	schema, err := CompileSchema(fn)
	if err != nil {
		return nil
	}
	return schema.ParamInfo()
}

// getTypeName 获取 Schema 类型的可读名称
func getTypeName(s *invopop.Schema) string {
	switch s.Type {
	case "array":
		if s.Items != nil {
			return "array[" + getTypeName(s.Items) + "]"
		}
		return "array"
	case "":
		return "any"
	default:
		return s.Type
	}
}

// normalizeArgs 空参数按空对象处理
func normalizeArgs(args json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(args)) == 0 {
		return json.RawMessage("{}")
	}
	return args
}

// SchemaError Schema 相关错误
type SchemaError struct {
	Message string
	Cause   error
}

func (e *SchemaError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SchemaError) Unwrap() error {
	return e.Cause
}

// ErrSchemaValidation 参数不符合 Schema
var ErrSchemaValidation = errors.New("schema validation failed")
