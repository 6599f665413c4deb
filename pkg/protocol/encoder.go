// Package protocol 将工具执行结果编码为交给模型的文本（文本 + TOON 数据）
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"
)

// ResultStatus 结果状态
type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusError   ResultStatus = "error"
	StatusPending ResultStatus = "pending"
)

// CallResult 工具执行结果
type CallResult struct {
	Name     string
	Status   ResultStatus
	Message  string // 文本结果
	Data     any    // 结构化数据（将编码为 TOON）
	Markdown string // Markdown 输出
	Error    string // 错误信息
}

// Encoder 工具结果编码器
// 输出作为 tool 消息的内容交给模型
type Encoder struct{}

// NewEncoder 创建编码器实例
func NewEncoder() *Encoder {
	return &Encoder{}
}

// EncodeResult 将执行结果编码为文本
// 输出格式：
//
//	文本结果
//
//	data:
//	  TOON_CONTENT
//
// 文本结果为空时使用 Markdown 输出
func (e *Encoder) EncodeResult(result *CallResult) string {
	if result.Status == StatusError {
		return e.EncodeError(result.Name, result.Error)
	}

	var buf bytes.Buffer
	text := result.Message
	if text == "" {
		text = result.Markdown
	}
	buf.WriteString(strings.TrimRight(text, "\n"))

	// 写入数据（TOON 格式）
	// 文本已经包含全部信息时不再附加数据
	if result.Data != nil && result.Status != StatusPending {
		toonContent, err := e.encodeToTOON(result.Data)
		if err != nil {
			// 如果 TOON 编码失败，退回 JSON
			jsonContent, _ := json.Marshal(result.Data)
			fmt.Fprintf(&buf, "\n\ndata (json): %s", jsonContent)
		} else if toonContent != "" {
			buf.WriteString("\n\ndata:\n")
			for _, line := range strings.Split(toonContent, "\n") {
				buf.WriteString("  " + line + "\n")
			}
		}
	}

	out := strings.TrimRight(buf.String(), "\n")
	if out == "" {
		return fmt.Sprintf("%s completed with no output", result.Name)
	}
	return out
}

// EncodeError 编码错误结果
func (e *Encoder) EncodeError(funcName string, errMsg string) string {
	return fmt.Sprintf("Error from %s: %s", funcName, errMsg)
}

// encodeToTOON 将数据编码为 TOON 格式
// 简化实现：对于 slice of struct，生成表格格式
// 对于单个 struct，生成 key: value 格式
func (e *Encoder) encodeToTOON(data any) (string, error) {
	if data == nil {
		return "", nil
	}

	v := reflect.ValueOf(data)

	// 处理指针
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return "", nil
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		return e.encodeSliceToTOON(v)
	case reflect.Struct:
		return e.encodeStructToTOON(v)
	case reflect.Map:
		return e.encodeMapToTOON(v)
	default:
		// 简单类型直接返回字符串
		return fmt.Sprintf("%v", v.Interface()), nil
	}
}

// encodeSliceToTOON 将 slice 编码为 TOON 表格格式
// 格式：items[N]{field1,field2}: 每行一条记录
func (e *Encoder) encodeSliceToTOON(v reflect.Value) (string, error) {
	if v.Len() == 0 {
		return "", nil
	}

	elem := indirect(v.Index(0))
	if elem.Kind() != reflect.Struct || elem.Type() == timeType {
		values := make([]string, v.Len())
		for i := range values {
			values[i] = formatValue(v.Index(i))
		}
		return fmt.Sprintf("items[%d]: %s", v.Len(), strings.Join(values, ",")), nil
	}

	fields := toonFields(elem.Type())
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.name
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "items[%d]{%s}:", v.Len(), strings.Join(names, ","))
	for i := 0; i < v.Len(); i++ {
		item := indirect(v.Index(i))
		values := make([]string, len(fields))
		for j, f := range fields {
			if item.IsValid() {
				values[j] = formatValue(item.Field(f.index))
			}
		}
		buf.WriteString("\n  " + strings.Join(values, ","))
	}
	return buf.String(), nil
}

// encodeStructToTOON 将单个 struct 编码为 key: value 格式
func (e *Encoder) encodeStructToTOON(v reflect.Value) (string, error) {
	if v.Type() == timeType {
		return formatValue(v), nil
	}

	lines := make([]string, 0, v.NumField())
	for _, f := range toonFields(v.Type()) {
		lines = append(lines, f.name+": "+formatValue(v.Field(f.index)))
	}
	return strings.Join(lines, "\n"), nil
}

// toonField 参与编码的结构体字段
type toonField struct {
	index int
	name  string
}

// toonFields 返回导出字段及其名称，名称取 json tag，json:"-" 的字段不编码
func toonFields(t reflect.Type) []toonField {
	fields := make([]toonField, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("json")
		if tag == "-" {
			continue
		}
		name, _, _ := strings.Cut(tag, ",")
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		fields = append(fields, toonField{index: i, name: name})
	}
	return fields
}

// indirect 解开指针，nil 指针返回零值 Value
func indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// encodeMapToTOON 将 map 编码为 key: value 格式，按 key 排序
func (e *Encoder) encodeMapToTOON(v reflect.Value) (string, error) {
	var buf bytes.Buffer

	keys := v.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
	})
	for _, key := range keys {
		buf.WriteString(fmt.Sprintf("%v: %s\n", key.Interface(), formatValue(v.MapIndex(key))))
	}

	return strings.TrimSuffix(buf.String(), "\n"), nil
}

var timeType = reflect.TypeOf(time.Time{})

// formatValue 格式化单个值
func formatValue(v reflect.Value) string {
	if !v.IsValid() {
		return ""
	}

	if v.Type() == timeType {
		return v.Interface().(time.Time).Format(time.RFC3339)
	}

	switch v.Kind() {
	case reflect.String:
		s := v.String()
		// 如果包含逗号或换行，需要引用
		if strings.ContainsAny(s, ",\n") {
			return fmt.Sprintf(`"%s"`, strings.ReplaceAll(s, `"`, `\"`))
		}
		return s
	case reflect.Ptr, reflect.Interface:
		if v.IsNil() {
			return ""
		}
		return formatValue(v.Elem())
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}
