// Package prompt 提供提示词生成和管理功能
package prompt

import (
	"bytes"
	"text/template"
	"time"

	"github.com/KodaTao/WritingAgent/pkg/function"
	"github.com/KodaTao/WritingAgent/pkg/prompt/templates"
)

// Generator 提示词生成器
type Generator struct {
	systemTemplate  *template.Template
	minimalTemplate *template.Template
	now             func() time.Time
}

// NewGenerator 创建提示词生成器
func NewGenerator() *Generator {
	return &Generator{
		systemTemplate:  template.Must(template.New("system").Parse(templates.SystemPrompt)),
		minimalTemplate: template.Must(template.New("minimal").Parse(templates.SystemPromptMinimal)),
		now:             time.Now,
	}
}

// TemplateData 模板数据
type TemplateData struct {
	Functions    []function.FunctionInfo
	HasFunctions bool
	HasGated     bool
	CurrentTime  string
	Timezone     string
}

// newTemplateData 构造模板数据
func (g *Generator) newTemplateData(functions []function.FunctionInfo) TemplateData {
	now := g.now()
	zone, _ := now.Zone()
	data := TemplateData{
		Functions:    functions,
		HasFunctions: len(functions) > 0,
		CurrentTime:  now.Format(time.RFC3339),
		Timezone:     zone,
	}
	for _, fn := range functions {
		if fn.RequiresConfirmation {
			data.HasGated = true
			break
		}
	}
	return data
}

// GenerateSystemPrompt 生成完整的系统提示词
func (g *Generator) GenerateSystemPrompt(functions []function.FunctionInfo) (string, error) {
	var buf bytes.Buffer
	if err := g.systemTemplate.Execute(&buf, g.newTemplateData(functions)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GenerateMinimalPrompt 生成精简版系统提示词
func (g *Generator) GenerateMinimalPrompt(functions []function.FunctionInfo) (string, error) {
	var buf bytes.Buffer
	if err := g.minimalTemplate.Execute(&buf, g.newTemplateData(functions)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// GenerateWithCustomTemplate 使用自定义模板生成提示词
func (g *Generator) GenerateWithCustomTemplate(tmplStr string, functions []function.FunctionInfo) (string, error) {
	tmpl, err := template.New("custom").Parse(tmplStr)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, g.newTemplateData(functions)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
