// Package llm 提供 LLM 适配层接口和实现
package llm

import (
	"errors"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Provider:    "openai",
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o-mini",
		Timeout:     60,
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// ResolveAPIKey 解析 API Key（支持环境变量引用）
// 如果值以 ${} 包裹，则从环境变量读取
func ResolveAPIKey(key string) string {
	if strings.HasPrefix(key, "${") && strings.HasSuffix(key, "}") {
		envName := key[2 : len(key)-1]
		return os.Getenv(envName)
	}
	return key
}

// MaskAPIKey 脱敏 API Key，用于日志输出
func MaskAPIKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}

// Validate 验证配置
func (c *Config) Validate() error {
	c.APIKey = ResolveAPIKey(c.APIKey)
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				switch fe.Field() {
				case "APIKey":
					return ErrMissingAPIKey
				case "Model":
					return ErrMissingModel
				}
			}
			return &ConfigError{Message: "invalid llm config: " + verrs.Error()}
		}
		return err
	}
	return nil
}

// WithAPIKey 设置 API Key
func (c *Config) WithAPIKey(key string) *Config {
	c.APIKey = ResolveAPIKey(key)
	return c
}

// WithBaseURL 设置 Base URL
func (c *Config) WithBaseURL(url string) *Config {
	c.BaseURL = url
	return c
}

// WithModel 设置模型
func (c *Config) WithModel(model string) *Config {
	c.Model = model
	return c
}

// ConfigError 配置相关错误
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

var (
	ErrMissingAPIKey = &ConfigError{Message: "API key is required"}
	ErrMissingModel  = &ConfigError{Message: "model is required"}
)
