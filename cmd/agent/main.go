// Package main 是 WritingAgent 的 CLI 入口
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/KodaTao/WritingAgent/pkg/chassis"
	"github.com/KodaTao/WritingAgent/pkg/llm"
	"github.com/KodaTao/WritingAgent/pkg/observability"
	"github.com/KodaTao/WritingAgent/pkg/server"
	"github.com/KodaTao/WritingAgent/pkg/storage"
)

const version = "v0.1.0"

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd 构建根命令
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "agent",
		Short: "WritingAgent - LLM writing assistant with tools and scheduling",
		Long: `WritingAgent is a conversational writing assistant.
It generates story ideas, writing prompts, character profiles, plot outlines,
plot twists, world settings and dialogue exercises through tool calls, tracks
writing progress, and schedules one-off or recurring writing tasks.
Tools listed under tools.require_confirmation wait for user approval before they run.`,
		SilenceUsage: true,
	}

	// 全局 flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	// 添加子命令
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(toolsCmd())
	rootCmd.AddCommand(versionCmd())

	return rootCmd
}

// serveCmd 启动 HTTP 服务器
func serveCmd() *cobra.Command {
	var port int
	var host string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long:  `Start the WritingAgent HTTP server (and the Telegram bot when enabled).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// 命令行参数覆盖配置
			if port != 0 {
				config.Server.Port = port
			}
			if host != "" {
				config.Server.Host = host
			}

			app := chassis.New(chassis.WithConfig(*config))
			if err := app.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}

			// 配置文件变更时热更新日志级别
			watchConfig(v)

			metricsPath := ""
			if config.Observability.Metrics.Enabled {
				metricsPath = config.Observability.Metrics.Path
			}
			srv := server.NewServer(app, &server.ServerConfig{
				Host:        config.Server.Host,
				Port:        config.Server.Port,
				Mode:        config.Server.Mode,
				MetricsPath: metricsPath,
			})

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Run() }()

			// 优雅关闭
			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigCh)

			var runErr error
			select {
			case sig := <-sigCh:
				observability.Info("Received shutdown signal", "signal", sig.String())
			case runErr = <-errCh:
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				observability.Error("HTTP server shutdown failed", "error", err)
			}
			return errors.Join(runErr, app.Shutdown())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Server port (default 8080)")
	cmd.Flags().StringVarP(&host, "host", "H", "", "Server host (default 0.0.0.0)")

	return cmd
}

// toolsCmd 打印能力清单，无需 LLM 凭据
func toolsCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Print the capability manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, config, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			config.Database.Path = storage.MemoryPath
			config.Telegram.Enabled = false
			config.Log.Level = "error"
			config.Log.Output = "stderr"

			app := chassis.New(chassis.WithConfig(*config))
			app.SetProvider(offlineProvider{})
			if err := app.Initialize(); err != nil {
				return fmt.Errorf("failed to initialize: %w", err)
			}
			defer app.Shutdown()

			manifest := app.GetRegistry().Manifest()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(manifest)
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tCONFIRM\tDESCRIPTION")
			for _, info := range manifest {
				confirm := "-"
				if info.RequiresConfirmation {
					confirm = "yes"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", info.Name, confirm, info.Description)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the manifest as JSON")
	return cmd
}

// versionCmd 显示版本信息
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "WritingAgent "+version)
		},
	}
}

// offlineProvider 只用于构建清单，任何对话请求都会失败
type offlineProvider struct{}

var errOffline = errors.New("llm provider is not available in offline mode")

func (offlineProvider) Chat(context.Context, []llm.Message, []llm.Tool) (*llm.Reply, error) {
	return nil, errOffline
}

func (offlineProvider) Name() string { return "offline" }

// loadConfig 加载配置文件
// 优先级：命令行 > 环境变量(WA_*) > 配置文件 > 默认值
func loadConfig() (*viper.Viper, *chassis.Config, error) {
	v := viper.New()
	setDefaults(v)

	// 配置文件
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.writingagent")
	}

	// 环境变量，如 WA_LLM_API_KEY
	v.SetEnvPrefix("WA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 读取配置文件（如果存在）
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, nil, err
		}
		// 配置文件不存在时使用默认值
	}

	config := chassis.DefaultConfig()
	if err := v.Unmarshal(config); err != nil {
		return nil, nil, err
	}

	return v, config, nil
}

// setDefaults 登记默认值，环境变量只对已知 key 生效
func setDefaults(v *viper.Viper) {
	d := chassis.DefaultConfig()

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", d.LLM.BaseURL)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.timeout", d.LLM.Timeout)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.temperature", d.LLM.Temperature)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
	v.SetDefault("log.file_path", d.Log.FilePath)

	v.SetDefault("observability.metrics.enabled", d.Observability.Metrics.Enabled)
	v.SetDefault("observability.metrics.path", d.Observability.Metrics.Path)

	v.SetDefault("telegram.enabled", d.Telegram.Enabled)
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.session_ttl", d.Telegram.SessionTTL)

	v.SetDefault("agent.max_iterations", d.Agent.MaxIterations)
	v.SetDefault("agent.timeout", d.Agent.Timeout)
	v.SetDefault("agent.tool_timeout", d.Agent.ToolTimeout)
	v.SetDefault("agent.max_history", d.Agent.MaxHistory)
	v.SetDefault("agent.session_ttl", d.Agent.SessionTTL)

	v.SetDefault("tools.require_confirmation", d.Tools.RequireConfirmation)
	v.SetDefault("tools.approval_ttl", d.Tools.ApprovalTTL)

	v.SetDefault("writing.locale", d.Writing.Locale)
}

// watchConfig 监听配置文件，变更后重新应用日志级别
// 其他配置项需要重启生效
func watchConfig(v *viper.Viper) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		level := v.GetString("log.level")
		observability.SetLevel(level)
		observability.Info("Config reloaded", "file", e.Name, "op", e.Op.String(), "log_level", level)
	})
	v.WatchConfig()
}
