package chassis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/KodaTao/WritingAgent/pkg/function"
	"github.com/KodaTao/WritingAgent/pkg/function/builtin"
	"github.com/KodaTao/WritingAgent/pkg/llm"
	"github.com/KodaTao/WritingAgent/pkg/llm/openai"
	"github.com/KodaTao/WritingAgent/pkg/observability"
	"github.com/KodaTao/WritingAgent/pkg/schedule"
	"github.com/KodaTao/WritingAgent/pkg/scheduler"
	"github.com/KodaTao/WritingAgent/pkg/storage"
	"github.com/KodaTao/WritingAgent/pkg/telegram"
	"github.com/KodaTao/WritingAgent/pkg/writing"
)

// janitorInterval 清理过期会话和确认记录的间隔
const janitorInterval = time.Minute

// App 写作助手应用实例
// 启动时构建一次工具注册表，之后只读
type App struct {
	config    *Config
	extra     []function.Function
	provider  llm.Provider
	db        *gorm.DB
	registry  *function.Registry
	executor  *function.Executor
	agent     *Agent
	scheduler *scheduler.Scheduler
	adapter   *schedule.Adapter

	telegramBot *telegram.Bot

	initialized bool
	stopJanitor context.CancelFunc
	janitorDone chan struct{}
	shutdown    sync.Once
	shutdownErr error
}

// New 创建新的 App 实例
func New(opts ...Option) *App {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(config)
	}
	return &App{config: config}
}

// Register 注册额外的 Function，必须在 Initialize 之前调用
func (a *App) Register(fn function.Function) error {
	return a.RegisterAll(fn)
}

// RegisterAll 批量注册额外的 Functions，必须在 Initialize 之前调用
func (a *App) RegisterAll(fns ...function.Function) error {
	if a.initialized {
		return ErrAlreadyInitialized
	}
	a.extra = append(a.extra, fns...)
	return nil
}

// SetProvider 使用指定的 LLM Provider，不再根据配置创建
func (a *App) SetProvider(p llm.Provider) {
	a.provider = p
}

// Initialize 初始化应用
// 日志、数据库、LLM Provider、调度器、工具注册表、Agent、Telegram Bot
// 失败时释放已经打开的资源，App 不能再次初始化
func (a *App) Initialize() (err error) {
	if a.initialized {
		return ErrAlreadyInitialized
	}
	a.initialized = true
	defer func() {
		if err != nil {
			_ = a.Shutdown()
		}
	}()

	// 1. 初始化日志
	if err := observability.InitLogger(observability.LogConfig{
		Level:    a.config.Log.Level,
		Format:   a.config.Log.Format,
		Output:   a.config.Log.Output,
		FilePath: a.config.Log.FilePath,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// 2. 校验配置；已注入 Provider 时不要求 LLM 配置
	if a.provider == nil {
		if err := a.config.Validate(); err != nil {
			return err
		}
	} else if err := a.config.validateBase(); err != nil {
		return err
	}

	observability.Info("Initializing WritingAgent",
		"server_port", a.config.Server.Port,
		"llm_provider", a.config.LLM.Provider,
		"llm_model", a.config.LLM.Model,
		"locale", a.config.Writing.Locale,
	)

	// 3. 初始化数据库
	db, err := storage.Open(storage.Config{Path: a.config.Database.Path})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	// 4. 初始化 LLM Provider
	if a.provider == nil {
		provider, err := newProvider(a.config.LLM)
		if err != nil {
			return err
		}
		a.provider = provider
		observability.Info("LLM Provider initialized",
			"provider", a.provider.Name(),
			"model", a.config.LLM.Model,
			"api_key", llm.MaskAPIKey(a.config.LLM.APIKey),
		)
	}

	// 5. 调度器与调度适配器
	a.scheduler = scheduler.New(db, componentLogger("scheduler"))
	a.adapter = schedule.NewAdapter(a.scheduler, componentLogger("schedule"))

	// 6. 构建工具注册表
	registry, err := a.buildRegistry()
	if err != nil {
		return fmt.Errorf("failed to build function registry: %w", err)
	}
	a.registry = registry

	// 7. 执行器与 Agent
	a.executor = function.NewExecutor(registry,
		function.NewApprovalStore(a.config.Tools.ApprovalTTL),
		a.config.Agent.ToolTimeout,
	)
	a.agent = NewAgent(a.provider, registry, a.executor, a.config.Agent)

	// 8. Telegram Bot（可选），需要在注册回调之前创建以便投递任务结果
	if a.config.Telegram.Enabled {
		tgConfig := telegram.DefaultConfig()
		tgConfig.Enabled = true
		tgConfig.Token = a.config.Telegram.Token
		if a.config.Telegram.SessionTTL > 0 {
			tgConfig.SessionTTL = a.config.Telegram.SessionTTL
		}
		bot, err := telegram.NewBot(*tgConfig, a.agent, componentLogger("telegram"))
		if err != nil {
			return fmt.Errorf("failed to initialize telegram bot: %w", err)
		}
		a.telegramBot = bot
	}

	// 9. 注册任务回调后再启动调度器，恢复的过期任务会立即执行
	a.scheduler.SetRunTimeout(a.config.Agent.Timeout)
	a.scheduler.RegisterCallback(schedule.CallbackName,
		scheduler.AgentCallback(NewAgentExecutorAdapter(a.agent), a.notifier()))
	if err := a.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	observability.Info("Scheduler started")

	if a.telegramBot != nil {
		a.telegramBot.Start()
		observability.Info("Telegram Bot started")
	}

	a.startJanitor()

	observability.Info("WritingAgent initialized",
		"registered_functions", registry.Count(),
		"gated_functions", registry.GatedNames(),
	)
	return nil
}

// buildRegistry 注册模板工具、调度工具和额外工具，并按配置设置确认门
func (a *App) buildRegistry() (*function.Registry, error) {
	b := function.NewBuilder()
	if err := b.RegisterAll(writing.Functions(writing.NewGenerator(a.config.Writing.Locale))...); err != nil {
		return nil, err
	}
	if err := b.RegisterAll(builtin.ScheduleFunctions(a.adapter)...); err != nil {
		return nil, err
	}
	if err := b.RegisterAll(a.extra...); err != nil {
		return nil, err
	}
	if err := b.Gate(a.config.Tools.RequireConfirmation...); err != nil {
		return nil, err
	}
	return b.Build()
}

// newProvider 根据配置创建 LLM Provider
func newProvider(cfg llm.Config) (llm.Provider, error) {
	switch cfg.Provider {
	case "openai", "azure", "custom":
		return openai.NewProviderFromLLMConfig(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}

// notifier 返回定时任务结果的投递方式
func (a *App) notifier() scheduler.Notifier {
	n := &channelNotifier{}
	if a.telegramBot != nil {
		n.telegram = a.telegramBot.GetSender()
	}
	return n
}

// channelNotifier 按任务登记时的渠道投递结果
// Telegram 渠道发送到对应聊天，其他渠道写日志
type channelNotifier struct {
	telegram *telegram.Sender
}

func (n *channelNotifier) Notify(ctx context.Context, task scheduler.ScheduledTask, text string) error {
	ch := task.ChannelContext()
	if ch != nil && ch.Type == telegram.ChannelType && n.telegram != nil {
		return n.telegram.Notify(ctx, task, text)
	}

	channel := "none"
	if ch != nil {
		channel = ch.Type
	}
	observability.InfoContext(ctx, "Scheduled task result",
		"task_id", task.ID,
		"channel", channel,
		"result", text,
	)
	return nil
}

// startJanitor 定期清理过期会话和待确认调用
func (a *App) startJanitor() {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopJanitor = cancel
	a.janitorDone = make(chan struct{})

	go func() {
		defer close(a.janitorDone)
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessions := a.agent.CleanExpiredSessions()
				approvals := a.executor.Approvals().Expire()
				if sessions > 0 || approvals > 0 {
					observability.Debug("Expired state cleaned", "sessions", sessions, "approvals", approvals)
				}
			}
		}
	}()
}

// GetAgent 获取 Agent 实例
func (a *App) GetAgent() *Agent {
	return a.agent
}

// GetRegistry 获取函数注册表
func (a *App) GetRegistry() *function.Registry {
	return a.registry
}

// GetConfig 获取配置
func (a *App) GetConfig() *Config {
	return a.config
}

// GetProvider 获取 LLM Provider
func (a *App) GetProvider() llm.Provider {
	return a.provider
}

// GetScheduler 获取调度器
func (a *App) GetScheduler() *scheduler.Scheduler {
	return a.scheduler
}

// GetScheduleAdapter 获取调度适配器
func (a *App) GetScheduleAdapter() *schedule.Adapter {
	return a.adapter
}

// GetTelegramBot 获取 Telegram Bot 实例
func (a *App) GetTelegramBot() *telegram.Bot {
	return a.telegramBot
}

// Shutdown 关闭应用，可重复调用
func (a *App) Shutdown() error {
	a.shutdown.Do(func() {
		observability.Info("Shutting down WritingAgent")

		if a.stopJanitor != nil {
			a.stopJanitor()
			<-a.janitorDone
		}

		if a.telegramBot != nil {
			a.telegramBot.Stop()
			observability.Info("Telegram Bot stopped")
		}

		if a.scheduler != nil {
			a.scheduler.Stop()
		}

		if cerr := storage.Close(a.db); cerr != nil {
			observability.Error("Failed to close database", "error", cerr)
			a.shutdownErr = cerr
			return
		}

		observability.Info("WritingAgent shutdown complete")
	})
	return a.shutdownErr
}

// ErrAlreadyInitialized 应用已初始化
var ErrAlreadyInitialized = errors.New("app already initialized")

var _ scheduler.Notifier = (*channelNotifier)(nil)

// componentLogger 返回带组件名的日志器
func componentLogger(name string) *slog.Logger {
	return observability.DefaultLogger().With("component", name)
}
