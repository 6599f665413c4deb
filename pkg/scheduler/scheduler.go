// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc/panics"
	"gorm.io/gorm"

	"github.com/KodaTao/WritingAgent/pkg/observability"
	"github.com/KodaTao/WritingAgent/pkg/types"
)

// cronParser 支持 5 字段和带秒的 6 字段表达式，以及 @daily 等描述符
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron 解析 Cron 表达式
func ParseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty cron expression")
	}
	return cronParser.Parse(expr)
}

// Callback 任务触发时调用的回调
// 返回值写入执行记录
type Callback func(ctx context.Context, task ScheduledTask) (string, error)

// Scheduler 任务调度器
// 一次性任务使用定时器，重复任务使用 robfig/cron；任务持久化在数据库中，重启后恢复
type Scheduler struct {
	db     *gorm.DB
	tasks  *TaskRepository
	runs   *RunRepository
	logger *slog.Logger

	cron       *cron.Cron
	runTimeout time.Duration

	mu        sync.RWMutex
	callbacks map[string]Callback
	timers    map[string]*time.Timer  // 任务ID -> 定时器
	entries   map[string]cron.EntryID // 任务ID -> cron EntryID
	inflight  sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建调度器
func New(db *gorm.DB, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	if logger == nil {
		logger = observability.DefaultLogger()
	}

	return &Scheduler{
		db:         db,
		tasks:      NewTaskRepository(db),
		runs:       NewRunRepository(db),
		logger:     logger,
		cron:       cron.New(cron.WithParser(cronParser)),
		runTimeout: 5 * time.Minute,
		callbacks:  make(map[string]Callback),
		timers:     make(map[string]*time.Timer),
		entries:    make(map[string]cron.EntryID),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// RegisterCallback 注册回调，需在 Start 之前完成
func (s *Scheduler) RegisterCallback(name string, cb Callback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks[name] = cb
}

// SetRunTimeout 设置单次回调执行的超时时间
func (s *Scheduler) SetRunTimeout(d time.Duration) {
	if d > 0 {
		s.runTimeout = d
	}
}

// Start 启动调度器，恢复已持久化的任务
func (s *Scheduler) Start() error {
	s.logger.Info("starting scheduler")

	// 自动迁移表
	if err := s.db.AutoMigrate(&ScheduledTask{}, &TaskRun{}); err != nil {
		return fmt.Errorf("failed to migrate scheduler tables: %w", err)
	}

	if err := s.recoverTasks(); err != nil {
		return fmt.Errorf("failed to recover tasks: %w", err)
	}

	s.cron.Start()
	s.logger.Info("scheduler started")
	return nil
}

// Stop 停止调度器，等待执行中的回调结束
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler")
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	for id, timer := range s.timers {
		timer.Stop()
		s.logger.Debug("stopped timer", "task_id", id)
	}
	s.timers = make(map[string]*time.Timer)
	s.entries = make(map[string]cron.EntryID)
	s.mu.Unlock()

	s.inflight.Wait()
	s.logger.Info("scheduler stopped")
}

// recoverTasks 恢复持久化的任务
// 已过期的一次性任务立即触发，重复任务重新登记
func (s *Scheduler) recoverTasks() error {
	tasks, err := s.tasks.List(s.ctx)
	if err != nil {
		return err
	}

	s.logger.Info("recovering scheduled tasks", "count", len(tasks))

	for i := range tasks {
		task := &tasks[i]
		if err := s.arm(task); err != nil {
			s.logger.Error("failed to recover task", "task_id", task.ID, "kind", task.Kind, "error", err)
			continue
		}
		s.logger.Info("task recovered", "task_id", task.ID, "kind", task.Kind, "next_run", task.NextRunAt)
	}
	return nil
}

// Create 登记任务并返回任务 ID
// 渠道上下文从 ctx 中读取，触发时随任务交给回调
func (s *Scheduler) Create(ctx context.Context, timing Timing, callback, payload string) (string, error) {
	if err := timing.Validate(); err != nil {
		return "", err
	}

	s.mu.RLock()
	_, ok := s.callbacks[callback]
	s.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownCallback, callback)
	}

	now := time.Now()
	task := &ScheduledTask{
		ID:        uuid.NewString(),
		Callback:  callback,
		Payload:   payload,
		Kind:      timing.Kind,
		CreatedAt: now,
	}

	switch timing.Kind {
	case KindAt:
		runAt := timing.At
		task.RunAt = &runAt
		task.NextRunAt = &runAt
	case KindDelay:
		runAt := now.Add(timing.Delay)
		task.RunAt = &runAt
		task.NextRunAt = &runAt
		task.DelaySeconds = int64(timing.Delay / time.Second)
	case KindCron:
		schedule, _ := ParseCron(timing.Cron)
		next := schedule.Next(now)
		task.CronExpr = timing.Cron
		task.NextRunAt = &next
	}

	if ch := types.ChannelFromContext(ctx); ch != nil {
		if data, err := json.Marshal(ch); err == nil {
			task.Channel = string(data)
		}
	}

	if err := s.tasks.Create(ctx, task); err != nil {
		return "", fmt.Errorf("failed to create task: %w", err)
	}

	if err := s.arm(task); err != nil {
		// 登记失败，删除任务
		_ = s.tasks.DeleteByID(ctx, task.ID)
		return "", fmt.Errorf("failed to schedule task: %w", err)
	}

	s.logger.Info("task created",
		"task_id", task.ID,
		"kind", task.Kind,
		"timing", timing.String(),
		"callback", callback,
		"next_run", task.NextRunAt,
	)
	return task.ID, nil
}

// List 列出全部任务
func (s *Scheduler) List(ctx context.Context) ([]ScheduledTask, error) {
	return s.tasks.List(ctx)
}

// Get 根据 ID 获取任务
func (s *Scheduler) Get(ctx context.Context, id string) (*ScheduledTask, error) {
	return s.tasks.GetByID(ctx, id)
}

// Cancel 取消任务：删除记录并撤销定时器
func (s *Scheduler) Cancel(ctx context.Context, id string) error {
	if err := s.tasks.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.disarm(id)
	s.logger.Info("task canceled", "task_id", id)
	return nil
}

// Runs 获取任务的执行历史
func (s *Scheduler) Runs(ctx context.Context, taskID string, limit int) ([]TaskRun, error) {
	return s.runs.ListByTaskID(ctx, taskID, limit)
}

// arm 为任务登记定时器或 cron 条目
func (s *Scheduler) arm(task *ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := task.ID
	if task.IsRecurring() {
		if entryID, ok := s.entries[id]; ok {
			s.cron.Remove(entryID)
		}
		entryID, err := s.cron.AddFunc(task.CronExpr, func() { s.fire(id) })
		if err != nil {
			return fmt.Errorf("failed to add cron entry: %w", err)
		}
		s.entries[id] = entryID
		return nil
	}

	if task.RunAt == nil {
		return fmt.Errorf("%w: task %s has no run time", ErrInvalidTiming, id)
	}
	if timer, ok := s.timers[id]; ok {
		timer.Stop()
	}
	// 已过期的任务 delay 为负数，定时器立即触发
	s.timers[id] = time.AfterFunc(time.Until(*task.RunAt), func() { s.fire(id) })
	return nil
}

// disarm 撤销任务的定时器或 cron 条目
func (s *Scheduler) disarm(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if timer, ok := s.timers[id]; ok {
		timer.Stop()
		delete(s.timers, id)
	}
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

// fire 执行任务回调并记录结果
func (s *Scheduler) fire(id string) {
	// 检查调度器是否已停止
	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	s.inflight.Add(1)
	s.mu.Unlock()
	defer s.inflight.Done()

	// 记录写入不受 Stop 影响
	store := context.WithoutCancel(s.ctx)

	task, err := s.tasks.GetByID(store, id)
	if err != nil {
		// 已取消的任务不再执行
		s.logger.Debug("task not found when firing", "task_id", id, "error", err)
		s.disarm(id)
		return
	}

	s.mu.RLock()
	cb, ok := s.callbacks[task.Callback]
	s.mu.RUnlock()

	run := &TaskRun{
		TaskID:    task.ID,
		Callback:  task.Callback,
		StartedAt: time.Now(),
		Status:    RunRunning,
	}
	if err := s.runs.Create(store, run); err != nil {
		s.logger.Error("failed to create run record", "task_id", id, "error", err)
	}

	s.logger.Info("executing task", "task_id", id, "callback", task.Callback)

	var (
		result  string
		execErr error
	)
	if !ok {
		execErr = fmt.Errorf("%w: %s", ErrUnknownCallback, task.Callback)
	} else {
		ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
		if ch := task.ChannelContext(); ch != nil {
			ctx = types.WithChannel(ctx, ch)
		}
		var catcher panics.Catcher
		catcher.Try(func() {
			result, execErr = cb(ctx, *task)
		})
		if r := catcher.Recovered(); r != nil {
			execErr = r.AsError()
		}
		cancel()
	}

	s.finishRun(store, run, result, execErr)

	if task.IsRecurring() {
		s.mu.RLock()
		entryID, armed := s.entries[id]
		s.mu.RUnlock()
		if armed {
			if next := s.cron.Entry(entryID).Next; !next.IsZero() {
				_ = s.tasks.UpdateNextRunAt(store, id, next)
			}
		}
		return
	}

	// 一次性任务执行后删除
	s.disarm(id)
	if err := s.tasks.DeleteByID(store, id); err != nil {
		s.logger.Warn("failed to delete fired task", "task_id", id, "error", err)
	}
}

// finishRun 完成执行记录
func (s *Scheduler) finishRun(ctx context.Context, run *TaskRun, result string, execErr error) {
	finishedAt := time.Now()
	run.FinishedAt = &finishedAt
	run.DurationMs = finishedAt.Sub(run.StartedAt).Milliseconds()
	run.Result = result
	run.Status = RunCompleted
	if execErr != nil {
		run.Status = RunFailed
		run.Error = execErr.Error()
		s.logger.Error("task execution failed", "task_id", run.TaskID, "error", execErr)
	} else {
		s.logger.Info("task execution completed", "task_id", run.TaskID, "duration_ms", run.DurationMs)
	}
	observability.ScheduledRuns.WithLabelValues(run.Callback, string(run.Status)).Inc()

	if run.ID == 0 {
		return
	}
	if err := s.runs.Update(ctx, run); err != nil {
		s.logger.Error("failed to update run record", "run_id", run.ID, "error", err)
	}
}
