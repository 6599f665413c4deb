// Package scheduler 提供定时任务调度功能
package scheduler

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

// TaskRepository ScheduledTask 数据访问层
type TaskRepository struct {
	db *gorm.DB
}

// NewTaskRepository 创建 Repository
func NewTaskRepository(db *gorm.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// Create 创建任务
func (r *TaskRepository) Create(ctx context.Context, task *ScheduledTask) error {
	return r.db.WithContext(ctx).Create(task).Error
}

// GetByID 根据 ID 获取任务
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*ScheduledTask, error) {
	var task ScheduledTask
	err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	return &task, nil
}

// List 列出全部任务，按创建时间排序
func (r *TaskRepository) List(ctx context.Context) ([]ScheduledTask, error) {
	var tasks []ScheduledTask
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&tasks).Error
	return tasks, err
}

// Count 统计任务数量
func (r *TaskRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&ScheduledTask{}).Count(&count).Error
	return count, err
}

// UpdateNextRunAt 更新下次执行时间
func (r *TaskRepository) UpdateNextRunAt(ctx context.Context, id string, next time.Time) error {
	return r.db.WithContext(ctx).Model(&ScheduledTask{}).Where("id = ?", id).Update("next_run_at", next).Error
}

// DeleteByID 根据 ID 删除任务
func (r *TaskRepository) DeleteByID(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&ScheduledTask{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTaskNotFound
	}
	return nil
}

// RunRepository TaskRun 数据访问层
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository 创建 Repository
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create 创建执行记录
func (r *RunRepository) Create(ctx context.Context, run *TaskRun) error {
	return r.db.WithContext(ctx).Create(run).Error
}

// Update 更新执行记录
func (r *RunRepository) Update(ctx context.Context, run *TaskRun) error {
	return r.db.WithContext(ctx).Save(run).Error
}

// ListByTaskID 获取任务的执行历史（最新的在前）
func (r *RunRepository) ListByTaskID(ctx context.Context, taskID string, limit int) ([]TaskRun, error) {
	var runs []TaskRun
	query := r.db.WithContext(ctx).Where("task_id = ?", taskID).Order("started_at DESC, id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&runs).Error
	return runs, err
}

// 错误定义
var (
	ErrTaskNotFound    = errors.New("task not found")
	ErrInvalidTiming   = errors.New("invalid timing")
	ErrUnknownCallback = errors.New("unknown callback")
)
