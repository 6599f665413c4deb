// Package storage 提供数据存储功能
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/KodaTao/WritingAgent/pkg/observability"
)

// MemoryPath 内存数据库路径
const MemoryPath = ":memory:"

// Config 数据库配置
type Config struct {
	Path  string // 数据库文件路径
	Debug bool   // 是否输出 SQL 日志
}

// Open 打开数据库连接
// 文件所在目录不存在时自动创建
func Open(cfg Config) (*gorm.DB, error) {
	if cfg.Path == "" {
		return nil, ErrEmptyPath
	}

	dsn := cfg.Path
	if dsn != MemoryPath {
		dsn = ExpandPath(dsn)
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// 配置 GORM 日志
	logMode := logger.Silent
	if cfg.Debug {
		logMode = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logMode),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dsn, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite 只允许一个写连接；内存库每个连接都是独立的数据库
	sqlDB.SetMaxOpenConns(1)

	observability.Info("Database initialized", "path", dsn)
	return db, nil
}

// Close 关闭数据库连接
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ExpandPath 展开路径中的 ~ 为用户主目录
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// ErrEmptyPath 未配置数据库路径
var ErrEmptyPath = errors.New("database path is required")
