// Package gormstore 用 Gorm + SQLite 持久化回测产物与实盘仓位。
package gormstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store 持有共享的 gorm 连接。
type Store struct {
	db *gorm.DB
}

// New 打开（必要时创建）数据库并迁移表结构。
func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: 数据库路径不能为空")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	models := []interface{}{
		&runModel{},
		&tradeModel{},
		&equityModel{},
		&executionLogModel{},
		&livePositionModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL：为并发的 HTTP 读留一点余量，同时压低锁竞争。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

// Close 关闭底层连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GormDB 暴露底层 *gorm.DB（只读引用）。
func (s *Store) GormDB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
