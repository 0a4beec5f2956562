// Package store 打开 SQLite 数据库并维护表结构。
package store

import (
	"context"
	"fmt"

	"adstandard/internal/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 连接 SQLite 并自动建表。
// SQLite 只允许一个写者，连接池限制为 1，事务按顺序执行。
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("store: pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate 创建或更新服务用到的全部表。
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Lead{},
		&model.Order{},
		&model.Dispute{},
		&model.Resolution{},
		&model.OrderEvent{},
	); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Reset 先删子表再删父表，清空全部数据，仅供开发环境使用。
func Reset(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{
			&model.Resolution{},
			&model.Dispute{},
			&model.OrderEvent{},
			&model.Order{},
			&model.Lead{},
		} {
			if err := tx.Where("1 = 1").Delete(m).Error; err != nil {
				return fmt.Errorf("store: reset: %w", err)
			}
		}
		return nil
	})
}
