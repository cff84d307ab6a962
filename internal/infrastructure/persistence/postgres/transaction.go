// Package postgres 提供 PostgreSQL 数据库访问层实现
package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"gorm.io/gorm"

	"kalligram-api/internal/domain/repository"
)

// TxManager 事务管理器
type TxManager struct {
	client *Client
}

// NewTxManager 创建事务管理器
func NewTxManager(client *Client) *TxManager {
	return &TxManager{client: client}
}

// WithTransaction 在只读快照事务中执行操作
func (m *TxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	// 已在事务中，直接执行
	if tx := getTxFromContext(ctx); tx != nil {
		return fn(ctx)
	}

	err := m.client.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, repository.TxKey{}, tx)
		return fn(txCtx)
	}, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("snapshot transaction: %w", err)
	}
	return nil
}

// getTxFromContext 从上下文获取事务
func getTxFromContext(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(repository.TxKey{}).(*gorm.DB); ok {
		return tx
	}
	return nil
}

// getDB 根据上下文返回事务或普通连接
func getDB(ctx context.Context, db *gorm.DB) *gorm.DB {
	if tx := getTxFromContext(ctx); tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
