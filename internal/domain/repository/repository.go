// Package repository 定义数据访问层接口
package repository

import (
	"context"
)

// TxKey 事务上下文键类型
type TxKey struct{}

// Transactor 事务管理接口
type Transactor interface {
	// WithTransaction 在只读快照事务中执行操作，保证多表读取一致
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
