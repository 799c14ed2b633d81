package errors

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// PostgreSQL 并发冲突相关的 SQLSTATE
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// IsSerializationFailure 判断错误是否为可重试的事务并发冲突
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
}

// TranslateConcurrency 将事务并发冲突统一转换为 ErrOptimisticLock，其他错误原样返回
func TranslateConcurrency(err error) error {
	if IsSerializationFailure(err) {
		return ErrOptimisticLock
	}
	return err
}
