package errors

import "errors"

// ErrOptimisticLock 乐观锁冲突：记录已被其他操作修改
var ErrOptimisticLock = errors.New("数据已被其他操作修改，请刷新后重试")

// ErrUniqueViolation 存储层唯一约束冲突（PostgreSQL 23505）
var ErrUniqueViolation = errors.New("唯一约束冲突")

// ErrExclusionViolation 存储层排他约束冲突（PostgreSQL 23P01，日期区间重叠）
var ErrExclusionViolation = errors.New("排他约束冲突")
