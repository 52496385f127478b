package repository

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	pkgerrors "capstone-hub/backend/pkg/errors"
)

// PostgreSQL SQLSTATE
const (
	pgUniqueViolation    = "23505"
	pgExclusionViolation = "23P01"
)

// translateError 将驱动层约束冲突映射为 pkg/errors 中的哨兵错误，其余错误原样返回
func translateError(err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", pkgerrors.ErrUniqueViolation, pgErr.ConstraintName)
		case pgExclusionViolation:
			return fmt.Errorf("%w: %s", pkgerrors.ErrExclusionViolation, pgErr.ConstraintName)
		}
		return err
	}

	// TranslateError 开启后 GORM 已把唯一冲突转换为 ErrDuplicatedKey（SQLite 亦然）
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", pkgerrors.ErrUniqueViolation, err)
	}
	return err
}
