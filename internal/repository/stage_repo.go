package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"capstone-hub/backend/internal/model"
	pkgerrors "capstone-hub/backend/pkg/errors"
)

// StageRepository 阶段数据访问接口
type StageRepository interface {
	Create(ctx context.Context, stage *model.Stage) error
	GetByID(ctx context.Context, id string) (*model.Stage, error)
	List(ctx context.Context) ([]model.Stage, error)
	// FindByOrder 查找 sort_order 相同的阶段，excludeID 非空时排除该记录
	FindByOrder(ctx context.Context, order int, excludeID string) (*model.Stage, error)
	// ListActive 列出所有启用阶段，excludeID 非空时排除该记录
	ListActive(ctx context.Context, excludeID string) ([]model.Stage, error)
	// FindActiveAt 包含 at 的启用阶段，按 sort_order 取第一条
	FindActiveAt(ctx context.Context, at time.Time) (*model.Stage, error)
	// GetLatest 结束时间最晚的阶段（不区分启用状态）
	GetLatest(ctx context.Context) (*model.Stage, error)
	Update(ctx context.Context, stage *model.Stage) error
	Delete(ctx context.Context, id string) error
	// LockForWrite 在当前事务内串行化阶段写入（仅 PostgreSQL 生效）
	LockForWrite(ctx context.Context) error
}

type stageRepo struct {
	db *gorm.DB
}

// NewStageRepo 创建 StageRepository 实例
func NewStageRepo(db *gorm.DB) StageRepository {
	return &stageRepo{db: db}
}

func (r *stageRepo) Create(ctx context.Context, stage *model.Stage) error {
	if stage.Version == 0 {
		stage.Version = 1
	}
	return translateError(r.db.WithContext(ctx).Create(stage).Error)
}

func (r *stageRepo) GetByID(ctx context.Context, id string) (*model.Stage, error) {
	var stage model.Stage
	err := r.db.WithContext(ctx).
		Where("stage_id = ?", id).
		First(&stage).Error
	if err != nil {
		return nil, err
	}
	return &stage, nil
}

func (r *stageRepo) List(ctx context.Context) ([]model.Stage, error) {
	var stages []model.Stage
	err := r.db.WithContext(ctx).
		Order("sort_order ASC").
		Find(&stages).Error
	return stages, err
}

func (r *stageRepo) FindByOrder(ctx context.Context, order int, excludeID string) (*model.Stage, error) {
	var stage model.Stage
	q := r.db.WithContext(ctx).Where("sort_order = ?", order)
	if excludeID != "" {
		q = q.Where("stage_id <> ?", excludeID)
	}
	if err := q.First(&stage).Error; err != nil {
		return nil, err
	}
	return &stage, nil
}

func (r *stageRepo) ListActive(ctx context.Context, excludeID string) ([]model.Stage, error) {
	var stages []model.Stage
	q := r.db.WithContext(ctx).Where("is_active = ?", true)
	if excludeID != "" {
		q = q.Where("stage_id <> ?", excludeID)
	}
	err := q.Order("start_date ASC").Find(&stages).Error
	return stages, err
}

func (r *stageRepo) FindActiveAt(ctx context.Context, at time.Time) (*model.Stage, error) {
	var stage model.Stage
	// 结束时刻按存储精度（微秒）保存为 23:59:59.999999
	at = at.UTC().Truncate(time.Microsecond)
	err := r.db.WithContext(ctx).
		Where("is_active = ? AND start_date <= ? AND end_date >= ?", true, at, at).
		Order("sort_order ASC").
		First(&stage).Error
	if err != nil {
		return nil, err
	}
	return &stage, nil
}

func (r *stageRepo) GetLatest(ctx context.Context) (*model.Stage, error) {
	var stage model.Stage
	err := r.db.WithContext(ctx).
		Order("end_date DESC").
		First(&stage).Error
	if err != nil {
		return nil, err
	}
	return &stage, nil
}

// Update 乐观锁更新：WHERE version = 旧版本，未命中时返回 ErrOptimisticLock。
// 成功后 stage 的 Version 与 UpdatedAt 与库中一致。
func (r *stageRepo) Update(ctx context.Context, stage *model.Stage) error {
	oldVersion := stage.Version
	updatedAt := time.Now().UTC().Truncate(time.Microsecond)
	result := r.db.WithContext(ctx).
		Model(&model.Stage{}).
		Where("stage_id = ? AND version = ?", stage.StageID, oldVersion).
		Updates(map[string]interface{}{
			"name":        stage.Name,
			"description": stage.Description,
			"percentage":  stage.Percentage,
			"sort_order":  stage.SortOrder,
			"start_date":  stage.StartDate,
			"end_date":    stage.EndDate,
			"is_active":   stage.IsActive,
			"updated_by":  stage.UpdatedBy,
			"updated_at":  updatedAt,
			"version":     oldVersion + 1,
		})
	if result.Error != nil {
		return translateError(result.Error)
	}
	if result.RowsAffected == 0 {
		return pkgerrors.ErrOptimisticLock
	}
	stage.Version = oldVersion + 1
	stage.UpdatedAt = updatedAt
	return nil
}

func (r *stageRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("stage_id = ?", id).
		Delete(&model.Stage{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *stageRepo) LockForWrite(ctx context.Context) error {
	if r.db.Dialector.Name() != "postgres" {
		return nil
	}
	return r.db.WithContext(ctx).
		Exec("LOCK TABLE stages IN SHARE ROW EXCLUSIVE MODE").Error
}
