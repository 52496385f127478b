package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"capstone-hub/backend/internal/dto"
	"capstone-hub/backend/internal/model"
	"capstone-hub/backend/internal/repository"
	"capstone-hub/backend/pkg/daterange"
	pkgerrors "capstone-hub/backend/pkg/errors"
	"capstone-hub/backend/pkg/validate"
)

// ── 阶段模块业务错误 ──

var (
	ErrStageNotFound        = errors.New("阶段不存在")
	ErrStageMissingField    = errors.New("缺少必填字段")
	ErrStageInvalidField    = errors.New("阶段字段不合法")
	ErrStageDateInvalid     = errors.New("阶段结束日期必须晚于开始日期")
	ErrStageDuplicateOrder  = errors.New("阶段顺序重复")
	ErrStageDateOverlap     = errors.New("阶段日期与已有启用阶段重叠")
	ErrStageVersionConflict = errors.New("阶段已被其他操作修改，请刷新后重试")
)

// StageValidationError 字段级校验失败，Err 为上面的哨兵错误之一
type StageValidationError struct {
	Err    error
	Fields map[string]string
}

func (e *StageValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Err.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, e.Fields[k])
	}
	return e.Err.Error() + ": " + strings.Join(parts, "; ")
}

func (e *StageValidationError) Unwrap() error { return e.Err }

// StageConflictError 与已有阶段冲突（顺序重复或日期重叠），携带冲突对象供调用方修正
type StageConflictError struct {
	Err       error
	Order     int
	StageID   string
	StageName string
	Range     string

	requested daterange.Range
}

func (e *StageConflictError) Error() string {
	switch {
	case errors.Is(e.Err, ErrStageDuplicateOrder) && e.StageName != "":
		return fmt.Sprintf("%s: order %d 已被阶段「%s」占用", e.Err, e.Order, e.StageName)
	case errors.Is(e.Err, ErrStageDuplicateOrder):
		return fmt.Sprintf("%s: order %d", e.Err, e.Order)
	case e.StageName != "":
		return fmt.Sprintf("%s: 与阶段「%s」(%s) 重叠", e.Err, e.StageName, e.Range)
	default:
		return e.Err.Error()
	}
}

func (e *StageConflictError) Unwrap() error { return e.Err }

// StageService 阶段业务接口
//
// 不变量：
//   - 结束日至少晚于开始日一天（按日历日比较）
//   - 任意两个启用阶段的闭区间 [start, end] 不相交
//   - order 唯一（校验 + 存储层唯一索引）
//
// 写操作在 WriteLocker 与数据库事务内完成“读取-校验-写入”，避免并发写入绕过校验。
type StageService interface {
	List(ctx context.Context, now time.Time) ([]dto.StageResponse, error)
	GetByID(ctx context.Context, id string, now time.Time) (*dto.StageResponse, error)
	GetCurrent(ctx context.Context, now time.Time) (*dto.CurrentStageResponse, error)
	Create(ctx context.Context, req *dto.CreateStageRequest, callerID string) (*dto.StageResponse, error)
	Update(ctx context.Context, id string, req *dto.UpdateStageRequest, callerID string) (*dto.StageResponse, error)
	Delete(ctx context.Context, id string) (*dto.StageResponse, error)
}

type stageService struct {
	repo      *repository.Repository
	locker    WriteLocker
	validator *validate.Validator
	clock     func() time.Time
	logger    *zap.Logger
}

// NewStageService 创建 StageService 实例
func NewStageService(repo *repository.Repository, locker WriteLocker, logger *zap.Logger) StageService {
	if locker == nil {
		locker = NewMutexLocker()
	}
	return &stageService{
		repo:      repo,
		locker:    locker,
		validator: validate.New(),
		clock:     time.Now,
		logger:    logger,
	}
}

// ────────────────────── List ──────────────────────

func (s *stageService) List(ctx context.Context, now time.Time) ([]dto.StageResponse, error) {
	stages, err := s.repo.Stage.List(ctx)
	if err != nil {
		s.logger.Error("列出阶段失败", zap.Error(err))
		return nil, err
	}

	result := make([]dto.StageResponse, 0, len(stages))
	for i := range stages {
		result = append(result, *toStageResponse(&stages[i], now))
	}
	return result, nil
}

// ────────────────────── GetByID ──────────────────────

func (s *stageService) GetByID(ctx context.Context, id string, now time.Time) (*dto.StageResponse, error) {
	stage, err := s.getStage(ctx, s.repo, id)
	if err != nil {
		return nil, err
	}
	return toStageResponse(stage, now), nil
}

// ────────────────────── GetCurrent ──────────────────────

// GetCurrent 返回包含 now 的启用阶段；不存在时根据最晚结束的阶段判断是否已全部结束
func (s *stageService) GetCurrent(ctx context.Context, now time.Time) (*dto.CurrentStageResponse, error) {
	stage, err := s.repo.Stage.FindActiveAt(ctx, now)
	if err == nil {
		return &dto.CurrentStageResponse{CurrentStage: toStageResponse(stage, now)}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("查询当前阶段失败", zap.Time("now", now), zap.Error(err))
		return nil, err
	}

	latest, err := s.repo.Stage.GetLatest(ctx)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &dto.CurrentStageResponse{}, nil
		}
		s.logger.Error("查询最晚阶段失败", zap.Error(err))
		return nil, err
	}

	return &dto.CurrentStageResponse{AllCompleted: latest.IsCompletedAt(now)}, nil
}

// ────────────────────── Create ──────────────────────

// Create 校验顺序：必填/字段格式 → order 唯一 → 日期（格式与先后） → 启用阶段不重叠
func (s *stageService) Create(ctx context.Context, req *dto.CreateStageRequest, callerID string) (*dto.StageResponse, error) {
	// 1. 必填字段与格式
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	percentage := strings.TrimSpace(req.Percentage)
	description := strings.TrimSpace(req.Description)
	if missing := missingFields(map[string]string{"name": name, "percentage": percentage}); missing != nil {
		return nil, missing
	}
	if err := s.checkLengths(&name, &description); err != nil {
		return nil, err
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	stage := &model.Stage{
		Name:        name,
		Description: description,
		Percentage:  percentage,
		SortOrder:   req.Order,
		IsActive:    isActive,
	}
	if callerID != "" {
		stage.CreatedBy = &callerID
		stage.UpdatedBy = &callerID
	}

	err := s.withWriteLock(ctx, func(tx *repository.Repository) error {
		// 2. order 唯一
		if err := s.checkOrderAvailable(ctx, tx, stage.SortOrder, ""); err != nil {
			return err
		}
		// 3. 日期格式与先后
		startDay, endDay, err := parseDayPair(&req.StartDate, &req.EndDate)
		if err != nil {
			return err
		}
		rng := daterange.NewRange(startDay, endDay)
		if !rng.Valid() {
			return invalidRangeError(rng)
		}
		stage.StartDate = startDay.StartOfDay(time.UTC)
		stage.EndDate = endDay.EndOfDay(time.UTC)
		// 4. 启用阶段不重叠
		if stage.IsActive {
			if err := s.checkNoOverlap(ctx, tx, rng, ""); err != nil {
				return err
			}
		}
		// 5. 持久化
		if err := tx.Stage.Create(ctx, stage); err != nil {
			return s.storageError("创建阶段失败", stage, err)
		}
		return nil
	})
	if err != nil {
		return nil, s.describeConflict(ctx, err, "")
	}

	s.logger.Info("阶段已创建",
		zap.String("stage_id", stage.StageID),
		zap.Int("order", stage.SortOrder),
		zap.String("range", stage.Range().String()),
	)
	return toStageResponse(stage, s.clock()), nil
}

// ────────────────────── Update ──────────────────────

func (s *stageService) Update(ctx context.Context, id string, req *dto.UpdateStageRequest, callerID string) (*dto.StageResponse, error) {
	if err := s.validateStruct(req); err != nil {
		return nil, err
	}

	name := trimmed(req.Name)
	percentage := trimmed(req.Percentage)
	description := trimmed(req.Description)
	present := map[string]string{}
	if name != nil {
		present["name"] = *name
	}
	if percentage != nil {
		present["percentage"] = *percentage
	}
	if missing := missingFields(present); missing != nil {
		return nil, missing
	}
	if err := s.checkLengths(name, description); err != nil {
		return nil, err
	}

	var updated *model.Stage
	err := s.withWriteLock(ctx, func(tx *repository.Repository) error {
		// 1. 阶段存在
		stage, err := s.getStage(ctx, tx, id)
		if err != nil {
			return err
		}
		if req.Version != nil && *req.Version != stage.Version {
			return ErrStageVersionConflict
		}

		// 2. order 变更时校验唯一（排除自身）
		if req.Order != nil && *req.Order != stage.SortOrder {
			if err := s.checkOrderAvailable(ctx, tx, *req.Order, stage.StageID); err != nil {
				return err
			}
		}

		// 3. 有效日期区间 = 提供值 ?? 原值
		startDay, endDay, err := parseDayPair(req.StartDate, req.EndDate)
		if err != nil {
			return err
		}
		rng := stage.Range()
		if req.StartDate != nil {
			rng.Start = startDay
		}
		if req.EndDate != nil {
			rng.End = endDay
		}
		if !rng.Valid() {
			return invalidRangeError(rng)
		}

		// 4. 有效启用状态下校验重叠（排除自身）
		isActive := stage.IsActive
		if req.IsActive != nil {
			isActive = *req.IsActive
		}
		if isActive {
			if err := s.checkNoOverlap(ctx, tx, rng, stage.StageID); err != nil {
				return err
			}
		}

		// 5. 仅应用提供的字段
		if !req.HasChanges() {
			updated = stage
			return nil
		}
		if name != nil {
			stage.Name = *name
		}
		if description != nil {
			stage.Description = *description
		}
		if percentage != nil {
			stage.Percentage = *percentage
		}
		if req.Order != nil {
			stage.SortOrder = *req.Order
		}
		if req.StartDate != nil {
			stage.StartDate = rng.Start.StartOfDay(time.UTC)
		}
		if req.EndDate != nil {
			stage.EndDate = rng.End.EndOfDay(time.UTC)
		}
		stage.IsActive = isActive
		if callerID != "" {
			stage.UpdatedBy = &callerID
		}

		if err := tx.Stage.Update(ctx, stage); err != nil {
			if errors.Is(err, pkgerrors.ErrOptimisticLock) {
				return ErrStageVersionConflict
			}
			return s.storageError("更新阶段失败", stage, err)
		}
		updated = stage
		return nil
	})
	if err != nil {
		return nil, s.describeConflict(ctx, err, id)
	}

	return toStageResponse(updated, s.clock()), nil
}

// ────────────────────── Delete ──────────────────────

// Delete 删除阶段并返回被删除的记录（供前端确认/撤销展示），不级联
func (s *stageService) Delete(ctx context.Context, id string) (*dto.StageResponse, error) {
	var deleted *model.Stage
	err := s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		stage, err := s.getStage(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := tx.Stage.Delete(ctx, id); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrStageNotFound
			}
			s.logger.Error("删除阶段失败", zap.String("id", id), zap.Error(err))
			return err
		}
		deleted = stage
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("阶段已删除", zap.String("stage_id", id))
	return toStageResponse(deleted, s.clock()), nil
}

// ── 内部辅助方法 ──

// withWriteLock 串行化写入：进程/集群级写锁 + 事务内表锁
func (s *stageService) withWriteLock(ctx context.Context, fn func(tx *repository.Repository) error) error {
	unlock, err := s.locker.Lock(ctx)
	if err != nil {
		s.logger.Error("获取阶段写锁失败", zap.Error(err))
		return err
	}
	defer unlock()

	return s.repo.Transaction(ctx, func(tx *repository.Repository) error {
		if err := tx.Stage.LockForWrite(ctx); err != nil {
			s.logger.Error("锁定阶段表失败", zap.Error(err))
			return err
		}
		return fn(tx)
	})
}

func (s *stageService) getStage(ctx context.Context, repo *repository.Repository, id string) (*model.Stage, error) {
	stage, err := repo.Stage.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrStageNotFound
		}
		s.logger.Error("查询阶段失败", zap.String("id", id), zap.Error(err))
		return nil, err
	}
	return stage, nil
}

func (s *stageService) checkOrderAvailable(ctx context.Context, repo *repository.Repository, order int, excludeID string) error {
	existing, err := repo.Stage.FindByOrder(ctx, order, excludeID)
	if err == nil {
		return &StageConflictError{
			Err:       ErrStageDuplicateOrder,
			Order:     order,
			StageID:   existing.StageID,
			StageName: existing.Name,
		}
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		s.logger.Error("校验阶段顺序失败", zap.Int("order", order), zap.Error(err))
		return err
	}
	return nil
}

func (s *stageService) checkNoOverlap(ctx context.Context, repo *repository.Repository, rng daterange.Range, excludeID string) error {
	active, err := repo.Stage.ListActive(ctx, excludeID)
	if err != nil {
		s.logger.Error("查询启用阶段失败", zap.Error(err))
		return err
	}

	ranges := make([]daterange.Range, len(active))
	for i := range active {
		ranges[i] = active[i].Range()
	}
	if i := daterange.FindOverlap(rng, ranges); i >= 0 {
		return &StageConflictError{
			Err:       ErrStageDateOverlap,
			Order:     active[i].SortOrder,
			StageID:   active[i].StageID,
			StageName: active[i].Name,
			Range:     ranges[i].String(),
		}
	}
	return nil
}

// storageError 将存储层约束冲突映射为业务冲突（并发写入绕过了前置校验时由数据库兜底）
func (s *stageService) storageError(msg string, stage *model.Stage, err error) error {
	switch {
	case errors.Is(err, pkgerrors.ErrUniqueViolation):
		return &StageConflictError{Err: ErrStageDuplicateOrder, Order: stage.SortOrder}
	case errors.Is(err, pkgerrors.ErrExclusionViolation):
		return &StageConflictError{Err: ErrStageDateOverlap, Order: stage.SortOrder, requested: stage.Range()}
	}
	s.logger.Error(msg, zap.String("stage_id", stage.StageID), zap.Error(err))
	return err
}

// describeConflict 为数据库兜底产生的冲突补全对方阶段。
// 约束失败后事务已中止，只能在事务外重新读取。
func (s *stageService) describeConflict(ctx context.Context, err error, excludeID string) error {
	var ce *StageConflictError
	if !errors.As(err, &ce) || ce.StageID != "" {
		return err
	}

	switch {
	case errors.Is(ce.Err, ErrStageDuplicateOrder):
		if existing, ferr := s.repo.Stage.FindByOrder(ctx, ce.Order, excludeID); ferr == nil {
			ce.StageID, ce.StageName = existing.StageID, existing.Name
		}
	case errors.Is(ce.Err, ErrStageDateOverlap):
		active, lerr := s.repo.Stage.ListActive(ctx, excludeID)
		if lerr != nil {
			s.logger.Warn("读取冲突阶段失败", zap.Error(lerr))
			return err
		}
		ranges := make([]daterange.Range, len(active))
		for i := range active {
			ranges[i] = active[i].Range()
		}
		if i := daterange.FindOverlap(ce.requested, ranges); i >= 0 {
			ce.Order = active[i].SortOrder
			ce.StageID = active[i].StageID
			ce.StageName = active[i].Name
			ce.Range = ranges[i].String()
		}
	}
	return err
}

// checkLengths 去除首尾空白后的长度限制，nil 表示未提供
func (s *stageService) checkLengths(name, description *string) error {
	fields := map[string]string{}
	if name != nil {
		for k, v := range s.validator.Var("name", *name, "max=100") {
			fields[k] = v
		}
	}
	if description != nil {
		for k, v := range s.validator.Var("description", *description, "max=500") {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return &StageValidationError{Err: ErrStageInvalidField, Fields: fields}
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func invalidRangeError(rng daterange.Range) error {
	return &StageValidationError{Err: ErrStageDateInvalid, Fields: map[string]string{
		"endDate": fmt.Sprintf("endDate (%s) must be at least one day after startDate (%s)", rng.End, rng.Start),
	}}
}

func (s *stageService) validateStruct(req interface{}) error {
	err := s.validator.Struct(req)
	if err == nil {
		return nil
	}
	sentinel := ErrStageInvalidField
	if validate.HasTag(err, "required") {
		sentinel = ErrStageMissingField
	}
	return &StageValidationError{Err: sentinel, Fields: s.validator.Fields(err)}
}

// missingFields 去除首尾空白后为空的字段视为缺失
func missingFields(values map[string]string) error {
	var fields map[string]string
	for k, v := range values {
		if v == "" {
			if fields == nil {
				fields = make(map[string]string)
			}
			fields[k] = k + " is required"
		}
	}
	if fields == nil {
		return nil
	}
	return &StageValidationError{Err: ErrStageMissingField, Fields: fields}
}

// parseDayPair 解析提供的开始/结束日期，nil 表示未提供
func parseDayPair(start, end *string) (daterange.Day, daterange.Day, error) {
	var startDay, endDay daterange.Day
	fields := map[string]string{}
	if start != nil {
		d, err := daterange.ParseDay(*start)
		if err != nil {
			fields["startDate"] = "startDate must be an ISO-8601 date"
		}
		startDay = d
	}
	if end != nil {
		d, err := daterange.ParseDay(*end)
		if err != nil {
			fields["endDate"] = "endDate must be an ISO-8601 date"
		}
		endDay = d
	}
	if len(fields) > 0 {
		return startDay, endDay, &StageValidationError{Err: ErrStageDateInvalid, Fields: fields}
	}
	return startDay, endDay, nil
}

func toStageResponse(stage *model.Stage, now time.Time) *dto.StageResponse {
	return &dto.StageResponse{
		ID:             stage.StageID,
		Name:           stage.Name,
		Description:    stage.Description,
		Percentage:     stage.Percentage,
		Order:          stage.SortOrder,
		StartDate:      stage.StartDate.UTC().Format(timestampLayout),
		EndDate:        stage.EndDate.UTC().Format(timestampLayout),
		IsActive:       stage.IsActive,
		IsCurrentStage: stage.IsCurrentAt(now),
		IsCompleted:    stage.IsCompletedAt(now),
		IsUpcoming:     stage.IsUpcomingAt(now),
		Version:        stage.Version,
		CreatedAt:      stage.CreatedAt.UTC().Format(timestampLayout),
		UpdatedAt:      stage.UpdatedAt.UTC().Format(timestampLayout),
	}
}

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"
