package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"capstone-hub/backend/internal/model"
	pkgerrors "capstone-hub/backend/pkg/errors"
)

// ── Mock StageRepository ──

type mockStageRepo struct {
	mu      sync.Mutex
	stages  map[string]*model.Stage
	seq     int
	writes  int   // Create/Update/Delete 成功次数
	failErr error // 非 nil 时所有读写返回该错误

	// beforeCreate 在 Create 取锁前调用，返回非 nil 时 Create 直接返回该错误（模拟并发写入抢先提交）
	beforeCreate func() error
}

func newMockStageRepo() *mockStageRepo {
	return &mockStageRepo{stages: make(map[string]*model.Stage)}
}

func (m *mockStageRepo) Create(_ context.Context, stage *model.Stage) error {
	if m.beforeCreate != nil {
		if err := m.beforeCreate(); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	for _, s := range m.stages {
		if s.SortOrder == stage.SortOrder {
			return pkgerrors.ErrUniqueViolation
		}
	}
	if stage.StageID == "" {
		m.seq++
		stage.StageID = fmt.Sprintf("stage-%d", m.seq)
	}
	if stage.Version == 0 {
		stage.Version = 1
	}
	now := time.Now().UTC()
	stage.CreatedAt, stage.UpdatedAt = now, now
	cp := *stage
	m.stages[stage.StageID] = &cp
	m.writes++
	return nil
}

func (m *mockStageRepo) GetByID(_ context.Context, id string) (*model.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	if s, ok := m.stages[id]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockStageRepo) List(_ context.Context) ([]model.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	result := make([]model.Stage, 0, len(m.stages))
	for _, s := range m.stages {
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].SortOrder < result[j].SortOrder })
	return result, nil
}

func (m *mockStageRepo) FindByOrder(_ context.Context, order int, excludeID string) (*model.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	for _, s := range m.stages {
		if s.SortOrder == order && s.StageID != excludeID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockStageRepo) ListActive(_ context.Context, excludeID string) ([]model.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	var result []model.Stage
	for _, s := range m.stages {
		if s.IsActive && s.StageID != excludeID {
			result = append(result, *s)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartDate.Before(result[j].StartDate) })
	return result, nil
}

func (m *mockStageRepo) FindActiveAt(_ context.Context, at time.Time) (*model.Stage, error) {
	all, err := m.List(context.Background())
	if err != nil {
		return nil, err
	}
	at = at.UTC().Truncate(time.Microsecond)
	for i := range all {
		s := all[i]
		if s.IsActive && !at.Before(s.StartDate) && !at.After(s.EndDate) {
			return &s, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockStageRepo) GetLatest(_ context.Context) (*model.Stage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return nil, m.failErr
	}
	var latest *model.Stage
	for _, s := range m.stages {
		if latest == nil || s.EndDate.After(latest.EndDate) {
			latest = s
		}
	}
	if latest == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *mockStageRepo) Update(_ context.Context, stage *model.Stage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	old, ok := m.stages[stage.StageID]
	if !ok || old.Version != stage.Version {
		return pkgerrors.ErrOptimisticLock
	}
	stage.Version++
	stage.UpdatedAt = time.Now().UTC()
	cp := *stage
	m.stages[stage.StageID] = &cp
	m.writes++
	return nil
}

func (m *mockStageRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	if _, ok := m.stages[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.stages, id)
	m.writes++
	return nil
}

func (m *mockStageRepo) LockForWrite(_ context.Context) error { return nil }

// seed 直接写入一条阶段记录，日期为 YYYY-MM-DD
func (m *mockStageRepo) seed(id, name string, order int, start, end string, active bool) *model.Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, _ := time.Parse("2006-01-02", start)
	e, _ := time.Parse("2006-01-02", end)
	st := &model.Stage{
		StageID:    id,
		Name:       name,
		Percentage: "25%",
		SortOrder:  order,
		StartDate:  s.UTC(),
		EndDate:    e.UTC().Add(24*time.Hour - time.Microsecond),
		IsActive:   active,
	}
	st.Version = 1
	m.stages[id] = st
	cp := *st
	return &cp
}

// ── Mock lockClient ──

type mockLockClient struct {
	mu       sync.Mutex
	holder   string
	seq      int
	err      error
	acquired int
	released int
}

func (m *mockLockClient) AcquireLock(_ context.Context, _ string, _ time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", false, m.err
	}
	if m.holder != "" {
		return "", false, nil
	}
	m.seq++
	m.holder = fmt.Sprintf("token-%d", m.seq)
	m.acquired++
	return m.holder, true, nil
}

func (m *mockLockClient) ReleaseLock(_ context.Context, _ string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == token {
		m.holder = ""
		m.released++
	}
	return nil
}
