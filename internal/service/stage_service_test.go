package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"capstone-hub/backend/internal/dto"
	"capstone-hub/backend/internal/repository"
	pkgerrors "capstone-hub/backend/pkg/errors"
)

// ── 测试辅助 ──

func setupTestStageService() (StageService, *mockStageRepo) {
	stageRepo := newMockStageRepo()
	repo := &repository.Repository{Stage: stageRepo}
	svc := NewStageService(repo, NewMutexLocker(), zap.NewNop())
	return svc, stageRepo
}

func at(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, _ = time.Parse("2006-01-02", s)
		t = t.Add(12 * time.Hour)
	}
	return t.UTC()
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func validCreateReq() *dto.CreateStageRequest {
	return &dto.CreateStageRequest{
		Name:        "Anteproyecto",
		Description: "Entrega del anteproyecto",
		Percentage:  "25%",
		Order:       1,
		StartDate:   "2024-01-01",
		EndDate:     "2024-03-31",
	}
}

// ── Create 测试 ──

func TestStageService_Create_RoundTrip(t *testing.T) {
	svc, _ := setupTestStageService()
	ctx := context.Background()

	created, err := svc.Create(ctx, validCreateReq(), "admin-001")
	if err != nil {
		t.Fatalf("Create 应成功: %v", err)
	}
	if !created.IsActive {
		t.Error("未提供 isActive 时应默认为 true")
	}

	got, err := svc.GetByID(ctx, created.ID, at("2024-02-01"))
	if err != nil {
		t.Fatalf("GetByID 应成功: %v", err)
	}
	if got.Name != "Anteproyecto" || got.Description != "Entrega del anteproyecto" || got.Percentage != "25%" || got.Order != 1 {
		t.Errorf("读回字段与创建请求不一致: %+v", got)
	}
	if !strings.HasPrefix(got.StartDate, "2024-01-01") || !strings.HasPrefix(got.EndDate, "2024-03-31") {
		t.Errorf("日期应保留日历日，实际 start=%s end=%s", got.StartDate, got.EndDate)
	}
	if !got.IsCurrentStage || got.IsCompleted || got.IsUpcoming {
		t.Errorf("2024-02-01 应处于当前阶段: %+v", got)
	}
	if got.Version != 1 {
		t.Errorf("期望 Version=1，实际=%d", got.Version)
	}
}

func TestStageService_Create_TrimsStrings(t *testing.T) {
	svc, _ := setupTestStageService()

	req := validCreateReq()
	req.Name = "  Propuesta  "
	req.Percentage = " 10% "
	req.Description = " detalle "
	result, err := svc.Create(context.Background(), req, "")
	if err != nil {
		t.Fatalf("Create 应成功: %v", err)
	}
	if result.Name != "Propuesta" || result.Percentage != "10%" || result.Description != "detalle" {
		t.Errorf("字符串应去除首尾空白: %+v", result)
	}
}

func TestStageService_Create_MissingField(t *testing.T) {
	svc, repo := setupTestStageService()

	tests := []struct {
		name  string
		mut   func(r *dto.CreateStageRequest)
		field string
	}{
		{"缺少名称", func(r *dto.CreateStageRequest) { r.Name = "" }, "name"},
		{"名称仅空白", func(r *dto.CreateStageRequest) { r.Name = "   " }, "name"},
		{"缺少占比", func(r *dto.CreateStageRequest) { r.Percentage = "" }, "percentage"},
		{"缺少顺序", func(r *dto.CreateStageRequest) { r.Order = 0 }, "order"},
		{"缺少开始日期", func(r *dto.CreateStageRequest) { r.StartDate = "" }, "startDate"},
		{"缺少结束日期", func(r *dto.CreateStageRequest) { r.EndDate = "" }, "endDate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateReq()
			tt.mut(req)
			_, err := svc.Create(context.Background(), req, "")
			if !errors.Is(err, ErrStageMissingField) {
				t.Fatalf("期望 ErrStageMissingField，实际: %v", err)
			}
			var ve *StageValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("期望 *StageValidationError，实际: %T", err)
			}
			if _, ok := ve.Fields[tt.field]; !ok {
				t.Errorf("期望字段 %s 出现在错误中，实际: %v", tt.field, ve.Fields)
			}
		})
	}
	if repo.writes != 0 {
		t.Errorf("校验失败不应写入，实际写入 %d 次", repo.writes)
	}
}

func TestStageService_Create_NameTooLong(t *testing.T) {
	svc, _ := setupTestStageService()

	req := validCreateReq()
	req.Name = strings.Repeat("a", 101)
	_, err := svc.Create(context.Background(), req, "")
	if !errors.Is(err, ErrStageInvalidField) {
		t.Errorf("期望 ErrStageInvalidField，实际: %v", err)
	}
}

// 长度按去除首尾空白后的内容计算；percentage 为自由文本标签，不限长度
func TestStageService_Create_LengthCheckedAfterTrim(t *testing.T) {
	svc, _ := setupTestStageService()

	req := validCreateReq()
	req.Name = "  " + strings.Repeat("a", 100) + "  "
	req.Percentage = "Veinticinco por ciento del proyecto final"
	result, err := svc.Create(context.Background(), req, "")
	if err != nil {
		t.Fatalf("去除空白后 100 字符应合法: %v", err)
	}
	if len(result.Name) != 100 {
		t.Errorf("期望名称长度 100，实际 %d", len(result.Name))
	}
	if result.Percentage != req.Percentage {
		t.Errorf("percentage 应原样保存: %q", result.Percentage)
	}
}

func TestStageService_Create_BadDateFormat(t *testing.T) {
	svc, _ := setupTestStageService()

	req := validCreateReq()
	req.StartDate = "31/01/2024"
	_, err := svc.Create(context.Background(), req, "")
	if !errors.Is(err, ErrStageDateInvalid) {
		t.Errorf("期望 ErrStageDateInvalid，实际: %v", err)
	}
}

func TestStageService_Create_InvalidDateRange(t *testing.T) {
	svc, repo := setupTestStageService()

	for _, end := range []string{"2024-01-01", "2023-12-31", "2024-01-01T23:59:59Z"} {
		req := validCreateReq()
		req.EndDate = end
		_, err := svc.Create(context.Background(), req, "")
		if !errors.Is(err, ErrStageDateInvalid) {
			t.Errorf("end=%s 期望 ErrStageDateInvalid，实际: %v", end, err)
		}
	}
	if repo.writes != 0 {
		t.Errorf("校验失败不应写入，实际写入 %d 次", repo.writes)
	}

	// 相差一天即合法
	req := validCreateReq()
	req.EndDate = "2024-01-02"
	if _, err := svc.Create(context.Background(), req, ""); err != nil {
		t.Errorf("相差一天应合法: %v", err)
	}
}

func TestStageService_Create_DuplicateOrder(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "Propuesta", 1, "2023-01-01", "2023-03-31", true)

	_, err := svc.Create(context.Background(), validCreateReq(), "")
	if !errors.Is(err, ErrStageDuplicateOrder) {
		t.Fatalf("期望 ErrStageDuplicateOrder，实际: %v", err)
	}
	var ce *StageConflictError
	if !errors.As(err, &ce) || ce.Order != 1 || ce.StageID != "s1" {
		t.Errorf("冲突错误应指明 order 与已有阶段: %+v", ce)
	}
}

// 校验顺序：order 重复先于日期区间
func TestStageService_Create_DuplicateOrderCheckedBeforeDates(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "Propuesta", 1, "2023-01-01", "2023-03-31", true)

	req := validCreateReq()
	req.EndDate = "2023-12-01"
	_, err := svc.Create(context.Background(), req, "")
	if !errors.Is(err, ErrStageDuplicateOrder) {
		t.Errorf("期望 ErrStageDuplicateOrder，实际: %v", err)
	}
}

func TestStageService_Create_OverlapScenario(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)

	req := validCreateReq()
	req.Name = "S2"
	req.Order = 2
	req.StartDate = "2024-03-15"
	req.EndDate = "2024-04-15"

	_, err := svc.Create(context.Background(), req, "")
	if !errors.Is(err, ErrStageDateOverlap) {
		t.Fatalf("期望 ErrStageDateOverlap，实际: %v", err)
	}
	var ce *StageConflictError
	if !errors.As(err, &ce) || ce.StageName != "S1" {
		t.Errorf("冲突错误应指明 S1，实际: %+v", ce)
	}
	if !strings.Contains(err.Error(), "S1") {
		t.Errorf("错误信息应包含冲突阶段名称: %s", err.Error())
	}

	// 未启用的阶段不参与重叠校验
	req.IsActive = boolPtr(false)
	result, err := svc.Create(context.Background(), req, "")
	if err != nil {
		t.Fatalf("isActive=false 时应成功: %v", err)
	}
	if result.IsActive {
		t.Error("期望 IsActive=false")
	}
}

func TestStageService_Create_SharedEndpointOverlaps(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)

	req := validCreateReq()
	req.Order = 2
	req.StartDate = "2024-03-31"
	req.EndDate = "2024-04-30"
	if _, err := svc.Create(context.Background(), req, ""); !errors.Is(err, ErrStageDateOverlap) {
		t.Errorf("共享端点应视为重叠，实际: %v", err)
	}

	req.StartDate = "2024-04-01"
	if _, err := svc.Create(context.Background(), req, ""); err != nil {
		t.Errorf("紧邻的下一天不应重叠: %v", err)
	}
}

// 时间戳带时区偏移时仍按日历日比较
func TestStageService_Create_TimestampInputsUseCalendarDay(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)

	req := validCreateReq()
	req.Order = 2
	req.StartDate = "2024-04-01T00:30:00+05:00"
	req.EndDate = "2024-06-30T23:00:00-05:00"
	result, err := svc.Create(context.Background(), req, "")
	if err != nil {
		t.Fatalf("Create 应成功: %v", err)
	}
	if !strings.HasPrefix(result.StartDate, "2024-04-01") || !strings.HasPrefix(result.EndDate, "2024-06-30") {
		t.Errorf("应保留请求中的日历日，实际 start=%s end=%s", result.StartDate, result.EndDate)
	}
}

func TestStageService_Create_StorageFailure(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.failErr = errors.New("connection refused")

	_, err := svc.Create(context.Background(), validCreateReq(), "")
	if err == nil || errors.Is(err, ErrStageDuplicateOrder) {
		t.Errorf("存储失败应原样返回，实际: %v", err)
	}
}

// ── GetByID / List 测试 ──

func TestStageService_GetByID_NotFound(t *testing.T) {
	svc, _ := setupTestStageService()

	_, err := svc.GetByID(context.Background(), "nonexistent", time.Now())
	if !errors.Is(err, ErrStageNotFound) {
		t.Errorf("期望 ErrStageNotFound，实际: %v", err)
	}
}

func TestStageService_List_SortedByOrder(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s3", "S3", 3, "2024-07-01", "2024-09-30", true)
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)
	repo.seed("s2", "S2", 2, "2024-04-01", "2024-06-30", false)

	list, err := svc.List(context.Background(), at("2024-05-01"))
	if err != nil {
		t.Fatalf("List 应成功: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("期望 3 条，实际 %d", len(list))
	}
	for i, want := range []string{"S1", "S2", "S3"} {
		if list[i].Name != want {
			t.Errorf("位置 %d 期望 %s，实际 %s", i, want, list[i].Name)
		}
	}
	if !list[0].IsCompleted || list[1].IsCurrentStage || !list[2].IsUpcoming {
		t.Errorf("派生状态不正确: %+v", list)
	}
}

func TestStageService_List_Empty(t *testing.T) {
	svc, _ := setupTestStageService()

	list, err := svc.List(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("List 应成功: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("空集合应返回空切片而不是 nil: %v", list)
	}
}

// ── GetCurrent 测试 ──

func TestStageService_GetCurrent_Scenario(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)
	repo.seed("s2", "S2", 2, "2024-04-01", "2024-06-30", true)
	ctx := context.Background()

	cur, err := svc.GetCurrent(ctx, at("2024-02-15"))
	if err != nil {
		t.Fatalf("GetCurrent 应成功: %v", err)
	}
	if cur.CurrentStage == nil || cur.CurrentStage.ID != "s1" || cur.AllCompleted {
		t.Errorf("2024-02-15 应返回 S1: %+v", cur)
	}

	cur, _ = svc.GetCurrent(ctx, at("2024-07-15"))
	if cur.CurrentStage != nil || !cur.AllCompleted {
		t.Errorf("2024-07-15 应全部结束: %+v", cur)
	}

	cur, _ = svc.GetCurrent(ctx, at("2023-12-01"))
	if cur.CurrentStage != nil || cur.AllCompleted {
		t.Errorf("2023-12-01 尚未开始: %+v", cur)
	}
}

func TestStageService_GetCurrent_EndDayInclusive(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)

	cur, _ := svc.GetCurrent(context.Background(), at("2024-03-31T23:59:00Z"))
	if cur.CurrentStage == nil || cur.CurrentStage.ID != "s1" {
		t.Errorf("结束日当天仍属于当前阶段: %+v", cur)
	}
}

// 结束日最后一纳秒仍按日历日属于当前阶段
func TestStageService_GetCurrent_EndDayLastInstant(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-04-01", "2024-06-30", true)

	now := time.Date(2024, 6, 30, 23, 59, 59, 999999900, time.UTC)
	cur, err := svc.GetCurrent(context.Background(), now)
	if err != nil {
		t.Fatalf("GetCurrent 失败: %v", err)
	}
	if cur.CurrentStage == nil || cur.CurrentStage.ID != "s1" {
		t.Fatalf("期望当前阶段为 s1，实际: %+v", cur)
	}
	if cur.AllCompleted {
		t.Error("结束日当天不应判定为全部结束")
	}
	if !cur.CurrentStage.IsCurrentStage || cur.CurrentStage.IsCompleted {
		t.Errorf("派生状态应为进行中: %+v", cur.CurrentStage)
	}
}

func TestStageService_GetCurrent_GapBetweenStages(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-02-28", true)
	repo.seed("s2", "S2", 2, "2024-04-01", "2024-06-30", true)

	cur, _ := svc.GetCurrent(context.Background(), at("2024-03-15"))
	if cur.CurrentStage != nil || cur.AllCompleted {
		t.Errorf("阶段间隙期既无当前阶段也未全部结束: %+v", cur)
	}
}

func TestStageService_GetCurrent_InactiveIgnored(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", false)

	cur, _ := svc.GetCurrent(context.Background(), at("2024-02-15"))
	if cur.CurrentStage != nil {
		t.Errorf("未启用阶段不能作为当前阶段: %+v", cur)
	}
}

func TestStageService_GetCurrent_Empty(t *testing.T) {
	svc, _ := setupTestStageService()

	cur, err := svc.GetCurrent(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("空集合不应报错: %v", err)
	}
	if cur.CurrentStage != nil || cur.AllCompleted {
		t.Errorf("空集合应返回 {nil,false}: %+v", cur)
	}
}

// ── Update 测试 ──

func TestStageService_Update_PartialFields(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)

	result, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{
		Name: strPtr("  Anteproyecto "),
	}, "admin-001")
	if err != nil {
		t.Fatalf("Update 应成功: %v", err)
	}
	if result.Name != "Anteproyecto" {
		t.Errorf("期望 Name=Anteproyecto，实际=%s", result.Name)
	}
	if result.Percentage != "25%" || result.Order != 1 || !strings.HasPrefix(result.EndDate, "2024-03-31") {
		t.Errorf("未提供的字段不应变化: %+v", result)
	}
	if result.Version != 2 {
		t.Errorf("期望 Version=2，实际=%d", result.Version)
	}
	if got := repo.stages["s1"].UpdatedBy; got == nil || *got != "admin-001" {
		t.Errorf("应记录更新人")
	}
}

func TestStageService_Update_EmptyIsNoop(t *testing.T) {
	svc, repo := setupTestStageService()
	before := repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)

	result, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{}, "")
	if err != nil {
		t.Fatalf("空更新应成功: %v", err)
	}
	if repo.writes != 0 {
		t.Errorf("空更新不应写入，实际写入 %d 次", repo.writes)
	}
	after := repo.stages["s1"]
	if after.Name != before.Name || after.Version != before.Version || !after.EndDate.Equal(before.EndDate) {
		t.Errorf("记录不应变化: before=%+v after=%+v", before, after)
	}
	if result.ID != "s1" {
		t.Errorf("应返回原记录: %+v", result)
	}
}

func TestStageService_Update_NotFound(t *testing.T) {
	svc, _ := setupTestStageService()

	_, err := svc.Update(context.Background(), "nonexistent", &dto.UpdateStageRequest{Name: strPtr("x")}, "")
	if !errors.Is(err, ErrStageNotFound) {
		t.Errorf("期望 ErrStageNotFound，实际: %v", err)
	}
}

func TestStageService_Update_DuplicateOrderExcludesSelf(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)
	repo.seed("s2", "S2", 2, "2024-04-01", "2024-06-30", true)

	// 提交自身当前 order 不算冲突
	if _, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{Order: intPtr(1)}, ""); err != nil {
		t.Errorf("order 未变化不应冲突: %v", err)
	}

	_, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{Order: intPtr(2)}, "")
	if !errors.Is(err, ErrStageDuplicateOrder) {
		t.Errorf("期望 ErrStageDuplicateOrder，实际: %v", err)
	}
}

func TestStageService_Update_EffectiveDateRange(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)

	// 仅修改开始日期，使其晚于原结束日期
	_, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{StartDate: strPtr("2024-04-01")}, "")
	if !errors.Is(err, ErrStageDateInvalid) {
		t.Errorf("期望 ErrStageDateInvalid，实际: %v", err)
	}
	if repo.writes != 0 {
		t.Errorf("校验失败不应写入")
	}

	result, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{EndDate: strPtr("2024-02-15")}, "")
	if err != nil {
		t.Fatalf("缩短结束日期应成功: %v", err)
	}
	if !strings.HasPrefix(result.StartDate, "2024-01-01") || !strings.HasPrefix(result.EndDate, "2024-02-15") {
		t.Errorf("有效区间不正确: %s..%s", result.StartDate, result.EndDate)
	}
}

func TestStageService_Update_OverlapExcludesSelf(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)
	repo.seed("s2", "S2", 2, "2024-04-01", "2024-06-30", true)

	// 在自身区间内调整不应与自身冲突
	if _, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{EndDate: strPtr("2024-03-30")}, ""); err != nil {
		t.Errorf("自身不参与重叠校验: %v", err)
	}

	_, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{EndDate: strPtr("2024-04-10")}, "")
	if !errors.Is(err, ErrStageDateOverlap) {
		t.Fatalf("期望 ErrStageDateOverlap，实际: %v", err)
	}
	var ce *StageConflictError
	if errors.As(err, &ce) && ce.StageID != "s2" {
		t.Errorf("冲突阶段应为 s2，实际 %s", ce.StageID)
	}
	if !strings.HasPrefix(repo.stages["s1"].EndDate.Format("2006-01-02"), "2024-03-30") {
		t.Errorf("失败的更新不应改变原记录")
	}
}

func TestStageService_Update_ActivationChecksOverlap(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)
	repo.seed("s2", "S2", 2, "2024-03-15", "2024-04-15", false)

	_, err := svc.Update(context.Background(), "s2", &dto.UpdateStageRequest{IsActive: boolPtr(true)}, "")
	if !errors.Is(err, ErrStageDateOverlap) {
		t.Errorf("启用重叠阶段应被拒绝，实际: %v", err)
	}

	// 保持未启用时可以自由修改日期
	if _, err := svc.Update(context.Background(), "s2", &dto.UpdateStageRequest{EndDate: strPtr("2024-05-01")}, ""); err != nil {
		t.Errorf("未启用阶段修改日期应成功: %v", err)
	}
}

func TestStageService_Update_VersionConflict(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)

	_, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{Name: strPtr("x"), Version: intPtr(5)}, "")
	if !errors.Is(err, ErrStageVersionConflict) {
		t.Errorf("期望 ErrStageVersionConflict，实际: %v", err)
	}

	if _, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{Name: strPtr("x"), Version: intPtr(1)}, ""); err != nil {
		t.Errorf("版本一致时应成功: %v", err)
	}
}

func TestStageService_Update_BlankNameRejected(t *testing.T) {
	svc, _ := setupTestStageService()

	_, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{Name: strPtr("  ")}, "")
	if !errors.Is(err, ErrStageMissingField) {
		t.Errorf("期望 ErrStageMissingField，实际: %v", err)
	}
}

func TestStageService_Update_NameLengthAfterTrim(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)

	padded := " " + strings.Repeat("b", 100) + " "
	if _, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{Name: &padded}, ""); err != nil {
		t.Errorf("去除空白后 100 字符应合法: %v", err)
	}

	long := strings.Repeat("b", 101)
	_, err := svc.Update(context.Background(), "s1", &dto.UpdateStageRequest{Name: &long}, "")
	if !errors.Is(err, ErrStageInvalidField) {
		t.Errorf("期望 ErrStageInvalidField，实际: %v", err)
	}
}

// 日期格式错误与 order 重复同时出现时先报告 order 重复
func TestStageService_Update_DuplicateOrderBeforeBadDate(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)
	repo.seed("s2", "S2", 2, "2024-04-01", "2024-06-30", true)

	_, err := svc.Update(context.Background(), "s2", &dto.UpdateStageRequest{
		Order:     intPtr(1),
		StartDate: strPtr("not-a-date"),
	}, "")
	if !errors.Is(err, ErrStageDuplicateOrder) {
		t.Errorf("期望 ErrStageDuplicateOrder，实际: %v", err)
	}
}

// ── 存储层兜底冲突 ──

// 并发写入绕过前置校验时，排他约束冲突仍需指明冲突阶段
func TestStageService_Create_StorageOverlapNamesConflictingStage(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.beforeCreate = func() error {
		repo.beforeCreate = nil
		repo.seed("s9", "Concurrente", 9, "2024-02-01", "2024-02-28", true)
		return pkgerrors.ErrExclusionViolation
	}

	_, err := svc.Create(context.Background(), validCreateReq(), "")
	if !errors.Is(err, ErrStageDateOverlap) {
		t.Fatalf("期望 ErrStageDateOverlap，实际: %v", err)
	}
	var ce *StageConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("期望 *StageConflictError，实际: %T", err)
	}
	if ce.StageID != "s9" || ce.StageName != "Concurrente" || ce.Range != "2024-02-01..2024-02-28" {
		t.Errorf("冲突错误应指明对方阶段: %+v", ce)
	}
	if !strings.Contains(err.Error(), "Concurrente") {
		t.Errorf("错误信息应包含冲突阶段名称: %v", err)
	}
}

func TestStageService_Create_StorageDuplicateOrderNamesConflictingStage(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.beforeCreate = func() error {
		repo.beforeCreate = nil
		repo.seed("s7", "Ganador", 1, "2030-01-01", "2030-02-01", false)
		return pkgerrors.ErrUniqueViolation
	}

	_, err := svc.Create(context.Background(), validCreateReq(), "")
	var ce *StageConflictError
	if !errors.As(err, &ce) || !errors.Is(err, ErrStageDuplicateOrder) {
		t.Fatalf("期望顺序冲突，实际: %v", err)
	}
	if ce.StageID != "s7" || ce.StageName != "Ganador" {
		t.Errorf("冲突错误应指明占用该 order 的阶段: %+v", ce)
	}
}

// ── Delete 测试 ──

func TestStageService_Delete_ThenNotFound(t *testing.T) {
	svc, repo := setupTestStageService()
	repo.seed("s1", "S1", 1, "2024-01-01", "2024-03-31", true)
	ctx := context.Background()

	deleted, err := svc.Delete(ctx, "s1")
	if err != nil {
		t.Fatalf("Delete 应成功: %v", err)
	}
	if deleted.ID != "s1" || deleted.Name != "S1" {
		t.Errorf("应返回被删除的记录: %+v", deleted)
	}

	if _, err := svc.GetByID(ctx, "s1", time.Now()); !errors.Is(err, ErrStageNotFound) {
		t.Errorf("删除后期望 ErrStageNotFound，实际: %v", err)
	}
	if _, err := svc.Delete(ctx, "s1"); !errors.Is(err, ErrStageNotFound) {
		t.Errorf("重复删除期望 ErrStageNotFound，实际: %v", err)
	}
}

// ── 不变量 ──

// 并发创建互相重叠的阶段，最多只有一个成功
func TestStageService_ConcurrentCreates_KeepInvariant(t *testing.T) {
	svc, repo := setupTestStageService()

	var wg sync.WaitGroup
	for i := 1; i <= 8; i++ {
		wg.Add(1)
		go func(order int) {
			defer wg.Done()
			req := validCreateReq()
			req.Order = order
			_, _ = svc.Create(context.Background(), req, "")
		}(i)
	}
	wg.Wait()

	active, _ := repo.ListActive(context.Background(), "")
	if len(active) != 1 {
		t.Fatalf("期望仅 1 个启用阶段，实际 %d", len(active))
	}
}

func TestStageService_SequentialWrites_NoOverlapNoDuplicateOrder(t *testing.T) {
	svc, repo := setupTestStageService()
	ctx := context.Background()

	inputs := []struct {
		order      int
		start, end string
	}{
		{1, "2024-01-01", "2024-01-31"},
		{2, "2024-01-15", "2024-02-15"},
		{2, "2024-02-01", "2024-02-28"},
		{3, "2024-02-20", "2024-03-10"},
		{1, "2024-04-01", "2024-04-30"},
		{4, "2024-03-01", "2024-03-31"},
	}
	for _, in := range inputs {
		req := validCreateReq()
		req.Order, req.StartDate, req.EndDate = in.order, in.start, in.end
		_, _ = svc.Create(ctx, req, "")
	}

	all, _ := repo.List(ctx)
	seen := map[int]bool{}
	for i := range all {
		if seen[all[i].SortOrder] {
			t.Errorf("order %d 重复", all[i].SortOrder)
		}
		seen[all[i].SortOrder] = true
		for j := i + 1; j < len(all); j++ {
			if all[i].IsActive && all[j].IsActive && all[i].Range().Overlaps(all[j].Range()) {
				t.Errorf("启用阶段 %s 与 %s 重叠", all[i].Range(), all[j].Range())
			}
		}
	}
	if len(all) != 3 {
		t.Errorf("期望 3 条成功写入，实际 %d", len(all))
	}
}
