package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	ics "github.com/arran4/golang-ical"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"capstone-hub/backend/internal/model"
	"capstone-hub/backend/internal/repository"
)

// ── 导出模块业务错误 ──

var (
	ErrExportGenerateFail = errors.New("生成导出文件失败")
)

const (
	calendarProductID = "-//capstone-hub//stages//ES"
	calendarName      = "Etapas del proyecto de grado"
)

// ExportService 导出业务接口
//
//   - Excel：全部阶段一张表，状态列基于参考时刻 now 计算
//   - iCalendar：仅启用阶段，每个阶段一个全天事件，可被日历客户端订阅
type ExportService interface {
	// ExportStagesExcel 导出阶段表为 Excel，返回内容与建议文件名
	ExportStagesExcel(ctx context.Context, now time.Time) (*bytes.Buffer, string, error)
	// ExportStagesICS 导出启用阶段为 iCalendar
	ExportStagesICS(ctx context.Context) ([]byte, error)
}

type exportService struct {
	repo   *repository.Repository
	loc    *time.Location
	logger *zap.Logger
}

// NewExportService 创建 ExportService 实例，loc 为表格中日期的展示时区
func NewExportService(repo *repository.Repository, loc *time.Location, logger *zap.Logger) ExportService {
	if loc == nil {
		loc = time.UTC
	}
	return &exportService{repo: repo, loc: loc, logger: logger}
}

// ═══════════════════════════════════════════════════════════
// ExportStagesExcel
// ═══════════════════════════════════════════════════════════
//
// 表头: | 顺序 | 名称 | 占比 | 开始日期 | 结束日期 | 天数 | 启用 | 状态 | 描述 |

func (s *exportService) ExportStagesExcel(ctx context.Context, now time.Time) (*bytes.Buffer, string, error) {
	stages, err := s.repo.Stage.List(ctx)
	if err != nil {
		s.logger.Error("查询阶段列表失败", zap.Error(err))
		return nil, "", err
	}

	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Etapas"
	idx, err := f.NewSheet(sheetName)
	if err != nil {
		s.logger.Error("创建 Sheet 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}
	f.SetActiveSheet(idx)
	_ = f.DeleteSheet("Sheet1")

	headers := []string{"Orden", "Nombre", "Porcentaje", "Inicio", "Fin", "Días", "Activa", "Estado", "Descripción"}
	widths := []float64{8, 28, 12, 12, 12, 8, 8, 12, 48}
	for i, w := range widths {
		_ = f.SetColWidth(sheetName, colName(i), colName(i), w)
	}

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	currentStyle, _ := f.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E2EFDA"}, Pattern: 1},
	})

	for i, h := range headers {
		_ = f.SetCellValue(sheetName, cell(colName(i), 1), h)
	}
	_ = f.SetCellStyle(sheetName, "A1", cell(colName(len(headers)-1), 1), headerStyle)

	for i := range stages {
		st := &stages[i]
		row := i + 2
		rng := st.Range()
		values := []interface{}{
			st.SortOrder,
			st.Name,
			st.Percentage,
			rng.Start.String(),
			rng.End.String(),
			rng.Days(),
			yesNo(st.IsActive),
			stageStatus(st, now),
			st.Description,
		}
		for c, v := range values {
			_ = f.SetCellValue(sheetName, cell(colName(c), row), v)
		}
		if st.IsCurrentAt(now) {
			_ = f.SetCellStyle(sheetName, cell("A", row), cell(colName(len(headers)-1), row), currentStyle)
		}
	}

	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("etapas_%s.xlsx", now.In(s.loc).Format("20060102"))
	return buf, filename, nil
}

// ═══════════════════════════════════════════════════════════
// ExportStagesICS
// ═══════════════════════════════════════════════════════════
//
// 全天事件的 DTEND 为不包含端点，因此取结束日的下一天。

func (s *exportService) ExportStagesICS(ctx context.Context) ([]byte, error) {
	stages, err := s.repo.Stage.ListActive(ctx, "")
	if err != nil {
		s.logger.Error("查询启用阶段失败", zap.Error(err))
		return nil, err
	}

	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId(calendarProductID)
	cal.SetXWRCalName(calendarName)

	stamp := time.Now().UTC()
	for i := range stages {
		st := &stages[i]
		rng := st.Range()

		event := cal.AddEvent(st.StageID + "@capstone-hub")
		event.SetSummary(fmt.Sprintf("%d. %s (%s)", st.SortOrder, st.Name, st.Percentage))
		if st.Description != "" {
			event.SetDescription(st.Description)
		}
		event.SetDtStampTime(stamp)
		event.SetModifiedAt(st.UpdatedAt.UTC())
		event.SetAllDayStartAt(rng.Start.StartOfDay(time.UTC))
		event.SetAllDayEndAt(rng.End.AddDays(1).StartOfDay(time.UTC))
	}

	return []byte(cal.Serialize()), nil
}

// ── 辅助函数 ──

func stageStatus(st *model.Stage, now time.Time) string {
	switch {
	case st.IsCurrentAt(now):
		return "En curso"
	case st.IsCompletedAt(now):
		return "Finalizada"
	case st.IsUpcomingAt(now):
		return "Próxima"
	default:
		return "Inactiva"
	}
}

func yesNo(b bool) string {
	if b {
		return "Sí"
	}
	return "No"
}

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}
