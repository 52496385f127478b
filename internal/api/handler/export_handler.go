package handler

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"capstone-hub/backend/internal/service"
	"capstone-hub/backend/pkg/response"
)

const (
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	calendarContentType = "text/calendar; charset=utf-8"
)

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	exportSvc service.ExportService
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(exportSvc service.ExportService) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc}
}

// ExportStages 导出阶段表
// GET /api/v1/stages/export?at=2024-02-15
func (h *ExportHandler) ExportStages(c *gin.Context) {
	now, ok := referenceTime(c)
	if !ok {
		return
	}

	buf, filename, err := h.exportSvc.ExportStagesExcel(c.Request.Context(), now)
	if err != nil {
		response.InternalError(c)
		return
	}

	// 设置下载响应头
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// StageCalendar 启用阶段的 iCalendar 订阅源
// GET /api/v1/stages/calendar.ics
func (h *ExportHandler) StageCalendar(c *gin.Context) {
	data, err := h.exportSvc.ExportStagesICS(c.Request.Context())
	if err != nil {
		response.InternalError(c)
		return
	}

	c.Header("Content-Disposition", `inline; filename="etapas.ics"`)
	c.Header("Cache-Control", "public, max-age="+cacheSeconds(15*time.Minute))
	c.Data(http.StatusOK, calendarContentType, data)
}
