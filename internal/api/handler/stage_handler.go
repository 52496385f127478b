package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"capstone-hub/backend/internal/dto"
	"capstone-hub/backend/internal/service"
	"capstone-hub/backend/pkg/daterange"
	"capstone-hub/backend/pkg/response"
	"capstone-hub/backend/pkg/validate"
)

// 阶段模块错误原因，前端据此分支处理
const (
	ReasonNotFound         = "NOT_FOUND"
	ReasonMissingField     = "MISSING_FIELD"
	ReasonInvalidField     = "INVALID_FIELD"
	ReasonInvalidDateRange = "INVALID_DATE_RANGE"
	ReasonDuplicateOrder   = "DUPLICATE_ORDER"
	ReasonDateOverlap      = "DATE_OVERLAP"
	ReasonVersionConflict  = "VERSION_CONFLICT"
	ReasonInvalidReference = "INVALID_REFERENCE_TIME"
	ReasonLockTimeout      = "LOCK_TIMEOUT"
)

// StageHandler 阶段模块 HTTP 处理器
type StageHandler struct {
	stageSvc  service.StageService
	validator *validate.Validator
}

// NewStageHandler 创建 StageHandler
func NewStageHandler(stageSvc service.StageService, v *validate.Validator) *StageHandler {
	return &StageHandler{stageSvc: stageSvc, validator: v}
}

// ListStages 获取阶段列表（按 order 升序）
// GET /api/v1/stages
func (h *StageHandler) ListStages(c *gin.Context) {
	now, ok := referenceTime(c)
	if !ok {
		return
	}

	stages, err := h.stageSvc.List(c.Request.Context(), now)
	if err != nil {
		response.InternalError(c)
		return
	}

	response.OK(c, gin.H{"list": stages})
}

// GetCurrentStage 获取当前阶段
// GET /api/v1/stages/current?at=2024-02-15
func (h *StageHandler) GetCurrentStage(c *gin.Context) {
	now, ok := referenceTime(c)
	if !ok {
		return
	}

	result, err := h.stageSvc.GetCurrent(c.Request.Context(), now)
	if err != nil {
		h.handleStageError(c, err)
		return
	}

	response.OK(c, result)
}

// GetStage 获取阶段详情
// GET /api/v1/stages/:id
func (h *StageHandler) GetStage(c *gin.Context) {
	now, ok := referenceTime(c)
	if !ok {
		return
	}

	stage, err := h.stageSvc.GetByID(c.Request.Context(), c.Param("id"), now)
	if err != nil {
		h.handleStageError(c, err)
		return
	}

	response.OK(c, stage)
}

// CreateStage 创建阶段
// POST /api/v1/stages
func (h *StageHandler) CreateStage(c *gin.Context) {
	var req dto.CreateStageRequest
	if !h.bindJSON(c, &req) {
		return
	}

	stage, err := h.stageSvc.Create(c.Request.Context(), &req, GetUserID(c))
	if err != nil {
		h.handleStageError(c, err)
		return
	}

	response.Created(c, stage)
}

// UpdateStage 部分更新阶段
// PUT /api/v1/stages/:id
func (h *StageHandler) UpdateStage(c *gin.Context) {
	var req dto.UpdateStageRequest
	if !h.bindJSON(c, &req) {
		return
	}

	stage, err := h.stageSvc.Update(c.Request.Context(), c.Param("id"), &req, GetUserID(c))
	if err != nil {
		h.handleStageError(c, err)
		return
	}

	response.OK(c, stage)
}

// DeleteStage 删除阶段，返回被删除的记录
// DELETE /api/v1/stages/:id
func (h *StageHandler) DeleteStage(c *gin.Context) {
	stage, err := h.stageSvc.Delete(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleStageError(c, err)
		return
	}

	response.OK(c, stage)
}

// bindJSON 解析请求体；校验失败时输出字段级错误
func (h *StageHandler) bindJSON(c *gin.Context, req interface{}) bool {
	err := c.ShouldBindJSON(req)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		response.Error(c, http.StatusRequestEntityTooLarge, 10005, "请求体过大")
		return false
	}

	fields := h.validator.Fields(err)
	if fields == nil {
		response.BadRequest(c, 10001, "请求体不是合法的 JSON")
		return false
	}
	first := h.validator.FirstField(err)
	if validate.HasTag(err, "required") {
		response.ValidationFailed(c, 15002, ReasonMissingField, "缺少必填字段: "+first, fields)
	} else {
		response.ValidationFailed(c, 15007, ReasonInvalidField, "阶段字段不合法: "+first, fields)
	}
	return false
}

// handleStageError 统一处理阶段模块业务错误
func (h *StageHandler) handleStageError(c *gin.Context, err error) {
	var ve *service.StageValidationError
	if errors.As(err, &ve) {
		switch {
		case errors.Is(err, service.ErrStageMissingField):
			response.ValidationFailed(c, 15002, ReasonMissingField, "缺少必填字段", ve.Fields)
		case errors.Is(err, service.ErrStageDateInvalid):
			response.ValidationFailed(c, 15003, ReasonInvalidDateRange, "阶段日期无效", ve.Fields)
		default:
			response.ValidationFailed(c, 15007, ReasonInvalidField, "阶段字段不合法", ve.Fields)
		}
		return
	}

	switch {
	case errors.Is(err, service.ErrStageNotFound):
		response.Fail(c, http.StatusNotFound, 15001, ReasonNotFound, "阶段不存在", "")
	case errors.Is(err, service.ErrStageDuplicateOrder):
		response.Fail(c, http.StatusBadRequest, 15004, ReasonDuplicateOrder, "阶段顺序重复", err.Error())
	case errors.Is(err, service.ErrStageDateOverlap):
		response.Fail(c, http.StatusBadRequest, 15005, ReasonDateOverlap, "阶段日期与已有启用阶段重叠", err.Error())
	case errors.Is(err, service.ErrStageVersionConflict):
		response.Fail(c, http.StatusConflict, 15006, ReasonVersionConflict, "阶段已被修改，请刷新后重试", "")
	case errors.Is(err, service.ErrLockTimeout):
		response.Fail(c, http.StatusServiceUnavailable, 15009, ReasonLockTimeout, "系统繁忙，请稍后重试", "")
	default:
		response.InternalError(c)
	}
}

// referenceTime 解析 ?at= 参考时刻（ISO 日期取当日正午 UTC，或 RFC 3339 时间戳），缺省为当前时间
func referenceTime(c *gin.Context) (time.Time, bool) {
	raw := strings.TrimSpace(c.Query("at"))
	if raw == "" {
		return time.Now(), true
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, true
	}
	if d, err := time.Parse(daterange.DateLayout, raw); err == nil {
		return d.Add(12 * time.Hour), true
	}
	response.Fail(c, http.StatusBadRequest, 15008, ReasonInvalidReference, "参数 at 必须为 ISO-8601 日期或时间戳", raw)
	return time.Time{}, false
}

func cacheSeconds(d time.Duration) string {
	return strconv.Itoa(int(d / time.Second))
}
