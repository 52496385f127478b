package handler

import (
	"capstone-hub/backend/internal/service"
	"capstone-hub/backend/pkg/validate"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Stage  *StageHandler
	Export *ExportHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service) *Handler {
	// 与 Gin 绑定共用校验器，字段错误使用 JSON 字段名
	v, err := validate.FromGin()
	if err != nil {
		v = validate.New()
	}
	return &Handler{
		Stage:  NewStageHandler(svc.Stage, v),
		Export: NewExportHandler(svc.Export),
	}
}
