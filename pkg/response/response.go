package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response 统一响应结构
// reason 为机器可读的错误标识（如 DUPLICATE_ORDER），供前端分支处理
type Response struct {
	Code    int               `json:"code"`
	Message string            `json:"message"`
	Reason  string            `json:"reason,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Details string            `json:"details,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// ── 成功响应 ──

// OK 200 成功响应
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// Created 201 创建成功
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// ── 错误响应 ──

// Error 通用错误响应
func Error(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
	})
}

// Fail 带 reason 的业务错误响应
func Fail(c *gin.Context, httpStatus int, code int, reason, message, details string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Reason:  reason,
		Details: details,
	})
}

// ValidationFailed 400 字段级校验失败
func ValidationFailed(c *gin.Context, code int, reason, message string, fields map[string]string) {
	c.JSON(http.StatusBadRequest, Response{
		Code:    code,
		Message: message,
		Reason:  reason,
		Fields:  fields,
	})
}

// ── 常见快捷方式 ──

// BadRequest 400
func BadRequest(c *gin.Context, code int, message string) {
	Error(c, http.StatusBadRequest, code, message)
}

// Unauthorized 401
func Unauthorized(c *gin.Context, code int, message string) {
	Error(c, http.StatusUnauthorized, code, message)
}

// Forbidden 403
func Forbidden(c *gin.Context, code int, message string) {
	Error(c, http.StatusForbidden, code, message)
}

// TooManyRequests 429
func TooManyRequests(c *gin.Context, code int, message string) {
	Error(c, http.StatusTooManyRequests, code, message)
}

// InternalError 500
func InternalError(c *gin.Context) {
	Error(c, http.StatusInternalServerError, 50000, "服务器内部错误")
}
