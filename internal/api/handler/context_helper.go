package handler

import "github.com/gin-gonic/gin"

// GetUserID 从 Gin 上下文中提取 JWT 中间件注入的 user_id。
// 未启用认证时返回空串，审计字段随之留空。
func GetUserID(c *gin.Context) string {
	v, exists := c.Get("user_id")
	if !exists {
		return ""
	}
	s, _ := v.(string)
	return s
}
