package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"capstone-hub/backend/config"
	"capstone-hub/backend/internal/api/handler"
	"capstone-hub/backend/internal/api/middleware"
	"capstone-hub/backend/pkg/jwt"
	"capstone-hub/backend/pkg/redis"
)

// HealthCheck 依赖探活，返回 nil 表示健康
type HealthCheck func(ctx context.Context) error

// Setup 初始化并返回 Gin 路由引擎
func Setup(
	cfg *config.Config,
	h *handler.Handler,
	jwtMgr *jwt.Manager,
	rdb *redis.Client,
	health HealthCheck,
	logger *zap.Logger,
) *gin.Engine {
	if cfg.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))
	r.Use(middleware.BodyLimit(cfg.Server.BodyLimit))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		if health != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := health(ctx); err != nil {
				logger.Warn("健康检查失败", zap.Error(err))
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── API v1 ──
	v1 := r.Group("/api/v1")
	{
		// 阶段模块：读接口公开（学生端展示当前阶段）
		stages := v1.Group("/stages")
		{
			stages.GET("", h.Stage.ListStages)
			stages.GET("/current", h.Stage.GetCurrentStage)
			stages.GET("/export", h.Export.ExportStages)
			stages.GET("/calendar.ics", h.Export.StageCalendar)
			stages.GET("/:id", h.Stage.GetStage)
		}

		// 写接口：启用认证时要求管理员角色
		writes := v1.Group("/stages")
		if cfg.Auth.Enabled {
			writes.Use(middleware.JWTAuth(jwtMgr, rdb))
			writes.Use(middleware.RoleAuth(cfg.Auth.AdminRoles...))
		}
		if cfg.Feature.RateLimitEnabled {
			writes.Use(middleware.RateLimit(rdb, cfg.Feature.RateLimit, cfg.Feature.RateLimitWindow))
		}
		{
			writes.POST("", h.Stage.CreateStage)
			writes.PUT("/:id", h.Stage.UpdateStage)
			writes.DELETE("/:id", h.Stage.DeleteStage)
		}
	}

	return r
}
