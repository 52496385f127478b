package service

import (
	"time"

	"go.uber.org/zap"

	"capstone-hub/backend/config"
	"capstone-hub/backend/internal/repository"
	"capstone-hub/backend/pkg/redis"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Stage  StageService
	Export ExportService
}

// NewService 创建 Service 聚合，rdb 为 nil 时写锁退化为进程内锁
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	rdb *redis.Client,
	logger *zap.Logger,
) *Service {
	var lc lockClient
	if rdb != nil {
		lc = rdb
	}
	locker := NewWriteLocker(lc, cfg.Feature.WriteLockTTL, logger.Named("lock"))

	loc, err := time.LoadLocation(cfg.Server.Timezone)
	if err != nil {
		loc = time.UTC
	}

	return &Service{
		Stage:  NewStageService(repo, locker, logger.Named("stage")),
		Export: NewExportService(repo, loc, logger.Named("export")),
	}
}
