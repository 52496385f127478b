package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"capstone-hub/backend/config"
	"capstone-hub/backend/internal/repository"
	"capstone-hub/backend/internal/service"
	"capstone-hub/backend/pkg/database"
	applogger "capstone-hub/backend/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:           "stagectl",
	Short:         "Operator CLI for the capstone-hub stage service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute 运行根命令
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log at debug level")
}

// app 命令执行期间的依赖
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
	svc    *service.Service
}

// openApp 加载配置并连接数据库；CLI 不连接 Redis，写锁使用进程内锁
func openApp(cmd *cobra.Command) (*app, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	logCfg := cfg.Log
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = "warn"
	}
	logCfg.Format = "console"
	logger, err := applogger.NewLogger(&logCfg)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDB(&cfg.Database, logCfg.Level, logger)
	if err != nil {
		return nil, err
	}

	repo := repository.NewRepository(db)
	return &app{
		cfg:    cfg,
		logger: logger,
		db:     db,
		svc:    service.NewService(cfg, repo, nil, logger),
	}, nil
}

func (a *app) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
