package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trades-switch/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 webhook 服务与每日报告",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tradingApp, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("初始化系统失败", zap.Error(err))
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := tradingApp.Run(ctx); err != nil {
		logger.Error("系统运行异常", zap.Error(err))
		return err
	}

	logger.Info("系统已安全退出")
	return nil
}
