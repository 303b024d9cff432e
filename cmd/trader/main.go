package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trades-switch/internal/config"
	"trades-switch/internal/log"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "trader",
	Short: "信号驱动的永续合约仓位切换服务",
	Long: `trader 接收 BUY / SELL / BUY_STOP / SELL_STOP 信号，
按 profile 维护虚拟资金账本，并在交易所执行平仓、反手与开仓。`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "配置文件路径，默认使用 configs/config.yaml")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadRuntime() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("加载配置失败: %w", err)
	}
	logger, err := log.NewLogger(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	return cfg, logger, nil
}
