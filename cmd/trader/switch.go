package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"trades-switch/internal/app"
	"trades-switch/internal/exchange"
	"trades-switch/internal/execution"
)

var switchOpts struct {
	symbol  string
	action  string
	profile string
	mark    float64
}

var switchCmd = &cobra.Command{
	Use:   "switch",
	Short: "在当前进程内执行一次仓位切换并输出结果",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		profile, ok := cfg.Profile(switchOpts.profile)
		if !ok {
			return fmt.Errorf("未知 profile %q", switchOpts.profile)
		}

		tradingApp, err := app.New(cfg, logger)
		if err != nil {
			return err
		}
		if sim, ok := tradingApp.Simulator(); ok && switchOpts.mark > 0 {
			sim.SetMarkPrice(exchange.NormalizeSymbol(switchOpts.symbol), switchOpts.mark)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		result, err := tradingApp.Trader().Switch(ctx, execution.Request{
			Symbol:    switchOpts.symbol,
			Action:    switchOpts.action,
			Profile:   profile.Name,
			Leverage:  profile.Leverage,
			FixedBase: profile.UseInitialCapital,
		})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	switchCmd.Flags().StringVar(&switchOpts.symbol, "symbol", "", "交易对，例如 ETH/USDT")
	switchCmd.Flags().StringVar(&switchOpts.action, "action", "", "BUY / SELL / BUY_STOP / SELL_STOP")
	switchCmd.Flags().StringVar(&switchOpts.profile, "profile", "webhook1", "profile 名称")
	switchCmd.Flags().Float64Var(&switchOpts.mark, "mark", 0, "模拟撮合模式下使用的标记价格")
	_ = switchCmd.MarkFlagRequired("symbol")
	_ = switchCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(switchCmd)
}
