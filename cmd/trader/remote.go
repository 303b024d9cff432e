package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"trades-switch/internal/client"
	"trades-switch/internal/config"
)

var remoteOpts struct {
	addr    string
	profile string
	symbol  string
	action  string
	all     bool
	timeout time.Duration
}

var signalCmd = &cobra.Command{
	Use:   "signal",
	Short: "向运行中的服务发送动作信号",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := remoteProfile()
		if err != nil {
			return err
		}
		resp, err := newRemoteClient().Signal(cmd.Context(), profile.WebhookPath, remoteOpts.symbol, remoteOpts.action)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "查询运行中服务的资金报告",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := remoteProfile()
		if err != nil {
			return err
		}
		c := newRemoteClient()
		if remoteOpts.all {
			reports, err := c.ReportAll(cmd.Context(), profile.ReportPath)
			if err != nil {
				return err
			}
			return printJSON(reports)
		}
		rep, err := c.Report(cmd.Context(), profile.ReportPath, remoteOpts.symbol)
		if err != nil {
			return err
		}
		return printJSON(rep)
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "以当前资金为基准重置账本",
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := remoteProfile()
		if err != nil {
			return err
		}
		result, err := newRemoteClient().Reset(cmd.Context(), profile.ReportPath, remoteOpts.symbol)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

func init() {
	for _, cmd := range []*cobra.Command{signalCmd, reportCmd, resetCmd} {
		cmd.Flags().StringVar(&remoteOpts.addr, "addr", "http://127.0.0.1:8000", "服务地址")
		cmd.Flags().StringVar(&remoteOpts.profile, "profile", "webhook1", "profile 名称")
		cmd.Flags().StringVar(&remoteOpts.symbol, "symbol", "", "交易对，例如 ETH/USDT")
		cmd.Flags().DurationVar(&remoteOpts.timeout, "timeout", 30*time.Second, "请求超时")
		rootCmd.AddCommand(cmd)
	}
	signalCmd.Flags().StringVar(&remoteOpts.action, "action", "", "BUY / SELL / BUY_STOP / SELL_STOP")
	_ = signalCmd.MarkFlagRequired("symbol")
	_ = signalCmd.MarkFlagRequired("action")
	reportCmd.Flags().BoolVar(&remoteOpts.all, "all", false, "输出 profile 下全部交易对")
	_ = resetCmd.MarkFlagRequired("symbol")
}

// remoteProfile 只读取路径配置，不要求本地具备交易所凭证。
func remoteProfile() (config.ProfileConfig, error) {
	profiles, err := config.LoadProfiles(configPath)
	if err != nil {
		return config.ProfileConfig{}, err
	}
	cfg := config.Config{Profiles: profiles}
	profile, ok := cfg.Profile(remoteOpts.profile)
	if !ok {
		return config.ProfileConfig{}, fmt.Errorf("未知 profile %q", remoteOpts.profile)
	}
	return profile, nil
}

func newRemoteClient() *client.Client {
	return client.New(remoteOpts.addr, remoteOpts.timeout)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
