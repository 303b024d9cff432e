package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Profiles  []ProfileConfig `mapstructure:"profiles"`
	Server    ServerConfig    `mapstructure:"server"`
	Report    ReportConfig    `mapstructure:"report"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

// ExchangeConfig 描述交易所连接信息。
type ExchangeConfig struct {
	Name            string      `mapstructure:"name"`
	APIKey          string      `mapstructure:"api_key"`
	APISecret       string      `mapstructure:"api_secret"`
	UseSandbox      bool        `mapstructure:"use_sandbox"`
	Simulation      bool        `mapstructure:"simulation"`
	QuoteCurrencies []string    `mapstructure:"quote_currencies"`
	Retry           RetryConfig `mapstructure:"retry"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// TradingConfig 控制仓位规模与手续费。
type TradingConfig struct {
	BuyPct         float64 `mapstructure:"buy_pct"`
	Leverage       int     `mapstructure:"leverage"`
	FeeRate        float64 `mapstructure:"fee_rate"`
	DryRun         bool    `mapstructure:"dry_run"`
	DefaultCapital float64 `mapstructure:"default_capital"`
}

// ReconcileConfig 控制平仓后等待交易所仓位同步的节奏。
// Strict 为 true 时，超时会中止后续的资金结算与反向开仓。
type ReconcileConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	MaxWait      time.Duration `mapstructure:"max_wait"`
	Strict       bool          `mapstructure:"strict"`
}

// ProfileConfig 描述一个独立记账的交易配置。
type ProfileConfig struct {
	Name              string `mapstructure:"name"`
	WebhookPath       string `mapstructure:"webhook_path"`
	ReportPath        string `mapstructure:"report_path"`
	Leverage          int    `mapstructure:"leverage"`
	UseInitialCapital bool   `mapstructure:"use_initial_capital"`
}

// ServerConfig 控制 HTTP 入口。
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ReportConfig 控制每日报告。
type ReportConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Hour    int  `mapstructure:"hour"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Location 返回配置的时区，解析失败时退回 UTC。
func (c AppConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Profile 按名称查找 profile 配置。
func (c *Config) Profile(name string) (ProfileConfig, bool) {
	for _, p := range c.Profiles {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ProfileConfig{}, false
}

// NeedsCredentials 表示是否会向真实交易所下单。
func (c *Config) NeedsCredentials() bool {
	return !c.Trading.DryRun && !c.Exchange.Simulation
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.App.Timezone != "" {
		if _, locErr := time.LoadLocation(c.App.Timezone); locErr != nil {
			err = multierr.Append(err, fmt.Errorf("app.timezone 无效: %w", locErr))
		}
	}
	if c.Exchange.Name == "" {
		err = multierr.Append(err, errors.New("exchange.name 不能为空"))
	}
	if c.NeedsCredentials() && (c.Exchange.APIKey == "" || c.Exchange.APISecret == "") {
		err = multierr.Append(err, errors.New("exchange.api_key/api_secret 未配置，无法进行实盘交易"))
	}
	if len(c.Exchange.QuoteCurrencies) == 0 {
		err = multierr.Append(err, errors.New("exchange.quote_currencies 至少包含一个计价币种"))
	}
	if c.Exchange.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.max_attempts 必须大于0"))
	}
	if c.Exchange.Retry.MinDelay <= 0 || c.Exchange.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("exchange.retry.delay 必须为正"))
	}
	if c.Exchange.Retry.MinDelay > c.Exchange.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("exchange.retry.min_delay 不能大于 max_delay"))
	}
	if c.Trading.BuyPct <= 0 || c.Trading.BuyPct > 1 {
		err = multierr.Append(err, errors.New("trading.buy_pct 必须位于(0,1]"))
	}
	if c.Trading.Leverage <= 0 {
		err = multierr.Append(err, errors.New("trading.leverage 必须大于0"))
	}
	if c.Trading.FeeRate < 0 || c.Trading.FeeRate >= 0.01 {
		err = multierr.Append(err, errors.New("trading.fee_rate 应位于[0,0.01)"))
	}
	if c.Trading.DefaultCapital <= 0 {
		err = multierr.Append(err, errors.New("trading.default_capital 必须大于0"))
	}
	if c.Reconcile.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("reconcile.poll_interval 必须大于0"))
	}
	if c.Reconcile.MaxWait < c.Reconcile.PollInterval {
		err = multierr.Append(err, errors.New("reconcile.max_wait 不应小于 poll_interval"))
	}
	if len(c.Profiles) == 0 {
		err = multierr.Append(err, errors.New("profiles 至少包含一个配置"))
	}
	seenNames := make(map[string]struct{}, len(c.Profiles))
	seenPaths := make(map[string]struct{}, len(c.Profiles)*2)
	for i, p := range c.Profiles {
		if p.Name == "" {
			err = multierr.Append(err, fmt.Errorf("profiles[%d].name 不能为空", i))
			continue
		}
		key := strings.ToLower(p.Name)
		if _, dup := seenNames[key]; dup {
			err = multierr.Append(err, fmt.Errorf("profile %q 重复", p.Name))
		}
		seenNames[key] = struct{}{}
		if p.Leverage < 0 {
			err = multierr.Append(err, fmt.Errorf("profile %q leverage 不能为负", p.Name))
		}
		for _, path := range []string{p.WebhookPath, p.ReportPath} {
			if !strings.HasPrefix(path, "/") {
				err = multierr.Append(err, fmt.Errorf("profile %q 路径 %q 必须以 / 开头", p.Name, path))
				continue
			}
			if _, dup := seenPaths[path]; dup {
				err = multierr.Append(err, fmt.Errorf("profile %q 路径 %q 重复", p.Name, path))
			}
			seenPaths[path] = struct{}{}
		}
	}
	if c.Server.Addr == "" {
		err = multierr.Append(err, errors.New("server.addr 不能为空"))
	}
	if c.Server.ShutdownTimeout <= 0 {
		err = multierr.Append(err, errors.New("server.shutdown_timeout 必须大于0"))
	}
	if c.Report.Hour < 0 || c.Report.Hour > 23 {
		err = multierr.Append(err, errors.New("report.hour 必须位于[0,23]"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
