package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
	// 精简镜像中可能缺少系统时区库
	_ "time/tzdata"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "trades"
)

// legacyEnv 兼容旧版部署使用的环境变量名。
var legacyEnv = map[string]string{
	"exchange.api_key":        "EXCHANGE_API_KEY",
	"exchange.api_secret":     "EXCHANGE_API_SECRET",
	"trading.dry_run":         "DRY_RUN",
	"trading.buy_pct":         "BUY_PCT",
	"trading.leverage":        "TRADE_LEVERAGE",
	"trading.fee_rate":        "FEE_RATE",
	"reconcile.poll_interval": "POLL_INTERVAL",
	"reconcile.max_wait":      "MAX_WAIT",
}

// Load 读取配置文件并结合环境变量返回 Config。
// path 为空且默认配置文件不存在时，仅使用默认值与环境变量。
func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadProfiles 只解析 profile 路由，供访问远端服务的命令使用，不校验交易所凭证。
func LoadProfiles(path string) ([]ProfileConfig, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, err
	}
	return cfg.Profiles, nil
}

func load(path string) (*Config, error) {
	// .env 不存在属于正常情况
	_ = godotenv.Load()

	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

	if explicit || fileExists(path) {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
			}
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	for i := range cfg.Profiles {
		if cfg.Profiles[i].Leverage == 0 {
			cfg.Profiles[i].Leverage = cfg.Trading.Leverage
		}
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Asia/Seoul")

	v.SetDefault("exchange.name", "binanceusdm")
	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.api_secret", "")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.simulation", false)
	v.SetDefault("exchange.quote_currencies", []string{"USDT", "USDC"})
	v.SetDefault("exchange.retry.max_attempts", 5)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("trading.buy_pct", 0.98)
	v.SetDefault("trading.leverage", 5)
	v.SetDefault("trading.fee_rate", 0.0004)
	v.SetDefault("trading.dry_run", false)
	v.SetDefault("trading.default_capital", 100.0)

	v.SetDefault("reconcile.poll_interval", "1s")
	v.SetDefault("reconcile.max_wait", "15s")
	v.SetDefault("reconcile.strict", false)

	v.SetDefault("profiles", []map[string]interface{}{
		{
			"name":                "webhook1",
			"webhook_path":        "/webhook",
			"report_path":         "/report",
			"use_initial_capital": false,
		},
		{
			"name":                "webhook2",
			"webhook_path":        "/webhook2",
			"report_path":         "/report2",
			"leverage":            2,
			"use_initial_capital": true,
		},
		{
			"name":                "webhook3",
			"webhook_path":        "/webhook3",
			"report_path":         "/report3",
			"leverage":            5,
			"use_initial_capital": true,
		},
	})

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "5s")

	v.SetDefault("report.enabled", true)
	v.SetDefault("report.hour", 9)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
}

func bindLegacyEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		primary := strings.ToUpper(envPrefix + "_" + strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, primary, legacy); err != nil {
			return fmt.Errorf("绑定环境变量 %s 失败: %w", legacy, err)
		}
	}
	return nil
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// secondsToDurationHookFunc 将 "1.5" 这类不带单位的秒数解析为 time.Duration。
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != durationType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			seconds, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return data, nil
			}
			return time.Duration(seconds * float64(time.Second)), nil
		case int:
			return time.Duration(v) * time.Second, nil
		case int64:
			return time.Duration(v) * time.Second, nil
		case float64:
			return time.Duration(v * float64(time.Second)), nil
		default:
			return data, nil
		}
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
