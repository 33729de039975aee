// Package config 负责加载并校验应用配置。
package config

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DataConfig struct {
	CandleRoot   string `mapstructure:"candle_root"`
	DatabasePath string `mapstructure:"database_path"`
}

type PipelinesConfig struct {
	Path string `mapstructure:"path"`
}

type BacktestConfig struct {
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

type LiveConfig struct {
	Enabled bool `mapstructure:"enabled"`
	DryRun  bool `mapstructure:"dry_run"`
}

type BinanceConfig struct {
	APIKey             string `mapstructure:"api_key"`
	APISecret          string `mapstructure:"api_secret"`
	SpotBaseURL        string `mapstructure:"spot_base_url"`
	FuturesBaseURL     string `mapstructure:"futures_base_url"`
	HTTPTimeoutSeconds int    `mapstructure:"http_timeout_seconds"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Data      DataConfig      `mapstructure:"data"`
	Pipelines PipelinesConfig `mapstructure:"pipelines"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Live      LiveConfig      `mapstructure:"live"`
	Binance   BinanceConfig   `mapstructure:"binance"`
}

// Load 读取 YAML 配置，环境变量（TRADEPIPE_ 前缀）可覆盖任意键。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TRADEPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	applyDefaults(v)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file failed (%s): %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "dev")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("http.addr", ":9991")
	v.SetDefault("data.candle_root", "data/candles")
	v.SetDefault("data.database_path", "data/tradepipe.db")
	v.SetDefault("pipelines.path", "configs/pipelines.yaml")
	v.SetDefault("backtest.max_concurrent", 2)
	v.SetDefault("live.enabled", false)
	v.SetDefault("live.dry_run", true)
	v.SetDefault("binance.http_timeout_seconds", 15)
}

func validate(cfg *Config) error {
	if cfg.Data.CandleRoot == "" {
		return fmt.Errorf("data.candle_root 不能为空")
	}
	if cfg.Data.DatabasePath == "" {
		return fmt.Errorf("data.database_path 不能为空")
	}
	if cfg.Pipelines.Path == "" {
		return fmt.Errorf("pipelines.path 不能为空")
	}
	if cfg.Backtest.MaxConcurrent <= 0 {
		return fmt.Errorf("backtest.max_concurrent 必须为正数")
	}
	if cfg.Live.Enabled && !cfg.Live.DryRun {
		if cfg.Binance.APIKey == "" || cfg.Binance.APISecret == "" {
			return fmt.Errorf("实盘非 dry-run 模式需要配置 binance.api_key/api_secret")
		}
	}
	return nil
}
