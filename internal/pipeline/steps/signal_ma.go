package steps

import (
	"context"
	"fmt"

	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"

	talib "github.com/markcheno/go-talib"
)

const KeyMACross = "ma_cross"

// MACrossConfig 定义均线交叉信号参数。
type MACrossConfig struct {
	Interval string
	Fast     int
	Slow     int
	Weight   float64
}

// NewMACross 比较快慢均线并向 SignalWeights 写入一个命名权重：
// 快线在上 +Weight，在下 -Weight，数据不足时贡献 0。
func NewMACross(cfg MACrossConfig, candles CandleWindow) pipeline.Step {
	if cfg.Fast <= 0 {
		cfg.Fast = 7
	}
	if cfg.Slow <= 0 {
		cfg.Slow = 25
	}
	if cfg.Weight <= 0 {
		cfg.Weight = 1
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	return pipeline.StepFunc{
		StepKey: KeyMACross,
		Fn: func(ctx context.Context, tc pipeline.TradingContext) pipeline.StepResult {
			lookback := cfg.Slow + 5
			window, err := candles.Window(ctx, tc.Instrument, tc.MarketType, cfg.Interval, tc.Now(), lookback)
			if err != nil {
				return pipeline.Fail(fmt.Sprintf("ma_cross: 读取 K 线失败: %v", err))
			}
			if len(window) < cfg.Slow {
				return pipeline.Continue(tc.WithSignal(KeyMACross, 0), fmt.Sprintf("ma_cross: 蜡烛不足（%d/%d），权重 0", len(window), cfg.Slow))
			}
			closes := market.Closes(window)
			fast := talib.Sma(closes, cfg.Fast)
			slow := talib.Sma(closes, cfg.Slow)
			idx := len(closes) - 1
			weight := cfg.Weight
			if fast[idx] < slow[idx] {
				weight = -cfg.Weight
			}
			return pipeline.Continue(tc.WithSignal(KeyMACross, weight),
				fmt.Sprintf("ma_cross: fast=%.4f slow=%.4f 权重=%.2f", fast[idx], slow[idx], weight))
		},
	}
}
