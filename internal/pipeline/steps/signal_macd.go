package steps

import (
	"context"
	"fmt"

	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"

	talib "github.com/markcheno/go-talib"
)

const KeyMACDTrend = "macd_trend"

// MACDTrendConfig 定义 MACD 信号参数。
type MACDTrendConfig struct {
	Interval string
	Fast     int
	Slow     int
	Signal   int
	Weight   float64
}

// NewMACDTrend 以 MACD 柱的符号贡献权重：柱 > 0 看多，< 0 看空。
func NewMACDTrend(cfg MACDTrendConfig, candles CandleWindow) pipeline.Step {
	if cfg.Fast <= 0 {
		cfg.Fast = 12
	}
	if cfg.Slow <= 0 {
		cfg.Slow = 26
	}
	if cfg.Signal <= 0 {
		cfg.Signal = 9
	}
	if cfg.Weight <= 0 {
		cfg.Weight = 1
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	return pipeline.StepFunc{
		StepKey: KeyMACDTrend,
		Fn: func(ctx context.Context, tc pipeline.TradingContext) pipeline.StepResult {
			required := cfg.Slow + cfg.Signal
			window, err := candles.Window(ctx, tc.Instrument, tc.MarketType, cfg.Interval, tc.Now(), required+5)
			if err != nil {
				return pipeline.Fail(fmt.Sprintf("macd_trend: 读取 K 线失败: %v", err))
			}
			if len(window) < required {
				return pipeline.Continue(tc.WithSignal(KeyMACDTrend, 0), fmt.Sprintf("macd_trend: 蜡烛不足（%d/%d），权重 0", len(window), required))
			}
			closes := market.Closes(window)
			_, _, hist := talib.Macd(closes, cfg.Fast, cfg.Slow, cfg.Signal)
			histVal := hist[len(hist)-1]
			weight := 0.0
			switch {
			case histVal > 0:
				weight = cfg.Weight
			case histVal < 0:
				weight = -cfg.Weight
			}
			return pipeline.Continue(tc.WithSignal(KeyMACDTrend, weight),
				fmt.Sprintf("macd_trend: hist=%.6f 权重=%.2f", histVal, weight))
		},
	}
}
