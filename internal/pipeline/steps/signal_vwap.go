package steps

import (
	"context"
	"fmt"

	"tradepipe/internal/pipeline"
)

const KeyVWAPBias = "vwap_bias"

// VWAPBiasConfig 定义 VWAP 偏离信号参数。
type VWAPBiasConfig struct {
	Interval string
	Lookback int
	Weight   float64
}

// NewVWAPBias 用窗口内的成交量加权均价衡量当前价的偏向：
// 现价高于 VWAP 贡献 +Weight，低于 -Weight。
func NewVWAPBias(cfg VWAPBiasConfig, candles CandleWindow) pipeline.Step {
	if cfg.Lookback <= 0 {
		cfg.Lookback = 30
	}
	if cfg.Weight <= 0 {
		cfg.Weight = 1
	}
	if cfg.Interval == "" {
		cfg.Interval = "1m"
	}
	return pipeline.StepFunc{
		StepKey: KeyVWAPBias,
		Fn: func(ctx context.Context, tc pipeline.TradingContext) pipeline.StepResult {
			window, err := candles.Window(ctx, tc.Instrument, tc.MarketType, cfg.Interval, tc.Now(), cfg.Lookback)
			if err != nil {
				return pipeline.Fail(fmt.Sprintf("vwap_bias: 读取 K 线失败: %v", err))
			}
			if len(window) == 0 {
				return pipeline.Continue(tc.WithSignal(KeyVWAPBias, 0), "vwap_bias: 无数据，权重 0")
			}
			var pvSum, volSum float64
			for _, c := range window {
				typical := (c.High + c.Low + c.Close) / 3
				pvSum += typical * c.Volume
				volSum += c.Volume
			}
			if volSum <= 0 {
				return pipeline.Continue(tc.WithSignal(KeyVWAPBias, 0), "vwap_bias: 成交量为 0，权重 0")
			}
			vwap := pvSum / volSum
			weight := cfg.Weight
			if tc.CurrentPrice < vwap {
				weight = -cfg.Weight
			}
			return pipeline.Continue(tc.WithSignal(KeyVWAPBias, weight),
				fmt.Sprintf("vwap_bias: vwap=%.4f price=%.4f 权重=%.2f", vwap, tc.CurrentPrice, weight))
		},
	}
}
