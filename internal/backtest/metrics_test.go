package backtest

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkTrade(side TradeSide, price, qty float64, ts int64) Trade {
	return Trade{
		Side:     side,
		Price:    decimal.NewFromFloat(price),
		Quantity: decimal.NewFromFloat(qty),
		Fee:      decimal.Zero,
		CandleTS: ts,
	}
}

func TestCalculate_Empty(t *testing.T) {
	m := Calculate(1000, nil, nil)

	assert.Equal(t, 1000.0, m.FinalCapital)
	assert.Equal(t, 0.0, m.TotalReturnPct)
	assert.Equal(t, 0, m.TotalTrades)
	assert.Equal(t, 0.0, m.WinRate)
	assert.Equal(t, 0.0, m.ProfitFactor)
	assert.Equal(t, 0.0, m.MaxDrawdownPct)
	assert.Equal(t, 0.0, m.SharpeRatio)
	assert.Equal(t, 0.0, m.AvgHoldingMinutes)
}

func TestCalculate_SingleWinningRoundTrip(t *testing.T) {
	trades := []Trade{
		mkTrade(TradeBuy, 100, 1, 1_000),
		mkTrade(TradeSell, 110, 1, 61_000),
	}
	equity := []EquityPoint{
		{TS: 1_000, Equity: 1000},
		{TS: 61_000, Equity: 1010},
	}
	m := Calculate(1000, trades, equity)

	assert.Equal(t, 1, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
	assert.Equal(t, 0, m.LosingTrades)
	assert.Equal(t, 100.0, m.WinRate)
	assert.InDelta(t, 10.0, m.AverageWin, 1e-9)
	assert.InDelta(t, 10.0, m.LargestWin, 1e-9)
	// 没有亏损时利润因子记 0 而不是无穷
	assert.Equal(t, 0.0, m.ProfitFactor)
	assert.InDelta(t, 1010.0, m.FinalCapital, 1e-9)
	assert.InDelta(t, 1.0, m.TotalReturnPct, 1e-9)
	assert.InDelta(t, 1.0, m.AvgHoldingMinutes, 1e-9)
}

func TestCalculate_DropsTrailingUnpairedTrade(t *testing.T) {
	trades := []Trade{
		mkTrade(TradeBuy, 100, 1, 1_000),
		mkTrade(TradeSell, 90, 1, 61_000),
		mkTrade(TradeBuy, 80, 1, 121_000), // 末尾落单，不计入
	}
	m := Calculate(1000, trades, nil)

	assert.Equal(t, 1, m.TotalTrades)
	assert.Equal(t, 1, m.LosingTrades)
	assert.Equal(t, 0.0, m.WinRate)
	assert.InDelta(t, -10.0, m.AverageLoss, 1e-9)
	assert.InDelta(t, -10.0, m.LargestLoss, 1e-9)
}

func TestCalculate_SortsTradesBeforePairing(t *testing.T) {
	// 账本倒序累积，原样喂进来也要得到同样的配对
	trades := []Trade{
		mkTrade(TradeSell, 110, 1, 61_000),
		mkTrade(TradeBuy, 100, 1, 1_000),
	}
	m := Calculate(1000, trades, nil)

	require.Equal(t, 1, m.TotalTrades)
	assert.Equal(t, 1, m.WinningTrades)
}

func TestCalculate_ProfitFactor(t *testing.T) {
	trades := []Trade{
		mkTrade(TradeBuy, 100, 1, 1_000),
		mkTrade(TradeSell, 130, 1, 2_000), // +30
		mkTrade(TradeBuy, 100, 1, 3_000),
		mkTrade(TradeSell, 90, 1, 4_000), // -10
	}
	m := Calculate(1000, trades, nil)

	assert.Equal(t, 2, m.TotalTrades)
	assert.InDelta(t, 3.0, m.ProfitFactor, 1e-9)
	assert.InDelta(t, 50.0, m.WinRate, 1e-9)
}

func TestCalculate_MaxDrawdown(t *testing.T) {
	equity := []EquityPoint{
		{Equity: 1000},
		{Equity: 1200},
		{Equity: 900}, // 距峰值 1200 回撤 25%
		{Equity: 1100},
	}
	m := Calculate(1000, nil, equity)
	assert.InDelta(t, 25.0, m.MaxDrawdownPct, 1e-9)
}

func TestCalculate_SharpeDegenerate(t *testing.T) {
	t.Run("少于两个采样点", func(t *testing.T) {
		m := Calculate(1000, nil, []EquityPoint{{Equity: 1000}})
		assert.Equal(t, 0.0, m.SharpeRatio)
	})

	t.Run("恒定权益方差为零", func(t *testing.T) {
		m := Calculate(1000, nil, []EquityPoint{{Equity: 1000}, {Equity: 1000}, {Equity: 1000}})
		assert.Equal(t, 0.0, m.SharpeRatio)
	})

	t.Run("单调上涨给正夏普", func(t *testing.T) {
		m := Calculate(1000, nil, []EquityPoint{{Equity: 1000}, {Equity: 1010}, {Equity: 1030}})
		assert.Greater(t, m.SharpeRatio, 0.0)
	})
}

func TestCalculate_ZeroInitialCapital(t *testing.T) {
	m := Calculate(0, nil, []EquityPoint{{Equity: 100}})
	assert.Equal(t, 0.0, m.TotalReturnPct)
	assert.Equal(t, 100.0, m.FinalCapital)
}
