package backtest

import (
	"math"
	"sort"
	"time"
)

// Metrics 是由成交与资金曲线推导出的纯统计结果。
// 所有分母退化（无成交、无亏损、方差为 0 等）一律返回 0，
// 绝不产生 NaN/Inf。
type Metrics struct {
	TotalReturnPct    float64       `json:"total_return_pct"`
	FinalCapital      float64       `json:"final_capital"`
	TotalTrades       int           `json:"total_trades"`
	WinningTrades     int           `json:"winning_trades"`
	LosingTrades      int           `json:"losing_trades"`
	WinRate           float64       `json:"win_rate"`
	AverageWin        float64       `json:"average_win"`
	AverageLoss       float64       `json:"average_loss"`
	LargestWin        float64       `json:"largest_win"`
	LargestLoss       float64       `json:"largest_loss"`
	ProfitFactor      float64       `json:"profit_factor"`
	MaxDrawdownPct    float64       `json:"max_drawdown_pct"`
	SharpeRatio       float64       `json:"sharpe_ratio"`
	AvgHoldingMinutes float64       `json:"avg_holding_minutes"`
	Equity            []EquityPoint `json:"equity,omitempty"`
}

// roundTrip 是一组配对的买入+卖出。
type roundTrip struct {
	buy  Trade
	sell Trade
}

func (rt roundTrip) pnl() float64 {
	return rt.sell.Price.Sub(rt.buy.Price).Mul(rt.sell.Quantity).InexactFloat64()
}

func (rt roundTrip) win() bool {
	return rt.sell.Price.GreaterThan(rt.buy.Price)
}

func (rt roundTrip) holding() time.Duration {
	return time.Duration(rt.sell.CandleTS-rt.buy.CandleTS) * time.Millisecond
}

// Calculate 将成交列表与资金曲线折算为绩效指标。
// 成交按时间排序后两两配对，末尾落单的成交不计入任何回合。
func Calculate(initialCapital float64, trades []Trade, equity []EquityPoint) Metrics {
	m := Metrics{FinalCapital: initialCapital, Equity: equity}
	if len(equity) > 0 {
		m.FinalCapital = equity[len(equity)-1].Equity
	}
	if initialCapital != 0 {
		m.TotalReturnPct = (m.FinalCapital - initialCapital) / initialCapital * 100
	}

	pairs := pairTrades(trades)
	m.TotalTrades = len(pairs)

	var grossProfit, grossLoss float64
	var holdingSum time.Duration
	for _, rt := range pairs {
		pnl := rt.pnl()
		holdingSum += rt.holding()
		if rt.win() {
			m.WinningTrades++
			grossProfit += pnl
			if pnl > m.LargestWin {
				m.LargestWin = pnl
			}
		} else {
			m.LosingTrades++
			grossLoss += -pnl
			if pnl < m.LargestLoss {
				m.LargestLoss = pnl
			}
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.AvgHoldingMinutes = holdingSum.Minutes() / float64(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = grossProfit / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = -grossLoss / float64(m.LosingTrades)
	}
	// 无亏损时利润因子记 0："上行未定义"而非无穷。
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	}

	m.MaxDrawdownPct = maxDrawdownPct(equity)
	m.SharpeRatio = sharpeRatio(equity)
	return m
}

func pairTrades(trades []Trade) []roundTrip {
	sorted := make([]Trade, len(trades))
	copy(sorted, trades)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CandleTS < sorted[j].CandleTS
	})
	var pairs []roundTrip
	for i := 0; i+1 < len(sorted); i += 2 {
		pairs = append(pairs, roundTrip{buy: sorted[i], sell: sorted[i+1]})
	}
	return pairs
}

// maxDrawdownPct 用运行峰值法计算最大回撤百分比。
func maxDrawdownPct(equity []EquityPoint) float64 {
	if len(equity) == 0 {
		return 0
	}
	peak := equity[0].Equity
	maxDD := 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - p.Equity) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

// sharpeRatio 按相邻采样点的简单收益率计算，年化假设约 365 个采样周期。
func sharpeRatio(equity []EquityPoint) float64 {
	if len(equity) < 2 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (equity[i].Equity-prev)/prev)
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(returns))
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(365)
}
