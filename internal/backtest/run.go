package backtest

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	RunStatusPending   = "pending"
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunConfig 记录一次回测的参数快照，便于重放。
type RunConfig struct {
	PipelineID      string  `json:"pipeline_id"`
	StartTS         int64   `json:"start_ts"`
	EndTS           int64   `json:"end_ts"`
	IntervalMinutes int     `json:"interval_minutes"`
	InitialCapital  float64 `json:"initial_capital"`
}

// Run 表示一次回测任务行。
type Run struct {
	ID             string    `json:"id"`
	PipelineID     string    `json:"pipeline_id"`
	Status         string    `json:"status"`
	StartTS        int64     `json:"start_ts"`
	EndTS          int64     `json:"end_ts"`
	InitialCapital float64   `json:"initial_capital"`
	FinalCapital   float64   `json:"final_capital"`
	TotalTrades    int       `json:"total_trades"`
	WinRate        float64   `json:"win_rate"`
	MaxDrawdownPct float64   `json:"max_drawdown_pct"`
	SharpeRatio    float64   `json:"sharpe_ratio"`
	Message        string    `json:"message"`
	Config         RunConfig `json:"config"`
	Metrics        *Metrics  `json:"metrics,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	CompletedAt    time.Time `json:"completed_at"`
}

// MarshalConfig 返回 config JSON。
func (r Run) MarshalConfig() ([]byte, error) {
	return json.Marshal(r.Config)
}

// TradeSide 为成交方向。
type TradeSide string

const (
	TradeBuy  TradeSide = "buy"
	TradeSell TradeSide = "sell"
)

// Trade 记录回测中一次成交。Fee 恒为 0 是回测的既定简化。
type Trade struct {
	ID       int64           `json:"id"`
	RunID    string          `json:"run_id"`
	Side     TradeSide       `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"quantity"`
	Fee      decimal.Decimal `json:"fee"`
	CandleTS int64           `json:"candle_ts"`
	Capital  decimal.Decimal `json:"capital"`
}

// EquityPoint 是资金曲线采样点；Drawdown 为距历史峰值的回撤比例。
type EquityPoint struct {
	TS       int64   `json:"ts"`
	Equity   float64 `json:"equity"`
	Drawdown float64 `json:"drawdown"`
}

// RunRequest 为 HTTP 提交使用。
type RunRequest struct {
	PipelineID      string  `json:"pipeline_id" binding:"required"`
	StartTS         int64   `json:"start_ts" binding:"required"`
	EndTS           int64   `json:"end_ts" binding:"required"`
	IntervalMinutes int     `json:"interval_minutes"`
	InitialCapital  float64 `json:"initial_capital"`
}
