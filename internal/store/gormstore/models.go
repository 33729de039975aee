package gormstore

import (
	"gorm.io/datatypes"
)

// runModel 对应 backtest_runs 表。
type runModel struct {
	ID             string         `gorm:"column:id;primaryKey"`
	PipelineID     string         `gorm:"column:pipeline_id;index"`
	Status         string         `gorm:"column:status;index"`
	StartTS        int64          `gorm:"column:start_ts"`
	EndTS          int64          `gorm:"column:end_ts"`
	InitialCapital float64        `gorm:"column:initial_capital"`
	FinalCapital   float64        `gorm:"column:final_capital"`
	TotalTrades    int            `gorm:"column:total_trades"`
	WinRate        float64        `gorm:"column:win_rate"`
	MaxDrawdownPct float64        `gorm:"column:max_drawdown_pct"`
	SharpeRatio    float64        `gorm:"column:sharpe_ratio"`
	Message        string         `gorm:"column:message"`
	Config         datatypes.JSON `gorm:"column:config"`
	Metrics        datatypes.JSON `gorm:"column:metrics"`
	CreatedAtUnix  int64          `gorm:"column:created_at"`
	UpdatedAtUnix  int64          `gorm:"column:updated_at"`
	CompletedAt    int64          `gorm:"column:completed_at"`
}

func (runModel) TableName() string { return "backtest_runs" }

// tradeModel 对应 backtest_trades 表。价格与数量以字符串存放，
// 避免小数精度在浮点列上损耗。
type tradeModel struct {
	ID       int64  `gorm:"column:id;primaryKey;autoIncrement"`
	RunID    string `gorm:"column:run_id;index"`
	Side     string `gorm:"column:side"`
	Price    string `gorm:"column:price"`
	Quantity string `gorm:"column:quantity"`
	Fee      string `gorm:"column:fee"`
	CandleTS int64  `gorm:"column:candle_ts"`
	Capital  string `gorm:"column:capital"`
}

func (tradeModel) TableName() string { return "backtest_trades" }

// equityModel 对应 backtest_equity 表。
type equityModel struct {
	ID       int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID    string  `gorm:"column:run_id;index"`
	TS       int64   `gorm:"column:ts"`
	Equity   float64 `gorm:"column:equity"`
	Drawdown float64 `gorm:"column:drawdown"`
}

func (equityModel) TableName() string { return "backtest_equity" }

// executionLogModel 对应 execution_logs 表；实盘日志 run_id 为空。
type executionLogModel struct {
	ID          int64          `gorm:"column:id;primaryKey;autoIncrement"`
	RunID       string         `gorm:"column:run_id;index"`
	PipelineID  string         `gorm:"column:pipeline_id;index"`
	ExecutionID string         `gorm:"column:execution_id;index"`
	StepKey     string         `gorm:"column:step_key"`
	Outcome     string         `gorm:"column:outcome"`
	Message     string         `gorm:"column:message"`
	Snapshot    datatypes.JSON `gorm:"column:snapshot"`
	StartedAt   int64          `gorm:"column:started_at"`
	FinishedAt  int64          `gorm:"column:finished_at"`
}

func (executionLogModel) TableName() string { return "execution_logs" }

// livePositionModel 对应 live_positions 表，每条流水线至多一条 open 记录。
type livePositionModel struct {
	ID         int64   `gorm:"column:id;primaryKey;autoIncrement"`
	PipelineID string  `gorm:"column:pipeline_id;index"`
	OrderID    string  `gorm:"column:order_id;uniqueIndex"`
	Instrument string  `gorm:"column:instrument"`
	MarketType string  `gorm:"column:market_type"`
	EntryPrice float64 `gorm:"column:entry_price"`
	Quantity   float64 `gorm:"column:quantity"`
	EntryTime  int64   `gorm:"column:entry_time"`
	Status     int     `gorm:"column:status;index"`
	ExitPrice  float64 `gorm:"column:exit_price"`
	ClosedAt   int64   `gorm:"column:closed_at"`
}

func (livePositionModel) TableName() string { return "live_positions" }

const (
	positionStatusOpen   = 1
	positionStatusClosed = 2
)
