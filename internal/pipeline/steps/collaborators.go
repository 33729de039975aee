package steps

import (
	"context"
	"time"

	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"
)

// OpenPosition 是持仓查询能力返回的最小视图。
type OpenPosition struct {
	OrderID    string
	EntryPrice float64
	Quantity   float64
	EntryTime  time.Time
}

// PositionSource 抽象"当前是否有持仓"的查询：
// 实盘由数据库支撑，回测由内存账本支撑。
type PositionSource interface {
	OpenPosition(ctx context.Context, pipelineID string) (*OpenPosition, error)
}

// OrderExecutor 抽象下单能力。软性拒绝（余额不足、无仓可平）
// 通过返回说明信息表达，error 只留给基础设施故障。
type OrderExecutor interface {
	ExecuteBuy(ctx context.Context, tc pipeline.TradingContext, amount float64) (pipeline.TradingContext, string, error)
	ExecuteSell(ctx context.Context, tc pipeline.TradingContext) (pipeline.TradingContext, string, error)
}

// CandleWindow 向信号步骤提供截止某时刻的最近 K 线窗口，
// 同一批步骤因此既能跑实盘也能按 bar 切片跑回测。
type CandleWindow interface {
	Window(ctx context.Context, instrument string, marketType market.MarketType, interval string, end time.Time, limit int) ([]market.Candle, error)
}

// Collaborators 打包一组协作者实现，工厂据此装配步骤；
// 回测替换其中的实现而不改变步骤类型。
type Collaborators struct {
	Positions PositionSource
	Executor  OrderExecutor
	Candles   CandleWindow
}
