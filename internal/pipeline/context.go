package pipeline

import (
	"time"

	"tradepipe/internal/market"
)

// TradingContext 是一次执行中在步骤之间传递的载荷。
// 约定不可变：步骤接收一个上下文并返回新的上下文，
// 写入 SignalWeights 前必须先复制（见 WithSignal）。
type TradingContext struct {
	PipelineID    string             `json:"pipeline_id"`
	Instrument    string             `json:"instrument"`
	MarketType    market.MarketType  `json:"market_type"`
	CurrentPrice  float64            `json:"current_price"`
	Action        market.Action      `json:"action"`
	BuyPrice      float64            `json:"buy_price,omitempty"`
	Quantity      float64            `json:"quantity,omitempty"`
	ActiveOrderID string             `json:"active_order_id,omitempty"`
	SignalWeights map[string]float64 `json:"signal_weights,omitempty"`

	// SimulatedTime 由回测引擎注入的模拟时间；为 nil 时取系统时间。
	SimulatedTime *time.Time `json:"simulated_time,omitempty"`
}

// NewTradingContext 构造初始上下文。
func NewTradingContext(pipelineID, instrument string, marketType market.MarketType, price float64) TradingContext {
	return TradingContext{
		PipelineID:   pipelineID,
		Instrument:   market.NormalizeSymbol(instrument),
		MarketType:   marketType,
		CurrentPrice: price,
		Action:       market.ActionNone,
	}
}

// WithSignal 返回带有新权重的副本，权重表被克隆。
func (tc TradingContext) WithSignal(name string, weight float64) TradingContext {
	weights := make(map[string]float64, len(tc.SignalWeights)+1)
	for k, v := range tc.SignalWeights {
		weights[k] = v
	}
	weights[name] = weight
	tc.SignalWeights = weights
	return tc
}

// WeightSum 返回全部信号权重之和。
func (tc TradingContext) WeightSum() float64 {
	sum := 0.0
	for _, w := range tc.SignalWeights {
		sum += w
	}
	return sum
}

// Now 返回模拟时间（回测）或墙钟时间（实盘）。
func (tc TradingContext) Now() time.Time {
	if tc.SimulatedTime != nil {
		return *tc.SimulatedTime
	}
	return time.Now()
}

// WithSimulatedTime 返回注入了模拟时间的副本。
func (tc TradingContext) WithSimulatedTime(t time.Time) TradingContext {
	tc.SimulatedTime = &t
	return tc
}
