package backtest

import (
	"context"
	"fmt"
	"time"

	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"
	"tradepipe/internal/pipeline/steps"

	"github.com/shopspring/decimal"
)

// position 是账本中的持仓记录。
type position struct {
	orderID     string
	entryPrice  decimal.Decimal
	quantity    decimal.Decimal
	entryTime   time.Time
	executionID string
}

// State 是回测期间替代数据库订单/持仓存储的内存账本。
// 每次回测一个实例，只在该回测的单线程执行路径内被修改，
// 指标计算与持久化完成后即丢弃。
type State struct {
	balance      decimal.Decimal
	pos          *position
	trades       []Trade // 倒序累积，最新成交在前
	tradeCounter int
}

// NewState 以初始资金建账。
func NewState(initialCapital float64) *State {
	return &State{balance: decimal.NewFromFloat(initialCapital)}
}

// Balance 返回现金余额。
func (s *State) Balance() decimal.Decimal { return s.balance }

// TradeCount 返回累计成交笔数。
func (s *State) TradeCount() int { return s.tradeCounter }

// Trades 返回成交副本（倒序，最新在前）。
func (s *State) Trades() []Trade {
	out := make([]Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

// Equity 返回现金加持仓按 price 估值的权益。
func (s *State) Equity(price float64) float64 {
	eq := s.balance
	if s.pos != nil {
		eq = eq.Add(s.pos.quantity.Mul(decimal.NewFromFloat(price)))
	}
	return eq.InexactFloat64()
}

// HasPosition 返回是否有未平仓位。
func (s *State) HasPosition() bool { return s.pos != nil }

func (s *State) prependTrade(t Trade) {
	s.trades = append([]Trade{t}, s.trades...)
}

// PositionAdapter 以 State 实现 steps.PositionSource。
type PositionAdapter struct {
	state *State
}

func NewPositionAdapter(state *State) *PositionAdapter {
	return &PositionAdapter{state: state}
}

func (a *PositionAdapter) OpenPosition(ctx context.Context, pipelineID string) (*steps.OpenPosition, error) {
	pos := a.state.pos
	if pos == nil {
		return nil, nil
	}
	return &steps.OpenPosition{
		OrderID:    pos.orderID,
		EntryPrice: pos.entryPrice.InexactFloat64(),
		Quantity:   pos.quantity.InexactFloat64(),
		EntryTime:  pos.entryTime,
	}, nil
}

// ExecutorAdapter 以 State 实现 steps.OrderExecutor。
// 成交时间取上下文的模拟时间，缺省回落到墙钟时间，
// 回测引擎因此无需改动步骤协议即可注入 bar 时间。
type ExecutorAdapter struct {
	state *State
	runID string
}

func NewExecutorAdapter(state *State, runID string) *ExecutorAdapter {
	return &ExecutorAdapter{state: state, runID: runID}
}

// ExecuteBuy 在余额充足时按现价买入 amount 金额：
// 扣减余额、建仓、前插一条买入成交。余额不足是软性拒绝。
func (a *ExecutorAdapter) ExecuteBuy(ctx context.Context, tc pipeline.TradingContext, amount float64) (pipeline.TradingContext, string, error) {
	if tc.CurrentPrice <= 0 {
		return tc, "当前价格无效，跳过买入", nil
	}
	amt := decimal.NewFromFloat(amount)
	if a.state.balance.LessThan(amt) {
		return tc, fmt.Sprintf("余额不足（%s < %s），跳过买入", a.state.balance.StringFixed(2), amt.StringFixed(2)), nil
	}
	price := decimal.NewFromFloat(tc.CurrentPrice)
	qty := amt.Div(price)
	a.state.balance = a.state.balance.Sub(amt)
	a.state.tradeCounter++
	orderID := fmt.Sprintf("bt-%s-%d", a.runID, a.state.tradeCounter)
	now := tc.Now()
	a.state.pos = &position{
		orderID:     orderID,
		entryPrice:  price,
		quantity:    qty,
		entryTime:   now,
		executionID: tc.PipelineID,
	}
	a.state.prependTrade(Trade{
		RunID:    a.runID,
		Side:     TradeBuy,
		Price:    price,
		Quantity: qty,
		Fee:      decimal.Zero,
		CandleTS: now.UnixMilli(),
		Capital:  a.state.balance,
	})

	tc.Action = market.ActionBuy
	tc.ActiveOrderID = orderID
	tc.BuyPrice = tc.CurrentPrice
	tc.Quantity = qty.InexactFloat64()
	return tc, fmt.Sprintf("买入 %s @ %s", qty.StringFixed(8), price.StringFixed(4)), nil
}

// ExecuteSell 平掉当前仓位：回笼资金、清仓、前插一条卖出成交。
// 无仓可平是软性拒绝。
func (a *ExecutorAdapter) ExecuteSell(ctx context.Context, tc pipeline.TradingContext) (pipeline.TradingContext, string, error) {
	pos := a.state.pos
	if pos == nil {
		return tc, "无仓可平，跳过卖出", nil
	}
	if tc.CurrentPrice <= 0 {
		return tc, "当前价格无效，跳过卖出", nil
	}
	price := decimal.NewFromFloat(tc.CurrentPrice)
	proceeds := pos.quantity.Mul(price)
	a.state.balance = a.state.balance.Add(proceeds)
	a.state.tradeCounter++
	now := tc.Now()
	a.state.prependTrade(Trade{
		RunID:    a.runID,
		Side:     TradeSell,
		Price:    price,
		Quantity: pos.quantity,
		Fee:      decimal.Zero,
		CandleTS: now.UnixMilli(),
		Capital:  a.state.balance,
	})
	a.state.pos = nil

	tc.Action = market.ActionSell
	tc.ActiveOrderID = ""
	tc.BuyPrice = 0
	tc.Quantity = 0
	return tc, fmt.Sprintf("卖出 %s @ %s", pos.quantity.StringFixed(8), price.StringFixed(4)), nil
}
