package steps

import (
	"context"
	"fmt"

	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"
)

const KeyCheckPosition = "check_position"

// NewCheckPosition 查询当前持仓并写入上下文。
// 没有持仓是正常情况（Continue），只有查询本身失败才 Fail。
func NewCheckPosition(positions PositionSource) pipeline.Step {
	return pipeline.StepFunc{
		StepKey: KeyCheckPosition,
		Fn: func(ctx context.Context, tc pipeline.TradingContext) pipeline.StepResult {
			pos, err := positions.OpenPosition(ctx, tc.PipelineID)
			if err != nil {
				return pipeline.Fail(fmt.Sprintf("查询持仓失败: %v", err))
			}
			if pos == nil {
				tc.Action = market.ActionNone
				return pipeline.Continue(tc, "无持仓")
			}
			tc.Action = market.ActionHold
			tc.BuyPrice = pos.EntryPrice
			tc.Quantity = pos.Quantity
			tc.ActiveOrderID = pos.OrderID
			return pipeline.Continue(tc, fmt.Sprintf("持仓中 entry=%.8f qty=%.8f", pos.EntryPrice, pos.Quantity))
		},
	}
}
