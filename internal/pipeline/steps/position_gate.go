package steps

import (
	"context"
	"fmt"

	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"
)

const KeyPositionGate = "position_gate"

// NewPositionGate 防止重复开仓：上下文没有在途订单也没有排队动作，
// 但账本上已有持仓时，强制标记为持有。保证每条 pipeline 同时
// 至多一个持仓/订单。
func NewPositionGate(positions PositionSource) pipeline.Step {
	return pipeline.StepFunc{
		StepKey: KeyPositionGate,
		Fn: func(ctx context.Context, tc pipeline.TradingContext) pipeline.StepResult {
			if tc.ActiveOrderID != "" || tc.Action != market.ActionNone {
				return pipeline.Continue(tc, "直通")
			}
			pos, err := positions.OpenPosition(ctx, tc.PipelineID)
			if err != nil {
				return pipeline.Fail(fmt.Sprintf("持仓门检查失败: %v", err))
			}
			if pos == nil {
				return pipeline.Continue(tc, "直通")
			}
			tc.ActiveOrderID = pos.OrderID
			tc.Action = market.ActionHold
			tc.BuyPrice = pos.EntryPrice
			tc.Quantity = pos.Quantity
			return pipeline.Continue(tc, "检测到已有持仓，强制标记为持有")
		},
	}
}
