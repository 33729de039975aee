package steps

import (
	"context"
	"fmt"

	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"
)

const KeyExecution = "execution"

// ExecutionConfig 定义进出场步骤的阈值参数。
type ExecutionConfig struct {
	BuyThreshold  float64
	SellThreshold float64
	TradeAmount   float64
}

// NewExecution 聚合信号权重并按阈值决策：权重和 > BuyThreshold 买入，
// < SellThreshold 卖出，否则保持当前动作。随后按 (在途订单, 动作)
// 的组合决定是否真正走下单能力：
//
//	(无订单, 买入) -> ExecuteBuy
//	(有订单, 卖出) -> ExecuteSell
//	其余组合      -> 携带诊断信息的 Continue
//
// 协作者错误转译为 Fail；软性拒绝由执行器用消息表达。
func NewExecution(cfg ExecutionConfig, executor OrderExecutor) pipeline.Step {
	return pipeline.StepFunc{
		StepKey: KeyExecution,
		Fn: func(ctx context.Context, tc pipeline.TradingContext) pipeline.StepResult {
			sum := tc.WeightSum()
			switch {
			case sum > cfg.BuyThreshold:
				tc.Action = market.ActionBuy
			case sum < cfg.SellThreshold:
				tc.Action = market.ActionSell
			}

			switch {
			case tc.ActiveOrderID == "" && tc.Action == market.ActionBuy:
				next, msg, err := executor.ExecuteBuy(ctx, tc, cfg.TradeAmount)
				if err != nil {
					return pipeline.Fail(fmt.Sprintf("买入执行失败: %v", err))
				}
				return pipeline.Continue(next, msg)
			case tc.ActiveOrderID != "" && tc.Action == market.ActionSell:
				next, msg, err := executor.ExecuteSell(ctx, tc)
				if err != nil {
					return pipeline.Fail(fmt.Sprintf("卖出执行失败: %v", err))
				}
				return pipeline.Continue(next, msg)
			default:
				return pipeline.Continue(tc, fmt.Sprintf("无交易（权重和=%.4f action=%s order=%q）", sum, tc.Action, tc.ActiveOrderID))
			}
		},
	}
}
