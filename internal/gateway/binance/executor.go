package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"tradepipe/internal/logger"
	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"
	"tradepipe/internal/pipeline/steps"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
)

// PositionLedger 是执行器回写持仓的最小依赖。
type PositionLedger interface {
	OpenPosition(ctx context.Context, pipelineID string) (*steps.OpenPosition, error)
	RecordOpen(ctx context.Context, pipelineID, orderID, instrument string, marketType market.MarketType, entryPrice, quantity float64, entryTime time.Time) error
	RecordClose(ctx context.Context, orderID string, exitPrice float64, closedAt time.Time) error
}

// Executor 把买卖意图转成 Binance 市价单。DryRun 打开时
// 不触达交易所，只在本地账本上记录模拟成交。
type Executor struct {
	source *Source
	ledger PositionLedger
	dryRun bool
}

func NewExecutor(source *Source, ledger PositionLedger, dryRun bool) *Executor {
	return &Executor{source: source, ledger: ledger, dryRun: dryRun}
}

// ExecuteBuy 以 amount 计价买入。已有持仓时软性拒绝。
func (e *Executor) ExecuteBuy(ctx context.Context, tc pipeline.TradingContext, amount float64) (pipeline.TradingContext, string, error) {
	if amount <= 0 {
		return tc, "买入金额无效，跳过", nil
	}
	if tc.CurrentPrice <= 0 {
		return tc, "当前价格无效，跳过买入", nil
	}
	existing, err := e.ledger.OpenPosition(ctx, tc.PipelineID)
	if err != nil {
		return tc, "", fmt.Errorf("查询持仓失败: %w", err)
	}
	if existing != nil {
		return tc, fmt.Sprintf("已有持仓 %s，跳过买入", existing.OrderID), nil
	}

	qty := amount / tc.CurrentPrice
	orderID := "live-" + uuid.NewString()
	if e.dryRun {
		logger.Infof("[binance] dry-run 买入 %s 数量 %.8f @ %.4f", tc.Instrument, qty, tc.CurrentPrice)
	} else {
		placed, err := e.placeMarketOrder(ctx, tc.Instrument, tc.MarketType, gobinance.SideTypeBuy, qty)
		if err != nil {
			return tc, "", fmt.Errorf("下买单失败: %w", err)
		}
		if placed != "" {
			orderID = placed
		}
	}
	now := tc.Now()
	if err := e.ledger.RecordOpen(ctx, tc.PipelineID, orderID, tc.Instrument, tc.MarketType, tc.CurrentPrice, qty, now); err != nil {
		return tc, "", fmt.Errorf("记录开仓失败: %w", err)
	}

	tc.Action = market.ActionBuy
	tc.ActiveOrderID = orderID
	tc.BuyPrice = tc.CurrentPrice
	tc.Quantity = qty
	return tc, fmt.Sprintf("买入 %.8f @ %.4f", qty, tc.CurrentPrice), nil
}

// ExecuteSell 平掉当前持仓。无持仓时软性拒绝。
func (e *Executor) ExecuteSell(ctx context.Context, tc pipeline.TradingContext) (pipeline.TradingContext, string, error) {
	existing, err := e.ledger.OpenPosition(ctx, tc.PipelineID)
	if err != nil {
		return tc, "", fmt.Errorf("查询持仓失败: %w", err)
	}
	if existing == nil {
		return tc, "无仓可平，跳过卖出", nil
	}
	if tc.CurrentPrice <= 0 {
		return tc, "当前价格无效，跳过卖出", nil
	}

	if e.dryRun {
		logger.Infof("[binance] dry-run 卖出 %s 数量 %.8f @ %.4f", tc.Instrument, existing.Quantity, tc.CurrentPrice)
	} else {
		if _, err := e.placeMarketOrder(ctx, tc.Instrument, tc.MarketType, gobinance.SideTypeSell, existing.Quantity); err != nil {
			return tc, "", fmt.Errorf("下卖单失败: %w", err)
		}
	}
	if err := e.ledger.RecordClose(ctx, existing.OrderID, tc.CurrentPrice, tc.Now()); err != nil {
		return tc, "", fmt.Errorf("记录平仓失败: %w", err)
	}

	tc.Action = market.ActionSell
	tc.ActiveOrderID = ""
	tc.BuyPrice = 0
	tc.Quantity = 0
	return tc, fmt.Sprintf("卖出 %.8f @ %.4f", existing.Quantity, tc.CurrentPrice), nil
}

func (e *Executor) placeMarketOrder(ctx context.Context, instrument string, marketType market.MarketType, side gobinance.SideType, qty float64) (string, error) {
	symbol := market.NormalizeSymbol(instrument)
	qtyStr := strconv.FormatFloat(qty, 'f', 8, 64)

	if marketType == market.MarketFutures {
		futSide := futures.SideTypeBuy
		if side == gobinance.SideTypeSell {
			futSide = futures.SideTypeSell
		}
		order, err := e.source.futures.NewCreateOrderService().
			Symbol(symbol).
			Side(futSide).
			Type(futures.OrderTypeMarket).
			Quantity(qtyStr).
			Do(ctx)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(order.OrderID, 10), nil
	}

	order, err := e.source.spot.NewCreateOrderService().
		Symbol(symbol).
		Side(side).
		Type(gobinance.OrderTypeMarket).
		Quantity(qtyStr).
		Do(ctx)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(order.OrderID, 10), nil
}
