package market

import (
	"fmt"
	"strings"
)

// MarketType 区分现货与合约市场，执行通道按此选择。
type MarketType string

const (
	MarketSpot    MarketType = "spot"
	MarketFutures MarketType = "futures"
)

// ParseMarketType 归一化市场类型字符串。
func ParseMarketType(input string) (MarketType, error) {
	switch strings.ToLower(strings.TrimSpace(input)) {
	case "", "spot":
		return MarketSpot, nil
	case "futures", "future", "perp":
		return MarketFutures, nil
	default:
		return "", fmt.Errorf("不支持的市场类型: %s", input)
	}
}

// Action 表示一次 pipeline 执行中对仓位的意图。
type Action string

const (
	ActionNone Action = "none"
	ActionHold Action = "hold"
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
)

// NormalizeSymbol 去除分隔符并转大写（ETH/USDT -> ETHUSDT）。
func NormalizeSymbol(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.ReplaceAll(s, "/", "")
	s = strings.ReplaceAll(s, "-", "")
	return s
}
