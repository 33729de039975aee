// Package binance 基于 go-binance SDK 提供 K 线拉取与实盘下单。
package binance

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"tradepipe/internal/market"

	gobinance "github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/futures"
)

const maxKlineLimit = 1500

// Config 描述网关连接参数。
type Config struct {
	APIKey         string
	APISecret      string
	SpotBaseURL    string
	FuturesBaseURL string
	HTTPTimeout    time.Duration
}

func (c Config) withDefaults() Config {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	return c
}

// Source 按市场类型路由到现货或合约客户端。
type Source struct {
	cfg     Config
	spot    *gobinance.Client
	futures *futures.Client
}

func NewSource(cfg Config) *Source {
	final := cfg.withDefaults()
	httpClient := &http.Client{Timeout: final.HTTPTimeout}

	spot := gobinance.NewClient(final.APIKey, final.APISecret)
	spot.HTTPClient = httpClient
	if base := strings.TrimSpace(final.SpotBaseURL); base != "" {
		spot.BaseURL = base
	}

	fut := futures.NewClient(final.APIKey, final.APISecret)
	fut.HTTPClient = httpClient
	if base := strings.TrimSpace(final.FuturesBaseURL); base != "" {
		fut.BaseURL = base
	}

	return &Source{cfg: final, spot: spot, futures: fut}
}

// FetchRange 拉取 [startTS, endTS] 区间的 K 线，供历史导入使用。
// 单次调用受交易所 limit 上限约束，调用方负责分页。
func (s *Source) FetchRange(ctx context.Context, instrument string, marketType market.MarketType, interval string, startTS, endTS int64, limit int) ([]market.Candle, error) {
	symbol := market.NormalizeSymbol(instrument)
	if symbol == "" {
		return nil, fmt.Errorf("instrument 不能为空")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, fmt.Errorf("interval 不能为空")
	}
	if limit <= 0 || limit > maxKlineLimit {
		limit = maxKlineLimit
	}

	if marketType == market.MarketFutures {
		svc := s.futures.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if startTS > 0 {
			svc = svc.StartTime(startTS)
		}
		if endTS > 0 {
			svc = svc.EndTime(endTS)
		}
		kls, err := svc.Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("binance futures klines: %w", err)
		}
		out := make([]market.Candle, 0, len(kls))
		for _, kl := range kls {
			if kl == nil {
				continue
			}
			out = append(out, market.Candle{
				OpenTime:  kl.OpenTime,
				CloseTime: kl.CloseTime,
				Open:      parseFloat(kl.Open),
				High:      parseFloat(kl.High),
				Low:       parseFloat(kl.Low),
				Close:     parseFloat(kl.Close),
				Volume:    parseFloat(kl.Volume),
				Trades:    kl.TradeNum,
			})
		}
		return dropUnclosed(out, interval), nil
	}

	svc := s.spot.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if startTS > 0 {
		svc = svc.StartTime(startTS)
	}
	if endTS > 0 {
		svc = svc.EndTime(endTS)
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance spot klines: %w", err)
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return dropUnclosed(out, interval), nil
}

// Window 返回截止 end 的最近 limit 根 K 线，满足 steps.CandleWindow，
// 实盘信号步骤由此取数。
func (s *Source) Window(ctx context.Context, instrument string, marketType market.MarketType, interval string, end time.Time, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.FetchRange(ctx, instrument, marketType, interval, 0, end.UnixMilli(), limit)
}

// TickerPrice 返回最新成交价，实盘调度器用它填充上下文价格。
func (s *Source) TickerPrice(ctx context.Context, instrument string, marketType market.MarketType) (float64, error) {
	symbol := market.NormalizeSymbol(instrument)
	if marketType == market.MarketFutures {
		prices, err := s.futures.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return 0, err
		}
		if len(prices) == 0 {
			return 0, fmt.Errorf("未取到 %s 的合约价格", symbol)
		}
		return parseFloat(prices[0].Price), nil
	}
	prices, err := s.spot.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, err
	}
	if len(prices) == 0 {
		return 0, fmt.Errorf("未取到 %s 的现货价格", symbol)
	}
	return parseFloat(prices[0].Price), nil
}

// dropUnclosed 去掉尾部尚未收盘的 K 线。
func dropUnclosed(candles []market.Candle, interval string) []market.Candle {
	dur, ok := parseIntervalDuration(interval)
	if !ok || len(candles) == 0 {
		return candles
	}
	last := candles[len(candles)-1]
	expectedClose := last.OpenTime + dur.Milliseconds() - 1
	if time.Now().UnixMilli() < expectedClose {
		return candles[:len(candles)-1]
	}
	return candles
}

func parseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if len(interval) < 2 {
		return 0, false
	}
	n, err := strconv.Atoi(interval[:len(interval)-1])
	if err != nil || n <= 0 {
		return 0, false
	}
	switch interval[len(interval)-1] {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
