package candledb

import (
	"context"
	"fmt"
	"time"

	"tradepipe/internal/logger"
	"tradepipe/internal/market"
)

// Fetcher 拉取一段 1 分钟 K 线，单次返回量受交易所上限约束。
type Fetcher interface {
	FetchRange(ctx context.Context, instrument string, marketType market.MarketType, interval string, startTS, endTS int64, limit int) ([]market.Candle, error)
}

// Importer 把远端历史 K 线增量导入本地存储。
type Importer struct {
	store   *Store
	fetcher Fetcher
}

func NewImporter(store *Store, fetcher Fetcher) *Importer {
	return &Importer{store: store, fetcher: fetcher}
}

// EnsureRange 保证 [startTS, endTS] 区间的 1 分钟数据齐全，
// 返回本次新写入的行数。已有数据直接跳过，重复导入幂等。
func (imp *Importer) EnsureRange(ctx context.Context, instrument string, marketType market.MarketType, startTS, endTS int64) (int, error) {
	if startTS <= 0 || endTS <= startTS {
		return 0, fmt.Errorf("start/end 非法")
	}
	missing, err := imp.store.MissingOpenTimes(ctx, instrument, marketType, startTS, endTS)
	if err != nil {
		return 0, err
	}
	if len(missing) == 0 {
		return 0, nil
	}
	logger.Infof("[import] %s %s 缺失 %d 根 1m K 线，开始补齐", instrument, marketType, len(missing))

	const batch = 1500
	step := time.Minute.Milliseconds()
	total := 0
	cursor := missing[0]
	endMissing := missing[len(missing)-1]
	for cursor <= endMissing {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		batchEnd := cursor + int64(batch-1)*step
		if batchEnd > endTS {
			batchEnd = endTS
		}
		candles, err := imp.fetcher.FetchRange(ctx, instrument, marketType, "1m", cursor, batchEnd, batch)
		if err != nil {
			return total, fmt.Errorf("拉取 K 线失败: %w", err)
		}
		if len(candles) == 0 {
			// 远端也没有数据（早于上市时间等），跳过这一段。
			cursor = batchEnd + step
			continue
		}
		n, err := imp.store.InsertCandles(ctx, instrument, marketType, candles)
		if err != nil {
			return total, err
		}
		total += n
		last := candles[len(candles)-1].OpenTime
		if last < cursor {
			break
		}
		cursor = last + step
	}
	logger.Infof("[import] %s %s 本次写入 %d 行", instrument, marketType, total)
	return total, nil
}
