package candledb

import (
	"context"
	"testing"
	"time"

	"tradepipe/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func minuteCandles(startTS int64, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		open := startTS + int64(i)*time.Minute.Milliseconds()
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + time.Minute.Milliseconds() - 1,
			Open:      100,
			High:      101,
			Low:       99,
			Close:     100.5,
			Volume:    10,
			Trades:    3,
		}
	}
	return out
}

func TestStore_InsertAndRange(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	startTS := int64(1_700_000_000 * 1000)
	startTS -= startTS % time.Minute.Milliseconds()

	n, err := store.InsertCandles(ctx, "eth/usdt", market.MarketSpot, minuteCandles(startTS, 10))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// 重复写入幂等覆盖
	n, err = store.InsertCandles(ctx, "ETHUSDT", market.MarketSpot, minuteCandles(startTS, 10))
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	got, err := store.Range(ctx, "ETHUSDT", market.MarketSpot, startTS, startTS+9*time.Minute.Milliseconds())
	require.NoError(t, err)
	require.Len(t, got, 10)
	assert.Equal(t, startTS, got[0].OpenTime)
	assert.Equal(t, 100.5, got[0].Close)

	cov, err := store.Coverage(ctx, "ETHUSDT", market.MarketSpot)
	require.NoError(t, err)
	assert.Equal(t, int64(10), cov.Rows)
	assert.Equal(t, startTS, cov.MinTime)
}

func TestStore_MissingOpenTimes(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	startTS := int64(1_700_000_000 * 1000)
	startTS -= startTS % time.Minute.Milliseconds()
	step := time.Minute.Milliseconds()

	candles := minuteCandles(startTS, 5)
	// 挖掉中间一根
	candles = append(candles[:2], candles[3:]...)
	_, err = store.InsertCandles(ctx, "BTCUSDT", market.MarketFutures, candles)
	require.NoError(t, err)

	missing, err := store.MissingOpenTimes(ctx, "BTCUSDT", market.MarketFutures, startTS, startTS+4*step)
	require.NoError(t, err)
	require.Len(t, missing, 1)
	assert.Equal(t, startTS+2*step, missing[0])
}

func TestStore_SeparateMarkets(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	startTS := int64(1_700_000_000 * 1000)
	startTS -= startTS % time.Minute.Milliseconds()

	_, err = store.InsertCandles(ctx, "ETHUSDT", market.MarketSpot, minuteCandles(startTS, 3))
	require.NoError(t, err)

	// 同品种不同市场互不可见
	got, err := store.Range(ctx, "ETHUSDT", market.MarketFutures, startTS, startTS+10*time.Minute.Milliseconds())
	require.NoError(t, err)
	assert.Empty(t, got)
}
