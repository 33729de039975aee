package candledb

import (
	"context"
	"testing"
	"time"

	"tradepipe/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls   int
	candles []market.Candle
}

func (f *fakeFetcher) FetchRange(ctx context.Context, instrument string, marketType market.MarketType, interval string, startTS, endTS int64, limit int) ([]market.Candle, error) {
	f.calls++
	var out []market.Candle
	for _, c := range f.candles {
		if c.OpenTime >= startTS && c.OpenTime <= endTS {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestImporter_EnsureRange(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	startTS := int64(1_700_000_000 * 1000)
	startTS -= startTS % time.Minute.Milliseconds()
	endTS := startTS + 9*time.Minute.Milliseconds()

	fetcher := &fakeFetcher{candles: minuteCandles(startTS, 10)}
	importer := NewImporter(store, fetcher)

	n, err := importer.EnsureRange(ctx, "ETHUSDT", market.MarketSpot, startTS, endTS)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	// 数据已齐全，再跑一遍不再触达远端
	fetcher.calls = 0
	n, err = importer.EnsureRange(ctx, "ETHUSDT", market.MarketSpot, startTS, endTS)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, fetcher.calls)
}

func TestImporter_InvalidRange(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	importer := NewImporter(store, &fakeFetcher{})
	_, err = importer.EnsureRange(context.Background(), "ETHUSDT", market.MarketSpot, 100, 100)
	require.Error(t, err)
}
