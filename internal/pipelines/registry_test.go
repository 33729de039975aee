package pipelines

import (
	"os"
	"path/filepath"
	"testing"

	"tradepipe/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pipelines.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `
pipelines:
  - id: eth-trend
    instrument: ETH/USDT
    market_type: spot
    interval_minutes: 5
    enabled: true
    steps:
      - type: check_position
        enabled: true
      - type: execution
        enabled: true
        params:
          buy_threshold: 1.0
          sell_threshold: -1.0
          trade_amount: 500
  - id: btc-revert
    instrument: BTCUSDT
    market_type: futures
    enabled: false
    steps:
      - type: check_position
        enabled: true
`

func TestRegistry_Load(t *testing.T) {
	registry, err := NewRegistry(writeConfig(t, validConfig))
	require.NoError(t, err)

	def, ok := registry.Get("eth-trend")
	require.True(t, ok)
	// 品种归一化、缺省名回落到 ID
	assert.Equal(t, "ETHUSDT", def.Instrument)
	assert.Equal(t, "eth-trend", def.Name)
	assert.Equal(t, market.MarketSpot, def.MarketType)
	assert.Len(t, def.Steps, 2)

	all := registry.List()
	require.Len(t, all, 2)
	assert.Equal(t, "btc-revert", all[0].ID)

	enabled := registry.Enabled()
	require.Len(t, enabled, 1)
	assert.Equal(t, "eth-trend", enabled[0].ID)
}

func TestRegistry_DefaultsAndErrors(t *testing.T) {
	t.Run("缺省 interval 与市场类型", func(t *testing.T) {
		registry, err := NewRegistry(writeConfig(t, `
pipelines:
  - id: p1
    instrument: ethusdt
    steps:
      - type: check_position
        enabled: true
`))
		require.NoError(t, err)
		def, _ := registry.Get("p1")
		assert.Equal(t, 5, def.IntervalMinutes)
		assert.Equal(t, market.MarketSpot, def.MarketType)
	})

	t.Run("重复 ID 报错", func(t *testing.T) {
		_, err := NewRegistry(writeConfig(t, `
pipelines:
  - id: p1
    instrument: ETHUSDT
    steps: [{type: check_position, enabled: true}]
  - id: p1
    instrument: BTCUSDT
    steps: [{type: check_position, enabled: true}]
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "重复")
	})

	t.Run("无步骤报错", func(t *testing.T) {
		_, err := NewRegistry(writeConfig(t, `
pipelines:
  - id: p1
    instrument: ETHUSDT
`))
		require.Error(t, err)
	})

	t.Run("缺 instrument 报错", func(t *testing.T) {
		_, err := NewRegistry(writeConfig(t, `
pipelines:
  - id: p1
    steps: [{type: check_position, enabled: true}]
`))
		require.Error(t, err)
	})
}
