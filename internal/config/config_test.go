package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
app:
  env: test
`))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.HTTP.Addr)
	assert.Equal(t, "data/candles", cfg.Data.CandleRoot)
	assert.Equal(t, 2, cfg.Backtest.MaxConcurrent)
	assert.False(t, cfg.Live.Enabled)
	assert.True(t, cfg.Live.DryRun)
}

func TestLoad_Validation(t *testing.T) {
	t.Run("空路径报错", func(t *testing.T) {
		_, err := Load("")
		require.Error(t, err)
	})

	t.Run("文件不存在报错", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		require.Error(t, err)
	})

	t.Run("实盘非 dry-run 需要密钥", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
live:
  enabled: true
  dry_run: false
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")
	})

	t.Run("并发数必须为正", func(t *testing.T) {
		_, err := Load(writeConfig(t, `
backtest:
  max_concurrent: 0
`))
		require.Error(t, err)
	})
}
