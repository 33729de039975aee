package backtest

import (
	"context"
	"sync"
	"testing"
	"time"

	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"
	"tradepipe/internal/pipeline/factory"
	"tradepipe/internal/pipelines"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	defs map[string]pipelines.Definition
}

func (f *fakeRegistry) Get(id string) (pipelines.Definition, bool) {
	def, ok := f.defs[id]
	return def, ok
}

type fakeCandleStore struct {
	candles []market.Candle
}

func (f *fakeCandleStore) Range(ctx context.Context, instrument string, marketType market.MarketType, startTS, endTS int64) ([]market.Candle, error) {
	var out []market.Candle
	for _, c := range f.candles {
		if c.OpenTime >= startTS && c.OpenTime <= endTS {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeResultStore struct {
	mu       sync.Mutex
	statuses []string
	trades   []Trade
	equity   []EquityPoint
	logs     []pipeline.ExecutionLog
	metrics  *Metrics
	note     string
	failMsg  string
	runs     []Run
}

func (f *fakeResultStore) InsertRun(ctx context.Context, run Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, run)
	return nil
}

func (f *fakeResultStore) UpdateRunStatus(ctx context.Context, runID, status, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses = append(f.statuses, status)
	return nil
}

func (f *fakeResultStore) SaveTrades(ctx context.Context, runID string, trades []Trade) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trades = trades
	return nil
}

func (f *fakeResultStore) SaveEquity(ctx context.Context, runID string, points []EquityPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.equity = points
	return nil
}

func (f *fakeResultStore) SaveLogs(ctx context.Context, runID string, logs []pipeline.ExecutionLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = logs
	return nil
}

func (f *fakeResultStore) CompleteRun(ctx context.Context, runID string, metrics Metrics, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.metrics = &metrics
	f.note = message
	return nil
}

func (f *fakeResultStore) FailRun(ctx context.Context, runID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failMsg = message
	return nil
}

// ctxAwareResultStore 模拟 gorm WithContext 的行为：
// ctx 已取消时任何写入直接失败。
type ctxAwareResultStore struct {
	fakeResultStore
}

func (s *ctxAwareResultStore) UpdateRunStatus(ctx context.Context, runID, status, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeResultStore.UpdateRunStatus(ctx, runID, status, message)
}

func (s *ctxAwareResultStore) SaveTrades(ctx context.Context, runID string, trades []Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeResultStore.SaveTrades(ctx, runID, trades)
}

func (s *ctxAwareResultStore) SaveEquity(ctx context.Context, runID string, points []EquityPoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeResultStore.SaveEquity(ctx, runID, points)
}

func (s *ctxAwareResultStore) SaveLogs(ctx context.Context, runID string, logs []pipeline.ExecutionLog) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeResultStore.SaveLogs(ctx, runID, logs)
}

func (s *ctxAwareResultStore) CompleteRun(ctx context.Context, runID string, metrics Metrics, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeResultStore.CompleteRun(ctx, runID, metrics, message)
}

const barMS = int64(60_000)

func barCandles(startTS int64, closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, price := range closes {
		open := startTS + int64(i)*barMS
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + barMS - 1,
			Open:      price,
			High:      price + 1,
			Low:       price - 1,
			Close:     price,
			Volume:    10,
		}
	}
	return out
}

// 无信号步骤、买入阈值为负的流水线：首 bar 即买入，之后持有到期末。
func alwaysBuyDefinition() pipelines.Definition {
	return pipelines.Definition{
		ID:              "p1",
		Name:            "测试流水线",
		Instrument:      "ETHUSDT",
		MarketType:      market.MarketSpot,
		IntervalMinutes: 1,
		Enabled:         true,
		Steps: []factory.StepSpec{
			{Type: "check_position", Enabled: true},
			{Type: "execution", Enabled: true, Params: map[string]any{
				"buy_threshold":  -1.0,
				"sell_threshold": -2.0,
				"trade_amount":   500.0,
			}},
		},
	}
}

func TestEngine_Execute_BuyAndForceClose(t *testing.T) {
	startTS := int64(1_700_000_000_000)
	registry := &fakeRegistry{defs: map[string]pipelines.Definition{"p1": alwaysBuyDefinition()}}
	candles := &fakeCandleStore{candles: barCandles(startTS, 100, 110, 120)}
	results := &fakeResultStore{}
	engine := NewEngine(registry, candles, results)

	run := Run{
		ID:         "run-1",
		PipelineID: "p1",
		Config: RunConfig{
			PipelineID:      "p1",
			StartTS:         startTS,
			EndTS:           startTS + 3*barMS,
			IntervalMinutes: 1,
			InitialCapital:  1000,
		},
	}
	require.NoError(t, engine.Execute(context.Background(), run))

	// 买入 + 期末强制平仓 = 两条成交 = 一个回合
	require.Len(t, results.trades, 2)
	require.NotNil(t, results.metrics)
	assert.Equal(t, 1, results.metrics.TotalTrades)
	assert.Equal(t, 1, results.metrics.WinningTrades)

	// 100 买入 500（5 个），120 平仓 → 500 + 600 = 1100
	assert.InDelta(t, 1100.0, results.metrics.FinalCapital, 1e-6)
	assert.InDelta(t, 10.0, results.metrics.TotalReturnPct, 1e-6)

	// 每根 bar 一个采样点，终点等于已实现余额
	require.Len(t, results.equity, 3)
	assert.InDelta(t, 1100.0, results.equity[2].Equity, 1e-6)

	// 每个执行的步骤一条日志（3 bar × 2 步骤），时间钉在 bar 上
	require.Len(t, results.logs, 6)
	assert.Equal(t, time.UnixMilli(startTS+barMS-1), results.logs[0].StartedAt)
	assert.Empty(t, results.failMsg)
}

func TestEngine_Execute_UnknownPipeline(t *testing.T) {
	registry := &fakeRegistry{defs: map[string]pipelines.Definition{}}
	results := &fakeResultStore{}
	engine := NewEngine(registry, &fakeCandleStore{}, results)

	err := engine.Execute(context.Background(), Run{ID: "run-1", PipelineID: "nope"})
	require.Error(t, err)
	assert.Contains(t, results.failMsg, "未知流水线")
}

func TestEngine_Execute_NoCandles(t *testing.T) {
	registry := &fakeRegistry{defs: map[string]pipelines.Definition{"p1": alwaysBuyDefinition()}}
	results := &fakeResultStore{}
	engine := NewEngine(registry, &fakeCandleStore{}, results)

	err := engine.Execute(context.Background(), Run{
		ID:         "run-1",
		PipelineID: "p1",
		Config:     RunConfig{PipelineID: "p1", StartTS: 1_700_000_000_000, EndTS: 1_700_000_060_000, IntervalMinutes: 1, InitialCapital: 1000},
	})
	require.Error(t, err)
	assert.Contains(t, results.failMsg, "K 线")
	// 找到定义后立即进入 running，加载数据不占用 pending
	assert.Equal(t, []string{RunStatusRunning}, results.statuses)
}

func TestEngine_Execute_NoEnabledSteps(t *testing.T) {
	startTS := int64(1_700_000_000_000)
	def := alwaysBuyDefinition()
	for i := range def.Steps {
		def.Steps[i].Enabled = false
	}
	registry := &fakeRegistry{defs: map[string]pipelines.Definition{"p1": def}}
	candles := &fakeCandleStore{candles: barCandles(startTS, 100, 110, 120)}
	results := &fakeResultStore{}
	engine := NewEngine(registry, candles, results)

	err := engine.Execute(context.Background(), Run{
		ID:         "run-1",
		PipelineID: "p1",
		Config:     RunConfig{PipelineID: "p1", StartTS: startTS, EndTS: startTS + 3*barMS, IntervalMinutes: 1, InitialCapital: 1000},
	})
	// 全部步骤停用时空转回放没有意义，必须按结构性失败处理
	require.Error(t, err)
	assert.Contains(t, results.failMsg, "启用")
	assert.Nil(t, results.metrics)
}

func TestEngine_Execute_SamplesOnlyExecutedBars(t *testing.T) {
	startTS := int64(1_700_000_000_000)
	def := alwaysBuyDefinition()
	def.IntervalMinutes = 5
	registry := &fakeRegistry{defs: map[string]pipelines.Definition{"p1": def}}
	candles := &fakeCandleStore{candles: barCandles(startTS, 100, 101, 102, 103, 104, 105, 106, 107, 108, 109)}
	results := &fakeResultStore{}
	engine := NewEngine(registry, candles, results)

	require.NoError(t, engine.Execute(context.Background(), Run{
		ID:         "run-1",
		PipelineID: "p1",
		Config:     RunConfig{PipelineID: "p1", StartTS: startTS, EndTS: startTS + 10*barMS, IntervalMinutes: 5, InitialCapital: 1000},
	}))

	// 5 分钟间隔下 10 根 1 分钟 K 线只执行 2 个 bar，
	// 资金曲线也只有这 2 个采样点
	require.Len(t, results.equity, 2)
	assert.Equal(t, startTS+barMS-1, results.equity[0].TS)
	assert.Equal(t, startTS+6*barMS-1, results.equity[1].TS)
	require.Len(t, results.logs, 4)

	// 强制平仓以最后执行 bar 的价格结算：500 + 5×105 = 1025
	require.NotNil(t, results.metrics)
	assert.InDelta(t, 1025.0, results.metrics.FinalCapital, 1e-6)
	assert.InDelta(t, 1025.0, results.equity[1].Equity, 1e-6)
}

func TestEngine_Execute_CancelledKeepsArtifacts(t *testing.T) {
	startTS := int64(1_700_000_000_000)
	registry := &fakeRegistry{defs: map[string]pipelines.Definition{"p1": alwaysBuyDefinition()}}
	candles := &fakeCandleStore{candles: barCandles(startTS, 100, 110, 120)}
	// 写入遵循 ctx 的存储：收尾落盘不能复用被取消的 ctx
	results := &ctxAwareResultStore{}
	engine := NewEngine(registry, candles, results)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := engine.Execute(ctx, Run{
		ID:         "run-1",
		PipelineID: "p1",
		Config:     RunConfig{PipelineID: "p1", StartTS: startTS, EndTS: startTS + 3*barMS, IntervalMinutes: 1, InitialCapital: 1000},
	})
	// 取消不是结构性失败：run 正常收尾并标记完成
	require.NoError(t, err)
	require.NotNil(t, results.metrics)
	assert.Contains(t, results.note, "取消")
	assert.Empty(t, results.failMsg)
}

func TestDownsample(t *testing.T) {
	points := make([]EquityPoint, 1000)
	for i := range points {
		points[i] = EquityPoint{TS: int64(i), Equity: float64(i)}
	}
	out := downsample(points, maxEquityPoints)

	assert.LessOrEqual(t, len(out), maxEquityPoints)
	assert.Equal(t, int64(0), out[0].TS)
	assert.Equal(t, int64(999), out[len(out)-1].TS)
	for i := 1; i < len(out); i++ {
		assert.Greater(t, out[i].TS, out[i-1].TS)
	}

	t.Run("小于上限原样返回", func(t *testing.T) {
		small := points[:100]
		assert.Len(t, downsample(small, maxEquityPoints), 100)
	})
}

func TestStampDrawdown(t *testing.T) {
	points := stampDrawdown([]EquityPoint{
		{Equity: 1000},
		{Equity: 1200},
		{Equity: 900},
	})
	assert.Equal(t, 0.0, points[0].Drawdown)
	assert.Equal(t, 0.0, points[1].Drawdown)
	assert.InDelta(t, 0.25, points[2].Drawdown, 1e-9)
}
