package backtest

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"tradepipe/internal/logger"
	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"
	"tradepipe/internal/pipeline/factory"
	"tradepipe/internal/pipeline/steps"
	"tradepipe/internal/pipelines"

	"github.com/google/uuid"
)

// maxEquityPoints 是持久化资金曲线的采样上限，超出则等距抽稀。
const maxEquityPoints = 500

// warmupBars 是回放起点之前额外加载的 K 线数量，供指标预热。
const warmupBars = 200

// PipelineSource 提供流水线定义；实际实现为 pipelines.Registry。
type PipelineSource interface {
	Get(id string) (pipelines.Definition, bool)
}

// CandleStore 提供历史 K 线区间读取（1 分钟粒度，毫秒时间戳闭区间）。
type CandleStore interface {
	Range(ctx context.Context, instrument string, marketType market.MarketType, startTS, endTS int64) ([]market.Candle, error)
}

// ResultStore 持久化回测产物。
type ResultStore interface {
	UpdateRunStatus(ctx context.Context, runID, status, message string) error
	SaveTrades(ctx context.Context, runID string, trades []Trade) error
	SaveEquity(ctx context.Context, runID string, points []EquityPoint) error
	SaveLogs(ctx context.Context, runID string, logs []pipeline.ExecutionLog) error
	CompleteRun(ctx context.Context, runID string, metrics Metrics, message string) error
	FailRun(ctx context.Context, runID, message string) error
}

// Engine 以历史 K 线逐 bar 驱动流水线执行并结算产物。
type Engine struct {
	pipelines PipelineSource
	candles   CandleStore
	results   ResultStore
}

func NewEngine(pipelines PipelineSource, candles CandleStore, results ResultStore) *Engine {
	return &Engine{pipelines: pipelines, candles: candles, results: results}
}

// logRecorder 在内存中累积执行日志，并把时间戳钉在当前 bar 的
// 收盘时刻上，避免回放日志带上墙钟时间。
type logRecorder struct {
	mu      sync.Mutex
	barTime time.Time
	logs    []pipeline.ExecutionLog
}

func (r *logRecorder) setBarTime(t time.Time) {
	r.mu.Lock()
	r.barTime = t
	r.mu.Unlock()
}

func (r *logRecorder) Append(log pipeline.ExecutionLog) {
	r.mu.Lock()
	if !r.barTime.IsZero() {
		log.StartedAt = r.barTime
		log.FinishedAt = r.barTime
	}
	r.logs = append(r.logs, log)
	r.mu.Unlock()
}

// sliceWindow 把整段回放数据按 bar 时间切片成 CandleWindow：
// 只暴露收盘时刻不晚于 end 的最近 limit 根 K 线，
// 信号步骤因此永远看不到未来数据。
type sliceWindow struct {
	candles []market.Candle
}

func (w *sliceWindow) Window(ctx context.Context, instrument string, marketType market.MarketType, interval string, end time.Time, limit int) ([]market.Candle, error) {
	endMS := end.UnixMilli()
	cut := 0
	for cut < len(w.candles) && w.candles[cut].CloseTime <= endMS {
		cut++
	}
	visible := w.candles[:cut]
	if limit > 0 && len(visible) > limit {
		visible = visible[len(visible)-limit:]
	}
	out := make([]market.Candle, len(visible))
	copy(out, visible)
	return out, nil
}

// Execute 执行一次完整回测。结构性失败（定义缺失、数据不足、
// 步骤装配失败）标记 run 为 failed 并返回错误；
// 单个 bar 的 Stop/Fail 只记入日志，绝不中断回放。
func (e *Engine) Execute(ctx context.Context, run Run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("[backtest] run %s panic: %v\n%s", run.ID, rec, debug.Stack())
			err = fmt.Errorf("回测 panic: %v", rec)
			_ = e.results.FailRun(context.Background(), run.ID, err.Error())
		}
	}()
	if ctx == nil {
		ctx = context.Background()
	}

	def, ok := e.pipelines.Get(run.PipelineID)
	if !ok {
		return e.fail(run.ID, fmt.Errorf("未知流水线: %s", run.PipelineID))
	}
	cfg := run.Config
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	_ = e.results.UpdateRunStatus(ctx, run.ID, RunStatusRunning, "加载 K 线…")

	warmStart := cfg.StartTS - int64(warmupBars)*time.Minute.Milliseconds()
	if warmStart < 0 {
		warmStart = 0
	}
	all, err := e.candles.Range(ctx, def.Instrument, def.MarketType, warmStart, cfg.EndTS)
	if err != nil {
		return e.fail(run.ID, fmt.Errorf("读取 K 线失败: %w", err))
	}
	startIdx := 0
	for startIdx < len(all) && all[startIdx].CloseTime < cfg.StartTS {
		startIdx++
	}
	replay := all[startIdx:]
	if len(replay) == 0 {
		return e.fail(run.ID, fmt.Errorf("区间 [%d, %d] 内没有 %s 的 K 线数据", cfg.StartTS, cfg.EndTS, def.Instrument))
	}

	state := NewState(cfg.InitialCapital)
	executor := NewExecutorAdapter(state, run.ID)
	window := &sliceWindow{candles: all}
	deps := factory.New(steps.Collaborators{
		Positions: NewPositionAdapter(state),
		Executor:  executor,
		Candles:   window,
	})
	built, err := deps.BuildAll(def.Steps)
	if err != nil {
		return e.fail(run.ID, fmt.Errorf("装配步骤失败: %w", err))
	}
	if len(built) == 0 {
		return e.fail(run.ID, fmt.Errorf("流水线 %s 没有启用的步骤", def.ID))
	}

	recorder := &logRecorder{}
	runner := pipeline.NewRunner(recorder, nil)

	equity := make([]EquityPoint, 0, len(replay))
	nextExec := cfg.StartTS
	note := "完成"
	cancelled := false
	var lastExec market.Candle

	for _, candle := range replay {
		if ctx.Err() != nil {
			cancelled = true
			note = "已取消，保留截至取消时刻的产物"
			break
		}
		if candle.CloseTime < nextExec {
			continue
		}
		barTime := time.UnixMilli(candle.CloseTime)
		recorder.setBarTime(barTime)
		tc := pipeline.NewTradingContext(def.ID, def.Instrument, def.MarketType, candle.Close).
			WithSimulatedTime(barTime)
		res := runner.Run(ctx, def.ID, uuid.NewString(), built, tc)
		if res.Outcome == pipeline.OutcomeFail {
			logger.Debugf("[backtest] run %s bar %d 执行失败: %s", run.ID, candle.CloseTime, res.Message)
		}
		for nextExec <= candle.CloseTime {
			nextExec += interval.Milliseconds()
		}
		// 资金曲线只在执行 bar 上采样，采样间隔与执行间隔一致
		equity = append(equity, EquityPoint{TS: candle.CloseTime, Equity: state.Equity(candle.Close)})
		lastExec = candle
	}

	// 回放结束后强制平仓：权益结算到已实现余额，
	// 末尾采样点同步改写，使曲线终点等于最终资金。
	if state.HasPosition() && len(equity) > 0 {
		barTime := time.UnixMilli(lastExec.CloseTime)
		tc := pipeline.NewTradingContext(def.ID, def.Instrument, def.MarketType, lastExec.Close).
			WithSimulatedTime(barTime)
		if _, msg, execErr := executor.ExecuteSell(context.Background(), tc); execErr == nil {
			logger.Infof("[backtest] run %s 期末强制平仓: %s", run.ID, msg)
		}
		equity[len(equity)-1].Equity = state.Balance().InexactFloat64()
	}

	equity = stampDrawdown(downsample(equity, maxEquityPoints))
	metrics := Calculate(cfg.InitialCapital, state.Trades(), equity)

	// 收尾落盘用独立 context：取消只终止回放，
	// 已收集的成交/曲线/日志必须完整保留。
	persistCtx := context.Background()
	if err := e.results.SaveTrades(persistCtx, run.ID, state.Trades()); err != nil {
		return e.fail(run.ID, fmt.Errorf("保存成交失败: %w", err))
	}
	if err := e.results.SaveEquity(persistCtx, run.ID, equity); err != nil {
		return e.fail(run.ID, fmt.Errorf("保存资金曲线失败: %w", err))
	}
	if err := e.results.SaveLogs(persistCtx, run.ID, recorder.logs); err != nil {
		return e.fail(run.ID, fmt.Errorf("保存执行日志失败: %w", err))
	}
	if err := e.results.CompleteRun(persistCtx, run.ID, metrics, note); err != nil {
		return e.fail(run.ID, fmt.Errorf("落盘汇总失败: %w", err))
	}
	if cancelled {
		logger.Warnf("[backtest] run %s 被取消，已保留部分产物", run.ID)
	}
	return nil
}

func (e *Engine) fail(runID string, cause error) error {
	if ferr := e.results.FailRun(context.Background(), runID, cause.Error()); ferr != nil {
		logger.Errorf("[backtest] 标记 run %s 失败时出错: %v", runID, ferr)
	}
	return cause
}

// downsample 将资金曲线等距抽稀到 limit 个点以内，
// 保留首尾两点且不改变顺序。
func downsample(points []EquityPoint, limit int) []EquityPoint {
	if limit <= 0 || len(points) <= limit {
		return points
	}
	out := make([]EquityPoint, 0, limit)
	step := float64(len(points)-1) / float64(limit-1)
	prev := -1
	for i := 0; i < limit; i++ {
		idx := int(float64(i)*step + 0.5)
		if idx >= len(points) {
			idx = len(points) - 1
		}
		if idx == prev {
			continue
		}
		out = append(out, points[idx])
		prev = idx
	}
	if out[len(out)-1].TS != points[len(points)-1].TS {
		out = append(out, points[len(points)-1])
	}
	return out
}

// stampDrawdown 按运行峰值回写每个采样点的回撤比例。
func stampDrawdown(points []EquityPoint) []EquityPoint {
	peak := 0.0
	for i, p := range points {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak > 0 {
			points[i].Drawdown = (peak - p.Equity) / peak
		}
	}
	return points
}
