package pipeline

import (
	"context"
	"testing"

	"tradepipe/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	logs []ExecutionLog
}

func (m *memSink) Append(log ExecutionLog) {
	m.logs = append(m.logs, log)
}

func passStep(key, message string) Step {
	return StepFunc{
		StepKey: key,
		Fn: func(ctx context.Context, tc TradingContext) StepResult {
			return Continue(tc, message)
		},
	}
}

func TestRunner_EmptySteps(t *testing.T) {
	sink := &memSink{}
	runner := NewRunner(sink, nil)
	initial := NewTradingContext("p1", "ETHUSDT", market.MarketSpot, 3000)

	res := runner.Run(context.Background(), "p1", "exec-1", nil, initial)

	assert.Equal(t, OutcomeContinue, res.Outcome)
	assert.Equal(t, "Started", res.Message)
	assert.Equal(t, initial, res.Ctx)
	assert.Empty(t, sink.logs)
}

func TestRunner_PreCancelledContext(t *testing.T) {
	sink := &memSink{}
	runner := NewRunner(sink, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	step := StepFunc{StepKey: "never", Fn: func(ctx context.Context, tc TradingContext) StepResult {
		called = true
		return Continue(tc, "ok")
	}}
	res := runner.Run(ctx, "p1", "exec-1", []Step{step}, NewTradingContext("p1", "ETHUSDT", market.MarketSpot, 3000))

	assert.Equal(t, OutcomeStop, res.Outcome)
	assert.Equal(t, "Cancelled", res.Message)
	assert.False(t, called)
	assert.Empty(t, sink.logs)
}

func TestRunner_AllContinue(t *testing.T) {
	sink := &memSink{}
	runner := NewRunner(sink, nil)

	first := StepFunc{StepKey: "first", Fn: func(ctx context.Context, tc TradingContext) StepResult {
		return Continue(tc.WithSignal("first", 1), "第一步")
	}}
	second := StepFunc{StepKey: "second", Fn: func(ctx context.Context, tc TradingContext) StepResult {
		// 上一步写入的权重必须已经穿线到这里
		assert.Equal(t, 1.0, tc.SignalWeights["first"])
		return Continue(tc.WithSignal("second", -0.5), "第二步")
	}}

	res := runner.Run(context.Background(), "p1", "exec-1", []Step{first, second},
		NewTradingContext("p1", "ETHUSDT", market.MarketSpot, 3000))

	require.Equal(t, OutcomeContinue, res.Outcome)
	assert.Equal(t, "第二步", res.Message)
	assert.Equal(t, 0.5, res.Ctx.WeightSum())

	require.Len(t, sink.logs, 2)
	assert.Equal(t, "first", sink.logs[0].StepKey)
	assert.Equal(t, "second", sink.logs[1].StepKey)
	for _, log := range sink.logs {
		assert.Equal(t, LogSuccess, log.Outcome)
		assert.Equal(t, "p1", log.PipelineID)
		assert.Equal(t, "exec-1", log.ExecutionID)
		assert.NotEmpty(t, log.Snapshot)
	}
}

func TestRunner_StopShortCircuits(t *testing.T) {
	sink := &memSink{}
	runner := NewRunner(sink, nil)

	executed := []string{}
	mk := func(key string, res func(TradingContext) StepResult) Step {
		return StepFunc{StepKey: key, Fn: func(ctx context.Context, tc TradingContext) StepResult {
			executed = append(executed, key)
			return res(tc)
		}}
	}
	steps := []Step{
		mk("a", func(tc TradingContext) StepResult { return Continue(tc, "ok") }),
		mk("b", func(tc TradingContext) StepResult { return Stop("无事可做") }),
		mk("c", func(tc TradingContext) StepResult { return Continue(tc, "不应执行") }),
	}

	res := runner.Run(context.Background(), "p1", "exec-1", steps,
		NewTradingContext("p1", "ETHUSDT", market.MarketSpot, 3000))

	assert.Equal(t, OutcomeStop, res.Outcome)
	assert.Equal(t, "无事可做", res.Message)
	assert.Equal(t, []string{"a", "b"}, executed)

	// 每个实际执行的步骤恰好一条日志，被跳过的步骤没有
	require.Len(t, sink.logs, 2)
	assert.Equal(t, LogSuccess, sink.logs[0].Outcome)
	assert.Equal(t, LogStopped, sink.logs[1].Outcome)
}

func TestRunner_FailShortCircuits(t *testing.T) {
	sink := &memSink{}
	runner := NewRunner(sink, nil)

	steps := []Step{
		passStep("a", "ok"),
		StepFunc{StepKey: "b", Fn: func(ctx context.Context, tc TradingContext) StepResult {
			return Fail("数据源挂了")
		}},
		passStep("c", "不应执行"),
	}

	res := runner.Run(context.Background(), "p1", "exec-1", steps,
		NewTradingContext("p1", "ETHUSDT", market.MarketSpot, 3000))

	assert.Equal(t, OutcomeFail, res.Outcome)
	assert.Equal(t, "数据源挂了", res.Message)
	require.Len(t, sink.logs, 2)
	assert.Equal(t, LogFailed, sink.logs[1].Outcome)
}

func TestRunner_CancelBetweenSteps(t *testing.T) {
	sink := &memSink{}
	runner := NewRunner(sink, nil)
	ctx, cancel := context.WithCancel(context.Background())

	steps := []Step{
		StepFunc{StepKey: "a", Fn: func(ctx context.Context, tc TradingContext) StepResult {
			cancel() // 步骤执行中取消，不打断当前步骤
			return Continue(tc, "ok")
		}},
		passStep("b", "不应执行"),
	}

	res := runner.Run(ctx, "p1", "exec-1", steps,
		NewTradingContext("p1", "ETHUSDT", market.MarketSpot, 3000))

	assert.Equal(t, OutcomeStop, res.Outcome)
	assert.Equal(t, "Cancelled", res.Message)
	// 已执行步骤的日志保留
	require.Len(t, sink.logs, 1)
	assert.Equal(t, "a", sink.logs[0].StepKey)
	assert.Equal(t, LogSuccess, sink.logs[0].Outcome)
}

func TestRunner_NilContext(t *testing.T) {
	runner := NewRunner(nil, nil)
	res := runner.Run(nil, "p1", "exec-1", []Step{passStep("a", "ok")},
		NewTradingContext("p1", "ETHUSDT", market.MarketSpot, 3000))
	assert.Equal(t, OutcomeContinue, res.Outcome)
	assert.Equal(t, "ok", res.Message)
}

func TestTradingContext_WithSignalCopies(t *testing.T) {
	base := NewTradingContext("p1", "ETHUSDT", market.MarketSpot, 3000)
	a := base.WithSignal("ma", 1)
	b := a.WithSignal("macd", -1)

	assert.Nil(t, base.SignalWeights)
	assert.Equal(t, map[string]float64{"ma": 1}, a.SignalWeights)
	assert.Equal(t, 0.0, b.WeightSum())
	assert.Equal(t, 1.0, a.WeightSum())
}
