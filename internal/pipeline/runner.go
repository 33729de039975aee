package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"tradepipe/internal/logger"
)

// 执行日志的三种结果。
const (
	LogSuccess = "success"
	LogStopped = "stopped"
	LogFailed  = "failed"
)

// ExecutionLog 对应一次步骤调用：每个实际执行的步骤恰好产生一条，
// 因 Stop/Fail 被跳过的步骤不产生日志。
type ExecutionLog struct {
	PipelineID  string    `json:"pipeline_id"`
	ExecutionID string    `json:"execution_id"`
	StepKey     string    `json:"step_key"`
	Outcome     string    `json:"outcome"`
	Message     string    `json:"message"`
	Snapshot    string    `json:"snapshot"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}

// LogSink 接收执行日志；持久化策略由调用方决定，
// Runner 只负责发射。
type LogSink interface {
	Append(log ExecutionLog)
}

// Snapshotter 序列化上下文快照写入日志。
type Snapshotter func(TradingContext) string

// JSONSnapshot 是默认的快照序列化。
func JSONSnapshot(tc TradingContext) string {
	raw, err := json.Marshal(tc)
	if err != nil {
		logger.Warnf("[runner] 上下文序列化失败: %v", err)
		return ""
	}
	return string(raw)
}

// Runner 按声明顺序串行执行步骤列表。步骤之间绝不并行：
// 每一步都读写共享上下文，且副作用有顺序依赖（先 gate 后 entry）。
type Runner struct {
	sink     LogSink
	snapshot Snapshotter
}

func NewRunner(sink LogSink, snapshot Snapshotter) *Runner {
	if snapshot == nil {
		snapshot = JSONSnapshot
	}
	return &Runner{sink: sink, snapshot: snapshot}
}

// Run 依次执行 steps 并返回最终结果：
//   - 调用前已取消：立即 Stop("Cancelled")，不产生任何日志；
//   - steps 为空：Continue(initial, "Started")，定义恒等情形；
//   - 某步返回 Stop/Fail：立即返回该结果，后续步骤不再执行；
//   - 全部 Continue：返回最后一步的 Continue（携带完整穿线后的上下文）。
//
// 取消只在步骤之间检查，绝不打断执行中的步骤；已发射的日志保留。
func (r *Runner) Run(ctx context.Context, pipelineID, executionID string, steps []Step, initial TradingContext) StepResult {
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return Stop("Cancelled")
	}
	if len(steps) == 0 {
		return Continue(initial, "Started")
	}

	current := initial
	last := Continue(initial, "Started")
	for _, step := range steps {
		if ctx.Err() != nil {
			return Stop("Cancelled")
		}
		startedAt := time.Now()
		res := step.Run(ctx, current)
		finishedAt := time.Now()

		snapCtx := current
		outcome := LogFailed
		switch res.Outcome {
		case OutcomeContinue:
			outcome = LogSuccess
			snapCtx = res.Ctx
		case OutcomeStop:
			outcome = LogStopped
		}
		r.emit(ExecutionLog{
			PipelineID:  pipelineID,
			ExecutionID: executionID,
			StepKey:     step.Key(),
			Outcome:     outcome,
			Message:     res.Message,
			Snapshot:    r.snapshot(snapCtx),
			StartedAt:   startedAt,
			FinishedAt:  finishedAt,
		})

		if res.Outcome != OutcomeContinue {
			return res
		}
		current = res.Ctx
		last = res
	}
	return last
}

func (r *Runner) emit(log ExecutionLog) {
	if r.sink == nil {
		return
	}
	r.sink.Append(log)
}
