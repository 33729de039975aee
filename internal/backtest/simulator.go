package backtest

import (
	"context"
	"fmt"
	"time"

	"tradepipe/internal/logger"

	"github.com/google/uuid"
)

// RunInserter 负责落盘新建的 run 行。
type RunInserter interface {
	InsertRun(ctx context.Context, run Run) error
}

type SimulatorConfig struct {
	Pipelines     PipelineSource
	Engine        *Engine
	Runs          RunInserter
	MaxConcurrent int
}

// Simulator 接收回测请求：校验参数、插入 pending 行后立即返回，
// 实际回放在后台 worker 中进行，并发数受信号量约束。
type Simulator struct {
	pipelines PipelineSource
	engine    *Engine
	runs      RunInserter

	sem     chan struct{}
	baseCtx context.Context
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.Pipelines == nil {
		return nil, fmt.Errorf("pipeline source 不能为空")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine 不能为空")
	}
	if cfg.Runs == nil {
		return nil, fmt.Errorf("run store 不能为空")
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Simulator{
		pipelines: cfg.Pipelines,
		engine:    cfg.Engine,
		runs:      cfg.Runs,
		sem:       make(chan struct{}, maxConcurrent),
		baseCtx:   context.Background(),
	}, nil
}

// SetContext 注入进程级取消上下文，关停时回测随之收尾。
func (s *Simulator) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Simulator) ctx() context.Context {
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

// StartRun 创建回测任务并立即返回，模拟过程在后台进行。
func (s *Simulator) StartRun(req RunRequest) (Run, error) {
	def, ok := s.pipelines.Get(req.PipelineID)
	if !ok {
		return Run{}, fmt.Errorf("未知流水线: %s", req.PipelineID)
	}
	if req.StartTS <= 0 || req.EndTS <= 0 || req.EndTS <= req.StartTS {
		return Run{}, fmt.Errorf("start/end 非法")
	}
	intervalMinutes := req.IntervalMinutes
	if intervalMinutes <= 0 {
		intervalMinutes = def.IntervalMinutes
	}
	initialCapital := req.InitialCapital
	if initialCapital <= 0 {
		initialCapital = 10000
	}

	cfg := RunConfig{
		PipelineID:      def.ID,
		StartTS:         req.StartTS,
		EndTS:           req.EndTS,
		IntervalMinutes: intervalMinutes,
		InitialCapital:  initialCapital,
	}
	now := time.Now()
	run := Run{
		ID:             uuid.NewString(),
		PipelineID:     def.ID,
		Status:         RunStatusPending,
		StartTS:        cfg.StartTS,
		EndTS:          cfg.EndTS,
		InitialCapital: initialCapital,
		FinalCapital:   initialCapital,
		Config:         cfg,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.runs.InsertRun(s.ctx(), run); err != nil {
		return Run{}, err
	}
	go s.runLoop(run)
	return run, nil
}

func (s *Simulator) runLoop(run Run) {
	select {
	case s.sem <- struct{}{}:
	default:
		logger.Warnf("[backtest] run %s 等待可用 worker", run.ID)
		s.sem <- struct{}{}
	}
	defer func() { <-s.sem }()

	if err := s.engine.Execute(s.ctx(), run); err != nil {
		logger.Warnf("[backtest] run %s 失败: %v", run.ID, err)
	}
}
