// Package live 按配置节奏在真实行情上驱动流水线执行。
package live

import (
	"context"
	"sync"
	"time"

	"tradepipe/internal/gateway/binance"
	"tradepipe/internal/logger"
	"tradepipe/internal/market"
	"tradepipe/internal/pipeline"
	"tradepipe/internal/pipeline/factory"
	"tradepipe/internal/pipeline/steps"
	"tradepipe/internal/pipelines"
	"tradepipe/internal/store/gormstore"

	"github.com/google/uuid"
)

// ledgerAdapter 把 gormstore 的持仓接口适配成执行器需要的形状。
type ledgerAdapter struct {
	store *gormstore.Store
}

func (l *ledgerAdapter) OpenPosition(ctx context.Context, pipelineID string) (*steps.OpenPosition, error) {
	return l.store.OpenPosition(ctx, pipelineID)
}

func (l *ledgerAdapter) RecordOpen(ctx context.Context, pipelineID, orderID, instrument string, marketType market.MarketType, entryPrice, quantity float64, entryTime time.Time) error {
	return l.store.RecordOpen(ctx, gormstore.LivePosition{
		PipelineID: pipelineID,
		OrderID:    orderID,
		Instrument: instrument,
		MarketType: marketType,
		EntryPrice: entryPrice,
		Quantity:   quantity,
		EntryTime:  entryTime,
	})
}

func (l *ledgerAdapter) RecordClose(ctx context.Context, orderID string, exitPrice float64, closedAt time.Time) error {
	return l.store.RecordClose(ctx, orderID, exitPrice, closedAt)
}

// storeSink 把执行日志逐条写入数据库。
type storeSink struct {
	store *gormstore.Store
}

func (s *storeSink) Append(log pipeline.ExecutionLog) {
	if err := s.store.AppendExecutionLog(context.Background(), log); err != nil {
		logger.Warnf("[live] 写执行日志失败: %v", err)
	}
}

// Scheduler 为每条启用的流水线维护一个定时循环，
// 登记表热重载时循环集合随之收敛。
type Scheduler struct {
	registry *pipelines.Registry
	source   *binance.Source
	store    *gormstore.Store
	dryRun   bool

	runner  *pipeline.Runner
	factory *factory.Factory

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(registry *pipelines.Registry, source *binance.Source, store *gormstore.Store, dryRun bool) *Scheduler {
	ledger := &ledgerAdapter{store: store}
	executor := binance.NewExecutor(source, ledger, dryRun)
	deps := steps.Collaborators{
		Positions: store,
		Executor:  executor,
		Candles:   source,
	}
	return &Scheduler{
		registry: registry,
		source:   source,
		store:    store,
		dryRun:   dryRun,
		runner:   pipeline.NewRunner(&storeSink{store: store}, nil),
		factory:  factory.New(deps),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run 启动调度并阻塞到 ctx 取消。
func (s *Scheduler) Run(ctx context.Context) error {
	s.reconcile(ctx, s.registry.Enabled())
	s.registry.OnChange(func(snap pipelines.Snapshot) {
		enabled := make([]pipelines.Definition, 0, len(snap.Definitions))
		for _, def := range snap.Definitions {
			if def.Enabled {
				enabled = append(enabled, def)
			}
		}
		s.reconcile(ctx, enabled)
	})

	<-ctx.Done()
	s.mu.Lock()
	for id, cancel := range s.cancels {
		cancel()
		delete(s.cancels, id)
	}
	s.mu.Unlock()
	s.wg.Wait()
	return ctx.Err()
}

// reconcile 让运行中的循环集合与启用的定义集合对齐。
func (s *Scheduler) reconcile(ctx context.Context, enabled []pipelines.Definition) {
	want := make(map[string]pipelines.Definition, len(enabled))
	for _, def := range enabled {
		want[def.ID] = def
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, cancel := range s.cancels {
		if _, ok := want[id]; !ok {
			logger.Infof("[live] 停止流水线 %s", id)
			cancel()
			delete(s.cancels, id)
		}
	}
	for id, def := range want {
		if _, running := s.cancels[id]; running {
			continue
		}
		loopCtx, cancel := context.WithCancel(ctx)
		s.cancels[id] = cancel
		s.wg.Add(1)
		go s.loop(loopCtx, def)
		logger.Infow("[live] 启动流水线", "pipeline", id, "instrument", def.Instrument, "interval_min", def.IntervalMinutes)
	}
}

func (s *Scheduler) loop(ctx context.Context, def pipelines.Definition) {
	defer s.wg.Done()
	interval := time.Duration(def.IntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.executeOnce(ctx, def)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.executeOnce(ctx, def)
		}
	}
}

func (s *Scheduler) executeOnce(ctx context.Context, def pipelines.Definition) {
	// 每次执行都按最新定义重新装配，热重载的参数即时生效。
	current, ok := s.registry.Get(def.ID)
	if !ok {
		return
	}
	built, err := s.factory.BuildAll(current.Steps)
	if err != nil {
		logger.Errorf("[live] 流水线 %s 装配失败: %v", def.ID, err)
		return
	}
	price, err := s.source.TickerPrice(ctx, current.Instrument, current.MarketType)
	if err != nil {
		logger.Warnf("[live] 流水线 %s 获取价格失败: %v", def.ID, err)
		return
	}
	tc := pipeline.NewTradingContext(current.ID, current.Instrument, current.MarketType, price)
	res := s.runner.Run(ctx, current.ID, uuid.NewString(), built, tc)
	switch res.Outcome {
	case pipeline.OutcomeFail:
		logger.Errorf("[live] 流水线 %s 执行失败: %s", def.ID, res.Message)
	case pipeline.OutcomeStop:
		logger.Infof("[live] 流水线 %s 提前停止: %s", def.ID, res.Message)
	default:
		logger.Debugf("[live] 流水线 %s 执行完成: %s", def.ID, res.Message)
	}
}
