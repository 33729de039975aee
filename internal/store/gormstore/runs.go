package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tradepipe/internal/backtest"
	"tradepipe/internal/pipeline"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// InsertRun 落盘新建的 run 行。
func (s *Store) InsertRun(ctx context.Context, run backtest.Run) error {
	rawCfg, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("序列化 run config 失败: %w", err)
	}
	now := time.Now().UnixMilli()
	model := runModel{
		ID:             run.ID,
		PipelineID:     run.PipelineID,
		Status:         run.Status,
		StartTS:        run.StartTS,
		EndTS:          run.EndTS,
		InitialCapital: run.InitialCapital,
		FinalCapital:   run.FinalCapital,
		Config:         rawCfg,
		CreatedAtUnix:  now,
		UpdatedAtUnix:  now,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// UpdateRunStatus 更新状态与进度信息。
func (s *Store) UpdateRunStatus(ctx context.Context, runID, status, message string) error {
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"status":     status,
		"message":    message,
		"updated_at": time.Now().UnixMilli(),
	}).Error
}

// CompleteRun 写入汇总指标并把 run 标记为 completed。
func (s *Store) CompleteRun(ctx context.Context, runID string, metrics backtest.Metrics, message string) error {
	rawMetrics, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("序列化 metrics 失败: %w", err)
	}
	now := time.Now().UnixMilli()
	return s.db.WithContext(ctx).Model(&runModel{}).Where("id = ?", runID).Updates(map[string]interface{}{
		"status":           backtest.RunStatusCompleted,
		"message":          message,
		"final_capital":    metrics.FinalCapital,
		"total_trades":     metrics.TotalTrades,
		"win_rate":         metrics.WinRate,
		"max_drawdown_pct": metrics.MaxDrawdownPct,
		"sharpe_ratio":     metrics.SharpeRatio,
		"metrics":          rawMetrics,
		"updated_at":       now,
		"completed_at":     now,
	}).Error
}

// FailRun 把 run 标记为 failed 并记录原因。
func (s *Store) FailRun(ctx context.Context, runID, message string) error {
	return s.UpdateRunStatus(ctx, runID, backtest.RunStatusFailed, message)
}

// SaveTrades 批量写入成交。
func (s *Store) SaveTrades(ctx context.Context, runID string, trades []backtest.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	models := make([]tradeModel, 0, len(trades))
	for _, t := range trades {
		models = append(models, tradeModel{
			RunID:    runID,
			Side:     string(t.Side),
			Price:    t.Price.String(),
			Quantity: t.Quantity.String(),
			Fee:      t.Fee.String(),
			CandleTS: t.CandleTS,
			Capital:  t.Capital.String(),
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// SaveEquity 批量写入资金曲线采样点。
func (s *Store) SaveEquity(ctx context.Context, runID string, points []backtest.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}
	models := make([]equityModel, 0, len(points))
	for _, p := range points {
		models = append(models, equityModel{
			RunID:    runID,
			TS:       p.TS,
			Equity:   p.Equity,
			Drawdown: p.Drawdown,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 500).Error
}

// SaveLogs 批量写入执行日志。
func (s *Store) SaveLogs(ctx context.Context, runID string, logs []pipeline.ExecutionLog) error {
	if len(logs) == 0 {
		return nil
	}
	models := make([]executionLogModel, 0, len(logs))
	for _, l := range logs {
		models = append(models, executionLogModel{
			RunID:       runID,
			PipelineID:  l.PipelineID,
			ExecutionID: l.ExecutionID,
			StepKey:     l.StepKey,
			Outcome:     l.Outcome,
			Message:     l.Message,
			Snapshot:    []byte(l.Snapshot),
			StartedAt:   l.StartedAt.UnixMilli(),
			FinishedAt:  l.FinishedAt.UnixMilli(),
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(models, 200).Error
}

// AppendExecutionLog 供实盘调度器逐条写入（run_id 为空）。
func (s *Store) AppendExecutionLog(ctx context.Context, log pipeline.ExecutionLog) error {
	model := executionLogModel{
		PipelineID:  log.PipelineID,
		ExecutionID: log.ExecutionID,
		StepKey:     log.StepKey,
		Outcome:     log.Outcome,
		Message:     log.Message,
		Snapshot:    []byte(log.Snapshot),
		StartedAt:   log.StartedAt.UnixMilli(),
		FinishedAt:  log.FinishedAt.UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetRun 读取单个 run。
func (s *Store) GetRun(ctx context.Context, runID string) (backtest.Run, error) {
	var model runModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", runID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return backtest.Run{}, fmt.Errorf("run %s 不存在", runID)
		}
		return backtest.Run{}, err
	}
	return runFromModel(model)
}

// ListRuns 按创建时间倒序返回最近的 run。
func (s *Store) ListRuns(ctx context.Context, pipelineID string, limit int) ([]backtest.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Model(&runModel{}).Order("created_at DESC").Limit(limit)
	if pipelineID != "" {
		q = q.Where("pipeline_id = ?", pipelineID)
	}
	var models []runModel
	if err := q.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Run, 0, len(models))
	for _, m := range models {
		run, err := runFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, nil
}

// ListTrades 按成交时间升序返回某个 run 的成交。
func (s *Store) ListTrades(ctx context.Context, runID string) ([]backtest.Trade, error) {
	var models []tradeModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("candle_ts ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.Trade, 0, len(models))
	for _, m := range models {
		t, err := tradeFromModel(m)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ListEquity 按时间升序返回资金曲线。
func (s *Store) ListEquity(ctx context.Context, runID string) ([]backtest.EquityPoint, error) {
	var models []equityModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("ts ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]backtest.EquityPoint, 0, len(models))
	for _, m := range models {
		out = append(out, backtest.EquityPoint{TS: m.TS, Equity: m.Equity, Drawdown: m.Drawdown})
	}
	return out, nil
}

// ListLogs 按时间升序返回某个 run 的执行日志。
func (s *Store) ListLogs(ctx context.Context, runID string, limit int) ([]pipeline.ExecutionLog, error) {
	if limit <= 0 {
		limit = 500
	}
	var models []executionLogModel
	if err := s.db.WithContext(ctx).Where("run_id = ?", runID).Order("started_at ASC, id ASC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]pipeline.ExecutionLog, 0, len(models))
	for _, m := range models {
		out = append(out, pipeline.ExecutionLog{
			PipelineID:  m.PipelineID,
			ExecutionID: m.ExecutionID,
			StepKey:     m.StepKey,
			Outcome:     m.Outcome,
			Message:     m.Message,
			Snapshot:    string(m.Snapshot),
			StartedAt:   time.UnixMilli(m.StartedAt),
			FinishedAt:  time.UnixMilli(m.FinishedAt),
		})
	}
	return out, nil
}

func runFromModel(m runModel) (backtest.Run, error) {
	run := backtest.Run{
		ID:             m.ID,
		PipelineID:     m.PipelineID,
		Status:         m.Status,
		StartTS:        m.StartTS,
		EndTS:          m.EndTS,
		InitialCapital: m.InitialCapital,
		FinalCapital:   m.FinalCapital,
		TotalTrades:    m.TotalTrades,
		WinRate:        m.WinRate,
		MaxDrawdownPct: m.MaxDrawdownPct,
		SharpeRatio:    m.SharpeRatio,
		Message:        m.Message,
		CreatedAt:      time.UnixMilli(m.CreatedAtUnix),
		UpdatedAt:      time.UnixMilli(m.UpdatedAtUnix),
	}
	if m.CompletedAt > 0 {
		run.CompletedAt = time.UnixMilli(m.CompletedAt)
	}
	if len(m.Config) > 0 {
		if err := json.Unmarshal(m.Config, &run.Config); err != nil {
			return backtest.Run{}, fmt.Errorf("解析 run config 失败: %w", err)
		}
	}
	if len(m.Metrics) > 0 {
		var metrics backtest.Metrics
		if err := json.Unmarshal(m.Metrics, &metrics); err != nil {
			return backtest.Run{}, fmt.Errorf("解析 run metrics 失败: %w", err)
		}
		run.Metrics = &metrics
	}
	return run, nil
}

func tradeFromModel(m tradeModel) (backtest.Trade, error) {
	price, err := decimal.NewFromString(m.Price)
	if err != nil {
		return backtest.Trade{}, fmt.Errorf("解析成交价格失败: %w", err)
	}
	qty, err := decimal.NewFromString(m.Quantity)
	if err != nil {
		return backtest.Trade{}, fmt.Errorf("解析成交数量失败: %w", err)
	}
	fee, err := decimal.NewFromString(m.Fee)
	if err != nil {
		return backtest.Trade{}, fmt.Errorf("解析手续费失败: %w", err)
	}
	capital, err := decimal.NewFromString(m.Capital)
	if err != nil {
		return backtest.Trade{}, fmt.Errorf("解析结余失败: %w", err)
	}
	return backtest.Trade{
		ID:       m.ID,
		RunID:    m.RunID,
		Side:     backtest.TradeSide(m.Side),
		Price:    price,
		Quantity: qty,
		Fee:      fee,
		CandleTS: m.CandleTS,
		Capital:  capital,
	}, nil
}
