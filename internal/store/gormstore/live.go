package gormstore

import (
	"context"
	"errors"
	"time"

	"tradepipe/internal/market"
	"tradepipe/internal/pipeline/steps"

	"gorm.io/gorm"
)

// LivePosition 是实盘持仓的存储视图。
type LivePosition struct {
	PipelineID string            `json:"pipeline_id"`
	OrderID    string            `json:"order_id"`
	Instrument string            `json:"instrument"`
	MarketType market.MarketType `json:"market_type"`
	EntryPrice float64           `json:"entry_price"`
	Quantity   float64           `json:"quantity"`
	EntryTime  time.Time         `json:"entry_time"`
}

// OpenPosition 返回某条流水线当前的未平仓位，没有则返回 nil。
// 该方法同时满足 steps.PositionSource。
func (s *Store) OpenPosition(ctx context.Context, pipelineID string) (*steps.OpenPosition, error) {
	var model livePositionModel
	err := s.db.WithContext(ctx).
		Where("pipeline_id = ? AND status = ?", pipelineID, positionStatusOpen).
		Order("entry_time DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &steps.OpenPosition{
		OrderID:    model.OrderID,
		EntryPrice: model.EntryPrice,
		Quantity:   model.Quantity,
		EntryTime:  time.UnixMilli(model.EntryTime),
	}, nil
}

// RecordOpen 记录一笔新开仓。
func (s *Store) RecordOpen(ctx context.Context, pos LivePosition) error {
	model := livePositionModel{
		PipelineID: pos.PipelineID,
		OrderID:    pos.OrderID,
		Instrument: pos.Instrument,
		MarketType: string(pos.MarketType),
		EntryPrice: pos.EntryPrice,
		Quantity:   pos.Quantity,
		EntryTime:  pos.EntryTime.UnixMilli(),
		Status:     positionStatusOpen,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// RecordClose 以成交价平掉某个订单对应的仓位。
func (s *Store) RecordClose(ctx context.Context, orderID string, exitPrice float64, closedAt time.Time) error {
	return s.db.WithContext(ctx).Model(&livePositionModel{}).
		Where("order_id = ? AND status = ?", orderID, positionStatusOpen).
		Updates(map[string]interface{}{
			"status":     positionStatusClosed,
			"exit_price": exitPrice,
			"closed_at":  closedAt.UnixMilli(),
		}).Error
}

// ListOpenPositions 返回全部未平仓位，供 HTTP 状态页使用。
func (s *Store) ListOpenPositions(ctx context.Context) ([]LivePosition, error) {
	var models []livePositionModel
	if err := s.db.WithContext(ctx).Where("status = ?", positionStatusOpen).Order("entry_time ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]LivePosition, 0, len(models))
	for _, m := range models {
		out = append(out, LivePosition{
			PipelineID: m.PipelineID,
			OrderID:    m.OrderID,
			Instrument: m.Instrument,
			MarketType: market.MarketType(m.MarketType),
			EntryPrice: m.EntryPrice,
			Quantity:   m.Quantity,
			EntryTime:  time.UnixMilli(m.EntryTime),
		})
	}
	return out, nil
}
