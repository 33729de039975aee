// Package app 负责应用级编排：加载配置、装配依赖、启动服务。
package app

import (
	"context"
	"fmt"

	"tradepipe/internal/backtest"
	"tradepipe/internal/config"
	"tradepipe/internal/live"
	"tradepipe/internal/logger"
	"tradepipe/internal/store/candledb"
	"tradepipe/internal/store/gormstore"
	transporthttp "tradepipe/internal/transport/http"

	"golang.org/x/sync/errgroup"
)

// App 聚合全部已装配的子系统。
type App struct {
	cfg       *config.Config
	httpSrv   *transporthttp.Server
	scheduler *live.Scheduler
	sim       *backtest.Simulator
	candles   *candledb.Store
	store     *gormstore.Store
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return build(cfg)
}

// Run 启动 HTTP 服务与实盘调度，阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)
	if a.sim != nil {
		a.sim.SetContext(ctx)
	}
	group.Go(func() error {
		if err := a.httpSrv.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	if a.scheduler != nil {
		group.Go(func() error {
			if err := a.scheduler.Run(ctx); err != nil && err != context.Canceled {
				return fmt.Errorf("live scheduler error: %w", err)
			}
			return nil
		})
	}
	return group.Wait()
}

func (a *App) close() {
	if a.candles != nil {
		if err := a.candles.Close(); err != nil {
			logger.Warnf("关闭 K 线存储失败: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warnf("关闭数据库失败: %v", err)
		}
	}
}
