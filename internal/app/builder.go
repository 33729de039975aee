package app

import (
	"fmt"
	"time"

	"tradepipe/internal/backtest"
	"tradepipe/internal/config"
	"tradepipe/internal/gateway/binance"
	"tradepipe/internal/live"
	"tradepipe/internal/logger"
	"tradepipe/internal/pipelines"
	"tradepipe/internal/store/candledb"
	"tradepipe/internal/store/gormstore"
	transporthttp "tradepipe/internal/transport/http"
)

// build 按依赖顺序装配全部子系统：
// 存储 → 登记表 → 网关 → 回测 → 实盘 → HTTP。
func build(cfg *config.Config) (*App, error) {
	store, err := gormstore.New(cfg.Data.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("初始化数据库失败: %w", err)
	}
	candles, err := candledb.NewStore(cfg.Data.CandleRoot)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	registry, err := pipelines.NewRegistry(cfg.Pipelines.Path)
	if err != nil {
		_ = store.Close()
		_ = candles.Close()
		return nil, fmt.Errorf("加载流水线定义失败: %w", err)
	}

	source := binance.NewSource(binance.Config{
		APIKey:         cfg.Binance.APIKey,
		APISecret:      cfg.Binance.APISecret,
		SpotBaseURL:    cfg.Binance.SpotBaseURL,
		FuturesBaseURL: cfg.Binance.FuturesBaseURL,
		HTTPTimeout:    time.Duration(cfg.Binance.HTTPTimeoutSeconds) * time.Second,
	})
	importer := candledb.NewImporter(candles, source)

	engine := backtest.NewEngine(registrySource{registry}, candles, store)
	sim, err := backtest.NewSimulator(backtest.SimulatorConfig{
		Pipelines:     registrySource{registry},
		Engine:        engine,
		Runs:          store,
		MaxConcurrent: cfg.Backtest.MaxConcurrent,
	})
	if err != nil {
		_ = store.Close()
		_ = candles.Close()
		return nil, fmt.Errorf("初始化模拟器失败: %w", err)
	}

	var scheduler *live.Scheduler
	if cfg.Live.Enabled {
		scheduler = live.NewScheduler(registry, source, store, cfg.Live.DryRun)
		if cfg.Live.DryRun {
			logger.Infof("实盘调度以 dry-run 模式启动")
		}
	}

	httpSrv, err := transporthttp.NewServer(transporthttp.Config{
		Addr:     cfg.HTTP.Addr,
		Sim:      sim,
		Results:  store,
		Registry: registry,
		Candles:  candles,
		Importer: importer,
	})
	if err != nil {
		_ = store.Close()
		_ = candles.Close()
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:       cfg,
		httpSrv:   httpSrv,
		scheduler: scheduler,
		sim:       sim,
		candles:   candles,
		store:     store,
	}, nil
}

// registrySource 把 Registry 适配成回测需要的只读形状。
type registrySource struct {
	registry *pipelines.Registry
}

func (r registrySource) Get(id string) (pipelines.Definition, bool) {
	return r.registry.Get(id)
}
