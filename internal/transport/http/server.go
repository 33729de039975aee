// Package http 提供回测与流水线管理的 Gin 接口。
package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"tradepipe/internal/backtest"
	"tradepipe/internal/market"
	"tradepipe/internal/pipelines"
	"tradepipe/internal/store/candledb"
	"tradepipe/internal/store/gormstore"

	"github.com/gin-gonic/gin"
)

// Server 聚合各子系统对外的查询与触发入口。
type Server struct {
	addr     string
	sim      *backtest.Simulator
	results  *gormstore.Store
	registry *pipelines.Registry
	candles  *candledb.Store
	importer *candledb.Importer
	router   *gin.Engine
}

type Config struct {
	Addr     string
	Sim      *backtest.Simulator
	Results  *gormstore.Store
	Registry *pipelines.Registry
	Candles  *candledb.Store
	Importer *candledb.Importer
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Results == nil {
		return nil, errors.New("result store 不能为空")
	}
	if cfg.Registry == nil {
		return nil, errors.New("pipeline registry 不能为空")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		addr:     cfg.Addr,
		sim:      cfg.Sim,
		results:  cfg.Results,
		registry: cfg.Registry,
		candles:  cfg.Candles,
		importer: cfg.Importer,
		router:   router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")
	api.GET("/pipelines", s.handlePipelineList)
	api.GET("/pipelines/:id", s.handlePipelineDetail)
	api.GET("/positions", s.handleOpenPositions)

	bt := api.Group("/backtest")
	bt.POST("/import", s.handleImport)
	bt.GET("/coverage", s.handleCoverage)
	bt.POST("/runs", s.handleRunStart)
	bt.GET("/runs", s.handleRunList)
	bt.GET("/runs/:id", s.handleRunDetail)
	bt.GET("/runs/:id/trades", s.handleRunTrades)
	bt.GET("/runs/:id/equity", s.handleRunEquity)
	bt.GET("/runs/:id/logs", s.handleRunLogs)
}

func (s *Server) handlePipelineList(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"pipelines": s.registry.List()})
}

func (s *Server) handlePipelineDetail(c *gin.Context) {
	def, ok := s.registry.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "pipeline not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pipeline": def})
}

func (s *Server) handleOpenPositions(c *gin.Context) {
	positions, err := s.results.ListOpenPositions(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": positions})
}

func (s *Server) handleImport(c *gin.Context) {
	if s.importer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "导入器未启用"})
		return
	}
	var req struct {
		Instrument string `json:"instrument" binding:"required"`
		MarketType string `json:"market_type"`
		StartTS    int64  `json:"start_ts" binding:"required"`
		EndTS      int64  `json:"end_ts" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	marketType, err := market.ParseMarketType(req.MarketType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	rows, err := s.importer.EnsureRange(c.Request.Context(), req.Instrument, marketType, req.StartTS, req.EndTS)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"imported": rows})
}

func (s *Server) handleCoverage(c *gin.Context) {
	if s.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "K 线存储未启用"})
		return
	}
	instrument := c.Query("instrument")
	if instrument == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instrument 必填"})
		return
	}
	marketType, err := market.ParseMarketType(c.Query("market_type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	info, err := s.candles.Coverage(c.Request.Context(), instrument, marketType)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"coverage": info})
}

func (s *Server) handleRunStart(c *gin.Context) {
	if s.sim == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "模拟器未启用"})
		return
	}
	var req backtest.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	run, err := s.sim.StartRun(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": run})
}

func (s *Server) handleRunList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), c.Query("pipeline_id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *Server) handleRunDetail(c *gin.Context) {
	run, err := s.results.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run": run})
}

func (s *Server) handleRunTrades(c *gin.Context) {
	trades, err := s.results.ListTrades(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *Server) handleRunEquity(c *gin.Context) {
	points, err := s.results.ListEquity(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func (s *Server) handleRunLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "500"))
	logs, err := s.results.ListLogs(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"logs": logs})
}

// Start 启动 HTTP 服务并阻塞到 ctx 取消。
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
