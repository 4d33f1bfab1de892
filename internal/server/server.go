package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"time"

	"arena/internal/arena"
	"arena/internal/market"
	"arena/internal/report"
	"arena/internal/store"

	"github.com/gin-gonic/gin"
)

// HTTPServer 提供 Gin 接口：触发竞赛、查询进度与产物。
type HTTPServer struct {
	addr    string
	svc     *arena.Service
	results *store.ResultStore
	candles *market.Store
	reports *report.Writer
	router  *gin.Engine
}

type HTTPConfig struct {
	Addr    string
	Svc     *arena.Service
	Results *store.ResultStore
	Candles *market.Store
	Reports *report.Writer
}

func NewHTTPServer(cfg HTTPConfig) (*HTTPServer, error) {
	if cfg.Svc == nil {
		return nil, errors.New("competition service is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9992"
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &HTTPServer{
		addr:    cfg.Addr,
		svc:     cfg.Svc,
		results: cfg.Results,
		candles: cfg.Candles,
		reports: cfg.Reports,
		router:  router,
	}
	s.registerRoutes()
	return s, nil
}

func (s *HTTPServer) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	api := s.router.Group("/api/arena")
	api.POST("/runs", s.handleRunStart)
	api.GET("/runs", s.handleRunList)
	api.GET("/runs/:id", s.handleRunDetail)
	api.POST("/runs/:id/cancel", s.handleRunCancel)
	api.GET("/runs/:id/artifact", s.handleRunArtifact)
	api.GET("/runs/:id/equity", s.handleRunEquity)
	api.GET("/runs/:id/trades", s.handleRunTrades)
	api.GET("/runs/:id/report", s.handleRunReport)
	api.GET("/jobs", s.handleJobs)
	api.GET("/data", s.handleManifest)
	api.GET("/candles", s.handleCandles)
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *HTTPServer) handleRunStart(c *gin.Context) {
	job, err := s.svc.StartRun()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run": job})
}

func (s *HTTPServer) handleRunList(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusOK, gin.H{"runs": s.svc.Jobs()})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := s.results.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

func (s *HTTPServer) handleRunDetail(c *gin.Context) {
	id := c.Param("id")
	// 进行中的场次优先取内存快照，结束后落库为准
	if job, ok := s.svc.Job(id); ok && job.Status != arena.StatusDone {
		c.JSON(http.StatusOK, gin.H{"run": job})
		return
	}
	if s.results != nil {
		run, err := s.results.GetRun(c.Request.Context(), id)
		if err == nil {
			c.JSON(http.StatusOK, gin.H{"run": run})
			return
		}
		if !errors.Is(err, store.ErrRunNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	if job, ok := s.svc.Job(id); ok {
		c.JSON(http.StatusOK, gin.H{"run": job})
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
}

func (s *HTTPServer) handleRunCancel(c *gin.Context) {
	id := c.Param("id")
	if !s.svc.CancelRun(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cancelable run with this id"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"run_id": id, "canceling": true})
}

func (s *HTTPServer) handleRunArtifact(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store disabled"})
		return
	}
	art, err := s.results.Artifact(c.Request.Context(), c.Param("id"))
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"artifact": art})
}

func (s *HTTPServer) handleRunEquity(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store disabled"})
		return
	}
	points, err := s.results.EquitySeries(c.Request.Context(), c.Param("id"), c.Query("agent"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"equity": points})
}

func (s *HTTPServer) handleRunTrades(c *gin.Context) {
	if s.results == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "result store disabled"})
		return
	}
	trades, err := s.results.TradeHistory(c.Request.Context(), c.Param("id"), c.Query("agent"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (s *HTTPServer) handleRunReport(c *gin.Context) {
	if s.reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "report writer disabled"})
		return
	}
	path := s.reports.HTMLPath(c.Param("id"))
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not generated"})
		return
	}
	c.File(path)
}

func (s *HTTPServer) handleJobs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"jobs": s.svc.Jobs()})
}

func (s *HTTPServer) handleManifest(c *gin.Context) {
	if s.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "candle store disabled"})
		return
	}
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and timeframe are required"})
		return
	}
	info, err := s.candles.Manifest(c.Request.Context(), symbol, tf)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"manifest": info})
}

func (s *HTTPServer) handleCandles(c *gin.Context) {
	if s.candles == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "candle store disabled"})
		return
	}
	symbol := c.Query("symbol")
	tf := c.Query("timeframe")
	if symbol == "" || tf == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol and timeframe are required"})
		return
	}
	start, _ := strconv.ParseInt(c.Query("start_ts"), 10, 64)
	end, _ := strconv.ParseInt(c.Query("end_ts"), 10, 64)
	data, err := s.candles.RangeCandles(c.Request.Context(), symbol, tf, start, end)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"candles": data})
}

// Start 启动 HTTP 服务，阻塞直到 ctx 取消或出现错误。
func (s *HTTPServer) Start(ctx context.Context) error {
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

// Handler 暴露底层路由（测试用）。
func (s *HTTPServer) Handler() http.Handler { return s.router }
