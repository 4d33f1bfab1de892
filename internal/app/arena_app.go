package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"arena/internal/arena"
	"arena/internal/config"
	"arena/internal/decision"
	"arena/internal/logger"
	"arena/internal/market"
	"arena/internal/report"
	"arena/internal/server"
	"arena/internal/store"

	"golang.org/x/sync/errgroup"
)

// 中文说明：
// 应用级编排：配置 → 行情库/数据源 → 名单 → 竞赛服务 → HTTP。
// run_on_start 打开时启动后立即提交一场竞赛。

type App struct {
	cfg     *config.Config
	candles *market.Store
	results *store.ResultStore
	roster  *config.RosterLoader
	svc     *arena.Service
	http    *server.HTTPServer
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	candles, err := market.NewStore(cfg.Data.CandleDir)
	if err != nil {
		return nil, fmt.Errorf("candle store: %w", err)
	}

	var syncer *market.Syncer
	if src := buildMarketSource(cfg.Market); src != nil {
		syncer = market.NewSyncer(candles, src)
	} else {
		logger.Warnf("no market source enabled, runs will use local candles only")
	}

	roster, err := config.NewRosterLoader(cfg.Competition.AgentsFile)
	if err != nil {
		return nil, fmt.Errorf("roster: %w", err)
	}
	roster.Subscribe(func(snap config.RosterSnapshot) {
		logger.Infof("roster v%d active with %d agents", snap.Version, len(snap.Agents))
	})

	results, err := store.NewResultStore(cfg.Data.ResultsPath)
	if err != nil {
		return nil, fmt.Errorf("result store: %w", err)
	}
	reports, err := report.NewWriter(cfg.Data.ReportsDir)
	if err != nil {
		return nil, fmt.Errorf("report writer: %w", err)
	}

	svc, err := arena.NewService(arena.ServiceConfig{
		Competition: cfg.Competition,
		Store:       candles,
		Syncer:      syncer,
		Roster: func() []config.AgentSpec {
			return roster.Snapshot().Agents
		},
		Results:  results,
		Reports:  reports,
		Renderer: decision.JSONRenderer{},
	})
	if err != nil {
		return nil, fmt.Errorf("competition service: %w", err)
	}

	httpSrv, err := server.NewHTTPServer(server.HTTPConfig{
		Addr:    cfg.App.HTTPAddr,
		Svc:     svc,
		Results: results,
		Candles: candles,
		Reports: reports,
	})
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}

	return &App{
		cfg:     cfg,
		candles: candles,
		results: results,
		roster:  roster,
		svc:     svc,
		http:    httpSrv,
	}, nil
}

func buildMarketSource(cfg config.MarketConfig) market.CandleSource {
	active := cfg.ResolveActiveSource()
	if !active.Enabled {
		return nil
	}
	switch strings.ToLower(active.Name) {
	case "", "binance":
		src, err := market.NewBinanceSource(market.BinanceConfig{
			RESTBaseURL:  active.RESTBaseURL,
			HTTPTimeout:  time.Duration(active.TimeoutSeconds) * time.Second,
			ProxyEnabled: active.Proxy.Enabled,
			RESTProxyURL: active.Proxy.RESTURL,
		})
		if err != nil {
			logger.Errorf("binance source init failed: %v", err)
			return nil
		}
		return src
	default:
		logger.Warnf("unknown market source %q, ignored", active.Name)
		return nil
	}
}

// Run 启动 HTTP 服务并（可选）提交首场竞赛，阻塞直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.Close()

	a.svc.SetContext(ctx)
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	if a.cfg.Competition.RunOnStart {
		job, err := a.svc.StartRun()
		if err != nil {
			logger.Errorf("initial run failed to start: %v", err)
		} else {
			logger.Infof("initial run %s submitted", job.ID)
		}
	}

	return group.Wait()
}

// Close 释放存储句柄。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.candles != nil {
		_ = a.candles.Close()
	}
	if a.results != nil {
		_ = a.results.Close()
	}
}

// Service 暴露竞赛服务（测试与回放工具用）。
func (a *App) Service() *arena.Service { return a.svc }
