package config

import (
	"fmt"
	"strings"
)

// 默认值常量
const (
	defaultAppEnv          = "dev"
	defaultAppLogLevel     = "info"
	defaultAppHTTPAddr     = ":9992"
	defaultAppLogPath      = "data/logs/arena.log"
	defaultAppDecisionLog  = "data/logs/decisions.log"
	defaultCandleDir       = "data/candles"
	defaultResultsPath     = "data/results/arena.db"
	defaultReportsDir      = "data/reports"
	defaultMarketName      = "binance"
	defaultMarketREST      = "https://fapi.binance.com"
	defaultMarketTimeout   = 15
	defaultAgentsFile      = "configs/agents.yaml"
	defaultDecisionIv      = "4h"
	defaultIntradayIv      = "3m"
	defaultIntradayBack    = 60
	defaultInitialBalance  = 10000
	defaultFeeRate         = 0.0005
	defaultSlippageRate    = 0.0002
	defaultDecisionTimeout = 120
	defaultMaxConcurrent   = 1
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Data.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Competition.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.decision_log_path", &a.DecisionLog, defaultAppDecisionLog),
	)
}

func (d *DataConfig) applyDefaults(keys keySet) {
	if d == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("data.candle_dir", &d.CandleDir, defaultCandleDir),
		stringFieldDefault("data.results_path", &d.ResultsPath, defaultResultsPath),
		stringFieldDefault("data.reports_dir", &d.ReportsDir, defaultReportsDir),
	)
}

func (c *CompetitionConfig) applyDefaults(keys keySet) {
	if c == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("competition.agents_file", &c.AgentsFile, defaultAgentsFile),
		stringFieldDefault("competition.decision_interval", &c.DecisionInterval, defaultDecisionIv),
		stringFieldDefault("competition.intraday_interval", &c.IntradayInterval, defaultIntradayIv),
		fieldDefault{
			key:   "competition.intraday_lookback",
			need:  func() bool { return c.IntradayLookback <= 0 },
			apply: func() { c.IntradayLookback = defaultIntradayBack },
		},
		fieldDefault{
			key:   "competition.initial_balance",
			need:  func() bool { return c.InitialBalance == 0 },
			apply: func() { c.InitialBalance = defaultInitialBalance },
		},
		fieldDefault{
			key:   "competition.fee_rate",
			need:  func() bool { return c.FeeRate == 0 },
			apply: func() { c.FeeRate = defaultFeeRate },
		},
		fieldDefault{
			key:   "competition.slippage_rate",
			need:  func() bool { return c.SlippageRate == 0 },
			apply: func() { c.SlippageRate = defaultSlippageRate },
		},
		fieldDefault{
			key:   "competition.decision_timeout_seconds",
			need:  func() bool { return c.DecisionTimeoutSeconds <= 0 },
			apply: func() { c.DecisionTimeoutSeconds = defaultDecisionTimeout },
		},
		fieldDefault{
			key:   "competition.max_concurrent_runs",
			need:  func() bool { return c.MaxConcurrentRuns <= 0 },
			apply: func() { c.MaxConcurrentRuns = defaultMaxConcurrent },
		},
	)
	if c.MaxCycles < 0 {
		c.MaxCycles = 0
	}
	c.Symbols = normalizeSymbolList(c.Symbols)
	c.DecisionInterval = strings.ToLower(strings.TrimSpace(c.DecisionInterval))
	c.IntradayInterval = strings.ToLower(strings.TrimSpace(c.IntradayInterval))
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	if len(m.Sources) == 0 {
		m.Sources = []MarketSource{{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}}
	}
	for i := range m.Sources {
		src := &m.Sources[i]
		src.Proxy.normalize()
		if strings.TrimSpace(src.Name) == "" {
			if i == 0 {
				src.Name = defaultMarketName
			} else {
				src.Name = fmt.Sprintf("market_%d", i)
			}
		}
		if src.RESTBaseURL == "" {
			src.RESTBaseURL = defaultMarketREST
		}
		if src.TimeoutSeconds <= 0 {
			src.TimeoutSeconds = defaultMarketTimeout
		}
	}
	if strings.TrimSpace(m.ActiveSource) == "" {
		m.ActiveSource = firstEnabledMarket(m.Sources)
	}
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func firstEnabledMarket(sources []MarketSource) string {
	for _, src := range sources {
		name := strings.TrimSpace(src.Name)
		if src.Enabled && name != "" {
			return name
		}
	}
	if len(sources) > 0 {
		if name := strings.TrimSpace(sources[0].Name); name != "" {
			return name
		}
	}
	return defaultMarketName
}

func normalizeSymbolList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, sym := range in {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
