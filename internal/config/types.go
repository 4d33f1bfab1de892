package config

import "strings"

// Config 是 Arena 的主配置载体。
type Config struct {
	App         AppConfig         `toml:"app"`
	Data        DataConfig        `toml:"data"`
	Market      MarketConfig      `toml:"market"`
	Competition CompetitionConfig `toml:"competition"`
}

type AppConfig struct {
	Env         string `toml:"env"`
	LogLevel    string `toml:"log_level"`
	HTTPAddr    string `toml:"http_addr"`
	LogPath     string `toml:"log_path"`
	DecisionLog string `toml:"decision_log_path"`
	DumpContext bool   `toml:"decision_dump_context"`
}

// DataConfig 描述本地数据落盘位置。
type DataConfig struct {
	CandleDir   string `toml:"candle_dir"`
	ResultsPath string `toml:"results_path"`
	ReportsDir  string `toml:"reports_dir"`
}

// CompetitionConfig 控制一场回测竞赛的范围与账户参数。
type CompetitionConfig struct {
	AgentsFile             string   `toml:"agents_file"`
	Symbols                []string `toml:"symbols"`
	Start                  string   `toml:"start"`
	End                    string   `toml:"end"`
	DecisionInterval       string   `toml:"decision_interval"`
	IntradayInterval       string   `toml:"intraday_interval"`
	IntradayLookback       int      `toml:"intraday_lookback"`
	MaxCycles              int      `toml:"max_cycles"`
	InitialBalance         float64  `toml:"initial_balance"`
	FeeRate                float64  `toml:"fee_rate"`
	SlippageRate           float64  `toml:"slippage_rate"`
	DecisionTimeoutSeconds int      `toml:"decision_timeout_seconds"`
	MaxConcurrentRuns      int      `toml:"max_concurrent_runs"`
	RunOnStart             bool     `toml:"run_on_start"`
}

type MarketConfig struct {
	ActiveSource string         `toml:"active_source"`
	Sources      []MarketSource `toml:"sources"`
}

type MarketSource struct {
	Name           string      `toml:"name"`
	Enabled        bool        `toml:"enabled"`
	RESTBaseURL    string      `toml:"rest_base_url"`
	TimeoutSeconds int         `toml:"timeout_seconds"`
	Proxy          ProxyConfig `toml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

func (m MarketConfig) ResolveActiveSource() MarketSource {
	if len(m.Sources) == 0 {
		return MarketSource{
			Name:        defaultMarketName,
			Enabled:     true,
			RESTBaseURL: defaultMarketREST,
		}
	}
	active := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	var fallback MarketSource
	for _, src := range m.Sources {
		if fallback.Name == "" {
			fallback = src
		}
		if !src.Enabled {
			continue
		}
		if active == "" || strings.ToLower(src.Name) == active {
			return src
		}
	}
	return fallback
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
