package config

import (
	"fmt"
	"strings"
	"time"
)

// validate 对配置进行基础校验，任何错误都应使进程拒绝启动。
func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Competition.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if len(m.Sources) == 0 {
		return fmt.Errorf("market.sources requires at least one source")
	}
	activeName := strings.ToLower(strings.TrimSpace(m.ActiveSource))
	enabled := 0
	activeFound := false
	for _, src := range m.Sources {
		if !src.Enabled {
			continue
		}
		enabled++
		if strings.TrimSpace(src.RESTBaseURL) == "" {
			return fmt.Errorf("market source %s missing rest_base_url", src.Name)
		}
		if src.Proxy.Enabled && src.Proxy.RESTURL == "" {
			return fmt.Errorf("market source %s has proxy enabled but no rest_url", src.Name)
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		if activeName == "" || name == activeName {
			activeFound = true
		}
	}
	if enabled == 0 {
		return fmt.Errorf("market.sources requires at least one enabled source")
	}
	if !activeFound {
		return fmt.Errorf("enabled market.active_source=%s not found", m.ActiveSource)
	}
	return nil
}

func (c *CompetitionConfig) validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("competition.symbols requires at least one symbol")
	}
	if strings.TrimSpace(c.AgentsFile) == "" {
		return fmt.Errorf("competition.agents_file cannot be empty")
	}
	if c.InitialBalance <= 0 {
		return fmt.Errorf("competition.initial_balance must be > 0")
	}
	if c.FeeRate < 0 || c.FeeRate >= 1 {
		return fmt.Errorf("competition.fee_rate must be in [0, 1)")
	}
	if c.SlippageRate < 0 || c.SlippageRate >= 1 {
		return fmt.Errorf("competition.slippage_rate must be in [0, 1)")
	}
	if !IsValidInterval(c.DecisionInterval) {
		return fmt.Errorf("competition.decision_interval is not a valid interval: %s", c.DecisionInterval)
	}
	if !IsValidInterval(c.IntradayInterval) {
		return fmt.Errorf("competition.intraday_interval is not a valid interval: %s", c.IntradayInterval)
	}
	start, end, err := c.Window()
	if err != nil {
		return err
	}
	if !end.After(start) {
		return fmt.Errorf("competition window invalid: end (%s) must be after start (%s)", c.End, c.Start)
	}
	return nil
}

// Window 解析竞赛起止时间（UTC）。
func (c *CompetitionConfig) Window() (time.Time, time.Time, error) {
	start, err := ParseCompetitionTime(c.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("competition.start invalid: %w", err)
	}
	end, err := ParseCompetitionTime(c.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("competition.end invalid: %w", err)
	}
	return start, end, nil
}

// ParseCompetitionTime 接受日期或 RFC3339 时间戳。
func ParseCompetitionTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp: %s", s)
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
