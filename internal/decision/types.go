package decision

import (
	"context"
	"errors"

	"arena/internal/market"
)

// 中文说明：
// 本文件定义回放引擎与外部决策方之间的契约。决策方只拿到结构化上下文
// 与一段渲染文本，返回结构化决策；提示词如何生成不是本系统的事。

const (
	ActionOpenLong   = "open_long"
	ActionOpenShort  = "open_short"
	ActionCloseLong  = "close_long"
	ActionCloseShort = "close_short"
	ActionHold       = "hold"
)

// ErrMalformed 表示决策方返回的载荷无法解析为合法决策。
var ErrMalformed = errors.New("malformed decision payload")

// TradingAction 单笔决策动作。
type TradingAction struct {
	Symbol          string  `json:"symbol"`
	Action          string  `json:"action"`
	Leverage        float64 `json:"leverage,omitempty"`
	PositionSizeUSD float64 `json:"position_size_usd,omitempty"`
	CloseRatio      float64 `json:"close_ratio,omitempty"`
	Confidence      int     `json:"confidence,omitempty"`
	Reasoning       string  `json:"reasoning,omitempty"`
}

// TradingDecision 决策方单回合输出（可包含多币种动作）。
type TradingDecision struct {
	Summary   string          `json:"summary,omitempty"`
	Reasoning string          `json:"reasoning,omitempty"`
	Actions   []TradingAction `json:"actions"`
}

// PositionView 是交给决策方的持仓只读视图。
type PositionView struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	Quantity         float64 `json:"quantity"`
	EntryPrice       float64 `json:"entry_price"`
	Leverage         float64 `json:"leverage"`
	UnrealizedPnL    float64 `json:"unrealized_pnl"`
	LiquidationPrice float64 `json:"liquidation_price"`
}

// SymbolContext 单 symbol 的行情上下文（两种粒度 + 指标快照）。
type SymbolContext struct {
	Symbol             string                    `json:"symbol"`
	LastPrice          float64                   `json:"last_price"`
	Candles            []market.Candle           `json:"candles,omitempty"`
	Intraday           []market.Candle           `json:"intraday,omitempty"`
	Indicators         *market.IndicatorSnapshot `json:"indicators,omitempty"`
	IntradayIndicators *market.IndicatorSnapshot `json:"intraday_indicators,omitempty"`
}

// Request 单回合发给一个 agent 的完整上下文。
type Request struct {
	RunID     string          `json:"run_id"`
	AgentID   string          `json:"agent_id"`
	Cycle     int             `json:"cycle"`
	Timestamp int64           `json:"timestamp"`
	Cash      float64         `json:"cash"`
	Equity    float64         `json:"equity"`
	Positions []PositionView  `json:"positions"`
	Market    []SymbolContext `json:"market"`
	// Context 是渲染器产出的文本，对回放引擎完全不透明。
	Context string `json:"context,omitempty"`
}

// Source 是外部决策方的接入点。
type Source interface {
	Decide(ctx context.Context, req Request) (TradingDecision, error)
	Name() string
}

// ContextRenderer 把结构化请求渲染成发给决策方的文本。
type ContextRenderer interface {
	Render(req Request) (string, error)
}
