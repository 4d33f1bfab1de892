package account

// Side 持仓方向。
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool { return s == SideLong || s == SideShort }

// Position 单 symbol 的持仓（每个 symbol 至多一张）。
type Position struct {
	Symbol           string  `json:"symbol"`
	Side             Side    `json:"side"`
	Quantity         float64 `json:"quantity"`
	EntryPrice       float64 `json:"entry_price"`
	Leverage         float64 `json:"leverage"`
	Margin           float64 `json:"margin"`
	Notional         float64 `json:"notional"`
	EntryFee         float64 `json:"entry_fee"`
	LiquidationPrice float64 `json:"liquidation_price"`
	OpenTime         int64   `json:"open_time"`
}

// 成交事件类型
const (
	TradeOpen        = "open"
	TradeClose       = "close"
	TradeLiquidation = "liquidation"
)

// TradeEvent 一笔成交记录。开仓事件的 RealizedPnL 为 nil；
// 平仓/强平事件的 RealizedPnL 含分摊的开仓手续费与平仓手续费。
type TradeEvent struct {
	Timestamp   int64    `json:"timestamp"`
	Cycle       int      `json:"cycle"`
	Symbol      string   `json:"symbol"`
	Side        Side     `json:"side"`
	Kind        string   `json:"kind"`
	Quantity    float64  `json:"quantity"`
	Price       float64  `json:"price"`
	ExecPrice   float64  `json:"exec_price"`
	Fee         float64  `json:"fee"`
	Leverage    float64  `json:"leverage,omitempty"`
	RealizedPnL *float64 `json:"realized_pnl,omitempty"`
	Reason      string   `json:"reason,omitempty"`
}

// EquityPoint 每回合末的权益采样。
// Balance 是钱包口径（可用现金 + 占用保证金），Equity = Balance + 未实现盈亏。
type EquityPoint struct {
	Timestamp int64   `json:"timestamp"`
	Cycle     int     `json:"cycle"`
	Balance   float64 `json:"balance"`
	Equity    float64 `json:"equity"`
}
