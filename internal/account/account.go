package account

import (
	"fmt"
	"sort"
)

// 中文说明：
// 独立的模拟杠杆账户：现金、持仓、手续费、滑点、强平、成交与权益历史。
// 保证金与手续费按滑点后的成交名义价值计算，仓位本身以参考价记账，
// 盈亏也按参考价实现（手续费在平仓时连同分摊的开仓费一起扣除）。
// 可用现金永不为负。

type Account struct {
	initialBalance float64
	cash           float64
	feeRate        float64
	slippageRate   float64

	positions map[string]*Position
	realized  float64
	feesPaid  float64

	trades       []TradeEvent
	equity       []EquityPoint
	liquidations int
}

func New(initialBalance, feeRate, slippageRate float64) (*Account, error) {
	if initialBalance <= 0 {
		return nil, fmt.Errorf("initial balance must be > 0")
	}
	if feeRate < 0 || slippageRate < 0 {
		return nil, fmt.Errorf("fee/slippage rates must be >= 0")
	}
	return &Account{
		initialBalance: initialBalance,
		cash:           initialBalance,
		feeRate:        feeRate,
		slippageRate:   slippageRate,
		positions:      make(map[string]*Position),
	}, nil
}

// Open 开仓或同向加仓。返回开仓成交事件。
func (a *Account) Open(symbol string, side Side, quantity, leverage, price float64, timestamp int64, cycle int) (TradeEvent, error) {
	if !side.Valid() {
		return TradeEvent{}, fmt.Errorf("%w: side %q", ErrInvalidAction, side)
	}
	if quantity <= epsilon {
		return TradeEvent{}, fmt.Errorf("%w: quantity too small", ErrInvalidQuantity)
	}
	if leverage < 1 {
		return TradeEvent{}, fmt.Errorf("%w: leverage must be >= 1", ErrInvalidAction)
	}
	if price <= 0 {
		return TradeEvent{}, fmt.Errorf("%w: price must be > 0", ErrInvalidAction)
	}
	existing := a.positions[symbol]
	if existing != nil && existing.Side != side {
		return TradeEvent{}, fmt.Errorf("%w: %s already held %s", ErrConflictingSide, symbol, existing.Side)
	}

	exec := execPrice(price, a.slippageRate, side, true)
	fee := orderFee(quantity, exec, a.feeRate)
	margin := orderMargin(quantity, exec, leverage)
	totalCost := margin + fee
	if totalCost > a.cash {
		return TradeEvent{}, fmt.Errorf("%w: need %.8f, have %.8f", ErrInsufficientBalance, totalCost, a.cash)
	}

	a.cash -= totalCost
	a.feesPaid += fee

	pos := existing
	if pos == nil {
		pos = &Position{
			Symbol:     symbol,
			Side:       side,
			Quantity:   quantity,
			EntryPrice: price,
			Leverage:   leverage,
			Margin:     margin,
			Notional:   decToFloat(decFromFloat(quantity).Mul(decFromFloat(price))),
			EntryFee:   fee,
			OpenTime:   timestamp,
		}
		a.positions[symbol] = pos
	} else {
		// 同向加仓：参考价加权平均，杠杆沿用首仓
		totalQty := pos.Quantity + quantity
		cost := decFromFloat(pos.Quantity).Mul(decFromFloat(pos.EntryPrice)).
			Add(decFromFloat(quantity).Mul(decFromFloat(price)))
		pos.EntryPrice = decToFloat(cost.Div(decFromFloat(totalQty)))
		pos.Quantity = totalQty
		pos.Margin += margin
		pos.Notional = decToFloat(decFromFloat(totalQty).Mul(decFromFloat(pos.EntryPrice)))
		pos.EntryFee += fee
	}
	pos.LiquidationPrice = liquidationPrice(pos.EntryPrice, pos.Leverage, pos.Side)

	ev := TradeEvent{
		Timestamp: timestamp,
		Cycle:     cycle,
		Symbol:    symbol,
		Side:      side,
		Kind:      TradeOpen,
		Quantity:  quantity,
		Price:     price,
		ExecPrice: exec,
		Fee:       fee,
		Leverage:  leverage,
	}
	a.trades = append(a.trades, ev)
	return ev, nil
}

// Close 平仓（可部分）。实现盈亏 = 参考价毛盈亏 - 分摊开仓费 - 平仓费。
func (a *Account) Close(symbol string, quantity, price float64, timestamp int64, cycle int, reason string) (TradeEvent, error) {
	pos := a.positions[symbol]
	if pos == nil {
		return TradeEvent{}, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if quantity <= epsilon || quantity > pos.Quantity+epsilon {
		return TradeEvent{}, fmt.Errorf("%w: close %.8f of %.8f", ErrInvalidQuantity, quantity, pos.Quantity)
	}
	if quantity > pos.Quantity {
		quantity = pos.Quantity
	}
	if price <= 0 {
		return TradeEvent{}, fmt.Errorf("%w: price must be > 0", ErrInvalidAction)
	}

	exec := execPrice(price, a.slippageRate, pos.Side, false)
	fee := orderFee(quantity, exec, a.feeRate)
	gross := grossPnL(pos.Side, pos.EntryPrice, price, quantity)

	ratio := decFromFloat(quantity).Div(decFromFloat(pos.Quantity))
	marginReleased := decToFloat(decFromFloat(pos.Margin).Mul(ratio))
	entryFeeShare := decToFloat(decFromFloat(pos.EntryFee).Mul(ratio))

	proceeds := marginReleased + gross - fee
	if a.cash+proceeds < 0 {
		proceeds = -a.cash
	}
	a.cash += proceeds
	a.feesPaid += fee

	realized := decToFloat(decFromFloat(gross).Sub(decFromFloat(entryFeeShare)).Sub(decFromFloat(fee)))
	a.realized += realized

	pos.Quantity -= quantity
	pos.Margin -= marginReleased
	pos.EntryFee -= entryFeeShare
	pos.Notional = decToFloat(decFromFloat(pos.Quantity).Mul(decFromFloat(pos.EntryPrice)))
	if pos.Quantity < epsilon {
		delete(a.positions, symbol)
	}

	ev := TradeEvent{
		Timestamp:   timestamp,
		Cycle:       cycle,
		Symbol:      symbol,
		Side:        pos.Side,
		Kind:        TradeClose,
		Quantity:    quantity,
		Price:       price,
		ExecPrice:   exec,
		Fee:         fee,
		Leverage:    pos.Leverage,
		RealizedPnL: &realized,
		Reason:      reason,
	}
	a.trades = append(a.trades, ev)
	return ev, nil
}

// CheckLiquidations 用本回合标记价扫描全部持仓，越过强平价的仓位
// 以强平价整仓了结（不再叠加滑点），回收现金不会使余额为负。
func (a *Account) CheckLiquidations(prices map[string]float64, timestamp int64, cycle int) []TradeEvent {
	symbols := make([]string, 0, len(a.positions))
	for sym := range a.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	var events []TradeEvent
	for _, sym := range symbols {
		pos := a.positions[sym]
		mark, ok := prices[sym]
		if !ok || mark <= 0 || pos.LiquidationPrice <= 0 {
			continue
		}
		crossed := (pos.Side == SideLong && mark <= pos.LiquidationPrice) ||
			(pos.Side == SideShort && mark >= pos.LiquidationPrice)
		if !crossed {
			continue
		}
		events = append(events, a.liquidate(pos, timestamp, cycle))
	}
	return events
}

func (a *Account) liquidate(pos *Position, timestamp int64, cycle int) TradeEvent {
	liqPrice := pos.LiquidationPrice
	fee := orderFee(pos.Quantity, liqPrice, a.feeRate)
	gross := grossPnL(pos.Side, pos.EntryPrice, liqPrice, pos.Quantity)

	proceeds := pos.Margin + gross - fee
	if a.cash+proceeds < 0 {
		proceeds = -a.cash
	}
	a.cash += proceeds
	a.feesPaid += fee

	realized := decToFloat(decFromFloat(gross).Sub(decFromFloat(pos.EntryFee)).Sub(decFromFloat(fee)))
	a.realized += realized
	a.liquidations++

	ev := TradeEvent{
		Timestamp:   timestamp,
		Cycle:       cycle,
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Kind:        TradeLiquidation,
		Quantity:    pos.Quantity,
		Price:       liqPrice,
		ExecPrice:   liqPrice,
		Fee:         fee,
		Leverage:    pos.Leverage,
		RealizedPnL: &realized,
		Reason:      "liquidation",
	}
	delete(a.positions, pos.Symbol)
	a.trades = append(a.trades, ev)
	return ev
}

// TotalEquity 返回 (总权益, 未实现盈亏合计, 每 symbol 未实现盈亏)。
// 无标记价的 symbol 按开仓价计（未实现盈亏为 0）。
func (a *Account) TotalEquity(prices map[string]float64) (float64, float64, map[string]float64) {
	unrealized := 0.0
	margin := 0.0
	perSymbol := make(map[string]float64, len(a.positions))
	for sym, pos := range a.positions {
		mark, ok := prices[sym]
		if !ok || mark <= 0 {
			mark = pos.EntryPrice
		}
		pnl := grossPnL(pos.Side, pos.EntryPrice, mark, pos.Quantity)
		unrealized += pnl
		margin += pos.Margin
		perSymbol[sym] = pnl
	}
	return a.cash + margin + unrealized, unrealized, perSymbol
}

// Balance 钱包口径余额：可用现金 + 占用保证金。
func (a *Account) Balance() float64 {
	margin := 0.0
	for _, pos := range a.positions {
		margin += pos.Margin
	}
	return a.cash + margin
}

// MarkEquity 采样一条权益记录并追加到历史。
func (a *Account) MarkEquity(prices map[string]float64, timestamp int64, cycle int) EquityPoint {
	equity, _, _ := a.TotalEquity(prices)
	pt := EquityPoint{
		Timestamp: timestamp,
		Cycle:     cycle,
		Balance:   a.Balance(),
		Equity:    equity,
	}
	a.equity = append(a.equity, pt)
	return pt
}

func (a *Account) Cash() float64           { return a.cash }
func (a *Account) InitialBalance() float64 { return a.initialBalance }
func (a *Account) RealizedPnL() float64    { return a.realized }
func (a *Account) FeesPaid() float64       { return a.feesPaid }
func (a *Account) LiquidationCount() int   { return a.liquidations }

// Position 返回持仓副本；不存在返回 nil。
func (a *Account) Position(symbol string) *Position {
	pos, ok := a.positions[symbol]
	if !ok {
		return nil
	}
	cp := *pos
	return &cp
}

// Positions 返回全部持仓副本（按 symbol 升序）。
func (a *Account) Positions() []Position {
	out := make([]Position, 0, len(a.positions))
	for _, pos := range a.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Trades 返回成交历史副本。
func (a *Account) Trades() []TradeEvent {
	out := make([]TradeEvent, len(a.trades))
	copy(out, a.trades)
	return out
}

// EquityHistory 返回权益采样历史副本。
func (a *Account) EquityHistory() []EquityPoint {
	out := make([]EquityPoint, len(a.equity))
	copy(out, a.equity)
	return out
}
