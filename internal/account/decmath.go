package account

import (
	"math"

	"github.com/shopspring/decimal"
)

// 账本金额统一走 decimal，避免长链 float 运算的累计误差。

const epsilon = 1e-8

var (
	decOne      = decimal.NewFromInt(1)
	decimalZero = decimal.Zero
)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// execPrice 按方向施加滑点：做多买入抬价、卖出压价；做空相反。
func execPrice(price, rate float64, side Side, isOpen bool) float64 {
	p := decFromFloat(price)
	slip := p.Mul(decFromFloat(rate))
	up := side == SideLong
	if !isOpen {
		up = !up
	}
	if up {
		return decToFloat(p.Add(slip))
	}
	return decToFloat(p.Sub(slip))
}

// orderFee = qty * price * feeRate
func orderFee(qty, price, feeRate float64) float64 {
	return decToFloat(decFromFloat(qty).Mul(decFromFloat(price)).Mul(decFromFloat(feeRate)))
}

// orderMargin = qty * price / leverage
func orderMargin(qty, price, leverage float64) float64 {
	if leverage <= 0 {
		return 0
	}
	return decToFloat(decFromFloat(qty).Mul(decFromFloat(price)).Div(decFromFloat(leverage)))
}

// liquidationPrice 按保证金全损价位计算。
func liquidationPrice(entry, leverage float64, side Side) float64 {
	if leverage <= 0 || entry <= 0 {
		return 0
	}
	lossPct := decOne.Div(decFromFloat(leverage))
	e := decFromFloat(entry)
	if side == SideLong {
		return decToFloat(e.Mul(decOne.Sub(lossPct)))
	}
	return decToFloat(e.Mul(decOne.Add(lossPct)))
}

// grossPnL 按参考价计算方向性盈亏。
func grossPnL(side Side, entry, exit, qty float64) float64 {
	diff := decFromFloat(exit).Sub(decFromFloat(entry))
	if side == SideShort {
		diff = diff.Neg()
	}
	return decToFloat(diff.Mul(decFromFloat(qty)))
}

// MaxOpenNotional 返回现金约束下可开的最大参考价名义价值。
// 保证金与手续费按滑点后的成交价计提，约束为：
// notional*(1+slippageRate)*(1/leverage + feeRate) <= cash
func MaxOpenNotional(cash, leverage, feeRate, slippageRate float64) float64 {
	if leverage <= 0 || cash <= 0 {
		return 0
	}
	denom := decOne.Div(decFromFloat(leverage)).Add(decFromFloat(feeRate)).
		Mul(decOne.Add(decFromFloat(slippageRate)))
	if denom.Sign() <= 0 {
		return 0
	}
	return decToFloat(decFromFloat(cash).Div(denom))
}
