package decision

import "strings"

// NormalizeAction 统一动作名称：大小写不敏感，并将 wait 视为 hold
func NormalizeAction(a string) string {
	a = strings.ToLower(strings.TrimSpace(a))
	if a == "wait" {
		return ActionHold
	}
	return a
}

// NormalizeDecision 原地标准化 symbol 与 action，并补全 close_ratio 缺省值。
func NormalizeDecision(d *TradingDecision) {
	if d == nil {
		return
	}
	for i := range d.Actions {
		a := &d.Actions[i]
		a.Symbol = strings.ToUpper(strings.TrimSpace(a.Symbol))
		a.Action = NormalizeAction(a.Action)
		if (a.Action == ActionCloseLong || a.Action == ActionCloseShort) && a.CloseRatio == 0 {
			a.CloseRatio = 1
		}
	}
}
