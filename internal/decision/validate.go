package decision

import "fmt"

// 中文说明：
// 基础决策校验（标准化之后执行）：
// - action 合法
// - 开仓必须给出 leverage>=1 与 position_size_usd>0
// - 平仓 close_ratio 需在 (0,1]

var validActions = map[string]bool{
	ActionOpenLong: true, ActionOpenShort: true,
	ActionCloseLong: true, ActionCloseShort: true,
	ActionHold: true,
}

func ValidateAll(actions []TradingAction) error {
	for i := range actions {
		if err := Validate(&actions[i]); err != nil {
			return fmt.Errorf("action #%d invalid: %w", i+1, err)
		}
	}
	return nil
}

func Validate(a *TradingAction) error {
	if !validActions[a.Action] {
		return fmt.Errorf("unknown action: %s", a.Action)
	}
	if a.Action != ActionHold && a.Symbol == "" {
		return fmt.Errorf("action %s requires symbol", a.Action)
	}
	switch a.Action {
	case ActionOpenLong, ActionOpenShort:
		if a.Leverage < 1 {
			return fmt.Errorf("open requires leverage >= 1")
		}
		if a.PositionSizeUSD <= 0 {
			return fmt.Errorf("open requires position_size_usd > 0")
		}
	case ActionCloseLong, ActionCloseShort:
		if a.CloseRatio <= 0 || a.CloseRatio > 1 {
			return fmt.Errorf("close_ratio must be in (0, 1]")
		}
	}
	if a.Confidence < 0 || a.Confidence > 100 {
		return fmt.Errorf("confidence must be in [0, 100]")
	}
	return nil
}
