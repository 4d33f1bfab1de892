package decision

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/tidwall/gjson"
)

// 中文说明：
// 解析流水线：提取 JSON → 修复 → 结构走查 → schema 校验 → 反序列化。
// 任何一步失败都归为 ErrMalformed，由回放引擎记为决策故障。

// Parse 把决策方的原始文本解析为标准化后的 TradingDecision。
func Parse(raw string) (TradingDecision, error) {
	payload, ok := extractJSONPayload(raw)
	if !ok {
		return TradingDecision{}, fmt.Errorf("%w: no JSON payload found", ErrMalformed)
	}
	repaired, err := jsonrepair.JSONRepair(payload)
	if err != nil {
		return TradingDecision{}, fmt.Errorf("%w: repair failed: %v", ErrMalformed, err)
	}
	repaired = strings.TrimSpace(repaired)
	// 裸动作数组包装为标准载荷
	if strings.HasPrefix(repaired, "[") {
		repaired = `{"actions":` + repaired + `}`
	}
	if err := walkPayload(repaired); err != nil {
		return TradingDecision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := validateSchema(repaired); err != nil {
		return TradingDecision{}, fmt.Errorf("%w: schema: %v", ErrMalformed, err)
	}
	var out TradingDecision
	if err := json.Unmarshal([]byte(repaired), &out); err != nil {
		return TradingDecision{}, fmt.Errorf("%w: decode: %v", ErrMalformed, err)
	}
	NormalizeDecision(&out)
	if err := ValidateAll(out.Actions); err != nil {
		return TradingDecision{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return out, nil
}

// extractJSONPayload 提取首个平衡的 JSON 对象或数组。
func extractJSONPayload(s string) (string, bool) {
	s = stripCodeFences(s)
	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return "", false
	}
	open := s[start]
	var close byte = '}'
	if open == '[' {
		close = ']'
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return strings.TrimSpace(s[start : i+1]), true
			}
		}
	}
	// 未闭合的载荷交给修复器处理
	return strings.TrimSpace(s[start:]), true
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.Index(s, "```"); idx >= 0 {
		rest := s[idx+3:]
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
			rest = rest[nl+1:]
		}
		if end := strings.Index(rest, "```"); end >= 0 {
			rest = rest[:end]
		}
		if strings.ContainsAny(rest, "{[") {
			return rest
		}
	}
	return s
}

// walkPayload 在 schema 校验前做结构走查，给出更可读的错误。
func walkPayload(raw string) error {
	if !gjson.Valid(raw) {
		return fmt.Errorf("invalid json")
	}
	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return fmt.Errorf("root must be a JSON object")
	}
	actions := parsed.Get("actions")
	if !actions.Exists() || !actions.IsArray() {
		return fmt.Errorf("actions must be an array")
	}
	var walkErr error
	idx := 0
	actions.ForEach(func(_, value gjson.Result) bool {
		idx++
		if !value.IsObject() {
			walkErr = fmt.Errorf("action #%d must be an object", idx)
			return false
		}
		action := strings.TrimSpace(value.Get("action").String())
		if action == "" {
			walkErr = fmt.Errorf("action #%d missing action field", idx)
			return false
		}
		switch NormalizeAction(action) {
		case ActionOpenLong, ActionOpenShort:
			if !value.Get("leverage").Exists() {
				walkErr = fmt.Errorf("action #%d open requires leverage", idx)
				return false
			}
			if !value.Get("position_size_usd").Exists() {
				walkErr = fmt.Errorf("action #%d open requires position_size_usd", idx)
				return false
			}
		}
		return true
	})
	return walkErr
}
