package evaluate

import (
	"math"
	"sort"

	"arena/internal/metrics"

	"github.com/samber/lo"
)

// 中文说明：
// 同场归一化打分：每项指标在本场 agent 之间做 min-max 归一化
// （回撤与波动率取反向），加权合成交易分，再与外部给定的推理分
// 按 0.7/0.3 融合。冠军判定完全确定：总分 → 夏普 → agent id。

// 交易分权重（固定，写进产物便于复核）。
var tradingWeights = map[string]float64{
	"total_return":   0.25,
	"sharpe":         0.20,
	"inv_drawdown":   0.15,
	"win_rate":       0.10,
	"profit_factor":  0.10,
	"cagr":           0.10,
	"inv_volatility": 0.10,
}

// weightNames 按字典序固定权重求和顺序，保证打分确定性。
var weightNames = func() []string {
	names := make([]string, 0, len(tradingWeights))
	for name := range tradingWeights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}()

// 盈亏比哨兵（+Inf）在归一化前截断，避免单个无亏损账户压扁全场。
const profitFactorCap = 100.0

// AgentResult 评分输入：单 agent 的绩效与外部推理分。
type AgentResult struct {
	AgentID        string
	ReasoningScore float64
	Performance    metrics.Performance
}

// Score 单 agent 的评分明细。
type Score struct {
	AgentID        string             `json:"agent_id"`
	Components     map[string]float64 `json:"components"`
	TradingScore   float64            `json:"trading_score"`
	ReasoningScore float64            `json:"reasoning_score"`
	TotalScore     float64            `json:"total_score"`
	SharpeRatio    float64            `json:"sharpe_ratio"`
	Rank           int                `json:"rank"`
}

// ScoreCohort 给整场 agent 打分并按名次排序（确定性）。
func ScoreCohort(results []AgentResult) []Score {
	if len(results) == 0 {
		return nil
	}
	raw := map[string][]float64{
		"total_return":   lo.Map(results, func(r AgentResult, _ int) float64 { return r.Performance.TotalReturnPct }),
		"sharpe":         lo.Map(results, func(r AgentResult, _ int) float64 { return r.Performance.SharpeRatio }),
		"inv_drawdown":   lo.Map(results, func(r AgentResult, _ int) float64 { return r.Performance.MaxDrawdownPct }),
		"win_rate":       lo.Map(results, func(r AgentResult, _ int) float64 { return r.Performance.WinRate }),
		"profit_factor":  lo.Map(results, func(r AgentResult, _ int) float64 { return capProfitFactor(r.Performance.ProfitFactor) }),
		"cagr":           lo.Map(results, func(r AgentResult, _ int) float64 { return r.Performance.CAGR }),
		"inv_volatility": lo.Map(results, func(r AgentResult, _ int) float64 { return r.Performance.Volatility }),
	}
	inverted := map[string]bool{"inv_drawdown": true, "inv_volatility": true}

	normalized := make(map[string][]float64, len(raw))
	for name, values := range raw {
		normalized[name] = minMaxNormalize(values, inverted[name])
	}

	scores := make([]Score, len(results))
	for i, r := range results {
		components := make(map[string]float64, len(tradingWeights))
		trading := 0.0
		// 固定求和顺序：map 遍历顺序随机会让浮点求和结果在最后一位上抖动
		for _, name := range weightNames {
			weight := tradingWeights[name]
			c := normalized[name][i]
			components[name] = c
			trading += weight * c
		}
		total := 0.7*trading + 0.3*r.ReasoningScore
		scores[i] = Score{
			AgentID:        r.AgentID,
			Components:     components,
			TradingScore:   trading,
			ReasoningScore: r.ReasoningScore,
			TotalScore:     total,
			SharpeRatio:    r.Performance.SharpeRatio,
		}
	}
	sortScores(scores)
	for i := range scores {
		scores[i].Rank = i + 1
	}
	return scores
}

// Winner 返回排序后的第一名 agent id；空场返回空串。
func Winner(scores []Score) string {
	if len(scores) == 0 {
		return ""
	}
	return scores[0].AgentID
}

func sortScores(scores []Score) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].TotalScore != scores[j].TotalScore {
			return scores[i].TotalScore > scores[j].TotalScore
		}
		if scores[i].SharpeRatio != scores[j].SharpeRatio {
			return scores[i].SharpeRatio > scores[j].SharpeRatio
		}
		return scores[i].AgentID < scores[j].AgentID
	})
}

func capProfitFactor(pf float64) float64 {
	if math.IsInf(pf, 1) || pf > profitFactorCap {
		return profitFactorCap
	}
	if math.IsNaN(pf) || pf < 0 {
		return 0
	}
	return pf
}

// minMaxNormalize 把一组值映射到 [0,1]；全场相同取 1.0。
// invert=true 时值越小得分越高（回撤、波动率）。
func minMaxNormalize(values []float64, invert bool) []float64 {
	minV := lo.Min(values)
	maxV := lo.Max(values)
	spread := maxV - minV
	out := make([]float64, len(values))
	for i, v := range values {
		if spread == 0 {
			out[i] = 1.0
			continue
		}
		n := (v - minV) / spread
		if invert {
			n = 1 - n
		}
		out[i] = n
	}
	return out
}
