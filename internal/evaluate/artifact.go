package evaluate

import (
	"sort"

	"arena/internal/account"
	"arena/internal/metrics"
)

// 审计事件类型（回放过程中的每次跳过/故障/调整）。
const (
	AuditInvalidAction  = "invalid_action"
	AuditDataGap        = "data_gap"
	AuditSizingAdjusted = "sizing_adjusted"
	AuditSkippedOpen    = "skipped_open"
	AuditDecisionFault  = "decision_fault"
	AuditLiquidation    = "liquidation"
)

// AuditRecord 单条审计记录。
type AuditRecord struct {
	Cycle     int    `json:"cycle"`
	Timestamp int64  `json:"timestamp"`
	AgentID   string `json:"agent_id"`
	Symbol    string `json:"symbol,omitempty"`
	Kind      string `json:"kind"`
	Detail    string `json:"detail,omitempty"`
}

// ConfigEcho 把生效的竞赛参数原样写进产物。
type ConfigEcho struct {
	Symbols          []string `json:"symbols"`
	Start            int64    `json:"start"`
	End              int64    `json:"end"`
	DecisionInterval string   `json:"decision_interval"`
	IntradayInterval string   `json:"intraday_interval"`
	MaxCycles        int      `json:"max_cycles,omitempty"`
	InitialBalance   float64  `json:"initial_balance"`
	FeeRate          float64  `json:"fee_rate"`
	SlippageRate     float64  `json:"slippage_rate"`
	AgentCount       int      `json:"agent_count"`
}

// AgentReport 单 agent 的完整结果（绩效 + 评分 + 曲线 + 成交）。
type AgentReport struct {
	AgentID        string                `json:"agent_id"`
	ReasoningScore float64               `json:"reasoning_score"`
	Performance    metrics.Performance   `json:"performance"`
	Score          Score                 `json:"score"`
	EquityCurve    []account.EquityPoint `json:"equity_curve"`
	Trades         []account.TradeEvent  `json:"trades"`
}

// Artifact 一场竞赛的不可变评估产物。
type Artifact struct {
	RunID       string             `json:"run_id"`
	CreatedAt   int64              `json:"created_at"`
	Cycles      int                `json:"cycles"`
	Config      ConfigEcho         `json:"config"`
	Weights     map[string]float64 `json:"weights"`
	Leaderboard []Score            `json:"leaderboard"`
	WinnerID    string             `json:"winner_id"`
	Agents      []AgentReport      `json:"agents"`
	Audit       []AuditRecord      `json:"audit,omitempty"`
}

// ReportInput 是 BuildArtifact 的单 agent 输入。
type ReportInput struct {
	AgentID        string
	ReasoningScore float64
	Performance    metrics.Performance
	EquityCurve    []account.EquityPoint
	Trades         []account.TradeEvent
}

// BuildArtifact 打分、排名并组装产物；Agents 按名次排列。
func BuildArtifact(runID string, createdAt int64, cycles int, cfg ConfigEcho, inputs []ReportInput, audit []AuditRecord) Artifact {
	results := make([]AgentResult, len(inputs))
	for i, in := range inputs {
		results[i] = AgentResult{
			AgentID:        in.AgentID,
			ReasoningScore: in.ReasoningScore,
			Performance:    in.Performance,
		}
	}
	scores := ScoreCohort(results)
	byID := make(map[string]Score, len(scores))
	for _, s := range scores {
		byID[s.AgentID] = s
	}

	agents := make([]AgentReport, len(inputs))
	for i, in := range inputs {
		agents[i] = AgentReport{
			AgentID:        in.AgentID,
			ReasoningScore: in.ReasoningScore,
			Performance:    in.Performance,
			Score:          byID[in.AgentID],
			EquityCurve:    in.EquityCurve,
			Trades:         in.Trades,
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].Score.Rank < agents[j].Score.Rank })

	weights := make(map[string]float64, len(tradingWeights))
	for k, v := range tradingWeights {
		weights[k] = v
	}
	return Artifact{
		RunID:       runID,
		CreatedAt:   createdAt,
		Cycles:      cycles,
		Config:      cfg,
		Weights:     weights,
		Leaderboard: scores,
		WinnerID:    Winner(scores),
		Agents:      agents,
		Audit:       audit,
	}
}
