package arena

import (
	"arena/internal/evaluate"
	"arena/internal/metrics"
)

// BuildRunArtifact 把回放结果打分并组装成最终产物。
func BuildRunArtifact(res *RunResult, cfg evaluate.ConfigEcho, initialBalance, periodsPerYear float64, createdAt int64) evaluate.Artifact {
	inputs := make([]evaluate.ReportInput, 0, len(res.Agents))
	for _, out := range res.Agents {
		inputs = append(inputs, evaluate.ReportInput{
			AgentID:        out.Spec.ID,
			ReasoningScore: out.Spec.ReasoningScore,
			Performance:    metrics.Compute(initialBalance, out.EquityCurve, out.Trades, periodsPerYear),
			EquityCurve:    out.EquityCurve,
			Trades:         out.Trades,
		})
	}
	return evaluate.BuildArtifact(res.RunID, createdAt, res.Cycles, cfg, inputs, res.Audit)
}
