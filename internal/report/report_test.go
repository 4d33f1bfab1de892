package report

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"arena/internal/account"
	"arena/internal/evaluate"
	"arena/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testArtifact() evaluate.Artifact {
	return evaluate.BuildArtifact("run-report", time.Now().UnixMilli(), 2,
		evaluate.ConfigEcho{Symbols: []string{"BTCUSDT"}, InitialBalance: 10000, AgentCount: 2},
		[]evaluate.ReportInput{
			{
				AgentID:        "alpha",
				ReasoningScore: 0.8,
				Performance:    metrics.Performance{InitialBalance: 10000, FinalEquity: 10500, TotalReturnPct: 5},
				EquityCurve: []account.EquityPoint{
					{Timestamp: 1704067200000, Cycle: 1, Balance: 10000, Equity: 10000},
					{Timestamp: 1704070800000, Cycle: 2, Balance: 10500, Equity: 10500},
				},
			},
			{
				AgentID:        "beta",
				ReasoningScore: 0.2,
				Performance:    metrics.Performance{InitialBalance: 10000, FinalEquity: 9800, TotalReturnPct: -2},
				EquityCurve: []account.EquityPoint{
					{Timestamp: 1704067200000, Cycle: 1, Balance: 10000, Equity: 10000},
					{Timestamp: 1704070800000, Cycle: 2, Balance: 9800, Equity: 9800},
				},
			},
		},
		nil)
}

func TestWriteRunReport(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	path, err := w.WriteRunReport(testArtifact())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "run-report.html"), path)

	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(html), "alpha")
	assert.Contains(t, string(html), "Equity Curves")

	raw, err := os.ReadFile(filepath.Join(dir, "run-report.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "alpha")
	assert.Contains(t, string(raw), "winner")
}

func TestWriteRunReportRejectsEmpty(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	_, err = w.WriteRunReport(evaluate.Artifact{RunID: "empty"})
	assert.Error(t, err)
}
