package store

import (
	"path/filepath"
	"testing"
	"time"

	"arena/internal/account"
	"arena/internal/arena"
	"arena/internal/evaluate"
	"arena/internal/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResultStore(t *testing.T) *ResultStore {
	t.Helper()
	s, err := NewResultStore(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleArtifact(runID string) evaluate.Artifact {
	pnl := 94.95
	return evaluate.BuildArtifact(runID, time.Now().UnixMilli(), 3,
		evaluate.ConfigEcho{Symbols: []string{"BTCUSDT"}, InitialBalance: 10000, AgentCount: 1},
		[]evaluate.ReportInput{{
			AgentID:        "alpha",
			ReasoningScore: 0.7,
			Performance:    metrics.Performance{InitialBalance: 10000, FinalEquity: 10094.95},
			EquityCurve: []account.EquityPoint{
				{Timestamp: 1000, Cycle: 1, Balance: 10000, Equity: 10000},
				{Timestamp: 2000, Cycle: 2, Balance: 10094.95, Equity: 10094.95},
			},
			Trades: []account.TradeEvent{
				{Timestamp: 1000, Cycle: 1, Symbol: "BTCUSDT", Side: account.SideLong, Kind: account.TradeOpen, Quantity: 0.1, Price: 50000, ExecPrice: 50010, Fee: 2.5005, Leverage: 5},
				{Timestamp: 2000, Cycle: 2, Symbol: "BTCUSDT", Side: account.SideLong, Kind: account.TradeClose, Quantity: 0.1, Price: 51000, ExecPrice: 50989.8, Fee: 2.54949, RealizedPnL: &pnl},
			},
		}},
		nil)
}

func TestSaveAndLoadRun(t *testing.T) {
	s := newTestResultStore(t)
	art := sampleArtifact("run-1")
	job := arena.RunJob{
		ID:          "run-1",
		Status:      arena.StatusDone,
		TotalCycles: 3,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	require.NoError(t, s.SaveRun(t.Context(), job, art))

	sum, err := s.GetRun(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, arena.StatusDone, sum.Status)
	assert.Equal(t, "alpha", sum.WinnerID)
	assert.Equal(t, 3, sum.Cycles)

	loaded, err := s.Artifact(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, art.WinnerID, loaded.WinnerID)
	require.Len(t, loaded.Agents, 1)
	assert.Len(t, loaded.Agents[0].Trades, 2)

	equity, err := s.EquitySeries(t.Context(), "run-1", "alpha")
	require.NoError(t, err)
	require.Len(t, equity, 2)
	assert.InDelta(t, 10094.95, equity[1].Equity, 1e-9)

	trades, err := s.TradeHistory(t.Context(), "run-1", "alpha")
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Equal(t, account.TradeOpen, trades[0].Kind)
	require.NotNil(t, trades[1].RealizedPnL)
	assert.InDelta(t, 94.95, *trades[1].RealizedPnL, 1e-9)
}

func TestSaveRunIsIdempotent(t *testing.T) {
	s := newTestResultStore(t)
	job := arena.RunJob{ID: "run-2", Status: arena.StatusDone, CreatedAt: time.Now()}
	art := sampleArtifact("run-2")
	require.NoError(t, s.SaveRun(t.Context(), job, art))
	require.NoError(t, s.SaveRun(t.Context(), job, art))

	trades, err := s.TradeHistory(t.Context(), "run-2", "")
	require.NoError(t, err)
	assert.Len(t, trades, 2, "re-saving must not duplicate rows")
}

func TestGetRunNotFound(t *testing.T) {
	s := newTestResultStore(t)
	_, err := s.GetRun(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
	_, err = s.Artifact(t.Context(), "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestUpdateRunStatusCreatesPlaceholder(t *testing.T) {
	s := newTestResultStore(t)
	require.NoError(t, s.UpdateRunStatus(t.Context(), "run-3", arena.StatusFailed, "boom"))
	sum, err := s.GetRun(t.Context(), "run-3")
	require.NoError(t, err)
	assert.Equal(t, arena.StatusFailed, sum.Status)
	assert.Equal(t, "boom", sum.Message)

	runs, err := s.ListRuns(t.Context(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}
