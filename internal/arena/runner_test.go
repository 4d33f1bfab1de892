package arena

import (
	"context"
	"testing"
	"time"

	"arena/internal/account"
	"arena/internal/config"
	"arena/internal/decision"
	"arena/internal/evaluate"
	"arena/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedSource struct {
	name   string
	decide func(req decision.Request) (decision.TradingDecision, error)
}

func (s scriptedSource) Name() string { return s.name }

func (s scriptedSource) Decide(_ context.Context, req decision.Request) (decision.TradingDecision, error) {
	return s.decide(req)
}

func holdSource(name string) scriptedSource {
	return scriptedSource{name: name, decide: func(decision.Request) (decision.TradingDecision, error) {
		return decision.TradingDecision{}, nil
	}}
}

const hourMs = int64(3_600_000)

func hourCandles(start int64, closes ...float64) []market.Candle {
	out := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := start + int64(i)*hourMs
		out[i] = market.Candle{
			OpenTime:  open,
			CloseTime: open + hourMs - 1,
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1,
		}
	}
	return out
}

func newTestFeed(t *testing.T, candles map[string][]market.Candle) *market.Feed {
	t.Helper()
	decisionTF, err := market.ParseTimeframe("1h")
	require.NoError(t, err)
	intradayTF, err := market.ParseTimeframe("3m")
	require.NoError(t, err)
	return market.NewFeedFromCandles(decisionTF, intradayTF, candles, nil)
}

func testRunConfig() RunConfig {
	return RunConfig{
		RunID:           "test-run",
		InitialBalance:  10000,
		FeeRate:         0.0005,
		SlippageRate:    0.0002,
		DecisionTimeout: time.Second,
	}
}

func participant(id string, score float64, src decision.Source) Participant {
	return Participant{Spec: config.AgentSpec{ID: id, ReasoningScore: score}, Source: src}
}

func openAction(symbol string, action string, notional, leverage float64) decision.TradingDecision {
	return decision.TradingDecision{Actions: []decision.TradingAction{{
		Symbol:          symbol,
		Action:          action,
		Leverage:        leverage,
		PositionSizeUSD: notional,
	}}}
}

func closeAction(symbol, action string, ratio float64) decision.TradingDecision {
	return decision.TradingDecision{Actions: []decision.TradingAction{{
		Symbol:     symbol,
		Action:     action,
		CloseRatio: ratio,
	}}}
}

func auditKinds(audit []evaluate.AuditRecord) map[string]int {
	out := make(map[string]int)
	for _, rec := range audit {
		out[rec.Kind]++
	}
	return out
}

func TestRunnerDeterministic(t *testing.T) {
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100, 110, 120),
	})
	alpha := scriptedSource{name: "alpha", decide: func(req decision.Request) (decision.TradingDecision, error) {
		switch req.Cycle {
		case 1:
			return openAction("BTCUSDT", decision.ActionOpenLong, 1000, 2), nil
		case 3:
			return closeAction("BTCUSDT", decision.ActionCloseLong, 1), nil
		}
		return decision.TradingDecision{}, nil
	}}

	run := func() *RunResult {
		runner, err := NewRunner(testRunConfig(), feed, []Participant{
			participant("beta", 0.4, holdSource("beta")),
			participant("alpha", 0.8, alpha),
		})
		require.NoError(t, err)
		res, err := runner.Run(context.Background())
		require.NoError(t, err)
		return res
	}

	first := run()
	assert.Equal(t, StatusDone, first.Status)
	assert.Equal(t, 3, first.Cycles)
	require.Len(t, first.Agents, 2)
	assert.Equal(t, "alpha", first.Agents[0].Spec.ID, "agents kept in id order")
	assert.Greater(t, first.Agents[0].FinalEquity, 10000.0)
	assert.InDelta(t, 10000, first.Agents[1].FinalEquity, 1e-9)
	require.Len(t, first.Agents[0].EquityCurve, 3)
	require.Len(t, first.Agents[0].Trades, 2)

	for i := 0; i < 5; i++ {
		assert.Equal(t, first, run())
	}
}

func TestSizingClipAudited(t *testing.T) {
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100, 100),
	})
	cfg := testRunConfig()
	cfg.InitialBalance = 1000
	greedy := scriptedSource{name: "greedy", decide: func(req decision.Request) (decision.TradingDecision, error) {
		if req.Cycle == 1 {
			return openAction("BTCUSDT", decision.ActionOpenLong, 50000, 5), nil
		}
		return decision.TradingDecision{}, nil
	}}
	runner, err := NewRunner(cfg, feed, []Participant{participant("greedy", 0.5, greedy)})
	require.NoError(t, err)
	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, auditKinds(res.Audit)[evaluate.AuditSizingAdjusted])
	require.Len(t, res.Agents[0].Trades, 1)
	open := res.Agents[0].Trades[0]
	wantNotional := account.MaxOpenNotional(1000, 5, cfg.FeeRate, cfg.SlippageRate)
	assert.InDelta(t, wantNotional, open.Quantity*open.Price, 1e-6)
}

func TestDustOpenSkipped(t *testing.T) {
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100),
	})
	cfg := testRunConfig()
	cfg.InitialBalance = 10000
	broke := scriptedSource{name: "broke", decide: func(req decision.Request) (decision.TradingDecision, error) {
		// 第一单吃满现金，第二单只剩尘埃额度
		return decision.TradingDecision{Actions: []decision.TradingAction{
			{Symbol: "BTCUSDT", Action: decision.ActionOpenLong, Leverage: 1, PositionSizeUSD: 1e9},
			{Symbol: "BTCUSDT", Action: decision.ActionOpenLong, Leverage: 1, PositionSizeUSD: 500},
		}}, nil
	}}
	runner, err := NewRunner(cfg, feed, []Participant{participant("broke", 0.5, broke)})
	require.NoError(t, err)
	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	kinds := auditKinds(res.Audit)
	assert.Equal(t, 1, kinds[evaluate.AuditSizingAdjusted])
	assert.Equal(t, 1, kinds[evaluate.AuditSkippedOpen])
	assert.Len(t, res.Agents[0].Trades, 1)
}

func TestDataGapSkipsSymbolOnly(t *testing.T) {
	eth := hourCandles(0, 50, 55, 60)
	gapped := hourCandles(0, 100, 110, 120)
	gapped = append(gapped[:1], gapped[2:]...) // 第二根缺失
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": gapped,
		"ETHUSDT": eth,
	})
	src := scriptedSource{name: "both", decide: func(req decision.Request) (decision.TradingDecision, error) {
		if req.Cycle == 2 {
			return decision.TradingDecision{Actions: []decision.TradingAction{
				{Symbol: "BTCUSDT", Action: decision.ActionOpenLong, Leverage: 2, PositionSizeUSD: 500},
				{Symbol: "ETHUSDT", Action: decision.ActionOpenLong, Leverage: 2, PositionSizeUSD: 500},
			}}, nil
		}
		return decision.TradingDecision{}, nil
	}}
	runner, err := NewRunner(testRunConfig(), feed, []Participant{participant("both", 0.5, src)})
	require.NoError(t, err)
	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.GreaterOrEqual(t, auditKinds(res.Audit)[evaluate.AuditDataGap], 1)
	require.Len(t, res.Agents[0].Trades, 1, "only the symbol with data trades")
	assert.Equal(t, "ETHUSDT", res.Agents[0].Trades[0].Symbol)
}

func TestDecisionFaultTreatedAsHold(t *testing.T) {
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100, 110),
	})
	flaky := scriptedSource{name: "flaky", decide: func(req decision.Request) (decision.TradingDecision, error) {
		return decision.TradingDecision{}, assert.AnError
	}}
	runner, err := NewRunner(testRunConfig(), feed, []Participant{
		participant("flaky", 0.5, flaky),
		participant("steady", 0.5, holdSource("steady")),
	})
	require.NoError(t, err)
	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, auditKinds(res.Audit)[evaluate.AuditDecisionFault])
	assert.Empty(t, res.Agents[0].Trades)
	assert.InDelta(t, 10000, res.Agents[0].FinalEquity, 1e-9)
	assert.Equal(t, StatusDone, res.Status)
}

func TestDecisionTimeoutTreatedAsHold(t *testing.T) {
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100),
	})
	cfg := testRunConfig()
	cfg.DecisionTimeout = 10 * time.Millisecond
	runner, err := NewRunner(cfg, feed, []Participant{participant("slow", 0.5, slowDecider{})})
	require.NoError(t, err)
	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Audit, 1)
	assert.Equal(t, evaluate.AuditDecisionFault, res.Audit[0].Kind)
	assert.Contains(t, res.Audit[0].Detail, "timed out")
	assert.Empty(t, res.Agents[0].Trades)
}

type slowDecider struct{}

func (slowDecider) Name() string { return "slow" }

func (slowDecider) Decide(ctx context.Context, _ decision.Request) (decision.TradingDecision, error) {
	<-ctx.Done()
	return decision.TradingDecision{}, ctx.Err()
}

func TestLiquidationSweepAudited(t *testing.T) {
	// 10 倍杠杆开多于 100，强平价 90；第二回合收盘 89 触发强平
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100, 89, 95),
	})
	src := scriptedSource{name: "levered", decide: func(req decision.Request) (decision.TradingDecision, error) {
		if req.Cycle == 1 {
			return openAction("BTCUSDT", decision.ActionOpenLong, 1000, 10), nil
		}
		return decision.TradingDecision{}, nil
	}}
	runner, err := NewRunner(testRunConfig(), feed, []Participant{participant("levered", 0.5, src)})
	require.NoError(t, err)
	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, auditKinds(res.Audit)[evaluate.AuditLiquidation])
	require.Len(t, res.Agents[0].Trades, 2)
	liq := res.Agents[0].Trades[1]
	assert.Equal(t, account.TradeLiquidation, liq.Kind)
	assert.InDelta(t, 90, liq.Price, 1e-6)
	assert.Equal(t, 2, liq.Cycle, "swept in the cycle the price crossed")
}

func TestOppositeOpenSkipped(t *testing.T) {
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100, 100),
	})
	src := scriptedSource{name: "flip", decide: func(req decision.Request) (decision.TradingDecision, error) {
		if req.Cycle == 1 {
			return openAction("BTCUSDT", decision.ActionOpenLong, 500, 2), nil
		}
		return openAction("BTCUSDT", decision.ActionOpenShort, 500, 2), nil
	}}
	runner, err := NewRunner(testRunConfig(), feed, []Participant{participant("flip", 0.5, src)})
	require.NoError(t, err)
	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, auditKinds(res.Audit)[evaluate.AuditSkippedOpen])
	require.Len(t, res.Agents[0].Trades, 1)
	assert.Equal(t, account.SideLong, res.Agents[0].Trades[0].Side)
}

func TestMaxCyclesCap(t *testing.T) {
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100, 101, 102, 103, 104),
	})
	cfg := testRunConfig()
	cfg.MaxCycles = 2
	runner, err := NewRunner(cfg, feed, []Participant{participant("a", 0.5, holdSource("a"))})
	require.NoError(t, err)
	res, err := runner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Cycles)
	assert.Len(t, res.Agents[0].EquityCurve, 2)
}

func TestCancellationAtCycleBoundary(t *testing.T) {
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100, 101, 102, 103),
	})
	ctx, cancel := context.WithCancel(context.Background())
	src := scriptedSource{name: "a", decide: func(req decision.Request) (decision.TradingDecision, error) {
		if req.Cycle == 2 {
			cancel()
		}
		return decision.TradingDecision{}, nil
	}}
	runner, err := NewRunner(testRunConfig(), feed, []Participant{participant("a", 0.5, src)})
	require.NoError(t, err)
	res, err := runner.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, StatusCanceled, res.Status)
	assert.Equal(t, 2, res.Cycles, "the cycle in flight still completes")
	assert.Len(t, res.Agents[0].EquityCurve, 2)
}

func TestBuildRunArtifactRanks(t *testing.T) {
	feed := newTestFeed(t, map[string][]market.Candle{
		"BTCUSDT": hourCandles(0, 100, 110, 120),
	})
	winner := scriptedSource{name: "winner", decide: func(req decision.Request) (decision.TradingDecision, error) {
		if req.Cycle == 1 {
			return openAction("BTCUSDT", decision.ActionOpenLong, 2000, 2), nil
		}
		return decision.TradingDecision{}, nil
	}}
	runner, err := NewRunner(testRunConfig(), feed, []Participant{
		participant("winner", 0.9, winner),
		participant("idle", 0.1, holdSource("idle")),
	})
	require.NoError(t, err)
	res, err := runner.Run(context.Background())
	require.NoError(t, err)

	art := BuildRunArtifact(res, evaluate.ConfigEcho{AgentCount: 2}, 10000, 8760, time.Now().UnixMilli())
	assert.Equal(t, "winner", art.WinnerID)
	require.Len(t, art.Agents, 2)
	assert.Equal(t, "winner", art.Agents[0].AgentID)
	assert.Greater(t, art.Agents[0].Performance.TotalReturnPct, 0.0)
	assert.Equal(t, 3, art.Cycles)
}
