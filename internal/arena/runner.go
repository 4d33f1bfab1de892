package arena

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"arena/internal/account"
	"arena/internal/config"
	"arena/internal/decision"
	"arena/internal/evaluate"
	"arena/internal/logger"
	"arena/internal/market"

	"golang.org/x/sync/errgroup"
)

// 中文说明：
// Runner 驱动一场竞赛：沿决策周期时间线逐回合推进，每回合并发征集
// 全部 agent 的决策，到齐（或超时）后按 agent ID 升序串行落账，再做
// 强平扫描与权益采样。任何 agent 的故障只影响它自己（视为 hold）。

// 低于该名义价值的开仓请求按资金不足处理。
const minOpenNotionalUSD = 1.0

const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusCanceled = "canceled"
)

// RunConfig 单场竞赛的账户与回放参数。
type RunConfig struct {
	RunID            string
	InitialBalance   float64
	FeeRate          float64
	SlippageRate     float64
	HistoryBars      int
	IntradayLookback int
	DecisionTimeout  time.Duration
	MaxCycles        int
}

func (c *RunConfig) withDefaults() {
	if c.HistoryBars <= 0 {
		c.HistoryBars = 120
	}
	if c.IntradayLookback <= 0 {
		c.IntradayLookback = 60
	}
	if c.DecisionTimeout <= 0 {
		c.DecisionTimeout = 120 * time.Second
	}
}

// Participant 一名参赛者：名单条目加决策端。
type Participant struct {
	Spec   config.AgentSpec
	Source decision.Source
}

type agentState struct {
	spec   config.AgentSpec
	source decision.Source
	acct   *account.Account
}

// AgentOutcome 单 agent 的竞赛结果（账本只读导出）。
type AgentOutcome struct {
	Spec        config.AgentSpec
	FinalEquity float64
	EquityCurve []account.EquityPoint
	Trades      []account.TradeEvent
}

// RunResult 一场竞赛的回放输出；评分在此之上另行计算。
type RunResult struct {
	RunID  string
	Status string
	Cycles int
	Agents []AgentOutcome
	Audit  []evaluate.AuditRecord
}

type Runner struct {
	cfg      RunConfig
	feed     *market.Feed
	renderer decision.ContextRenderer
	agents   []*agentState
	audit    []evaluate.AuditRecord
	onCycle  func(done, total int)
}

// NewRunner 为每名参赛者建独立账户；参赛者按 ID 升序固定次序。
func NewRunner(cfg RunConfig, feed *market.Feed, participants []Participant) (*Runner, error) {
	cfg.withDefaults()
	if feed == nil {
		return nil, fmt.Errorf("market feed is required")
	}
	if len(participants) == 0 {
		return nil, fmt.Errorf("at least one participant is required")
	}
	sorted := append([]Participant(nil), participants...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Spec.ID < sorted[j].Spec.ID })

	agents := make([]*agentState, 0, len(sorted))
	for _, p := range sorted {
		if p.Source == nil {
			return nil, fmt.Errorf("participant %s has no decision source", p.Spec.ID)
		}
		acct, err := account.New(cfg.InitialBalance, cfg.FeeRate, cfg.SlippageRate)
		if err != nil {
			return nil, fmt.Errorf("account for %s: %w", p.Spec.ID, err)
		}
		agents = append(agents, &agentState{spec: p.Spec, source: p.Source, acct: acct})
	}
	return &Runner{cfg: cfg, feed: feed, agents: agents}, nil
}

// SetRenderer 注入上下文渲染器（可选）。
func (r *Runner) SetRenderer(renderer decision.ContextRenderer) { r.renderer = renderer }

// SetProgress 注入进度回调，每回合结束调用一次。
func (r *Runner) SetProgress(fn func(done, total int)) { r.onCycle = fn }

// Run 执行整条时间线。取消只在回合边界生效，已完成的回合全部保留。
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	timeline := r.feed.Timeline()
	if len(timeline) == 0 {
		return nil, fmt.Errorf("empty decision timeline")
	}
	if r.cfg.MaxCycles > 0 && len(timeline) > r.cfg.MaxCycles {
		timeline = timeline[:r.cfg.MaxCycles]
	}
	total := len(timeline)
	status := StatusDone
	executed := 0

	for i, ts := range timeline {
		if ctx.Err() != nil {
			status = StatusCanceled
			break
		}
		cycle := i + 1
		prices := r.markPrices(ts)
		for _, sym := range r.feed.Symbols() {
			if _, ok := prices[sym]; !ok {
				r.addAudit(cycle, ts, "", sym, evaluate.AuditDataGap, "no decision candle at open time")
			}
		}

		decisions := r.collectDecisions(ctx, cycle, ts, prices)
		for ai, st := range r.agents {
			r.applyDecision(st, decisions[ai], cycle, ts, prices)
		}
		for _, st := range r.agents {
			for _, ev := range st.acct.CheckLiquidations(prices, ts, cycle) {
				r.addAudit(cycle, ts, st.spec.ID, ev.Symbol, evaluate.AuditLiquidation,
					fmt.Sprintf("filled at %.8f", ev.Price))
			}
			st.acct.MarkEquity(prices, ts, cycle)
		}
		executed = cycle
		if r.onCycle != nil {
			r.onCycle(cycle, total)
		}
	}

	result := &RunResult{
		RunID:  r.cfg.RunID,
		Status: status,
		Cycles: executed,
		Audit:  append([]evaluate.AuditRecord(nil), r.audit...),
	}
	for _, st := range r.agents {
		curve := st.acct.EquityHistory()
		final := r.cfg.InitialBalance
		if len(curve) > 0 {
			final = curve[len(curve)-1].Equity
		}
		result.Agents = append(result.Agents, AgentOutcome{
			Spec:        st.spec,
			FinalEquity: final,
			EquityCurve: curve,
			Trades:      st.acct.Trades(),
		})
	}
	return result, nil
}

// markPrices 取本回合每个 symbol 的决策周期收盘价；缺失的不入表。
func (r *Runner) markPrices(openTime int64) map[string]float64 {
	prices := make(map[string]float64)
	for _, sym := range r.feed.Symbols() {
		if c, ok := r.feed.CandleAt(sym, openTime); ok {
			prices[sym] = c.Close
		}
	}
	return prices
}

// collectDecisions 并发征集全部 agent 的决策。单个 agent 的超时或
// 报错不影响他人，按 hold 处理并写入审计。
func (r *Runner) collectDecisions(ctx context.Context, cycle int, ts int64, prices map[string]float64) []decision.TradingDecision {
	requests := make([]decision.Request, len(r.agents))
	for i, st := range r.agents {
		requests[i] = r.buildRequest(st, cycle, ts, prices)
	}

	decisions := make([]decision.TradingDecision, len(r.agents))
	faults := make([]error, len(r.agents))
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.agents {
		i := i
		st := r.agents[i]
		g.Go(func() error {
			dctx, cancel := context.WithTimeout(gctx, r.cfg.DecisionTimeout)
			defer cancel()
			d, err := st.source.Decide(dctx, requests[i])
			if err != nil {
				faults[i] = err
				return nil
			}
			decision.NormalizeDecision(&d)
			decisions[i] = d
			return nil
		})
	}
	_ = g.Wait()
	for i, err := range faults {
		if err == nil {
			continue
		}
		reason := faultReason(err)
		logger.LogDecisionFault(r.agents[i].spec.ID, r.cfg.RunID, reason)
		r.addAudit(cycle, ts, r.agents[i].spec.ID, "", evaluate.AuditDecisionFault, reason)
		decisions[i] = decision.TradingDecision{}
	}
	return decisions
}

func faultReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "decision timed out"
	case errors.Is(err, decision.ErrMalformed):
		return fmt.Sprintf("malformed decision: %v", err)
	default:
		return err.Error()
	}
}

func (r *Runner) buildRequest(st *agentState, cycle int, ts int64, prices map[string]float64) decision.Request {
	equity, _, perSymbol := st.acct.TotalEquity(prices)
	positions := make([]decision.PositionView, 0)
	for _, pos := range st.acct.Positions() {
		positions = append(positions, decision.PositionView{
			Symbol:           pos.Symbol,
			Side:             string(pos.Side),
			Quantity:         pos.Quantity,
			EntryPrice:       pos.EntryPrice,
			Leverage:         pos.Leverage,
			UnrealizedPnL:    perSymbol[pos.Symbol],
			LiquidationPrice: pos.LiquidationPrice,
		})
	}

	contexts := make([]decision.SymbolContext, 0)
	for _, sym := range r.feed.Symbols() {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		history := r.feed.History(sym, ts, r.cfg.HistoryBars)
		intraday := r.feed.IntradaySlice(sym, ts, r.cfg.IntradayLookback)
		sc := decision.SymbolContext{
			Symbol:    sym,
			LastPrice: price,
			Candles:   history,
			Intraday:  intraday,
		}
		if snap, ok := market.ComputeIndicators(history); ok {
			sc.Indicators = &snap
		}
		if snap, ok := market.ComputeIndicators(intraday); ok {
			sc.IntradayIndicators = &snap
		}
		contexts = append(contexts, sc)
	}

	req := decision.Request{
		RunID:     r.cfg.RunID,
		AgentID:   st.spec.ID,
		Cycle:     cycle,
		Timestamp: ts,
		Cash:      st.acct.Cash(),
		Equity:    equity,
		Positions: positions,
		Market:    contexts,
	}
	if r.renderer != nil {
		rendered, err := r.renderer.Render(req)
		if err != nil {
			logger.Warnf("context render failed for %s: %v", st.spec.ID, err)
		} else {
			req.Context = rendered
		}
	}
	return req
}

// applyDecision 串行落账一名 agent 的全部动作。非法动作逐条跳过。
func (r *Runner) applyDecision(st *agentState, d decision.TradingDecision, cycle int, ts int64, prices map[string]float64) {
	for i := range d.Actions {
		act := d.Actions[i]
		if err := decision.Validate(&act); err != nil {
			r.addAudit(cycle, ts, st.spec.ID, act.Symbol, evaluate.AuditInvalidAction, err.Error())
			continue
		}
		if act.Action == decision.ActionHold {
			continue
		}
		price, ok := prices[act.Symbol]
		if !ok {
			r.addAudit(cycle, ts, st.spec.ID, act.Symbol, evaluate.AuditDataGap, "no candle this cycle")
			continue
		}
		switch act.Action {
		case decision.ActionOpenLong:
			r.applyOpen(st, act, account.SideLong, price, cycle, ts)
		case decision.ActionOpenShort:
			r.applyOpen(st, act, account.SideShort, price, cycle, ts)
		case decision.ActionCloseLong:
			r.applyClose(st, act, account.SideLong, price, cycle, ts)
		case decision.ActionCloseShort:
			r.applyClose(st, act, account.SideShort, price, cycle, ts)
		}
	}
}

func (r *Runner) applyOpen(st *agentState, act decision.TradingAction, side account.Side, price float64, cycle int, ts int64) {
	if pos := st.acct.Position(act.Symbol); pos != nil && pos.Side != side {
		r.addAudit(cycle, ts, st.spec.ID, act.Symbol, evaluate.AuditSkippedOpen,
			fmt.Sprintf("%s side already held", pos.Side))
		return
	}
	notional := act.PositionSizeUSD
	maxNotional := account.MaxOpenNotional(st.acct.Cash(), act.Leverage, r.cfg.FeeRate, r.cfg.SlippageRate)
	if notional > maxNotional {
		if maxNotional < minOpenNotionalUSD {
			r.addAudit(cycle, ts, st.spec.ID, act.Symbol, evaluate.AuditSkippedOpen,
				"insufficient cash for minimum order")
			return
		}
		r.addAudit(cycle, ts, st.spec.ID, act.Symbol, evaluate.AuditSizingAdjusted,
			fmt.Sprintf("notional %.2f clipped to %.2f", notional, maxNotional))
		notional = maxNotional
	}
	qty := notional / price
	if _, err := st.acct.Open(act.Symbol, side, qty, act.Leverage, price, ts, cycle); err != nil {
		r.addAudit(cycle, ts, st.spec.ID, act.Symbol, evaluate.AuditSkippedOpen, err.Error())
	}
}

func (r *Runner) applyClose(st *agentState, act decision.TradingAction, side account.Side, price float64, cycle int, ts int64) {
	pos := st.acct.Position(act.Symbol)
	if pos == nil {
		r.addAudit(cycle, ts, st.spec.ID, act.Symbol, evaluate.AuditInvalidAction, "no position to close")
		return
	}
	if pos.Side != side {
		r.addAudit(cycle, ts, st.spec.ID, act.Symbol, evaluate.AuditInvalidAction,
			fmt.Sprintf("position side is %s", pos.Side))
		return
	}
	qty := act.CloseRatio * pos.Quantity
	if qty > pos.Quantity {
		qty = pos.Quantity
	}
	if _, err := st.acct.Close(act.Symbol, qty, price, ts, cycle, act.Action); err != nil {
		r.addAudit(cycle, ts, st.spec.ID, act.Symbol, evaluate.AuditInvalidAction, err.Error())
	}
}

func (r *Runner) addAudit(cycle int, ts int64, agentID, symbol, kind, detail string) {
	r.audit = append(r.audit, evaluate.AuditRecord{
		Cycle:     cycle,
		Timestamp: ts,
		AgentID:   agentID,
		Symbol:    symbol,
		Kind:      kind,
		Detail:    detail,
	})
}
