package arena

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"arena/internal/config"
	"arena/internal/decision"
	"arena/internal/evaluate"
	"arena/internal/logger"
	"arena/internal/market"

	"github.com/google/uuid"
)

// 中文说明：
// Service 负责竞赛的全生命周期：补齐行情、构建回放视图、跑 Runner、
// 打分并落库。并发场次由信号量约束，取消只在回合边界生效。

// ResultStore 持久化一场竞赛的产物。
type ResultStore interface {
	SaveRun(ctx context.Context, job RunJob, art evaluate.Artifact) error
	UpdateRunStatus(ctx context.Context, runID, status, message string) error
}

// ReportWriter 把产物渲染为可读报告，返回文件路径。
type ReportWriter interface {
	WriteRunReport(art evaluate.Artifact) (string, error)
}

// SourceFactory 按名单条目构建决策端。
type SourceFactory func(spec config.AgentSpec) (decision.Source, error)

// RunJob 一场竞赛的状态快照。
type RunJob struct {
	ID          string    `json:"id"`
	Status      string    `json:"status"`
	Message     string    `json:"message,omitempty"`
	Cycle       int       `json:"cycle"`
	TotalCycles int       `json:"total_cycles"`
	WinnerID    string    `json:"winner_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ServiceConfig 组装竞赛服务的全部依赖。
type ServiceConfig struct {
	Competition config.CompetitionConfig
	Store       *market.Store
	Syncer      *market.Syncer // 可选：缺数据时先补
	Roster      func() []config.AgentSpec
	Sources     SourceFactory
	Results     ResultStore              // 可选
	Reports     ReportWriter             // 可选
	Renderer    decision.ContextRenderer // 可选
}

type Service struct {
	comp     config.CompetitionConfig
	store    *market.Store
	syncer   *market.Syncer
	roster   func() []config.AgentSpec
	sources  SourceFactory
	results  ResultStore
	reports  ReportWriter
	renderer decision.ContextRenderer

	sem chan struct{}

	mu      sync.RWMutex
	jobs    map[string]*RunJob
	cancels map[string]context.CancelFunc

	baseCtx context.Context
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("candle store is required")
	}
	if cfg.Roster == nil {
		return nil, fmt.Errorf("roster provider is required")
	}
	if cfg.Sources == nil {
		cfg.Sources = DefaultSourceFactory(time.Duration(cfg.Competition.DecisionTimeoutSeconds) * time.Second)
	}
	maxConcurrent := cfg.Competition.MaxConcurrentRuns
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Service{
		comp:     cfg.Competition,
		store:    cfg.Store,
		syncer:   cfg.Syncer,
		roster:   cfg.Roster,
		sources:  cfg.Sources,
		results:  cfg.Results,
		reports:  cfg.Reports,
		renderer: cfg.Renderer,
		sem:      make(chan struct{}, maxConcurrent),
		jobs:     make(map[string]*RunJob),
		cancels:  make(map[string]context.CancelFunc),
		baseCtx:  context.Background(),
	}, nil
}

// SetContext 注入宿主 ctx，宿主退出时所有场次收到取消。
func (s *Service) SetContext(ctx context.Context) {
	if ctx != nil {
		s.baseCtx = ctx
	}
}

func (s *Service) ctx() context.Context {
	if s.baseCtx == nil {
		return context.Background()
	}
	return s.baseCtx
}

// DefaultSourceFactory 为每个 agent 建 HTTP 决策端。
func DefaultSourceFactory(timeout time.Duration) SourceFactory {
	return func(spec config.AgentSpec) (decision.Source, error) {
		if spec.Endpoint == "" {
			return decision.HoldSource{}, nil
		}
		return decision.NewHTTPSource(spec.ID, spec.Endpoint, timeout)
	}
}

// StartRun 提交一场竞赛并立即返回任务快照；回放在后台执行。
func (s *Service) StartRun() (RunJob, error) {
	agents := s.roster()
	if len(agents) == 0 {
		return RunJob{}, fmt.Errorf("roster has no enabled agents")
	}
	if _, _, err := s.comp.Window(); err != nil {
		return RunJob{}, err
	}
	if _, err := market.ParseTimeframe(s.comp.DecisionInterval); err != nil {
		return RunJob{}, err
	}
	if _, err := market.ParseTimeframe(s.comp.IntradayInterval); err != nil {
		return RunJob{}, err
	}

	now := time.Now()
	job := &RunJob{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()
	logger.Infof("run %s submitted: %d agents, %v, [%s, %s]",
		job.ID, len(agents), s.comp.Symbols, s.comp.Start, s.comp.End)

	go s.execute(job.ID, agents)
	return *job, nil
}

func (s *Service) execute(runID string, agents []config.AgentSpec) {
	select {
	case s.sem <- struct{}{}:
	case <-s.ctx().Done():
		s.finishJob(runID, StatusFailed, "service shutting down")
		return
	}
	defer func() { <-s.sem }()

	ctx, cancel := context.WithCancel(s.ctx())
	s.mu.Lock()
	s.cancels[runID] = cancel
	s.mu.Unlock()
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, runID)
		s.mu.Unlock()
	}()

	s.updateJob(runID, func(j *RunJob) { j.Status = StatusRunning })

	art, status, err := s.runCompetition(ctx, runID, agents)
	if err != nil {
		logger.Errorf("run %s failed: %v", runID, err)
		s.finishJob(runID, StatusFailed, err.Error())
		return
	}

	s.updateJob(runID, func(j *RunJob) {
		j.Status = status
		j.WinnerID = art.WinnerID
		j.UpdatedAt = time.Now()
	})
	if s.results != nil {
		if job, ok := s.Job(runID); ok {
			if err := s.results.SaveRun(s.ctx(), job, art); err != nil {
				logger.Errorf("run %s persist failed: %v", runID, err)
			}
		}
	}
	if s.reports != nil {
		path, err := s.reports.WriteRunReport(art)
		if err != nil {
			logger.Errorf("run %s report failed: %v", runID, err)
		} else {
			logger.Infof("run %s report written to %s", runID, path)
		}
	}
	logger.Infof("run %s finished: status=%s cycles=%d winner=%s", runID, status, art.Cycles, art.WinnerID)
}

func (s *Service) runCompetition(ctx context.Context, runID string, agents []config.AgentSpec) (evaluate.Artifact, string, error) {
	start, end, err := s.comp.Window()
	if err != nil {
		return evaluate.Artifact{}, "", err
	}
	startMs, endMs := start.UnixMilli(), end.UnixMilli()
	decisionTF, err := market.ParseTimeframe(s.comp.DecisionInterval)
	if err != nil {
		return evaluate.Artifact{}, "", err
	}
	intradayTF, err := market.ParseTimeframe(s.comp.IntradayInterval)
	if err != nil {
		return evaluate.Artifact{}, "", err
	}

	if s.syncer != nil {
		if err := s.ensureData(ctx, decisionTF, intradayTF, startMs, endMs); err != nil {
			return evaluate.Artifact{}, "", err
		}
	}
	feed, err := market.LoadFeed(ctx, s.store, s.comp.Symbols, decisionTF, intradayTF, startMs, endMs)
	if err != nil {
		return evaluate.Artifact{}, "", err
	}

	participants := make([]Participant, 0, len(agents))
	for _, spec := range agents {
		src, err := s.sources(spec)
		if err != nil {
			return evaluate.Artifact{}, "", fmt.Errorf("decision source for %s: %w", spec.ID, err)
		}
		participants = append(participants, Participant{Spec: spec, Source: src})
	}

	runner, err := NewRunner(RunConfig{
		RunID:            runID,
		InitialBalance:   s.comp.InitialBalance,
		FeeRate:          s.comp.FeeRate,
		SlippageRate:     s.comp.SlippageRate,
		IntradayLookback: s.comp.IntradayLookback,
		DecisionTimeout:  time.Duration(s.comp.DecisionTimeoutSeconds) * time.Second,
		MaxCycles:        s.comp.MaxCycles,
	}, feed, participants)
	if err != nil {
		return evaluate.Artifact{}, "", err
	}
	runner.SetRenderer(s.renderer)
	runner.SetProgress(func(done, total int) {
		s.updateJob(runID, func(j *RunJob) {
			j.Cycle = done
			j.TotalCycles = total
			j.UpdatedAt = time.Now()
		})
	})

	res, err := runner.Run(ctx)
	if err != nil {
		return evaluate.Artifact{}, "", err
	}
	echo := evaluate.ConfigEcho{
		Symbols:          append([]string(nil), s.comp.Symbols...),
		Start:            startMs,
		End:              endMs,
		DecisionInterval: s.comp.DecisionInterval,
		IntradayInterval: s.comp.IntradayInterval,
		MaxCycles:        s.comp.MaxCycles,
		InitialBalance:   s.comp.InitialBalance,
		FeeRate:          s.comp.FeeRate,
		SlippageRate:     s.comp.SlippageRate,
		AgentCount:       len(agents),
	}
	art := BuildRunArtifact(res, echo, s.comp.InitialBalance, decisionTF.PeriodsPerYear(), time.Now().UnixMilli())
	return art, res.Status, nil
}

func (s *Service) ensureData(ctx context.Context, decisionTF, intradayTF market.Timeframe, start, end int64) error {
	for _, sym := range s.comp.Symbols {
		for _, tf := range []market.Timeframe{decisionTF, intradayTF} {
			report, err := s.syncer.EnsureRange(ctx, sym, tf, start, end)
			if err != nil {
				return fmt.Errorf("sync %s %s: %w", sym, tf.Key, err)
			}
			if !report.Complete() {
				logger.Warnf("%s %s still has %d gaps after sync", sym, tf.Key, len(report.Gaps))
			}
		}
	}
	return nil
}

// CancelRun 请求取消；实际停止发生在下一个回合边界。
func (s *Service) CancelRun(runID string) bool {
	s.mu.RLock()
	cancel, ok := s.cancels[runID]
	s.mu.RUnlock()
	if ok {
		cancel()
	}
	return ok
}

// Job 返回单场任务快照。
func (s *Service) Job(runID string) (RunJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[runID]
	if !ok {
		return RunJob{}, false
	}
	return *job, true
}

// Jobs 返回全部任务快照，按提交时间升序。
func (s *Service) Jobs() []RunJob {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RunJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *Service) updateJob(runID string, fn func(*RunJob)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[runID]; ok && fn != nil {
		fn(job)
	}
}

func (s *Service) finishJob(runID, status, message string) {
	s.updateJob(runID, func(j *RunJob) {
		j.Status = status
		j.Message = message
		j.UpdatedAt = time.Now()
	})
	if s.results != nil {
		if err := s.results.UpdateRunStatus(s.ctx(), runID, status, message); err != nil {
			logger.Debugf("run %s status persist skipped: %v", runID, err)
		}
	}
}
