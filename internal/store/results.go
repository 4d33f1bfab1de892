package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"arena/internal/account"
	"arena/internal/arena"
	"arena/internal/evaluate"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"
)

// 中文说明：
// 竞赛结果落库：runs 一行一场（含完整产物 JSON），成交与权益曲线
// 拆表存储方便按 agent 查询。SQLite + WAL，读写并发度压到很低。

var ErrRunNotFound = errors.New("run not found")

type runModel struct {
	ID           string         `gorm:"column:id;primaryKey"`
	Status       string         `gorm:"column:status"`
	Message      string         `gorm:"column:message"`
	WinnerID     string         `gorm:"column:winner_id"`
	Cycles       int            `gorm:"column:cycles"`
	TotalCycles  int            `gorm:"column:total_cycles"`
	ArtifactJSON datatypes.JSON `gorm:"column:artifact_json;type:TEXT"`
	CreatedAt    int64          `gorm:"column:created_at"`
	UpdatedAt    int64          `gorm:"column:updated_at"`
}

func (runModel) TableName() string { return "runs" }

type tradeEventModel struct {
	ID          int64    `gorm:"column:id;primaryKey;autoIncrement"`
	RunID       string   `gorm:"column:run_id;index:idx_trades_run_agent,priority:1"`
	AgentID     string   `gorm:"column:agent_id;index:idx_trades_run_agent,priority:2"`
	Cycle       int      `gorm:"column:cycle"`
	Timestamp   int64    `gorm:"column:timestamp"`
	Symbol      string   `gorm:"column:symbol"`
	Side        string   `gorm:"column:side"`
	Kind        string   `gorm:"column:kind"`
	Quantity    float64  `gorm:"column:quantity"`
	Price       float64  `gorm:"column:price"`
	ExecPrice   float64  `gorm:"column:exec_price"`
	Fee         float64  `gorm:"column:fee"`
	Leverage    float64  `gorm:"column:leverage"`
	RealizedPnL *float64 `gorm:"column:realized_pnl"`
	Reason      string   `gorm:"column:reason"`
}

func (tradeEventModel) TableName() string { return "trade_events" }

type equityPointModel struct {
	ID        int64   `gorm:"column:id;primaryKey;autoIncrement"`
	RunID     string  `gorm:"column:run_id;index:idx_equity_run_agent,priority:1"`
	AgentID   string  `gorm:"column:agent_id;index:idx_equity_run_agent,priority:2"`
	Cycle     int     `gorm:"column:cycle"`
	Timestamp int64   `gorm:"column:timestamp"`
	Balance   float64 `gorm:"column:balance"`
	Equity    float64 `gorm:"column:equity"`
}

func (equityPointModel) TableName() string { return "equity_points" }

// RunSummary 列表视图用的精简行。
type RunSummary struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Message     string `json:"message,omitempty"`
	WinnerID    string `json:"winner_id,omitempty"`
	Cycles      int    `json:"cycles"`
	TotalCycles int    `json:"total_cycles"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// ResultStore 基于 Gorm + SQLite 的结果库。
type ResultStore struct {
	db *gorm.DB
}

func NewResultStore(path string) (*ResultStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("result store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(&sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&runModel{}, &tradeEventModel{}, &equityPointModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &ResultStore{db: db}, nil
}

func (s *ResultStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ arena.ResultStore = (*ResultStore)(nil)

// SaveRun 整场落库：run 行加产物 JSON，成交与权益按 agent 拆表。
func (s *ResultStore) SaveRun(ctx context.Context, job arena.RunJob, art evaluate.Artifact) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store not initialized")
	}
	payload, err := json.Marshal(art)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	now := time.Now().UnixMilli()
	run := runModel{
		ID:           job.ID,
		Status:       job.Status,
		Message:      job.Message,
		WinnerID:     art.WinnerID,
		Cycles:       art.Cycles,
		TotalCycles:  job.TotalCycles,
		ArtifactJSON: datatypes.JSON(payload),
		CreatedAt:    job.CreatedAt.UnixMilli(),
		UpdatedAt:    now,
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).Create(&run).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", job.ID).Delete(&tradeEventModel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", job.ID).Delete(&equityPointModel{}).Error; err != nil {
			return err
		}
		for _, agent := range art.Agents {
			if len(agent.Trades) > 0 {
				models := make([]tradeEventModel, 0, len(agent.Trades))
				for _, ev := range agent.Trades {
					models = append(models, newTradeEventModel(job.ID, agent.AgentID, ev))
				}
				if err := tx.CreateInBatches(&models, 200).Error; err != nil {
					return err
				}
			}
			if len(agent.EquityCurve) > 0 {
				models := make([]equityPointModel, 0, len(agent.EquityCurve))
				for _, pt := range agent.EquityCurve {
					models = append(models, equityPointModel{
						RunID:     job.ID,
						AgentID:   agent.AgentID,
						Cycle:     pt.Cycle,
						Timestamp: pt.Timestamp,
						Balance:   pt.Balance,
						Equity:    pt.Equity,
					})
				}
				if err := tx.CreateInBatches(&models, 500).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// UpdateRunStatus 只更新状态行；run 不存在时落一行占位。
func (s *ResultStore) UpdateRunStatus(ctx context.Context, runID, status, message string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("result store not initialized")
	}
	now := time.Now().UnixMilli()
	run := runModel{
		ID:        runID,
		Status:    status,
		Message:   message,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":     status,
			"message":    message,
			"updated_at": now,
		}),
	}).Create(&run).Error
}

// ListRuns 按创建时间倒序返回场次摘要。
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []runModel
	if err := s.db.WithContext(ctx).
		Order("created_at DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]RunSummary, 0, len(models))
	for _, m := range models {
		out = append(out, runSummary(m))
	}
	return out, nil
}

// GetRun 返回单场摘要。
func (s *ResultStore) GetRun(ctx context.Context, runID string) (RunSummary, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", runID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RunSummary{}, ErrRunNotFound
	}
	if err != nil {
		return RunSummary{}, err
	}
	return runSummary(m), nil
}

// Artifact 反序列化整场产物。
func (s *ResultStore) Artifact(ctx context.Context, runID string) (evaluate.Artifact, error) {
	var m runModel
	err := s.db.WithContext(ctx).Where("id = ?", runID).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return evaluate.Artifact{}, ErrRunNotFound
	}
	if err != nil {
		return evaluate.Artifact{}, err
	}
	if len(m.ArtifactJSON) == 0 {
		return evaluate.Artifact{}, fmt.Errorf("run %s has no artifact", runID)
	}
	var art evaluate.Artifact
	if err := json.Unmarshal(m.ArtifactJSON, &art); err != nil {
		return evaluate.Artifact{}, fmt.Errorf("decode artifact: %w", err)
	}
	return art, nil
}

// EquitySeries 返回单场单 agent 的权益曲线（按回合升序）。
func (s *ResultStore) EquitySeries(ctx context.Context, runID, agentID string) ([]account.EquityPoint, error) {
	var models []equityPointModel
	q := s.db.WithContext(ctx).Where("run_id = ?", runID)
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	if err := q.Order("cycle ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]account.EquityPoint, 0, len(models))
	for _, m := range models {
		out = append(out, account.EquityPoint{
			Timestamp: m.Timestamp,
			Cycle:     m.Cycle,
			Balance:   m.Balance,
			Equity:    m.Equity,
		})
	}
	return out, nil
}

// TradeHistory 返回单场成交流水，可按 agent 过滤。
func (s *ResultStore) TradeHistory(ctx context.Context, runID, agentID string) ([]account.TradeEvent, error) {
	var models []tradeEventModel
	q := s.db.WithContext(ctx).Where("run_id = ?", runID)
	if agentID != "" {
		q = q.Where("agent_id = ?", agentID)
	}
	if err := q.Order("cycle ASC, id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]account.TradeEvent, 0, len(models))
	for _, m := range models {
		out = append(out, account.TradeEvent{
			Timestamp:   m.Timestamp,
			Cycle:       m.Cycle,
			Symbol:      m.Symbol,
			Side:        account.Side(m.Side),
			Kind:        m.Kind,
			Quantity:    m.Quantity,
			Price:       m.Price,
			ExecPrice:   m.ExecPrice,
			Fee:         m.Fee,
			Leverage:    m.Leverage,
			RealizedPnL: m.RealizedPnL,
			Reason:      m.Reason,
		})
	}
	return out, nil
}

func newTradeEventModel(runID, agentID string, ev account.TradeEvent) tradeEventModel {
	return tradeEventModel{
		RunID:       runID,
		AgentID:     agentID,
		Cycle:       ev.Cycle,
		Timestamp:   ev.Timestamp,
		Symbol:      ev.Symbol,
		Side:        string(ev.Side),
		Kind:        ev.Kind,
		Quantity:    ev.Quantity,
		Price:       ev.Price,
		ExecPrice:   ev.ExecPrice,
		Fee:         ev.Fee,
		Leverage:    ev.Leverage,
		RealizedPnL: ev.RealizedPnL,
		Reason:      ev.Reason,
	}
}

func runSummary(m runModel) RunSummary {
	return RunSummary{
		ID:          m.ID,
		Status:      m.Status,
		Message:     m.Message,
		WinnerID:    m.WinnerID,
		Cycles:      m.Cycles,
		TotalCycles: m.TotalCycles,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}
