package market

import (
	"context"
	"fmt"

	"arena/internal/logger"
)

const defaultSyncBatch = 1000

// Syncer 负责把远端缺口补齐到本地 K 线库。
type Syncer struct {
	store    *Store
	source   CandleSource
	maxBatch int
}

func NewSyncer(store *Store, source CandleSource) *Syncer {
	return &Syncer{store: store, source: source, maxBatch: defaultSyncBatch}
}

// EnsureRange 检查并补齐 [start,end] 的缺口，返回补齐后的完整性报告。
func (s *Syncer) EnsureRange(ctx context.Context, symbol string, tf Timeframe, start, end int64) (IntegrityReport, error) {
	if s == nil || s.store == nil {
		return IntegrityReport{}, fmt.Errorf("syncer not initialized")
	}
	start, end = tf.AlignRange(start, end)
	report, err := s.store.CheckIntegrity(ctx, symbol, tf.Key, tf, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	if report.Complete() || s.source == nil {
		return report, nil
	}
	step := tf.durationMillis()
	for _, gap := range report.Gaps {
		cursor := gap.From
		for cursor <= gap.To {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			remaining := int((gap.To-cursor)/step) + 1
			if remaining > s.maxBatch {
				remaining = s.maxBatch
			}
			data, err := s.source.Fetch(ctx, FetchRequest{
				Symbol:   symbol,
				Interval: tf.SourceInterval,
				Start:    cursor,
				End:      gap.To,
				Limit:    remaining,
			})
			if err != nil {
				return report, fmt.Errorf("%s fetch failed: %w", s.source.Name(), err)
			}
			if len(data) == 0 {
				logger.Warnf("[market] %s %s empty fetch for [%d,%d]", symbol, tf.Key, cursor, gap.To)
				break
			}
			inserted, err := s.store.InsertCandles(ctx, symbol, tf.Key, data)
			if err != nil {
				return report, fmt.Errorf("insert candles failed: %w", err)
			}
			cursor = data[len(data)-1].OpenTime + step
			if inserted == 0 {
				break
			}
		}
	}
	final, err := s.store.CheckIntegrity(ctx, symbol, tf.Key, tf, start, end)
	if err != nil {
		return IntegrityReport{}, err
	}
	if !final.Complete() {
		logger.Warnf("[market] %s %s still has %d gaps after sync", symbol, tf.Key, len(final.Gaps))
	}
	return final, nil
}
