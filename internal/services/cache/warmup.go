package cache

import (
	"context"
	"sync/atomic"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/tutorline/replybank/internal/models"
)

// ConfidenceScorer computes the confidence score of a generation record.
type ConfidenceScorer interface {
	Score(ctx context.Context, record *models.GenerationRecord) float64
}

// Warmup backfills the cache from sent records that never made it in, e.g.
// answers sent while the cache pipeline was down.
type Warmup struct {
	db     *gorm.DB
	store  *Store
	scorer ConfidenceScorer
	config models.CacheConfig
}

func NewWarmup(db *gorm.DB, store *Store, scorer ConfidenceScorer, config models.CacheConfig) *Warmup {
	return &Warmup{
		db:     db,
		store:  store,
		scorer: scorer,
		config: config,
	}
}

// Run caches every sent record from the lookback window that has no cache
// entry yet. Embedding calls run a few at a time; one bad record does not
// stop the rest. Returns the number of entries added.
func (w *Warmup) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -w.config.WarmupRecentDays)

	var records []models.GenerationRecord
	err := w.db.WithContext(ctx).
		Where("status = ? AND sent_at >= ?", models.StatusSent, cutoff).
		Where("response_id NOT IN (?)",
			w.db.Model(&models.CacheEntry{}).
				Select("original_response_id").
				Where("original_response_id IS NOT NULL")).
		Find(&records).Error
	if err != nil {
		return 0, models.NewInternalError("failed to find warmup candidates", err)
	}
	if len(records) == 0 {
		fiberlog.Debug("Warmup: nothing to backfill")
		return 0, nil
	}

	fiberlog.Infof("Warmup: backfilling %d sent records into the cache", len(records))

	var added atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i := range records {
		record := &records[i]
		g.Go(func() error {
			question := w.findQuestion(gctx, record)
			if question == "" {
				return nil
			}

			answer := record.RecommendedAnswer
			if record.FinalAnswer != nil && *record.FinalAnswer != "" {
				answer = *record.FinalAnswer
			}

			score := w.scorer.Score(gctx, record)
			if _, err := w.store.Save(gctx, question, answer, record.ID, score); err != nil {
				fiberlog.Warnf("Warmup: failed to cache record %d: %v", record.ID, err)
				return nil
			}
			added.Add(1)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return int(added.Load()), err
	}

	fiberlog.Infof("Warmup: added %d cache entries", added.Load())
	return int(added.Load()), nil
}

func (w *Warmup) findQuestion(ctx context.Context, record *models.GenerationRecord) string {
	var message models.Message
	if err := w.db.WithContext(ctx).First(&message, record.MessageID).Error; err != nil {
		fiberlog.Warnf("Warmup: failed to load message %d: %v", record.MessageID, err)
		return ""
	}
	return message.Content
}
