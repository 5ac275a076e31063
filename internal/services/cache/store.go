// Package cache implements the semantic reply cache: keyword-guarded
// similarity matching over stored question embeddings, backed by the
// relational store with a Redis mirror for the hot answers.
package cache

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/tutorline/replybank/internal/models"
	"github.com/tutorline/replybank/internal/services/embedding"
)

const (
	mirrorKeyPrefix = "reply_cache:"
	statsKey        = "reply_cache_stats"
)

// Store persists cache entries and keeps the Redis answer mirror in sync.
// The Redis client may be nil; mirror writes are then skipped.
type Store struct {
	db       *gorm.DB
	redis    *redis.Client
	embedder Embedder
	config   models.CacheConfig
}

func NewStore(db *gorm.DB, redisClient *redis.Client, embedder Embedder, config models.CacheConfig) *Store {
	return &Store{
		db:       db,
		redis:    redisClient,
		embedder: embedder,
		config:   config,
	}
}

// Save stores a new answer under its question embedding. Saving the same
// generation record twice returns the existing entry unchanged.
func (s *Store) Save(ctx context.Context, question, answer string, responseID uint, confidenceScore float64) (*models.CacheEntry, error) {
	var existing models.CacheEntry
	err := s.db.WithContext(ctx).Where("original_response_id = ?", responseID).First(&existing).Error
	if err == nil {
		fiberlog.Warnf("Cache: entry already exists for responseId %d", responseID)
		return &existing, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, models.NewInternalError("failed to check for existing cache entry", err)
	}

	vector, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	embeddingJSON, err := embedding.VectorToJSON(vector)
	if err != nil {
		return nil, models.NewInternalError("failed to encode embedding", err)
	}

	now := time.Now()
	entry := &models.CacheEntry{
		Question:           question,
		Answer:             answer,
		EmbeddingJSON:      embeddingJSON,
		EmbeddingModel:     s.embedder.Model(),
		ConfidenceScore:    confidenceScore,
		HitCount:           0,
		LastHitAt:          &now,
		OriginalResponseID: &responseID,
		CacheKey:           generateCacheKey(question),
	}

	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		// a concurrent Save for the same record wins the unique index race
		var raced models.CacheEntry
		if lookupErr := s.db.WithContext(ctx).Where("original_response_id = ?", responseID).First(&raced).Error; lookupErr == nil {
			fiberlog.Warnf("Cache: concurrent save for responseId %d, returning existing entry %d", responseID, raced.ID)
			return &raced, nil
		}
		return nil, models.NewInternalError("failed to save cache entry", err)
	}

	s.MirrorAnswer(ctx, entry.ID, answer)

	fiberlog.Infof("Cache: saved entry %d for responseId %d (confidence %.2f)", entry.ID, responseID, confidenceScore)
	return entry, nil
}

// UpdateAnswer replaces the answer of an entry and fans the new text out to
// the Redis mirror and to any pending review drafts built from this entry.
func (s *Store) UpdateAnswer(ctx context.Context, cacheID uint, newAnswer string) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	if err := s.db.WithContext(ctx).First(&entry, cacheID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.NewNotFoundError("cache entry", cacheID)
		}
		return nil, models.NewInternalError("failed to load cache entry", err)
	}

	entry.Answer = newAnswer
	if err := s.db.WithContext(ctx).Save(&entry).Error; err != nil {
		return nil, models.NewInternalError("failed to update cache answer", err)
	}

	s.MirrorAnswer(ctx, entry.ID, newAnswer)

	if entry.OriginalResponseID != nil {
		if err := s.propagateToPendingRecords(ctx, *entry.OriginalResponseID, newAnswer); err != nil {
			// the entry itself is updated; draft fan-out is best effort
			fiberlog.Warnf("Cache: failed to propagate answer update for entry %d: %v", cacheID, err)
		}
	}

	fiberlog.Infof("Cache: updated answer for entry %d", cacheID)
	return &entry, nil
}

func (s *Store) propagateToPendingRecords(ctx context.Context, originalResponseID uint, newAnswer string) error {
	var original models.GenerationRecord
	if err := s.db.WithContext(ctx).First(&original, originalResponseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&models.GenerationRecord{}).
		Where("message_id = ? AND status = ?", original.MessageID, models.StatusPendingReview).
		Update("recommended_answer", newAnswer)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		fiberlog.Infof("Cache: propagated answer update to %d pending drafts for message %d",
			result.RowsAffected, original.MessageID)
	}
	return nil
}

// GetFresh loads an entry directly from the database, bypassing anything a
// matcher still holds in memory, so edited answers are served immediately.
func (s *Store) GetFresh(ctx context.Context, cacheID uint) (*models.CacheEntry, error) {
	var entry models.CacheEntry
	if err := s.db.WithContext(ctx).First(&entry, cacheID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.NewNotFoundError("cache entry", cacheID)
		}
		return nil, models.NewInternalError("failed to load cache entry", err)
	}
	return &entry, nil
}

// HighConfidence returns the top candidate entries ordered by confidence
// then hit count, capped at limit.
func (s *Store) HighConfidence(ctx context.Context, minConfidence float64, limit int) ([]models.CacheEntry, error) {
	var entries []models.CacheEntry
	err := s.db.WithContext(ctx).
		Where("confidence_score >= ?", minConfidence).
		Order("confidence_score DESC").
		Order("hit_count DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, models.NewInternalError("failed to load cache candidates", err)
	}
	return entries, nil
}

// IncrementHit bumps the hit counter atomically in the database.
func (s *Store) IncrementHit(ctx context.Context, cacheID uint) error {
	result := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("cache_id = ?", cacheID).
		Updates(map[string]any{
			"hit_count":   gorm.Expr("hit_count + 1"),
			"last_hit_at": time.Now(),
		})
	if result.Error != nil {
		return models.NewInternalError("failed to increment hit count", result.Error)
	}
	return nil
}

// MirrorAnswer writes the answer text to Redis for fast reads.
func (s *Store) MirrorAnswer(ctx context.Context, cacheID uint, answer string) {
	if s.redis == nil {
		return
	}
	key := mirrorKeyPrefix + strconv.FormatUint(uint64(cacheID), 10)
	ttl := time.Duration(s.config.MirrorTTLSeconds) * time.Second
	if err := s.redis.Set(ctx, key, answer, ttl).Err(); err != nil {
		fiberlog.Warnf("Cache: failed to mirror answer for entry %d: %v", cacheID, err)
	}
}

// RefreshStats updates the aggregate counters kept in Redis.
func (s *Store) RefreshStats(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.CacheEntry{}).Count(&total).Error; err != nil {
		return models.NewInternalError("failed to count cache entries", err)
	}

	err := s.redis.HSet(ctx, statsKey,
		"total_caches", strconv.FormatInt(total, 10),
		"last_updated", strconv.FormatInt(time.Now().UnixMilli(), 10),
	).Err()
	if err != nil {
		return models.NewInternalError("failed to update cache stats", err)
	}
	return nil
}

// Statistics aggregates entry count, hits, hit rate and average confidence.
func (s *Store) Statistics(ctx context.Context) (*models.CacheStats, error) {
	var row struct {
		TotalCount    int64
		TotalHits     int64
		AvgConfidence float64
	}
	err := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Select("COUNT(*) AS total_count, COALESCE(SUM(hit_count), 0) AS total_hits, COALESCE(AVG(confidence_score), 0) AS avg_confidence").
		Scan(&row).Error
	if err != nil {
		return nil, models.NewInternalError("failed to aggregate cache statistics", err)
	}

	stats := &models.CacheStats{
		TotalCount:    row.TotalCount,
		TotalHits:     row.TotalHits,
		AvgConfidence: row.AvgConfidence,
	}
	if row.TotalCount > 0 {
		stats.HitRate = float64(row.TotalHits) / float64(row.TotalHits+row.TotalCount) * 100
	}
	return stats, nil
}

// Cleanup deletes entries below the confidence floor or older than maxAgeDays
// along with their Redis mirrors. Returns the number of deleted entries.
func (s *Store) Cleanup(ctx context.Context, minConfidence float64, maxAgeDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	var stale []models.CacheEntry
	err := s.db.WithContext(ctx).
		Where("confidence_score < ? OR created_at < ?", minConfidence, cutoff).
		Find(&stale).Error
	if err != nil {
		return 0, models.NewInternalError("failed to find stale cache entries", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if s.redis != nil {
		keys := make([]string, len(stale))
		for i, entry := range stale {
			keys[i] = mirrorKeyPrefix + strconv.FormatUint(uint64(entry.ID), 10)
		}
		if err := s.redis.Del(ctx, keys...).Err(); err != nil {
			fiberlog.Warnf("Cache: failed to delete %d mirror keys: %v", len(keys), err)
		}
	}

	ids := make([]uint, len(stale))
	for i, entry := range stale {
		ids[i] = entry.ID
	}
	if err := s.db.WithContext(ctx).Delete(&models.CacheEntry{}, ids).Error; err != nil {
		return 0, models.NewInternalError("failed to delete stale cache entries", err)
	}

	fiberlog.Infof("Cache: cleaned up %d low quality entries", len(stale))
	return len(stale), nil
}

func generateCacheKey(question string) string {
	h := fnv.New64a()
	h.Write([]byte(question))
	return fmt.Sprintf("q_%x_%d", h.Sum64(), time.Now().UnixMilli())
}
