// Package confidence scores how much a stored answer can be trusted. The
// score gates which entries the cache will serve without review.
package confidence

import (
	"context"
	"strings"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/tutorline/replybank/internal/models"
)

// Weights of the four scoring signals.
const (
	approvalWeight     = 0.4
	modificationWeight = 0.3
	frequencyWeight    = 0.2
	qualityWeight      = 0.1
)

var domainKeywords = []string{"편입", "모집요강", "시험", "학점", "지원", "입학", "대학"}

var hedgingPhrases = []string{"죄송", "모르겠", "확실하지 않"}

// Scorer computes confidence scores from a record's review outcome, the
// amount of advisor editing, how often its cache entry is reused, and the
// shape of the answer text.
type Scorer struct {
	db *gorm.DB
}

func NewScorer(db *gorm.DB) *Scorer {
	return &Scorer{db: db}
}

// Score returns the weighted confidence of a record in [0, 1]. Any failure
// along the way yields the neutral 0.5.
func (s *Scorer) Score(ctx context.Context, record *models.GenerationRecord) float64 {
	if record == nil {
		return 0.5
	}

	approval := approvalScore(record.Status)
	modification := modificationScore(record)
	frequency := s.frequencyScore(ctx, record.ID)
	quality := qualityScore(record.FinalAnswer)

	total := approval*approvalWeight +
		modification*modificationWeight +
		frequency*frequencyWeight +
		quality*qualityWeight

	final := clamp01(total)

	fiberlog.Debugf("Confidence: record %d scored %.3f (approval %.2f, modification %.2f, frequency %.2f, quality %.2f)",
		record.ID, final, approval, modification, frequency, quality)

	return final
}

func approvalScore(status models.GenerationStatus) float64 {
	switch status {
	case models.StatusSent:
		return 1.0
	case models.StatusApproved:
		return 0.9
	case models.StatusPendingReview:
		return 0.5
	case models.StatusRejected:
		return 0.1
	default:
		return 0.5
	}
}

func modificationScore(record *models.GenerationRecord) float64 {
	if record.RecommendedAnswer == "" || record.FinalAnswer == nil {
		return 0.5
	}

	if record.RecommendedAnswer == *record.FinalAnswer {
		return 1.0
	}

	similarity := TextSimilarity(record.RecommendedAnswer, *record.FinalAnswer)
	if similarity < 0.3 {
		return 0.3
	}
	return similarity
}

func (s *Scorer) frequencyScore(ctx context.Context, responseID uint) float64 {
	var entry models.CacheEntry
	err := s.db.WithContext(ctx).Where("original_response_id = ?", responseID).First(&entry).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fiberlog.Warnf("Confidence: failed to load cache entry for record %d: %v", responseID, err)
		}
		return 0.5
	}

	switch {
	case entry.HitCount >= 20:
		return 1.0
	case entry.HitCount >= 10:
		return 0.8
	case entry.HitCount >= 5:
		return 0.6
	case entry.HitCount >= 2:
		return 0.4
	case entry.HitCount >= 1:
		return 0.3
	default:
		return 0.2
	}
}

func qualityScore(finalAnswer *string) float64 {
	if finalAnswer == nil {
		return 0.0
	}
	answer := *finalAnswer

	score := 0.5

	length := len([]rune(answer))
	switch {
	case length >= 100 && length <= 1000:
		score += 0.2
	case length >= 50 && length < 100:
		score += 0.1
	case length > 1000:
		score -= 0.1
	}

	if strings.Contains(answer, "1.") || strings.Contains(answer, "-") || strings.Contains(answer, "•") {
		score += 0.1
	}

	keywordCount := 0
	for _, keyword := range domainKeywords {
		keywordCount += strings.Count(answer, keyword)
	}
	if keywordCount >= 3 {
		score += 0.1
	}

	for _, phrase := range hedgingPhrases {
		if strings.Contains(answer, phrase) {
			score -= 0.1
			break
		}
	}

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// TextSimilarity returns 1 minus the normalized edit distance of two texts.
func TextSimilarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}
	if maxLen == 0 {
		return 1.0
	}
	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1]
			} else {
				curr[j] = 1 + min(prev[j], curr[j-1], prev[j-1])
			}
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

// UpdateEntryConfidence rescores a cache entry from its originating record.
func (s *Scorer) UpdateEntryConfidence(ctx context.Context, cacheID uint) error {
	var entry models.CacheEntry
	if err := s.db.WithContext(ctx).First(&entry, cacheID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return models.NewNotFoundError("cache entry", cacheID)
		}
		return models.NewInternalError("failed to load cache entry", err)
	}

	if entry.OriginalResponseID == nil {
		fiberlog.Warnf("Confidence: entry %d has no originating record", cacheID)
		return nil
	}

	var record models.GenerationRecord
	if err := s.db.WithContext(ctx).First(&record, *entry.OriginalResponseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			fiberlog.Warnf("Confidence: originating record %d not found for entry %d", *entry.OriginalResponseID, cacheID)
			return nil
		}
		return models.NewInternalError("failed to load generation record", err)
	}

	newScore := s.Score(ctx, &record)
	err := s.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("cache_id = ?", cacheID).
		Update("confidence_score", newScore).Error
	if err != nil {
		return models.NewInternalError("failed to update confidence score", err)
	}

	fiberlog.Infof("Confidence: entry %d rescored to %.3f", cacheID, newScore)
	return nil
}

// RecalculateResult summarizes a full rescoring pass.
type RecalculateResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
	Failed  int `json:"failed"`
}

// RecalculateAll rescores every cache entry. Individual failures are counted
// and skipped.
func (s *Scorer) RecalculateAll(ctx context.Context) (*RecalculateResult, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.CacheEntry{}).Pluck("cache_id", &ids).Error; err != nil {
		return nil, models.NewInternalError("failed to list cache entries", err)
	}

	result := &RecalculateResult{Total: len(ids)}
	for _, id := range ids {
		if err := s.UpdateEntryConfidence(ctx, id); err != nil {
			result.Failed++
			fiberlog.Errorf("Confidence: failed to rescore entry %d: %v", id, err)
			continue
		}
		result.Updated++
	}

	fiberlog.Infof("Confidence: rescored %d/%d entries (%d failed)", result.Updated, result.Total, result.Failed)
	return result, nil
}
