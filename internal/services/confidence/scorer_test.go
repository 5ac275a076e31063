package confidence

import (
	"context"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tutorline/replybank/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&models.GenerationRecord{}, &models.CacheEntry{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func strPtr(s string) *string { return &s }

func TestApprovalScore(t *testing.T) {
	tests := []struct {
		status models.GenerationStatus
		want   float64
	}{
		{models.StatusSent, 1.0},
		{models.StatusApproved, 0.9},
		{models.StatusPendingReview, 0.5},
		{models.StatusRejected, 0.1},
	}

	for _, tt := range tests {
		if got := approvalScore(tt.status); got != tt.want {
			t.Errorf("approvalScore(%s) = %.2f, want %.2f", tt.status, got, tt.want)
		}
	}
}

func TestModificationScore(t *testing.T) {
	t.Run("verbatim answer scores 1.0", func(t *testing.T) {
		record := &models.GenerationRecord{
			RecommendedAnswer: "편입 시험은 12월에 있습니다.",
			FinalAnswer:       strPtr("편입 시험은 12월에 있습니다."),
		}
		if got := modificationScore(record); got != 1.0 {
			t.Errorf("modificationScore = %.2f, want 1.0", got)
		}
	})

	t.Run("missing final answer scores 0.5", func(t *testing.T) {
		record := &models.GenerationRecord{RecommendedAnswer: "답변"}
		if got := modificationScore(record); got != 0.5 {
			t.Errorf("modificationScore = %.2f, want 0.5", got)
		}
	})

	t.Run("complete rewrite is floored at 0.3", func(t *testing.T) {
		record := &models.GenerationRecord{
			RecommendedAnswer: "aaaaaaaaaaaaaaaaaaaa",
			FinalAnswer:       strPtr("zzzzzzzzzzzzzzzzzzzz"),
		}
		if got := modificationScore(record); got != 0.3 {
			t.Errorf("modificationScore = %.2f, want floor 0.3", got)
		}
	})
}

func TestLevenshtein(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"", "", 0},
		{"abc", "", 3},
		{"kitten", "sitting", 3},
		{"편입", "편입학", 1},
		{"same", "same", 0},
	}

	for _, tt := range tests {
		if got := levenshtein([]rune(tt.a), []rune(tt.b)); got != tt.want {
			t.Errorf("levenshtein(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestTextSimilarity(t *testing.T) {
	if got := TextSimilarity("동일한 문장", "동일한 문장"); got != 1.0 {
		t.Errorf("identical texts similarity = %.2f, want 1.0", got)
	}
	if got := TextSimilarity("", ""); got != 1.0 {
		t.Errorf("empty texts similarity = %.2f, want 1.0", got)
	}
	if got := TextSimilarity("abcd", "abce"); got != 0.75 {
		t.Errorf("one edit in four similarity = %.2f, want 0.75", got)
	}
}

func TestQualityScore(t *testing.T) {
	goodAnswer := "편입 시험 준비는 다음과 같습니다.\n" +
		"1. 모집요강을 확인하세요.\n" +
		"2. 대학별 시험 일정을 정리하세요.\n" +
		"3. 지원 전략을 세우세요.\n" +
		strings.Repeat("자세한 내용은 학원 커리큘럼을 참고하세요. ", 3)

	t.Run("nil answer scores 0", func(t *testing.T) {
		if got := qualityScore(nil); got != 0.0 {
			t.Errorf("qualityScore(nil) = %.2f, want 0.0", got)
		}
	})

	t.Run("structured domain answer scores high", func(t *testing.T) {
		got := qualityScore(&goodAnswer)
		// 0.5 base + 0.2 length + 0.1 structure + 0.1 domain keywords
		if got != 0.9 {
			t.Errorf("qualityScore = %.2f, want 0.9", got)
		}
	})

	t.Run("hedging is penalized", func(t *testing.T) {
		hedged := "죄송하지만 잘 모르겠습니다."
		confident := "시험은 12월 첫째 주입니다."
		if qualityScore(&hedged) >= qualityScore(&confident) {
			t.Error("expected hedging answer to score below a confident one")
		}
	})
}

func TestScoreMonotonicity(t *testing.T) {
	db := openTestDB(t)
	scorer := NewScorer(db)
	ctx := context.Background()

	goodAnswer := strings.Repeat("편입 시험 모집요강과 지원 일정을 정리했습니다. ", 6)
	good := &models.GenerationRecord{
		MessageID:         1,
		StudentID:         1,
		RecommendedAnswer: goodAnswer,
		FinalAnswer:       &goodAnswer,
		Status:            models.StatusSent,
	}
	if err := db.Create(good).Error; err != nil {
		t.Fatalf("failed to create record: %v", err)
	}
	goodID := good.ID
	if err := db.Create(&models.CacheEntry{
		Question:           "편입 시험 일정",
		Answer:             goodAnswer,
		EmbeddingJSON:      "[]",
		ConfidenceScore:    0.5,
		HitCount:           25,
		OriginalResponseID: &goodID,
		CacheKey:           "q_good",
	}).Error; err != nil {
		t.Fatalf("failed to create cache entry: %v", err)
	}

	bad := &models.GenerationRecord{
		MessageID:         2,
		StudentID:         1,
		RecommendedAnswer: "aaaaaaaaaaaaaaaaaaaa",
		FinalAnswer:       strPtr("zzzz"),
		Status:            models.StatusRejected,
	}
	if err := db.Create(bad).Error; err != nil {
		t.Fatalf("failed to create record: %v", err)
	}

	goodScore := scorer.Score(ctx, good)
	badScore := scorer.Score(ctx, bad)

	if goodScore <= badScore {
		t.Errorf("expected sent/unmodified/popular record (%.3f) to outscore rejected/rewritten one (%.3f)",
			goodScore, badScore)
	}
	if goodScore < 0 || goodScore > 1 || badScore < 0 || badScore > 1 {
		t.Errorf("scores out of [0,1]: good=%.3f bad=%.3f", goodScore, badScore)
	}
}

func TestUpdateEntryConfidence(t *testing.T) {
	db := openTestDB(t)
	scorer := NewScorer(db)
	ctx := context.Background()

	answer := strings.Repeat("편입 시험 준비 방법을 안내합니다. ", 8)
	record := &models.GenerationRecord{
		MessageID:         10,
		StudentID:         1,
		RecommendedAnswer: answer,
		FinalAnswer:       &answer,
		Status:            models.StatusSent,
	}
	if err := db.Create(record).Error; err != nil {
		t.Fatalf("failed to create record: %v", err)
	}

	recordID := record.ID
	entry := &models.CacheEntry{
		Question:           "편입 시험 준비",
		Answer:             answer,
		EmbeddingJSON:      "[]",
		ConfidenceScore:    0.5,
		HitCount:           12,
		OriginalResponseID: &recordID,
		CacheKey:           "q_test",
	}
	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("failed to create cache entry: %v", err)
	}

	if err := scorer.UpdateEntryConfidence(ctx, entry.ID); err != nil {
		t.Fatalf("UpdateEntryConfidence failed: %v", err)
	}

	var updated models.CacheEntry
	if err := db.First(&updated, entry.ID).Error; err != nil {
		t.Fatalf("failed to reload entry: %v", err)
	}
	if updated.ConfidenceScore <= 0.5 {
		t.Errorf("confidence = %.3f, expected the sent/popular record to raise it above 0.5", updated.ConfidenceScore)
	}
}
