package cache

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tutorline/replybank/internal/models"
)

func openStoreDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to get sql.DB: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.AutoMigrate(&models.CacheEntry{}, &models.GenerationRecord{}); err != nil {
		t.Fatalf("failed to migrate test database: %v", err)
	}
	return db
}

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := openStoreDB(t)
	return NewStore(db, nil, nil, models.CacheConfig{}), db
}

func createEntry(t *testing.T, db *gorm.DB, entry *models.CacheEntry) *models.CacheEntry {
	t.Helper()
	if entry.EmbeddingJSON == "" {
		entry.EmbeddingJSON = "[]"
	}
	if err := db.Create(entry).Error; err != nil {
		t.Fatalf("failed to create cache entry: %v", err)
	}
	return entry
}

func TestUpdateAnswerPropagatesToPendingDrafts(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	record := &models.GenerationRecord{
		MessageID:         7,
		StudentID:         3,
		RecommendedAnswer: "원래 답변입니다.",
		Status:            models.StatusSent,
		Source:            models.SourcePrimary,
		GeneratedAt:       time.Now().Add(-time.Hour),
	}
	if err := db.Create(record).Error; err != nil {
		t.Fatalf("failed to create record: %v", err)
	}
	pending := &models.GenerationRecord{
		MessageID:         7,
		StudentID:         3,
		RecommendedAnswer: "원래 답변입니다.",
		Status:            models.StatusPendingReview,
		Source:            models.SourceCache,
		GeneratedAt:       time.Now(),
	}
	if err := db.Create(pending).Error; err != nil {
		t.Fatalf("failed to create pending record: %v", err)
	}

	recordID := record.ID
	entry := createEntry(t, db, &models.CacheEntry{
		Question:           "편입 시험 일정 알려주세요",
		Answer:             "원래 답변입니다.",
		ConfidenceScore:    0.8,
		OriginalResponseID: &recordID,
		CacheKey:           "q_update",
	})

	updated, err := store.UpdateAnswer(ctx, entry.ID, "수정된 답변입니다.")
	if err != nil {
		t.Fatalf("UpdateAnswer failed: %v", err)
	}
	if updated.Answer != "수정된 답변입니다." {
		t.Errorf("entry answer = %q, want the new text", updated.Answer)
	}

	var reloaded models.GenerationRecord
	if err := db.First(&reloaded, pending.ID).Error; err != nil {
		t.Fatalf("failed to reload pending record: %v", err)
	}
	if reloaded.RecommendedAnswer != "수정된 답변입니다." {
		t.Errorf("pending draft answer = %q, want the propagated text", reloaded.RecommendedAnswer)
	}

	var sentReloaded models.GenerationRecord
	if err := db.First(&sentReloaded, record.ID).Error; err != nil {
		t.Fatalf("failed to reload sent record: %v", err)
	}
	if sentReloaded.RecommendedAnswer != "원래 답변입니다." {
		t.Error("sent records must not be rewritten by answer updates")
	}
}

func TestUpdateAnswerNotFound(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.UpdateAnswer(context.Background(), 999, "없는 항목")
	appErr := models.AsAppError(err)
	if appErr.StatusCode() != 404 {
		t.Fatalf("status = %d, want 404", appErr.StatusCode())
	}
}

func TestHighConfidenceOrdering(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	createEntry(t, db, &models.CacheEntry{Question: "a", Answer: "a", ConfidenceScore: 0.9, HitCount: 1, CacheKey: "a"})
	createEntry(t, db, &models.CacheEntry{Question: "b", Answer: "b", ConfidenceScore: 0.9, HitCount: 8, CacheKey: "b"})
	createEntry(t, db, &models.CacheEntry{Question: "c", Answer: "c", ConfidenceScore: 0.95, HitCount: 0, CacheKey: "c"})
	createEntry(t, db, &models.CacheEntry{Question: "d", Answer: "d", ConfidenceScore: 0.4, HitCount: 50, CacheKey: "d"})

	entries, err := store.HighConfidence(ctx, 0.7, 10)
	if err != nil {
		t.Fatalf("HighConfidence failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("got %d entries, want 3 above the floor", len(entries))
	}
	if entries[0].Question != "c" || entries[1].Question != "b" || entries[2].Question != "a" {
		t.Errorf("got order %s/%s/%s, want c/b/a",
			entries[0].Question, entries[1].Question, entries[2].Question)
	}
}

func TestIncrementHit(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	entry := createEntry(t, db, &models.CacheEntry{Question: "q", Answer: "a", ConfidenceScore: 0.8, CacheKey: "q"})

	for range 3 {
		if err := store.IncrementHit(ctx, entry.ID); err != nil {
			t.Fatalf("IncrementHit failed: %v", err)
		}
	}

	var reloaded models.CacheEntry
	if err := db.First(&reloaded, entry.ID).Error; err != nil {
		t.Fatalf("failed to reload entry: %v", err)
	}
	if reloaded.HitCount != 3 {
		t.Errorf("hit count = %d, want 3", reloaded.HitCount)
	}
	if reloaded.LastHitAt == nil {
		t.Error("last hit timestamp must be set")
	}
}

func TestStatistics(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	createEntry(t, db, &models.CacheEntry{Question: "a", Answer: "a", ConfidenceScore: 0.8, HitCount: 3, CacheKey: "a"})
	createEntry(t, db, &models.CacheEntry{Question: "b", Answer: "b", ConfidenceScore: 0.6, HitCount: 1, CacheKey: "b"})

	stats, err := store.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.TotalCount != 2 || stats.TotalHits != 4 {
		t.Errorf("count/hits = %d/%d, want 2/4", stats.TotalCount, stats.TotalHits)
	}
	// 4 hits over 4+2 lookups
	wantRate := 4.0 / 6.0 * 100
	if diff := stats.HitRate - wantRate; diff > 0.001 || diff < -0.001 {
		t.Errorf("hit rate = %.2f, want %.2f", stats.HitRate, wantRate)
	}
	if diff := stats.AvgConfidence - 0.7; diff > 0.001 || diff < -0.001 {
		t.Errorf("avg confidence = %.2f, want 0.70", stats.AvgConfidence)
	}
}

func TestStatisticsEmpty(t *testing.T) {
	store, _ := newTestStore(t)

	stats, err := store.Statistics(context.Background())
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.TotalCount != 0 || stats.HitRate != 0 {
		t.Errorf("empty cache stats = %+v, want zeros", stats)
	}
}

func TestCleanup(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()

	createEntry(t, db, &models.CacheEntry{Question: "keep", Answer: "a", ConfidenceScore: 0.8, CacheKey: "k"})
	createEntry(t, db, &models.CacheEntry{Question: "low", Answer: "b", ConfidenceScore: 0.1, CacheKey: "l"})

	old := createEntry(t, db, &models.CacheEntry{Question: "old", Answer: "c", ConfidenceScore: 0.9, CacheKey: "o"})
	stale := time.Now().AddDate(0, 0, -120)
	if err := db.Model(&models.CacheEntry{}).Where("cache_id = ?", old.ID).
		Update("created_at", stale).Error; err != nil {
		t.Fatalf("failed to backdate entry: %v", err)
	}

	deleted, err := store.Cleanup(ctx, 0.3, 90)
	if err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("deleted %d entries, want 2", deleted)
	}

	var remaining []models.CacheEntry
	if err := db.Find(&remaining).Error; err != nil {
		t.Fatalf("failed to list entries: %v", err)
	}
	if len(remaining) != 1 || remaining[0].Question != "keep" {
		t.Errorf("surviving entries = %v, want only the high quality recent one", remaining)
	}
}

func TestSaveThenLookupServesAnswerUnchanged(t *testing.T) {
	db := openStoreDB(t)
	ctx := context.Background()

	question := "편입 영어 시험 범위 알려주세요"
	answer := "영어 시험 범위는 모집요강에서 확인할 수 있습니다."
	embedder := &stubEmbedder{vectors: map[string][]float64{
		question:                    {1, 0},
		NormalizeQuestion(question): {1, 0},
	}}
	store := NewStore(db, nil, embedder, models.DefaultCacheConfig())

	saved, err := store.Save(ctx, question, answer, 11, 0.8)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved.EmbeddingModel != embedder.Model() {
		t.Errorf("entry model = %q, want %q", saved.EmbeddingModel, embedder.Model())
	}

	m := NewMatcher(embedder, store, nil, models.DefaultCacheConfig())
	match, err := m.FindBestMatch(ctx, question)
	if err != nil {
		t.Fatalf("FindBestMatch failed: %v", err)
	}
	if match == nil {
		t.Fatal("expected the saved entry to match its own question")
	}
	if match.Entry.ID != saved.ID {
		t.Errorf("matched entry %d, want %d", match.Entry.ID, saved.ID)
	}
	if match.Entry.Answer != answer {
		t.Errorf("answer = %q, want it unchanged", match.Entry.Answer)
	}
}

func TestSaveIdempotentPerResponse(t *testing.T) {
	db := openStoreDB(t)
	ctx := context.Background()

	question := "편입 면접 준비 방법이 궁금해요"
	embedder := &stubEmbedder{vectors: map[string][]float64{question: {1, 0}}}
	store := NewStore(db, nil, embedder, models.DefaultCacheConfig())

	first, err := store.Save(ctx, question, "첫 번째 답변입니다.", 21, 0.5)
	if err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	second, err := store.Save(ctx, question, "다른 답변입니다.", 21, 0.9)
	if err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("second save created entry %d, want existing %d", second.ID, first.ID)
	}
	if second.Answer != "첫 번째 답변입니다." {
		t.Errorf("answer = %q, want the original preserved", second.Answer)
	}

	var count int64
	if err := db.Model(&models.CacheEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 1 {
		t.Errorf("entry count = %d, want 1", count)
	}
}

// racingEmbedder inserts a rival entry during the embed call, landing between
// Save's existence check and its insert.
type racingEmbedder struct {
	db    *gorm.DB
	rival *models.CacheEntry
}

func (e *racingEmbedder) Embed(_ context.Context, _ string) ([]float64, error) {
	if err := e.db.Create(e.rival).Error; err != nil {
		return nil, err
	}
	return []float64{1, 0}, nil
}

func (e *racingEmbedder) Model() string { return "test-embedding" }

func TestSaveReturnsExistingWhenInsertRaces(t *testing.T) {
	db := openStoreDB(t)
	ctx := context.Background()

	responseID := uint(31)
	rival := &models.CacheEntry{
		Question:           "편입 학점 인정 기준 알려주세요",
		Answer:             "먼저 저장된 답변입니다.",
		EmbeddingJSON:      "[]",
		ConfidenceScore:    0.5,
		OriginalResponseID: &responseID,
		CacheKey:           "q_rival",
	}
	store := NewStore(db, nil, &racingEmbedder{db: db, rival: rival}, models.CacheConfig{})

	entry, err := store.Save(ctx, "편입 학점 인정 기준 알려주세요", "늦게 도착한 답변입니다.", responseID, 0.5)
	if err != nil {
		t.Fatalf("Save must absorb the unique index race: %v", err)
	}
	if entry.ID != rival.ID {
		t.Errorf("returned entry %d, want the raced entry %d", entry.ID, rival.ID)
	}
	if entry.Answer != "먼저 저장된 답변입니다." {
		t.Errorf("answer = %q, want the winner's answer", entry.Answer)
	}

	var count int64
	if err := db.Model(&models.CacheEntry{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count entries: %v", err)
	}
	if count != 1 {
		t.Errorf("entry count = %d, want 1", count)
	}
}
