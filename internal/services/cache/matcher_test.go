package cache

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/tutorline/replybank/internal/models"
	"github.com/tutorline/replybank/internal/services/embedding"
)

type stubEmbedder struct {
	vectors map[string][]float64
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	v, ok := s.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no stub vector for %q", text)
	}
	return v, nil
}

func (s *stubEmbedder) Model() string { return "test-embedding" }

type stubSource struct {
	entries  []models.CacheEntry
	fresh    map[uint]*models.CacheEntry
	mirrored []uint
}

func (s *stubSource) HighConfidence(_ context.Context, _ float64, _ int) ([]models.CacheEntry, error) {
	return s.entries, nil
}

func (s *stubSource) GetFresh(_ context.Context, cacheID uint) (*models.CacheEntry, error) {
	if entry, ok := s.fresh[cacheID]; ok {
		return entry, nil
	}
	for i := range s.entries {
		if s.entries[i].ID == cacheID {
			copied := s.entries[i]
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("entry %d not found", cacheID)
}

func (s *stubSource) MirrorAnswer(_ context.Context, cacheID uint, _ string) {
	s.mirrored = append(s.mirrored, cacheID)
}

type stubHits struct {
	ids []uint
}

func (s *stubHits) SubmitHit(cacheID uint) {
	s.ids = append(s.ids, cacheID)
}

func testEntry(t *testing.T, id uint, question string, vector []float64) models.CacheEntry {
	t.Helper()
	embeddingJSON, err := embedding.VectorToJSON(vector)
	if err != nil {
		t.Fatalf("failed to encode vector: %v", err)
	}
	return models.CacheEntry{
		ID:              id,
		Question:        question,
		Answer:          "answer " + fmt.Sprint(id),
		EmbeddingJSON:   embeddingJSON,
		ConfidenceScore: 0.9,
	}
}

// unitAt returns a unit vector whose cosine against [1, 0] is exactly cos.
func unitAt(cos float64) []float64 {
	return []float64{cos, math.Sqrt(1 - cos*cos)}
}

func TestFindBestMatchSpacingVariant(t *testing.T) {
	query := "편입 시험 일정이 언제인가요?"
	normalized := NormalizeQuestion(query)

	embedder := &stubEmbedder{vectors: map[string][]float64{
		normalized: {1, 0},
	}}
	source := &stubSource{
		entries: []models.CacheEntry{
			testEntry(t, 1, "편입시험 일정 알려주세요", unitAt(0.92)),
		},
	}
	hits := &stubHits{}

	m := NewMatcher(embedder, source, hits, models.DefaultCacheConfig())
	match, err := m.FindBestMatch(context.Background(), query)
	if err != nil {
		t.Fatalf("FindBestMatch returned error: %v", err)
	}
	if match == nil {
		t.Fatal("expected a match, got none")
	}
	if match.Entry.ID != 1 {
		t.Errorf("matched entry %d, want 1", match.Entry.ID)
	}
	if math.Abs(match.Similarity-0.92) > 0.001 {
		t.Errorf("similarity = %.4f, want ~0.92", match.Similarity)
	}
	if len(hits.ids) != 1 || hits.ids[0] != 1 {
		t.Errorf("hit recorder got %v, want [1]", hits.ids)
	}
	if len(source.mirrored) != 1 || source.mirrored[0] != 1 {
		t.Errorf("mirror writes %v, want [1]", source.mirrored)
	}
}

func TestFindBestMatchThreshold(t *testing.T) {
	question := "편입시험 일정 알려주세요"

	tests := []struct {
		name      string
		cos       float64
		wantMatch bool
	}{
		{"just below threshold", 0.84, false},
		{"just above threshold", 0.86, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := &stubEmbedder{vectors: map[string][]float64{
				NormalizeQuestion(question): {1, 0},
			}}
			source := &stubSource{
				entries: []models.CacheEntry{
					testEntry(t, 7, question, unitAt(tt.cos)),
				},
			}

			m := NewMatcher(embedder, source, &stubHits{}, models.DefaultCacheConfig())
			match, err := m.FindBestMatch(context.Background(), question)
			if err != nil {
				t.Fatalf("FindBestMatch returned error: %v", err)
			}
			if (match != nil) != tt.wantMatch {
				t.Errorf("match = %v, wantMatch = %v", match, tt.wantMatch)
			}
		})
	}
}

func TestFindBestMatchSubjectGuard(t *testing.T) {
	query := "영어 시험 일정"

	embedder := &stubEmbedder{vectors: map[string][]float64{
		NormalizeQuestion(query): {1, 0},
	}}
	// near-identical vector, completely different subject
	source := &stubSource{
		entries: []models.CacheEntry{
			testEntry(t, 3, "수학 모집인원", unitAt(0.99)),
		},
	}

	m := NewMatcher(embedder, source, &stubHits{}, models.DefaultCacheConfig())
	match, err := m.FindBestMatch(context.Background(), query)
	if err != nil {
		t.Fatalf("FindBestMatch returned error: %v", err)
	}
	if match != nil {
		t.Errorf("expected subject guard to reject, got match on entry %d", match.Entry.ID)
	}
}

func TestFindBestMatchPicksHighestSimilarity(t *testing.T) {
	question := "편입시험 일정 알려주세요"

	embedder := &stubEmbedder{vectors: map[string][]float64{
		NormalizeQuestion(question): {1, 0},
	}}
	source := &stubSource{
		entries: []models.CacheEntry{
			testEntry(t, 1, question, unitAt(0.88)),
			testEntry(t, 2, question, unitAt(0.95)),
		},
	}

	m := NewMatcher(embedder, source, &stubHits{}, models.DefaultCacheConfig())
	match, err := m.FindBestMatch(context.Background(), question)
	if err != nil {
		t.Fatalf("FindBestMatch returned error: %v", err)
	}
	if match == nil {
		t.Fatal("expected a match, got none")
	}
	if match.Entry.ID != 2 {
		t.Errorf("matched entry %d, want 2 (highest similarity)", match.Entry.ID)
	}
}

func TestFindBestMatchServesFreshAnswer(t *testing.T) {
	question := "편입시험 일정 알려주세요"

	entry := testEntry(t, 5, question, unitAt(0.9))
	edited := entry
	edited.Answer = "edited answer"

	embedder := &stubEmbedder{vectors: map[string][]float64{
		NormalizeQuestion(question): {1, 0},
	}}
	source := &stubSource{
		entries: []models.CacheEntry{entry},
		fresh:   map[uint]*models.CacheEntry{5: &edited},
	}

	m := NewMatcher(embedder, source, &stubHits{}, models.DefaultCacheConfig())
	match, err := m.FindBestMatch(context.Background(), question)
	if err != nil {
		t.Fatalf("FindBestMatch returned error: %v", err)
	}
	if match == nil {
		t.Fatal("expected a match, got none")
	}
	if match.Entry.Answer != "edited answer" {
		t.Errorf("answer = %q, want the authoritative edited answer", match.Entry.Answer)
	}
}

func TestFindBestMatchSkipsForeignModelVectors(t *testing.T) {
	question := "편입 시험 일정 알려주세요"

	stale := testEntry(t, 6, question, unitAt(0.99))
	stale.EmbeddingModel = "legacy-embedding"

	embedder := &stubEmbedder{vectors: map[string][]float64{
		NormalizeQuestion(question): {1, 0},
	}}
	source := &stubSource{entries: []models.CacheEntry{stale}}

	m := NewMatcher(embedder, source, &stubHits{}, models.DefaultCacheConfig())
	match, err := m.FindBestMatch(context.Background(), question)
	if err != nil {
		t.Fatalf("FindBestMatch returned error: %v", err)
	}
	if match != nil {
		t.Fatal("entries embedded with a different model must never match")
	}
}
