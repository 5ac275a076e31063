package cache

import (
	"context"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/tutorline/replybank/internal/models"
	"github.com/tutorline/replybank/internal/services/embedding"
)

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
}

// candidateSource supplies cache entries to match against.
type candidateSource interface {
	HighConfidence(ctx context.Context, minConfidence float64, limit int) ([]models.CacheEntry, error)
	GetFresh(ctx context.Context, cacheID uint) (*models.CacheEntry, error)
	MirrorAnswer(ctx context.Context, cacheID uint, answer string)
}

// hitRecorder accepts hit notifications processed off the request path.
type hitRecorder interface {
	SubmitHit(cacheID uint)
}

// Matcher finds the best cached answer for an incoming question. A candidate
// counts as a match only when its embedding clears the similarity threshold
// AND it survives the subject, question-type and general keyword guards.
type Matcher struct {
	embedder Embedder
	source   candidateSource
	hits     hitRecorder
	config   models.CacheConfig
}

func NewMatcher(embedder Embedder, source candidateSource, hits hitRecorder, config models.CacheConfig) *Matcher {
	return &Matcher{
		embedder: embedder,
		source:   source,
		hits:     hits,
		config:   config,
	}
}

// Match holds a cache hit and the similarity that selected it.
type Match struct {
	Entry      *models.CacheEntry
	Similarity float64
}

// FindBestMatch returns the best matching entry, or nil when nothing
// qualifies. Candidate-level failures are skipped, not fatal.
func (m *Matcher) FindBestMatch(ctx context.Context, question string) (*Match, error) {
	normalized := NormalizeQuestion(question)

	queryVector, err := m.embedder.Embed(ctx, normalized)
	if err != nil {
		return nil, err
	}

	candidates, err := m.source.HighConfidence(ctx, m.config.MinConfidence, m.config.CandidateLimit)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		fiberlog.Debug("Cache: no high-confidence candidates to match against")
		return nil, nil
	}

	queryKeywords := ExtractKeywords(normalized)
	querySubjects := ExtractSubjectKeywords(normalized)
	queryTypes := ExtractQuestionTypeKeywords(normalized)

	var best *models.CacheEntry
	bestSimilarity := 0.0

	model := m.embedder.Model()

	for i := range candidates {
		candidate := &candidates[i]

		// vectors from different embedding models never compare
		if candidate.EmbeddingModel != "" && candidate.EmbeddingModel != model {
			continue
		}

		candidateVector, err := embedding.JSONToVector(candidate.EmbeddingJSON)
		if err != nil {
			fiberlog.Warnf("Cache: failed to decode embedding for entry %d: %v", candidate.ID, err)
			continue
		}
		similarity, err := embedding.CosineSimilarity(queryVector, candidateVector)
		if err != nil {
			fiberlog.Warnf("Cache: failed to compare embedding for entry %d: %v", candidate.ID, err)
			continue
		}
		if similarity < m.config.SimilarityThreshold {
			continue
		}

		cachedNormalized := NormalizeQuestion(candidate.Question)

		if !markerSetsCompatible(querySubjects, ExtractSubjectKeywords(cachedNormalized)) {
			fiberlog.Debugf("Cache: entry %d at %.4f rejected on subject keywords", candidate.ID, similarity)
			continue
		}
		if !markerSetsCompatible(queryTypes, ExtractQuestionTypeKeywords(cachedNormalized)) {
			fiberlog.Debugf("Cache: entry %d at %.4f rejected on question type keywords", candidate.ID, similarity)
			continue
		}
		if !hasSignificantOverlap(queryKeywords, ExtractKeywords(cachedNormalized)) {
			fiberlog.Debugf("Cache: entry %d at %.4f rejected on keyword overlap", candidate.ID, similarity)
			continue
		}

		if similarity > bestSimilarity {
			best = candidate
			bestSimilarity = similarity
		}
	}

	if best == nil {
		fiberlog.Debugf("Cache: no entry above threshold %.2f survived the keyword guards", m.config.SimilarityThreshold)
		return nil, nil
	}

	// serve the authoritative row so edited answers take effect immediately
	fresh, err := m.source.GetFresh(ctx, best.ID)
	if err != nil {
		fiberlog.Warnf("Cache: failed to re-fetch entry %d, serving candidate copy: %v", best.ID, err)
		fresh = best
	}

	fiberlog.Infof("Cache: hit on entry %d (similarity %.4f, hits %d)", fresh.ID, bestSimilarity, fresh.HitCount)

	if m.hits != nil {
		m.hits.SubmitHit(fresh.ID)
	}
	m.source.MirrorAnswer(ctx, fresh.ID, fresh.Answer)

	return &Match{Entry: fresh, Similarity: bestSimilarity}, nil
}
