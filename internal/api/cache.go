package api

import (
	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/tutorline/replybank/internal/models"
	"github.com/tutorline/replybank/internal/services/cache"
	"github.com/tutorline/replybank/internal/services/confidence"
	"github.com/tutorline/replybank/internal/services/request"
	"github.com/tutorline/replybank/internal/services/response"
)

// CacheHandler exposes cache search, admin and maintenance operations.
type CacheHandler struct {
	matcher     *cache.Matcher
	store       *cache.Store
	warmup      *cache.Warmup
	scorer      *confidence.Scorer
	cacheConfig models.CacheConfig
	requestSvc  *request.Service
	responseSvc *response.Service
}

func NewCacheHandler(matcher *cache.Matcher, store *cache.Store, warmup *cache.Warmup, scorer *confidence.Scorer, cacheConfig models.CacheConfig) *CacheHandler {
	return &CacheHandler{
		matcher:     matcher,
		store:       store,
		warmup:      warmup,
		scorer:      scorer,
		cacheConfig: cacheConfig,
		requestSvc:  request.NewService(),
		responseSvc: response.NewService(),
	}
}

type searchRequest struct {
	Question string `json:"question"`
}

// Search runs a similarity lookup without touching the generation pipeline.
func (h *CacheHandler) Search(c *fiber.Ctx) error {
	var body searchRequest
	if err := c.BodyParser(&body); err != nil || body.Question == "" {
		return h.responseSvc.Error(c, fiber.StatusBadRequest, "question is required", "validation", "invalid_body")
	}

	match, err := h.matcher.FindBestMatch(c.UserContext(), body.Question)
	if err != nil {
		return h.responseSvc.FromError(c, err)
	}
	if match == nil {
		return h.responseSvc.Success(c, fiber.Map{"match": nil})
	}
	return h.responseSvc.Success(c, fiber.Map{
		"match":      match.Entry,
		"similarity": match.Similarity,
	})
}

type saveRequest struct {
	Question        string  `json:"question"`
	Answer          string  `json:"answer"`
	ResponseID      uint    `json:"responseId"`
	ConfidenceScore float64 `json:"confidenceScore"`
}

// Save writes an entry directly, e.g. for curated seed answers.
func (h *CacheHandler) Save(c *fiber.Ctx) error {
	var body saveRequest
	if err := c.BodyParser(&body); err != nil || body.Question == "" || body.Answer == "" {
		return h.responseSvc.Error(c, fiber.StatusBadRequest, "question and answer are required", "validation", "invalid_body")
	}
	if body.ConfidenceScore < 0 || body.ConfidenceScore > 1 {
		return h.responseSvc.Error(c, fiber.StatusBadRequest, "confidence score must be in [0, 1]", "validation", "invalid_confidence")
	}

	entry, err := h.store.Save(c.UserContext(), body.Question, body.Answer, body.ResponseID, body.ConfidenceScore)
	if err != nil {
		return h.responseSvc.FromError(c, err)
	}
	return h.responseSvc.Created(c, entry)
}

type updateAnswerRequest struct {
	Answer string `json:"answer"`
}

// UpdateAnswer corrects a cached answer and fans the fix out to pending
// review drafts.
func (h *CacheHandler) UpdateAnswer(c *fiber.Ctx) error {
	requestID := h.requestSvc.GetRequestID(c)

	cacheID, err := c.ParamsInt("cacheId")
	if err != nil || cacheID <= 0 {
		return h.responseSvc.Error(c, fiber.StatusBadRequest, "invalid cache id", "validation", "invalid_cache_id")
	}

	var body updateAnswerRequest
	if err := c.BodyParser(&body); err != nil || body.Answer == "" {
		return h.responseSvc.Error(c, fiber.StatusBadRequest, "answer is required", "validation", "invalid_body")
	}

	fiberlog.Infof("[%s] Updating answer for cache entry %d", requestID, cacheID)

	entry, updErr := h.store.UpdateAnswer(c.UserContext(), uint(cacheID), body.Answer)
	if updErr != nil {
		return h.responseSvc.FromError(c, updErr)
	}
	return h.responseSvc.Success(c, entry)
}

// Statistics returns the aggregate cache counters.
func (h *CacheHandler) Statistics(c *fiber.Ctx) error {
	stats, err := h.store.Statistics(c.UserContext())
	if err != nil {
		return h.responseSvc.FromError(c, err)
	}
	return h.responseSvc.Success(c, stats)
}

// Cleanup removes low-confidence and stale entries on demand.
func (h *CacheHandler) Cleanup(c *fiber.Ctx) error {
	requestID := h.requestSvc.GetRequestID(c)

	minConfidence := h.cacheConfig.CleanupMinConfidence
	if v := c.QueryFloat("minConfidence"); v > 0 {
		minConfidence = v
	}
	maxAgeDays := h.cacheConfig.CleanupMaxAgeDays
	if v := c.QueryInt("maxAgeDays"); v > 0 {
		maxAgeDays = v
	}

	fiberlog.Infof("[%s] Manual cleanup (minConfidence %.2f, maxAgeDays %d)", requestID, minConfidence, maxAgeDays)

	deleted, err := h.store.Cleanup(c.UserContext(), minConfidence, maxAgeDays)
	if err != nil {
		return h.responseSvc.FromError(c, err)
	}
	return h.responseSvc.Success(c, fiber.Map{"deleted": deleted})
}

// Warmup backfills the cache from recently sent records.
func (h *CacheHandler) Warmup(c *fiber.Ctx) error {
	requestID := h.requestSvc.GetRequestID(c)
	fiberlog.Infof("[%s] Manual warmup triggered", requestID)

	added, err := h.warmup.Run(c.UserContext())
	if err != nil {
		return h.responseSvc.FromError(c, err)
	}
	return h.responseSvc.Success(c, fiber.Map{"added": added})
}

// Recalculate rescores the confidence of every entry.
func (h *CacheHandler) Recalculate(c *fiber.Ctx) error {
	requestID := h.requestSvc.GetRequestID(c)
	fiberlog.Infof("[%s] Manual confidence recalculation triggered", requestID)

	result, err := h.scorer.RecalculateAll(c.UserContext())
	if err != nil {
		return h.responseSvc.FromError(c, err)
	}
	return h.responseSvc.Success(c, result)
}
