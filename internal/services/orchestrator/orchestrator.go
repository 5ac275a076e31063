// Package orchestrator owns the answer pipeline for inbound student
// messages: cache lookup, generation under a per-message lock, persistence
// of the draft, and the review transitions that feed confidence back into
// the cache.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/tutorline/replybank/internal/models"
	"github.com/tutorline/replybank/internal/services/cache"
	"github.com/tutorline/replybank/internal/services/generator"
)

const lockKeyPrefix = "generation_lock:"

// defaultSeedConfidence is assigned to freshly generated answers before any
// human review has happened.
const defaultSeedConfidence = 0.5

// Matcher finds a cached answer for a question.
type Matcher interface {
	FindBestMatch(ctx context.Context, question string) (*cache.Match, error)
}

// CacheWriter persists new answers into the cache.
type CacheWriter interface {
	Save(ctx context.Context, question, answer string, responseID uint, confidenceScore float64) (*models.CacheEntry, error)
}

// Scorer computes the confidence of a reviewed record.
type Scorer interface {
	Score(ctx context.Context, record *models.GenerationRecord) float64
}

// StatsNotifier accepts fire-and-forget stats refresh requests.
type StatsNotifier interface {
	SubmitStatsRefresh()
}

// Orchestrator guarantees at-most-once generation per message: a Redis lock
// keyed by message id is the only mutual-exclusion boundary, and every other
// side effect is eventually consistent.
type Orchestrator struct {
	db       *gorm.DB
	matcher  Matcher
	cache    CacheWriter
	scorer   Scorer
	stats    StatsNotifier
	primary  generator.Generator
	fallback generator.Generator
	locker   Locker
	config   models.OrchestratorConfig
}

func New(
	db *gorm.DB,
	matcher Matcher,
	cacheWriter CacheWriter,
	scorer Scorer,
	stats StatsNotifier,
	primary, fallback generator.Generator,
	locker Locker,
	config models.OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		db:       db,
		matcher:  matcher,
		cache:    cacheWriter,
		scorer:   scorer,
		stats:    stats,
		primary:  primary,
		fallback: fallback,
		locker:   locker,
		config:   config,
	}
}

// GenerateResponse produces (or returns the existing) draft answer for a
// message. Callers must branch on skip and contention errors; both are
// expected outcomes, not faults.
func (o *Orchestrator) GenerateResponse(ctx context.Context, messageID uint) (*models.GenerationRecord, error) {
	if existing, err := o.latestRecord(ctx, messageID); err != nil {
		return nil, err
	} else if existing != nil {
		fiberlog.Infof("Orchestrator: record already exists for message %d", messageID)
		return existing, nil
	}

	lockKey := lockKeyPrefix + strconv.FormatUint(uint64(messageID), 10)
	acquired, err := o.locker.Acquire(ctx, lockKey, o.config.LockTTL())
	if err != nil {
		return nil, models.NewInternalError("failed to acquire generation lock", err)
	}
	if !acquired {
		return o.waitForCompletion(ctx, messageID)
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.locker.Release(releaseCtx, lockKey)
	}()

	// closes the race between the first check and lock acquisition
	if existing, err := o.latestRecord(ctx, messageID); err != nil {
		return nil, err
	} else if existing != nil {
		fiberlog.Infof("Orchestrator: record appeared before lock for message %d", messageID)
		return existing, nil
	}

	var message models.Message
	if err := o.db.WithContext(ctx).First(&message, messageID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.NewNotFoundError("message", messageID)
		}
		return nil, models.NewInternalError("failed to load message", err)
	}

	var student models.Student
	if err := o.db.WithContext(ctx).First(&student, message.StudentID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.NewNotFoundError("student", message.StudentID)
		}
		return nil, models.NewInternalError("failed to load student", err)
	}

	if IsStructuredIntakeForm(message.Content) {
		fiberlog.Infof("Orchestrator: message %d is a structured intake form, skipping", messageID)
		return nil, models.NewSkipError("structured intake forms are not auto-answered")
	}

	if o.usePrimaryPath(&message, &student) {
		return o.generatePrimary(ctx, &message, &student)
	}
	return o.generateFallback(ctx, &message, &student)
}

// usePrimaryPath routes messages from advisor-managed conversations through
// the cache and the primary generator. Messages sent before an advisor was
// assigned go to the fallback generator and never touch the cache.
func (o *Orchestrator) usePrimaryPath(message *models.Message, student *models.Student) bool {
	return student.AdvisorID != nil &&
		student.AdvisorAssignedAt != nil &&
		message.SentAt.After(*student.AdvisorAssignedAt)
}

func (o *Orchestrator) generatePrimary(ctx context.Context, message *models.Message, student *models.Student) (*models.GenerationRecord, error) {
	match, err := o.matcher.FindBestMatch(ctx, message.Content)
	if err != nil {
		// a broken lookup path degrades to a miss
		fiberlog.Warnf("Orchestrator: cache lookup failed for message %d: %v", message.ID, err)
	}

	if match != nil {
		fiberlog.Infof("Orchestrator: cache hit for message %d (entry %d, similarity %.4f)",
			message.ID, match.Entry.ID, match.Similarity)
		entryID := match.Entry.ID
		return o.persistRecord(ctx, message, student, match.Entry.Answer, models.SourceCache, &entryID)
	}

	fiberlog.Infof("Orchestrator: cache miss for message %d, calling primary generator", message.ID)

	answer, err := o.primary.Generate(ctx, message.Content, studentContext(student))
	if err != nil {
		return nil, err
	}

	record, err := o.persistRecord(ctx, message, student, answer, models.SourcePrimary, nil)
	if err != nil {
		return nil, err
	}

	// cache population is best effort; the draft is already persisted
	if _, err := o.cache.Save(ctx, message.Content, answer, record.ID, defaultSeedConfidence); err != nil {
		fiberlog.Warnf("Orchestrator: failed to cache answer for record %d: %v", record.ID, err)
	} else if o.stats != nil {
		o.stats.SubmitStatsRefresh()
	}

	return record, nil
}

func (o *Orchestrator) generateFallback(ctx context.Context, message *models.Message, student *models.Student) (*models.GenerationRecord, error) {
	fiberlog.Infof("Orchestrator: message %d routed to fallback generator", message.ID)

	answer, err := o.fallback.Generate(ctx, message.Content, studentContext(student))
	if err != nil {
		return nil, err
	}
	return o.persistRecord(ctx, message, student, answer, models.SourceFallback, nil)
}

func (o *Orchestrator) persistRecord(ctx context.Context, message *models.Message, student *models.Student, answer string, source models.GenerationSource, cacheEntryID *uint) (*models.GenerationRecord, error) {
	record := &models.GenerationRecord{
		MessageID:         message.ID,
		StudentID:         message.StudentID,
		AdvisorID:         student.AdvisorID,
		RecommendedAnswer: answer,
		Status:            models.StatusPendingReview,
		Source:            source,
		CacheEntryID:      cacheEntryID,
		GeneratedAt:       time.Now(),
	}
	if err := o.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, models.NewInternalError("failed to persist generation record", err)
	}
	fiberlog.Infof("Orchestrator: created record %d for message %d (source %s)", record.ID, message.ID, source)
	return record, nil
}

// waitForCompletion polls for the record a competing worker is producing.
// Timing out yields a contention error rather than a duplicate generation.
func (o *Orchestrator) waitForCompletion(ctx context.Context, messageID uint) (*models.GenerationRecord, error) {
	fiberlog.Infof("Orchestrator: generation in progress for message %d, waiting", messageID)

	deadline := time.NewTimer(o.config.WaitTimeout())
	defer deadline.Stop()
	ticker := time.NewTicker(o.config.WaitInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, models.NewContentionError(messageID)
		case <-ticker.C:
			record, err := o.latestRecord(ctx, messageID)
			if err != nil {
				return nil, err
			}
			if record != nil {
				fiberlog.Infof("Orchestrator: competing worker finished message %d", messageID)
				return record, nil
			}
		}
	}
}

func (o *Orchestrator) latestRecord(ctx context.Context, messageID uint) (*models.GenerationRecord, error) {
	var record models.GenerationRecord
	err := o.db.WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("generated_at DESC").
		First(&record).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, models.NewInternalError("failed to load generation record", err)
	}
	return &record, nil
}

// ApproveAndSend marks a draft as sent verbatim and pushes the recomputed
// confidence into the linked cache entry.
func (o *Orchestrator) ApproveAndSend(ctx context.Context, responseID uint) (*models.GenerationRecord, error) {
	return o.finalize(ctx, responseID, nil)
}

// EditAndSend marks a draft as sent with advisor edits. The edited text also
// replaces the linked cache entry's answer so future hits serve it.
func (o *Orchestrator) EditAndSend(ctx context.Context, responseID uint, editedAnswer string) (*models.GenerationRecord, error) {
	if strings.TrimSpace(editedAnswer) == "" {
		return nil, models.NewValidationError("edited answer must not be empty", nil)
	}
	return o.finalize(ctx, responseID, &editedAnswer)
}

func (o *Orchestrator) finalize(ctx context.Context, responseID uint, editedAnswer *string) (*models.GenerationRecord, error) {
	var record models.GenerationRecord
	if err := o.db.WithContext(ctx).First(&record, responseID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, models.NewNotFoundError("generation record", responseID)
		}
		return nil, models.NewInternalError("failed to load generation record", err)
	}

	// only one sent record may exist per message
	var sentCount int64
	err := o.db.WithContext(ctx).
		Model(&models.GenerationRecord{}).
		Where("message_id = ? AND status = ? AND response_id <> ?", record.MessageID, models.StatusSent, responseID).
		Count(&sentCount).Error
	if err != nil {
		return nil, models.NewInternalError("failed to check sent records", err)
	}
	if sentCount > 0 {
		return nil, models.NewValidationError(fmt.Sprintf("message %d already has a sent answer", record.MessageID), nil)
	}

	finalAnswer := record.RecommendedAnswer
	if editedAnswer != nil {
		finalAnswer = *editedAnswer
	}

	now := time.Now()
	record.FinalAnswer = &finalAnswer
	record.Status = models.StatusSent
	record.ReviewedAt = &now
	record.SentAt = &now

	if err := o.db.WithContext(ctx).Save(&record).Error; err != nil {
		return nil, models.NewInternalError("failed to finalize generation record", err)
	}

	o.pushConfidence(ctx, &record, editedAnswer)

	fiberlog.Infof("Orchestrator: record %d marked as sent", responseID)
	return &record, nil
}

// pushConfidence rescales the linked cache entry after review. Best effort;
// the record is already sent.
func (o *Orchestrator) pushConfidence(ctx context.Context, record *models.GenerationRecord, editedAnswer *string) {
	newScore := o.scorer.Score(ctx, record)

	var entry models.CacheEntry
	err := o.db.WithContext(ctx).Where("original_response_id = ?", record.ID).First(&entry).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			fiberlog.Warnf("Orchestrator: failed to load cache entry for record %d: %v", record.ID, err)
		}
		return
	}

	updates := map[string]any{"confidence_score": newScore}
	if editedAnswer != nil {
		updates["answer"] = *editedAnswer
	}
	err = o.db.WithContext(ctx).
		Model(&models.CacheEntry{}).
		Where("cache_id = ?", entry.ID).
		Updates(updates).Error
	if err != nil {
		fiberlog.Warnf("Orchestrator: failed to push confidence for entry %d: %v", entry.ID, err)
		return
	}

	fiberlog.Infof("Orchestrator: pushed confidence %.3f into entry %d after review", newScore, entry.ID)
}

// PendingForAdvisor lists drafts awaiting a specific advisor's review.
func (o *Orchestrator) PendingForAdvisor(ctx context.Context, advisorID uint) ([]models.GenerationRecord, error) {
	var records []models.GenerationRecord
	err := o.db.WithContext(ctx).
		Where("advisor_id = ? AND status = ?", advisorID, models.StatusPendingReview).
		Order("generated_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, models.NewInternalError("failed to list pending records", err)
	}
	return records, nil
}

// AllPending lists every draft awaiting review, newest first.
func (o *Orchestrator) AllPending(ctx context.Context) ([]models.GenerationRecord, error) {
	var records []models.GenerationRecord
	err := o.db.WithContext(ctx).
		Where("status = ?", models.StatusPendingReview).
		Order("generated_at DESC").
		Find(&records).Error
	if err != nil {
		return nil, models.NewInternalError("failed to list pending records", err)
	}
	return records, nil
}

func studentContext(student *models.Student) generator.StudentContext {
	return generator.StudentContext{
		StudentName:      student.Name,
		TargetUniversity: student.TargetUniversity,
		Track:            student.Track,
	}
}

// IsStructuredIntakeForm reports whether a message looks like a filled-in
// consulting form rather than a question: very long, many lines, or shaped
// like a numbered list.
func IsStructuredIntakeForm(content string) bool {
	if content == "" {
		return false
	}

	isLong := len([]rune(content)) > 200 || len(strings.Split(content, "\n")) > 5
	hasNumberedList := strings.Contains(content, "1.") &&
		strings.Contains(content, "2.") &&
		strings.Contains(content, "3.")

	return isLong || hasNumberedList
}
