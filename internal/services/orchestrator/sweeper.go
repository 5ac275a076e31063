package orchestrator

import (
	"context"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/tutorline/replybank/internal/models"
)

const (
	sweepLockKey = "reply_sweep_processing"
	sweepLockTTL = 10 * time.Minute
)

// SweepResult summarizes one pass over unanswered messages.
type SweepResult struct {
	Found     int `json:"found"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// ProcessPendingMessages drafts answers for recent student messages that
// have none yet. A Redis lock keeps overlapping sweeps from doubling up;
// the per-message lock still guards each individual generation.
func (o *Orchestrator) ProcessPendingMessages(ctx context.Context) (*SweepResult, error) {
	acquired, err := o.locker.Acquire(ctx, sweepLockKey, sweepLockTTL)
	if err != nil {
		return nil, models.NewInternalError("failed to acquire sweep lock", err)
	}
	if !acquired {
		fiberlog.Warn("Orchestrator: sweep already running, skipping this pass")
		return &SweepResult{}, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		o.locker.Release(releaseCtx, sweepLockKey)
	}()

	since := time.Now().Add(-time.Duration(o.config.SweepLookbackMinutes) * time.Minute)

	var messages []models.Message
	err = o.db.WithContext(ctx).
		Where("sender_type = ? AND sent_at >= ?", "student", since).
		Where("message_id NOT IN (?)",
			o.db.Model(&models.GenerationRecord{}).Select("message_id")).
		Order("sent_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, models.NewInternalError("failed to find unanswered messages", err)
	}

	result := &SweepResult{Found: len(messages)}
	if len(messages) == 0 {
		fiberlog.Debug("Orchestrator: no unanswered messages to sweep")
		return result, nil
	}

	fiberlog.Infof("Orchestrator: sweeping %d unanswered messages", len(messages))

	for _, message := range messages {
		_, err := o.GenerateResponse(ctx, message.ID)
		switch {
		case err == nil:
			result.Processed++
		case models.IsSkip(err):
			result.Skipped++
			fiberlog.Infof("Orchestrator: skipped intake form message %d", message.ID)
		default:
			result.Failed++
			fiberlog.Errorf("Orchestrator: failed to process message %d: %v", message.ID, err)
		}
	}

	fiberlog.Infof("Orchestrator: sweep done (processed %d, skipped %d, failed %d)",
		result.Processed, result.Skipped, result.Failed)
	return result, nil
}
