package orchestrator

import (
	"context"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"

	"github.com/tutorline/replybank/internal/models"
	"github.com/tutorline/replybank/internal/services/cache"
	"github.com/tutorline/replybank/internal/services/confidence"
)

// Maintenance bundles the periodic cache upkeep jobs as plain callables so
// they can run from the in-process scheduler or be triggered over the API.
type Maintenance struct {
	store       *cache.Store
	warmup      *cache.Warmup
	scorer      *confidence.Scorer
	cacheConfig models.CacheConfig
}

func NewMaintenance(store *cache.Store, warmup *cache.Warmup, scorer *confidence.Scorer, cacheConfig models.CacheConfig) *Maintenance {
	return &Maintenance{
		store:       store,
		warmup:      warmup,
		scorer:      scorer,
		cacheConfig: cacheConfig,
	}
}

// RunNightly backfills missing cache entries and rescores everything.
func (m *Maintenance) RunNightly(ctx context.Context) error {
	if _, err := m.warmup.Run(ctx); err != nil {
		fiberlog.Errorf("Maintenance: warmup failed: %v", err)
		return err
	}
	if _, err := m.scorer.RecalculateAll(ctx); err != nil {
		fiberlog.Errorf("Maintenance: confidence recalculation failed: %v", err)
		return err
	}
	return nil
}

// RunCleanup drops low-confidence and stale entries.
func (m *Maintenance) RunCleanup(ctx context.Context) (int, error) {
	return m.store.Cleanup(ctx, m.cacheConfig.CleanupMinConfidence, m.cacheConfig.CleanupMaxAgeDays)
}

// LogStatistics writes a statistics snapshot to the log.
func (m *Maintenance) LogStatistics(ctx context.Context) {
	stats, err := m.store.Statistics(ctx)
	if err != nil {
		fiberlog.Errorf("Maintenance: failed to read cache statistics: %v", err)
		return
	}
	fiberlog.Infof("Cache stats: %d entries, %d hits, %.1f%% hit rate, %.3f avg confidence",
		stats.TotalCount, stats.TotalHits, stats.HitRate, stats.AvgConfidence)
}

// Scheduler drives the sweep and maintenance jobs on fixed intervals.
type Scheduler struct {
	orchestrator *Orchestrator
	maintenance  *Maintenance
	config       models.OrchestratorConfig
	stopChan     chan struct{}
}

func NewScheduler(orchestrator *Orchestrator, maintenance *Maintenance, config models.OrchestratorConfig) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		maintenance:  maintenance,
		config:       config,
		stopChan:     make(chan struct{}),
	}
}

// Start blocks running the schedules until Stop or context cancellation.
// Call it from its own goroutine.
func (s *Scheduler) Start(ctx context.Context) {
	sweep := time.NewTicker(time.Duration(s.config.SweepIntervalSeconds) * time.Second)
	defer sweep.Stop()
	nightly := time.NewTicker(24 * time.Hour)
	defer nightly.Stop()
	cleanup := time.NewTicker(7 * 24 * time.Hour)
	defer cleanup.Stop()
	statsLog := time.NewTicker(1 * time.Hour)
	defer statsLog.Stop()

	fiberlog.Infof("Scheduler: started (sweep every %ds)", s.config.SweepIntervalSeconds)

	for {
		select {
		case <-sweep.C:
			if _, err := s.orchestrator.ProcessPendingMessages(ctx); err != nil {
				fiberlog.Errorf("Scheduler: sweep failed: %v", err)
			}
		case <-nightly.C:
			if err := s.maintenance.RunNightly(ctx); err != nil {
				fiberlog.Errorf("Scheduler: nightly maintenance failed: %v", err)
			}
		case <-cleanup.C:
			if deleted, err := s.maintenance.RunCleanup(ctx); err != nil {
				fiberlog.Errorf("Scheduler: cleanup failed: %v", err)
			} else {
				fiberlog.Infof("Scheduler: cleanup removed %d entries", deleted)
			}
		case <-statsLog.C:
			s.maintenance.LogStatistics(ctx)
		case <-s.stopChan:
			fiberlog.Info("Scheduler: stopped")
			return
		case <-ctx.Done():
			fiberlog.Info("Scheduler: stopped due to context cancellation")
			return
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopChan)
}
