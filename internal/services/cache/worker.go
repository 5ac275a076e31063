package cache

import (
	"context"
	"sync"
	"time"

	fiberlog "github.com/gofiber/fiber/v2/log"
)

type taskKind int

const (
	taskHit taskKind = iota
	taskStats
)

type task struct {
	kind    taskKind
	cacheID uint
}

// Worker applies hit counts and stats refreshes off the request path so a
// cache hit never waits on its own bookkeeping.
type Worker struct {
	store    *Store
	tasks    chan task
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopped  chan struct{}
}

func NewWorker(store *Store, poolSize, bufferSize int) *Worker {
	w := &Worker{
		store:   store,
		tasks:   make(chan task, bufferSize),
		stopped: make(chan struct{}),
	}

	for range poolSize {
		w.wg.Add(1)
		go w.run()
	}

	return w
}

// SubmitHit queues a hit count increment for a cache entry.
func (w *Worker) SubmitHit(cacheID uint) {
	w.submit(task{kind: taskHit, cacheID: cacheID})
}

// SubmitStatsRefresh queues a refresh of the aggregate stats in Redis.
func (w *Worker) SubmitStatsRefresh() {
	w.submit(task{kind: taskStats})
}

func (w *Worker) submit(t task) {
	select {
	case <-w.stopped:
		fiberlog.Warn("Cache: worker stopped, dropping bookkeeping task")
	case w.tasks <- t:
	default:
		// buffer full; a dropped increment is acceptable
		fiberlog.Warn("Cache: bookkeeping buffer full, dropping task")
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.stopped:
			return
		case t := <-w.tasks:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			switch t.kind {
			case taskHit:
				if err := w.store.IncrementHit(ctx, t.cacheID); err != nil {
					fiberlog.Errorf("Cache: failed to increment hit count for entry %d: %v", t.cacheID, err)
				}
			case taskStats:
				if err := w.store.RefreshStats(ctx); err != nil {
					fiberlog.Errorf("Cache: failed to refresh stats: %v", err)
				}
			}
			cancel()
		}
	}
}

// Stop drains the pool and rejects further submissions.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopped)
		close(w.tasks)
		w.wg.Wait()
	})
}
