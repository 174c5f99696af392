// Package scheduler finds due work on each external tick. Poll is a pure
// read: claiming a work item is the orchestrator's explicit, atomic step,
// so the race between overlapping ticks stays visible and testable instead
// of hiding inside the query.
package scheduler

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/autopress/autopress/internal/domain"
	"github.com/autopress/autopress/internal/infra/observability"
	"github.com/autopress/autopress/internal/infra/sqlite"
)

// DefaultBatchSize bounds per-tick load and respects downstream rate limits.
const DefaultBatchSize = 10

// Scheduler produces bounded, ordered batches of due work items.
type Scheduler struct {
	db        *sqlite.DB
	batchSize int
	log       zerolog.Logger
}

// New creates a scheduler. batchSize <= 0 uses the default.
func New(db *sqlite.DB, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Scheduler{db: db, batchSize: batchSize, log: zerolog.Nop()}
}

// SetLogger sets the logger for the scheduler.
func (s *Scheduler) SetLogger(log zerolog.Logger) {
	s.log = log.With().Str("component", "scheduler").Logger()
}

// Poll returns at most batchSize work items due at now, earliest due first
// with ties broken by id. Storage errors propagate and abort the tick —
// nothing was claimed, so the next tick retries from scratch.
func (s *Scheduler) Poll(now time.Time) ([]domain.WorkItem, error) {
	items, err := s.db.PollDue(now, s.batchSize)
	if err != nil {
		return nil, fmt.Errorf("poll due work items: %w", err)
	}

	observability.DueQueueDepth.Set(float64(len(items)))
	s.log.Debug().Int("due", len(items)).Time("now", now).Msg("Polled due work items")
	return items, nil
}

// BatchSize returns the configured per-tick cap.
func (s *Scheduler) BatchSize() int { return s.batchSize }
