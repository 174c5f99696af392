// Package orchestrator coordinates one autopilot tick: poll due work,
// claim each item, charge credits, run the pipeline, and settle the
// outcome. One job failing never aborts the rest of the batch.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/autopress/autopress/internal/app/ledger"
	"github.com/autopress/autopress/internal/app/pipeline"
	"github.com/autopress/autopress/internal/app/scheduler"
	"github.com/autopress/autopress/internal/domain"
	"github.com/autopress/autopress/internal/infra/observability"
	"github.com/autopress/autopress/internal/infra/sqlite"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config tunes batch and billing behavior of a tick.
type Config struct {
	BatchSize  int   // max work items per tick
	RunCost    int64 // credits charged per execution attempt
	MaxRetries int   // attempts before an item is marked failed
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 10, RunCost: 10, MaxRetries: 3}
}

// ─── Orchestrator ───────────────────────────────────────────────────────────

// Orchestrator runs due work items sequentially within a tick. Claims are
// atomic, so overlapping ticks degrade to skipped jobs rather than double
// executions or double billing.
type Orchestrator struct {
	db       *sqlite.DB
	sched    *scheduler.Scheduler
	credits  *ledger.Service
	pipeline *pipeline.Pipeline
	cfg      Config
	log      zerolog.Logger
}

// New creates an orchestrator. Zero cfg fields fall back to defaults.
func New(db *sqlite.DB, sched *scheduler.Scheduler, credits *ledger.Service, pl *pipeline.Pipeline, cfg Config) *Orchestrator {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.RunCost <= 0 {
		cfg.RunCost = def.RunCost
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	return &Orchestrator{db: db, sched: sched, credits: credits, pipeline: pl, cfg: cfg, log: zerolog.Nop()}
}

// SetLogger sets the logger for the orchestrator.
func (o *Orchestrator) SetLogger(log zerolog.Logger) {
	o.log = log.With().Str("component", "orchestrator").Logger()
}

// RunDue executes every due work item once and returns the tick summary.
// Jobs run sequentially; each failure is recorded and the batch continues.
func (o *Orchestrator) RunDue(ctx context.Context, now time.Time) (domain.TickSummary, error) {
	observability.TicksTotal.Inc()

	summary := domain.TickSummary{Errors: []domain.TickError{}}
	items, err := o.sched.Poll(now)
	if err != nil {
		return summary, err
	}

	o.log.Info().Int("due", len(items)).Msg("Tick started")
	for i := range items {
		job := o.RunJob(ctx, &items[i], now)
		summary.Record(job)
		observability.JobsTotal.WithLabelValues(string(job.Outcome)).Inc()
	}
	o.log.Info().
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("Tick finished")
	return summary, nil
}

// RunJob executes a single work item attempt: claim, charge, run, settle.
// It never returns an error; every path folds into the job outcome.
func (o *Orchestrator) RunJob(ctx context.Context, item *domain.WorkItem, now time.Time) domain.Job {
	job := domain.Job{WorkItemID: item.ID, StartedAt: now}

	if err := o.db.ClaimWorkItem(item.ID); err != nil {
		if errors.Is(err, domain.ErrClaimConflict) {
			o.log.Debug().Str("id", item.ID).Msg("Claim lost, another tick owns the item")
			return o.complete(job, domain.OutcomeSkipped, "")
		}
		return o.complete(job, domain.OutcomeFailed, err.Error())
	}
	item.Status = domain.StatusGenerating

	tx, err := o.credits.Deduct(item.OwnerID, o.cfg.RunCost, domain.ReasonAutopilotRun)
	if err != nil {
		// Nothing was charged. Release the claim and let the item come
		// back next tick without burning a retry.
		if requeueErr := o.db.Requeue(item.ID, nil, item.RetryCount, err.Error()); requeueErr != nil {
			o.log.Error().Err(requeueErr).Str("id", item.ID).Msg("Failed to release claim after deduct error")
		}
		if errors.Is(err, domain.ErrInsufficientCredits) {
			o.log.Warn().Str("id", item.ID).Str("owner", item.OwnerID).Msg("Skipping work item, insufficient credits")
			return o.complete(job, domain.OutcomeSkipped, "")
		}
		return o.complete(job, domain.OutcomeFailed, err.Error())
	}

	if err := o.pipeline.Run(ctx, item); err != nil {
		return o.settleFailure(job, item, tx, now, err)
	}

	if item.RecurrenceEnabled {
		next := item.Frequency.Next(now)
		if err := o.db.AdvanceRecurrence(item.ID, next); err != nil {
			o.log.Error().Err(err).Str("id", item.ID).Msg("Failed to advance recurrence")
		}
	}
	return o.complete(job, domain.OutcomeSucceeded, "")
}

// settleFailure refunds the charge and decides between retry and terminal
// failure. The refund happens synchronously, before any status write, so
// the owner never observes a charged-but-failed run.
func (o *Orchestrator) settleFailure(job domain.Job, item *domain.WorkItem, tx domain.CreditTransaction, now time.Time, runErr error) domain.Job {
	if tx.Amount != 0 {
		if _, err := o.credits.Refund(item.OwnerID, -tx.Amount); err != nil {
			o.log.Error().Err(err).Str("id", item.ID).Str("owner", item.OwnerID).Msg("Refund failed")
		}
	}

	// A guarded transition affecting zero rows means the item was
	// cancelled underneath us. Its status is already reset; leave it.
	if errors.Is(runErr, domain.ErrStorageConflict) {
		o.log.Info().Str("id", item.ID).Msg("Work item cancelled mid-run, charge refunded")
		return o.complete(job, domain.OutcomeSkipped, "")
	}

	retries := item.RetryCount + 1
	msg := runErr.Error()
	if domain.IsTransient(runErr) && retries < o.cfg.MaxRetries {
		if err := o.db.Requeue(item.ID, &now, retries, msg); err != nil {
			o.log.Error().Err(err).Str("id", item.ID).Msg("Failed to requeue for retry")
		}
		o.log.Warn().Str("id", item.ID).Int("retry", retries).Str("error", msg).Msg("Work item requeued after transient failure")
	} else {
		if err := o.db.MarkFailed(item.ID, retries, msg); err != nil {
			o.log.Error().Err(err).Str("id", item.ID).Msg("Failed to mark work item failed")
		}
		o.log.Error().Str("id", item.ID).Int("retries", retries).Str("error", msg).Msg("Work item failed permanently")
	}
	return o.complete(job, domain.OutcomeFailed, msg)
}

func (o *Orchestrator) complete(job domain.Job, outcome domain.Outcome, errMsg string) domain.Job {
	done := time.Now()
	job.CompletedAt = &done
	job.Outcome = outcome
	job.Error = errMsg
	return job
}
