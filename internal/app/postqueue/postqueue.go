// Package postqueue publishes pre-generated scheduled posts when their
// publish time arrives. No generation, no billing: the content already
// exists, the queue only moves it to the destination.
package postqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/autopress/autopress/internal/domain"
	"github.com/autopress/autopress/internal/infra/observability"
	"github.com/autopress/autopress/internal/infra/sqlite"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config tunes the post queue.
type Config struct {
	BatchSize      int
	MaxRetries     int
	PublishTimeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{BatchSize: 10, MaxRetries: 3, PublishTimeout: 2 * time.Minute}
}

// ─── Queue ──────────────────────────────────────────────────────────────────

// Queue drains due scheduled posts on each tick.
type Queue struct {
	db        *sqlite.DB
	publisher domain.Publisher
	dest      domain.Destination
	cfg       Config
	log       zerolog.Logger
}

// New creates a post queue. Zero cfg fields fall back to defaults.
func New(db *sqlite.DB, pub domain.Publisher, dest domain.Destination, cfg Config) *Queue {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	return &Queue{db: db, publisher: pub, dest: dest, cfg: cfg, log: zerolog.Nop()}
}

// SetLogger sets the logger for the queue.
func (q *Queue) SetLogger(log zerolog.Logger) {
	q.log = log.With().Str("component", "post_queue").Logger()
}

// RunDue publishes every due post once and returns the tick summary.
// Failures are isolated per post; a lost claim counts as skipped.
func (q *Queue) RunDue(ctx context.Context, now time.Time) (domain.TickSummary, error) {
	summary := domain.TickSummary{Errors: []domain.TickError{}}

	posts, err := q.db.DuePosts(now, q.cfg.BatchSize)
	if err != nil {
		return summary, fmt.Errorf("poll due posts: %w", err)
	}
	if len(posts) > 0 {
		q.log.Info().Int("due", len(posts)).Msg("Publishing due posts")
	}

	for i := range posts {
		job := q.publishOne(ctx, &posts[i])
		summary.Record(job)
		observability.PostsTotal.WithLabelValues(string(job.Outcome)).Inc()
	}
	return summary, nil
}

func (q *Queue) publishOne(ctx context.Context, post *domain.ScheduledPost) domain.Job {
	job := domain.Job{WorkItemID: post.ID, StartedAt: time.Now()}

	if err := q.db.ClaimPost(post.ID); err != nil {
		if errors.Is(err, domain.ErrClaimConflict) {
			return q.complete(job, domain.OutcomeSkipped, "")
		}
		return q.complete(job, domain.OutcomeFailed, err.Error())
	}

	pubCtx, cancel := context.WithTimeout(ctx, q.cfg.PublishTimeout)
	result, err := q.publisher.Publish(pubCtx, post.Artifact, q.dest)
	cancel()
	if err != nil {
		return q.settleFailure(job, post, err)
	}

	if err := q.db.MarkPostPublished(post.ID, result); err != nil {
		return q.complete(job, domain.OutcomeFailed, err.Error())
	}
	q.log.Info().Str("id", post.ID).Str("remote_url", result.RemoteURL).Msg("Scheduled post published")
	return q.complete(job, domain.OutcomeSucceeded, "")
}

func (q *Queue) settleFailure(job domain.Job, post *domain.ScheduledPost, pubErr error) domain.Job {
	retries := post.RetryCount + 1
	msg := pubErr.Error()
	if domain.IsTransient(pubErr) && retries < q.cfg.MaxRetries {
		if err := q.db.RequeuePost(post.ID, retries, msg); err != nil {
			q.log.Error().Err(err).Str("id", post.ID).Msg("Failed to requeue post")
		}
		q.log.Warn().Str("id", post.ID).Int("retry", retries).Str("error", msg).Msg("Post requeued after transient failure")
	} else {
		if err := q.db.MarkPostFailed(post.ID, retries, msg); err != nil {
			q.log.Error().Err(err).Str("id", post.ID).Msg("Failed to mark post failed")
		}
		q.log.Error().Str("id", post.ID).Str("error", msg).Msg("Post failed permanently")
	}
	return q.complete(job, domain.OutcomeFailed, msg)
}

func (q *Queue) complete(job domain.Job, outcome domain.Outcome, errMsg string) domain.Job {
	done := time.Now()
	job.CompletedAt = &done
	job.Outcome = outcome
	job.Error = errMsg
	return job
}
