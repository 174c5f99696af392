// Package pipeline runs the two-phase execution of a claimed work item:
// generate content, persist the artifact, publish it. Each phase has its
// own deadline, and the persisted artifact is the crash boundary between
// them.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/autopress/autopress/internal/domain"
	"github.com/autopress/autopress/internal/infra/sqlite"
)

// ─── Configuration ──────────────────────────────────────────────────────────

// Config bounds each pipeline phase.
type Config struct {
	GenerateTimeout time.Duration
	PublishTimeout  time.Duration
}

// DefaultConfig returns the phase deadlines used in production.
func DefaultConfig() Config {
	return Config{
		GenerateTimeout: 5 * time.Minute,
		PublishTimeout:  2 * time.Minute,
	}
}

// ─── Pipeline ───────────────────────────────────────────────────────────────

// Pipeline executes the generating → publishing → published sequence for
// one work item. It owns the status transitions past the claim; the
// orchestrator owns the claim itself and the terminal bookkeeping.
type Pipeline struct {
	db        *sqlite.DB
	generator domain.Generator
	publisher domain.Publisher
	dest      domain.Destination
	cfg       Config
	log       zerolog.Logger
}

// New creates a pipeline. Zero timeouts in cfg fall back to defaults.
func New(db *sqlite.DB, gen domain.Generator, pub domain.Publisher, dest domain.Destination, cfg Config) *Pipeline {
	def := DefaultConfig()
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = def.GenerateTimeout
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	return &Pipeline{db: db, generator: gen, publisher: pub, dest: dest, cfg: cfg, log: zerolog.Nop()}
}

// SetLogger sets the logger for the pipeline.
func (p *Pipeline) SetLogger(log zerolog.Logger) {
	p.log = log.With().Str("component", "pipeline").Logger()
}

// Run drives a freshly claimed work item to published. The item must be in
// generating status. If the item already carries an artifact from an
// interrupted earlier attempt, generation is skipped and the run resumes
// at the publish phase, so a retry never re-invokes generation for content
// that already exists.
//
// Run mutates item in place to reflect the persisted state. A concurrent
// cancel surfaces as ErrStorageConflict from the guarded transitions.
func (p *Pipeline) Run(ctx context.Context, item *domain.WorkItem) error {
	if item.Artifact == nil {
		artifact, err := p.generate(ctx, item)
		if err != nil {
			return err
		}
		item.Artifact = &artifact
	} else {
		p.log.Info().Str("id", item.ID).Msg("Resuming with persisted artifact, skipping generation")
	}

	// Persisting the artifact and entering the publish phase is one
	// guarded write. A cancel that landed since the claim makes it affect
	// zero rows.
	if err := p.db.SaveArtifact(item.ID, *item.Artifact); err != nil {
		return err
	}
	item.Status = domain.StatusPublishing

	result, err := p.publish(ctx, item)
	if err != nil {
		return err
	}

	if err := p.db.MarkPublished(item.ID, result); err != nil {
		return err
	}
	item.Status = domain.StatusPublished
	item.RemoteID = result.RemoteID
	item.RemoteURL = result.RemoteURL
	item.LastError = ""

	p.log.Info().
		Str("id", item.ID).
		Str("remote_id", result.RemoteID).
		Str("remote_url", result.RemoteURL).
		Msg("Work item published")
	return nil
}

func (p *Pipeline) generate(ctx context.Context, item *domain.WorkItem) (domain.Artifact, error) {
	genCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	started := time.Now()
	artifact, err := p.generator.Generate(genCtx, domain.GenerateRequest{
		Topic:   item.Topic,
		Payload: item.Payload,
	})
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("generate %q: %w", item.ID, err)
	}

	p.log.Info().
		Str("id", item.ID).
		Dur("took", time.Since(started)).
		Msg("Content generated")
	return artifact, nil
}

func (p *Pipeline) publish(ctx context.Context, item *domain.WorkItem) (domain.PublishResult, error) {
	pubCtx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()

	result, err := p.publisher.Publish(pubCtx, *item.Artifact, p.dest)
	if err != nil {
		return domain.PublishResult{}, fmt.Errorf("publish %q: %w", item.ID, err)
	}
	return result, nil
}

// Cancel aborts an in-flight work item, returning it to idea. The running
// pipeline notices on its next guarded write. Returns false when the item
// was not in a cancellable state.
func (p *Pipeline) Cancel(id string) (bool, error) {
	cancelled, err := p.db.CancelWorkItem(id)
	if err != nil {
		return false, err
	}
	if cancelled {
		p.log.Info().Str("id", id).Msg("Work item cancelled")
	}
	return cancelled, nil
}
