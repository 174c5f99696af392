// Package daemon wires storage, services, and the HTTP API into one
// process and manages its lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/autopress/autopress/internal/api"
	"github.com/autopress/autopress/internal/app/ledger"
	"github.com/autopress/autopress/internal/app/orchestrator"
	"github.com/autopress/autopress/internal/app/pipeline"
	"github.com/autopress/autopress/internal/app/postqueue"
	"github.com/autopress/autopress/internal/app/scheduler"
	"github.com/autopress/autopress/internal/clients/generator"
	"github.com/autopress/autopress/internal/clients/wordpress"
	"github.com/autopress/autopress/internal/domain"
	"github.com/autopress/autopress/internal/infra/sqlite"
)

// Daemon is the assembled AutoPress process.
type Daemon struct {
	cfg    Config
	log    zerolog.Logger
	db     *sqlite.DB
	orch   *orchestrator.Orchestrator
	posts  *postqueue.Queue
	server *http.Server
	timer  *cron.Cron
}

// New builds the daemon from configuration.
func New(cfg Config, log zerolog.Logger) (*Daemon, error) {
	db, err := sqlite.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	dest := domain.Destination{
		BaseURL:     cfg.Publisher.BaseURL,
		Username:    cfg.Publisher.Username,
		AppPassword: cfg.Publisher.AppPassword,
	}
	gen := generator.New(generator.Config{
		Endpoint:     cfg.Generator.Endpoint,
		Model:        cfg.Generator.Model,
		APIKey:       cfg.Generator.APIKey,
		SystemPrompt: cfg.Generator.SystemPrompt,
	})
	pub := wordpress.New()

	credits := ledger.New(db)
	credits.SetLogger(log)

	sched := scheduler.New(db, cfg.Autopilot.BatchSize)
	sched.SetLogger(log)

	pl := pipeline.New(db, gen, pub, dest, pipeline.Config{})
	pl.SetLogger(log)

	orch := orchestrator.New(db, sched, credits, pl, orchestrator.Config{
		BatchSize:  cfg.Autopilot.BatchSize,
		RunCost:    cfg.Autopilot.RunCost,
		MaxRetries: cfg.Autopilot.MaxRetries,
	})
	orch.SetLogger(log)

	posts := postqueue.New(db, pub, dest, postqueue.Config{
		BatchSize:  cfg.Autopilot.BatchSize,
		MaxRetries: cfg.Autopilot.MaxRetries,
	})
	posts.SetLogger(log)

	autopilot := api.NewAutopilotAPI(orch, posts, cfg.Autopilot.TriggerSecret)
	autopilot.SetLogger(log)
	dashboard := api.NewDashboardAPI(db, credits, pl)
	dashboard.SetLogger(log)

	srv := api.NewServer(autopilot, dashboard)
	srv.SetLogger(log)
	srv.EnableMetrics()

	d := &Daemon{
		cfg:   cfg,
		log:   log.With().Str("component", "daemon").Logger(),
		db:    db,
		orch:  orch,
		posts: posts,
		server: &http.Server{
			Addr:    cfg.API.Addr(),
			Handler: srv.Handler(),
		},
	}

	// The internal timer is optional. Production deployments usually rely
	// on an external cron hitting the trigger endpoint instead.
	if cfg.Autopilot.Cron != "" {
		d.timer = cron.New()
		if _, err := d.timer.AddFunc(cfg.Autopilot.Cron, d.localTick); err != nil {
			db.Close()
			return nil, fmt.Errorf("invalid autopilot cron %q: %w", cfg.Autopilot.Cron, err)
		}
	}

	return d, nil
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	if d.timer != nil {
		d.timer.Start()
		d.log.Info().Str("cron", d.cfg.Autopilot.Cron).Msg("Internal tick timer started")
	}

	errCh := make(chan error, 1)
	go func() {
		d.log.Info().Str("addr", d.server.Addr).Msg("API listening")
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		d.Close()
		return err
	case <-ctx.Done():
	}

	d.log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		d.log.Error().Err(err).Msg("Shutdown error")
	}
	return d.Close()
}

// Tick runs one tick in-process, bypassing the HTTP trigger. Used by the
// CLI and the internal timer.
func (d *Daemon) Tick(ctx context.Context) (domain.TickSummary, error) {
	now := time.Now().UTC()
	summary, err := d.orch.RunDue(ctx, now)
	if err != nil {
		return summary, err
	}
	postSummary, err := d.posts.RunDue(ctx, now)
	if err != nil {
		return summary, err
	}
	summary.Merge(postSummary)
	return summary, nil
}

func (d *Daemon) localTick() {
	summary, err := d.Tick(context.Background())
	if err != nil {
		d.log.Error().Err(err).Msg("Local tick failed")
		return
	}
	d.log.Info().
		Int("processed", summary.Processed).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Msg("Local tick finished")
}

// Close releases the daemon's resources.
func (d *Daemon) Close() error {
	if d.timer != nil {
		d.timer.Stop()
	}
	return d.db.Close()
}
