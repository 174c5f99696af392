package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/autopress/autopress/internal/app/ledger"
	"github.com/autopress/autopress/internal/app/pipeline"
	"github.com/autopress/autopress/internal/domain"
	"github.com/autopress/autopress/internal/infra/sqlite"
)

// DashboardAPI serves the REST endpoints the dashboard polls: credit
// balances, work item state, and scheduled posts.
type DashboardAPI struct {
	db       *sqlite.DB
	credits  *ledger.Service
	pipeline *pipeline.Pipeline
	log      zerolog.Logger
}

// NewDashboardAPI creates the dashboard API.
func NewDashboardAPI(db *sqlite.DB, credits *ledger.Service, pl *pipeline.Pipeline) *DashboardAPI {
	return &DashboardAPI{db: db, credits: credits, pipeline: pl, log: zerolog.Nop()}
}

// SetLogger sets the logger for the dashboard API.
func (d *DashboardAPI) SetLogger(log zerolog.Logger) {
	d.log = log.With().Str("component", "dashboard_api").Logger()
}

// ─── Credit Endpoints ───────────────────────────────────────────────────────

// HandleBalance returns the owner's credit account.
func (d *DashboardAPI) HandleBalance(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	acct, err := d.credits.Balance(ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, acct)
}

// HandleHistory returns the owner's most recent ledger rows, newest first.
// ?limit= caps the page, default 50.
func (d *DashboardAPI) HandleHistory(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	history, err := d.credits.History(ownerID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []domain.CreditTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"owner_id":     ownerID,
		"transactions": history,
	})
}

type topUpRequest struct {
	Amount int64 `json:"amount"`
}

// HandleTopUp adds purchased credits to the owner's top-up balance.
func (d *DashboardAPI) HandleTopUp(w http.ResponseWriter, r *http.Request) {
	ownerID := chi.URLParam(r, "ownerID")

	var req topUpRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	tx, err := d.credits.Credit(ownerID, req.Amount, domain.ReasonTopUp)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// ─── Work Item Endpoints ────────────────────────────────────────────────────

// HandleListWorkItems lists work items, optionally filtered by ?owner=.
func (d *DashboardAPI) HandleListWorkItems(w http.ResponseWriter, r *http.Request) {
	items, err := d.db.ListWorkItems(r.URL.Query().Get("owner"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if items == nil {
		items = []domain.WorkItem{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"work_items": items,
	})
}

type createWorkItemRequest struct {
	OwnerID           string           `json:"owner_id"`
	Topic             string           `json:"topic"`
	Payload           string           `json:"payload"`
	RecurrenceEnabled bool             `json:"recurrence_enabled"`
	Frequency         domain.Frequency `json:"frequency"`
	NextRunAt         *time.Time       `json:"next_run_at"`
}

// HandleCreateWorkItem registers a new work item in idea status. It only
// becomes schedulable once recurrence is enabled and a next run is set.
func (d *DashboardAPI) HandleCreateWorkItem(w http.ResponseWriter, r *http.Request) {
	var req createWorkItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OwnerID == "" || req.Topic == "" {
		writeError(w, http.StatusBadRequest, "owner_id and topic are required")
		return
	}
	if req.Frequency == "" {
		req.Frequency = domain.FreqWeekly
	}
	if !req.Frequency.Valid() {
		writeError(w, http.StatusBadRequest, "unknown frequency")
		return
	}

	item := domain.WorkItem{
		ID:                uuid.NewString(),
		OwnerID:           req.OwnerID,
		Topic:             req.Topic,
		Payload:           req.Payload,
		RecurrenceEnabled: req.RecurrenceEnabled,
		Frequency:         req.Frequency,
		NextRunAt:         req.NextRunAt,
		Status:            domain.StatusIdea,
	}
	if err := d.db.InsertWorkItem(item); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	d.log.Info().Str("id", item.ID).Str("owner", item.OwnerID).Msg("Work item created")
	writeJSON(w, http.StatusCreated, item)
}

// HandleGetWorkItem returns one work item by id.
func (d *DashboardAPI) HandleGetWorkItem(w http.ResponseWriter, r *http.Request) {
	item, err := d.db.GetWorkItem(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrWorkItemNotFound) {
			writeError(w, http.StatusNotFound, "work item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// HandleCancelWorkItem aborts an in-flight work item. Cancelling an item
// that is not running returns 409 so the dashboard can tell the user the
// run already finished.
func (d *DashboardAPI) HandleCancelWorkItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := d.db.GetWorkItem(id); err != nil {
		if errors.Is(err, domain.ErrWorkItemNotFound) {
			writeError(w, http.StatusNotFound, "work item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	cancelled, err := d.pipeline.Cancel(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !cancelled {
		writeError(w, http.StatusConflict, "work item is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":     id,
		"status": string(domain.StatusIdea),
	})
}

// ─── Scheduled Post Endpoints ───────────────────────────────────────────────

type schedulePostRequest struct {
	OwnerID      string          `json:"owner_id"`
	Artifact     domain.Artifact `json:"artifact"`
	ScheduledFor time.Time       `json:"scheduled_for"`
}

// HandleSchedulePost queues pre-generated content for a timed publish.
func (d *DashboardAPI) HandleSchedulePost(w http.ResponseWriter, r *http.Request) {
	var req schedulePostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.OwnerID == "" || req.Artifact.Title == "" || req.Artifact.Body == "" {
		writeError(w, http.StatusBadRequest, "owner_id and artifact title/body are required")
		return
	}
	if req.ScheduledFor.IsZero() {
		writeError(w, http.StatusBadRequest, "scheduled_for is required")
		return
	}

	post := domain.ScheduledPost{
		ID:           uuid.NewString(),
		OwnerID:      req.OwnerID,
		Artifact:     req.Artifact,
		ScheduledFor: req.ScheduledFor.UTC(),
		Status:       domain.PostScheduled,
	}
	if err := d.db.InsertScheduledPost(post); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	d.log.Info().Str("id", post.ID).Time("scheduled_for", post.ScheduledFor).Msg("Post scheduled")
	writeJSON(w, http.StatusCreated, post)
}

// HandleGetPost returns one scheduled post by id.
func (d *DashboardAPI) HandleGetPost(w http.ResponseWriter, r *http.Request) {
	post, err := d.db.GetScheduledPost(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, domain.ErrWorkItemNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, post)
}
