package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/autopress/autopress/internal/app/orchestrator"
	"github.com/autopress/autopress/internal/app/postqueue"
)

// AutopilotAPI serves the external trigger endpoint. The scheduler has no
// timer of its own; an external cron calls POST /api/autopilot/tick and
// this handler runs everything that is due.
type AutopilotAPI struct {
	orch    *orchestrator.Orchestrator
	posts   *postqueue.Queue
	secret  string
	log     zerolog.Logger
	nowFunc func() time.Time
}

// NewAutopilotAPI creates the trigger API. The secret guards the tick
// endpoint; an empty secret rejects every request.
func NewAutopilotAPI(orch *orchestrator.Orchestrator, posts *postqueue.Queue, secret string) *AutopilotAPI {
	return &AutopilotAPI{
		orch:    orch,
		posts:   posts,
		secret:  secret,
		log:     zerolog.Nop(),
		nowFunc: time.Now,
	}
}

// SetLogger sets the logger for the autopilot API.
func (a *AutopilotAPI) SetLogger(log zerolog.Logger) {
	a.log = log.With().Str("component", "autopilot_api").Logger()
}

// HandleTick authenticates the trigger and runs one tick: due work items
// first, then due scheduled posts, returning the merged summary.
func (a *AutopilotAPI) HandleTick(w http.ResponseWriter, r *http.Request) {
	if !a.authorized(r) {
		writeError(w, http.StatusUnauthorized, "invalid trigger secret")
		return
	}

	now := a.nowFunc().UTC()
	summary, err := a.orch.RunDue(r.Context(), now)
	if err != nil {
		a.log.Error().Err(err).Msg("Tick failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	postSummary, err := a.posts.RunDue(r.Context(), now)
	if err != nil {
		a.log.Error().Err(err).Msg("Post queue tick failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	summary.Merge(postSummary)

	writeJSON(w, http.StatusOK, summary)
}

// authorized checks the bearer token in constant time.
func (a *AutopilotAPI) authorized(r *http.Request) bool {
	if a.secret == "" {
		return false
	}
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.secret)) == 1
}
