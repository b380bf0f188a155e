// Package scheduler implements C9: the internal endpoints a cluster of
// scheduler processes poll for due cron jobs (cluster-safety lives here,
// in the atomic dequeue, not in the polling loop — §4.C9, §9) and the
// poller itself that drives one process's fire-and-forget job dispatch.
package scheduler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/db"
	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
	"github.com/pmco23/incidentfox-sub007/pkg/nodeconfig"
)

// lockTTL bounds how long a dequeued job stays claimed before another
// scheduler replica may reclaim it, in case the owning process dies
// mid-dispatch.
const lockTTL = 5 * time.Minute

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Handler exposes the internal scheduler<->config-service HTTP surface
// (§6 "HTTP — internal (scheduler ↔ config service)").
type Handler struct {
	pool    *pgxpool.Pool
	nodeSvc *nodeconfig.Service
	logger  *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(pool *pgxpool.Pool, nodeSvc *nodeconfig.Service, logger *slog.Logger) *Handler {
	return &Handler{pool: pool, nodeSvc: nodeSvc, logger: logger}
}

// Mount registers routes on r, the authenticated /api/v1 sub-router (the
// internal surface still requires admin auth; the distinguishing factor
// from the public admin surface is the X-Internal-Service caller, not a
// lowered trust bar).
func (h *Handler) Mount(r chi.Router) {
	r.Get("/internal/scheduled-jobs/due", h.due)
	r.Post("/internal/scheduled-jobs/{id}/complete", h.complete)
	r.Post("/internal/impersonate-team", h.impersonateTeam)
}

func (h *Handler) due(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	owner := r.Header.Get("X-Internal-Service")
	if owner == "" {
		owner = "scheduler-" + uuid.NewString()
	}

	q := db.New(h.pool)
	jobs, err := q.DequeueDueJobs(r.Context(), owner, lockTTL, limit)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"jobs": jobs})
}

type completeRequest struct {
	Status string `json:"status" validate:"required,oneof=success error"`
	Error  string `json:"error,omitempty"`
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid job id")
		return
	}

	var req completeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	q := db.New(h.pool)
	job, err := q.GetScheduledJobByID(r.Context(), id)
	if err != nil {
		httpserver.RespondError(w, http.StatusNotFound, string(apperr.NotFound), "scheduled job not found")
		return
	}

	next, err := nextFireAt(job.Cron)
	if err != nil {
		h.logger.Error("parsing job cron, falling back to lock TTL", "job_id", id, "cron", job.Cron, "error", err)
		next = time.Now().Add(lockTTL)
	}

	if err := q.CompleteScheduledJob(r.Context(), db.CompleteScheduledJobParams{ID: id, Status: req.Status, NextFireAt: next}); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"status": req.Status, "next_fire_at": next})
}

// nextFireAt parses a job's cron expression and returns its next fire time
// after now (§3 ScheduledJob.cron, SPEC_FULL.md DOMAIN STACK robfig/cron
// adoption).
func nextFireAt(expr string) (time.Time, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(time.Now()), nil
}

type impersonateTeamRequest struct {
	OrgID      string `json:"org_id" validate:"required,uuid"`
	TeamNodeID string `json:"team_node_id" validate:"required,uuid"`
}

func (h *Handler) impersonateTeam(w http.ResponseWriter, r *http.Request) {
	var req impersonateTeamRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	orgID, err := uuid.Parse(req.OrgID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid org_id")
		return
	}
	teamNodeID, err := uuid.Parse(req.TeamNodeID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid team_node_id")
		return
	}

	token, err := h.nodeSvc.MintImpersonationToken(r.Context(), orgID, teamNodeID, "scheduler")
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"token": token})
}
