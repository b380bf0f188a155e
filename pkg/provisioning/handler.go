package provisioning

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/audit"
	"github.com/pmco23/incidentfox-sub007/internal/auth"
	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
)

// Handler exposes C8's admin HTTP surface.
type Handler struct {
	svc   *Service
	audit *audit.Writer
}

// NewHandler builds a Handler.
func NewHandler(svc *Service, auditWriter *audit.Writer) *Handler {
	return &Handler{svc: svc, audit: auditWriter}
}

// Mount registers routes on r, the authenticated /api/v1 sub-router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/admin/provision/team", h.provisionTeam)
}

type provisionTeamRequest struct {
	OrgID           string   `json:"org_id" validate:"required,uuid"`
	TeamNodeID      string   `json:"team_node_id" validate:"required,uuid"`
	SlackChannelIDs []string `json:"slack_channel_ids"`
	IdempotencyKey  string   `json:"idempotency_key"`
}

func (h *Handler) provisionTeam(w http.ResponseWriter, r *http.Request) {
	var req provisionTeamRequest
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

	p := auth.FromRequest(r)
	if p == nil || !(p.HasPermission(auth.PermAdminProvision) || p.HasPermission(auth.PermAdminAny)) {
		httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "admin:provision permission required")
		return
	}
	if p.OrgID != nil && *p.OrgID != orgID && !p.HasPermission(auth.PermAdminAny) {
		httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "org-scoped admin may only provision its own org")
		return
	}

	run, err := h.svc.ProvisionTeam(r.Context(), Params{
		OrgID:           orgID,
		TeamNodeID:      teamNodeID,
		SlackChannelIDs: req.SlackChannelIDs,
		IdempotencyKey:  req.IdempotencyKey,
	})

	if run.ID != uuid.Nil {
		w.Header().Set("X-Provisioning-Run-Id", run.ID.String())
	}

	if err != nil {
		if h.audit != nil {
			h.audit.LogFromRequest(r, "provisioning.run", "team:"+teamNodeID.String(), "failure", nil)
		}
		respondAppErr(w, err)
		return
	}

	if h.audit != nil {
		h.audit.LogFromRequest(r, "provisioning.run", "team:"+teamNodeID.String(), "success", nil)
	}
	httpserver.Respond(w, http.StatusOK, run)
}

func respondAppErr(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		if appErr.Detail != nil {
			httpserver.Respond(w, apperr.HTTPStatus(appErr.Kind), map[string]any{
				"error":   string(appErr.Kind),
				"message": appErr.Message,
				"detail":  appErr.Detail,
			})
			return
		}
		httpserver.RespondError(w, apperr.HTTPStatus(appErr.Kind), string(appErr.Kind), appErr.Message)
		return
	}
	httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
}
