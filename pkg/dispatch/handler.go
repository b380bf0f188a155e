package dispatch

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/audit"
	"github.com/pmco23/incidentfox-sub007/internal/auth"
	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
)

// Handler exposes the admin agent-dispatch HTTP surface
// (POST /api/v1/admin/agents/run).
type Handler struct {
	svc                *Service
	audit              *audit.Writer
	visitorPlaygroundAgent string
}

// NewHandler builds a Handler.
func NewHandler(svc *Service, auditWriter *audit.Writer, visitorPlaygroundAgent string) *Handler {
	return &Handler{svc: svc, audit: auditWriter, visitorPlaygroundAgent: visitorPlaygroundAgent}
}

// Mount registers routes on r, the authenticated /api/v1 sub-router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/admin/agents/run", h.run)
}

type runRequest struct {
	AgentName          string          `json:"agent_name" validate:"required"`
	Message            string          `json:"message" validate:"required"`
	Context            map[string]any  `json:"context"`
	MaxTurns           int32           `json:"max_turns" validate:"gte=1"`
	CorrelationID      string          `json:"correlation_id"`
	TriggerSource      string          `json:"trigger_source"`
	OutputDestinations json.RawMessage `json:"output_destinations"`
}

func (h *Handler) run(w http.ResponseWriter, r *http.Request) {
	p := auth.FromRequest(r)
	if p == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, string(apperr.MissingToken), "authentication required")
		return
	}
	if !p.HasPermission(auth.PermAdminAgentRun) && !p.HasPermission(auth.PermAgentInvoke) {
		httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "admin:agent:run or agent:invoke permission required")
		return
	}
	if p.OrgID == nil || p.TeamNodeID == nil {
		httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "caller has no resolved team scope")
		return
	}

	var req runRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	// Open Question decision (SPEC_FULL.md): a visitor principal may only
	// invoke the playground agent.
	if p.Role == auth.RoleVisitor && req.AgentName != h.visitorPlaygroundAgent {
		httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "visitor principals may only invoke the playground agent")
		return
	}
	if req.CorrelationID == "" {
		req.CorrelationID = r.Header.Get("X-Request-ID")
	}

	result, err := h.svc.RunAgent(r.Context(), *p.OrgID, *p.TeamNodeID, RunParams{
		AgentName:          req.AgentName,
		Message:            req.Message,
		Context:            req.Context,
		MaxTurns:           req.MaxTurns,
		CorrelationID:      req.CorrelationID,
		TriggerSource:      req.TriggerSource,
		OutputDestinations: req.OutputDestinations,
	}, nil)

	if h.audit != nil {
		outcome := "success"
		if err != nil {
			outcome = "error"
		}
		h.audit.LogFromRequest(r, "agent.run", "agent:"+req.AgentName, outcome, nil)
	}

	if err != nil {
		respondAppErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, result)
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
