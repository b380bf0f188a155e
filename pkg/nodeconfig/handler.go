package nodeconfig

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/audit"
	"github.com/pmco23/incidentfox-sub007/internal/auth"
	"github.com/pmco23/incidentfox-sub007/internal/db"
	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
)

// Handler exposes the C2/C3/C4/C5 admin and read HTTP surface.
type Handler struct {
	svc   *Service
	audit *audit.Writer
}

// NewHandler builds a Handler. audit may be nil in tests that don't care
// about the audit trail.
func NewHandler(svc *Service, auditWriter *audit.Writer) *Handler {
	return &Handler{svc: svc, audit: auditWriter}
}

func (h *Handler) logAudit(r *http.Request, action, target, outcome string) {
	if h.audit == nil {
		return
	}
	h.audit.LogFromRequest(r, action, target, outcome, nil)
}

// Mount registers every route this handler owns on r, which is expected to
// be the authenticated /api/v1 sub-router.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/admin/orgs", h.createOrg)
	r.Post("/admin/orgs/{org}/nodes", h.createNode)
	r.Put("/admin/orgs/{org}/nodes/{node}/config", h.patchConfig)
	r.Post("/admin/orgs/{org}/nodes/{team}/tokens", h.issueTeamToken)
	r.Post("/admin/orgs/{org}/teams/{team}/impersonation-token", h.mintImpersonationToken)
	r.Get("/auth/me", h.authMe)
	r.Get("/config/me/effective", h.effectiveConfig)
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

// requireOrgAdmin reports whether p may administer orgID: either a
// full admin (admin:*) or an org-scoped admin whose OrgID matches.
func requireOrgAdmin(w http.ResponseWriter, r *http.Request, orgID uuid.UUID) bool {
	p := auth.FromRequest(r)
	if p == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, string(apperr.MissingToken), "authentication required")
		return false
	}
	if p.HasPermission(auth.PermAdminAny) {
		return true
	}
	if p.HasPermission(auth.PermAdminProvision) && p.OrgID != nil && *p.OrgID == orgID {
		return true
	}
	httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "admin permission required for this org")
	return false
}

type createOrgRequest struct {
	Name string `json:"name" validate:"required"`
}

func (h *Handler) createOrg(w http.ResponseWriter, r *http.Request) {
	p := auth.FromRequest(r)
	if p == nil || !p.HasPermission(auth.PermAdminAny) {
		httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "creating an org requires full admin")
		return
	}

	var req createOrgRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	node, err := h.svc.Store.CreateOrg(r.Context(), req.Name)
	if err != nil {
		respondAppErr(w, err)
		return
	}
	h.logAudit(r, "org.create", "org:"+node.OrgID.String(), "success")
	httpserver.Respond(w, http.StatusCreated, node)
}

type createNodeRequest struct {
	ParentID string `json:"parent_id" validate:"required,uuid"`
	Kind     string `json:"kind" validate:"required,oneof=sub_team team"`
	Name     string `json:"name" validate:"required"`
}

func (h *Handler) createNode(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid org id")
		return
	}
	if !requireOrgAdmin(w, r, orgID) {
		return
	}

	var req createNodeRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	parentID, err := uuid.Parse(req.ParentID)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid parent_id")
		return
	}

	node, err := h.svc.Store.CreateNode(r.Context(), orgID, parentID, db.NodeKind(req.Kind), req.Name)
	if err != nil {
		respondAppErr(w, err)
		return
	}
	h.logAudit(r, "node.create", "node:"+node.NodeID.String(), "success")
	httpserver.Respond(w, http.StatusCreated, node)
}

func (h *Handler) patchConfig(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid org id")
		return
	}
	if !requireOrgAdmin(w, r, orgID) {
		return
	}
	nodeID, err := uuid.Parse(chi.URLParam(r, "node"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid node id")
		return
	}

	var patch map[string]any
	if err := httpserver.Decode(r, &patch); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	encrypted, err := h.svc.Registry.EncryptForStorage(patch)
	if err != nil {
		respondAppErr(w, err)
		return
	}

	p := auth.FromRequest(r)
	updated, err := h.svc.Store.PatchConfig(r.Context(), orgID, nodeID, encrypted, p.Subject)
	if err != nil {
		respondAppErr(w, err)
		return
	}

	if err := h.svc.Effective.Invalidate(r.Context(), orgID, nodeID); err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "config saved but cache invalidation failed: "+err.Error())
		return
	}

	h.logAudit(r, "config.patch", "node:"+nodeID.String(), "success")
	httpserver.Respond(w, http.StatusOK, updated)
}

func (h *Handler) issueTeamToken(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid org id")
		return
	}
	if !requireOrgAdmin(w, r, orgID) {
		return
	}
	teamNodeID, err := uuid.Parse(chi.URLParam(r, "team"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid team id")
		return
	}

	token, err := h.svc.IssueTeamToken(r.Context(), orgID, teamNodeID)
	if err != nil {
		respondAppErr(w, err)
		return
	}
	h.logAudit(r, "team_token.issue", "node:"+teamNodeID.String(), "success")
	httpserver.Respond(w, http.StatusCreated, map[string]string{"token": token})
}

func (h *Handler) mintImpersonationToken(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid org id")
		return
	}
	if !requireOrgAdmin(w, r, orgID) {
		return
	}
	teamNodeID, err := uuid.Parse(chi.URLParam(r, "team"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid team id")
		return
	}

	p := auth.FromRequest(r)
	token, err := h.svc.MintImpersonationToken(r.Context(), orgID, teamNodeID, p.Subject)
	if err != nil {
		respondAppErr(w, err)
		return
	}
	h.logAudit(r, "impersonation_token.mint", "node:"+teamNodeID.String(), "success")
	httpserver.Respond(w, http.StatusCreated, map[string]string{"token": token})
}

type authMeResponse struct {
	Role       string `json:"role"`
	AuthKind   string `json:"auth_kind"`
	OrgID      string `json:"org_id,omitempty"`
	TeamNodeID string `json:"team_node_id,omitempty"`
	Subject    string `json:"subject,omitempty"`
	Email      string `json:"email,omitempty"`
	CanWrite   bool   `json:"can_write"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) authMe(w http.ResponseWriter, r *http.Request) {
	p := auth.FromRequest(r)
	resp := authMeResponse{
		Role:        string(p.Role),
		AuthKind:    string(p.AuthKind),
		Subject:     p.Subject,
		Email:       p.Email,
		CanWrite:    p.CanWrite,
		Permissions: p.Permissions,
	}
	if p.OrgID != nil {
		resp.OrgID = p.OrgID.String()
	}
	if p.TeamNodeID != nil {
		resp.TeamNodeID = p.TeamNodeID.String()
	}
	httpserver.Respond(w, http.StatusOK, resp)
}

func (h *Handler) effectiveConfig(w http.ResponseWriter, r *http.Request) {
	p := auth.FromRequest(r)
	if p.OrgID == nil || p.TeamNodeID == nil {
		httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "caller has no resolved team scope")
		return
	}

	effective, err := h.svc.Effective.Resolve(r.Context(), *p.OrgID, *p.TeamNodeID)
	if err != nil {
		respondAppErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, effective)
}
