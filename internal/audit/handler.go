package audit

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/auth"
	"github.com/pmco23/incidentfox-sub007/internal/db"
	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
)

// Handler exposes the read-only audit log surface for C13.
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler builds an audit Handler.
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// Mount registers the audit routes on r, expected to be the authenticated
// /api/v1 sub-router.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/admin/orgs/{org}/audit", h.list)
}

// list returns the most recent audit events for an org, newest first.
// Reading another org's audit trail requires full admin (admin:*); an
// org-scoped admin may only read its own org's trail (§4.C13).
func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	orgID, err := uuid.Parse(chi.URLParam(r, "org"))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid org id")
		return
	}

	p := auth.FromRequest(r)
	if p == nil {
		httpserver.RespondError(w, http.StatusUnauthorized, string(apperr.MissingToken), "authentication required")
		return
	}
	canRead := p.HasPermission(auth.PermAdminAny) ||
		((p.HasPermission(auth.PermAdminProvision) || p.HasPermission(auth.PermAdminProvisionRead)) && p.OrgID != nil && *p.OrgID == orgID)
	if !canRead {
		httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "admin permission required to read this org's audit log")
		return
	}

	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	var after *db.AuditCursor
	if params.After != nil {
		after = &db.AuditCursor{TS: params.After.CreatedAt, ID: params.After.ID}
	}

	q := db.New(h.pool)
	// Fetch one extra row so NewCursorPage can tell whether more pages remain.
	events, err := q.ListAuditEvents(r.Context(), orgID, after, params.Limit+1)
	if err != nil {
		httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", "failed to list audit log")
		return
	}

	page := httpserver.NewCursorPage(events, params.Limit, func(e db.AuditEvent) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: e.TS, ID: e.ID}
	})

	httpserver.Respond(w, http.StatusOK, page)
}
