// Package auth implements C5: classifying a raw bearer credential into a
// Principal and enforcing permission-string RBAC on admin endpoints.
package auth

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// Role enumerates the broad principal classes from spec §4.C5.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeam    Role = "team"
	RoleVisitor Role = "visitor"
)

// AuthKind enumerates how a Principal was established.
type AuthKind string

const (
	AuthKindAdminToken   AuthKind = "admin_token"
	AuthKindOrgAdmin     AuthKind = "org_admin"
	AuthKindTeamToken    AuthKind = "team_token"
	AuthKindOIDC         AuthKind = "oidc"
	AuthKindImpersonation AuthKind = "impersonation"
	AuthKindVisitor      AuthKind = "visitor"
)

// Permission strings used by the core (§4.C5).
const (
	PermAdminAny          = "admin:*"
	PermAdminProvision    = "admin:provision"
	PermAdminProvisionRead = "admin:provision:read"
	PermAdminAgentRun     = "admin:agent:run"
	PermTeamRead          = "team:read"
	PermTeamWrite         = "team:write"
	PermAgentInvoke       = "agent:invoke"
)

// Principal is the resolved identity of a caller (§4.C5).
type Principal struct {
	Role             Role
	AuthKind         AuthKind
	OrgID            *uuid.UUID
	TeamNodeID       *uuid.UUID
	Subject          string
	Email            string
	Permissions      []string
	CanWrite         bool
	VisitorSessionID string
}

// HasPermission reports whether p carries perm, honoring the "admin:*"
// wildcard (§4.C5).
func (p *Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm {
			return true
		}
		if have == PermAdminAny {
			return true
		}
	}
	return false
}

type contextKey struct{ name string }

var principalKey = &contextKey{"principal"}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext extracts the Principal stored by the auth middleware, if any.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}

// FromRequest is a convenience wrapper around FromContext.
func FromRequest(r *http.Request) *Principal {
	return FromContext(r.Context())
}
