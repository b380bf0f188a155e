package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/config"
	"github.com/pmco23/incidentfox-sub007/internal/crypto"
	"github.com/pmco23/incidentfox-sub007/internal/db"
)

// Classifier implements the bearer dot-count dispatch table in §4.C5,
// ported from the Python original's auth_me.py (see SPEC_FULL.md
// "SUPPLEMENTED FEATURES").
type Classifier struct {
	pool   *pgxpool.Pool
	pepper string
	cfg    *config.Config
	impSig *crypto.JWTSigner
	oidc   *OIDCVerifier // nil when OIDC_ENABLED=false
	logger *slog.Logger
}

// NewClassifier builds a Classifier. oidcVerifier may be nil if OIDC is
// disabled.
func NewClassifier(pool *pgxpool.Pool, cfg *config.Config, impSig *crypto.JWTSigner, oidcVerifier *OIDCVerifier, logger *slog.Logger) *Classifier {
	return &Classifier{pool: pool, pepper: cfg.TokenPepper, cfg: cfg, impSig: impSig, oidc: oidcVerifier, logger: logger}
}

// Classify resolves a raw bearer credential into a Principal, dispatching
// on the number of '.' characters it contains (§4.C5 dispatch table).
func (c *Classifier) Classify(ctx context.Context, bearer string) (*Principal, error) {
	if bearer == "" {
		return nil, apperr.New(apperr.MissingToken, "missing bearer token")
	}

	switch strings.Count(bearer, ".") {
	case 0:
		return c.classifyAdminShared(bearer)
	case 1:
		return c.classifyOpaque(ctx, bearer)
	default:
		return c.classifyJWT(ctx, bearer)
	}
}

func (c *Classifier) classifyAdminShared(bearer string) (*Principal, error) {
	if c.cfg.AdminToken == "" {
		return nil, apperr.New(apperr.InvalidToken, "admin shared token not configured")
	}
	if subtle.ConstantTimeCompare([]byte(bearer), []byte(c.cfg.AdminToken)) != 1 {
		return nil, apperr.New(apperr.InvalidToken, "invalid admin token")
	}
	return &Principal{
		Role:        RoleAdmin,
		AuthKind:    AuthKindAdminToken,
		Permissions: []string{PermAdminAny},
		CanWrite:    true,
	}, nil
}

// classifyOpaque handles one-dot bearers: "<id>.<secret>", trying
// org-admin first and then team, per TEAM_AUTH_MODE/ADMIN_AUTH_MODE.
func (c *Classifier) classifyOpaque(ctx context.Context, bearer string) (*Principal, error) {
	tokenID, secret, ok := splitOpaque(bearer)
	if !ok {
		return nil, apperr.New(apperr.InvalidToken, "malformed opaque token")
	}

	q := db.New(c.pool)

	if c.cfg.AdminAuthMode != "oidc" {
		if row, err := q.GetOrgAdminTokenByID(ctx, tokenID); err == nil {
			if crypto.VerifyToken(secret, row.TokenHash, c.pepper) {
				orgID := row.OrgID
				return &Principal{
					Role:        RoleAdmin,
					AuthKind:    AuthKindOrgAdmin,
					OrgID:       &orgID,
					Permissions: []string{PermAdminProvision, PermAdminProvisionRead, PermAdminAgentRun, PermTeamRead, PermTeamWrite},
					CanWrite:    true,
				}, nil
			}
		} else if !errors.Is(err, db.ErrNotFound) {
			c.logger.Error("looking up org admin token", "error", err)
		}
	}

	if c.cfg.TeamAuthMode != "oidc" {
		row, err := q.GetTeamTokenByID(ctx, tokenID)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, apperr.New(apperr.InvalidToken, "invalid token")
			}
			return nil, fmt.Errorf("looking up team token: %w", err)
		}
		if !crypto.VerifyToken(secret, row.TokenHash, c.pepper) {
			return nil, apperr.New(apperr.InvalidToken, "invalid token")
		}
		orgID, teamNodeID := row.OrgID, row.TeamNodeID
		go c.touchTeamToken(tokenID)
		return &Principal{
			Role:        RoleTeam,
			AuthKind:    AuthKindTeamToken,
			OrgID:       &orgID,
			TeamNodeID:  &teamNodeID,
			Permissions: []string{PermTeamRead, PermTeamWrite, PermAgentInvoke},
			CanWrite:    true,
		}, nil
	}

	return nil, apperr.New(apperr.InvalidToken, "invalid token")
}

func (c *Classifier) touchTeamToken(tokenID string) {
	q := db.New(c.pool)
	if err := q.TouchTeamTokenLastUsed(context.Background(), tokenID); err != nil {
		c.logger.Warn("touching team token last_used_at", "error", err)
	}
}

// classifyJWT handles two-or-more-dot bearers: first our own impersonation
// JWT (agent-runtime audience), then an OIDC ID token, admin or team
// depending on group membership (§4.C5).
func (c *Classifier) classifyJWT(ctx context.Context, bearer string) (*Principal, error) {
	if claims, err := c.impSig.VerifyImpersonation(bearer, c.cfg.ImpersonationJWTAudience); err == nil {
		if c.cfg.ImpersonationJTIDBRequire {
			q := db.New(c.pool)
			if _, err := q.GetImpersonationJTI(ctx, claims.ID); err != nil {
				return nil, apperr.New(apperr.JTINotAllowlisted, "impersonation jti not allowlisted")
			}
		}
		orgID, err := uuid.Parse(claims.OrgID)
		if err != nil {
			return nil, apperr.New(apperr.InvalidToken, "malformed org_id claim")
		}
		teamNodeID, err := uuid.Parse(claims.TeamNodeID)
		if err != nil {
			return nil, apperr.New(apperr.InvalidToken, "malformed team_node_id claim")
		}
		return &Principal{
			Role:        RoleTeam,
			AuthKind:    AuthKindImpersonation,
			OrgID:       &orgID,
			TeamNodeID:  &teamNodeID,
			Subject:     claims.Subject,
			Permissions: []string{PermTeamRead, PermAgentInvoke}, // read-only: impersonation never grants team:write (E4)
			CanWrite:    false,
		}, nil
	}

	if c.oidc == nil {
		return nil, apperr.New(apperr.InvalidToken, "OIDC not configured")
	}

	identity, err := c.oidc.Verify(ctx, bearer)
	if err != nil {
		return nil, apperr.New(apperr.InvalidToken, err.Error())
	}

	if c.cfg.AdminAuthMode != "token" && containsGroup(identity.Groups, c.cfg.OIDCAdminGroup) {
		return &Principal{
			Role:        RoleAdmin,
			AuthKind:    AuthKindOIDC,
			Subject:     identity.Subject,
			Email:       identity.Email,
			Permissions: []string{PermAdminAny},
			CanWrite:    true,
		}, nil
	}

	if c.cfg.TeamAuthMode == "token" {
		return nil, apperr.New(apperr.InvalidToken, "team OIDC auth disabled")
	}
	if identity.OrgID == "" || identity.TeamNodeID == "" {
		return nil, apperr.New(apperr.InvalidToken, "OIDC token missing org/team claims")
	}
	orgID, err := uuid.Parse(identity.OrgID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidToken, "malformed org claim")
	}
	teamNodeID, err := uuid.Parse(identity.TeamNodeID)
	if err != nil {
		return nil, apperr.New(apperr.InvalidToken, "malformed team claim")
	}

	perms := []string{PermTeamRead, PermAgentInvoke}
	if c.cfg.TeamOIDCWriteEnabled {
		perms = append(perms, PermTeamWrite)
	}
	return &Principal{
		Role:        RoleTeam,
		AuthKind:    AuthKindOIDC,
		OrgID:       &orgID,
		TeamNodeID:  &teamNodeID,
		Subject:     identity.Subject,
		Email:       identity.Email,
		Permissions: perms,
		CanWrite:    c.cfg.TeamOIDCWriteEnabled,
	}, nil
}

// splitOpaque splits "<token_id>.<secret>" into its two halves.
func splitOpaque(bearer string) (id, secret string, ok bool) {
	idx := strings.IndexByte(bearer, '.')
	if idx <= 0 || idx == len(bearer)-1 {
		return "", "", false
	}
	return bearer[:idx], bearer[idx+1:], true
}

func containsGroup(groups []string, want string) bool {
	for _, g := range groups {
		if g == want {
			return true
		}
	}
	return false
}
