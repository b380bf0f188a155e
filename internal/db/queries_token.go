package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateTeamTokenParams are the arguments to CreateTeamToken.
type CreateTeamTokenParams struct {
	OrgID      uuid.UUID
	TeamNodeID uuid.UUID
	TokenID    string
	TokenHash  string
}

// CreateTeamToken inserts a freshly-minted team token row.
func (q *Queries) CreateTeamToken(ctx context.Context, arg CreateTeamTokenParams) (TeamToken, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO team_tokens (org_id, team_node_id, token_id, token_hash, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING org_id, team_node_id, token_id, token_hash, created_at, last_used_at
	`, arg.OrgID, arg.TeamNodeID, arg.TokenID, arg.TokenHash)

	var t TeamToken
	if err := row.Scan(&t.OrgID, &t.TeamNodeID, &t.TokenID, &t.TokenHash, &t.CreatedAt, &t.LastUsedAt); err != nil {
		return TeamToken{}, fmt.Errorf("creating team token: %w", err)
	}
	return t, nil
}

// GetTeamTokenByID looks up a team token by its public token_id half.
func (q *Queries) GetTeamTokenByID(ctx context.Context, tokenID string) (TeamToken, error) {
	row := q.db.QueryRow(ctx, `
		SELECT org_id, team_node_id, token_id, token_hash, created_at, last_used_at
		FROM team_tokens WHERE token_id = $1
	`, tokenID)

	var t TeamToken
	if err := row.Scan(&t.OrgID, &t.TeamNodeID, &t.TokenID, &t.TokenHash, &t.CreatedAt, &t.LastUsedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TeamToken{}, ErrNotFound
		}
		return TeamToken{}, fmt.Errorf("getting team token: %w", err)
	}
	return t, nil
}

// TouchTeamTokenLastUsed updates last_used_at; callers fire this
// asynchronously so it never adds latency to the request path.
func (q *Queries) TouchTeamTokenLastUsed(ctx context.Context, tokenID string) error {
	_, err := q.db.Exec(ctx, `UPDATE team_tokens SET last_used_at = now() WHERE token_id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("touching team token: %w", err)
	}
	return nil
}

// CreateOrgAdminTokenParams are the arguments to CreateOrgAdminToken.
type CreateOrgAdminTokenParams struct {
	OrgID     uuid.UUID
	TokenID   string
	TokenHash string
}

// CreateOrgAdminToken inserts a freshly-minted org-admin token row.
func (q *Queries) CreateOrgAdminToken(ctx context.Context, arg CreateOrgAdminTokenParams) (OrgAdminToken, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO org_admin_tokens (org_id, token_id, token_hash, created_at)
		VALUES ($1, $2, $3, now())
		RETURNING org_id, token_id, token_hash, created_at, last_used_at
	`, arg.OrgID, arg.TokenID, arg.TokenHash)

	var t OrgAdminToken
	if err := row.Scan(&t.OrgID, &t.TokenID, &t.TokenHash, &t.CreatedAt, &t.LastUsedAt); err != nil {
		return OrgAdminToken{}, fmt.Errorf("creating org admin token: %w", err)
	}
	return t, nil
}

// GetOrgAdminTokenByID looks up an org-admin token by its public id half.
func (q *Queries) GetOrgAdminTokenByID(ctx context.Context, tokenID string) (OrgAdminToken, error) {
	row := q.db.QueryRow(ctx, `
		SELECT org_id, token_id, token_hash, created_at, last_used_at
		FROM org_admin_tokens WHERE token_id = $1
	`, tokenID)

	var t OrgAdminToken
	if err := row.Scan(&t.OrgID, &t.TokenID, &t.TokenHash, &t.CreatedAt, &t.LastUsedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return OrgAdminToken{}, ErrNotFound
		}
		return OrgAdminToken{}, fmt.Errorf("getting org admin token: %w", err)
	}
	return t, nil
}

// CreateImpersonationJTIParams are the arguments to CreateImpersonationJTI.
type CreateImpersonationJTIParams struct {
	JTI        string
	OrgID      uuid.UUID
	TeamNodeID uuid.UUID
	ExpiresAt  time.Time
}

// CreateImpersonationJTI records an allowlisted jti when DB-allowlist mode
// is enabled (IMPERSONATION_JTI_DB_LOGGING).
func (q *Queries) CreateImpersonationJTI(ctx context.Context, arg CreateImpersonationJTIParams) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO impersonation_jtis (jti, org_id, team_node_id, created_at, expires_at)
		VALUES ($1, $2, $3, now(), $4)
	`, arg.JTI, arg.OrgID, arg.TeamNodeID, arg.ExpiresAt)
	if err != nil {
		return fmt.Errorf("recording impersonation jti: %w", err)
	}
	return nil
}

// GetImpersonationJTI looks up an allowlisted jti; callers treat "not
// found" as jti_not_allowlisted.
func (q *Queries) GetImpersonationJTI(ctx context.Context, jti string) (ImpersonationJTI, error) {
	row := q.db.QueryRow(ctx, `
		SELECT jti, org_id, team_node_id, created_at, expires_at
		FROM impersonation_jtis WHERE jti = $1
	`, jti)

	var j ImpersonationJTI
	if err := row.Scan(&j.JTI, &j.OrgID, &j.TeamNodeID, &j.CreatedAt, &j.ExpiresAt); err != nil {
		return ImpersonationJTI{}, fmt.Errorf("getting impersonation jti: %w", err)
	}
	return j, nil
}
