package nodeconfig

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmco23/incidentfox-sub007/internal/crypto"
	"github.com/pmco23/incidentfox-sub007/internal/db"
)

// Service ties the node Store, EffectiveService, integration Registry, and
// token/JWT minting together for the admin HTTP surface (§4.C2–C5).
type Service struct {
	Store     *Store
	Effective *EffectiveService
	Registry  *Registry
	pool      *pgxpool.Pool
	pepper    string
	impSig    *crypto.JWTSigner
	impTTL    time.Duration
	impAud    string
	jtiLog    bool
}

// NewService builds a Service.
func NewService(store *Store, effective *EffectiveService, registry *Registry, pool *pgxpool.Pool, pepper string, impSig *crypto.JWTSigner, impTTL time.Duration, impAud string, jtiLog bool) *Service {
	return &Service{
		Store:     store,
		Effective: effective,
		Registry:  registry,
		pool:      pool,
		pepper:    pepper,
		impSig:    impSig,
		impTTL:    impTTL,
		impAud:    impAud,
		jtiLog:    jtiLog,
	}
}

// IssueTeamToken mints a new opaque "<id>.<secret>" bearer for teamNodeID
// and persists the pepper-hashed digest.
func (s *Service) IssueTeamToken(ctx context.Context, orgID, teamNodeID uuid.UUID) (string, error) {
	tokenID := uuid.New().String()
	secret, err := randomSecret()
	if err != nil {
		return "", err
	}

	q := db.New(s.pool)
	if _, err := q.CreateTeamToken(ctx, db.CreateTeamTokenParams{
		OrgID:      orgID,
		TeamNodeID: teamNodeID,
		TokenID:    tokenID,
		TokenHash:  crypto.HashToken(secret, s.pepper),
	}); err != nil {
		return "", fmt.Errorf("creating team token: %w", err)
	}

	return tokenID + "." + secret, nil
}

// IssueOrgAdminToken mints a new opaque org-admin bearer.
func (s *Service) IssueOrgAdminToken(ctx context.Context, orgID uuid.UUID) (string, error) {
	tokenID := uuid.New().String()
	secret, err := randomSecret()
	if err != nil {
		return "", err
	}

	q := db.New(s.pool)
	if _, err := q.CreateOrgAdminToken(ctx, db.CreateOrgAdminTokenParams{
		OrgID:     orgID,
		TokenID:   tokenID,
		TokenHash: crypto.HashToken(secret, s.pepper),
	}); err != nil {
		return "", fmt.Errorf("creating org admin token: %w", err)
	}

	return tokenID + "." + secret, nil
}

// MintImpersonationToken mints a JWT scoped to (orgID, teamNodeID), issued
// "by" adminSubject, for the agent-runtime audience (§4.C1 wire format).
func (s *Service) MintImpersonationToken(ctx context.Context, orgID, teamNodeID uuid.UUID, adminSubject string) (string, error) {
	jti := uuid.New().String()
	token, err := s.impSig.MintImpersonation("config-service", s.impAud, adminSubject, orgID.String(), teamNodeID.String(), jti, s.impTTL)
	if err != nil {
		return "", fmt.Errorf("minting impersonation token: %w", err)
	}

	if s.jtiLog {
		q := db.New(s.pool)
		if err := q.CreateImpersonationJTI(ctx, db.CreateImpersonationJTIParams{
			JTI:        jti,
			OrgID:      orgID,
			TeamNodeID: teamNodeID,
			ExpiresAt:  time.Now().Add(s.impTTL),
		}); err != nil {
			return "", fmt.Errorf("logging impersonation jti: %w", err)
		}
	}

	return token, nil
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
