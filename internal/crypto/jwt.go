package crypto

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
)

// ImpersonationClaims are the claims minted for the agent-runtime audience
// (§6 "Wire — impersonation JWT").
type ImpersonationClaims struct {
	jwt.Claims
	OrgID      string `json:"org_id"`
	TeamNodeID string `json:"team_node_id"`
}

// SandboxClaims are the claims minted for the credential-proxy audience
// (§6 "Wire — sandbox JWT").
type SandboxClaims struct {
	jwt.Claims
	OrgID      string `json:"org_id"`
	TeamNodeID string `json:"team_node_id"`
	RunID      string `json:"run_id"`
}

// JWTSigner mints and verifies HS256 JWTs for one audience, keyed by a
// service-private secret (§4.C1).
type JWTSigner struct {
	signer jose.Signer
	key    []byte
}

// NewJWTSigner builds a signer over the given HMAC secret.
func NewJWTSigner(secret string) (*JWTSigner, error) {
	key := []byte(secret)
	sig, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.HS256, Key: key}, (&jose.SignerOptions{}).WithType("JWT"))
	if err != nil {
		return nil, fmt.Errorf("creating HS256 signer: %w", err)
	}
	return &JWTSigner{signer: sig, key: key}, nil
}

// MintImpersonation mints a short-lived impersonation JWT (§6, ≤10 min TTL).
func (s *JWTSigner) MintImpersonation(iss, aud, sub, orgID, teamNodeID, jti string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ImpersonationClaims{
		Claims: jwt.Claims{
			Issuer:   iss,
			Audience: jwt.Audience{aud},
			Subject:  sub,
			ID:       jti,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		},
		OrgID:      orgID,
		TeamNodeID: teamNodeID,
	}
	return jwt.Signed(s.signer).Claims(claims).Serialize()
}

// VerifyImpersonation parses and validates an impersonation JWT against the
// expected audience, returning its claims. Callers additionally consult the
// jti allowlist when DB-allowlist mode is enabled.
func (s *JWTSigner) VerifyImpersonation(token, expectedAudience string) (*ImpersonationClaims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("bad_signature: %w", err)
	}
	var claims ImpersonationClaims
	if err := parsed.Claims(s.key, &claims); err != nil {
		return nil, fmt.Errorf("bad_signature: %w", err)
	}
	if err := claims.Claims.Validate(jwt.Expected{AnyAudience: jwt.Audience{expectedAudience}}); err != nil {
		return nil, fmt.Errorf("expired: %w", err)
	}
	return &claims, nil
}

// MintSandbox mints a short-lived sandbox JWT (§6, ≤15 min TTL).
func (s *JWTSigner) MintSandbox(aud, orgID, teamNodeID, jti, runID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := SandboxClaims{
		Claims: jwt.Claims{
			Audience: jwt.Audience{aud},
			ID:       jti,
			IssuedAt: jwt.NewNumericDate(now),
			Expiry:   jwt.NewNumericDate(now.Add(ttl)),
		},
		OrgID:      orgID,
		TeamNodeID: teamNodeID,
		RunID:      runID,
	}
	return jwt.Signed(s.signer).Claims(claims).Serialize()
}

// VerifySandbox parses and validates a sandbox JWT.
func (s *JWTSigner) VerifySandbox(token, expectedAudience string) (*SandboxClaims, error) {
	parsed, err := jwt.ParseSigned(token, []jose.SignatureAlgorithm{jose.HS256})
	if err != nil {
		return nil, fmt.Errorf("bad_signature: %w", err)
	}
	var claims SandboxClaims
	if err := parsed.Claims(s.key, &claims); err != nil {
		return nil, fmt.Errorf("bad_signature: %w", err)
	}
	if err := claims.Claims.Validate(jwt.Expected{AnyAudience: jwt.Audience{expectedAudience}}); err != nil {
		return nil, fmt.Errorf("expired: %w", err)
	}
	return &claims, nil
}
