package webhook

import (
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
)

// teamsClaims is the subset of a Bot Framework JWT this deployment checks.
type teamsClaims struct {
	jwt.Claims
}

// VerifyTeamsBotFramework validates a Microsoft Bot Framework JWT against a
// JWKS supplied by the caller (Azure AD's public signing keys, mirrored
// locally the same way OIDC_JWKS_JSON is for admin login — see §4.C5) and
// checks the audience matches the configured app id. The webhook handler
// passes the process-wide WEBHOOK_TEAMS_JWKS_JSON value; no per-integration
// JWKS field is read.
func VerifyTeamsBotFramework(jwksJSON, appID, bearerToken string) error {
	if jwksJSON == "" {
		return apperr.New(apperr.MissingSigningSecret, "teams bot framework JWKS not configured")
	}
	if bearerToken == "" {
		return apperr.New(apperr.MissingSignatureHeader, "missing teams bearer token")
	}

	var keys jose.JSONWebKeySet
	if err := json.Unmarshal([]byte(jwksJSON), &keys); err != nil {
		return fmt.Errorf("parsing teams JWKS: %w", err)
	}

	parsed, err := jwt.ParseSigned(bearerToken, []jose.SignatureAlgorithm{jose.RS256})
	if err != nil {
		return apperr.New(apperr.InvalidSignatureFormat, "malformed teams bearer token")
	}

	var claims teamsClaims
	verified := false
	for _, k := range keys.Keys {
		if err := parsed.Claims(k, &claims); err == nil {
			verified = true
			break
		}
	}
	if !verified {
		return apperr.New(apperr.BadSignature, "teams bot framework signature mismatch")
	}

	if appID != "" && !claims.Claims.Audience.Contains(appID) {
		return apperr.New(apperr.BadSignature, "teams token audience mismatch")
	}
	if err := claims.Claims.Validate(jwt.Expected{}); err != nil {
		return apperr.New(apperr.Expired, "teams token expired or not yet valid")
	}
	return nil
}
