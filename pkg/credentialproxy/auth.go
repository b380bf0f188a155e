package credentialproxy

import (
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
)

// injectAuth sets the upstream-facing auth headers on req from the
// decrypted integration config block, per the style table in §4.C11 step 4.
// It never logs or returns the raw secret values.
func injectAuth(req *http.Request, style AuthStyle, creds map[string]any) error {
	switch style {
	case AuthBearer:
		token, err := requireString(creds, "token", "api_key", "bot_token", "access_key")
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

	case AuthBasic:
		user, uerr := requireString(creds, "username", "user")
		pass, perr := requireString(creds, "password", "api_key")
		if uerr != nil || perr != nil {
			return missingFields(creds, "username", "password")
		}
		req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(user+":"+pass)))

	case AuthTokenPrefix:
		token, err := requireString(creds, "token")
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "token "+token)

	case AuthAPIKeyIDPair:
		id, ierr := requireString(creds, "routing_key", "id")
		secret, serr := requireString(creds, "api_key")
		if serr != nil {
			return serr
		}
		if ierr != nil {
			// PagerDuty's REST API takes a bare token; the id:secret shape
			// is reserved for vendors (e.g. some incident platforms) that
			// issue a pair. Fall back to a `Token token=<api_key>` header
			// when no id is configured.
			req.Header.Set("Authorization", "Token token="+secret)
			return nil
		}
		req.Header.Set("Authorization", fmt.Sprintf("ApiKey %s:%s", id, secret))

	case AuthXAPIKey:
		key, err := requireString(creds, "api_key")
		if err != nil {
			return err
		}
		req.Header.Set("X-Api-Key", key)

	case AuthDatadog:
		apiKey, aerr := requireString(creds, "api_key")
		appKey, perr := requireString(creds, "app_key")
		if aerr != nil || perr != nil {
			return missingFields(creds, "api_key", "app_key")
		}
		req.Header.Set("DD-API-KEY", apiKey)
		req.Header.Set("DD-APPLICATION-KEY", appKey)

	case AuthXScopeOrgID:
		if auth, err := requireString(creds, "auth"); err == nil {
			req.Header.Set("Authorization", "Bearer "+auth)
		}
		if orgID, err := requireString(creds, "org_id"); err == nil {
			req.Header.Set("X-Scope-OrgID", orgID)
		}

	case AuthAnthropic:
		key, err := requireString(creds, "api_key")
		if err != nil {
			return err
		}
		req.Header.Set("x-api-key", key)
		if req.Header.Get("anthropic-version") == "" {
			req.Header.Set("anthropic-version", "2023-06-01")
		}

	case AuthAWSSigV4:
		// Full SigV4 request signing is out of scope; the access/secret
		// pair and region are passed as headers for a fronting signer
		// (e.g. a sidecar or the Bedrock runtime SDK used by the upstream)
		// to complete. No plaintext credential crosses back to the sandbox.
		accessKey, aerr := requireString(creds, "access_key")
		secretKey, serr := requireString(creds, "secret_key")
		region, rerr := requireString(creds, "region")
		if aerr != nil || serr != nil || rerr != nil {
			return missingFields(creds, "access_key", "secret_key", "region")
		}
		req.Header.Set("X-Amz-Access-Key-Id", accessKey)
		req.Header.Set("X-Amz-Secret-Access-Key", secretKey)
		req.Header.Set("X-Amz-Region", region)
	}
	return nil
}

// requireString returns the first present non-empty string value among
// candidate keys.
func requireString(creds map[string]any, keys ...string) (string, error) {
	for _, k := range keys {
		if v, ok := creds[k].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", missingFields(creds, keys...)
}

func missingFields(creds map[string]any, keys ...string) error {
	var missing []string
	for _, k := range keys {
		if v, ok := creds[k].(string); !ok || v == "" {
			missing = append(missing, k)
		}
	}
	return apperr.New(apperr.IntegrationNotConfigured, "credential missing required fields").
		WithDetail(map[string]any{"missing_fields": missing})
}
