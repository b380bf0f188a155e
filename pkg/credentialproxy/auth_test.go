package credentialproxy

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
)

func TestInjectAuth_Bearer(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if err := injectAuth(req, AuthBearer, map[string]any{"token": "abc123"}); err != nil {
		t.Fatalf("injectAuth: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Bearer abc123" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer abc123")
	}
}

func TestInjectAuth_Basic(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if err := injectAuth(req, AuthBasic, map[string]any{"username": "bot", "password": "secret"}); err != nil {
		t.Fatalf("injectAuth: %v", err)
	}
	user, pass, ok := req.BasicAuth()
	if !ok || user != "bot" || pass != "secret" {
		t.Errorf("BasicAuth() = (%q, %q, %v), want (bot, secret, true)", user, pass, ok)
	}
}

func TestInjectAuth_Datadog(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if err := injectAuth(req, AuthDatadog, map[string]any{"api_key": "a", "app_key": "b"}); err != nil {
		t.Fatalf("injectAuth: %v", err)
	}
	if req.Header.Get("DD-API-KEY") != "a" || req.Header.Get("DD-APPLICATION-KEY") != "b" {
		t.Errorf("datadog headers not set correctly: %v", req.Header)
	}
}

func TestInjectAuth_PagerDutyFallsBackToBareToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	if err := injectAuth(req, AuthAPIKeyIDPair, map[string]any{"api_key": "tok"}); err != nil {
		t.Fatalf("injectAuth: %v", err)
	}
	if got := req.Header.Get("Authorization"); got != "Token token=tok" {
		t.Errorf("Authorization = %q, want bare PagerDuty token form", got)
	}
}

func TestInjectAuth_MissingFieldsReturnsIntegrationNotConfigured(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.invalid/", nil)
	err := injectAuth(req, AuthBearer, map[string]any{})
	if err == nil {
		t.Fatal("expected error for missing credential fields")
	}
	appErr, ok := apperr.As(err)
	if !ok {
		t.Fatalf("expected apperr.Error, got %T: %v", err, err)
	}
	if appErr.Kind != apperr.IntegrationNotConfigured {
		t.Errorf("Kind = %v, want IntegrationNotConfigured", appErr.Kind)
	}
}
