package webhook

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/pmco23/incidentfox-sub007/internal/config"
)

// newTestHandler builds a Handler with every DB-backed collaborator left
// nil. Every test here exercises a signature-failure path, which returns
// before the handler ever reaches the resolver or idempotency store.
func newTestHandler(cfg *config.Config) (*Handler, chi.Router) {
	h := NewHandler(cfg, nil, nil, nil, slog.Default())
	r := chi.NewRouter()
	h.Mount(r)
	return h, r
}

func TestSlackWebhook_MissingSigningSecret(t *testing.T) {
	_, r := newTestHandler(&config.Config{})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack/events", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnauthorized, w.Body.String())
	}
}

func TestSlackWebhook_BadSignature(t *testing.T) {
	_, r := newTestHandler(&config.Config{WebhookSlackSigningSecret: "shh"})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/slack/events", strings.NewReader(`{}`))
	req.Header.Set("X-Slack-Request-Timestamp", "1700000000")
	req.Header.Set("X-Slack-Signature", "v0=deadbeef")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnauthorized, w.Body.String())
	}
}

func TestGitHubWebhook_MissingSignatureHeader(t *testing.T) {
	_, r := newTestHandler(&config.Config{WebhookGitHubSecret: "shh"})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnauthorized, w.Body.String())
	}
}

func TestRecallWebhook_BearerMismatch(t *testing.T) {
	_, r := newTestHandler(&config.Config{WebhookRecallToken: "expected"})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/recall", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d; body = %s", w.Code, http.StatusUnauthorized, w.Body.String())
	}
}

func TestBearerFromRequest(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"bearer token", "Bearer abc123", "abc123"},
		{"no header", "", ""},
		{"non-bearer scheme", "Basic abc123", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if got := bearerFromRequest(req); got != tt.want {
				t.Errorf("bearerFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
