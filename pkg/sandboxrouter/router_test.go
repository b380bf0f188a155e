package sandboxrouter

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProxy_MissingSandboxIDReturnsBadRequest(t *testing.T) {
	rt := NewRouter(testLogger())
	r := chi.NewRouter()
	rt.Mount(r)

	req := httptest.NewRequest(http.MethodGet, "/some/path", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestIsHopByHop(t *testing.T) {
	cases := map[string]bool{
		"Connection":    true,
		"Keep-Alive":    true,
		"Content-Type":  false,
		"Authorization": false,
		"Upgrade":       true,
	}
	for name, want := range cases {
		if got := isHopByHop(name); got != want {
			t.Errorf("isHopByHop(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestCopyHeaders_DropsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Set("Connection", "keep-alive")
	src.Set("X-Sandbox-ID", "abc")

	dst := http.Header{}
	copyHeaders(dst, src)

	if dst.Get("Connection") != "" {
		t.Error("Connection header should have been dropped")
	}
	if dst.Get("X-Sandbox-ID") != "abc" {
		t.Error("X-Sandbox-ID header should have been copied")
	}
}
