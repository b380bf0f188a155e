package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pmco23/incidentfox-sub007/internal/db"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoller_DispatchJobHappyPath(t *testing.T) {
	var impersonateCalls, runCalls int32
	var completeBody map[string]string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/internal/impersonate-team", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&impersonateCalls, 1)
		json.NewEncoder(w).Encode(map[string]string{"token": "imp-token"})
	})
	mux.HandleFunc("/api/v1/admin/agents/run", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&runCalls, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer imp-token" {
			t.Errorf("Authorization = %q, want Bearer imp-token", got)
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/internal/scheduled-jobs/", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&completeBody)
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPoller(srv.URL, time.Minute, testLogger())
	job := db.ScheduledJob{
		ID:         uuid.New(),
		OrgID:      uuid.New(),
		TeamNodeID: uuid.New(),
		JobType:    "daily-standup",
		Config:     json.RawMessage(`{}`),
	}

	p.dispatchJob(context.Background(), job)

	if atomic.LoadInt32(&impersonateCalls) != 1 {
		t.Errorf("impersonateCalls = %d, want 1", impersonateCalls)
	}
	if atomic.LoadInt32(&runCalls) != 1 {
		t.Errorf("runCalls = %d, want 1", runCalls)
	}
	if completeBody["status"] != "success" {
		t.Errorf("complete status = %q, want success", completeBody["status"])
	}
}

func TestPoller_DispatchJobReportsFailureButStillCompletes(t *testing.T) {
	var completeBody map[string]string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/internal/impersonate-team", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"token": "imp-token"})
	})
	mux.HandleFunc("/api/v1/admin/agents/run", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("agent exploded"))
	})
	mux.HandleFunc("/api/v1/internal/scheduled-jobs/", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&completeBody)
		w.WriteHeader(http.StatusOK)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPoller(srv.URL, time.Minute, testLogger())
	job := db.ScheduledJob{ID: uuid.New(), OrgID: uuid.New(), TeamNodeID: uuid.New(), JobType: "x", Config: json.RawMessage(`{}`)}

	p.dispatchJob(context.Background(), job)

	if completeBody["status"] != "error" {
		t.Errorf("complete status = %q, want error", completeBody["status"])
	}
	if completeBody["error"] == "" {
		t.Error("expected a non-empty error message reported")
	}
}
