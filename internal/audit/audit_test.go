package audit

import (
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/pmco23/incidentfox-sub007/internal/auth"
)

func TestLog_DropsWhenFull(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start the background goroutine — nothing drains the channel.

	for i := 0; i < bufferSize; i++ {
		w.Log(Entry{Action: "test", Target: "test"})
	}

	// The next log should be dropped (non-blocking).
	w.Log(Entry{Action: "dropped", Target: "dropped"})

	if len(w.entries) != bufferSize {
		t.Errorf("buffer size = %d, want %d", len(w.entries), bufferSize)
	}
}

func TestLogFromRequest_ExtractsFields(t *testing.T) {
	logger := slog.Default()
	w := NewWriter(nil, logger)
	// Don't start — read from the channel directly.

	orgID := uuid.New()
	teamID := uuid.New()
	p := &auth.Principal{
		Role:    auth.RoleAdmin,
		Subject: "admin@example.com",
		OrgID:   &orgID,
		TeamNodeID: &teamID,
	}

	r := httptest.NewRequest("PUT", "/api/v1/admin/orgs/x/nodes/y/config", nil)
	r = r.WithContext(auth.WithPrincipal(r.Context(), p))

	w.LogFromRequest(r, "config.patch", "node:"+teamID.String(), "success", nil)

	entry := <-w.entries

	if entry.Action != "config.patch" {
		t.Errorf("Action = %q, want %q", entry.Action, "config.patch")
	}
	if entry.Outcome != "success" {
		t.Errorf("Outcome = %q, want %q", entry.Outcome, "success")
	}
	if entry.Actor != "admin@example.com" {
		t.Errorf("Actor = %q, want %q", entry.Actor, "admin@example.com")
	}
	if entry.OrgID == nil || *entry.OrgID != orgID {
		t.Errorf("OrgID = %v, want %v", entry.OrgID, orgID)
	}
	if entry.TeamNodeID == nil || *entry.TeamNodeID != teamID {
		t.Errorf("TeamNodeID = %v, want %v", entry.TeamNodeID, teamID)
	}
}

func TestLogFromRequest_NoPrincipal(t *testing.T) {
	w := NewWriter(nil, slog.Default())

	r := httptest.NewRequest("GET", "/", nil)
	w.LogFromRequest(r, "noop", "none", "success", nil)

	entry := <-w.entries
	if entry.Actor != "" {
		t.Errorf("Actor = %q, want empty", entry.Actor)
	}
}
