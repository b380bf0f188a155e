package fanout

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/pmco23/incidentfox-sub007/pkg/destination"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPostAll_MissingCredentialsProduceErrorResultsNotPanics(t *testing.T) {
	p := NewPoster(testLogger())
	dests := []destination.Destination{
		{Kind: destination.KindSlack, SlackChannel: "C1"},
		{Kind: destination.KindGitHubIssueComment, GitHubOwner: "acme", GitHubRepo: "widgets", GitHubNumber: 1},
		{Kind: destination.KindPagerDutyNote, IncidentID: "PINC1"},
		{Kind: destination.KindIncidentioTimeline, IncidentID: "INC1"},
	}

	results := p.PostAll(context.Background(), dests, Content{RunID: "run-1", Summary: "did a thing"}, Credentials{})
	if len(results) != len(dests) {
		t.Fatalf("got %d results, want %d", len(results), len(dests))
	}
	for _, r := range results {
		if r.Outcome != "error" {
			t.Errorf("destination %s: outcome = %q, want error (no credentials resolved)", r.Destination.Kind, r.Outcome)
		}
	}
}

func TestPostAll_OneFailureDoesNotBlockOthers(t *testing.T) {
	p := NewPoster(testLogger())
	dests := []destination.Destination{
		{Kind: destination.KindPagerDutyNote, IncidentID: "PINC1"},   // will fail: no token
		{Kind: destination.KindIncidentioTimeline, IncidentID: "INC1"}, // will fail: no token
	}
	results := p.PostAll(context.Background(), dests, Content{RunID: "run-1"}, Credentials{})
	if len(results) != 2 {
		t.Fatalf("expected both destinations to produce a result, got %d", len(results))
	}
}

func TestRenderMarkdownTable(t *testing.T) {
	rows := [][]string{
		{"metric", "value"},
		{"p99_latency_ms", "420"},
	}
	got := renderMarkdownTable(rows)
	want := "| metric | value |\n| --- | --- |\n| p99_latency_ms | 420 |\n"
	if got != want {
		t.Errorf("renderMarkdownTable() = %q, want %q", got, want)
	}
}

func TestExtractRunID(t *testing.T) {
	body := "Agent finished.\n\n<!-- incidentfox:run_id=abc-123 -->"
	if got := extractRunID(body); got != "abc-123" {
		t.Errorf("extractRunID() = %q, want abc-123", got)
	}
}

func TestExtractRunID_NoMarker(t *testing.T) {
	if got := extractRunID("no marker here"); got != "" {
		t.Errorf("extractRunID() = %q, want empty string", got)
	}
}

func TestSlackBlocks_OnlyFirstTableIsNative(t *testing.T) {
	content := Content{
		Summary: "summary",
		Tables: [][][]string{
			{{"a"}, {"1"}},
			{{"b"}, {"2"}},
		},
	}
	blocks := slackBlocks(content)
	// summary block + one block per table = 3 blocks (no detail URL here).
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
}
