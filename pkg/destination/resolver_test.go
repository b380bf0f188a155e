package destination

import "testing"

func TestResolve_ExplicitOverrideWinsOutright(t *testing.T) {
	override := []Destination{{Kind: KindSlack, SlackChannel: "C_OVERRIDE"}}
	effective := map[string]any{"notifications": map[string]any{"default_slack_channel_id": "C_LEGACY"}}

	got := Resolve(TriggerContext{Source: "slack", SlackChannel: "C_TRIGGER"}, effective, override)
	if len(got) != 1 || got[0].SlackChannel != "C_OVERRIDE" {
		t.Fatalf("Resolve() = %#v, want explicit override verbatim", got)
	}
}

func TestResolve_EmptyNonNilOverrideIsStillAnOverride(t *testing.T) {
	got := Resolve(TriggerContext{Source: "slack", SlackChannel: "C1"}, nil, []Destination{})
	if got == nil || len(got) != 0 {
		t.Fatalf("Resolve() = %#v, want empty non-nil slice returned verbatim", got)
	}
}

func TestResolve_TriggerOverrideReplyInThread(t *testing.T) {
	effective := map[string]any{
		"output_config": map[string]any{
			"trigger_overrides": map[string]any{
				"slack": map[string]any{"reply_in_thread": true},
			},
		},
	}
	got := Resolve(TriggerContext{Source: "slack", SlackChannel: "C1", SlackThreadTS: "1700.01"}, effective, nil)
	if len(got) != 1 || got[0].Kind != KindSlack || got[0].SlackThreadTS != "1700.01" {
		t.Fatalf("Resolve() = %#v, want slack reply-in-thread destination", got)
	}
}

func TestResolve_TriggerOverrideCommentOnPR(t *testing.T) {
	effective := map[string]any{
		"output_config": map[string]any{
			"trigger_overrides": map[string]any{
				"github": map[string]any{"comment_on_pr": true},
			},
		},
	}
	ctx := TriggerContext{Source: "github", GitHubOwner: "acme", GitHubRepo: "widgets", GitHubNumber: 42, GitHubIsPR: true}
	got := Resolve(ctx, effective, nil)
	if len(got) != 1 || got[0].Kind != KindGitHubPRComment || got[0].GitHubNumber != 42 {
		t.Fatalf("Resolve() = %#v, want github PR comment destination", got)
	}
}

func TestResolve_BuiltinDefaultGitHubIssue(t *testing.T) {
	ctx := TriggerContext{Source: "github", GitHubOwner: "acme", GitHubRepo: "widgets", GitHubNumber: 7, GitHubIsPR: false}
	got := Resolve(ctx, nil, nil)
	if len(got) != 1 || got[0].Kind != KindGitHubIssueComment {
		t.Fatalf("Resolve() = %#v, want github issue comment destination", got)
	}
}

func TestResolve_BuiltinDefaultPagerDuty(t *testing.T) {
	got := Resolve(TriggerContext{Source: "pagerduty", IncidentID: "PINC1"}, nil, nil)
	if len(got) != 1 || got[0].Kind != KindPagerDutyNote || got[0].IncidentID != "PINC1" {
		t.Fatalf("Resolve() = %#v, want pagerduty note destination", got)
	}
}

func TestResolve_DefaultDestinationsWinsOverLegacy(t *testing.T) {
	effective := map[string]any{
		"output_config": map[string]any{
			"default_destinations": []any{
				map[string]any{"kind": "slack", "channel": "C_NEW"},
			},
		},
		"notifications": map[string]any{"default_slack_channel_id": "C_LEGACY"},
	}
	// A source with no built-in-default match (no channel/repo/incident in
	// the trigger context) falls through past step 3 to step 4.
	got := Resolve(TriggerContext{Source: "vercel_logs"}, effective, nil)
	if len(got) != 1 || got[0].SlackChannel != "C_NEW" {
		t.Fatalf("Resolve() = %#v, want default_destinations to win over legacy field", got)
	}
}

func TestResolve_LegacyFallbackWhenNoNewConfig(t *testing.T) {
	effective := map[string]any{"notifications": map[string]any{"default_slack_channel_id": "C_LEGACY"}}
	got := Resolve(TriggerContext{Source: "vercel_logs"}, effective, nil)
	if len(got) != 1 || got[0].SlackChannel != "C_LEGACY" {
		t.Fatalf("Resolve() = %#v, want legacy slack channel fallback", got)
	}
}

func TestResolve_EmptyWhenNothingConfigured(t *testing.T) {
	got := Resolve(TriggerContext{Source: "vercel_logs"}, nil, nil)
	if len(got) != 0 {
		t.Fatalf("Resolve() = %#v, want empty (silent) result", got)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	effective := map[string]any{"notifications": map[string]any{"default_slack_channel_id": "C1"}}
	ctx := TriggerContext{Source: "slack", SlackChannel: "C1"}
	got1 := Resolve(ctx, effective, nil)
	got2 := Resolve(ctx, effective, nil)
	if len(got1) != len(got2) || got1[0] != got2[0] {
		t.Fatalf("Resolve() not deterministic: %#v vs %#v", got1, got2)
	}
}

func TestWithSlackBotToken_PrefersTeamToken(t *testing.T) {
	dests := []Destination{{Kind: KindSlack, SlackChannel: "C1"}}
	got := WithSlackBotToken(dests, "team-tok", "fallback-tok")
	if got[0].SlackBotToken != "team-tok" {
		t.Fatalf("SlackBotToken = %q, want team token to win", got[0].SlackBotToken)
	}
}

func TestWithSlackBotToken_FallsBackWhenTeamTokenEmpty(t *testing.T) {
	dests := []Destination{{Kind: KindSlack, SlackChannel: "C1"}}
	got := WithSlackBotToken(dests, "", "fallback-tok")
	if got[0].SlackBotToken != "fallback-tok" {
		t.Fatalf("SlackBotToken = %q, want fallback token", got[0].SlackBotToken)
	}
}
