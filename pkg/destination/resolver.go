package destination

// TriggerContext is the subset of a webhook's parsed payload C6 needs to
// build a source-specific default destination. The webhook/dispatcher layer
// extracts this from the raw vendor payload so this package stays a pure
// function of already-typed inputs, not a JSON-shape-per-vendor parser.
type TriggerContext struct {
	// Source is the short vendor key used by output_config.trigger_overrides
	// and the built-in-defaults switch: "slack", "github", "pagerduty",
	// "incidentio" (§4.C6 step 2/3). Distinct from webhook.TriggerSource,
	// which is the longer routing-map source key.
	Source string

	SlackChannel  string
	SlackThreadTS string

	GitHubOwner  string
	GitHubRepo   string
	GitHubNumber int
	GitHubIsPR   bool

	IncidentID string
}

// Resolve implements C6: resolve(trigger_source, trigger_payload,
// effective_config, explicit_override) -> [Destination], in the
// deterministic priority order of §4.C6. It is a pure function: the same
// inputs always produce the same output (§8 property 9).
//
// explicitOverride being non-nil (even an empty, non-nil slice) means the
// caller passed an override and it is returned verbatim per step 1;
// explicitOverride == nil means "not provided" and resolution falls through
// to steps 2-6.
func Resolve(ctx TriggerContext, effective map[string]any, explicitOverride []Destination) []Destination {
	if explicitOverride != nil {
		return explicitOverride
	}

	outputConfig, _ := effective["output_config"].(map[string]any)

	if dest, ok := resolveTriggerOverride(ctx, outputConfig); ok {
		return dest
	}

	if dest, ok := builtinDefault(ctx, effective); ok {
		return dest
	}

	if dests, ok := resolveDefaultDestinations(outputConfig, ctx); ok {
		return dests
	}

	if dest, ok := resolveLegacySlackChannel(effective, ctx); ok {
		return dest
	}

	return nil
}

// resolveTriggerOverride implements step 2: output_config.trigger_overrides
// [trigger_source] controls per-source behavior.
func resolveTriggerOverride(ctx TriggerContext, outputConfig map[string]any) ([]Destination, bool) {
	if outputConfig == nil {
		return nil, false
	}
	overrides, _ := outputConfig["trigger_overrides"].(map[string]any)
	if overrides == nil {
		return nil, false
	}
	raw, ok := overrides[ctx.Source]
	if !ok {
		return nil, false
	}
	override, _ := raw.(map[string]any)
	if override == nil {
		return nil, false
	}

	if useDefault, _ := override["use_default"].(bool); useDefault {
		// Falls through to step 3's built-in default for this source.
		return builtinDefault(ctx, nil)
	}

	switch ctx.Source {
	case "slack":
		if replyInThread, _ := override["reply_in_thread"].(bool); replyInThread {
			return slackReplyInThread(ctx), true
		}
	case "github":
		if commentOnPR, _ := override["comment_on_pr"].(bool); commentOnPR {
			return githubComment(ctx), true
		}
	}
	return nil, false
}

// builtinDefault implements step 3: per-source built-in defaults.
func builtinDefault(ctx TriggerContext, _ map[string]any) ([]Destination, bool) {
	switch ctx.Source {
	case "slack":
		if ctx.SlackChannel == "" {
			return nil, false
		}
		return slackReplyInThread(ctx), true
	case "github":
		if ctx.GitHubOwner == "" || ctx.GitHubRepo == "" || ctx.GitHubNumber == 0 {
			return nil, false
		}
		return githubComment(ctx), true
	case "pagerduty":
		if ctx.IncidentID == "" {
			return nil, false
		}
		return []Destination{{Kind: KindPagerDutyNote, IncidentID: ctx.IncidentID}}, true
	case "incidentio":
		if ctx.IncidentID == "" {
			return nil, false
		}
		return []Destination{{Kind: KindIncidentioTimeline, IncidentID: ctx.IncidentID}}, true
	}
	return nil, false
}

func slackReplyInThread(ctx TriggerContext) []Destination {
	return []Destination{{Kind: KindSlack, SlackChannel: ctx.SlackChannel, SlackThreadTS: ctx.SlackThreadTS}}
}

func githubComment(ctx TriggerContext) []Destination {
	kind := KindGitHubIssueComment
	if ctx.GitHubIsPR {
		kind = KindGitHubPRComment
	}
	return []Destination{{Kind: kind, GitHubOwner: ctx.GitHubOwner, GitHubRepo: ctx.GitHubRepo, GitHubNumber: ctx.GitHubNumber}}
}

// resolveDefaultDestinations implements step 4: output_config.
// default_destinations, a list of {kind, channel?, ...} descriptors.
func resolveDefaultDestinations(outputConfig map[string]any, ctx TriggerContext) ([]Destination, bool) {
	if outputConfig == nil {
		return nil, false
	}
	raw, ok := outputConfig["default_destinations"].([]any)
	if !ok || len(raw) == 0 {
		return nil, false
	}

	var dests []Destination
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kind, _ := m["kind"].(string)
		switch Kind(kind) {
		case KindSlack:
			channel, _ := m["channel"].(string)
			if channel == "" {
				channel = ctx.SlackChannel
			}
			dests = append(dests, Destination{Kind: KindSlack, SlackChannel: channel})
		case KindGitHubPRComment, KindGitHubIssueComment:
			owner, _ := m["owner"].(string)
			repo, _ := m["repo"].(string)
			number, _ := m["number"].(float64)
			if owner == "" {
				owner = ctx.GitHubOwner
			}
			if repo == "" {
				repo = ctx.GitHubRepo
			}
			dests = append(dests, Destination{Kind: Kind(kind), GitHubOwner: owner, GitHubRepo: repo, GitHubNumber: int(number)})
		case KindPagerDutyNote, KindIncidentioTimeline:
			incidentID, _ := m["incident_id"].(string)
			if incidentID == "" {
				incidentID = ctx.IncidentID
			}
			dests = append(dests, Destination{Kind: Kind(kind), IncidentID: incidentID})
		}
	}
	if len(dests) == 0 {
		return nil, false
	}
	return dests, true
}

// resolveLegacySlackChannel implements step 5: the legacy
// notifications.default_slack_channel_id field, consulted only when
// output_config.default_destinations was empty or absent (SPEC_FULL.md
// Open Question 1 decision: the new structure wins outright when both are
// non-empty).
func resolveLegacySlackChannel(effective map[string]any, ctx TriggerContext) ([]Destination, bool) {
	notifications, _ := effective["notifications"].(map[string]any)
	if notifications == nil {
		return nil, false
	}
	channel, _ := notifications["default_slack_channel_id"].(string)
	if channel == "" {
		return nil, false
	}
	return []Destination{{Kind: KindSlack, SlackChannel: channel, SlackThreadTS: ctx.SlackThreadTS}}, true
}

// WithSlackBotToken fills in bot_token for every Slack destination in dests,
// preferring the team's per-workspace token (integrations.slack.bot_token)
// over the process-wide fallback (§4.C6: "enriched with the team's
// integrations.slack.bot_token when available... otherwise a process-wide
// fallback").
func WithSlackBotToken(dests []Destination, teamBotToken, fallbackBotToken string) []Destination {
	out := make([]Destination, len(dests))
	for i, d := range dests {
		if d.Kind == KindSlack {
			d.SlackBotToken = teamBotToken
			if d.SlackBotToken == "" {
				d.SlackBotToken = fallbackBotToken
			}
		}
		out[i] = d
	}
	return out
}
