package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pmco23/incidentfox-sub007/internal/audit"
	"github.com/pmco23/incidentfox-sub007/internal/config"
	"github.com/pmco23/incidentfox-sub007/internal/telemetry"
	"github.com/pmco23/incidentfox-sub007/pkg/destination"
	"github.com/pmco23/incidentfox-sub007/pkg/fanout"
	"github.com/pmco23/incidentfox-sub007/pkg/nodeconfig"
	"github.com/pmco23/incidentfox-sub007/pkg/webhook"
)

// defaultAgentName is used when an effective config's top-level `agents`
// key names none explicitly for the triggering surface.
const defaultAgentName = "sre-agent"

// Orchestrator implements webhook.Dispatcher (§2 request-flow diagram): it
// resolves the effective config and output destinations for a trigger,
// runs the bounded agent investigation (C10), and fans the result out to
// every resolved destination (C12), auditing the whole sequence (C13).
type Orchestrator struct {
	dispatch  *Service
	effective *nodeconfig.EffectiveService
	registry  *nodeconfig.Registry
	poster    *fanout.Poster
	audit     *audit.Writer
	cfg       *config.Config
	logger    *slog.Logger
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(dispatch *Service, effective *nodeconfig.EffectiveService, registry *nodeconfig.Registry, poster *fanout.Poster, auditWriter *audit.Writer, cfg *config.Config, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{dispatch: dispatch, effective: effective, registry: registry, poster: poster, audit: auditWriter, cfg: cfg, logger: logger}
}

// Dispatch implements webhook.Dispatcher. It is invoked on a goroutine by
// the webhook handler after the HTTP response has already been written, so
// it never needs to respect the vendor's response-time budget (§5
// "heavy work is scheduled asynchronously after signature verification").
func (o *Orchestrator) Dispatch(trigger webhook.Trigger) error {
	ctx := context.Background()

	effective, err := o.effective.Resolve(ctx, trigger.OrgID, trigger.TeamNodeID)
	if err != nil {
		o.audit.Log(audit.Entry{Action: "agent.dispatch", Target: "trigger:" + trigger.RoutingKey, Outcome: "error", OrgID: &trigger.OrgID, TeamNodeID: &trigger.TeamNodeID})
		return fmt.Errorf("resolving effective config: %w", err)
	}

	agentName := resolveAgentName(effective, trigger.Source)
	triggerCtx := triggerContext(trigger)

	dests := destination.Resolve(triggerCtx, effective, nil)
	dests = o.enrichSlack(effective, dests)

	result, runErr := o.dispatch.RunAgent(ctx, trigger.OrgID, trigger.TeamNodeID, RunParams{
		AgentName:     agentName,
		Message:       string(trigger.Payload),
		TriggerSource: string(trigger.Source),
		MaxTurns:      defaultMaxTurns(effective),
	}, nil)

	outcome := "success"
	if runErr != nil {
		outcome = "error"
	}
	o.audit.Log(audit.Entry{Action: "agent.dispatch", Target: "agent:" + agentName, Outcome: outcome, OrgID: &trigger.OrgID, TeamNodeID: &trigger.TeamNodeID})

	if runErr != nil {
		o.logger.Error("agent run failed", "error", runErr, "org_id", trigger.OrgID, "team_node_id", trigger.TeamNodeID, "agent", agentName)
		if len(dests) == 0 {
			return runErr
		}
		// Still fan out a failure notice so the team isn't left without
		// any signal the trigger was received.
		result = &Result{Success: false, ResultText: "Agent run failed: " + runErr.Error()}
	}

	if len(dests) == 0 {
		return runErr
	}

	creds := o.resolveFanoutCredentials(effective)
	content := fanout.Content{RunID: result.RunID.String(), Summary: result.ResultText}
	results := o.poster.PostAll(ctx, dests, content, creds)
	for _, r := range results {
		telemetry.FanoutPostsTotal.WithLabelValues(string(r.Destination.Kind), r.Outcome).Inc()
		detail, _ := json.Marshal(r)
		o.audit.Log(audit.Entry{Action: "fanout.post", Target: string(r.Destination.Kind), Outcome: r.Outcome, Detail: detail, OrgID: &trigger.OrgID, TeamNodeID: &trigger.TeamNodeID})
	}

	return runErr
}

func resolveAgentName(effective map[string]any, source webhook.TriggerSource) string {
	agents, _ := effective["agents"].(map[string]any)
	if agents == nil {
		return defaultAgentName
	}
	if name, ok := agents[string(source)].(string); ok && name != "" {
		return name
	}
	if name, ok := agents["default"].(string); ok && name != "" {
		return name
	}
	return defaultAgentName
}

func defaultMaxTurns(effective map[string]any) int32 {
	agents, _ := effective["agents"].(map[string]any)
	if agents != nil {
		if mt, ok := agents["max_turns"].(float64); ok && mt > 0 {
			return int32(mt)
		}
	}
	return 30
}

func triggerContext(trigger webhook.Trigger) destination.TriggerContext {
	var payload map[string]any
	_ = json.Unmarshal(trigger.Payload, &payload)

	switch trigger.Source {
	case webhook.SourceSlack:
		return destination.TriggerContext{Source: "slack", SlackChannel: trigger.RoutingKey}
	case webhook.SourceGitHub:
		return destination.TriggerContext{Source: "github", GitHubRepo: trigger.RoutingKey}
	case webhook.SourcePagerDuty:
		return destination.TriggerContext{Source: "pagerduty", IncidentID: stringField(payload, "incident_id")}
	case webhook.SourceIncidentio:
		return destination.TriggerContext{Source: "incidentio", IncidentID: stringField(payload, "incident_id")}
	default:
		return destination.TriggerContext{Source: string(trigger.Source)}
	}
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func (o *Orchestrator) enrichSlack(effective map[string]any, dests []destination.Destination) []destination.Destination {
	teamBotToken := ""
	if block, ok, err := o.registry.GetIntegrationConfig(effective, "slack"); err == nil && ok {
		teamBotToken, _ = block["bot_token"].(string)
	}
	return destination.WithSlackBotToken(dests, teamBotToken, o.cfg.SlackBotToken)
}

func (o *Orchestrator) resolveFanoutCredentials(effective map[string]any) fanout.Credentials {
	var creds fanout.Credentials
	if block, ok, err := o.registry.GetIntegrationConfig(effective, "github"); err == nil && ok {
		creds.GitHubToken, _ = block["token"].(string)
	}
	if block, ok, err := o.registry.GetIntegrationConfig(effective, "pagerduty"); err == nil && ok {
		creds.PagerDutyToken, _ = block["api_key"].(string)
	}
	if block, ok, err := o.registry.GetIntegrationConfig(effective, "incidentio"); err == nil && ok {
		creds.IncidentioToken, _ = block["api_key"].(string)
	}
	return creds
}
