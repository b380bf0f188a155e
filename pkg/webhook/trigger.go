package webhook

import (
	"encoding/json"

	"github.com/google/uuid"
)

// TriggerSource enumerates the external surfaces C7 accepts, matching the
// routing-map `source` column values (§3).
type TriggerSource string

const (
	SourceSlack        TriggerSource = "slack_channel"
	SourceGitHub       TriggerSource = "github_repo"
	SourcePagerDuty    TriggerSource = "pagerduty_service"
	SourceIncidentio   TriggerSource = "incidentio_team"
	SourceBlameless    TriggerSource = "blameless"
	SourceFireHydrant  TriggerSource = "firehydrant"
	SourceCircleback   TriggerSource = "circleback"
	SourceVercel       TriggerSource = "vercel_logs"
	SourceRecall       TriggerSource = "recall"
	SourceGoogleChat   TriggerSource = "google_chat_space"
	SourceTeams        TriggerSource = "teams_channel"
)

// Trigger is the typed event C7 hands to the orchestrator after signature
// verification, idempotency, and tenant resolution (§4.C7 step 4).
type Trigger struct {
	Source     TriggerSource
	OrgID      uuid.UUID
	TeamNodeID uuid.UUID
	Payload    json.RawMessage
	// RoutingKey is the vendor-specific identifier (channel id, repo full
	// name, service id, ...) the event was resolved against.
	RoutingKey string
}

// Dispatcher hands a resolved Trigger to the orchestrator core (C6/C8-C10).
// Defined here rather than imported from pkg/dispatch to keep webhook
// intake free of a dependency on dispatch/provisioning internals.
type Dispatcher interface {
	Dispatch(trigger Trigger) error
}
