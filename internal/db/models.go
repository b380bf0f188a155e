package db

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// NodeKind enumerates the tenant hierarchy node kinds (§3: org, sub_team, team).
type NodeKind string

const (
	NodeKindOrg      NodeKind = "org"
	NodeKindSubTeam  NodeKind = "sub_team"
	NodeKindTeam     NodeKind = "team"
)

// OrgNode is a row of org_nodes.
type OrgNode struct {
	OrgID    uuid.UUID
	NodeID   uuid.UUID
	ParentID *uuid.UUID
	Kind     NodeKind
	Name     string
	Depth    int32
	CreatedAt time.Time
}

// NodeConfig is the current row of node_configurations for one node.
type NodeConfig struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	NodeID     uuid.UUID
	ConfigJSON json.RawMessage
	Version    int32
	UpdatedAt  time.Time
	UpdatedBy  string
}

// NodeConfigHistory is a prior version of a NodeConfig, retained for audit.
type NodeConfigHistory struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	NodeID     uuid.UUID
	ConfigJSON json.RawMessage
	Version    int32
	RecordedAt time.Time
	RecordedBy string
}

// IntegrationFieldType enumerates integration schema field kinds.
type IntegrationFieldType string

const (
	FieldString   IntegrationFieldType = "string"
	FieldInteger  IntegrationFieldType = "integer"
	FieldSecret   IntegrationFieldType = "secret"
	FieldReadonly IntegrationFieldType = "readonly"
)

// IntegrationField describes one configurable field of an integration.
type IntegrationField struct {
	Name     string               `json:"name"`
	Type     IntegrationFieldType `json:"type"`
	Required bool                 `json:"required"`
	Level    string               `json:"level"` // "org" | "team"
	Default  any                  `json:"default,omitempty"`
}

// IntegrationSchema is a row of integration_schemas.
type IntegrationSchema struct {
	ID       string
	Name     string
	Category string
	Fields   []IntegrationField
}

// TeamToken is a row of team_tokens.
type TeamToken struct {
	OrgID      uuid.UUID
	TeamNodeID uuid.UUID
	TokenID    string
	TokenHash  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// OrgAdminToken is a row of org_admin_tokens.
type OrgAdminToken struct {
	OrgID      uuid.UUID
	TokenID    string
	TokenHash  string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// ImpersonationJTI is a row of impersonation_jtis.
type ImpersonationJTI struct {
	JTI        string
	OrgID      uuid.UUID
	TeamNodeID uuid.UUID
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// ProvisioningStatus enumerates ProvisioningRun.status.
type ProvisioningStatus string

const (
	ProvisioningRunning   ProvisioningStatus = "running"
	ProvisioningSucceeded ProvisioningStatus = "succeeded"
	ProvisioningFailed    ProvisioningStatus = "failed"
)

// ProvisioningStep is one recorded step of a ProvisioningRun.
type ProvisioningStep struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ProvisioningRun is a row of orchestrator_provisioning_runs.
type ProvisioningRun struct {
	ID             uuid.UUID
	OrgID          uuid.UUID
	TeamNodeID     uuid.UUID
	IdempotencyKey *string
	Status         ProvisioningStatus
	Steps          []ProvisioningStep
	Error          *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ScheduledJob is a row of scheduled_jobs.
type ScheduledJob struct {
	ID            uuid.UUID
	OrgID         uuid.UUID
	TeamNodeID    uuid.UUID
	JobType       string
	Cron          string
	Config        json.RawMessage
	NextFireAt    time.Time
	LastStatus    *string
	LockOwner     *string
	LockExpiresAt *time.Time
}

// AgentRunStatus enumerates AgentRun.status.
type AgentRunStatus string

const (
	AgentRunQueued      AgentRunStatus = "queued"
	AgentRunRunning     AgentRunStatus = "running"
	AgentRunComplete    AgentRunStatus = "complete"
	AgentRunError       AgentRunStatus = "error"
	AgentRunInterrupted AgentRunStatus = "interrupted"
)

// AgentRun is a row of agent_runs.
type AgentRun struct {
	ID            uuid.UUID
	CorrelationID string
	OrgID         uuid.UUID
	TeamNodeID    uuid.UUID
	AgentName     string
	TriggerSource string
	Status        AgentRunStatus
	StartedAt     time.Time
	EndedAt       *time.Time
	MaxTurns      int32
	OutputRef     *string
}

// AuditEvent is an append-only row of audit_events.
type AuditEvent struct {
	ID        uuid.UUID
	TS        time.Time
	Actor     string
	Action    string
	Target    string
	Outcome   string
	Detail    json.RawMessage
	OrgID     *uuid.UUID
	NodeID    *uuid.UUID
}

// RoutingMapEntry is a row of the routing_map secondary index.
type RoutingMapEntry struct {
	Source     string // "slack_channel", "github_repo", "pagerduty_service", ...
	RoutingKey string
	OrgID      uuid.UUID
	TeamNodeID uuid.UUID
}

// IdempotentWebhookEvent dedups external webhook deliveries by
// (vendor, vendor_event_id).
type IdempotentWebhookEvent struct {
	Vendor        string
	VendorEventID string
	OrgID         *uuid.UUID
	TeamNodeID    *uuid.UUID
	Outcome       json.RawMessage
	ReceivedAt    time.Time
}

// SlackApp is a row of the multi-app Slack registry (supplemented feature,
// see SPEC_FULL.md).
type SlackApp struct {
	Slug          string
	SigningSecret string
	BotToken      string
}
