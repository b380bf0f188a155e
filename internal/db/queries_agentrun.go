package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreateAgentRunParams are the arguments to CreateAgentRun.
type CreateAgentRunParams struct {
	CorrelationID string
	OrgID         uuid.UUID
	TeamNodeID    uuid.UUID
	AgentName     string
	TriggerSource string
	MaxTurns      int32
}

// CreateAgentRun inserts a new run in status=running (§4.C10, §4.C13: every
// agent dispatch is recorded before the sandbox is addressed).
func (q *Queries) CreateAgentRun(ctx context.Context, arg CreateAgentRunParams) (AgentRun, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO agent_runs (id, correlation_id, org_id, team_node_id, agent_name, trigger_source, status, started_at, max_turns)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, 'running', now(), $6)
		RETURNING id, correlation_id, org_id, team_node_id, agent_name, trigger_source, status, started_at, ended_at, max_turns, output_ref
	`, arg.CorrelationID, arg.OrgID, arg.TeamNodeID, arg.AgentName, arg.TriggerSource, arg.MaxTurns)

	var r AgentRun
	if err := row.Scan(&r.ID, &r.CorrelationID, &r.OrgID, &r.TeamNodeID, &r.AgentName, &r.TriggerSource, &r.Status, &r.StartedAt, &r.EndedAt, &r.MaxTurns, &r.OutputRef); err != nil {
		return AgentRun{}, fmt.Errorf("creating agent run: %w", err)
	}
	return r, nil
}

// CompleteAgentRunParams are the arguments to CompleteAgentRun.
type CompleteAgentRunParams struct {
	ID        uuid.UUID
	Status    AgentRunStatus
	OutputRef *string
}

// CompleteAgentRun marks a run terminal and records where its output
// artifact lives, if any.
func (q *Queries) CompleteAgentRun(ctx context.Context, arg CompleteAgentRunParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE agent_runs
		SET status = $2, ended_at = $3, output_ref = $4
		WHERE id = $1
	`, arg.ID, arg.Status, time.Now(), arg.OutputRef)
	if err != nil {
		return fmt.Errorf("completing agent run: %w", err)
	}
	return nil
}
