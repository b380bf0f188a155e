package db

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("not found")

// GetProvisioningRunByIdemKey implements the "at most one run per
// (org, team, idem_key)" invariant (§8 property 5): a second call with the
// same key returns the existing run unchanged.
func (q *Queries) GetProvisioningRunByIdemKey(ctx context.Context, orgID, teamNodeID uuid.UUID, idemKey string) (ProvisioningRun, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, org_id, team_node_id, idempotency_key, status, steps, error, created_at, updated_at
		FROM orchestrator_provisioning_runs
		WHERE org_id = $1 AND team_node_id = $2 AND idempotency_key = $3
	`, orgID, teamNodeID, idemKey)
	return scanProvisioningRun(row)
}

// CreateProvisioningRunParams are the arguments to CreateProvisioningRun.
type CreateProvisioningRunParams struct {
	OrgID          uuid.UUID
	TeamNodeID     uuid.UUID
	IdempotencyKey *string
}

// CreateProvisioningRun inserts a new run in status=running with no steps
// yet recorded. The unique index on (org_id, team_node_id,
// idempotency_key) enforces the idempotency invariant at the database
// layer when idempotency_key is non-null.
func (q *Queries) CreateProvisioningRun(ctx context.Context, arg CreateProvisioningRunParams) (ProvisioningRun, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO orchestrator_provisioning_runs (id, org_id, team_node_id, idempotency_key, status, steps, created_at, updated_at)
		VALUES (gen_random_uuid(), $1, $2, $3, 'running', '[]'::jsonb, now(), now())
		RETURNING id, org_id, team_node_id, idempotency_key, status, steps, error, created_at, updated_at
	`, arg.OrgID, arg.TeamNodeID, arg.IdempotencyKey)
	return scanProvisioningRun(row)
}

// UpdateProvisioningRunParams are the arguments to UpdateProvisioningRun.
type UpdateProvisioningRunParams struct {
	ID     uuid.UUID
	Status ProvisioningStatus
	Steps  []ProvisioningStep
	Error  *string
}

// UpdateProvisioningRun persists the accumulated steps and final status.
func (q *Queries) UpdateProvisioningRun(ctx context.Context, arg UpdateProvisioningRunParams) (ProvisioningRun, error) {
	steps, err := json.Marshal(arg.Steps)
	if err != nil {
		return ProvisioningRun{}, fmt.Errorf("marshaling provisioning steps: %w", err)
	}

	row := q.db.QueryRow(ctx, `
		UPDATE orchestrator_provisioning_runs
		SET status = $2, steps = $3, error = $4, updated_at = now()
		WHERE id = $1
		RETURNING id, org_id, team_node_id, idempotency_key, status, steps, error, created_at, updated_at
	`, arg.ID, arg.Status, steps, arg.Error)
	return scanProvisioningRun(row)
}

// TryAdvisoryLock attempts to acquire a session-scoped advisory lock keyed
// by (org, team), per §4.C8's "acquire a (conditional) advisory lock"
// step. It returns false without blocking if another process already holds
// the lock. Callers release with AdvisoryUnlock using the same keys.
func (q *Queries) TryAdvisoryLock(ctx context.Context, orgID, teamNodeID uuid.UUID) (bool, error) {
	k1, k2 := advisoryLockKeys(orgID, teamNodeID)
	var acquired bool
	if err := q.db.QueryRow(ctx, `SELECT pg_try_advisory_lock($1, $2)`, k1, k2).Scan(&acquired); err != nil {
		return false, fmt.Errorf("acquiring provisioning advisory lock: %w", err)
	}
	return acquired, nil
}

// AdvisoryUnlock releases a lock acquired by TryAdvisoryLock. It must be
// called against the same connection that acquired it, which is why C8
// holds one *pgxpool.Conn for the lifetime of a provisioning run rather
// than going through the shared pool.
func (q *Queries) AdvisoryUnlock(ctx context.Context, orgID, teamNodeID uuid.UUID) error {
	k1, k2 := advisoryLockKeys(orgID, teamNodeID)
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_unlock($1, $2)`, k1, k2); err != nil {
		return fmt.Errorf("releasing provisioning advisory lock: %w", err)
	}
	return nil
}

// advisoryLockKeys derives the two int32 keys pg_advisory_lock takes from
// an (org, team) pair, using the first four bytes of each UUID.
func advisoryLockKeys(orgID, teamNodeID uuid.UUID) (int32, int32) {
	return int32(binary.BigEndian.Uint32(orgID[:4])), int32(binary.BigEndian.Uint32(teamNodeID[:4]))
}

func scanProvisioningRun(row pgx.Row) (ProvisioningRun, error) {
	var r ProvisioningRun
	var steps []byte
	if err := row.Scan(&r.ID, &r.OrgID, &r.TeamNodeID, &r.IdempotencyKey, &r.Status, &steps, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ProvisioningRun{}, ErrNotFound
		}
		return ProvisioningRun{}, fmt.Errorf("scanning provisioning run: %w", err)
	}
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &r.Steps); err != nil {
			return ProvisioningRun{}, fmt.Errorf("decoding provisioning steps: %w", err)
		}
	}
	return r, nil
}
