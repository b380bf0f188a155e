package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// CreateNodeParams are the arguments to CreateNode.
type CreateNodeParams struct {
	OrgID    uuid.UUID
	NodeID   uuid.UUID
	ParentID *uuid.UUID
	Kind     NodeKind
	Name     string
	Depth    int32
}

// CreateNode inserts a new org/sub_team/team node.
func (q *Queries) CreateNode(ctx context.Context, arg CreateNodeParams) (OrgNode, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO org_nodes (org_id, node_id, parent_id, kind, name, depth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING org_id, node_id, parent_id, kind, name, depth, created_at
	`, arg.OrgID, arg.NodeID, arg.ParentID, arg.Kind, arg.Name, arg.Depth)

	var n OrgNode
	if err := row.Scan(&n.OrgID, &n.NodeID, &n.ParentID, &n.Kind, &n.Name, &n.Depth, &n.CreatedAt); err != nil {
		return OrgNode{}, fmt.Errorf("creating node: %w", err)
	}
	return n, nil
}

// GetNode fetches a single node by (org_id, node_id).
func (q *Queries) GetNode(ctx context.Context, orgID, nodeID uuid.UUID) (OrgNode, error) {
	row := q.db.QueryRow(ctx, `
		SELECT org_id, node_id, parent_id, kind, name, depth, created_at
		FROM org_nodes WHERE org_id = $1 AND node_id = $2
	`, orgID, nodeID)

	var n OrgNode
	if err := row.Scan(&n.OrgID, &n.NodeID, &n.ParentID, &n.Kind, &n.Name, &n.Depth, &n.CreatedAt); err != nil {
		return OrgNode{}, fmt.Errorf("getting node: %w", err)
	}
	return n, nil
}

// GetAncestorChain returns [org, ..., node] ordered root-first: a recursive
// CTE follows parent_id links up from the node, and the stored depth orders
// the result.
func (q *Queries) GetAncestorChain(ctx context.Context, orgID, nodeID uuid.UUID) ([]OrgNode, error) {
	rows, err := q.db.Query(ctx, `
		WITH RECURSIVE chain AS (
			SELECT * FROM org_nodes WHERE org_id = $1 AND node_id = $2
			UNION ALL
			SELECT p.* FROM org_nodes p
			JOIN chain c ON p.org_id = c.org_id AND p.node_id = c.parent_id
		)
		SELECT org_id, node_id, parent_id, kind, name, depth, created_at
		FROM chain ORDER BY depth ASC
	`, orgID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("querying ancestor chain: %w", err)
	}
	defer rows.Close()

	var chain []OrgNode
	for rows.Next() {
		var n OrgNode
		if err := rows.Scan(&n.OrgID, &n.NodeID, &n.ParentID, &n.Kind, &n.Name, &n.Depth, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ancestor: %w", err)
		}
		chain = append(chain, n)
	}
	return chain, rows.Err()
}

// DeleteNode removes a node; callers are responsible for cascading config
// and token deletes inside the same transaction (§3: "deleting a node
// cascades").
func (q *Queries) DeleteNode(ctx context.Context, orgID, nodeID uuid.UUID) error {
	_, err := q.db.Exec(ctx, `DELETE FROM org_nodes WHERE org_id = $1 AND node_id = $2`, orgID, nodeID)
	if err != nil {
		return fmt.Errorf("deleting node: %w", err)
	}
	return nil
}

// GetCurrentConfig fetches the current NodeConfig row for a node, if any.
func (q *Queries) GetCurrentConfig(ctx context.Context, orgID, nodeID uuid.UUID) (NodeConfig, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, org_id, node_id, config_json, version, updated_at, updated_by
		FROM node_configurations WHERE org_id = $1 AND node_id = $2
	`, orgID, nodeID)

	var c NodeConfig
	if err := row.Scan(&c.ID, &c.OrgID, &c.NodeID, &c.ConfigJSON, &c.Version, &c.UpdatedAt, &c.UpdatedBy); err != nil {
		return NodeConfig{}, fmt.Errorf("getting current config: %w", err)
	}
	return c, nil
}

// UpsertConfigVersionParams are the arguments to UpsertConfigVersion.
type UpsertConfigVersionParams struct {
	OrgID         uuid.UUID
	NodeID        uuid.UUID
	NewConfigJSON json.RawMessage
	ExpectVersion int32 // optimistic concurrency: current version, or 0 for first write
	UpdatedBy     string
}

// UpsertConfigVersion writes a new current config_json, bumping version
// atomically. It fails with ErrOptimisticLock if ExpectVersion doesn't match
// the stored version (another writer raced).
func (q *Queries) UpsertConfigVersion(ctx context.Context, arg UpsertConfigVersionParams) (NodeConfig, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO node_configurations (id, org_id, node_id, config_json, version, updated_at, updated_by)
		VALUES (gen_random_uuid(), $1, $2, $3, $4 + 1, now(), $5)
		ON CONFLICT (org_id, node_id) DO UPDATE
			SET config_json = EXCLUDED.config_json,
			    version = node_configurations.version + 1,
			    updated_at = now(),
			    updated_by = EXCLUDED.updated_by
			WHERE node_configurations.version = $4
		RETURNING id, org_id, node_id, config_json, version, updated_at, updated_by
	`, arg.OrgID, arg.NodeID, arg.NewConfigJSON, arg.ExpectVersion, arg.UpdatedBy)

	var c NodeConfig
	if err := row.Scan(&c.ID, &c.OrgID, &c.NodeID, &c.ConfigJSON, &c.Version, &c.UpdatedAt, &c.UpdatedBy); err != nil {
		return NodeConfig{}, fmt.Errorf("upserting config version: %w", err)
	}
	return c, nil
}

// InsertConfigHistory archives the prior version of a NodeConfig.
func (q *Queries) InsertConfigHistory(ctx context.Context, prior NodeConfig) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO node_configuration_history (id, org_id, node_id, config_json, version, recorded_at, recorded_by)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, now(), $5)
	`, prior.OrgID, prior.NodeID, prior.ConfigJSON, prior.Version, prior.UpdatedBy)
	if err != nil {
		return fmt.Errorf("archiving config history: %w", err)
	}
	return nil
}
