package nodeconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/db"
)

// immutableFields can never be changed by a patch write once a node exists
// (§4.C2); team_name in particular anchors routing-map entries and Slack
// channel-mapping idempotency keys.
var immutableFields = map[string]bool{
	"team_name": true,
}

// Store implements C2: the hierarchical org/sub_team/team node tree and its
// per-node configuration documents.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore builds a node Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateOrg creates a new root node of kind "org". An org has no parent and
// depth 0.
func (s *Store) CreateOrg(ctx context.Context, name string) (db.OrgNode, error) {
	q := db.New(s.pool)
	orgID := uuid.New()
	return q.CreateNode(ctx, db.CreateNodeParams{
		OrgID:    orgID,
		NodeID:   orgID,
		ParentID: nil,
		Kind:     db.NodeKindOrg,
		Name:     name,
		Depth:    0,
	})
}

// CreateNode creates a sub_team or team node under parentID. The parent must
// already exist in orgID; depth is derived from the parent so chains can
// never cycle back on themselves (a node's parent is fixed at creation and
// never reassigned).
func (s *Store) CreateNode(ctx context.Context, orgID, parentID uuid.UUID, kind db.NodeKind, name string) (db.OrgNode, error) {
	if kind == db.NodeKindOrg {
		return db.OrgNode{}, apperr.New(apperr.SchemaViolation, "cannot create a second org-kind node via CreateNode")
	}

	q := db.New(s.pool)
	parent, err := q.GetNode(ctx, orgID, parentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.OrgNode{}, apperr.New(apperr.NotFound, "parent node not found")
		}
		return db.OrgNode{}, fmt.Errorf("loading parent node: %w", err)
	}

	return q.CreateNode(ctx, db.CreateNodeParams{
		OrgID:    orgID,
		NodeID:   uuid.New(),
		ParentID: &parentID,
		Kind:     kind,
		Name:     name,
		Depth:    parent.Depth + 1,
	})
}

// GetNode fetches a single node.
func (s *Store) GetNode(ctx context.Context, orgID, nodeID uuid.UUID) (db.OrgNode, error) {
	q := db.New(s.pool)
	n, err := q.GetNode(ctx, orgID, nodeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.OrgNode{}, apperr.New(apperr.NotFound, "node not found")
		}
		return db.OrgNode{}, fmt.Errorf("getting node: %w", err)
	}
	return n, nil
}

// AncestorChain returns [org, ..., node] root-first.
func (s *Store) AncestorChain(ctx context.Context, orgID, nodeID uuid.UUID) ([]db.OrgNode, error) {
	q := db.New(s.pool)
	chain, err := q.GetAncestorChain(ctx, orgID, nodeID)
	if err != nil {
		return nil, fmt.Errorf("getting ancestor chain: %w", err)
	}
	if len(chain) == 0 {
		return nil, apperr.New(apperr.NotFound, "node not found")
	}
	return chain, nil
}

// DeleteNode removes a node along with its current config, config history
// and team tokens, cascading in one transaction (§3).
func (s *Store) DeleteNode(ctx context.Context, orgID, nodeID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM node_configuration_history WHERE org_id = $1 AND node_id = $2`, orgID, nodeID); err != nil {
		return fmt.Errorf("deleting config history: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM node_configurations WHERE org_id = $1 AND node_id = $2`, orgID, nodeID); err != nil {
		return fmt.Errorf("deleting config: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM team_tokens WHERE org_id = $1 AND team_node_id = $2`, orgID, nodeID); err != nil {
		return fmt.Errorf("deleting team tokens: %w", err)
	}

	q := db.New(tx)
	if err := q.DeleteNode(ctx, orgID, nodeID); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetConfig fetches the current node_configurations row for a node, treating
// "no row yet" as an empty document at version 0 rather than an error.
func (s *Store) GetConfig(ctx context.Context, orgID, nodeID uuid.UUID) (db.NodeConfig, error) {
	q := db.New(s.pool)
	cfg, err := q.GetCurrentConfig(ctx, orgID, nodeID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.NodeConfig{OrgID: orgID, NodeID: nodeID, ConfigJSON: json.RawMessage(`{}`), Version: 0}, nil
		}
		return db.NodeConfig{}, fmt.Errorf("getting current config: %w", err)
	}
	return cfg, nil
}

// PatchConfig applies an RFC-7396 merge patch to a node's configuration
// document, rejecting writes to immutableFields and bumping the version
// with optimistic concurrency. updatedBy identifies the writer for audit.
func (s *Store) PatchConfig(ctx context.Context, orgID, nodeID uuid.UUID, patch map[string]any, updatedBy string) (db.NodeConfig, error) {
	for field := range immutableFields {
		if _, present := patch[field]; present {
			return db.NodeConfig{}, apperr.New(apperr.ImmutableField, fmt.Sprintf("field %q is immutable", field)).WithDetail(map[string]string{"field": field})
		}
	}

	current, err := s.GetConfig(ctx, orgID, nodeID)
	if err != nil {
		return db.NodeConfig{}, err
	}

	var currentDoc map[string]any
	if err := json.Unmarshal(current.ConfigJSON, &currentDoc); err != nil {
		return db.NodeConfig{}, fmt.Errorf("decoding current config: %w", err)
	}

	merged := PatchMerge(currentDoc, patch)
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return db.NodeConfig{}, fmt.Errorf("encoding merged config: %w", err)
	}

	q := db.New(s.pool)
	if current.Version > 0 {
		if err := q.InsertConfigHistory(ctx, current); err != nil {
			return db.NodeConfig{}, err
		}
	}

	updated, err := q.UpsertConfigVersion(ctx, db.UpsertConfigVersionParams{
		OrgID:         orgID,
		NodeID:        nodeID,
		NewConfigJSON: mergedJSON,
		ExpectVersion: current.Version,
		UpdatedBy:     updatedBy,
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return db.NodeConfig{}, apperr.New(apperr.OptimisticLockFailed, "config was updated concurrently, retry")
		}
		return db.NodeConfig{}, fmt.Errorf("writing config: %w", err)
	}
	return updated, nil
}
