package nodeconfig

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pmco23/incidentfox-sub007/internal/db"
)

// invalidationChannel is the Redis pub/sub channel effective-config writers
// publish to after a node's configuration changes. The cache itself lives
// only in the shared Redis; no process keeps an in-memory copy. A
// subscriber deletes the named entries from Redis, so readers in every
// process (api, scheduler, credential-proxy) see the change without waiting
// for cacheTTL to elapse.
const invalidationChannel = "controlplane:config-invalidate"

const cacheTTL = 5 * time.Minute

// EffectiveService implements C3: folding a node's ancestor chain of
// configuration documents into one effective view, cached per (org, node).
type EffectiveService struct {
	store  *Store
	rdb    *redis.Client
	logger *slog.Logger
}

// NewEffectiveService builds an EffectiveService. rdb may be nil, in which
// case caching is skipped and every call recomputes from Postgres.
func NewEffectiveService(store *Store, rdb *redis.Client, logger *slog.Logger) *EffectiveService {
	return &EffectiveService{store: store, rdb: rdb, logger: logger}
}

func cacheKey(orgID, nodeID uuid.UUID) string {
	return fmt.Sprintf("controlplane:effective-config:%s:%s", orgID, nodeID)
}

// Resolve returns the effective configuration for nodeID: the deep-merge
// fold of the ancestor chain's documents, org first (§4.C3).
func (s *EffectiveService) Resolve(ctx context.Context, orgID, nodeID uuid.UUID) (map[string]any, error) {
	if s.rdb != nil {
		if cached, ok := s.readCache(ctx, orgID, nodeID); ok {
			return cached, nil
		}
	}

	chain, err := s.store.AncestorChain(ctx, orgID, nodeID)
	if err != nil {
		return nil, err
	}

	docs := make([]map[string]any, 0, len(chain))
	for _, n := range chain {
		cfg, err := s.store.GetConfig(ctx, orgID, n.NodeID)
		if err != nil {
			return nil, err
		}
		var doc map[string]any
		if len(cfg.ConfigJSON) > 0 {
			if err := json.Unmarshal(cfg.ConfigJSON, &doc); err != nil {
				return nil, fmt.Errorf("decoding config for node %s: %w", n.NodeID, err)
			}
		}
		if doc == nil {
			doc = map[string]any{}
		}
		docs = append(docs, doc)
	}

	effective := FoldChain(docs)

	if s.rdb != nil {
		s.writeCache(ctx, orgID, nodeID, effective)
	}
	return effective, nil
}

// Invalidate drops the cached effective view for nodeID and publishes the
// invalidation so other processes drop theirs too. Callers invoke this
// after any PatchConfig write; because a write to an ancestor invalidates
// every descendant's effective view, callers pass every affected node_id
// (the writer only knows its own subtree, so the orchestrator layer that
// calls this is expected to resolve descendants itself; the node store
// here only clears what it's told).
func (s *EffectiveService) Invalidate(ctx context.Context, orgID uuid.UUID, nodeIDs ...uuid.UUID) error {
	if s.rdb == nil {
		return nil
	}
	for _, nodeID := range nodeIDs {
		if err := s.rdb.Del(ctx, cacheKey(orgID, nodeID)).Err(); err != nil {
			s.logger.Warn("deleting cached effective config", "error", err, "node_id", nodeID)
		}
	}
	payload, err := json.Marshal(invalidationMessage{OrgID: orgID, NodeIDs: nodeIDs})
	if err != nil {
		return fmt.Errorf("encoding invalidation message: %w", err)
	}
	if err := s.rdb.Publish(ctx, invalidationChannel, payload).Err(); err != nil {
		return fmt.Errorf("publishing invalidation: %w", err)
	}
	return nil
}

type invalidationMessage struct {
	OrgID   uuid.UUID   `json:"org_id"`
	NodeIDs []uuid.UUID `json:"node_ids"`
}

// Subscribe listens for invalidation messages published by other processes
// and drops the corresponding local cache entries. Run it once per process
// in a background goroutine; it returns when ctx is cancelled.
func (s *EffectiveService) Subscribe(ctx context.Context) {
	if s.rdb == nil {
		return
	}
	sub := s.rdb.Subscribe(ctx, invalidationChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var inv invalidationMessage
			if err := json.Unmarshal([]byte(msg.Payload), &inv); err != nil {
				s.logger.Warn("decoding invalidation message", "error", err)
				continue
			}
			for _, nodeID := range inv.NodeIDs {
				if err := s.rdb.Del(ctx, cacheKey(inv.OrgID, nodeID)).Err(); err != nil {
					s.logger.Warn("deleting cached effective config on invalidation", "error", err, "node_id", nodeID)
				}
			}
		}
	}
}

func (s *EffectiveService) readCache(ctx context.Context, orgID, nodeID uuid.UUID) (map[string]any, bool) {
	raw, err := s.rdb.Get(ctx, cacheKey(orgID, nodeID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			s.logger.Warn("reading cached effective config", "error", err)
		}
		return nil, false
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		s.logger.Warn("decoding cached effective config", "error", err)
		return nil, false
	}
	return doc, true
}

func (s *EffectiveService) writeCache(ctx context.Context, orgID, nodeID uuid.UUID, doc map[string]any) {
	raw, err := json.Marshal(doc)
	if err != nil {
		s.logger.Warn("encoding effective config for cache", "error", err)
		return
	}
	if err := s.rdb.Set(ctx, cacheKey(orgID, nodeID), raw, cacheTTL).Err(); err != nil {
		s.logger.Warn("writing cached effective config", "error", err)
	}
}

// ResolveNode is a convenience wrapper returning both the resolved node
// (for its kind/name/depth) and its effective configuration, used by
// GET /config/me/effective.
func (s *EffectiveService) ResolveNode(ctx context.Context, orgID, nodeID uuid.UUID) (db.OrgNode, map[string]any, error) {
	node, err := s.store.GetNode(ctx, orgID, nodeID)
	if err != nil {
		return db.OrgNode{}, nil, err
	}
	effective, err := s.Resolve(ctx, orgID, nodeID)
	if err != nil {
		return db.OrgNode{}, nil, err
	}
	return node, effective, nil
}
