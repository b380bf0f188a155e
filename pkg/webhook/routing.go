package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmco23/incidentfox-sub007/internal/db"
	"github.com/pmco23/incidentfox-sub007/pkg/nodeconfig"
)

// Resolver implements C7 step 3: mapping a vendor routing key to a tenant
// via RoutingMap, auto-provisioning a new (org, team=default) pair for
// surfaces that allow it on a miss.
type Resolver struct {
	pool  *pgxpool.Pool
	store *nodeconfig.Store
}

// NewResolver builds a Resolver.
func NewResolver(pool *pgxpool.Pool, store *nodeconfig.Store) *Resolver {
	return &Resolver{pool: pool, store: store}
}

// Resolve looks up (source, routingKey) in the routing map. found is false
// on a miss; callers decide whether to AutoProvision or acknowledge only.
func (r *Resolver) Resolve(ctx context.Context, source TriggerSource, routingKey string) (orgID, teamNodeID uuid.UUID, found bool, err error) {
	q := db.New(r.pool)
	entry, err := q.GetRoutingMapEntry(ctx, string(source), routingKey)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return uuid.UUID{}, uuid.UUID{}, false, nil
		}
		return uuid.UUID{}, uuid.UUID{}, false, fmt.Errorf("resolving routing map entry: %w", err)
	}
	return entry.OrgID, entry.TeamNodeID, true, nil
}

// AutoProvision creates a fresh (org=<orgNamePrefix>-<routingKey>, team=default)
// pair and claims routingKey for it, per §4.C7 step 3's auto-provisioning
// rule for chat-surface misses.
func (r *Resolver) AutoProvision(ctx context.Context, source TriggerSource, orgNamePrefix, routingKey string) (orgID, teamNodeID uuid.UUID, err error) {
	orgName := fmt.Sprintf("%s-%s", orgNamePrefix, routingKey)
	org, err := r.store.CreateOrg(ctx, orgName)
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, fmt.Errorf("auto-provisioning org: %w", err)
	}

	team, err := r.store.CreateNode(ctx, org.OrgID, org.NodeID, db.NodeKindTeam, "default")
	if err != nil {
		return uuid.UUID{}, uuid.UUID{}, fmt.Errorf("auto-provisioning default team: %w", err)
	}

	q := db.New(r.pool)
	if err := q.CreateRoutingMapEntry(ctx, db.RoutingMapEntry{
		Source:     string(source),
		RoutingKey: routingKey,
		OrgID:      org.OrgID,
		TeamNodeID: team.NodeID,
	}); err != nil {
		return uuid.UUID{}, uuid.UUID{}, fmt.Errorf("claiming routing key for auto-provisioned tenant: %w", err)
	}

	return org.OrgID, team.NodeID, nil
}
