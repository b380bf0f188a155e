package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// GetRoutingMapEntry looks up which (org, team) owns an external routing
// key (Slack channel id, GitHub repo, PagerDuty service id, ...).
func (q *Queries) GetRoutingMapEntry(ctx context.Context, source, routingKey string) (RoutingMapEntry, error) {
	row := q.db.QueryRow(ctx, `
		SELECT source, routing_key, org_id, team_node_id
		FROM routing_map WHERE source = $1 AND routing_key = $2
	`, source, routingKey)

	var e RoutingMapEntry
	if err := row.Scan(&e.Source, &e.RoutingKey, &e.OrgID, &e.TeamNodeID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RoutingMapEntry{}, ErrNotFound
		}
		return RoutingMapEntry{}, fmt.Errorf("getting routing map entry: %w", err)
	}
	return e, nil
}

// CreateRoutingMapEntry claims a routing key for a team. The unique index
// on (source, routing_key) enforces §8 property 6 (at most one claim per
// external key); callers map a unique_violation to Conflict.
func (q *Queries) CreateRoutingMapEntry(ctx context.Context, e RoutingMapEntry) error {
	_, err := q.db.Exec(ctx, `
		INSERT INTO routing_map (source, routing_key, org_id, team_node_id)
		VALUES ($1, $2, $3, $4)
	`, e.Source, e.RoutingKey, e.OrgID, e.TeamNodeID)
	if err != nil {
		return fmt.Errorf("creating routing map entry: %w", err)
	}
	return nil
}

// CheckIdempotentWebhookEvent reports whether (vendor, vendorEventID) has
// already been processed, returning the recorded outcome if so.
func (q *Queries) CheckIdempotentWebhookEvent(ctx context.Context, vendor, vendorEventID string) (IdempotentWebhookEvent, error) {
	row := q.db.QueryRow(ctx, `
		SELECT vendor, vendor_event_id, org_id, team_node_id, outcome, received_at
		FROM webhook_events WHERE vendor = $1 AND vendor_event_id = $2
	`, vendor, vendorEventID)

	var e IdempotentWebhookEvent
	if err := row.Scan(&e.Vendor, &e.VendorEventID, &e.OrgID, &e.TeamNodeID, &e.Outcome, &e.ReceivedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return IdempotentWebhookEvent{}, ErrNotFound
		}
		return IdempotentWebhookEvent{}, fmt.Errorf("checking idempotent webhook event: %w", err)
	}
	return e, nil
}

// RecordIdempotentWebhookEvent stores the outcome of a newly-processed
// webhook delivery so a redelivery short-circuits.
func (q *Queries) RecordIdempotentWebhookEvent(ctx context.Context, e IdempotentWebhookEvent) error {
	outcome := e.Outcome
	if outcome == nil {
		outcome = json.RawMessage(`{}`)
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO webhook_events (vendor, vendor_event_id, org_id, team_node_id, outcome, received_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (vendor, vendor_event_id) DO NOTHING
	`, e.Vendor, e.VendorEventID, e.OrgID, e.TeamNodeID, outcome)
	if err != nil {
		return fmt.Errorf("recording idempotent webhook event: %w", err)
	}
	return nil
}

// GetSlackApp looks up a registered Slack app by slug (supplemented
// multi-app routing feature, SPEC_FULL.md).
func (q *Queries) GetSlackApp(ctx context.Context, slug string) (SlackApp, error) {
	row := q.db.QueryRow(ctx, `SELECT slug, signing_secret, bot_token FROM slack_apps WHERE slug = $1`, slug)

	var a SlackApp
	if err := row.Scan(&a.Slug, &a.SigningSecret, &a.BotToken); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SlackApp{}, ErrNotFound
		}
		return SlackApp{}, fmt.Errorf("getting slack app: %w", err)
	}
	return a, nil
}

// ListSlackApps returns every registered Slack app slug (redacted secrets
// omitted by callers before serializing to the admin listing endpoint).
func (q *Queries) ListSlackApps(ctx context.Context) ([]SlackApp, error) {
	rows, err := q.db.Query(ctx, `SELECT slug, signing_secret, bot_token FROM slack_apps ORDER BY slug`)
	if err != nil {
		return nil, fmt.Errorf("listing slack apps: %w", err)
	}
	defer rows.Close()

	var apps []SlackApp
	for rows.Next() {
		var a SlackApp
		if err := rows.Scan(&a.Slug, &a.SigningSecret, &a.BotToken); err != nil {
			return nil, fmt.Errorf("scanning slack app: %w", err)
		}
		apps = append(apps, a)
	}
	return apps, rows.Err()
}
