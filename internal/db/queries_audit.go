package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateAuditEventParams are the arguments to CreateAuditEvent.
type CreateAuditEventParams struct {
	Actor   string
	Action  string
	Target  string
	Outcome string
	Detail  []byte
	OrgID   *uuid.UUID
	NodeID  *uuid.UUID
}

// CreateAuditEvent appends one row to the audit log (§4.C13). The log is
// append-only: there is no update or delete query in this file by design.
func (q *Queries) CreateAuditEvent(ctx context.Context, arg CreateAuditEventParams) error {
	detail := arg.Detail
	if detail == nil {
		detail = []byte(`{}`)
	}
	_, err := q.db.Exec(ctx, `
		INSERT INTO audit_events (id, ts, actor, action, target, outcome, detail, org_id, node_id)
		VALUES (gen_random_uuid(), now(), $1, $2, $3, $4, $5, $6, $7)
	`, arg.Actor, arg.Action, arg.Target, arg.Outcome, detail, arg.OrgID, arg.NodeID)
	if err != nil {
		return fmt.Errorf("recording audit event: %w", err)
	}
	return nil
}

// AuditCursor is a keyset position (ts, id) in the audit log's newest-first
// ordering, used by ListAuditEvents to page through trails too large for a
// single plain-limit read.
type AuditCursor struct {
	TS time.Time
	ID uuid.UUID
}

// ListAuditEvents returns audit events for an org, newest first, optionally
// resuming after a prior page's cursor (§4.C13 admin audit-log surface).
// after is nil for the first page.
func (q *Queries) ListAuditEvents(ctx context.Context, orgID uuid.UUID, after *AuditCursor, limit int) ([]AuditEvent, error) {
	var rows pgx.Rows
	var err error
	if after != nil {
		rows, err = q.db.Query(ctx, `
			SELECT id, ts, actor, action, target, outcome, detail, org_id, node_id
			FROM audit_events
			WHERE org_id = $1 AND (ts, id) < ($2, $3)
			ORDER BY ts DESC, id DESC
			LIMIT $4
		`, orgID, after.TS, after.ID, limit)
	} else {
		rows, err = q.db.Query(ctx, `
			SELECT id, ts, actor, action, target, outcome, detail, org_id, node_id
			FROM audit_events
			WHERE org_id = $1
			ORDER BY ts DESC, id DESC
			LIMIT $2
		`, orgID, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var e AuditEvent
		if err := rows.Scan(&e.ID, &e.TS, &e.Actor, &e.Action, &e.Target, &e.Outcome, &e.Detail, &e.OrgID, &e.NodeID); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
