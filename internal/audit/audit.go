// Package audit implements C13: an async, buffered writer for audit_events
// so every admin write, provisioning run, and credential-proxy request
// leaves a trace without making the caller wait on an extra INSERT.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmco23/incidentfox-sub007/internal/auth"
	"github.com/pmco23/incidentfox-sub007/internal/db"
)

// Entry represents a single audit event to be written.
type Entry struct {
	Actor      string
	Action     string
	Target     string
	Outcome    string
	Detail     json.RawMessage
	OrgID      *uuid.UUID
	TeamNodeID *uuid.UUID
}

// Writer is an async, buffered audit log writer. Entries are sent to an
// internal channel and flushed by a background goroutine in batches.
type Writer struct {
	pool    *pgxpool.Pool
	logger  *slog.Logger
	entries chan Entry
	wg      sync.WaitGroup
}

const (
	bufferSize    = 256
	flushInterval = 2 * time.Second
	flushBatch    = 32
)

// NewWriter creates an audit Writer. Call Start to begin processing entries.
func NewWriter(pool *pgxpool.Pool, logger *slog.Logger) *Writer {
	return &Writer{
		pool:    pool,
		logger:  logger,
		entries: make(chan Entry, bufferSize),
	}
}

// Start begins the background goroutine that flushes audit entries to the
// database and returns immediately. The goroutine exits once the context is
// cancelled (or Close is called) and the pending entries are flushed.
func (w *Writer) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.run(ctx)
	}()
}

// Close waits for all pending entries to be flushed.
func (w *Writer) Close() {
	close(w.entries)
	w.wg.Wait()
}

// Log enqueues an audit entry for async writing. It never blocks the
// caller; if the buffer is full the entry is dropped and a warning logged.
func (w *Writer) Log(entry Entry) {
	select {
	case w.entries <- entry:
	default:
		w.logger.Warn("audit log buffer full, dropping entry",
			"action", entry.Action, "target", entry.Target)
	}
}

// LogFromRequest is a convenience method that derives the actor and tenant
// scope from the request's resolved Principal, then enqueues the entry.
func (w *Writer) LogFromRequest(r *http.Request, action, target, outcome string, detail json.RawMessage) {
	entry := Entry{
		Action:  action,
		Target:  target,
		Outcome: outcome,
		Detail:  detail,
	}

	if p := auth.FromRequest(r); p != nil {
		entry.Actor = p.Subject
		entry.OrgID = p.OrgID
		entry.TeamNodeID = p.TeamNodeID
	}

	w.Log(entry)
}

// run is the background loop that drains the entries channel.
func (w *Writer) run(ctx context.Context) {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]Entry, 0, flushBatch)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.flush(batch)
		batch = batch[:0]
	}

	for {
		select {
		case entry, ok := <-w.entries:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-ctx.Done():
			for {
				select {
				case entry, ok := <-w.entries:
					if !ok {
						flush()
						return
					}
					batch = append(batch, entry)
				default:
					flush()
					return
				}
			}
		}
	}
}

// flush writes a batch of entries to the database.
func (w *Writer) flush(entries []Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	q := db.New(w.pool)
	for _, e := range entries {
		if err := q.CreateAuditEvent(ctx, db.CreateAuditEventParams{
			Actor:   e.Actor,
			Action:  e.Action,
			Target:  e.Target,
			Outcome: e.Outcome,
			Detail:  e.Detail,
			OrgID:   e.OrgID,
			NodeID:  e.TeamNodeID,
		}); err != nil {
			w.logger.Error("writing audit event", "error", err, "action", e.Action, "target", e.Target)
		}
	}
}
