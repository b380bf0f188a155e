package db

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// pgUniqueViolation is the Postgres error code for a unique_violation
// (routing_map's (source, routing_key) index, among others).
const pgUniqueViolation = "23505"

// IsUniqueViolation reports whether err wraps a Postgres unique_violation,
// letting callers map it to apperr.Conflict without depending on pgconn
// directly (§4.C7, §4.C8: claiming a routing key or a team slot must
// surface the existing claim rather than a generic 500).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
