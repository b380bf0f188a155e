package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// CreateScheduledJobParams are the arguments to CreateScheduledJob.
type CreateScheduledJobParams struct {
	OrgID      uuid.UUID
	TeamNodeID uuid.UUID
	JobType    string
	Cron       string
	Config     []byte
	NextFireAt time.Time
}

// CreateScheduledJob inserts a new cron-driven job.
func (q *Queries) CreateScheduledJob(ctx context.Context, arg CreateScheduledJobParams) (ScheduledJob, error) {
	row := q.db.QueryRow(ctx, `
		INSERT INTO scheduled_jobs (id, org_id, team_node_id, job_type, cron, config, next_fire_at)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6)
		RETURNING id, org_id, team_node_id, job_type, cron, config, next_fire_at, last_status, lock_owner, lock_expires_at
	`, arg.OrgID, arg.TeamNodeID, arg.JobType, arg.Cron, arg.Config, arg.NextFireAt)

	var j ScheduledJob
	if err := row.Scan(&j.ID, &j.OrgID, &j.TeamNodeID, &j.JobType, &j.Cron, &j.Config, &j.NextFireAt, &j.LastStatus, &j.LockOwner, &j.LockExpiresAt); err != nil {
		return ScheduledJob{}, fmt.Errorf("creating scheduled job: %w", err)
	}
	return j, nil
}

// DequeueDueJobs atomically claims up to limit jobs whose next_fire_at has
// passed, using SELECT ... FOR UPDATE SKIP LOCKED so concurrent scheduler
// replicas never claim the same job (§4.C9, §8 property 7). owner and
// lockTTL record which process holds the claim.
func (q *Queries) DequeueDueJobs(ctx context.Context, owner string, lockTTL time.Duration, limit int) ([]ScheduledJob, error) {
	rows, err := q.db.Query(ctx, `
		WITH due AS (
			SELECT id FROM scheduled_jobs
			WHERE next_fire_at <= now()
			  AND (lock_expires_at IS NULL OR lock_expires_at < now())
			ORDER BY next_fire_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE scheduled_jobs sj
		SET lock_owner = $1, lock_expires_at = now() + $2
		FROM due
		WHERE sj.id = due.id
		RETURNING sj.id, sj.org_id, sj.team_node_id, sj.job_type, sj.cron, sj.config, sj.next_fire_at, sj.last_status, sj.lock_owner, sj.lock_expires_at
	`, owner, lockTTL, limit)
	if err != nil {
		return nil, fmt.Errorf("dequeuing due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []ScheduledJob
	for rows.Next() {
		var j ScheduledJob
		if err := rows.Scan(&j.ID, &j.OrgID, &j.TeamNodeID, &j.JobType, &j.Cron, &j.Config, &j.NextFireAt, &j.LastStatus, &j.LockOwner, &j.LockExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning due job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// GetScheduledJobByID looks up one job by id, used by the complete handler
// to recompute next_fire_at from its cron expression.
func (q *Queries) GetScheduledJobByID(ctx context.Context, id uuid.UUID) (ScheduledJob, error) {
	row := q.db.QueryRow(ctx, `
		SELECT id, org_id, team_node_id, job_type, cron, config, next_fire_at, last_status, lock_owner, lock_expires_at
		FROM scheduled_jobs WHERE id = $1
	`, id)
	var j ScheduledJob
	if err := row.Scan(&j.ID, &j.OrgID, &j.TeamNodeID, &j.JobType, &j.Cron, &j.Config, &j.NextFireAt, &j.LastStatus, &j.LockOwner, &j.LockExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ScheduledJob{}, ErrNotFound
		}
		return ScheduledJob{}, fmt.Errorf("getting scheduled job: %w", err)
	}
	return j, nil
}

// CompleteScheduledJobParams are the arguments to CompleteScheduledJob.
type CompleteScheduledJobParams struct {
	ID         uuid.UUID
	Status     string // "success" | "error"
	NextFireAt time.Time
}

// CompleteScheduledJob records the outcome, releases the lock, and
// schedules the next fire time.
func (q *Queries) CompleteScheduledJob(ctx context.Context, arg CompleteScheduledJobParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE scheduled_jobs
		SET last_status = $2, lock_owner = NULL, lock_expires_at = NULL, next_fire_at = $3
		WHERE id = $1
	`, arg.ID, arg.Status, arg.NextFireAt)
	if err != nil {
		return fmt.Errorf("completing scheduled job: %w", err)
	}
	return nil
}
