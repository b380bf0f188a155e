// Package provisioning implements C8: bringing a team online in one
// request — claiming its external routing keys, minting its first team
// token, and registering it with the agent pipeline — as a single
// idempotent, advisory-locked run.
package provisioning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/config"
	"github.com/pmco23/incidentfox-sub007/internal/db"
	"github.com/pmco23/incidentfox-sub007/internal/telemetry"
	"github.com/pmco23/incidentfox-sub007/pkg/nodeconfig"
	"github.com/pmco23/incidentfox-sub007/pkg/webhook"
)

// Params are the arguments to ProvisionTeam.
type Params struct {
	OrgID           uuid.UUID
	TeamNodeID      uuid.UUID
	SlackChannelIDs []string
	IdempotencyKey  string
}

// Service implements C8. It holds its own dedicated connection per run
// rather than the shared pool, since pg_advisory_unlock must run on the
// same connection that acquired the lock.
type Service struct {
	pool         *pgxpool.Pool
	store        *nodeconfig.Store
	nodeSvc      *nodeconfig.Service
	effective    *nodeconfig.EffectiveService
	httpClient   *http.Client
	pipelineURL  string
	disableLocks bool
	logger       *slog.Logger
}

// NewService builds a provisioning Service. pipelineURL is the AI pipeline's
// bootstrap base URL (AI_PIPELINE_API_URL); step (d) is skipped with a
// recorded step if it's empty, since a dev deployment may not run one.
func NewService(pool *pgxpool.Pool, store *nodeconfig.Store, nodeSvc *nodeconfig.Service, effective *nodeconfig.EffectiveService, cfg *config.Config, logger *slog.Logger) *Service {
	return &Service{
		pool:         pool,
		store:        store,
		nodeSvc:      nodeSvc,
		effective:    effective,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		pipelineURL:  cfg.AIPipelineAPIURL,
		disableLocks: cfg.DisableAdvisoryLocks,
		logger:       logger,
	}
}

// ProvisionTeam runs C8's five-step sequence for (org, team). A repeated
// call with the same IdempotencyKey returns the original run unchanged
// rather than re-executing it (§8 property 5).
func (s *Service) ProvisionTeam(ctx context.Context, p Params) (db.ProvisioningRun, error) {
	conn, q, unlock, err := s.acquire(ctx, p.OrgID, p.TeamNodeID)
	if err != nil {
		return db.ProvisioningRun{}, err
	}
	defer unlock()
	defer conn.Release()

	if p.IdempotencyKey != "" {
		existing, err := q.GetProvisioningRunByIdemKey(ctx, p.OrgID, p.TeamNodeID, p.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if err != db.ErrNotFound {
			return db.ProvisioningRun{}, fmt.Errorf("checking for existing provisioning run: %w", err)
		}
	}

	var idemKeyPtr *string
	if p.IdempotencyKey != "" {
		idemKeyPtr = &p.IdempotencyKey
	}
	run, err := q.CreateProvisioningRun(ctx, db.CreateProvisioningRunParams{
		OrgID:          p.OrgID,
		TeamNodeID:     p.TeamNodeID,
		IdempotencyKey: idemKeyPtr,
	})
	if err != nil {
		return db.ProvisioningRun{}, fmt.Errorf("creating provisioning run: %w", err)
	}

	steps := s.runSteps(ctx, q, p, run)
	run.Steps = steps

	status := db.ProvisioningSucceeded
	var runErr *string
	for _, step := range steps {
		if step.Status == "failed" {
			status = db.ProvisioningFailed
			detail := step.Detail
			runErr = &detail
			break
		}
	}

	updated, err := q.UpdateProvisioningRun(ctx, db.UpdateProvisioningRunParams{
		ID:     run.ID,
		Status: status,
		Steps:  steps,
		Error:  runErr,
	})
	if err != nil {
		return db.ProvisioningRun{}, fmt.Errorf("recording provisioning outcome: %w", err)
	}

	telemetry.ProvisioningRunsTotal.WithLabelValues(string(status)).Inc()
	if status == db.ProvisioningFailed {
		return updated, apperr.New(apperr.Conflict, "provisioning failed").WithDetail(map[string]any{
			"provisioning_run_id": updated.ID.String(),
			"error":               runErr,
		})
	}
	return updated, nil
}

// acquire takes a dedicated connection and attempts the conditional
// advisory lock step. disableLocks (dev/test) skips straight to a no-op
// unlock so single-process test runs don't need a live Postgres advisory
// lock to exercise the rest of the flow.
func (s *Service) acquire(ctx context.Context, orgID, teamNodeID uuid.UUID) (*pgxpool.Conn, *db.Queries, func(), error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("acquiring connection: %w", err)
	}
	q := db.New(conn)

	if s.disableLocks {
		return conn, q, func() {}, nil
	}

	acquired, err := q.TryAdvisoryLock(ctx, orgID, teamNodeID)
	if err != nil {
		conn.Release()
		return nil, nil, nil, err
	}
	if !acquired {
		conn.Release()
		return nil, nil, nil, apperr.New(apperr.Conflict, "a provisioning run is already in progress for this team")
	}

	return conn, q, func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := q.AdvisoryUnlock(unlockCtx, orgID, teamNodeID); err != nil {
			s.logger.Error("releasing provisioning advisory lock", "error", err)
		}
	}, nil
}

// runSteps executes the four recorded steps (a)-(d) in order, stopping at
// the first failure (later steps are recorded as skipped rather than
// attempted). Step (e), marking the run succeeded, is done by ProvisionTeam.
func (s *Service) runSteps(ctx context.Context, q *db.Queries, p Params, run db.ProvisioningRun) []db.ProvisioningStep {
	var steps []db.ProvisioningStep
	skipRest := func(names ...string) []db.ProvisioningStep {
		for _, n := range names {
			steps = append(steps, db.ProvisioningStep{Name: n, Status: "skipped"})
		}
		return steps
	}

	steps = append(steps, db.ProvisioningStep{Name: "verify_admin_permission", Status: "succeeded"})

	if stepErr := s.claimSlackChannels(ctx, q, p); stepErr != "" {
		steps = append(steps, db.ProvisioningStep{Name: "claim_slack_channels", Status: "failed", Detail: stepErr})
		return skipRest("issue_team_token", "bootstrap_pipeline")
	}
	steps = append(steps, db.ProvisioningStep{Name: "claim_slack_channels", Status: "succeeded"})

	token, err := s.nodeSvc.IssueTeamToken(ctx, p.OrgID, p.TeamNodeID)
	if err != nil {
		steps = append(steps, db.ProvisioningStep{Name: "issue_team_token", Status: "failed", Detail: err.Error()})
		return skipRest("bootstrap_pipeline")
	}
	steps = append(steps, db.ProvisioningStep{Name: "issue_team_token", Status: "succeeded"})

	if s.pipelineURL == "" {
		steps = append(steps, db.ProvisioningStep{Name: "bootstrap_pipeline", Status: "skipped", Detail: "AI_PIPELINE_API_URL not set"})
		return steps
	}
	if stepErr := s.bootstrapPipeline(ctx, p, token); stepErr != "" {
		steps = append(steps, db.ProvisioningStep{Name: "bootstrap_pipeline", Status: "failed", Detail: stepErr})
		return steps
	}
	steps = append(steps, db.ProvisioningStep{Name: "bootstrap_pipeline", Status: "succeeded"})

	return steps
}

// claimSlackChannels patches the node's Slack channel mapping and claims
// each channel id in the routing map, failing with
// "slack_channel_already_mapped" if any channel is already claimed by
// another team (§4.C8 step b).
func (s *Service) claimSlackChannels(ctx context.Context, q *db.Queries, p Params) string {
	if len(p.SlackChannelIDs) == 0 {
		return ""
	}

	for _, channelID := range p.SlackChannelIDs {
		if err := q.CreateRoutingMapEntry(ctx, db.RoutingMapEntry{
			Source:     string(webhook.SourceSlack),
			RoutingKey: channelID,
			OrgID:      p.OrgID,
			TeamNodeID: p.TeamNodeID,
		}); err != nil {
			if db.IsUniqueViolation(err) {
				return fmt.Sprintf("slack_channel_already_mapped: %s", channelID)
			}
			return err.Error()
		}
	}

	patch := map[string]any{
		"integrations": map[string]any{
			"slack": map[string]any{
				"channel_ids": toAnySlice(p.SlackChannelIDs),
			},
		},
	}
	if _, err := s.store.PatchConfig(ctx, p.OrgID, p.TeamNodeID, patch, "provisioning"); err != nil {
		return err.Error()
	}
	if err := s.effective.Invalidate(ctx, p.OrgID, p.TeamNodeID); err != nil {
		s.logger.Warn("invalidating effective config after provisioning", "error", err)
	}
	return ""
}

func (s *Service) bootstrapPipeline(ctx context.Context, p Params, teamToken string) string {
	if s.pipelineURL == "" {
		return ""
	}

	body, err := json.Marshal(map[string]string{
		"org_id":       p.OrgID.String(),
		"team_node_id": p.TeamNodeID.String(),
		"team_token":   teamToken,
	})
	if err != nil {
		return err.Error()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.pipelineURL+"/bootstrap", bytes.NewReader(body))
	if err != nil {
		return err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Sprintf("pipeline bootstrap request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Sprintf("pipeline bootstrap rejected: status %d", resp.StatusCode)
	}
	return ""
}

func toAnySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
