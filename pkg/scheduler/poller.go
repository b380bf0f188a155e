package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pmco23/incidentfox-sub007/internal/db"
)

// Poller drives one scheduler-mode process: it polls the due-jobs endpoint
// on an interval and fans each due job out to its own goroutine, at-least-
// once, trusting the dequeue's row lock for cluster safety (§4.C9, §5
// "scheduler replicas are stateless pollers").
type Poller struct {
	baseURL    string
	serviceID  string
	interval   time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	wg sync.WaitGroup
}

// NewPoller builds a Poller that polls configServiceURL. serviceID
// identifies this process in the X-Internal-Service header so concurrent
// replicas don't trample each other's locks.
func NewPoller(configServiceURL string, interval time.Duration, logger *slog.Logger) *Poller {
	return &Poller{
		baseURL:    configServiceURL,
		serviceID:  "scheduler-" + uuid.NewString(),
		interval:   interval,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Run polls until ctx is cancelled, then waits for in-flight job dispatches
// to finish before returning. The wait has no bound of its own, and
// in-flight dispatches are not cancelled.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.Info("scheduler poller starting", "service_id", p.serviceID, "interval", p.interval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("scheduler poller stopping, waiting for in-flight jobs")
			p.wg.Wait()
			return
		case <-ticker.C:
			p.pollOnce(ctx)
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) {
	jobs, err := p.fetchDue(ctx)
	if err != nil {
		p.logger.Error("fetching due jobs", "error", err)
		return
	}
	for _, job := range jobs {
		job := job
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			// Detach from the poll tick's context: a job dispatch may
			// legitimately outlive one polling interval.
			p.dispatchJob(context.Background(), job)
		}()
	}
}

type dueJobsResponse struct {
	Jobs []db.ScheduledJob `json:"jobs"`
}

func (p *Poller) fetchDue(ctx context.Context) ([]db.ScheduledJob, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/v1/internal/scheduled-jobs/due?limit=25", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-Internal-Service", p.serviceID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("fetching due jobs: status %d: %s", resp.StatusCode, body)
	}

	var out dueJobsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding due jobs response: %w", err)
	}
	return out.Jobs, nil
}

// dispatchJob impersonates the job's team, invokes its agent, and reports
// the outcome back so the job's lock is released and its next fire time
// recomputed, regardless of whether the run succeeded (§4.C9 at-least-once
// delivery, handlers are idempotent).
func (p *Poller) dispatchJob(ctx context.Context, job db.ScheduledJob) {
	logger := p.logger.With("job_id", job.ID, "job_type", job.JobType, "org_id", job.OrgID, "team_node_id", job.TeamNodeID)

	token, err := p.impersonateTeam(ctx, job.OrgID, job.TeamNodeID)
	if err != nil {
		logger.Error("impersonating team for scheduled job", "error", err)
		p.complete(ctx, job.ID, "error", err.Error())
		return
	}

	runErr := p.runAgent(ctx, token, job)
	if runErr != nil {
		logger.Error("scheduled agent run failed", "error", runErr)
		p.complete(ctx, job.ID, "error", runErr.Error())
		return
	}
	p.complete(ctx, job.ID, "success", "")
}

func (p *Poller) impersonateTeam(ctx context.Context, orgID, teamNodeID uuid.UUID) (string, error) {
	body, _ := json.Marshal(map[string]string{"org_id": orgID.String(), "team_node_id": teamNodeID.String()})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/internal/impersonate-team", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Service", p.serviceID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("impersonating team: status %d: %s", resp.StatusCode, respBody)
	}

	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decoding impersonation response: %w", err)
	}
	return out.Token, nil
}

// jobConfig is the subset of a scheduled job's config column used to build
// its agent run request (§3 ScheduledJob.config).
type jobConfig struct {
	AgentName string         `json:"agent_name"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	MaxTurns  int32          `json:"max_turns"`
}

func (p *Poller) runAgent(ctx context.Context, impersonationToken string, job db.ScheduledJob) error {
	var cfg jobConfig
	if err := json.Unmarshal(job.Config, &cfg); err != nil {
		return fmt.Errorf("decoding job config: %w", err)
	}
	if cfg.AgentName == "" {
		cfg.AgentName = "sre-agent"
	}
	if cfg.MaxTurns == 0 {
		cfg.MaxTurns = 30
	}
	if cfg.Message == "" {
		cfg.Message = fmt.Sprintf("Scheduled job %s fired.", job.JobType)
	}

	body, _ := json.Marshal(map[string]any{
		"agent_name":     cfg.AgentName,
		"message":        cfg.Message,
		"context":        cfg.Context,
		"max_turns":      cfg.MaxTurns,
		"trigger_source": "scheduled:" + job.JobType,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/v1/admin/agents/run", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+impersonationToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("agent run: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

func (p *Poller) complete(ctx context.Context, jobID uuid.UUID, status, errMsg string) {
	body, _ := json.Marshal(map[string]string{"status": status, "error": errMsg})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/api/v1/internal/scheduled-jobs/%s/complete", p.baseURL, jobID), bytes.NewReader(body))
	if err != nil {
		p.logger.Error("building complete request", "error", err, "job_id", jobID)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Internal-Service", p.serviceID)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("reporting job completion", "error", err, "job_id", jobID)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		p.logger.Error("completion endpoint rejected report", "status", resp.StatusCode, "body", string(respBody), "job_id", jobID)
	}
}
