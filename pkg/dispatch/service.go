// Package dispatch implements C10: resolving a team token to a tenant,
// minting a sandbox credential, launching a bounded agent run against the
// agent runtime, and streaming its structured events to completion.
package dispatch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/crypto"
	"github.com/pmco23/incidentfox-sub007/internal/db"
	"github.com/pmco23/incidentfox-sub007/internal/telemetry"
)

// Sandbox dial constants, carried verbatim from sre-agent/sandbox-router's
// Python constants (SPEC_FULL.md "SUPPLEMENTED FEATURES").
const (
	DefaultSandboxPort    = 8888
	DefaultNamespace      = "default"
	RetryCount            = 8
	RetryBaseDelaySeconds = 1.0
	RetryMaxDelaySeconds  = 4.0
)

// RunParams are the arguments to RunAgent (§4.C10).
type RunParams struct {
	AgentName          string
	Message            string
	Context            map[string]any
	MaxTurns           int32
	CorrelationID      string
	TriggerSource      string
	OutputDestinations json.RawMessage // caller-resolved destinations, passed through verbatim to the runtime
}

// Result is what RunAgent returns to its caller (§4.C10).
type Result struct {
	Success     bool            `json:"success"`
	ResultText  string          `json:"result,omitempty"`
	EventsCount int             `json:"events_count"`
	OutputRef   *string         `json:"output_ref,omitempty"`
	RunID       uuid.UUID       `json:"run_id"`
	Events      []Event         `json:"-"`
	Images      json.RawMessage `json:"-"`
	Files       json.RawMessage `json:"-"`
}

// EventSink receives each streamed Event as it's decoded, e.g. to forward
// to an SSE client. It may be nil.
type EventSink func(Event)

// Service implements C10. One Service is shared by the admin /agents/run
// handler and the orchestrator (webhook-triggered runs) and the scheduler
// poller's job handler.
type Service struct {
	pool         *pgxpool.Pool
	sandboxSig   *crypto.JWTSigner
	sandboxAud   string
	sandboxTTL   time.Duration
	agentAPIURL  string
	httpClient   *http.Client
	logger       *slog.Logger
}

// NewService builds a dispatch Service.
func NewService(pool *pgxpool.Pool, sandboxSig *crypto.JWTSigner, sandboxAud string, sandboxTTL time.Duration, agentAPIURL string, logger *slog.Logger) *Service {
	return &Service{
		pool:       pool,
		sandboxSig: sandboxSig,
		sandboxAud: sandboxAud,
		sandboxTTL: sandboxTTL,
		agentAPIURL: strings.TrimSuffix(agentAPIURL, "/"),
		httpClient: &http.Client{
			// Connect timeout is bounded; read must stay open for the
			// duration of the stream, so no overall client timeout here
			// (§5 "read timeout... unbounded for streaming").
			Timeout: 0,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			},
		},
		logger: logger,
	}
}

// RunAgent mints a sandbox JWT, launches one bounded investigation, and
// streams its events to sink until a terminal event or MaxTurns is
// exceeded (§4.C10).
func (s *Service) RunAgent(ctx context.Context, orgID, teamNodeID uuid.UUID, p RunParams, sink EventSink) (*Result, error) {
	q := db.New(s.pool)
	run, err := q.CreateAgentRun(ctx, db.CreateAgentRunParams{
		CorrelationID: p.CorrelationID,
		OrgID:         orgID,
		TeamNodeID:    teamNodeID,
		AgentName:     p.AgentName,
		TriggerSource: p.TriggerSource,
		MaxTurns:      p.MaxTurns,
	})
	if err != nil {
		return nil, fmt.Errorf("recording agent run: %w", err)
	}

	result, runErr := s.runOnSandbox(ctx, run, orgID, teamNodeID, p, sink)

	status := db.AgentRunComplete
	if runErr != nil {
		status = db.AgentRunError
	}
	var outputRef *string
	if result != nil {
		outputRef = result.OutputRef
	}
	if err := q.CompleteAgentRun(ctx, db.CompleteAgentRunParams{ID: run.ID, Status: status, OutputRef: outputRef}); err != nil {
		s.logger.Error("completing agent run", "error", err, "run_id", run.ID)
	}
	telemetry.AgentRunsTotal.WithLabelValues(string(status), p.TriggerSource).Inc()

	if runErr != nil {
		return result, runErr
	}
	return result, nil
}

func (s *Service) runOnSandbox(ctx context.Context, run db.AgentRun, orgID, teamNodeID uuid.UUID, p RunParams, sink EventSink) (*Result, error) {
	jti := uuid.New().String()
	sandboxJWT, err := s.sandboxSig.MintSandbox(s.sandboxAud, orgID.String(), teamNodeID.String(), jti, run.ID.String(), s.sandboxTTL)
	if err != nil {
		return nil, fmt.Errorf("minting sandbox jwt: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"agent_name":          p.AgentName,
		"message":             p.Message,
		"context":             p.Context,
		"max_turns":           p.MaxTurns,
		"correlation_id":      p.CorrelationID,
		"trigger_source":      p.TriggerSource,
		"output_destinations": p.OutputDestinations,
		"org_id":              orgID.String(),
		"team_node_id":        teamNodeID.String(),
	})
	if err != nil {
		return nil, fmt.Errorf("encoding agent run request: %w", err)
	}

	resp, err := s.dialWithRetry(ctx, body, sandboxJWT, run.ID.String())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return s.streamEvents(run.ID, resp.Body, p.MaxTurns, sink)
}

// dialWithRetry posts to the agent runtime, retrying connect errors only
// (never 4xx/5xx) up to RetryCount times with exponential backoff capped at
// RetryMaxDelaySeconds (§6 "Sandbox router").
func (s *Service) dialWithRetry(ctx context.Context, body []byte, sandboxJWT, runID string) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < RetryCount; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.agentAPIURL+"/run", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("building agent run request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		req.Header.Set("X-Sandbox-JWT", sandboxJWT)
		req.Header.Set("X-Sandbox-ID", runID)

		resp, err := s.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) || opErr.Op != "dial" {
			return nil, apperr.New(apperr.SandboxUnavailable, fmt.Sprintf("agent run request failed: %v", err))
		}
		lastErr = err
		s.logger.Warn("dialing sandbox, retrying", "attempt", attempt+1, "run_id", runID, "error", err)

		delay := math.Min(RetryBaseDelaySeconds*math.Pow(2, float64(attempt)), RetryMaxDelaySeconds)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}
	}
	return nil, apperr.New(apperr.SandboxUnavailable, fmt.Sprintf("sandbox unreachable after %d attempts: %v", RetryCount, lastErr))
}

// streamEvents decodes one JSON Event per `data:` line until a terminal
// event type or maxTurns tool invocations are exceeded (§6 streaming
// envelope, §4.C10 max_turns_exceeded).
func (s *Service) streamEvents(runID uuid.UUID, body io.Reader, maxTurns int32, sink EventSink) (*Result, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	result := &Result{RunID: runID}
	var turns int32

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var evt Event
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			s.logger.Warn("decoding agent event", "error", err, "run_id", runID)
			continue
		}
		result.EventsCount++
		result.Events = append(result.Events, evt)
		if sink != nil {
			sink(evt)
		}

		switch evt.Type {
		case EventToolStart:
			turns++
			if turns > maxTurns {
				return result, apperr.New(apperr.MaxTurnsExceeded, fmt.Sprintf("agent exceeded max_turns=%d", maxTurns))
			}
		case EventResult:
			var data resultData
			_ = json.Unmarshal(evt.Data, &data)
			result.Success = true
			result.ResultText = data.Text
			result.Images = data.Images
			result.Files = data.Files
			return result, nil
		case EventError:
			var data struct {
				Error string `json:"error"`
			}
			_ = json.Unmarshal(evt.Data, &data)
			return result, apperr.New(apperr.AgentError, data.Error)
		}
	}
	if err := scanner.Err(); err != nil {
		return result, apperr.New(apperr.SandboxTimeout, fmt.Sprintf("agent stream ended unexpectedly: %v", err))
	}
	return result, apperr.New(apperr.AgentError, "agent stream closed without a terminal event")
}

type resultData struct {
	Text   string          `json:"text"`
	Images json.RawMessage `json:"images,omitempty"`
	Files  json.RawMessage `json:"files,omitempty"`
}
