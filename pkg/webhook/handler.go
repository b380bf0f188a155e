package webhook

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/config"
	"github.com/pmco23/incidentfox-sub007/internal/db"
	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
	"github.com/pmco23/incidentfox-sub007/internal/telemetry"
)

// Handler implements C7's per-vendor intake endpoints.
type Handler struct {
	cfg        *config.Config
	resolver   *Resolver
	slackApps  *SlackAppRegistry
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewHandler builds a webhook Handler.
func NewHandler(cfg *config.Config, resolver *Resolver, slackApps *SlackAppRegistry, dispatcher Dispatcher, logger *slog.Logger) *Handler {
	return &Handler{cfg: cfg, resolver: resolver, slackApps: slackApps, dispatcher: dispatcher, logger: logger}
}

// Mount registers every webhook route. r is expected to be the
// unauthenticated top-level router (webhooks authenticate by signature, not
// by bearer token).
func (h *Handler) Mount(r chi.Router) {
	r.Post("/webhooks/slack/events", h.slackSingleApp)
	r.Post("/webhooks/slack/{slug}/events", h.slackMultiApp)
	r.Post("/webhooks/github", h.github)
	r.Post("/webhooks/pagerduty", h.pagerduty)
	r.Post("/webhooks/incidentio", h.incidentio)
	r.Post("/webhooks/blameless", h.genericHMAC(SourceBlameless, "blameless"))
	r.Post("/webhooks/firehydrant", h.genericHMAC(SourceFireHydrant, "firehydrant"))
	r.Post("/webhooks/circleback", h.genericHMAC(SourceCircleback, "circleback"))
	r.Post("/webhooks/vercel/logs", h.genericHMAC(SourceVercel, "vercel"))
	r.Post("/webhooks/recall", h.recall)
	r.Post("/webhooks/google-chat", h.googleChat)
	r.Post("/webhooks/teams", h.teams)

	r.Get("/api/v1/internal/slack/apps", h.listSlackApps)
}

func respondErr(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		httpserver.RespondError(w, apperr.HTTPStatus(appErr.Kind), string(appErr.Kind), appErr.Message)
		return
	}
	httpserver.RespondError(w, http.StatusInternalServerError, "internal_error", err.Error())
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, 1<<20))
}

// --- Slack ---

type slackEnvelope struct {
	Type      string          `json:"type"`
	Challenge string          `json:"challenge"`
	EventID   string          `json:"event_id"`
	Event     json.RawMessage `json:"event"`
	Channel   string          `json:"channel,omitempty"`
}

func (h *Handler) slackSingleApp(w http.ResponseWriter, r *http.Request) {
	h.handleSlack(w, r, h.cfg.WebhookSlackSigningSecret)
}

func (h *Handler) slackMultiApp(w http.ResponseWriter, r *http.Request) {
	slug := chi.URLParam(r, "slug")
	app, err := h.slackApps.Lookup(r.Context(), slug)
	if err != nil {
		respondErr(w, err)
		return
	}
	h.handleSlack(w, r, app.SigningSecret)
}

func (h *Handler) handleSlack(w http.ResponseWriter, r *http.Request, signingSecret string) {
	telemetry.WebhooksReceivedTotal.WithLabelValues("slack").Inc()

	body, err := readBody(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := VerifySlack(signingSecret, r.Header.Get("X-Slack-Request-Timestamp"), r.Header.Get("X-Slack-Signature"), body, time.Now()); err != nil {
		telemetry.WebhookSignatureFailuresTotal.WithLabelValues("slack", string(mustKind(err))).Inc()
		respondErr(w, err)
		return
	}

	var env slackEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid slack payload")
		return
	}

	// URL verification challenges are answered synchronously (§4.C7).
	if env.Type == "url_verification" {
		httpserver.Respond(w, http.StatusOK, map[string]string{"challenge": env.Challenge})
		return
	}

	if env.EventID != "" {
		if done := h.ackIfDuplicate(r, w, "slack", env.EventID); done {
			return
		}
	}

	channel := env.Channel
	if channel == "" {
		var inner map[string]any
		_ = json.Unmarshal(env.Event, &inner)
		if c, ok := inner["channel"].(string); ok {
			channel = c
		}
	}

	h.resolveAndDispatch(w, r, SourceSlack, channel, "slack", body, "slack", env.EventID)
}

// --- GitHub ---

type githubEnvelope struct {
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

func (h *Handler) github(w http.ResponseWriter, r *http.Request) {
	telemetry.WebhooksReceivedTotal.WithLabelValues("github").Inc()

	body, err := readBody(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := VerifyGitHub(h.cfg.WebhookGitHubSecret, r.Header.Get("X-Hub-Signature-256"), body); err != nil {
		telemetry.WebhookSignatureFailuresTotal.WithLabelValues("github", string(mustKind(err))).Inc()
		respondErr(w, err)
		return
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if deliveryID != "" {
		if done := h.ackIfDuplicate(r, w, "github", deliveryID); done {
			return
		}
	}

	var env githubEnvelope
	_ = json.Unmarshal(body, &env)

	h.resolveAndDispatch(w, r, SourceGitHub, env.Repository.FullName, "github", body, "github", deliveryID)
}

// --- PagerDuty ---

type pagerdutyEnvelope struct {
	Event struct {
		Data struct {
			Service struct {
				ID string `json:"id"`
			} `json:"service"`
		} `json:"data"`
	} `json:"event"`
}

func (h *Handler) pagerduty(w http.ResponseWriter, r *http.Request) {
	telemetry.WebhooksReceivedTotal.WithLabelValues("pagerduty").Inc()

	body, err := readBody(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := VerifyPagerDuty(h.cfg.WebhookPagerDutySecret, r.Header.Get("X-PagerDuty-Signature"), body); err != nil {
		telemetry.WebhookSignatureFailuresTotal.WithLabelValues("pagerduty", string(mustKind(err))).Inc()
		respondErr(w, err)
		return
	}

	var env pagerdutyEnvelope
	_ = json.Unmarshal(body, &env)

	h.resolveAndDispatch(w, r, SourcePagerDuty, env.Event.Data.Service.ID, "pagerduty", body, "pagerduty", "")
}

// --- Incident.io ---

type incidentioEnvelope struct {
	TeamID string `json:"team_id"`
}

func (h *Handler) incidentio(w http.ResponseWriter, r *http.Request) {
	telemetry.WebhooksReceivedTotal.WithLabelValues("incidentio").Inc()

	body, err := readBody(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	if err := VerifyIncidentio(h.cfg.WebhookIncidentioSecret, r.Header.Get("X-Incident-Signature"), body); err != nil {
		telemetry.WebhookSignatureFailuresTotal.WithLabelValues("incidentio", string(mustKind(err))).Inc()
		respondErr(w, err)
		return
	}

	var env incidentioEnvelope
	_ = json.Unmarshal(body, &env)

	h.resolveAndDispatch(w, r, SourceIncidentio, env.TeamID, "incidentio", body, "incidentio", "")
}

// --- generic HMAC vendors (Blameless, FireHydrant, Circleback, Vercel) ---

func (h *Handler) genericHMAC(source TriggerSource, vendor string) http.HandlerFunc {
	secretFor := map[string]string{
		"blameless":   h.cfg.WebhookBlamelessSecret,
		"firehydrant": h.cfg.WebhookFireHydrantSecret,
		"circleback":  h.cfg.WebhookCirclebackSecret,
		"vercel":      h.cfg.WebhookVercelSecret,
	}

	return func(w http.ResponseWriter, r *http.Request) {
		telemetry.WebhooksReceivedTotal.WithLabelValues(vendor).Inc()

		body, err := readBody(r)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
			return
		}

		if err := VerifyGenericHMAC(vendor, secretFor[vendor], r.Header.Get("X-Signature"), body); err != nil {
			telemetry.WebhookSignatureFailuresTotal.WithLabelValues(vendor, string(mustKind(err))).Inc()
			respondErr(w, err)
			return
		}

		// These surfaces don't carry a stable tenant routing key in spec's
		// glossary; with an empty routing key resolveAndDispatch finds no
		// tenant, so the event is acknowledged and not dispatched.
		h.resolveAndDispatch(w, r, source, "", vendor, body, vendor, "")
	}
}

// --- Recall / Google Chat (bearer) ---

func (h *Handler) recall(w http.ResponseWriter, r *http.Request) {
	telemetry.WebhooksReceivedTotal.WithLabelValues("recall").Inc()

	body, err := readBody(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	presented := bearerFromRequest(r)
	if err := VerifyBearer("recall", h.cfg.WebhookRecallToken, presented); err != nil {
		telemetry.WebhookSignatureFailuresTotal.WithLabelValues("recall", string(mustKind(err))).Inc()
		respondErr(w, err)
		return
	}
	h.resolveAndDispatch(w, r, SourceRecall, "", "recall", body, "recall", "")
}

type googleChatEnvelope struct {
	Space struct {
		Name string `json:"name"`
	} `json:"space"`
}

func (h *Handler) googleChat(w http.ResponseWriter, r *http.Request) {
	telemetry.WebhooksReceivedTotal.WithLabelValues("google_chat").Inc()

	body, err := readBody(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	presented := bearerFromRequest(r)
	if err := VerifyBearer("google_chat", h.cfg.WebhookGoogleChatToken, presented); err != nil {
		telemetry.WebhookSignatureFailuresTotal.WithLabelValues("google_chat", string(mustKind(err))).Inc()
		respondErr(w, err)
		return
	}

	var env googleChatEnvelope
	_ = json.Unmarshal(body, &env)

	h.resolveAndDispatch(w, r, SourceGoogleChat, env.Space.Name, "gchat", body, "google_chat", "")
}

// --- Teams ---

type teamsEnvelope struct {
	ChannelID string `json:"channelId"`
}

func (h *Handler) teams(w http.ResponseWriter, r *http.Request) {
	telemetry.WebhooksReceivedTotal.WithLabelValues("teams").Inc()

	body, err := readBody(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	presented := bearerFromRequest(r)
	if err := VerifyTeamsBotFramework(h.cfg.WebhookTeamsJWKSJSON, h.cfg.WebhookTeamsAppID, presented); err != nil {
		telemetry.WebhookSignatureFailuresTotal.WithLabelValues("teams", string(mustKind(err))).Inc()
		respondErr(w, err)
		return
	}

	var env teamsEnvelope
	_ = json.Unmarshal(body, &env)

	h.resolveAndDispatch(w, r, SourceTeams, env.ChannelID, "teams", body, "teams", "")
}

// --- shared plumbing ---

func bearerFromRequest(r *http.Request) string {
	const prefix = "Bearer "
	h := r.Header.Get("Authorization")
	if len(h) > len(prefix) && h[:len(prefix)] == prefix {
		return h[len(prefix):]
	}
	return ""
}

func mustKind(err error) apperr.Kind {
	if appErr, ok := apperr.As(err); ok {
		return appErr.Kind
	}
	return "unknown"
}

// ackIfDuplicate returns true (and has already written a 200 with the prior
// outcome) if (vendor, eventID) was already processed, per §4.C7 step 2.
func (h *Handler) ackIfDuplicate(r *http.Request, w http.ResponseWriter, vendor, eventID string) bool {
	q := db.New(h.resolver.pool)
	prior, err := q.CheckIdempotentWebhookEvent(r.Context(), vendor, eventID)
	if err != nil {
		return false // not found, or a transient lookup error: proceed as a new delivery
	}
	var outcome any = json.RawMessage(prior.Outcome)
	httpserver.Respond(w, http.StatusOK, outcome)
	return true
}

// resolveAndDispatch runs C7 steps 3-4: tenant resolution (with
// auto-provisioning where enabled), idempotency recording, and handing a
// Trigger to the orchestrator. Heavy work is dispatched in a goroutine so
// the handler returns within the vendor's response budget (e.g. 3s for
// Slack); the handler itself only does signature verification and routing
// synchronously.
func (h *Handler) resolveAndDispatch(w http.ResponseWriter, r *http.Request, source TriggerSource, routingKey, autoProvisionPrefix string, body []byte, vendor, vendorEventID string) {
	ctx := r.Context()

	var orgID, teamNodeID uuid.UUID
	var haveTenant bool

	if routingKey != "" {
		oID, tID, found, err := h.resolver.Resolve(ctx, source, routingKey)
		if err != nil {
			respondErr(w, err)
			return
		}
		if found {
			orgID, teamNodeID, haveTenant = oID, tID, true
		} else if h.cfg.WebhookAutoProvisionEnabled {
			oID, tID, err := h.resolver.AutoProvision(ctx, source, autoProvisionPrefix, routingKey)
			if err != nil {
				respondErr(w, err)
				return
			}
			orgID, teamNodeID, haveTenant = oID, tID, true
		}
	}

	if vendorEventID != "" {
		q := db.New(h.resolver.pool)
		outcome, _ := json.Marshal(map[string]any{"status": "accepted"})
		evt := db.IdempotentWebhookEvent{Vendor: vendor, VendorEventID: vendorEventID, Outcome: outcome}
		if haveTenant {
			evt.OrgID = &orgID
			evt.TeamNodeID = &teamNodeID
		}
		if err := q.RecordIdempotentWebhookEvent(ctx, evt); err != nil {
			h.logger.Warn("recording idempotent webhook event", "error", err, "vendor", vendor)
		}
	}

	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "accepted"})

	if !haveTenant {
		return
	}

	trigger := Trigger{Source: source, OrgID: orgID, TeamNodeID: teamNodeID, Payload: body, RoutingKey: routingKey}
	go func() {
		if err := h.dispatcher.Dispatch(trigger); err != nil {
			h.logger.Error("dispatching webhook trigger", "error", err, "vendor", vendor, "source", source)
		}
	}()
}

func (h *Handler) listSlackApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.slackApps.List(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, apps)
}
