package credentialproxy

import (
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

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/audit"
	"github.com/pmco23/incidentfox-sub007/internal/crypto"
	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
	"github.com/pmco23/incidentfox-sub007/pkg/dispatch"
	"github.com/pmco23/incidentfox-sub007/pkg/nodeconfig"
)

// hopByHopHeaders are stripped from both the inbound request and the
// upstream response, per RFC 7230 §6.1 (§4.C11 step 4/5).
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

// Handler implements C11. It is mounted as its own standalone HTTP
// server in credential-proxy mode (not under the authenticated admin
// /api/v1 tree): its own auth is the sandbox JWT, not a bearer principal.
type Handler struct {
	sandboxSig *crypto.JWTSigner
	sandboxAud string
	effective  *nodeconfig.EffectiveService
	registry   *nodeconfig.Registry
	audit      *audit.Writer
	httpClient *http.Client
	logger     *slog.Logger
}

// NewHandler builds a credential-proxy Handler.
func NewHandler(sandboxSig *crypto.JWTSigner, sandboxAud string, effective *nodeconfig.EffectiveService, registry *nodeconfig.Registry, auditWriter *audit.Writer, logger *slog.Logger) *Handler {
	return &Handler{
		sandboxSig: sandboxSig,
		sandboxAud: sandboxAud,
		effective:  effective,
		registry:   registry,
		audit:      auditWriter,
		httpClient: &http.Client{
			Timeout: 0, // streaming responses must not be cut off (§4.C11 step 5)
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			},
		},
		logger: logger,
	}
}

// Mount registers the proxy's routes on r, the process's root router.
func (h *Handler) Mount(r chi.Router) {
	r.Handle("/v1/messages", http.HandlerFunc(h.handleMessages))
	r.Handle("/*", http.HandlerFunc(h.handleGeneric))
}

// sandboxAuth authenticates the inbound X-Sandbox-JWT header and returns
// the (org_id, team_node_id) it names. The URL's own routing data are
// never trusted for tenant identity (§4.C11 invariant 2).
func (h *Handler) sandboxAuth(r *http.Request) (*crypto.SandboxClaims, error) {
	token := r.Header.Get("X-Sandbox-JWT")
	if token == "" {
		return nil, apperr.New(apperr.MissingSandboxJWT, "X-Sandbox-JWT header is required")
	}
	claims, err := h.sandboxSig.VerifySandbox(token, h.sandboxAud)
	if err != nil {
		return nil, apperr.New(apperr.InvalidToken, "sandbox jwt verification failed")
	}
	return claims, nil
}

func (h *Handler) handleGeneric(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	claims, err := h.sandboxAuth(r)
	if err != nil {
		respondAppErr(w, err)
		return
	}

	provider, upstreamPath, ok := resolveProviderFromPath(r.URL.Path)
	if !ok {
		respondAppErr(w, apperr.New(apperr.NotFound, "no provider registered for this path"))
		return
	}

	creds, baseURL, err := h.resolveCredential(r.Context(), claims, provider)
	if err != nil {
		respondAppErr(w, err)
		return
	}

	upstreamURL := strings.TrimSuffix(baseURL, "/") + upstreamPath
	if r.URL.RawQuery != "" {
		upstreamURL += "?" + r.URL.RawQuery
	}

	bytesOut, status, err := h.forward(w, r, upstreamURL, provider.AuthStyle, creds)
	h.recordAccess(claims, provider.IntegrationID, r.Method, r.URL.Path, status, bytesOut, time.Since(start), err)
}

func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	claims, err := h.sandboxAuth(r)
	if err != nil {
		respondAppErr(w, err)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		respondAppErr(w, apperr.New(apperr.SchemaViolation, "reading request body"))
		return
	}

	modelRef := r.Header.Get("x-llm-model")
	if modelRef == "" {
		var probe struct {
			Model string `json:"model"`
		}
		_ = json.Unmarshal(body, &probe)
		modelRef = probe.Model
	}

	provider, model, ok := resolveLLMProvider(modelRef)
	if !ok {
		respondAppErr(w, apperr.New(apperr.IntegrationNotConfigured, fmt.Sprintf("no provider registered for model %q", modelRef)))
		return
	}

	creds, baseURL, err := h.resolveCredential(r.Context(), claims, provider)
	if err != nil {
		respondAppErr(w, err)
		return
	}

	var (
		upstreamBody []byte
		upstreamPath string
	)
	if provider.ID == "anthropic" {
		upstreamBody = body
		upstreamPath = "/v1/messages"
	} else if provider.OpenAICompatible {
		upstreamBody, err = translateRequestToOpenAI(body, model)
		if err != nil {
			respondAppErr(w, apperr.New(apperr.SchemaViolation, err.Error()))
			return
		}
		upstreamPath = "/v1/chat/completions"
	} else {
		// Gemini/Bedrock native shapes differ enough that a full
		// translation is out of scope here; forward the normalized body
		// as-is and let the upstream's own compatibility layer (where one
		// exists) interpret it.
		upstreamBody = body
		upstreamPath = "/v1/messages"
	}

	upstreamURL := strings.TrimSuffix(baseURL, "/") + upstreamPath

	resp, err := h.dialWithRetry(r.Context(), r.Method, upstreamURL, upstreamBody, func(req *http.Request) error {
		req.Header.Set("Content-Type", "application/json")
		return injectAuth(req, provider.AuthStyle, creds)
	})
	if err != nil {
		respondAppErr(w, err)
		return
	}
	defer resp.Body.Close()

	var bytesOut int64
	if provider.ID != "anthropic" && provider.OpenAICompatible {
		if isEventStream(resp.Header) {
			copyResponseHeaders(w, resp.Header)
			w.WriteHeader(resp.StatusCode)
			fw, flushable := w.(flushWriter)
			if !flushable {
				fw = nonFlushingWriter{w}
			}
			if err := streamOpenAIAsAnthropic(resp.Body, fw, model); err != nil {
				h.logger.Warn("streaming translated LLM response", "error", err)
			}
		} else {
			raw, _ := io.ReadAll(resp.Body)
			translated, terr := translateResponseFromOpenAI(raw)
			if terr != nil {
				respondAppErr(w, apperr.New(apperr.AgentError, terr.Error()))
				return
			}
			copyResponseHeaders(w, resp.Header)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(resp.StatusCode)
			n, _ := w.Write(translated)
			bytesOut = int64(n)
		}
	} else {
		bytesOut = h.streamBody(w, resp)
	}

	status := resp.StatusCode
	h.recordAccess(claims, provider.IntegrationID, r.Method, "/v1/messages", status, bytesOut, time.Since(start), nil)
}

// resolveCredential reads the sandbox's tenant effective config and
// extracts + decrypts the provider's integration block, returning the
// credential and the upstream base URL (tenant override if the block
// names a domain/api_host, else the provider's built-in default).
func (h *Handler) resolveCredential(ctx context.Context, claims *crypto.SandboxClaims, provider Provider) (map[string]any, string, error) {
	orgID, err := uuid.Parse(claims.OrgID)
	if err != nil {
		return nil, "", apperr.New(apperr.InvalidToken, "sandbox jwt org_id is not a uuid")
	}
	teamNodeID, err := uuid.Parse(claims.TeamNodeID)
	if err != nil {
		return nil, "", apperr.New(apperr.InvalidToken, "sandbox jwt team_node_id is not a uuid")
	}

	effective, err := h.effective.Resolve(ctx, orgID, teamNodeID)
	if err != nil {
		return nil, "", fmt.Errorf("resolving effective config: %w", err)
	}

	creds, ok, err := h.registry.GetIntegrationConfig(effective, provider.IntegrationID)
	if err != nil {
		return nil, "", fmt.Errorf("decrypting integration config: %w", err)
	}
	if !ok {
		return nil, "", apperr.New(apperr.IntegrationNotConfigured, fmt.Sprintf("integration %q is not configured", provider.IntegrationID)).
			WithDetail(map[string]any{"integration_id": provider.IntegrationID})
	}

	baseURL := provider.DefaultBaseURL
	for _, key := range []string{"domain", "api_host"} {
		if v, ok := creds[key].(string); ok && v != "" {
			baseURL = v
			if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
				baseURL = "https://" + baseURL
			}
			break
		}
	}
	if baseURL == "" {
		return nil, "", apperr.New(apperr.IntegrationNotConfigured, fmt.Sprintf("integration %q has no base URL configured", provider.IntegrationID)).
			WithDetail(map[string]any{"integration_id": provider.IntegrationID})
	}

	return creds, baseURL, nil
}

// forward builds and issues the upstream request for the generic
// provider-proxy path, then streams the response back to w. It returns
// the byte count written and the upstream status code (0 on transport
// failure).
func (h *Handler) forward(w http.ResponseWriter, r *http.Request, upstreamURL string, style AuthStyle, creds map[string]any) (int64, int, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondAppErr(w, apperr.New(apperr.SchemaViolation, "reading request body"))
		return 0, 0, err
	}

	resp, err := h.dialWithRetry(r.Context(), r.Method, upstreamURL, body, func(req *http.Request) error {
		copyForwardableHeaders(req.Header, r.Header)
		return injectAuth(req, style, creds)
	})
	if err != nil {
		respondAppErr(w, err)
		return 0, 0, err
	}
	defer resp.Body.Close()

	n := h.streamBody(w, resp)
	return n, resp.StatusCode, nil
}

// dialWithRetry issues the request, retrying only connect errors (never
// 4xx/5xx responses) up to dispatch.RetryCount times with exponential
// backoff capped at dispatch.RetryMaxDelaySeconds (§4.C11 invariant: the
// proxy retries only on connect errors, never on upstream status codes).
// configureReq sets headers/auth on each attempt's fresh request.
func (h *Handler) dialWithRetry(ctx context.Context, method, url string, body []byte, configureReq func(*http.Request) error) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < dispatch.RetryCount; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
		if err != nil {
			return nil, apperr.New(apperr.AgentError, err.Error())
		}
		if err := configureReq(req); err != nil {
			return nil, err
		}

		resp, err := h.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) || opErr.Op != "dial" {
			return nil, apperr.New(apperr.UpstreamTimeout, fmt.Sprintf("upstream request failed: %v", err))
		}
		lastErr = err
		h.logger.Warn("dialing upstream, retrying", "attempt", attempt+1, "url", url, "error", err)

		delay := math.Min(dispatch.RetryBaseDelaySeconds*math.Pow(2, float64(attempt)), dispatch.RetryMaxDelaySeconds)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}
	}
	return nil, apperr.New(apperr.UpstreamTimeout, fmt.Sprintf("upstream unreachable after %d attempts: %v", dispatch.RetryCount, lastErr))
}

// streamBody copies resp's status, headers (minus hop-by-hop), and body to
// w, flushing after each chunk so Server-Sent-Events reach the sandbox
// without buffering (§4.C11 step 5).
func (h *Handler) streamBody(w http.ResponseWriter, resp *http.Response) int64 {
	copyResponseHeaders(w, resp.Header)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	var total int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			written, writeErr := w.Write(buf[:n])
			total += int64(written)
			if flusher != nil {
				flusher.Flush()
			}
			if writeErr != nil {
				break
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				h.logger.Warn("reading upstream response body", "error", readErr)
			}
			break
		}
	}
	return total
}

// copyForwardableHeaders copies src into dst, dropping hop-by-hop headers
// and the inbound trust headers that must never reach the upstream or be
// trusted from the sandbox (§4.C11 step 4).
func copyForwardableHeaders(dst, src http.Header) {
	for name, values := range src {
		if isStrippedInboundHeader(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}

func isStrippedInboundHeader(name string) bool {
	lower := strings.ToLower(name)
	if lower == "authorization" {
		return true
	}
	if strings.HasPrefix(lower, "x-sandbox-") || strings.HasPrefix(lower, "x-tenant-") || strings.HasPrefix(lower, "x-team-") {
		return true
	}
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func copyResponseHeaders(w http.ResponseWriter, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

func isEventStream(h http.Header) bool {
	return strings.Contains(strings.ToLower(h.Get("Content-Type")), "text/event-stream")
}

// nonFlushingWriter adapts a plain http.ResponseWriter to flushWriter when
// the underlying writer doesn't implement http.Flusher (e.g. in tests).
type nonFlushingWriter struct {
	http.ResponseWriter
}

func (nonFlushingWriter) Flush() {}

// accessRecord is the structured detail persisted for every credential
// access, §4.C11 step 6.
type accessRecord struct {
	Integration   string `json:"integration"`
	Method        string `json:"method"`
	Path          string `json:"path"`
	UpstreamStatus int   `json:"upstream_status"`
	BytesOut      int64  `json:"bytes_out"`
	DurationMS    int64  `json:"duration_ms"`
	SandboxJTI    string `json:"sandbox_jti"`
}

func (h *Handler) recordAccess(claims *crypto.SandboxClaims, integrationID, method, path string, status int, bytesOut int64, dur time.Duration, forwardErr error) {
	if h.audit == nil {
		return
	}
	outcome := "success"
	if forwardErr != nil || status >= 400 {
		outcome = "error"
	}
	detail, _ := json.Marshal(accessRecord{
		Integration:    integrationID,
		Method:         method,
		Path:           path,
		UpstreamStatus: status,
		BytesOut:       bytesOut,
		DurationMS:     dur.Milliseconds(),
		SandboxJTI:     claims.ID,
	})

	orgID, err1 := uuid.Parse(claims.OrgID)
	teamNodeID, err2 := uuid.Parse(claims.TeamNodeID)
	entry := audit.Entry{
		Actor:   "sandbox:" + claims.RunID,
		Action:  "credential_proxy.access",
		Target:  "integration:" + integrationID,
		Outcome: outcome,
		Detail:  detail,
	}
	if err1 == nil {
		entry.OrgID = &orgID
	}
	if err2 == nil {
		entry.TeamNodeID = &teamNodeID
	}
	h.audit.Log(entry)
}

func respondAppErr(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		if appErr.Detail != nil {
			httpserver.Respond(w, apperr.HTTPStatus(appErr.Kind), map[string]any{
				"error":   string(appErr.Kind),
				"message": appErr.Message,
				"detail":  appErr.Detail,
			})
			return
		}
		httpserver.RespondError(w, apperr.HTTPStatus(appErr.Kind), string(appErr.Kind), appErr.Message)
		return
	}
	httpserver.RespondError(w, http.StatusBadGateway, "upstream_error", err.Error())
}
