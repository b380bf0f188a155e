// Package sandboxrouter implements the standalone sandbox-router mode
// (§6 "Sandbox router"): a thin reverse proxy that resolves a sandbox's
// cluster-local address from request headers and proxies to it with
// bounded connect-error retries.
package sandboxrouter

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
	"github.com/pmco23/incidentfox-sub007/pkg/dispatch"
)

// hopByHopHeaders mirrors credentialproxy's stripped header set — this
// proxy forwards everything else verbatim, since (unlike C11) it carries
// no credentials and trusts its caller (the agent runtime) for tenant
// identity.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade",
}

// Router proxies to sandboxes addressed by X-Sandbox-ID.
type Router struct {
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRouter builds a Router.
func NewRouter(logger *slog.Logger) *Router {
	return &Router{
		httpClient: &http.Client{
			Timeout: 0,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			},
		},
		logger: logger,
	}
}

// Mount registers the catch-all proxy route on r.
func (rt *Router) Mount(r chi.Router) {
	r.Handle("/*", http.HandlerFunc(rt.proxy))
}

func (rt *Router) proxy(w http.ResponseWriter, r *http.Request) {
	sandboxID := r.Header.Get("X-Sandbox-ID")
	if sandboxID == "" {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "X-Sandbox-ID header is required")
		return
	}
	namespace := r.Header.Get("X-Sandbox-Namespace")
	if namespace == "" {
		namespace = dispatch.DefaultNamespace
	}
	port := dispatch.DefaultSandboxPort
	if v := r.Header.Get("X-Sandbox-Port"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			port = p
		}
	}

	target := fmt.Sprintf("http://%s.%s.svc:%d%s", sandboxID, namespace, port, r.URL.Path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "reading request body")
		return
	}

	resp, err := rt.dialWithRetry(r, target, body)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadGateway, "sandbox_unavailable", err.Error())
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				rt.logger.Warn("reading sandbox response body", "error", readErr, "sandbox_id", sandboxID)
			}
			return
		}
	}
}

// dialWithRetry issues the request, retrying only connect errors (never
// 4xx/5xx responses) up to dispatch.RetryCount times with exponential
// backoff capped at dispatch.RetryMaxDelaySeconds (§6 "Sandbox router").
func (rt *Router) dialWithRetry(r *http.Request, target string, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt < dispatch.RetryCount; attempt++ {
		req, err := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		copyHeaders(req.Header, r.Header)

		resp, err := rt.httpClient.Do(req)
		if err == nil {
			return resp, nil
		}
		var opErr *net.OpError
		if !errors.As(err, &opErr) || opErr.Op != "dial" {
			return nil, fmt.Errorf("sandbox request failed: %w", err)
		}
		lastErr = err
		rt.logger.Warn("dialing sandbox, retrying", "attempt", attempt+1, "target", target, "error", err)

		delay := math.Min(dispatch.RetryBaseDelaySeconds*math.Pow(2, float64(attempt)), dispatch.RetryMaxDelaySeconds)
		select {
		case <-r.Context().Done():
			return nil, r.Context().Err()
		case <-time.After(time.Duration(delay * float64(time.Second))):
		}
	}
	return nil, fmt.Errorf("sandbox unreachable after %d attempts: %w", dispatch.RetryCount, lastErr)
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if isHopByHop(name) {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
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
