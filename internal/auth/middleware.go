package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
)

// Middleware authenticates every request under /api/v1, attaching the
// resolved Principal to the request context. A request with no
// Authorization header at all is classified as a read-only visitor
// (§4.C5) rather than rejected, so GET /auth/me can report "visitor" and
// public agent-invoke surfaces can gate on permission instead of presence.
//
// limiter bounds failed bearer-classification attempts per client IP,
// guarding the opaque-token and admin-shared-token paths against
// credential-guessing; it may be nil (e.g. in tests) to disable the check.
func Middleware(classifier *Classifier, limiter *RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer := bearerFromHeader(r.Header.Get("Authorization"))

			var principal *Principal
			if bearer == "" {
				principal = visitorPrincipal(r)
			} else {
				ip := clientIP(r)
				if limiter != nil {
					result, err := limiter.Check(r.Context(), ip)
					if err != nil {
						logger.Warn("checking auth rate limit", "error", err)
					} else if !result.Allowed {
						httpserver.RespondError(w, http.StatusTooManyRequests, string(apperr.RateLimited), "too many failed authentication attempts")
						return
					}
				}

				p, err := classifier.Classify(r.Context(), bearer)
				if err != nil {
					if limiter != nil {
						if rerr := limiter.Record(r.Context(), ip); rerr != nil {
							logger.Warn("recording auth rate limit attempt", "error", rerr)
						}
					}
					writeAuthError(w, err)
					return
				}
				if limiter != nil {
					if rerr := limiter.Reset(r.Context(), ip); rerr != nil {
						logger.Warn("resetting auth rate limit", "error", rerr)
					}
				}
				principal = p
			}

			r = r.WithContext(WithPrincipal(r.Context(), principal))
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the request's remote IP, preferring the
// left-most X-Forwarded-For hop when present (the control plane runs
// behind a load balancer in every deployment topology it targets).
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	return r.RemoteAddr
}

func bearerFromHeader(h string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(h, prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func visitorPrincipal(r *http.Request) *Principal {
	sessionID := r.Header.Get("X-Visitor-Session-Id")
	if sessionID == "" {
		sessionID = r.RemoteAddr
	}
	return &Principal{
		Role:             RoleVisitor,
		AuthKind:         AuthKindVisitor,
		VisitorSessionID: sessionID,
		Permissions:      []string{PermAgentInvoke},
		CanWrite:         false,
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	if appErr, ok := apperr.As(err); ok {
		httpserver.RespondError(w, apperr.HTTPStatus(appErr.Kind), string(appErr.Kind), appErr.Message)
		return
	}
	httpserver.RespondError(w, http.StatusUnauthorized, string(apperr.InvalidToken), err.Error())
}

// RequirePermission returns middleware that 403s any principal lacking
// perm. Mount it on the chi sub-router for one admin surface.
func RequirePermission(perm string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := FromContext(r.Context())
			if p == nil || !p.HasPermission(perm) {
				httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "missing required permission: "+perm)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireWrite 403s any principal whose CanWrite is false (used for write
// endpoints gated beyond a plain permission string, e.g. E4's impersonation
// JWT rejection).
func RequireWrite(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := FromContext(r.Context())
		if p == nil || !p.CanWrite {
			httpserver.RespondError(w, http.StatusForbidden, string(apperr.InsufficientPerm), "principal is read-only")
			return
		}
		next.ServeHTTP(w, r)
	})
}
