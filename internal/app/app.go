// Package app wires the control plane's components together and runs
// whichever process mode CONTROLPLANE_MODE selects.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/pmco23/incidentfox-sub007/internal/audit"
	"github.com/pmco23/incidentfox-sub007/internal/auth"
	"github.com/pmco23/incidentfox-sub007/internal/config"
	"github.com/pmco23/incidentfox-sub007/internal/crypto"
	"github.com/pmco23/incidentfox-sub007/internal/httpserver"
	"github.com/pmco23/incidentfox-sub007/internal/platform"
	"github.com/pmco23/incidentfox-sub007/internal/telemetry"
	"github.com/pmco23/incidentfox-sub007/pkg/credentialproxy"
	"github.com/pmco23/incidentfox-sub007/pkg/dispatch"
	"github.com/pmco23/incidentfox-sub007/pkg/fanout"
	"github.com/pmco23/incidentfox-sub007/pkg/nodeconfig"
	"github.com/pmco23/incidentfox-sub007/pkg/provisioning"
	"github.com/pmco23/incidentfox-sub007/pkg/sandboxrouter"
	"github.com/pmco23/incidentfox-sub007/pkg/scheduler"
	"github.com/pmco23/incidentfox-sub007/pkg/webhook"
)

// Run loads dependencies common to every mode, then hands off to the
// mode-specific runner named by cfg.Mode.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("starting", "mode", cfg.Mode)

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	pool, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}
	defer pool.Close()

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connecting to redis: %w", err)
	}
	defer rdb.Close()

	box := crypto.NewBox(cfg.EncryptionKey)
	impSig, err := crypto.NewJWTSigner(cfg.ImpersonationJWTSecret)
	if err != nil {
		return fmt.Errorf("building impersonation signer: %w", err)
	}
	sandboxSig, err := crypto.NewJWTSigner(cfg.SandboxJWTSecret)
	if err != nil {
		return fmt.Errorf("building sandbox signer: %w", err)
	}

	store := nodeconfig.NewStore(pool)
	effective := nodeconfig.NewEffectiveService(store, rdb, logger)
	go effective.Subscribe(ctx)

	registry := nodeconfig.NewRegistry(nodeconfig.DefaultSchemas, box)
	nodeSvc := nodeconfig.NewService(
		store, effective, registry, pool,
		cfg.TokenPepper, impSig,
		time.Duration(cfg.ImpersonationTokenTTLSeconds)*time.Second,
		cfg.ImpersonationJWTAudience, cfg.ImpersonationJTIDBLogging,
	)

	auditWriter := audit.NewWriter(pool, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	switch cfg.Mode {
	case "api":
		return runAPI(ctx, cfg, logger, pool, rdb, impSig, sandboxSig, store, effective, registry, nodeSvc, auditWriter)
	case "scheduler":
		return runScheduler(ctx, cfg, logger)
	case "credential-proxy":
		return runCredentialProxy(ctx, cfg, logger, sandboxSig, effective, registry, auditWriter)
	case "sandbox-router":
		return runSandboxRouter(ctx, cfg, logger)
	default:
		return fmt.Errorf("unknown CONTROLPLANE_MODE %q", cfg.Mode)
	}
}

// runAPI serves the public and admin HTTP surface: webhook intake (C7),
// node config and auth (C2-C5), provisioning (C8), agent dispatch (C10),
// and the internal endpoints the scheduler process polls over HTTP.
func runAPI(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	pool *pgxpool.Pool,
	rdb *redis.Client,
	impSig, sandboxSig *crypto.JWTSigner,
	store *nodeconfig.Store,
	effective *nodeconfig.EffectiveService,
	registry *nodeconfig.Registry,
	nodeSvc *nodeconfig.Service,
	auditWriter *audit.Writer,
) error {
	var oidcVerifier *auth.OIDCVerifier
	if cfg.OIDCEnabled {
		v, err := auth.NewOIDCVerifier(cfg.OIDCIssuer, cfg.OIDCAudience, cfg.OIDCJWKSJSON, cfg.OIDCOrgIDClaim, cfg.OIDCTeamNodeIDClaim)
		if err != nil {
			return fmt.Errorf("building OIDC verifier: %w", err)
		}
		oidcVerifier = v
	}

	classifier := auth.NewClassifier(pool, cfg, impSig, oidcVerifier, logger)

	var limiter *auth.RateLimiter
	if rdb != nil {
		limiter = auth.NewRateLimiter(rdb, 10, 15*time.Minute)
	}
	authMiddleware := auth.Middleware(classifier, limiter, logger)

	metricsReg := prometheus.NewRegistry()
	for _, c := range telemetry.All() {
		metricsReg.MustRegister(c)
	}
	metricsReg.MustRegister(collectors.NewGoCollector())
	metricsReg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv := httpserver.NewServer(cfg, logger, pool, rdb, metricsReg, authMiddleware)

	nodeconfig.NewHandler(nodeSvc, auditWriter).Mount(srv.APIRouter)

	dispatchSvc := dispatch.NewService(pool, sandboxSig, cfg.SandboxJWTAudience, time.Duration(cfg.SandboxTokenTTLSec)*time.Second, cfg.AgentAPIURL, logger)
	poster := fanout.NewPoster(logger)
	orchestrator := dispatch.NewOrchestrator(dispatchSvc, effective, registry, poster, auditWriter, cfg, logger)
	dispatch.NewHandler(dispatchSvc, auditWriter, cfg.VisitorPlaygroundName).Mount(srv.APIRouter)

	provisioningSvc := provisioning.NewService(pool, store, nodeSvc, effective, cfg, logger)
	provisioning.NewHandler(provisioningSvc, auditWriter).Mount(srv.APIRouter)

	scheduler.NewHandler(pool, nodeSvc, logger).Mount(srv.APIRouter)

	resolver := webhook.NewResolver(pool, store)
	slackApps := webhook.NewSlackAppRegistry(pool)
	webhook.NewHandler(cfg, resolver, slackApps, orchestrator, logger).Mount(srv.Router)

	return serve(ctx, cfg.ListenAddr(), srv, logger)
}

// runScheduler dequeues due scheduled jobs against the api process over
// HTTP and fires the agent they name (C9). It serves no HTTP surface of
// its own.
func runScheduler(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	poller := scheduler.NewPoller(cfg.ConfigServiceURL, time.Duration(cfg.SchedulerPollInterval)*time.Second, logger)
	poller.Run(ctx)
	return nil
}

// runCredentialProxy serves the sandbox-facing credential injection proxy
// (C11) as its own process, so a compromised sandbox's network surface
// never includes the admin API or the database.
func runCredentialProxy(
	ctx context.Context,
	cfg *config.Config,
	logger *slog.Logger,
	sandboxSig *crypto.JWTSigner,
	effective *nodeconfig.EffectiveService,
	registry *nodeconfig.Registry,
	auditWriter *audit.Writer,
) error {
	r := chi.NewRouter()
	credentialproxy.NewHandler(sandboxSig, cfg.SandboxJWTAudience, effective, registry, auditWriter, logger).Mount(r)

	srv := &http.Server{Addr: cfg.ListenAddr(), Handler: r}
	return serveRaw(ctx, srv, logger)
}

// runSandboxRouter serves the cluster-local reverse proxy that lets the
// agent runtime address a sandbox by ID without resolving its network
// address itself.
func runSandboxRouter(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	r := chi.NewRouter()
	sandboxrouter.NewRouter(logger).Mount(r)

	srv := &http.Server{Addr: fmt.Sprintf("%s:%d", cfg.Host, cfg.SandboxRouterPort), Handler: r}
	return serveRaw(ctx, srv, logger)
}

// serve runs srv (an httpserver.Server) until ctx is cancelled, then shuts
// it down gracefully.
func serve(ctx context.Context, addr string, srv *httpserver.Server, logger *slog.Logger) error {
	httpSrv := &http.Server{Addr: addr, Handler: srv}
	return serveRaw(ctx, httpSrv, logger)
}

// serveRaw runs srv until ctx is cancelled, then shuts it down within a
// bounded grace period.
func serveRaw(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		return <-errCh
	}
}
