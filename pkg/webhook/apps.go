package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pmco23/incidentfox-sub007/internal/apperr"
	"github.com/pmco23/incidentfox-sub007/internal/db"
)

// SlackAppRegistry resolves a multi-app Slack slug to its signing secret and
// bot token (supplemented feature, SPEC_FULL.md: multiple Slack apps —
// per-environment or per-brand — sharing one deployment).
type SlackAppRegistry struct {
	pool *pgxpool.Pool
}

// NewSlackAppRegistry builds a SlackAppRegistry.
func NewSlackAppRegistry(pool *pgxpool.Pool) *SlackAppRegistry {
	return &SlackAppRegistry{pool: pool}
}

// Lookup resolves slug to its registered app, or apperr.NotFound.
func (r *SlackAppRegistry) Lookup(ctx context.Context, slug string) (db.SlackApp, error) {
	q := db.New(r.pool)
	app, err := q.GetSlackApp(ctx, slug)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return db.SlackApp{}, apperr.New(apperr.NotFound, fmt.Sprintf("no registered slack app %q", slug))
		}
		return db.SlackApp{}, fmt.Errorf("looking up slack app: %w", err)
	}
	return app, nil
}

// AppSummary is the redacted view returned by GET /internal/slack/apps.
type AppSummary struct {
	Slug          string `json:"slug"`
	HasSigningSecret bool `json:"has_signing_secret"`
	HasBotToken   bool   `json:"has_bot_token"`
}

// List returns every registered app, with secrets redacted to presence
// booleans.
func (r *SlackAppRegistry) List(ctx context.Context) ([]AppSummary, error) {
	q := db.New(r.pool)
	apps, err := q.ListSlackApps(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing slack apps: %w", err)
	}

	out := make([]AppSummary, 0, len(apps))
	for _, a := range apps {
		out = append(out, AppSummary{
			Slug:             a.Slug,
			HasSigningSecret: a.SigningSecret != "",
			HasBotToken:      a.BotToken != "",
		})
	}
	return out, nil
}
