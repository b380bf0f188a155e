// Package fanout implements C12: posting one agent run's result to every
// destination C6 resolved for it, capturing a per-destination outcome so one
// failing post never blocks the others (§4.C12).
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/pmco23/incidentfox-sub007/pkg/destination"
)

// Content is the material to post: a run's human-readable result plus any
// tabular data it produced.
type Content struct {
	RunID   string
	Summary string     // markdown-ish body text
	Tables  [][][]string // each table is rows of cells; first row is the header
	DetailURL string   // optional link back to the full run
}

// Result captures the outcome of posting Content to one Destination.
type Result struct {
	Destination destination.Destination `json:"destination"`
	Outcome     string                  `json:"outcome"` // "posted" or "error"
	Ref         string                  `json:"ref,omitempty"`
	Error       string                  `json:"error,omitempty"`
}

const githubFeedbackMarker = "<!-- incidentfox:run_id=%s -->"

// Poster posts run results to Slack, GitHub, PagerDuty and Incident.io.
type Poster struct {
	httpClient *http.Client
	logger     *slog.Logger

	githubBaseURL     string
	pagerdutyBaseURL  string
	incidentioBaseURL string
}

// NewPoster builds a Poster. Base URLs default to the vendors' public APIs
// and only need overriding in tests.
func NewPoster(logger *slog.Logger) *Poster {
	return &Poster{
		httpClient:        &http.Client{Timeout: 15 * time.Second},
		logger:            logger,
		githubBaseURL:     "https://api.github.com",
		pagerdutyBaseURL:  "https://api.pagerduty.com",
		incidentioBaseURL: "https://api.incident.io/v2",
	}
}

// PostAll posts content to every destination, one goroutine-free sequential
// pass (the caller already dispatches agent runs concurrently; fanning out
// further per-destination buys nothing and complicates error aggregation).
// A failure on one destination is recorded in its Result and does not stop
// the remaining destinations from being attempted (§4.C12, §8 property: a
// single dead destination doesn't starve the others).
func (p *Poster) PostAll(ctx context.Context, dests []destination.Destination, content Content, creds Credentials) []Result {
	results := make([]Result, 0, len(dests))
	for _, d := range dests {
		ref, err := p.post(ctx, d, content, creds)
		r := Result{Destination: d}
		if err != nil {
			r.Outcome = "error"
			r.Error = err.Error()
			p.logger.Warn("fanout post failed", "kind", d.Kind, "run_id", content.RunID, "error", err)
		} else {
			r.Outcome = "posted"
			r.Ref = ref
		}
		results = append(results, r)
	}
	return results
}

// Credentials carries the per-vendor tokens needed to post, resolved by the
// caller from the team's effective integration config.
type Credentials struct {
	GitHubToken     string
	PagerDutyToken  string
	IncidentioToken string
}

func (p *Poster) post(ctx context.Context, d destination.Destination, content Content, creds Credentials) (string, error) {
	switch d.Kind {
	case destination.KindSlack:
		return p.postSlack(ctx, d, content)
	case destination.KindGitHubPRComment, destination.KindGitHubIssueComment:
		return p.postGitHubComment(ctx, d, content, creds.GitHubToken)
	case destination.KindPagerDutyNote:
		return p.postPagerDutyNote(ctx, d, content, creds.PagerDutyToken)
	case destination.KindIncidentioTimeline:
		return p.postIncidentioTimeline(ctx, d, content, creds.IncidentioToken)
	default:
		return "", fmt.Errorf("fanout: unknown destination kind %q", d.Kind)
	}
}

func (p *Poster) postSlack(ctx context.Context, d destination.Destination, content Content) (string, error) {
	if d.SlackBotToken == "" {
		return "", fmt.Errorf("fanout: slack destination has no bot token resolved")
	}
	client := goslack.New(d.SlackBotToken)

	opts := []goslack.MsgOption{
		goslack.MsgOptionBlocks(slackBlocks(content)...),
		goslack.MsgOptionText(content.Summary, false),
	}
	if d.SlackThreadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(d.SlackThreadTS))
	}

	_, ts, err := client.PostMessageContext(ctx, d.SlackChannel, opts...)
	if err != nil {
		return "", fmt.Errorf("posting slack message: %w", err)
	}
	return ts, nil
}

// slackBlocks renders Content as Block Kit blocks. At most one table is
// rendered natively (as a markdown section); any further tables degrade to
// preformatted text so one run never produces an unbounded number of rich
// blocks (§4.C12).
func slackBlocks(content Content) []goslack.Block {
	blocks := []goslack.Block{
		goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, content.Summary, false, false), nil, nil),
	}
	for i, table := range content.Tables {
		text := renderMarkdownTable(table)
		if i == 0 {
			blocks = append(blocks, goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil))
		} else {
			blocks = append(blocks, goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, "```\n"+text+"\n```", false, false), nil, nil))
		}
	}
	if content.DetailURL != "" {
		blocks = append(blocks, goslack.NewContextBlock("", goslack.NewTextBlockObject(goslack.MarkdownType, "<"+content.DetailURL+"|View full run>", false, false)))
	}
	return blocks
}

func renderMarkdownTable(rows [][]string) string {
	var out string
	for i, row := range rows {
		out += "| " + joinCells(row) + " |\n"
		if i == 0 {
			out += "|" + dividerCells(len(row)) + "|\n"
		}
	}
	return out
}

func joinCells(cells []string) string {
	out := ""
	for i, c := range cells {
		if i > 0 {
			out += " | "
		}
		out += c
	}
	return out
}

func dividerCells(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += " --- |"
	}
	return out
}
