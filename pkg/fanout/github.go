package fanout

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/pmco23/incidentfox-sub007/pkg/destination"
)

func githubClient(ctx context.Context, token, baseURL string) (*github.Client, error) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	client := github.NewClient(oauth2.NewClient(ctx, ts))
	if baseURL != "" && baseURL != "https://api.github.com" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("configuring github enterprise client: %w", err)
		}
	}
	return client, nil
}

// postGitHubComment comments on a PR or issue, embedding a hidden
// incidentfox:run_id marker so CollectGitHubFeedback can later find the
// comment again from reactions alone (SPEC_FULL.md supplemented feature).
func (p *Poster) postGitHubComment(ctx context.Context, d destination.Destination, content Content, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("fanout: github destination has no token resolved")
	}
	client, err := githubClient(ctx, token, p.githubBaseURL)
	if err != nil {
		return "", err
	}

	body := content.Summary
	for _, table := range content.Tables {
		body += "\n\n" + renderMarkdownTable(table)
	}
	body += "\n\n" + fmt.Sprintf(githubFeedbackMarker, content.RunID)

	comment, _, err := client.Issues.CreateComment(ctx, d.GitHubOwner, d.GitHubRepo, d.GitHubNumber, &github.IssueComment{
		Body: &body,
	})
	if err != nil {
		return "", fmt.Errorf("posting github comment: %w", err)
	}
	return comment.GetHTMLURL(), nil
}

// FeedbackEvent is one reaction observed on a run's comment.
// CollectGitHubFeedback returns one per reaction and does not aggregate
// them into positive/negative counts.
type FeedbackEvent struct {
	RunID   string
	Content string // reaction content, e.g. "+1", "-1", "confused"
	User    string
}

// CollectGitHubFeedback lists reactions on the comment identified by
// commentID and maps them back to the run whose marker the comment body
// carries. Nothing in this repository calls it: no poll loop runs it, and
// it records no audit event for the reactions it returns.
func CollectGitHubFeedback(ctx context.Context, client *github.Client, owner, repo string, commentID int64) ([]FeedbackEvent, string, error) {
	comment, _, err := client.Issues.GetComment(ctx, owner, repo, commentID)
	if err != nil {
		return nil, "", fmt.Errorf("fetching github comment: %w", err)
	}
	runID := extractRunID(comment.GetBody())
	if runID == "" {
		return nil, "", nil
	}

	opts := &github.ListOptions{PerPage: 100}
	var events []FeedbackEvent
	for {
		reactions, resp, err := client.Reactions.ListIssueCommentReactions(ctx, owner, repo, commentID, opts)
		if err != nil {
			return nil, "", fmt.Errorf("listing github reactions: %w", err)
		}
		for _, r := range reactions {
			user := ""
			if r.User != nil {
				user = r.User.GetLogin()
			}
			events = append(events, FeedbackEvent{RunID: runID, Content: r.GetContent(), User: user})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return events, runID, nil
}

func extractRunID(body string) string {
	const prefix = "<!-- incidentfox:run_id="
	const suffix = " -->"
	start := strings.Index(body, prefix)
	if start < 0 {
		return ""
	}
	start += len(prefix)
	end := strings.Index(body[start:], suffix)
	if end < 0 {
		return ""
	}
	return body[start : start+end]
}
