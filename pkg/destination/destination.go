// Package destination implements C6: the pure function that resolves an
// ordered list of output destinations for one trigger.
package destination

// Kind enumerates the destination kinds C12's fan-out knows how to post to.
type Kind string

const (
	KindSlack              Kind = "slack"
	KindGitHubPRComment    Kind = "github_pr_comment"
	KindGitHubIssueComment Kind = "github_issue_comment"
	KindPagerDutyNote      Kind = "pagerduty_note"
	KindIncidentioTimeline Kind = "incidentio_timeline"
)

// Destination is one place a result artifact can be posted (§4.C6/C12).
type Destination struct {
	Kind Kind `json:"kind"`

	// Slack
	SlackChannel  string `json:"slack_channel,omitempty"`
	SlackThreadTS string `json:"slack_thread_ts,omitempty"`
	SlackBotToken string `json:"-"` // never serialized; injected at resolve time

	// GitHub
	GitHubOwner  string `json:"github_owner,omitempty"`
	GitHubRepo   string `json:"github_repo,omitempty"`
	GitHubNumber int    `json:"github_number,omitempty"`

	// PagerDuty / Incident.io
	IncidentID string `json:"incident_id,omitempty"`
}
