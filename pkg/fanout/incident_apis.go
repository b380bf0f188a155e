package fanout

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/pmco23/incidentfox-sub007/pkg/destination"
)

// Neither PagerDuty nor Incident.io has a Go SDK anywhere in the example
// pack, so these two posters speak their REST APIs directly over
// net/http — the one ambient concern in this package without a
// third-party client library to ground on.

func (p *Poster) postPagerDutyNote(ctx context.Context, d destination.Destination, content Content, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("fanout: pagerduty destination has no token resolved")
	}

	body := map[string]any{
		"note": map[string]any{
			"content": content.Summary,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling pagerduty note: %w", err)
	}

	url := fmt.Sprintf("%s/incidents/%s/notes", p.pagerdutyBaseURL, d.IncidentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building pagerduty request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token token="+token)
	req.Header.Set("From", "incidentfox@controlplane")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting pagerduty note: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("pagerduty note rejected: status %d", resp.StatusCode)
	}

	var decoded struct {
		Note struct {
			ID string `json:"id"`
		} `json:"note"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return decoded.Note.ID, nil
}

func (p *Poster) postIncidentioTimeline(ctx context.Context, d destination.Destination, content Content, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("fanout: incident.io destination has no token resolved")
	}

	body := map[string]any{
		"incident_id":   d.IncidentID,
		"entry_type":    "note",
		"content":       content.Summary,
		"idempotency_key": content.RunID,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshaling incident.io timeline entry: %w", err)
	}

	url := p.incidentioBaseURL + "/timeline_entries"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("building incident.io request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("posting incident.io timeline entry: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("incident.io timeline entry rejected: status %d", resp.StatusCode)
	}

	var decoded struct {
		TimelineEntry struct {
			ID string `json:"id"`
		} `json:"timeline_entry"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return decoded.TimelineEntry.ID, nil
}
