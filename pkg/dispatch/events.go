// Package dispatch implements C10: resolving a team token to a tenant,
// minting a sandbox credential, launching a bounded agent run inside that
// tenant's sandbox, and streaming its structured events to completion.
package dispatch

import "encoding/json"

// EventType enumerates the agent streaming event envelope's `type` field
// (§6 "agent streaming event envelope").
type EventType string

const (
	EventThought        EventType = "thought"
	EventToolStart       EventType = "tool_start"
	EventToolEnd         EventType = "tool_end"
	EventResult          EventType = "result"
	EventError           EventType = "error"
	EventApproval        EventType = "approval"
	EventQuestion        EventType = "question"
	EventQuestionTimeout EventType = "question_timeout"
)

// Event is one line of the `text/event-stream` an agent runtime sends back
// for a run: one JSON object per `data:` line.
type Event struct {
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
	ThreadID  string          `json:"thread_id"`
	Timestamp string          `json:"timestamp"`
}
