package credentialproxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTranslateRequestToOpenAI(t *testing.T) {
	in := `{"model":"claude-sonnet-4","system":"be terse","messages":[{"role":"user","content":"hi"}],"max_tokens":100}`
	out, err := translateRequestToOpenAI([]byte(in), "gpt-4o")
	if err != nil {
		t.Fatalf("translateRequestToOpenAI: %v", err)
	}

	var got openAIChatRequest
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got.Model != "gpt-4o" {
		t.Errorf("Model = %q, want gpt-4o", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Role != "user" {
		t.Errorf("Messages = %+v, want [system, user]", got.Messages)
	}
	if got.MaxTokens != 100 {
		t.Errorf("MaxTokens = %d, want 100", got.MaxTokens)
	}
}

func TestTranslateResponseFromOpenAI(t *testing.T) {
	in := `{"id":"chatcmpl-1","model":"gpt-4o","choices":[{"message":{"content":"hello"},"finish_reason":"stop"}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`
	out, err := translateResponseFromOpenAI([]byte(in))
	if err != nil {
		t.Fatalf("translateResponseFromOpenAI: %v", err)
	}

	var got map[string]any
	if err := json.Unmarshal(out, &got); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if got["type"] != "message" || got["role"] != "assistant" {
		t.Errorf("got %v, want message/assistant envelope", got)
	}
	if got["stop_reason"] != "end_turn" {
		t.Errorf("stop_reason = %v, want end_turn", got["stop_reason"])
	}
	content, ok := got["content"].([]any)
	if !ok || len(content) != 1 {
		t.Fatalf("content = %v, want one block", got["content"])
	}
	block := content[0].(map[string]any)
	if block["text"] != "hello" {
		t.Errorf("text = %v, want hello", block["text"])
	}
}

func TestMapFinishReason(t *testing.T) {
	cases := map[string]string{"length": "max_tokens", "stop": "end_turn", "": "end_turn", "content_filter": "content_filter"}
	for in, want := range cases {
		if got := mapFinishReason(in); got != want {
			t.Errorf("mapFinishReason(%q) = %q, want %q", in, got, want)
		}
	}
}

type bufFlushWriter struct {
	bytes.Buffer
	flushes int
}

func (b *bufFlushWriter) Flush() { b.flushes++ }

func TestStreamOpenAIAsAnthropic(t *testing.T) {
	src := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
			"data: [DONE]\n\n",
	)
	dst := &bufFlushWriter{}
	if err := streamOpenAIAsAnthropic(src, dst, "gpt-4o"); err != nil {
		t.Fatalf("streamOpenAIAsAnthropic: %v", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(dst.Bytes()))
	var events []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			events = append(events, strings.TrimPrefix(line, "event: "))
		}
	}
	want := []string{"message_start", "content_block_start", "content_block_delta", "content_block_delta", "content_block_stop", "message_delta", "message_stop"}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event[%d] = %q, want %q", i, events[i], want[i])
		}
	}
	if dst.flushes == 0 {
		t.Error("expected at least one flush")
	}
	if !strings.Contains(dst.String(), "Hel") || !strings.Contains(dst.String(), "lo") {
		t.Error("expected both delta chunks present in output")
	}
}
