package credentialproxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
)

// anthropicMessage mirrors the normalized shape the sandbox sends to
// POST /v1/messages (§4.C11 "LLM routing special cases").
type anthropicMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type anthropicMessagesRequest struct {
	Model     string              `json:"model"`
	Messages  []anthropicMessage  `json:"messages"`
	System    string              `json:"system,omitempty"`
	MaxTokens int                 `json:"max_tokens"`
	Stream    bool                `json:"stream,omitempty"`
	Temperature *float64          `json:"temperature,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
}

// translateRequestToOpenAI converts a normalized Messages-API request body
// into an OpenAI-compatible chat/completions request, for providers whose
// upstream speaks that shape natively (openai, deepseek, moonshot, minimax,
// xai, mistral, azure_ai, openrouter — §6 SUPPLEMENTED FEATURES).
func translateRequestToOpenAI(body []byte, model string) ([]byte, error) {
	var in anthropicMessagesRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("decoding messages request: %w", err)
	}

	out := openAIChatRequest{
		Model:       model,
		MaxTokens:   in.MaxTokens,
		Stream:      in.Stream,
		Temperature: in.Temperature,
	}
	if in.System != "" {
		out.Messages = append(out.Messages, openAIMessage{Role: "system", Content: in.System})
	}
	for _, m := range in.Messages {
		out.Messages = append(out.Messages, openAIMessage{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(out)
}

type openAIChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// translateResponseFromOpenAI converts a non-streaming OpenAI-compatible
// chat/completions response into the normalized Messages-API response
// shape the sandbox expects.
func translateResponseFromOpenAI(body []byte) ([]byte, error) {
	var in openAIChatResponse
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, fmt.Errorf("decoding upstream chat response: %w", err)
	}

	text := ""
	if len(in.Choices) > 0 {
		text = in.Choices[0].Message.Content
	}

	out := map[string]any{
		"id":    in.ID,
		"type":  "message",
		"role":  "assistant",
		"model": in.Model,
		"content": []map[string]any{
			{"type": "text", "text": text},
		},
		"stop_reason": mapFinishReason(stopReasonOf(in)),
		"usage": map[string]any{
			"input_tokens":  in.Usage.PromptTokens,
			"output_tokens": in.Usage.CompletionTokens,
		},
	}
	return json.Marshal(out)
}

func stopReasonOf(in openAIChatResponse) string {
	if len(in.Choices) == 0 {
		return ""
	}
	return in.Choices[0].FinishReason
}

func mapFinishReason(reason string) string {
	switch reason {
	case "length":
		return "max_tokens"
	case "stop", "":
		return "end_turn"
	default:
		return reason
	}
}

// streamOpenAIAsAnthropic reads an OpenAI-compatible SSE stream from src and
// writes the translated Anthropic-style event stream to dst, flushing after
// each event. It emits message_start once, one content_block_delta per
// upstream delta chunk, and message_stop at the end (§4.C11 "event-type
// names").
func streamOpenAIAsAnthropic(src io.Reader, dst flushWriter, model string) error {
	messageID := "msg_" + uuid.NewString()
	if err := writeSSEEvent(dst, "message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": messageID, "type": "message", "role": "assistant", "model": model,
			"content": []any{}, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	}); err != nil {
		return err
	}
	if err := writeSSEEvent(dst, "content_block_start", map[string]any{
		"type": "content_block_start", "index": 0,
		"content_block": map[string]any{"type": "text", "text": ""},
	}); err != nil {
		return err
	}

	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if err := writeSSEEvent(dst, "content_block_delta", map[string]any{
				"type": "content_block_delta", "index": 0,
				"delta": map[string]any{"type": "text_delta", "text": delta},
			}); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	if err := writeSSEEvent(dst, "content_block_stop", map[string]any{"type": "content_block_stop", "index": 0}); err != nil {
		return err
	}
	if err := writeSSEEvent(dst, "message_delta", map[string]any{
		"type": "message_delta", "delta": map[string]any{"stop_reason": "end_turn"},
	}); err != nil {
		return err
	}
	return writeSSEEvent(dst, "message_stop", map[string]any{"type": "message_stop"})
}

// flushWriter is the minimal surface streamOpenAIAsAnthropic needs: write
// then flush, so each SSE event reaches the sandbox immediately.
type flushWriter interface {
	io.Writer
	Flush()
}

func writeSSEEvent(w flushWriter, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "event: %s\ndata: %s\n\n", event, payload)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	w.Flush()
	return nil
}
