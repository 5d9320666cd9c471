// Package protocol defines the OpenAI-compatible wire schema served by
// the gateway: chat completion requests and responses, streaming
// chunks, the model listing, and the score evaluation exchange.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidToolSpec indicates the tools array could not be encoded
	// for the engine.
	ErrInvalidToolSpec = errors.New("invalid tools")

	errInvalidRole    = errors.New("invalid role")
	errInvalidContent = errors.New("invalid message content")
)

// Wire-level roles accepted from clients.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleFunction  = "function"
	RoleTool      = "tool"
)

var allowedRoles = map[string]struct{}{
	RoleUser:      {},
	RoleAssistant: {},
	RoleSystem:    {},
	RoleFunction:  {},
	RoleTool:      {},
}

// Finish reasons reported per choice.
const (
	FinishStop   = "stop"
	FinishLength = "length"
	FinishTool   = "tool_calls"
)

// ChatMessage captures a single message within the chat request.
type ChatMessage struct {
	Role    string
	Content string
	Name    string
}

// UnmarshalJSON supports string and array-of-text content formats.
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	type alias struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
		Name    string          `json:"name"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}

	content, err := extractMessageContent(raw.Content)
	if err != nil {
		return err
	}

	m.Role = strings.TrimSpace(raw.Role)
	m.Content = content
	m.Name = strings.TrimSpace(raw.Name)

	if _, ok := allowedRoles[m.Role]; !ok {
		return fmt.Errorf("%w: %s", errInvalidRole, m.Role)
	}
	return nil
}

func extractMessageContent(raw json.RawMessage) (string, error) {
	if raw == nil {
		return "", nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}

	var segments []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &segments); err == nil {
		var builder strings.Builder
		for _, segment := range segments {
			if segment.Type != "text" {
				return "", fmt.Errorf("%w: segment type %q not supported", errInvalidContent, segment.Type)
			}
			builder.WriteString(segment.Text)
		}
		return builder.String(), nil
	}

	return "", fmt.Errorf("%w: unsupported content structure", errInvalidContent)
}

// Tool is a single entry of the request's tools array. The function
// spec is kept raw; the engine receives it verbatim.
type Tool struct {
	Type     string          `json:"type"`
	Function json.RawMessage `json:"function"`
}

// ChatCompletionRequest models the chat/completions request payload.
type ChatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Tools       []Tool        `json:"tools,omitempty"`
	DoSample    *bool         `json:"do_sample,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	N           int           `json:"n,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

// Candidates returns the number of completions to generate, defaulting
// to one.
func (r ChatCompletionRequest) Candidates() int {
	if r.N < 1 {
		return 1
	}
	return r.N
}

// EncodeTools flattens the tools array into the JSON array of raw
// function specs the engine consumes. An empty tools list encodes to
// the empty string.
func (r ChatCompletionRequest) EncodeTools() (string, error) {
	if len(r.Tools) == 0 {
		return "", nil
	}

	specs := make([]json.RawMessage, 0, len(r.Tools))
	for i, tool := range r.Tools {
		if len(tool.Function) == 0 || string(tool.Function) == "null" {
			return "", fmt.Errorf("%w: tools[%d] is missing a function spec", ErrInvalidToolSpec, i)
		}
		specs = append(specs, tool.Function)
	}

	encoded, err := json.Marshal(specs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToolSpec, err)
	}
	return string(encoded), nil
}

// FunctionCall carries the called tool's name and raw JSON arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool invocation attached to an assistant message.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// CompletionMessage is the assistant message inside a response choice.
type CompletionMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Choice is a single completion candidate in the response.
type Choice struct {
	Index        int               `json:"index"`
	Message      CompletionMessage `json:"message"`
	FinishReason string            `json:"finish_reason"`
}

// Usage mirrors the token accounting block of OpenAI responses.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatCompletionResponse is the non-streaming response payload.
type ChatCompletionResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// StreamDelta is the incremental message fragment of one chunk. A
// non-nil empty Content is serialized as "" so the role-announcement
// frame carries an explicit empty string.
type StreamDelta struct {
	Role    string  `json:"role,omitempty"`
	Content *string `json:"content,omitempty"`
}

// StreamChoice is the single choice of a streaming chunk.
type StreamChoice struct {
	Index        int         `json:"index"`
	Delta        StreamDelta `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// ChatCompletionStreamResponse is one streamed chunk frame.
type ChatCompletionStreamResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
}

// ModelCard describes one available model.
type ModelCard struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /v1/models response body.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelCard `json:"data"`
}

// ScoreEvaluationRequest asks the reward model to score each input.
type ScoreEvaluationRequest struct {
	Model     string   `json:"model"`
	Messages  []string `json:"messages"`
	MaxLength int      `json:"max_length,omitempty"`
}

// ScoreEvaluationResponse carries one score per input message.
type ScoreEvaluationResponse struct {
	ID     string    `json:"id"`
	Object string    `json:"object"`
	Model  string    `json:"model"`
	Scores []float64 `json:"scores"`
}
