// Package remote implements the engine interface over the generation
// runtime's native HTTP API. Everything behind that API (tokenization,
// sampling, batching, device memory) is the runtime's concern.
package remote

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"modelgate/internal/config"
	"modelgate/internal/engine"
)

const (
	contentTypeJSON = "application/json"
	userAgent       = "modelgate/0.1"

	streamDataPrefix = "data: "
	streamDoneMarker = "[DONE]"
)

// Engine is an HTTP client for the generation runtime.
type Engine struct {
	baseURL     string
	headers     map[string]string
	client      *http.Client
	canGenerate bool

	generateURL string
	streamURL   string
	scoreURL    string
}

// New creates a remote engine client from configuration.
func New(cfg config.EngineConfig, client *http.Client) (*Engine, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Engine{
		baseURL:     baseURL,
		headers:     cfg.Headers,
		client:      client,
		canGenerate: cfg.CanGenerate,
		generateURL: baseURL + "/generate",
		streamURL:   baseURL + "/generate/stream",
		scoreURL:    baseURL + "/score",
	}, nil
}

// CanGenerate reports whether the runtime hosts a generation-capable
// model variant.
func (e *Engine) CanGenerate() bool {
	return e.canGenerate
}

type turnPayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type generatePayload struct {
	Messages           []turnPayload `json:"messages"`
	System             string        `json:"system,omitempty"`
	Tools              string        `json:"tools,omitempty"`
	DoSample           *bool         `json:"do_sample,omitempty"`
	Temperature        *float64      `json:"temperature,omitempty"`
	TopP               *float64      `json:"top_p,omitempty"`
	MaxNewTokens       int           `json:"max_new_tokens,omitempty"`
	NumReturnSequences int           `json:"num_return_sequences,omitempty"`
}

type generateResponse struct {
	Results []struct {
		ResponseText   string `json:"response_text"`
		FinishReason   string `json:"finish_reason"`
		PromptLength   int    `json:"prompt_length"`
		ResponseLength int    `json:"response_length"`
	} `json:"results"`
}

func buildGeneratePayload(turns []engine.Turn, system, tools string, params engine.Params) generatePayload {
	messages := make([]turnPayload, 0, len(turns))
	for _, turn := range turns {
		messages = append(messages, turnPayload{Role: string(turn.Role), Content: turn.Content})
	}

	return generatePayload{
		Messages:           messages,
		System:             system,
		Tools:              tools,
		DoSample:           params.DoSample,
		Temperature:        params.Temperature,
		TopP:               params.TopP,
		MaxNewTokens:       params.MaxNewTokens,
		NumReturnSequences: params.NumReturnSequences,
	}
}

// Generate implements engine.Engine.
func (e *Engine) Generate(ctx context.Context, turns []engine.Turn, system, tools string, params engine.Params) ([]engine.Result, error) {
	httpReq, err := e.newRequest(ctx, e.generateURL, buildGeneratePayload(turns, system, tools, params))
	if err != nil {
		return nil, err
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("generate request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var decoded generateResponse
	if err := decodeJSON(httpResp.Body, &decoded); err != nil {
		return nil, err
	}
	if len(decoded.Results) == 0 {
		return nil, errors.New("runtime response did not include results")
	}

	results := make([]engine.Result, 0, len(decoded.Results))
	for _, r := range decoded.Results {
		results = append(results, engine.Result{
			ResponseText:   r.ResponseText,
			FinishReason:   r.FinishReason,
			PromptLength:   r.PromptLength,
			ResponseLength: r.ResponseLength,
		})
	}
	return results, nil
}

// StreamGenerate implements engine.Engine. The returned stream owns
// the response body and must be closed by the caller.
func (e *Engine) StreamGenerate(ctx context.Context, turns []engine.Turn, system, tools string, params engine.Params) (engine.FragmentStream, error) {
	payload := buildGeneratePayload(turns, system, tools, params)
	payload.NumReturnSequences = 0 // streaming is always a single candidate

	httpReq, err := e.newRequest(ctx, e.streamURL, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("stream request failed: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		defer httpResp.Body.Close()
		return nil, parseAPIError(httpResp)
	}

	return &fragmentStream{
		body:    httpResp.Body,
		scanner: bufio.NewScanner(httpResp.Body),
	}, nil
}

type scorePayload struct {
	Messages  []string `json:"messages"`
	MaxLength int      `json:"max_length,omitempty"`
}

type scoreResponse struct {
	Scores []float64 `json:"scores"`
}

// Score implements engine.Engine.
func (e *Engine) Score(ctx context.Context, texts []string, maxLength int) ([]float64, error) {
	httpReq, err := e.newRequest(ctx, e.scoreURL, scorePayload{Messages: texts, MaxLength: maxLength})
	if err != nil {
		return nil, err
	}

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("score request failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= 400 {
		return nil, parseAPIError(httpResp)
	}

	var decoded scoreResponse
	if err := decodeJSON(httpResp.Body, &decoded); err != nil {
		return nil, err
	}
	return decoded.Scores, nil
}

func (e *Engine) newRequest(ctx context.Context, url string, payload any) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("construct request: %w", err)
	}

	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", userAgent)

	for k, v := range e.headers {
		req.Header.Set(k, v)
	}

	return req, nil
}

// fragmentStream reads SSE data lines from the runtime. Each line
// carries a JSON object with the new text fragment; the stream ends at
// the [DONE] marker or EOF.
type fragmentStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	current string
	err     error
	done    bool
	closed  bool
}

func (s *fragmentStream) Next() bool {
	if s.done || s.err != nil {
		return false
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" || !strings.HasPrefix(line, streamDataPrefix) {
			continue
		}

		data := strings.TrimPrefix(line, streamDataPrefix)
		if data == streamDoneMarker {
			s.done = true
			return false
		}

		var fragment struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(data), &fragment); err != nil {
			s.err = fmt.Errorf("decode stream fragment: %w", err)
			return false
		}

		s.current = fragment.Text
		return true
	}

	s.done = true
	s.err = s.scanner.Err()
	return false
}

func (s *fragmentStream) Current() string {
	return s.current
}

func (s *fragmentStream) Err() error {
	return s.err
}

func (s *fragmentStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}

type apiErrorResponse struct {
	Error apiErrorObject `json:"error"`
}

type apiErrorObject struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

func parseAPIError(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("runtime error status %d and failed to read body: %w", resp.StatusCode, err)
	}

	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return fmt.Errorf("runtime error (%s): %s", apiErr.Error.Type, apiErr.Error.Message)
	}

	return fmt.Errorf("runtime error status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

func decodeJSON(reader io.Reader, target any) error {
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("decode runtime response: %w", err)
	}
	return nil
}
