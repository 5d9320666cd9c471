package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelgate/internal/admission"
	"modelgate/internal/config"
	"modelgate/internal/engine"
	"modelgate/internal/engine/enginetest"
	"modelgate/internal/gateway"
	"modelgate/internal/metrics"
	"modelgate/internal/protocol"
)

func newTestServer(t *testing.T, stub *enginetest.Stub) *Server {
	t.Helper()

	controller, err := admission.New(1)
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	gw, err := gateway.New(gateway.Config{
		Engine:    stub,
		Admission: controller,
		Metrics:   m,
	})
	require.NoError(t, err)

	srv, err := New(config.Default(), gw, m, registry)
	require.NoError(t, err)
	return srv
}

func doJSON(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &enginetest.Stub{})
	rec := doJSON(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestListModels(t *testing.T) {
	srv := newTestServer(t, &enginetest.Stub{})
	rec := doJSON(t, srv, http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var list protocol.ModelList
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Equal(t, "list", list.Object)
	require.Len(t, list.Data, 1)
	assert.Equal(t, "gpt-3.5-turbo", list.Data[0].ID)
	assert.Equal(t, "model", list.Data[0].Object)
}

func TestChatCompletion(t *testing.T) {
	stub := &enginetest.Stub{
		Results: []engine.Result{
			{ResponseText: "Hello there", FinishReason: "stop", PromptLength: 5, ResponseLength: 2},
		},
	}
	srv := newTestServer(t, stub)

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"gpt-3.5-turbo","messages":[{"role":"user","content":"Hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp protocol.ChatCompletionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "Hello there", resp.Choices[0].Message.Content)
	assert.Equal(t, protocol.FinishStop, resp.Choices[0].FinishReason)
	assert.Equal(t, 7, resp.Usage.TotalTokens)
	assert.True(t, strings.HasPrefix(resp.ID, "chatcmpl-"))
}

func TestChatCompletionValidationErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{
			name:       "empty body",
			body:       "",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty messages",
			body:       `{"model":"m","messages":[]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "even parity",
			body:       `{"model":"m","messages":[{"role":"user","content":"a"},{"role":"assistant","content":"b"}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "wrong role order",
			body:       `{"model":"m","messages":[{"role":"assistant","content":"a"}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown role",
			body:       `{"model":"m","messages":[{"role":"narrator","content":"a"}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed tools",
			body:       `{"model":"m","messages":[{"role":"user","content":"a"}],"tools":[{"type":"function"}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "streaming with tools",
			body:       `{"model":"m","stream":true,"messages":[{"role":"user","content":"a"}],"tools":[{"type":"function","function":{"name":"f"}}]}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "trailing garbage",
			body:       `{"model":"m","messages":[{"role":"user","content":"a"}]} {}`,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &enginetest.Stub{}
			srv := newTestServer(t, stub)

			rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions", tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			var body struct {
				Error struct {
					Message string `json:"message"`
					Type    string `json:"type"`
				} `json:"error"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.NotEmpty(t, body.Error.Message)

			assert.Zero(t, stub.GenerateCalls(), "engine must not run on invalid input")
			assert.Zero(t, stub.StreamCalls())
		})
	}
}

func TestChatCompletionCapabilityMismatch(t *testing.T) {
	srv := newTestServer(t, &enginetest.Stub{ScoringOnly: true})
	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","messages":[{"role":"user","content":"Hi"}]}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestChatCompletionEngineFailure(t *testing.T) {
	srv := newTestServer(t, &enginetest.Stub{Err: assert.AnError})
	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","messages":[{"role":"user","content":"Hi"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestChatCompletionStreaming(t *testing.T) {
	stub := &enginetest.Stub{Fragments: []string{"Hel", "", "lo"}}
	srv := newTestServer(t, stub)

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	var frames []string
	for _, line := range strings.Split(rec.Body.String(), "\n") {
		if strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	require.Len(t, frames, 5, "role, two deltas, stop, then the sentinel")
	assert.Equal(t, "[DONE]", frames[4])

	var first protocol.ChatCompletionStreamResponse
	require.NoError(t, json.Unmarshal([]byte(frames[0]), &first))
	assert.Equal(t, protocol.RoleAssistant, first.Choices[0].Delta.Role)

	var second protocol.ChatCompletionStreamResponse
	require.NoError(t, json.Unmarshal([]byte(frames[1]), &second))
	require.NotNil(t, second.Choices[0].Delta.Content)
	assert.Equal(t, "Hel", *second.Choices[0].Delta.Content)

	var terminal protocol.ChatCompletionStreamResponse
	require.NoError(t, json.Unmarshal([]byte(frames[3]), &terminal))
	require.NotNil(t, terminal.Choices[0].FinishReason)
	assert.Equal(t, protocol.FinishStop, *terminal.Choices[0].FinishReason)

	assert.Equal(t, 1, stub.StreamCalls())
}

func TestStreamingFailureOmitsSentinel(t *testing.T) {
	stub := &enginetest.Stub{
		Fragments: []string{"partial"},
		StreamErr: assert.AnError,
	}
	srv := newTestServer(t, stub)

	rec := doJSON(t, srv, http.MethodPost, "/v1/chat/completions",
		`{"model":"m","stream":true,"messages":[{"role":"user","content":"Hi"}]}`)

	assert.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestScoreEvaluation(t *testing.T) {
	stub := &enginetest.Stub{
		ScoringOnly: true,
		Scores:      []float64{1.25},
	}
	srv := newTestServer(t, stub)

	rec := doJSON(t, srv, http.MethodPost, "/v1/score/evaluation",
		`{"model":"reward","messages":["candidate answer"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp protocol.ScoreEvaluationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, []float64{1.25}, resp.Scores)
}

func TestScoreEvaluationRejectedForGenerativeModel(t *testing.T) {
	stub := &enginetest.Stub{}
	srv := newTestServer(t, stub)

	rec := doJSON(t, srv, http.MethodPost, "/v1/score/evaluation",
		`{"model":"m","messages":["text"]}`)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Zero(t, stub.ScoreCalls())
}

func TestScoreEvaluationEmptyMessages(t *testing.T) {
	srv := newTestServer(t, &enginetest.Stub{ScoringOnly: true})
	rec := doJSON(t, srv, http.MethodPost, "/v1/score/evaluation",
		`{"model":"m","messages":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &enginetest.Stub{})
	rec := doJSON(t, srv, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
