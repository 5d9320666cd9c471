package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"modelgate/internal/config"
	"modelgate/internal/engine"
	"modelgate/internal/gateway"
	"modelgate/internal/metrics"
	"modelgate/internal/protocol"
	"modelgate/internal/toolcall"
	"modelgate/internal/turns"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Server binds the HTTP surface to the gateway.
type Server struct {
	cfg       config.Config
	gateway   *gateway.Gateway
	metrics   *metrics.Metrics
	registry  *prometheus.Registry
	app       *echo.Echo
	address   string
	startedAt int64
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, gw *gateway.Gateway, m *metrics.Metrics, registry *prometheus.Registry) (*Server, error) {
	if gw == nil {
		return nil, errors.New("gateway must not be nil")
	}
	if m == nil {
		return nil, errors.New("metrics must not be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = openAIErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency: true,
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency_ms", v.Latency.Milliseconds(),
				"error", v.Error,
			)
			m.ObserveRequest(c.Path(), strconv.Itoa(v.Status))
			return nil
		},
	}))

	srv := &Server{
		cfg:       cfg,
		gateway:   gw,
		metrics:   m,
		registry:  registry,
		app:       e,
		address:   fmt.Sprintf(":%d", cfg.Server.Port),
		startedAt: time.Now().Unix(),
	}

	srv.registerRoutes()

	return srv, nil
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port, s.cfg.Model.ID)
	slog.Info("starting server", "addr", s.address, "concurrency", s.cfg.Server.Concurrency)

	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
		// No write timeout: streamed completions hold the connection
		// open for the lifetime of the generation.
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		slog.Info("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

// Handler exposes the underlying HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.app
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)
	s.app.GET("/v1/models", s.handleListModels)
	s.app.POST("/v1/chat/completions", s.handleChatCompletions)
	s.app.POST("/v1/score/evaluation", s.handleScoreEvaluation)

	if s.registry != nil {
		s.app.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c echo.Context) error {
	return c.JSON(http.StatusOK, protocol.ModelList{
		Object: "list",
		Data: []protocol.ModelCard{{
			ID:      s.cfg.Model.ID,
			Object:  "model",
			Created: s.startedAt,
			OwnedBy: "owner",
		}},
	})
}

func (s *Server) handleChatCompletions(c echo.Context) error {
	var req protocol.ChatCompletionRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if req.Model == "" {
		req.Model = s.cfg.Model.ID
	}

	if req.Stream {
		return s.streamChatCompletion(c, req)
	}

	resp, err := s.gateway.Complete(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) streamChatCompletion(c echo.Context, req protocol.ChatCompletionRequest) error {
	writer := c.Response().Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		slog.Error("http writer does not support flushing")
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "server does not support streaming responses",
			Type:    "server_error",
		}
	}

	// Headers are deferred until the first frame so validation
	// failures can still produce a JSON error with a real status code.
	started := false
	emit := func(chunk protocol.ChatCompletionStreamResponse) error {
		if !started {
			header := c.Response().Header()
			header.Set("Content-Type", "text/event-stream")
			header.Set("Cache-Control", "no-cache")
			header.Set("Connection", "keep-alive")
			c.Response().WriteHeader(http.StatusOK)
			started = true
		}
		if err := writeSSEData(writer, chunk); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.gateway.Stream(c.Request().Context(), req, emit); err != nil {
		if !started {
			return toHTTPError(err)
		}
		// Frames already on the wire: abort the connection instead of
		// pretending the stream finished.
		slog.Error("stream aborted", "err", err)
		return err
	}

	if _, err := fmt.Fprint(writer, "data: [DONE]\n\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func (s *Server) handleScoreEvaluation(c echo.Context) error {
	var req protocol.ScoreEvaluationRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if req.Model == "" {
		req.Model = s.cfg.Model.ID
	}

	resp, err := s.gateway.Score(c.Request().Context(), req)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, resp)
}

func decodeRequestBody[T any](c echo.Context, target *T) error {
	req := c.Request()
	defer req.Body.Close()

	req.Body = http.MaxBytesReader(c.Response(), req.Body, maxBodyBytes)

	decoder := json.NewDecoder(req.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return requestError{
				Status:  http.StatusBadRequest,
				Message: "request body is required",
				Type:    "invalid_request_error",
			}
		}
		return requestError{
			Status:  http.StatusBadRequest,
			Message: fmt.Sprintf("invalid JSON payload: %v", err),
			Type:    "invalid_request_error",
		}
	}

	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return requestError{
			Status:  http.StatusBadRequest,
			Message: "request body must contain a single JSON object",
			Type:    "invalid_request_error",
		}
	}
	return nil
}

type requestError struct {
	Status  int
	Message string
	Type    string
	Code    string
}

func (e requestError) Error() string {
	return e.Message
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code,omitempty"`
	} `json:"error"`
}

func writeError(c echo.Context, status int, message, errType, code string) error {
	var payload errorBody
	payload.Error.Message = message
	payload.Error.Type = errType
	payload.Error.Code = code
	return c.JSON(status, payload)
}

func openAIErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var reqErr requestError
	if errors.As(err, &reqErr) {
		_ = writeError(c, reqErr.Status, reqErr.Message, reqErr.Type, reqErr.Code)
		return
	}

	type httpError interface {
		Code() int
		Error() string
	}

	if he, ok := err.(httpError); ok {
		_ = writeError(c, he.Code(), he.Error(), "invalid_request_error", "")
		return
	}

	_ = writeError(c, http.StatusInternalServerError, "internal server error", "server_error", "")
}

// toHTTPError translates gateway sentinels into client-facing statuses.
func toHTTPError(err error) error {
	var reqErr requestError
	if errors.As(err, &reqErr) {
		return reqErr
	}

	switch {
	case errors.Is(err, turns.ErrEmptyRequest),
		errors.Is(err, turns.ErrOddLength),
		errors.Is(err, turns.ErrInvalidRoleOrder),
		errors.Is(err, protocol.ErrInvalidToolSpec),
		errors.Is(err, gateway.ErrStreamingWithTools):
		return requestError{
			Status:  http.StatusBadRequest,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	case errors.Is(err, gateway.ErrNotAllowed):
		return requestError{
			Status:  http.StatusMethodNotAllowed,
			Message: err.Error(),
			Type:    "invalid_request_error",
		}
	case errors.Is(err, toolcall.ErrInvalidToolOutput):
		return requestError{
			Status:  http.StatusInternalServerError,
			Message: "model produced a malformed tool call",
			Type:    "server_error",
		}
	case errors.Is(err, engine.ErrEngineFailure):
		return requestError{
			Status:  http.StatusBadGateway,
			Message: "generation engine error",
			Type:    "engine_error",
		}
	}

	return requestError{
		Status:  http.StatusInternalServerError,
		Message: "internal server error",
		Type:    "server_error",
	}
}

func writeSSEData(w io.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal SSE payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE data: %w", err)
	}
	return nil
}

func printStartupBanner(port int, modelID string) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("modelgate ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Println("  POST /v1/score/evaluation")
	fmt.Println("  GET  /metrics")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/chat/completions -H 'Content-Type: application/json' -d '{\"model\":%q,\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port, modelID)
}
