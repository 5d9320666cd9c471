// Package gateway drives the generation engine on behalf of validated
// protocol requests: synchronous completion synthesis, ordered stream
// synthesis, and reward-model scoring, all gated by admission control.
package gateway

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"modelgate/internal/admission"
	"modelgate/internal/engine"
	"modelgate/internal/metrics"
	"modelgate/internal/protocol"
	"modelgate/internal/toolcall"
	"modelgate/internal/turns"
)

var (
	// ErrStreamingWithTools indicates a streaming request carried a
	// tools list. Tool extraction needs the complete text, so the two
	// are incompatible.
	ErrStreamingWithTools = errors.New("cannot stream function calls")

	// ErrNotAllowed indicates the endpoint's mode does not match the
	// loaded model's capability.
	ErrNotAllowed = errors.New("operation not supported by the loaded model")
)

// Config wires a Gateway's collaborators.
type Config struct {
	Engine    engine.Engine
	Admission *admission.Controller
	Metrics   *metrics.Metrics
	Extractor toolcall.Extractor // defaults to toolcall.ReAct
}

// Gateway fronts one engine instance. It is safe for concurrent use;
// the admission controller is its only mutable state.
type Gateway struct {
	engine    engine.Engine
	admission *admission.Controller
	metrics   *metrics.Metrics
	extractor toolcall.Extractor
}

// New constructs a gateway from its collaborators.
func New(cfg Config) (*Gateway, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine must not be nil")
	}
	if cfg.Admission == nil {
		return nil, errors.New("admission controller must not be nil")
	}
	if cfg.Metrics == nil {
		return nil, errors.New("metrics must not be nil")
	}

	extractor := cfg.Extractor
	if extractor == nil {
		extractor = toolcall.ReAct{}
	}

	return &Gateway{
		engine:    cfg.Engine,
		admission: cfg.Admission,
		metrics:   cfg.Metrics,
		extractor: extractor,
	}, nil
}

// CanGenerate reports the engine's capability flag.
func (g *Gateway) CanGenerate() bool {
	return g.engine.CanGenerate()
}

func (g *Gateway) acquire(ctx context.Context) error {
	if err := g.admission.Acquire(ctx); err != nil {
		return err
	}
	g.metrics.SlotAcquired()
	return nil
}

func (g *Gateway) release() {
	g.admission.Release()
	g.metrics.SlotReleased()
}

// normalize maps wire messages into the engine conversation shape.
func normalize(messages []protocol.ChatMessage) (string, []engine.Turn, error) {
	wire := make([]turns.Message, 0, len(messages))
	for _, m := range messages {
		wire = append(wire, turns.Message{Role: m.Role, Content: m.Content})
	}
	return turns.Normalize(wire)
}

func samplingParams(req protocol.ChatCompletionRequest) engine.Params {
	return engine.Params{
		DoSample:           req.DoSample,
		Temperature:        req.Temperature,
		TopP:               req.TopP,
		MaxNewTokens:       req.MaxTokens,
		NumReturnSequences: req.Candidates(),
	}
}

func completionID() string {
	return "chatcmpl-" + uuid.NewString()
}
