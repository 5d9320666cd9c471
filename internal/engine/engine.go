package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrEngineFailure wraps opaque backend errors so callers can classify
// them without inspecting the engine's transport details.
var ErrEngineFailure = errors.New("engine failure")

// Role is the engine-side role vocabulary. It differs from the wire
// vocabulary in exactly one place: the wire role "tool" maps to
// RoleObservation.
type Role string

const (
	RoleUser        Role = "user"
	RoleAssistant   Role = "assistant"
	RoleSystem      Role = "system"
	RoleFunction    Role = "function"
	RoleObservation Role = "observation"
)

// Turn is a single validated message in the engine-side conversation.
type Turn struct {
	Role    Role
	Content string
}

// Params carries the sampling parameters forwarded to the engine.
// Nil pointer fields mean "engine default".
type Params struct {
	DoSample           *bool
	Temperature        *float64
	TopP               *float64
	MaxNewTokens       int
	NumReturnSequences int
}

// Result is one generated candidate returned by a synchronous call.
type Result struct {
	ResponseText   string
	FinishReason   string // "stop" or "length"
	PromptLength   int
	ResponseLength int
}

// FragmentStream is a pull iterator over incrementally generated text.
// Next advances to the next fragment and reports whether one is
// available; Current returns it. After Next returns false the caller
// must consult Err to distinguish normal exhaustion from failure.
// Close releases engine-side resources and is safe to call more than
// once.
type FragmentStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Engine is the generation backend this gateway fronts. Implementations
// are shared across requests and must be internally synchronized; the
// gateway bounds concurrent use but adds no locking of its own.
type Engine interface {
	// CanGenerate reports whether the loaded model supports open-ended
	// generation. Reward-model variants report false and only score.
	CanGenerate() bool

	// Generate runs one synchronous multi-candidate generation call.
	Generate(ctx context.Context, turns []Turn, system, tools string, params Params) ([]Result, error)

	// StreamGenerate starts a single-candidate streaming generation and
	// returns the fragment sequence. The stream must observe ctx: once
	// cancelled, Next returns false promptly.
	StreamGenerate(ctx context.Context, turns []Turn, system, tools string, params Params) (FragmentStream, error)

	// Score evaluates each input text with the reward model.
	Score(ctx context.Context, texts []string, maxLength int) ([]float64, error)
}

// Failure wraps err as an engine failure, preserving the cause chain.
func Failure(err error) error {
	return fmt.Errorf("%w: %w", ErrEngineFailure, err)
}
