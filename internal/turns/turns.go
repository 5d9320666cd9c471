// Package turns validates and normalizes the wire-level message list
// into the engine-side conversation shape: an optional leading system
// message followed by a strictly alternating, odd-length sequence of
// user-class and assistant-class turns.
package turns

import (
	"errors"
	"fmt"

	"modelgate/internal/engine"
)

var (
	// ErrEmptyRequest indicates the message list was empty.
	ErrEmptyRequest = errors.New("at least one message is required")

	// ErrOddLength indicates the conversation does not end on a
	// user-class turn after system extraction.
	ErrOddLength = errors.New("conversation must alternate user/assistant and end with a user turn")

	// ErrInvalidRoleOrder indicates an unknown role or a turn whose
	// role class does not match its position.
	ErrInvalidRoleOrder = errors.New("invalid role order")
)

// wire→engine role mapping; "tool" is the OpenAI spelling of what the
// engine calls an observation.
var roleMapping = map[string]engine.Role{
	"user":      engine.RoleUser,
	"assistant": engine.RoleAssistant,
	"system":    engine.RoleSystem,
	"function":  engine.RoleFunction,
	"tool":      engine.RoleObservation,
}

// Message is the minimal wire-level view this package validates.
type Message struct {
	Role    string
	Content string
}

// Normalize maps wire roles to engine roles, extracts a leading system
// message, and enforces the alternation invariant. Message order and
// content pass through verbatim.
func Normalize(messages []Message) (system string, out []engine.Turn, err error) {
	if len(messages) == 0 {
		return "", nil, ErrEmptyRequest
	}

	mapped := make([]engine.Turn, 0, len(messages))
	for i, msg := range messages {
		role, ok := roleMapping[msg.Role]
		if !ok {
			return "", nil, fmt.Errorf("%w: message[%d] has unknown role %q", ErrInvalidRoleOrder, i, msg.Role)
		}
		mapped = append(mapped, engine.Turn{Role: role, Content: msg.Content})
	}

	if mapped[0].Role == engine.RoleSystem {
		system = mapped[0].Content
		mapped = mapped[1:]
	}

	if len(mapped)%2 == 0 {
		return "", nil, ErrOddLength
	}

	for i, turn := range mapped {
		if i%2 == 0 {
			if turn.Role != engine.RoleUser && turn.Role != engine.RoleObservation {
				return "", nil, fmt.Errorf("%w: position %d has role %q, want user or tool", ErrInvalidRoleOrder, i, turn.Role)
			}
			continue
		}
		if turn.Role != engine.RoleAssistant && turn.Role != engine.RoleFunction {
			return "", nil, fmt.Errorf("%w: position %d has role %q, want assistant or function", ErrInvalidRoleOrder, i, turn.Role)
		}
	}

	return system, mapped, nil
}
