// Package toolcall turns raw completion text into either plain text or
// a structured function call, following the extraction format the
// engine's prompt template emits.
package toolcall

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidToolOutput indicates the model produced a tool-call block
// whose arguments are not valid JSON. This is a model failure, not a
// client error, and must not degrade to plain text.
var ErrInvalidToolOutput = errors.New("malformed tool call in model output")

// FunctionCall names a tool and carries its JSON-encoded arguments
// verbatim as the model produced them.
type FunctionCall struct {
	Name      string
	Arguments string
}

// Extraction is the tagged result of scanning completion text.
// Call is non-nil exactly when a structured call was found; otherwise
// Text holds the prose unchanged.
type Extraction struct {
	Text string
	Call *FunctionCall
}

// Extractor adapts a prompt template's tool-call encoding. The policy
// belongs to the template, not the gateway; implementations must be
// pure functions of the input text.
type Extractor interface {
	Extract(text string) (Extraction, error)
}

// reActPattern matches the two-line ReAct block the default template
// emits. The argument payload runs to the end of the text.
var reActPattern = regexp.MustCompile(`(?s)Action:\s*([a-zA-Z0-9_]+)\s*Action Input:\s*(.+)`)

// ReAct extracts tool calls written as "Action: <name>" followed by
// "Action Input: <json object>".
type ReAct struct{}

// Extract implements Extractor.
func (ReAct) Extract(text string) (Extraction, error) {
	match := reActPattern.FindStringSubmatch(text)
	if match == nil {
		return Extraction{Text: text}, nil
	}

	name := match[1]
	arguments := strings.TrimSpace(match[2])

	var probe map[string]any
	if err := json.Unmarshal([]byte(arguments), &probe); err != nil {
		return Extraction{}, fmt.Errorf("%w: tool %q: %v", ErrInvalidToolOutput, name, err)
	}

	return Extraction{Call: &FunctionCall{Name: name, Arguments: arguments}}, nil
}
