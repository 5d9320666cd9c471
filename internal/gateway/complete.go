package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"modelgate/internal/engine"
	"modelgate/internal/protocol"
)

// Complete runs one synchronous generation call and assembles the full
// completion response. Validation happens before an admission slot is
// requested; engine errors propagate unretried.
func (g *Gateway) Complete(ctx context.Context, req protocol.ChatCompletionRequest) (*protocol.ChatCompletionResponse, error) {
	if !g.engine.CanGenerate() {
		return nil, ErrNotAllowed
	}

	system, conversation, err := normalize(req.Messages)
	if err != nil {
		return nil, err
	}

	tools, err := req.EncodeTools()
	if err != nil {
		return nil, err
	}

	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()

	start := time.Now()
	results, err := g.engine.Generate(ctx, conversation, system, tools, samplingParams(req))
	g.metrics.ObserveGeneration("chat", time.Since(start).Seconds())
	if err != nil {
		return nil, engine.Failure(err)
	}

	choices := make([]protocol.Choice, 0, len(results))
	var promptTokens, completionTokens int
	for i, result := range results {
		choice, err := g.buildChoice(i, result, tools != "")
		if err != nil {
			return nil, err
		}
		choices = append(choices, choice)

		// All candidates share one prompt, so any candidate's prompt
		// length is representative; completion lengths accumulate.
		promptTokens = result.PromptLength
		completionTokens += result.ResponseLength
	}

	return &protocol.ChatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: choices,
		Usage: protocol.Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
	}, nil
}

// buildChoice post-processes one candidate. When the request carried
// tools, the candidate text goes through the extractor and a structured
// result becomes a tool-call message.
func (g *Gateway) buildChoice(index int, result engine.Result, withTools bool) (protocol.Choice, error) {
	finish := protocol.FinishStop
	if result.FinishReason != "stop" {
		finish = protocol.FinishLength
	}

	if !withTools {
		return protocol.Choice{
			Index:        index,
			Message:      protocol.CompletionMessage{Role: protocol.RoleAssistant, Content: result.ResponseText},
			FinishReason: finish,
		}, nil
	}

	extraction, err := g.extractor.Extract(result.ResponseText)
	if err != nil {
		return protocol.Choice{}, err
	}

	if extraction.Call == nil {
		return protocol.Choice{
			Index:        index,
			Message:      protocol.CompletionMessage{Role: protocol.RoleAssistant, Content: extraction.Text},
			FinishReason: finish,
		}, nil
	}

	return protocol.Choice{
		Index: index,
		Message: protocol.CompletionMessage{
			Role: protocol.RoleAssistant,
			ToolCalls: []protocol.ToolCall{{
				ID:   "call_" + uuid.NewString(),
				Type: "function",
				Function: protocol.FunctionCall{
					Name:      extraction.Call.Name,
					Arguments: extraction.Call.Arguments,
				},
			}},
		},
		FinishReason: protocol.FinishTool,
	}, nil
}
