package gateway

import (
	"context"
	"errors"
	"time"

	"modelgate/internal/engine"
	"modelgate/internal/protocol"
)

// Stream runs one streaming generation call, handing each protocol
// frame to emit in order: a role announcement, one delta per non-empty
// fragment, then a terminal stop frame. The admission slot is held for
// the whole lifetime of the stream and released when emit fails, the
// context is cancelled, or the fragment sequence ends. The end-of-
// stream sentinel is the transport's concern, not emitted here.
func (g *Gateway) Stream(ctx context.Context, req protocol.ChatCompletionRequest, emit func(protocol.ChatCompletionStreamResponse) error) error {
	if !g.engine.CanGenerate() {
		return ErrNotAllowed
	}
	if len(req.Tools) > 0 {
		return ErrStreamingWithTools
	}

	system, conversation, err := normalize(req.Messages)
	if err != nil {
		return err
	}

	if err := g.acquire(ctx); err != nil {
		return err
	}
	defer g.release()

	params := samplingParams(req)
	params.NumReturnSequences = 1

	start := time.Now()
	defer func() {
		g.metrics.ObserveGeneration("stream", time.Since(start).Seconds())
	}()

	stream, err := g.engine.StreamGenerate(ctx, conversation, system, "", params)
	if err != nil {
		return engine.Failure(err)
	}
	defer stream.Close()

	id := completionID()
	created := time.Now().Unix()

	announcement := ""
	if err := emit(chunk(id, created, req.Model, protocol.StreamDelta{
		Role:    protocol.RoleAssistant,
		Content: &announcement,
	}, nil)); err != nil {
		return err
	}

	for stream.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}

		fragment := stream.Current()
		if fragment == "" {
			continue
		}
		if err := emit(chunk(id, created, req.Model, protocol.StreamDelta{Content: &fragment}, nil)); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return engine.Failure(err)
	}

	finish := protocol.FinishStop
	return emit(chunk(id, created, req.Model, protocol.StreamDelta{}, &finish))
}

func chunk(id string, created int64, model string, delta protocol.StreamDelta, finish *string) protocol.ChatCompletionStreamResponse {
	return protocol.ChatCompletionStreamResponse{
		ID:      id,
		Object:  "chat.completion.chunk",
		Created: created,
		Model:   model,
		Choices: []protocol.StreamChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finish,
		}},
	}
}
