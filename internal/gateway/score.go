package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"

	"modelgate/internal/engine"
	"modelgate/internal/protocol"
	"modelgate/internal/turns"
)

// Score evaluates each input text with the reward model. The path is
// only valid for model variants that cannot generate; the capability
// check happens before any engine call.
func (g *Gateway) Score(ctx context.Context, req protocol.ScoreEvaluationRequest) (*protocol.ScoreEvaluationResponse, error) {
	if g.engine.CanGenerate() {
		return nil, ErrNotAllowed
	}
	if len(req.Messages) == 0 {
		return nil, turns.ErrEmptyRequest
	}

	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	defer g.release()

	start := time.Now()
	scores, err := g.engine.Score(ctx, req.Messages, req.MaxLength)
	g.metrics.ObserveGeneration("score", time.Since(start).Seconds())
	if err != nil {
		return nil, engine.Failure(err)
	}

	return &protocol.ScoreEvaluationResponse{
		ID:     "scoreval-" + uuid.NewString(),
		Object: "score.evaluation",
		Model:  req.Model,
		Scores: scores,
	}, nil
}
