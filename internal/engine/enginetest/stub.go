// Package enginetest provides an instrumented in-memory engine for
// exercising the gateway without a real runtime.
package enginetest

import (
	"context"
	"sync"
	"time"

	"modelgate/internal/engine"
)

// Stub is a canned engine implementation. Zero value is usable: it
// can generate, returns no results, and records every call. All fields
// must be set before first use; counters are safe for concurrent reads
// afterwards.
type Stub struct {
	// Generation toggles and canned outputs.
	ScoringOnly bool
	Results     []engine.Result
	Fragments   []string
	Scores      []float64

	// Err, when set, is returned by every engine call. StreamErr is
	// surfaced by the fragment stream after the fragments run out.
	Err       error
	StreamErr error

	// Delay stretches Generate and Score calls so overlap windows are
	// observable.
	Delay time.Duration

	mu            sync.Mutex
	generateCalls int
	streamCalls   int
	scoreCalls    int
	active        int
	maxActive     int
}

var _ engine.Engine = (*Stub)(nil)

// CanGenerate implements engine.Engine.
func (s *Stub) CanGenerate() bool {
	return !s.ScoringOnly
}

func (s *Stub) enter() {
	s.mu.Lock()
	s.active++
	if s.active > s.maxActive {
		s.maxActive = s.active
	}
	s.mu.Unlock()
}

func (s *Stub) exit() {
	s.mu.Lock()
	s.active--
	s.mu.Unlock()
}

// Generate implements engine.Engine.
func (s *Stub) Generate(ctx context.Context, turns []engine.Turn, system, tools string, params engine.Params) ([]engine.Result, error) {
	s.mu.Lock()
	s.generateCalls++
	s.mu.Unlock()

	s.enter()
	defer s.exit()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.Err != nil {
		return nil, s.Err
	}
	return s.Results, nil
}

// StreamGenerate implements engine.Engine.
func (s *Stub) StreamGenerate(ctx context.Context, turns []engine.Turn, system, tools string, params engine.Params) (engine.FragmentStream, error) {
	s.mu.Lock()
	s.streamCalls++
	s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	return &sliceStream{
		ctx:       ctx,
		fragments: s.Fragments,
		finalErr:  s.StreamErr,
	}, nil
}

// Score implements engine.Engine.
func (s *Stub) Score(ctx context.Context, texts []string, maxLength int) ([]float64, error) {
	s.mu.Lock()
	s.scoreCalls++
	s.mu.Unlock()

	s.enter()
	defer s.exit()

	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if s.Err != nil {
		return nil, s.Err
	}
	return s.Scores, nil
}

// GenerateCalls returns how many synchronous generations were requested.
func (s *Stub) GenerateCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generateCalls
}

// StreamCalls returns how many streaming generations were requested.
func (s *Stub) StreamCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCalls
}

// ScoreCalls returns how many scoring calls were made.
func (s *Stub) ScoreCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scoreCalls
}

// MaxActive returns the highest number of overlapping engine calls
// observed.
func (s *Stub) MaxActive() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxActive
}

type sliceStream struct {
	ctx       context.Context
	fragments []string
	finalErr  error
	pos       int
	current   string
	err       error
}

func (s *sliceStream) Next() bool {
	if s.ctx.Err() != nil {
		s.err = s.ctx.Err()
		return false
	}
	if s.pos >= len(s.fragments) {
		s.err = s.finalErr
		return false
	}
	s.current = s.fragments[s.pos]
	s.pos++
	return true
}

func (s *sliceStream) Current() string {
	return s.current
}

func (s *sliceStream) Err() error {
	return s.err
}

func (s *sliceStream) Close() error {
	return nil
}
