// Package session implements the per-connection turn state machine: it
// parses inbound frames, drives extraction in aggregate or single-shot
// mode, and emits one or more outcomes per frame. A reset signal starts a
// fresh conversation on the same connection.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spanstream/spanstream/pkg/extract"
	"github.com/spanstream/spanstream/pkg/stream"
)

// Config holds session configuration.
type Config struct {
	// Aggregate accumulates turns into one growing conversation; otherwise
	// each turn is extracted independently.
	Aggregate bool

	// Backend performs the extraction calls.
	Backend extract.Extractor

	// BufferThreshold is the incremental extractor's pending-buffer bound
	// in characters.
	BufferThreshold int

	Logger zerolog.Logger
}

// Session processes the frames of one connection. Frames must be handled
// strictly in arrival order by a single goroutine: state mutation and delta
// computation rely on no frame being processed before the previous frame's
// outcome is emitted.
type Session struct {
	aggregate bool
	backend   extract.Extractor
	threshold int
	extractor *stream.Extractor
	logger    zerolog.Logger
}

// New creates a session. Configuration problems are fatal here and never
// surface mid-session.
func New(cfg Config) (*Session, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("extraction backend is required")
	}
	if cfg.BufferThreshold <= 0 {
		return nil, fmt.Errorf("buffer threshold must be positive, got %d", cfg.BufferThreshold)
	}

	s := &Session{
		aggregate: cfg.Aggregate,
		backend:   cfg.Backend,
		threshold: cfg.BufferThreshold,
		logger:    cfg.Logger,
	}
	if cfg.Aggregate {
		ex, err := stream.New(cfg.Backend, cfg.BufferThreshold, cfg.Logger)
		if err != nil {
			return nil, err
		}
		s.extractor = ex
	}
	return s, nil
}

// HandleFrame processes one inbound frame and emits its outcomes. The
// returned error is non-nil only when the sink fails; frame-level problems
// become malformed, warning, or error outcomes and the session keeps
// serving.
func (s *Session) HandleFrame(ctx context.Context, raw []byte, emit Sink) error {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return emit(Outcome{Type: OutcomeMalformed, Message: "invalid json"})
	}

	if frame.EOT || frame.Type == "eot" {
		if s.aggregate {
			if err := s.reset(); err != nil {
				return emit(Outcome{Type: OutcomeError, Message: err.Error()})
			}
		}
		return emit(Outcome{Type: OutcomeResetAck})
	}

	content := strings.TrimSpace(frame.Content)
	if content == "" {
		return emit(Outcome{Type: OutcomeWarning, Message: "empty content"})
	}

	role := strings.TrimSpace(frame.Role)
	if role == "" {
		role = "user"
	}

	// Progress signal before the potentially slow extraction call.
	if err := emit(Outcome{Type: OutcomeProcessing}); err != nil {
		return err
	}

	if s.aggregate {
		return s.handleAggregateTurn(ctx, role, content, emit)
	}
	return s.handleSingleTurn(ctx, content, emit)
}

// handleAggregateTurn folds the turn into the growing conversation and
// reports the delta. The flattened "role: content" line is the fragment
// pushed to the incremental extractor, whose transcript is the single
// authoritative conversation text.
func (s *Session) handleAggregateTurn(ctx context.Context, role, content string, emit Sink) error {
	fragment := role + ": " + content

	spans, err := s.extractor.Push(ctx, fragment)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Extraction call failed")
		return emit(Outcome{Type: OutcomeError, Message: err.Error()})
	}

	// The turn must always be answered, so force a call when the push
	// stayed under the trigger. Flush is a no-op when the push already ran.
	flushed, err := s.extractor.Flush(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Extraction call failed")
		return emit(Outcome{Type: OutcomeError, Message: err.Error()})
	}
	spans = append(spans, flushed...)

	return emit(Outcome{
		Type:        OutcomeAggregateResult,
		Text:        s.extractor.Text(),
		Extractions: SpanPayloads(spans),
	})
}

// handleSingleTurn extracts this turn's content in isolation and reports
// the full span list. No state carries over between turns.
func (s *Session) handleSingleTurn(ctx context.Context, content string, emit Sink) error {
	doc, err := s.backend.Extract(ctx, content)
	if err != nil {
		failure := &extract.Failure{Cause: err}
		s.logger.Warn().Err(failure).Msg("Extraction call failed")
		return emit(Outcome{Type: OutcomeError, Message: failure.Error()})
	}

	return emit(Outcome{
		Type:        OutcomeResult,
		Text:        doc.Text,
		Extractions: SpanPayloads(doc.Spans),
	})
}

// reset discards the conversation: a fresh incremental extractor with an
// empty transcript and merged set. Previously emitted spans become eligible
// for re-emission if rediscovered.
func (s *Session) reset() error {
	ex, err := stream.New(s.backend, s.threshold, s.logger)
	if err != nil {
		return err
	}
	s.extractor = ex
	return nil
}

// Aggregate reports whether the session accumulates turns.
func (s *Session) Aggregate() bool {
	return s.aggregate
}
