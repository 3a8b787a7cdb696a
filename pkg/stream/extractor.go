// Package stream provides the incremental extractor: it buffers incoming
// text fragments, re-runs extraction over the full transcript when enough
// pending text accumulates, and yields only spans not already accepted.
package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spanstream/spanstream/pkg/extract"
)

// Extractor accumulates a transcript and emits span deltas. It is not safe
// for concurrent use; callers process fragments strictly in order.
type Extractor struct {
	backend    extract.Extractor
	threshold  int
	transcript []string
	pending    int
	merged     []extract.Span
	keys       map[extract.Key]struct{}
	logger     zerolog.Logger
}

// New creates an incremental extractor. threshold is the pending-buffer
// bound in characters; extraction triggers once pending text reaches half
// of it, or on Flush.
func New(backend extract.Extractor, threshold int, logger zerolog.Logger) (*Extractor, error) {
	if backend == nil {
		return nil, fmt.Errorf("extraction backend is required")
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("buffer threshold must be positive, got %d", threshold)
	}
	return &Extractor{
		backend:   backend,
		threshold: threshold,
		keys:      make(map[extract.Key]struct{}),
		logger:    logger,
	}, nil
}

// Push appends a fragment to the transcript. When the pending buffer is
// still under half the threshold the fragment is retained and no result is
// produced; otherwise extraction runs over the entire transcript and the
// newly accepted spans are returned in discovery order.
func (e *Extractor) Push(ctx context.Context, fragment string) ([]extract.Span, error) {
	if fragment == "" {
		return nil, nil
	}
	e.transcript = append(e.transcript, fragment)
	e.pending += len(fragment)

	if e.pending < e.threshold/2 {
		return nil, nil
	}
	return e.run(ctx)
}

// Flush forces an extraction over the transcript. With nothing pending it
// returns immediately without calling the backend.
func (e *Extractor) Flush(ctx context.Context) ([]extract.Span, error) {
	if e.pending == 0 {
		return nil, nil
	}
	return e.run(ctx)
}

// run performs one extraction call over the full transcript and merges the
// result. On failure the pending buffer and transcript are left untouched
// so the next Push or Flush retries over the same accumulated text.
func (e *Extractor) run(ctx context.Context) ([]extract.Span, error) {
	full := e.Text()
	doc, err := e.backend.Extract(ctx, full)
	if err != nil {
		return nil, &extract.Failure{Cause: err}
	}

	// The raw delta tells us what is newly observable; the merge decides
	// what is actually kept. Only the accepted tail is emitted.
	delta := extract.Delta(e.keys, doc.Spans)
	merged := extract.Merge(e.merged, doc.Spans)
	accepted := merged[len(e.merged):]

	if rejected := len(delta) - len(accepted); rejected > 0 {
		e.logger.Debug().
			Int("rejected", rejected).
			Msg("New spans dropped by overlap rule")
	}

	e.merged = merged
	for _, s := range accepted {
		e.keys[s.Key()] = struct{}{}
	}
	e.pending = 0

	return accepted, nil
}

// Text returns the full transcript joined by line separators.
func (e *Extractor) Text() string {
	return strings.Join(e.transcript, "\n")
}

// Merged returns a copy of the accepted span set in discovery order.
func (e *Extractor) Merged() []extract.Span {
	out := make([]extract.Span, len(e.merged))
	copy(out, e.merged)
	return out
}

// Pending returns the size in characters of the unflushed buffer.
func (e *Extractor) Pending() int {
	return e.pending
}
