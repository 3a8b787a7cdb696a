package server

import (
	"context"
	"time"

	"github.com/spanstream/spanstream/internal/metrics"
	"github.com/spanstream/spanstream/pkg/extract"
)

// instrumentedExtractor wraps an extractor with call metrics. Every
// extraction call, streaming or one-shot, flows through here.
type instrumentedExtractor struct {
	inner   extract.Extractor
	model   string
	metrics *metrics.Metrics
}

func (e *instrumentedExtractor) Extract(ctx context.Context, text string) (*extract.Document, error) {
	start := time.Now()
	doc, err := e.inner.Extract(ctx, text)
	e.metrics.ExtractionCallDuration.WithLabelValues(e.model).Observe(time.Since(start).Seconds())

	if err != nil {
		e.metrics.ExtractionCallsTotal.WithLabelValues(e.model, "error").Inc()
		e.metrics.ExtractionErrorsTotal.WithLabelValues(e.model).Inc()
		return nil, err
	}
	e.metrics.ExtractionCallsTotal.WithLabelValues(e.model, "ok").Inc()
	return doc, nil
}
