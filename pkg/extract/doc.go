// Package extract defines labeled text spans and the merge rules that keep
// an accumulated span set free of duplicates and overlaps, plus the
// LLM-backed extraction backend that produces spans.
//
// Invariants:
// - A span's identity key is (class, text, interval start, interval end).
// - A merged set never holds two spans with equal keys or overlapping
//   intervals; first occurrence wins and is never replaced.
// - Span intervals are resolved locally against the source text, never
//   taken from model output.
//
// Usage:
//
//	provider, _ := extract.NewProviderFactory(creds).NewProvider(opts)
//	ex, _ := extract.NewLLMExtractor(opts, provider)
//	doc, _ := ex.Extract(ctx, "user: patient got 250 mg Cefazolin")
//	merged := extract.Merge(nil, doc.Spans)
//	_ = merged
package extract
