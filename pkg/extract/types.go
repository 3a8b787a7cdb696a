package extract

import "context"

// Interval is a half-open character range [Start, End) into the text a span
// was extracted from.
type Interval struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Span is a single labeled extraction result.
type Span struct {
	Class      string                 `json:"extraction_class"`
	Text       string                 `json:"extraction_text"`
	Interval   *Interval              `json:"interval,omitempty"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Key uniquely identifies an observation. Two spans with equal keys are the
// same observation regardless of which extraction call produced them.
type Key struct {
	Class      string
	Text       string
	Start      int
	End        int
	Positioned bool
}

// Key returns the identity key of the span. Spans without an interval still
// have a well-defined key.
func (s Span) Key() Key {
	k := Key{Class: s.Class, Text: s.Text}
	if s.Interval != nil {
		k.Start = s.Interval.Start
		k.End = s.Interval.End
		k.Positioned = true
	}
	return k
}

// Overlaps reports whether two spans cover intersecting character ranges.
// A span without an interval never overlaps anything.
func (s Span) Overlaps(o Span) bool {
	if s.Interval == nil || o.Interval == nil {
		return false
	}
	return s.Interval.Start < o.Interval.End && o.Interval.Start < s.Interval.End
}

// Document is the result of one extraction call: the text the backend
// resolved offsets against and the spans it found, in order.
type Document struct {
	Text  string
	Spans []Span
}

// Message is one conversational turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Extractor is the boundary to the extraction backend. Implementations may
// be slow (network, model inference) and may fail with arbitrary errors; the
// caller decides retry policy.
type Extractor interface {
	Extract(ctx context.Context, text string) (*Document, error)
}
