package session

import "github.com/spanstream/spanstream/pkg/extract"

// OutcomeType labels the per-frame outcomes sent back to the client.
type OutcomeType string

const (
	OutcomeInfo            OutcomeType = "info"
	OutcomeMalformed       OutcomeType = "malformed"
	OutcomeWarning         OutcomeType = "warning"
	OutcomeProcessing      OutcomeType = "processing"
	OutcomeResult          OutcomeType = "result"
	OutcomeAggregateResult OutcomeType = "aggregate_result"
	OutcomeError           OutcomeType = "error"
	OutcomeResetAck        OutcomeType = "reset_ack"
)

// Frame is the client-sent message shape. A frame is either a turn
// (role/content) or a reset signal (eot flag or type marker).
type Frame struct {
	Type    string `json:"type,omitempty"`
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	EOT     bool   `json:"eot,omitempty"`
}

// SpanPayload is the wire shape of one extracted span.
type SpanPayload struct {
	Class      string                 `json:"extraction_class"`
	Text       string                 `json:"extraction_text"`
	CharStart  *int                   `json:"char_start"`
	CharEnd    *int                   `json:"char_end"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Outcome is one server-to-client message. Every inbound frame produces at
// least one outcome; a valid turn produces a processing outcome followed by
// a result, aggregate_result, or error outcome.
type Outcome struct {
	Type        OutcomeType   `json:"type"`
	Message     string        `json:"message,omitempty"`
	Text        string        `json:"text,omitempty"`
	Extractions []SpanPayload `json:"extractions,omitempty"`
}

// Sink receives outcomes in emission order. A sink error means the
// transport is gone and the frame loop should stop.
type Sink func(Outcome) error

// SpanPayloads maps spans to their wire shape. Unpositioned spans carry
// explicit null offsets.
func SpanPayloads(spans []extract.Span) []SpanPayload {
	out := make([]SpanPayload, 0, len(spans))
	for _, s := range spans {
		p := SpanPayload{
			Class:      s.Class,
			Text:       s.Text,
			Attributes: s.Attributes,
		}
		if s.Interval != nil {
			start, end := s.Interval.Start, s.Interval.End
			p.CharStart = &start
			p.CharEnd = &end
		}
		out = append(out, p)
	}
	return out
}
