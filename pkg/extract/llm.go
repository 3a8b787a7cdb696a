package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// spanListSchema constrains the model output to a flat list of class/text
// pairs with optional attributes. Positions are resolved locally, never
// trusted from the model.
const spanListSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["extraction_class", "extraction_text"],
    "properties": {
      "extraction_class": {"type": "string", "minLength": 1},
      "extraction_text": {"type": "string", "minLength": 1},
      "attributes": {"type": "object"}
    },
    "additionalProperties": false
  }
}`

// wireSpan is the shape the model is asked to produce.
type wireSpan struct {
	Class      string                 `json:"extraction_class"`
	Text       string                 `json:"extraction_text"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// LLMExtractor implements Extractor on top of a chat-completion Provider.
// It chunks long input by MaxCharBuffer, prompts the provider per chunk,
// decodes the JSON span list, and resolves character intervals by locating
// each span text in the source.
type LLMExtractor struct {
	opts     Options
	provider Provider
	system   string
	schema   *gojsonschema.Schema
}

// NewLLMExtractor builds an extractor from validated options and a provider.
func NewLLMExtractor(opts Options, provider Provider) (*LLMExtractor, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extraction options: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}

	e := &LLMExtractor{
		opts:     opts,
		provider: provider,
		system:   buildSystemPrompt(opts),
	}

	if opts.SchemaConstraints {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(spanListSchema))
		if err != nil {
			return nil, fmt.Errorf("compile span schema: %w", err)
		}
		e.schema = schema
	}

	return e, nil
}

// Extract runs the provider over the full text and returns positioned spans.
func (e *LLMExtractor) Extract(ctx context.Context, text string) (*Document, error) {
	var spans []Span
	for _, ch := range chunkText(text, e.opts.MaxCharBuffer) {
		raw, err := e.provider.Complete(ctx, CompletionRequest{
			Model:        e.opts.ModelID,
			SystemPrompt: e.system,
			UserText:     ch.text,
			Temperature:  e.opts.Temperature,
		})
		if err != nil {
			return nil, err
		}

		chunkSpans, err := e.decode(raw)
		if err != nil {
			return nil, err
		}
		alignSpans(chunkSpans, ch.text, ch.offset)
		spans = append(spans, chunkSpans...)
	}
	return &Document{Text: text, Spans: spans}, nil
}

// decode parses the raw model output into unpositioned spans.
func (e *LLMExtractor) decode(raw string) ([]Span, error) {
	payload := stripCodeFence(raw)

	if e.schema != nil {
		result, err := e.schema.Validate(gojsonschema.NewStringLoader(payload))
		if err != nil {
			return nil, fmt.Errorf("model output is not valid JSON: %w", err)
		}
		if !result.Valid() {
			return nil, fmt.Errorf("model output violates span schema: %s", schemaErrors(result))
		}
	}

	var wire []wireSpan
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}

	spans := make([]Span, 0, len(wire))
	for _, w := range wire {
		spans = append(spans, Span{
			Class:      w.Class,
			Text:       w.Text,
			Attributes: w.Attributes,
		})
	}
	return spans, nil
}

func schemaErrors(result *gojsonschema.Result) string {
	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return strings.Join(msgs, "; ")
}

// alignSpans resolves intervals by claiming occurrences of each span text
// left to right. Repeated texts claim successive occurrences; a text not
// found past its cursor stays unpositioned.
func alignSpans(spans []Span, text string, base int) {
	cursors := make(map[string]int)
	for i := range spans {
		from := cursors[spans[i].Text]
		if from > len(text) {
			continue
		}
		idx := strings.Index(text[from:], spans[i].Text)
		if idx < 0 {
			continue
		}
		start := from + idx
		end := start + len(spans[i].Text)
		spans[i].Interval = &Interval{Start: base + start, End: base + end}
		cursors[spans[i].Text] = end
	}
}

type chunk struct {
	offset int
	text   string
}

// chunkText splits text into pieces of at most max characters, preferring
// line boundaries. Offsets index into the original text.
func chunkText(text string, max int) []chunk {
	if len(text) <= max {
		return []chunk{{offset: 0, text: text}}
	}

	var chunks []chunk
	offset := 0
	for len(text) > max {
		cut := strings.LastIndexByte(text[:max+1], '\n')
		if cut <= 0 {
			cut = max
		}
		chunks = append(chunks, chunk{offset: offset, text: text[:cut]})
		// Skip the separator itself so chunks stay aligned with the source.
		next := cut
		if next < len(text) && text[next] == '\n' {
			next++
		}
		offset += next
		text = text[next:]
	}
	if text != "" {
		chunks = append(chunks, chunk{offset: offset, text: text})
	}
	return chunks
}

func buildSystemPrompt(opts Options) string {
	var b strings.Builder
	b.WriteString(opts.Prompt)
	b.WriteString("\n\nRespond with a JSON array only. Each element is an object with")
	b.WriteString(` "extraction_class" and "extraction_text" fields and an optional`)
	b.WriteString(` "attributes" object. "extraction_text" must be an exact substring`)
	b.WriteString(" of the input. Return [] when nothing matches.")

	for _, ex := range opts.Examples {
		wire := make([]wireSpan, 0, len(ex.Spans))
		for _, s := range ex.Spans {
			wire = append(wire, wireSpan{Class: s.Class, Text: s.Text, Attributes: s.Attributes})
		}
		encoded, err := json.Marshal(wire)
		if err != nil {
			continue
		}
		b.WriteString("\n\nInput:\n")
		b.WriteString(ex.Text)
		b.WriteString("\nOutput:\n")
		b.Write(encoded)
	}
	return b.String()
}

// stripCodeFence removes a surrounding markdown code fence, which chat
// models add despite instructions.
func stripCodeFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop a language tag like "json" on the fence line.
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
