package extract

import "strings"

// DefaultPrompt is a concise demo instruction. Replace it per deployment;
// the medication domain here only bootstraps the few-shot behavior.
const DefaultPrompt = "Extract medications, dosages, frequencies, durations, and conditions in" +
	" the order they appear. Use exact text spans."

// DefaultMaxCharBuffer bounds per-call chunk size when the caller does not
// configure one.
const DefaultMaxCharBuffer = 800

// DefaultExamples returns the built-in few-shot examples.
func DefaultExamples() []Example {
	return []Example{
		{
			Text: "Patient was given 250 mg IV Cefazolin TID for one week.",
			Spans: []Span{
				{Class: "dosage", Text: "250 mg"},
				{Class: "route", Text: "IV"},
				{Class: "medication", Text: "Cefazolin"},
				{Class: "frequency", Text: "TID"},
				{Class: "duration", Text: "one week"},
			},
		},
	}
}

// DefaultOptions returns options carrying the built-in prompt and examples.
func DefaultOptions(modelID string) Options {
	return Options{
		Prompt:        DefaultPrompt,
		Examples:      DefaultExamples(),
		ModelID:       modelID,
		MaxCharBuffer: DefaultMaxCharBuffer,
	}
}

// FlattenMessages converts chat-style turns into a single text blob with
// roles, one "role: content" line per turn. Turns with blank content are
// skipped; a blank role defaults to "user".
func FlattenMessages(msgs []Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := strings.TrimSpace(m.Role)
		if role == "" {
			role = "user"
		}
		lines = append(lines, role+": "+content)
	}
	return strings.Join(lines, "\n")
}
