package extract

// KeySet builds the identity-key set of a span sequence.
func KeySet(spans []Span) map[Key]struct{} {
	keys := make(map[Key]struct{}, len(spans))
	for _, s := range spans {
		keys[s.Key()] = struct{}{}
	}
	return keys
}

// Delta returns, in input order, every candidate whose identity key is not
// in priorKeys. It answers "what is newly observable this round" and does
// not apply the overlap rule; a span in the delta can still be rejected by
// Merge.
func Delta(priorKeys map[Key]struct{}, candidates []Span) []Span {
	var out []Span
	for _, c := range candidates {
		if _, seen := priorKeys[c.Key()]; seen {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Merge appends to accepted every candidate that is neither a duplicate
// observation nor overlapping a span already in the result. First occurrence
// wins: a later candidate never replaces an earlier span, even when it
// covers the same region more precisely. The returned slice is a new slice;
// accepted is not mutated.
func Merge(accepted, candidates []Span) []Span {
	merged := make([]Span, len(accepted), len(accepted)+len(candidates))
	copy(merged, accepted)

	existing := KeySet(accepted)
	for _, c := range candidates {
		k := c.Key()
		if _, dup := existing[k]; dup {
			continue
		}
		if overlapsAny(c, merged) {
			continue
		}
		merged = append(merged, c)
		existing[k] = struct{}{}
	}
	return merged
}

func overlapsAny(s Span, spans []Span) bool {
	for _, m := range spans {
		if s.Overlaps(m) {
			return true
		}
	}
	return false
}
