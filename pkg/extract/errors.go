package extract

import "fmt"

// Failure wraps an error raised by the extraction backend. The cause is
// opaque to the core: provider-specific content is carried through for the
// caller but never interpreted here.
type Failure struct {
	Cause error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	return fmt.Sprintf("extraction failed: %v", f.Cause)
}

// Unwrap exposes the underlying cause for errors.Is/errors.As.
func (f *Failure) Unwrap() error {
	return f.Cause
}
