package datasource

import (
	"fmt"
	"strings"
)

// PrimeError reports documents that could not be written through to the
// backing cache during Prime. The loader tier is always primed first, so
// reads within the same request still see the fresh documents even when
// this error is returned.
type PrimeError struct {
	IDs  []string
	Errs []error
}

func (e *PrimeError) Error() string {
	parts := make([]string, len(e.IDs))
	for i, id := range e.IDs {
		parts[i] = fmt.Sprintf("%s: %v", id, e.Errs[i])
	}
	return fmt.Sprintf("prime: %d document(s) not written to backing cache: %s",
		len(e.IDs), strings.Join(parts, "; "))
}

func (e *PrimeError) Unwrap() []error { return e.Errs }
