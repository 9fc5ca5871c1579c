package ioc

import (
	"fmt"
	"strings"

	"github.com/nope-sec/nope/internal/models"
)

// ValidationError indicates the input string is not a recognized
// indicator or exclusion format.
type ValidationError struct {
	Message string // Reason, with the offending value quoted.
}

func (e *ValidationError) Error() string { return e.Message }

// ExcludedError indicates the indicator matches an active exclusion
// rule. The matched rule is carried so callers can render a precise
// message without re-deriving context.
type ExcludedError struct {
	Match ExclusionMatch // The rule that blocked the value.
}

func (e *ExcludedError) Error() string {
	reason := e.Match.Reason
	if reason == "" {
		reason = "excluded"
	}
	return fmt.Sprintf("ioc excluded: %s (matches exclusion '%s')", reason, e.Match.Value)
}

// ListNotFoundError names every requested list that does not exist, not
// just the first one.
type ListNotFoundError struct {
	Missing []string // Slugs that resolved to nothing.
}

func (e *ListNotFoundError) Error() string {
	return fmt.Sprintf("lists not found: %s", strings.Join(e.Missing, ", "))
}

// ListTypeMismatchError indicates the indicator kind is incompatible
// with a target list's declared type.
type ListTypeMismatchError struct {
	IOCType  models.IOCType  // Kind of the rejected indicator.
	ListType models.ListType // Declared type of the target list.
}

func (e *ListTypeMismatchError) Error() string {
	return fmt.Sprintf("cannot add %s IOC to a %s-only list", e.IOCType, e.ListType)
}
