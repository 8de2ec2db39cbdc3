package git

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidID indicates that a string is not a 40 character hex object id.
	ErrInvalidID = errors.New("invalid object id")

	// ErrUnsupportedObject indicates an object type the graph does not model
	// (annotated tags, offset deltas).
	ErrUnsupportedObject = errors.New("unsupported object type")

	// ErrUnresolvedHead indicates that HEAD content could not be turned into
	// a commit id.
	ErrUnresolvedHead = errors.New("cannot resolve HEAD")
)

// ExploreError wraps a failure to classify a single object.
type ExploreError struct {
	ID  string
	Err error
}

func (e *ExploreError) Error() string {
	return fmt.Sprintf("exploring object %s: %v", e.ID, e.Err)
}

func (e *ExploreError) Unwrap() error {
	return e.Err
}
