package watch

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingFilename indicates a notification that did not name the
	// entry that changed.
	ErrMissingFilename = errors.New("notification without filename")

	// ErrMalformedRef indicates reference content that is not an object id.
	ErrMalformedRef = errors.New("malformed reference")

	// ErrNotWatchable indicates that a location required for watching is
	// missing from the metadata directory.
	ErrNotWatchable = errors.New("location cannot be watched")

	// ErrNodeConflict indicates that an id is already taken by a node of an
	// incompatible kind.
	ErrNodeConflict = errors.New("node id already used by another kind")
)

// ItemError records the failure of one buffered change. It never aborts the
// cycle it occurred in.
type ItemError struct {
	Stream Stream
	Item   string
	Err    error
}

func (e *ItemError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("%s: %v", e.Stream, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Stream, e.Item, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}
