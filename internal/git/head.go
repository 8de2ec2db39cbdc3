package git

import (
	"fmt"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// HeadResolver turns the content of a HEAD file into the commit id it
// currently designates.
type HeadResolver struct {
	refs storer.ReferenceStorer
}

// NewHeadResolver creates a resolver reading references from the metadata
// directory filesystem dotGit, loose refs first, then packed-refs.
func NewHeadResolver(dotGit billy.Filesystem) *HeadResolver {
	return &HeadResolver{refs: NewStorage(dotGit)}
}

// Resolve follows one level of symbolic indirection: "ref: refs/heads/main"
// yields the id main points at, a detached HEAD yields its own id.
func (r *HeadResolver) Resolve(raw []byte) (string, error) {
	content := strings.TrimSpace(string(raw))
	if content == "" {
		return "", fmt.Errorf("%w: empty HEAD", ErrUnresolvedHead)
	}

	ref := plumbing.NewReferenceFromStrings(plumbing.HEAD.String(), content)
	if ref.Type() == plumbing.HashReference {
		if !IsID(content) {
			return "", fmt.Errorf("%w: %q is not an object id", ErrUnresolvedHead, content)
		}
		return ref.Hash().String(), nil
	}

	target, err := r.refs.Reference(ref.Target())
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", ErrUnresolvedHead, ref.Target(), err)
	}
	if target.Type() != plumbing.HashReference {
		return "", fmt.Errorf("%w: %s is itself symbolic", ErrUnresolvedHead, ref.Target())
	}
	return target.Hash().String(), nil
}
