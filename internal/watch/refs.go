package watch

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5/util"
	"golang.org/x/sync/errgroup"

	"github.com/linsyking/git-visualizer/internal/graph"
)

const (
	headsDir       = "refs/heads"
	packedRefsFile = "packed-refs"
)

// ReconcileRefs makes the set of branch nodes match the loose branches in
// refs/heads plus the names listed in packed-refs. Branches whose pointer
// did not change are left untouched.
func (e *Engine) ReconcileRefs(ctx context.Context) error {
	var (
		mu    sync.Mutex
		found = make(map[string]struct{})
	)

	entries, err := e.fs.ReadDir(headsDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return &ItemError{Stream: StreamRefs, Item: headsDir, Err: err}
	}

	var g errgroup.Group
	for _, entry := range entries {
		if entry.IsDir() || ignored(e.refIgn, entry.Name()) {
			continue
		}
		name := entry.Name()
		// A listed file is a live branch even if reading it fails below.
		mu.Lock()
		found[name] = struct{}{}
		mu.Unlock()
		g.Go(func() error {
			e.guard(name, func() {
				if err := e.reconcileBranch(name); err != nil {
					e.logger.Warn("reference reconciliation failed", "branch", name, "error", err)
				}
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	packed, err := e.packedBranchNames()
	if err != nil {
		e.logger.Warn("reading packed refs failed", "error", err)
	}
	for _, name := range packed {
		found[name] = struct{}{}
	}

	e.pruneBranches(found)
	return nil
}

func (e *Engine) reconcileBranch(name string) error {
	raw, err := util.ReadFile(e.fs, e.fs.Join(headsDir, name))
	if err != nil {
		return err
	}
	target, err := parseLooseRef(raw)
	if err != nil {
		return err
	}

	branch, created := e.store.GetOrCreate(name, func() *graph.Node {
		return graph.NewNode(name, graph.KindBranch, e.gitDir, name)
	})
	if !created && branch.Kind() != graph.KindBranch {
		return fmt.Errorf("%w: %s is a %s", ErrNodeConflict, name, branch.Kind())
	}
	if created {
		e.sink.NodeAdded(branch)
	}
	e.point(branch, target)
	return nil
}

// parseLooseRef extracts the target id from a loose reference file.
func parseLooseRef(raw []byte) (string, error) {
	content := strings.TrimSpace(string(raw))
	if len(content) > 40 {
		content = content[:40]
	}
	if !isObjectID(content) {
		return "", fmt.Errorf("%w: %q", ErrMalformedRef, content)
	}
	return content, nil
}

// packedBranchNames returns the last path segment of every packed ref, or
// nothing when there is no packed-refs file.
func (e *Engine) packedBranchNames() ([]string, error) {
	if _, err := e.fs.Stat(packedRefsFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	data, err := util.ReadFile(e.fs, packedRefsFile)
	if err != nil {
		return nil, err
	}
	names, bad := parsePackedRefs(data)
	for _, line := range bad {
		e.logger.Warn("skipping packed ref", "error", line)
	}
	return names, nil
}

// parsePackedRefs reads "<id> <refname>" lines, skipping blank lines,
// comments and peeled-tag lines. Malformed lines are returned as errors
// alongside the names that did parse.
func parsePackedRefs(data []byte) ([]string, []error) {
	var (
		names []string
		bad   []error
	)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
			continue
		}
		_, ref, ok := strings.Cut(line, " ")
		ref = strings.TrimSpace(ref)
		if !ok || ref == "" {
			bad = append(bad, fmt.Errorf("%w: line %d: %q", ErrMalformedRef, lineNo, line))
			continue
		}
		names = append(names, ref[strings.LastIndex(ref, "/")+1:])
	}
	if err := scanner.Err(); err != nil {
		bad = append(bad, err)
	}
	return names, bad
}

// pruneBranches removes every branch whose name was not found, dropping
// its edge first, then every placeholder no ref points at any more.
func (e *Engine) pruneBranches(found map[string]struct{}) {
	branches := e.store.Branches()
	for _, branch := range branches {
		if _, ok := found[branch.ID]; ok {
			continue
		}
		if old, ok := branch.ClearPointer(); ok {
			e.sink.EdgeRemoved(branch.ID, old)
		}
		e.forget(branch.ID)
		if e.store.Remove(branch.ID) {
			e.logger.Debug("branch removed", "branch", branch.ID)
			e.sink.NodeRemoved(branch)
		}
	}

	targets := make(map[string]struct{}, len(branches)+1)
	for _, ref := range append(e.store.Branches(), e.store.Get(graph.HeadID)) {
		if ref == nil {
			continue
		}
		if target, ok := ref.Pointer(); ok {
			targets[target] = struct{}{}
		}
	}
	for _, p := range e.store.Placeholders() {
		if _, ok := targets[p.ID]; ok {
			continue
		}
		if e.store.Remove(p.ID) {
			e.logger.Debug("placeholder removed", "id", p.ID)
			e.sink.NodeRemoved(p)
		}
	}
}
