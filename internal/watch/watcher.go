package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher turns fsnotify events under a metadata directory into staged
// changes. It watches the directory itself (for HEAD, which git replaces by
// rename, and packed-refs), refs/heads, objects and every shard directory.
type Watcher struct {
	gitDir     string
	headPath   string
	packedPath string
	refsDir    string
	objectsDir string

	fsw       *fsnotify.Watcher
	coalescer *Coalescer
	logger    *slog.Logger
}

// NewWatcher registers the watches for gitDir. Changes are staged on c.
func NewWatcher(gitDir string, c *Coalescer, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	abs, err := filepath.Abs(gitDir)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		gitDir:     abs,
		headPath:   filepath.Join(abs, headFile),
		packedPath: filepath.Join(abs, packedRefsFile),
		refsDir:    filepath.Join(abs, filepath.FromSlash(headsDir)),
		objectsDir: filepath.Join(abs, "objects"),
		coalescer:  c,
		logger:     logger,
	}

	for _, dir := range []string{w.gitDir, w.refsDir, w.objectsDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return nil, fmt.Errorf("%w: %s", ErrNotWatchable, dir)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w.fsw = fsw

	for _, dir := range []string{w.gitDir, w.refsDir, w.objectsDir} {
		if err := fsw.Add(dir); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}

	entries, err := os.ReadDir(w.objectsDir)
	if err != nil {
		fsw.Close()
		return nil, err
	}
	for _, entry := range entries {
		if entry.IsDir() && len(entry.Name()) == shardLen {
			w.watchShard(filepath.Join(w.objectsDir, entry.Name()))
		}
	}
	return w, nil
}

// WatchedPaths returns the directories currently registered.
func (w *Watcher) WatchedPaths() []string {
	return w.fsw.WatchList()
}

// Run forwards events until ctx is cancelled, then closes the watcher and
// drops whatever is still buffered.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.coalescer.Stop()
	defer w.fsw.Close()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(ev)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event) {
	stream, ch, ok, err := w.classify(ev)
	if err != nil {
		w.logger.Warn("dropping notification", "path", ev.Name, "op", ev.Op, "error", err)
		return
	}
	if !ok {
		return
	}

	// New shard directories need their own watch to report objects.
	if stream == StreamObjects && ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == w.objectsDir {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() && len(ch.Name) == shardLen {
			w.watchShard(ev.Name)
		}
	}

	if w.coalescer.Stage(stream, ch) {
		w.logger.Debug("staged change", "stream", stream, "name", ch.Name, "op", ev.Op)
	}
}

func (w *Watcher) watchShard(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("cannot watch shard", "dir", dir, "error", err)
	}
}

// classify maps an event to its stream. Events that concern none of the
// streams are reported with ok false.
func (w *Watcher) classify(ev fsnotify.Event) (stream Stream, ch Change, ok bool, err error) {
	name := filepath.Clean(ev.Name)
	dir := filepath.Dir(name)

	switch {
	case name == w.headPath:
		return StreamHead, Change{Path: w.headPath, Name: headFile, Op: ev.Op}, true, nil

	case name == w.packedPath:
		return StreamRefs, Change{Path: w.gitDir, Name: packedRefsFile, Op: ev.Op}, true, nil

	case name == w.refsDir || name == w.objectsDir || name == w.gitDir:
		return 0, Change{}, false, ErrMissingFilename

	case dir == w.refsDir:
		return StreamRefs, Change{Path: w.gitDir, Name: filepath.Base(name), Op: ev.Op}, true, nil

	case dir == w.gitDir:
		return 0, Change{}, false, nil
	}

	rel, relErr := filepath.Rel(w.objectsDir, name)
	if relErr != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return 0, Change{}, false, nil
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	if first == "" {
		return 0, Change{}, false, ErrMissingFilename
	}
	return StreamObjects, Change{Path: w.objectsDir, Name: first, Op: ev.Op}, true, nil
}
