package git

import (
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// NewStorage opens go-git storage over a metadata directory filesystem.
// The LRU object cache lives as long as the storage.
func NewStorage(dotGit billy.Filesystem) *filesystem.Storage {
	return filesystem.NewStorage(dotGit, cache.NewObjectLRUDefault())
}

// storagePool keeps one storage per metadata directory.
type storagePool struct {
	mu       sync.Mutex
	open     func(dir string) billy.Filesystem
	storages map[string]*filesystem.Storage
}

func newStoragePool(open func(dir string) billy.Filesystem) *storagePool {
	if open == nil {
		open = func(dir string) billy.Filesystem { return osfs.New(dir) }
	}
	return &storagePool{
		open:     open,
		storages: make(map[string]*filesystem.Storage),
	}
}

func (p *storagePool) get(dir string) *filesystem.Storage {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.storages[dir]; ok {
		return st
	}
	st := NewStorage(p.open(dir))
	p.storages[dir] = st
	return st
}

// preload registers fs as the filesystem for dir.
func (p *storagePool) preload(dir string, fs billy.Filesystem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storages[dir] = NewStorage(fs)
}
