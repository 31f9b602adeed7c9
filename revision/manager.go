// Package revision centralizes the policy pagetx.PageReadTrx/PageWriteTrx
// leave to their caller: which revision root backs a given read, how a new
// write transaction chains onto the latest one, and the single-writer
// exclusivity rule (spec §4.1, §4.5, §5).
package revision

import (
	"fmt"
	"sync"

	"github.com/sirixcore/sirix/cache"
	"github.com/sirixcore/sirix/iobackend"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/page"
	"github.com/sirixcore/sirix/pagetx"
	"github.com/sirixcore/sirix/sirixerr"
	"github.com/sirixcore/sirix/txlog"
)

// Options configures a Manager's shared page cache and optional durable
// transaction-log spill.
type Options struct {
	CacheCapacity int
	TxLogPath     string // empty disables the spill
	SyncEvery     int
	// DirtyPageCapacity bounds how many leaf pages a write transaction keeps
	// resident before spilling the rest to the transaction log (spec §3.4).
	// <=0 uses pagetx.DefaultDirtyCapacity.
	DirtyPageCapacity int
}

// Manager owns one resource's backing file, shared page cache, and
// optional transaction log, and enforces that at most one write
// transaction is open at a time (spec §5).
type Manager struct {
	mu       sync.Mutex
	rf       *iobackend.ResourceFile
	cache    *cache.PageCache
	log      *txlog.Log
	resource string

	dirtyPageCapacity int
	writerOpen        bool
}

// Open opens an existing resource file under management.
func Open(path, resource string, opts Options) (*Manager, error) {
	rf, err := iobackend.Open(path)
	if err != nil {
		return nil, err
	}
	return newManager(rf, resource, opts)
}

// Create initializes a fresh resource file under management.
func Create(path, resource string, header iobackend.Header, opts Options) (*Manager, error) {
	rf, err := iobackend.Create(path, header)
	if err != nil {
		return nil, err
	}
	return newManager(rf, resource, opts)
}

func newManager(rf *iobackend.ResourceFile, resource string, opts Options) (*Manager, error) {
	var log *txlog.Log
	if opts.TxLogPath != "" {
		l, err := txlog.Open(opts.TxLogPath, opts.SyncEvery, nil)
		if err != nil {
			_ = rf.Close()
			return nil, err
		}
		log = l
	}
	return &Manager{rf: rf, cache: cache.New(opts.CacheCapacity), log: log, resource: resource, dirtyPageCapacity: opts.DirtyPageCapacity}, nil
}

// OpenLatest returns a read transaction pinned to the most recently
// committed revision, or the synthetic empty revision 0 for a brand-new
// resource that has never been committed to.
func (m *Manager) OpenLatest() (*pagetx.PageReadTrx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openLatestLocked()
}

func (m *Manager) openLatestLocked() (*pagetx.PageReadTrx, error) {
	trailer, err := m.rf.ReadTrailer()
	if err != nil {
		return nil, err
	}
	if trailer == 0 {
		root := &page.RevisionRoot{RevisionNumber: 0, MaxNodeKey: node.DocumentNodeKey}
		return pagetx.NewPageReadTrx(m.rf, m.cache, m.resource, root, page.NoReference), nil
	}
	uberBlob, err := m.rf.ReadPage(trailer)
	if err != nil {
		return nil, err
	}
	uber, err := page.DecodeUber(uberBlob)
	if err != nil {
		return nil, err
	}
	rootBlob, err := m.rf.ReadPage(uber.RevisionRootOffset)
	if err != nil {
		return nil, err
	}
	root, err := page.DecodeRevisionRoot(rootBlob)
	if err != nil {
		return nil, err
	}
	return pagetx.NewPageReadTrx(m.rf, m.cache, m.resource, root, page.Reference{Present: true, Offset: uber.RevisionRootOffset}), nil
}

// Open returns a read transaction pinned to a specific past revision,
// walking the revision root's backward chain from the latest commit (spec
// §4.5).
func (m *Manager) Open(revisionNumber uint32) (*pagetx.PageReadTrx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, err := m.openLatestLocked()
	if err != nil {
		return nil, err
	}
	if revisionNumber > cur.RevisionNumber() {
		return nil, fmt.Errorf("revision: open %d: %w", revisionNumber, sirixerr.ErrBadArgument)
	}
	for cur.RevisionNumber() > revisionNumber {
		prev := cur.Root().Previous
		if !prev.Present {
			return nil, fmt.Errorf("revision: open %d: %w", revisionNumber, sirixerr.ErrCorruption)
		}
		blob, err := m.rf.ReadPage(prev.Offset)
		if err != nil {
			return nil, err
		}
		root, err := page.DecodeRevisionRoot(blob)
		if err != nil {
			return nil, err
		}
		cur = pagetx.NewPageReadTrx(m.rf, m.cache, m.resource, root, prev)
	}
	return cur, nil
}

// BeginWrite opens the single write transaction building the next
// revision. It fails with sirixerr.ErrWriterActive if one is already open
// (spec §5). Callers must call Release once the returned transaction
// commits or aborts.
func (m *Manager) BeginWrite() (*pagetx.PageWriteTrx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.writerOpen {
		return nil, fmt.Errorf("revision: begin write: %w", sirixerr.ErrWriterActive)
	}
	base, err := m.openLatestLocked()
	if err != nil {
		return nil, err
	}
	m.writerOpen = true
	return pagetx.NewPageWriteTrx(base, m.rf, m.resource, m.log, m.dirtyPageCapacity), nil
}

// Release frees the write-transaction slot. Safe to call after both commit
// and abort.
func (m *Manager) Release() {
	m.mu.Lock()
	m.writerOpen = false
	m.mu.Unlock()
}

// Close releases the resource file and transaction log.
func (m *Manager) Close() error {
	if m.log != nil {
		if err := m.log.Close(); err != nil {
			return err
		}
	}
	return m.rf.Close()
}
