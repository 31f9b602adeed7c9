// Package sirix is the embedding entry point: it opens a resource file,
// hands out page- and node-level transactions over it, and owns the
// auto-commit policy that chains a fresh write transaction onto each new
// revision (spec §4.8 point 5, §5). Callers never touch page/node codec
// types directly, the same way the teacher's hive package is the only
// supported entry point into cell internals.
package sirix

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/sirixcore/sirix/iobackend"
	"github.com/sirixcore/sirix/node"
	"github.com/sirixcore/sirix/pagetx"
	"github.com/sirixcore/sirix/revision"
)

// L is the package-level logger. It discards everything by default; an
// embedding host overrides it with slog.SetDefault-style assignment before
// opening any resource. Mirrors the teacher's cmd/hiveexplorer/logger
// package-var convention.
var L *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options configures a Resource's page cache, durable transaction log, and
// auto-commit thresholds (spec §4.8 point 5, SPEC_FULL §2 item 10).
type Options struct {
	// CacheCapacity bounds the shared page cache's entry count.
	CacheCapacity int
	// TxLogPath enables a durable bbolt-backed transaction log spill when
	// non-empty.
	TxLogPath string
	// SyncEvery sets how many transaction-log puts occur between the log's
	// periodic DB.Sync calls; each put is also committed (and fsynced) as
	// its own bbolt transaction.
	SyncEvery int
	// DirtyPageCapacity bounds how many leaf pages a write transaction
	// keeps resident before spilling the rest to the transaction log.
	// Zero uses pagetx.DefaultDirtyCapacity; ignored when TxLogPath is
	// empty, since there is then nowhere to spill to.
	DirtyPageCapacity int
	// AutoCommitDirtyPages auto-commits a node write transaction once its
	// underlying page transaction has touched this many leaf record
	// pages. Zero disables the dirty-page trigger.
	AutoCommitDirtyPages int
	// AutoCommitMutations auto-commits a node write transaction once this
	// many node-level mutations have occurred. Zero disables the
	// mutation-count trigger.
	AutoCommitMutations int
}

func (o Options) toRevisionOptions() revision.Options {
	return revision.Options{
		CacheCapacity:     o.CacheCapacity,
		TxLogPath:         o.TxLogPath,
		SyncEvery:         o.SyncEvery,
		DirtyPageCapacity: o.DirtyPageCapacity,
	}
}

// DefaultOptions returns conservative defaults: a modest page cache and no
// durable log spill or auto-commit thresholds.
func DefaultOptions() Options {
	return Options{CacheCapacity: 1024}
}

// Resource is one versioned document resource: its backing file, shared
// page cache, and the single-writer exclusivity rule (spec §5), wrapped
// around a revision.Manager.
type Resource struct {
	mgr  *revision.Manager
	opts Options
	name string
}

// Open opens an existing resource file under management.
func Open(path, name string, opts Options) (*Resource, error) {
	mgr, err := revision.Open(path, name, opts.toRevisionOptions())
	if err != nil {
		return nil, fmt.Errorf("sirix: open %s: %w", name, err)
	}
	return &Resource{mgr: mgr, opts: opts, name: name}, nil
}

// Create initializes a fresh resource file under management.
func Create(path, name string, header iobackend.Header, opts Options) (*Resource, error) {
	mgr, err := revision.Create(path, name, header, opts.toRevisionOptions())
	if err != nil {
		return nil, fmt.Errorf("sirix: create %s: %w", name, err)
	}
	L.Debug("resource created", "name", name, "path", path)
	return &Resource{mgr: mgr, opts: opts, name: name}, nil
}

// Close releases the backing file and transaction log.
func (r *Resource) Close() error {
	if err := r.mgr.Close(); err != nil {
		return fmt.Errorf("sirix: close %s: %w", r.name, err)
	}
	return nil
}

// BeginPageReadTrx opens a page read transaction pinned to the most
// recently committed revision.
func (r *Resource) BeginPageReadTrx() (*pagetx.PageReadTrx, error) {
	rtx, err := r.mgr.OpenLatest()
	if err != nil {
		return nil, fmt.Errorf("sirix: begin page read: %w", err)
	}
	return rtx, nil
}

// BeginPageReadTrxAt opens a page read transaction pinned to a specific
// past revision (spec §4.5).
func (r *Resource) BeginPageReadTrxAt(revisionNumber uint32) (*pagetx.PageReadTrx, error) {
	rtx, err := r.mgr.Open(revisionNumber)
	if err != nil {
		return nil, fmt.Errorf("sirix: begin page read at %d: %w", revisionNumber, err)
	}
	return rtx, nil
}

// BeginPageWriteTrx opens the single page write transaction building the
// next revision. It fails with sirixerr.ErrWriterActive if one is already
// open (spec §5).
func (r *Resource) BeginPageWriteTrx() (*pagetx.PageWriteTrx, error) {
	wtx, err := r.mgr.BeginWrite()
	if err != nil {
		return nil, fmt.Errorf("sirix: begin page write: %w", err)
	}
	return wtx, nil
}

// NodeKey re-exports node.DocumentNodeKey for callers positioning a fresh
// cursor without importing the node package directly.
const NodeKey = node.DocumentNodeKey
