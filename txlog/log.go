// Package txlog implements the persistent transaction log: a best-effort,
// content-addressed key/value spill for dirty pages during a long-running
// write transaction (spec §4.4).
//
// It is backed by go.etcd.io/bbolt, the actively maintained continuation of
// the boltdb/bolt API exercised by the storage-layer reference file in this
// module's grounding pack (BranchWriter over a bolt.Tx bucket, keyed by a
// monotonic sequence and walked with bucket-prefix cursors). Every Put,
// Delete and Clear commits its own *bolt.Tx, which bbolt fsyncs; on top of
// that, Log.maybeSync calls DB.Sync once every syncEvery puts.
package txlog

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.etcd.io/bbolt"

	"github.com/sirixcore/sirix/sirixerr"
)

var bucketName = []byte("pages")

// DefaultSyncEvery is the default put count between durability syncs
// (spec §4.4: "a periodic sync every N puts (N≈10 000)").
const DefaultSyncEvery = 10000

// Key identifies a spilled page by its logical tuple (spec §4.2:
// LogKey(page_kind, level, key-slice, index) and
// IndirectPageLogKey(page_kind, level, key-slice, index) share this shape;
// Indirect distinguishes the two log namespaces).
type Key struct {
	Kind     uint8
	Level    int32
	KeySlice int64
	Index    int32
	Indirect bool
}

func (k Key) encode() []byte {
	b := make([]byte, 1+4+8+4+1)
	b[0] = k.Kind
	binary.BigEndian.PutUint32(b[1:5], uint32(k.Level))
	binary.BigEndian.PutUint64(b[5:13], uint64(k.KeySlice))
	binary.BigEndian.PutUint32(b[13:17], uint32(k.Index))
	if k.Indirect {
		b[17] = 1
	}
	return b
}

// Log is a durable spill store for dirty pages. It is not itself
// transactional: entries are best-effort and the in-memory write
// transaction is always the source of truth while it is open (spec §4.4).
type Log struct {
	db        *bbolt.DB
	syncEvery int
	puts      atomic.Int64
	logger    *slog.Logger

	mu sync.Mutex
}

// Open opens (creating if absent) a transaction log at path. syncEvery<=0
// uses DefaultSyncEvery.
func Open(path string, syncEvery int, logger *slog.Logger) (*Log, error) {
	if syncEvery <= 0 {
		syncEvery = DefaultSyncEvery
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("txlog: open: %w: %v", sirixerr.ErrIO, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("txlog: create bucket: %w: %v", sirixerr.ErrIO, err)
	}
	return &Log{db: db, syncEvery: syncEvery, logger: logger}, nil
}

// Put durably spills a page blob under key.
func (l *Log) Put(key Key, blob []byte) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put(key.encode(), blob)
	})
	if err != nil {
		return fmt.Errorf("txlog: put: %w: %v", sirixerr.ErrIO, err)
	}
	l.maybeSync()
	return nil
}

// Get returns a previously spilled page blob, if present. A miss is not an
// error: it is reported through the second result, and the caller decides
// what a missing entry means.
func (l *Log) Get(key Key) ([]byte, bool, error) {
	var out []byte
	err := l.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketName).Get(key.encode())
		if v == nil {
			return nil
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("txlog: get: %w: %v", sirixerr.ErrIO, err)
	}
	return out, out != nil, nil
}

// Delete removes a spilled page, if present.
func (l *Log) Delete(key Key) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete(key.encode())
	})
	if err != nil {
		return fmt.Errorf("txlog: delete: %w: %v", sirixerr.ErrIO, err)
	}
	return nil
}

// Clear drops every spilled page. Called on successful commit (the pages
// are now durable in the resource file) and on abort (spec §4.2 step 5,
// §4.4).
func (l *Log) Clear() error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketName); err != nil && err != bbolt.ErrBucketNotFound {
			return err
		}
		_, err := tx.CreateBucket(bucketName)
		return err
	})
	if err != nil {
		return fmt.Errorf("txlog: clear: %w: %v", sirixerr.ErrIO, err)
	}
	l.puts.Store(0)
	return nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("txlog: close: %w: %v", sirixerr.ErrIO, err)
	}
	return nil
}

func (l *Log) maybeSync() {
	n := l.puts.Add(1)
	if int(n)%l.syncEvery != 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.db.Sync(); err != nil {
		l.logger.Warn("txlog: periodic sync failed", "error", err)
	}
}
