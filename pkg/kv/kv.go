// Package kv wraps BadgerDB into the ordered, sub-store-partitioned KV
// substrate the rest of HelixDB is built on (engine specification §4.1):
// one physical database, many logical sub-stores distinguished by key
// prefix, optimistic read/write transactions (see Engine), and cursor-based
// prefix/range iteration.
package kv

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/internal/helixlog"
	"github.com/suxatcode/helix-db/internal/herr"
)

// Options configures the underlying BadgerDB instance. Mirrors the
// teacher's BadgerOptions shape (DataDir/InMemory/SyncWrites/Logger),
// generalized with the low-memory tuning the teacher always applied
// unconditionally.
type Options struct {
	// DataDir is the directory holding the database files. Required
	// unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB with no on-disk files. Data does not
	// survive Close; used by tests and ephemeral engines.
	InMemory bool

	// SyncWrites forces fsync after each commit. Slower, more durable.
	SyncWrites bool

	// ReadOnly opens the database without permitting writes; Update
	// returns herr.Access if called against a read-only Engine.
	ReadOnly bool

	// LowMemory shrinks badger's in-memory buffers for constrained hosts.
	LowMemory bool

	// Logger receives badger's internal log lines. Defaults to
	// helixlog.Default() wrapped in a badger.Logger adapter.
	Logger *helixlog.Logger
}

// Engine owns one BadgerDB instance and adds the format_version gate and the
// read-only mode on top of it. It does not serialize writers: badger runs
// concurrent write transactions optimistically, and a commit that conflicts
// with a transaction committed after it began fails.
type Engine struct {
	db       *badger.DB
	readOnly bool
	mu       sync.RWMutex
	closed   bool
}

// Open opens (or creates) a database at opts.DataDir and verifies its
// format_version (§6), writing CurrentFormatVersion on first creation.
func Open(opts Options) (*Engine, error) {
	bo := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		bo = bo.WithInMemory(true)
	}
	if opts.SyncWrites {
		bo = bo.WithSyncWrites(true)
	}
	if opts.ReadOnly {
		bo = bo.WithReadOnly(true)
	}

	logger := opts.Logger
	if logger == nil {
		logger = helixlog.Default()
	}
	bo = bo.WithLogger(badgerLogAdapter{logger})

	// Always applied, as in the teacher: HelixDB is meant to run embedded
	// in host processes that did not budget gigabytes of RAM for an index.
	bo = bo.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	if opts.LowMemory {
		bo = bo.WithMemTableSize(8 << 20).WithBlockCacheSize(8 << 20).WithIndexCacheSize(8 << 20)
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("%w: open badger: %v", herr.Storage, err)
	}

	e := &Engine{db: db, readOnly: opts.ReadOnly}
	if err := e.checkFormatVersion(opts.ReadOnly); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) checkFormatVersion(readOnly bool) error {
	return e.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(codec.FormatVersionKey())
		if err == badger.ErrKeyNotFound {
			if readOnly {
				return nil
			}
			return txn.Set(codec.FormatVersionKey(), []byte{codec.CurrentFormatVersion})
		}
		if err != nil {
			return fmt.Errorf("%w: %v", herr.Storage, err)
		}
		var got byte
		if verr := item.Value(func(val []byte) error {
			if len(val) != 1 {
				return fmt.Errorf("%w: malformed format_version entry", herr.Storage)
			}
			got = val[0]
			return nil
		}); verr != nil {
			return verr
		}
		if got != codec.CurrentFormatVersion {
			return fmt.Errorf("%w: on-disk format_version %d, expected %d", herr.Storage, got, codec.CurrentFormatVersion)
		}
		return nil
	})
}

// Txn is a cursor-capable handle over one BadgerDB transaction. A Txn
// passed to a View/Update callback is scoped to that callback and must not
// be retained past that call; a Txn from Begin lives until Commit or
// Discard (§4.1's "scoping borrows" requirement, enforced here by
// construction rather than a runtime check since Go has no borrow checker).
type Txn struct {
	bt       *badger.Txn
	readOnly bool
}

// Get fetches the value stored at key. Returns herr.NotFound if absent.
func (t *Txn) Get(key []byte) ([]byte, error) {
	item, err := t.bt.Get(key)
	if err == badger.ErrKeyNotFound {
		return nil, herr.NotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", herr.Storage, err)
	}
	return item.ValueCopy(nil)
}

// Has reports whether key is present, without copying its value.
func (t *Txn) Has(key []byte) (bool, error) {
	_, err := t.bt.Get(key)
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", herr.Storage, err)
	}
	return true, nil
}

// Set writes key=value. Returns herr.Access on a read-only transaction.
func (t *Txn) Set(key, value []byte) error {
	if t.readOnly {
		return herr.Access
	}
	if err := t.bt.Set(key, value); err != nil {
		return fmt.Errorf("%w: %v", herr.Storage, err)
	}
	return nil
}

// Delete removes key. Idempotent: deleting an absent key is not an error,
// matching spec.md's "drop is idempotent on a missing id" contract at the
// storage layer it's built from.
func (t *Txn) Delete(key []byte) error {
	if t.readOnly {
		return herr.Access
	}
	if err := t.bt.Delete(key); err != nil {
		return fmt.Errorf("%w: %v", herr.Storage, err)
	}
	return nil
}

// Cursor iterates keys sharing a prefix, in ascending byte order.
type Cursor struct {
	it     *badger.Iterator
	prefix []byte
	end    []byte
}

// PrefixCursor opens a forward cursor over every key starting with prefix.
// The returned Cursor must be closed by the caller.
func (t *Txn) PrefixCursor(prefix []byte) *Cursor {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.bt.NewIterator(opts)
	it.Seek(prefix)
	return &Cursor{it: it, prefix: prefix}
}

// RangeCursor opens a forward cursor over the keys in [start, end), with no
// prefix restriction. graph.Store's label scans use PrefixCursor, not this.
func (t *Txn) RangeCursor(start, end []byte) *Cursor {
	opts := badger.DefaultIteratorOptions
	it := t.bt.NewIterator(opts)
	it.Seek(start)
	return &Cursor{it: it, prefix: nil, end: end}
}

func (c *Cursor) Valid() bool {
	if !c.it.ValidForPrefix(c.prefix) {
		return false
	}
	if c.end != nil && bytes.Compare(c.it.Item().Key(), c.end) >= 0 {
		return false
	}
	return true
}

func (c *Cursor) Next() { c.it.Next() }

func (c *Cursor) Key() []byte {
	return append([]byte(nil), c.it.Item().Key()...)
}

func (c *Cursor) Value() ([]byte, error) {
	v, err := c.it.Item().ValueCopy(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", herr.Storage, err)
	}
	return v, nil
}

func (c *Cursor) Close() { c.it.Close() }

// Begin opens a transaction directly, mirroring badger's own
// NewTransaction/Commit/Discard shape rather than View/Update's callback
// scoping. Used by the txn manager (§4.8) to offer explicit commit/abort
// handles instead of forcing every caller through a closure.
func (e *Engine) Begin(writable bool) (*Txn, error) {
	e.mu.RLock()
	closed := e.closed
	readOnly := e.readOnly
	e.mu.RUnlock()
	if closed {
		return nil, fmt.Errorf("%w: engine closed", herr.Access)
	}
	if writable && readOnly {
		return nil, herr.Access
	}
	bt := e.db.NewTransaction(writable)
	return &Txn{bt: bt, readOnly: !writable}, nil
}

// Commit publishes a writable Txn's buffered mutations. Returns herr.Access
// if called on a read-only Txn.
func (t *Txn) Commit() error {
	if t.readOnly {
		return herr.Access
	}
	if err := t.bt.Commit(); err != nil {
		return fmt.Errorf("%w: %v", herr.Storage, err)
	}
	return nil
}

// Discard releases a Txn opened via Engine.Begin without publishing any
// buffered mutations. Safe to call on a read-only Txn (it simply releases
// the snapshot) and safe to call more than once.
func (t *Txn) Discard() {
	t.bt.Discard()
}

// View runs fn against a read-only snapshot taken at call time.
func (e *Engine) View(fn func(*Txn) error) error {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return fmt.Errorf("%w: engine closed", herr.Access)
	}
	e.mu.RUnlock()

	return e.db.View(func(bt *badger.Txn) error {
		return fn(&Txn{bt: bt, readOnly: true})
	})
}

// Update runs fn against a fresh write transaction, committing on a nil
// return and aborting (discarding all writes) otherwise.
func (e *Engine) Update(fn func(*Txn) error) error {
	e.mu.RLock()
	closed := e.closed
	readOnly := e.readOnly
	e.mu.RUnlock()
	if closed {
		return fmt.Errorf("%w: engine closed", herr.Access)
	}
	if readOnly {
		return herr.Access
	}

	return e.db.Update(func(bt *badger.Txn) error {
		return fn(&Txn{bt: bt, readOnly: false})
	})
}

// Close releases the underlying BadgerDB instance. Safe to call twice.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

// Sync forces all buffered writes to durable storage.
func (e *Engine) Sync() error {
	return e.db.Sync()
}

// Size reports the approximate on-disk size (LSM tree + value log), for
// helixdb.Engine.Stats()/helixctl stats.
func (e *Engine) Size() (lsm, vlog int64) {
	return e.db.Size()
}

// RunGC reclaims space in the value log. Callers run this periodically;
// HelixDB never schedules it automatically, matching the teacher's
// explicit-call-only RunGC.
func (e *Engine) RunGC() error {
	err := e.db.RunValueLogGC(0.5)
	if err == badger.ErrNoRewrite {
		return nil
	}
	return err
}

// badgerLogAdapter bridges helixlog.Logger to badger.Logger.
type badgerLogAdapter struct{ l *helixlog.Logger }

func (a badgerLogAdapter) Errorf(f string, args ...interface{})   { a.l.Errorf(f, args...) }
func (a badgerLogAdapter) Warningf(f string, args ...interface{}) { a.l.Warnf(f, args...) }
func (a badgerLogAdapter) Infof(f string, args ...interface{})    { a.l.Infof(f, args...) }
func (a badgerLogAdapter) Debugf(f string, args ...interface{})   { a.l.Debugf(f, args...) }
