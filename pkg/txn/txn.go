// Package txn implements the scoped read/write transaction handles of the
// engine specification's txn manager (§4.8): read handles are freely
// created and concurrent, and both kinds expose explicit Commit/Abort rather
// than forcing every caller through a callback. Write handles are not
// serialized: several can be open at once, and a Commit that conflicts with
// a write committed after its handle began fails with herr.Storage.
package txn

import (
	"fmt"

	"github.com/suxatcode/helix-db/internal/herr"
	"github.com/suxatcode/helix-db/pkg/kv"
)

// ReadTxn is a read-only snapshot handle. Successive reads through the same
// handle observe identical state (§5 Ordering).
type ReadTxn struct {
	kt     *kv.Txn
	closed bool
}

// BeginRead opens a new read snapshot against e.
func BeginRead(e *kv.Engine) (*ReadTxn, error) {
	kt, err := e.Begin(false)
	if err != nil {
		return nil, err
	}
	return &ReadTxn{kt: kt}, nil
}

// KV exposes the underlying kv.Txn for the storage-layer packages
// (graph/vector/fulltext) to operate against. Must not be retained past
// the handle's Close.
func (t *ReadTxn) KV() *kv.Txn { return t.kt }

// Close releases the snapshot. Safe to call more than once.
func (t *ReadTxn) Close() {
	if t.closed {
		return
	}
	t.closed = true
	t.kt.Discard()
}

// WriteTxn is a write handle. Writes on a single WriteTxn are serialized and
// totally ordered; they become visible to new read handles atomically on
// Commit. Dropping a WriteTxn without calling Commit discards its buffered
// mutations — callers should still call Abort explicitly since Go has no
// deterministic destructor to do this for them.
type WriteTxn struct {
	kt   *kv.Txn
	done bool
}

// BeginWrite opens a new write handle against e. Returns herr.Access if e is
// read-only. Nested transactions are not supported (§4.8) — there is no API
// to open a WriteTxn from within another handle's lifetime.
func BeginWrite(e *kv.Engine) (*WriteTxn, error) {
	kt, err := e.Begin(true)
	if err != nil {
		return nil, err
	}
	return &WriteTxn{kt: kt}, nil
}

// KV exposes the underlying kv.Txn. Must not be retained past Commit/Abort.
func (t *WriteTxn) KV() *kv.Txn { return t.kt }

// Commit publishes every buffered mutation atomically. Returns herr.Access
// if the handle was already committed or aborted.
func (t *WriteTxn) Commit() error {
	if t.done {
		return fmt.Errorf("%w: transaction already closed", herr.Access)
	}
	t.done = true
	return t.kt.Commit()
}

// Abort discards every buffered mutation. Idempotent.
func (t *WriteTxn) Abort() error {
	if t.done {
		return nil
	}
	t.done = true
	t.kt.Discard()
	return nil
}
