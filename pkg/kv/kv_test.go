package kv

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suxatcode/helix-db/internal/herr"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := Open(Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSetGet(t *testing.T) {
	e := openTestEngine(t)

	err := e.Update(func(txn *Txn) error {
		return txn.Set([]byte("k1"), []byte("v1"))
	})
	require.NoError(t, err)

	err = e.View(func(txn *Txn) error {
		v, err := txn.Get([]byte("k1"))
		require.NoError(t, err)
		require.Equal(t, "v1", string(v))
		return nil
	})
	require.NoError(t, err)
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	e := openTestEngine(t)
	err := e.View(func(txn *Txn) error {
		_, err := txn.Get([]byte("absent"))
		return err
	})
	require.ErrorIs(t, err, herr.NotFound)
}

func TestUpdateAbortsOnError(t *testing.T) {
	e := openTestEngine(t)

	_ = e.Update(func(txn *Txn) error {
		_ = txn.Set([]byte("k"), []byte("v"))
		return errAbort
	})

	err := e.View(func(txn *Txn) error {
		_, err := txn.Get([]byte("k"))
		return err
	})
	require.ErrorIs(t, err, herr.NotFound)
}

func TestPrefixCursorOrdering(t *testing.T) {
	e := openTestEngine(t)
	keys := [][]byte{
		[]byte("p:a"), []byte("p:b"), []byte("p:c"), []byte("q:z"),
	}
	err := e.Update(func(txn *Txn) error {
		for _, k := range keys {
			if err := txn.Set(k, []byte{1}); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	var seen []string
	err = e.View(func(txn *Txn) error {
		c := txn.PrefixCursor([]byte("p:"))
		defer c.Close()
		for ; c.Valid(); c.Next() {
			seen = append(seen, string(c.Key()))
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"p:a", "p:b", "p:c"}, seen)
}

func TestReadOnlyEngineRejectsUpdate(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(Options{DataDir: dir})
	require.NoError(t, err)
	require.NoError(t, e.Close())

	ro, err := Open(Options{DataDir: dir, ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	err = ro.Update(func(txn *Txn) error { return nil })
	require.Error(t, err)
}

var errAbort = fmtError("aborted")

type fmtError string

func (e fmtError) Error() string { return string(e) }
