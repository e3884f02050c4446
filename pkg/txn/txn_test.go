package txn

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suxatcode/helix-db/internal/herr"
	"github.com/suxatcode/helix-db/pkg/kv"
)

func openTestEngine(t *testing.T) *kv.Engine {
	t.Helper()
	e, err := kv.Open(kv.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestWriteTxnCommitPublishesMutation(t *testing.T) {
	e := openTestEngine(t)

	wt, err := BeginWrite(e)
	require.NoError(t, err)
	require.NoError(t, wt.KV().Set([]byte("k"), []byte("v")))
	require.NoError(t, wt.Commit())

	rt, err := BeginRead(e)
	require.NoError(t, err)
	defer rt.Close()
	v, err := rt.KV().Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestWriteTxnAbortDiscardsMutation(t *testing.T) {
	e := openTestEngine(t)

	wt, err := BeginWrite(e)
	require.NoError(t, err)
	require.NoError(t, wt.KV().Set([]byte("k"), []byte("v")))
	require.NoError(t, wt.Abort())

	rt, err := BeginRead(e)
	require.NoError(t, err)
	defer rt.Close()
	_, err = rt.KV().Get([]byte("k"))
	require.ErrorIs(t, err, herr.NotFound)
}

func TestDoubleCommitIsAccessError(t *testing.T) {
	e := openTestEngine(t)
	wt, err := BeginWrite(e)
	require.NoError(t, err)
	require.NoError(t, wt.Commit())
	require.ErrorIs(t, wt.Commit(), herr.Access)
}

func TestReadTxnRejectsWrite(t *testing.T) {
	e := openTestEngine(t)
	rt, err := BeginRead(e)
	require.NoError(t, err)
	defer rt.Close()
	require.ErrorIs(t, rt.KV().Set([]byte("k"), []byte("v")), herr.Access)
}

func TestReadTxnSeesStableSnapshot(t *testing.T) {
	e := openTestEngine(t)
	wt, err := BeginWrite(e)
	require.NoError(t, err)
	require.NoError(t, wt.KV().Set([]byte("k"), []byte("v1")))
	require.NoError(t, wt.Commit())

	rt, err := BeginRead(e)
	require.NoError(t, err)
	defer rt.Close()

	wt2, err := BeginWrite(e)
	require.NoError(t, err)
	require.NoError(t, wt2.KV().Set([]byte("k"), []byte("v2")))
	require.NoError(t, wt2.Commit())

	v, err := rt.KV().Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)
}
