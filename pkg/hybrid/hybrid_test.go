package hybrid

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/pkg/fulltext"
	"github.com/suxatcode/helix-db/pkg/kv"
	"github.com/suxatcode/helix-db/pkg/vector"
)

func openEngine(t *testing.T) *kv.Engine {
	t.Helper()
	e, err := kv.Open(kv.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestHybridSearchFusesBothSignals(t *testing.T) {
	e := openEngine(t)
	bm25 := fulltext.New(fulltext.Params{K1: 1.2, B: 0.75}, fulltext.NewTokenizer(nil, 1))
	vecIdx := vector.New(vector.Params{M: 16, EfConstruction: 200, EfSearch: 50})

	docOnlyText, docOnlyVec, both := codec.NewID(), codec.NewID(), codec.NewID()

	err := e.Update(func(txn *kv.Txn) error {
		if err := bm25.InsertDoc(txn, "body", docOnlyText, "red apple fruit"); err != nil {
			return err
		}
		if err := bm25.InsertDoc(txn, "body", both, "red apple fruit snack"); err != nil {
			return err
		}
		if err := vecIdx.Insert(txn, "Doc", docOnlyVec, []float64{1, 0, 0}); err != nil {
			return err
		}
		return vecIdx.Insert(txn, "Doc", both, []float64{0.9, 0.1, 0})
	})
	require.NoError(t, err)

	err = e.View(func(txn *kv.Txn) error {
		results, err := Search(txn, bm25, "body", "red apple", vecIdx, "Doc", []float64{1, 0, 0}, 0.5, 10, 50, nil)
		require.NoError(t, err)
		require.NotEmpty(t, results)

		byID := map[codec.ID]float64{}
		for _, r := range results {
			byID[r.ID] = r.Score
		}
		// `both` scores on both signals; the single-signal docs score on
		// exactly one. The fused id carrying both should rank at least as
		// high as either single-signal id.
		require.GreaterOrEqual(t, byID[both], byID[docOnlyText])
		require.GreaterOrEqual(t, byID[both], byID[docOnlyVec])
		return nil
	})
	require.NoError(t, err)
}

func TestHybridSearchWithoutVectorQuery(t *testing.T) {
	e := openEngine(t)
	bm25 := fulltext.New(fulltext.Params{K1: 1.2, B: 0.75}, fulltext.NewTokenizer(nil, 1))
	vecIdx := vector.New(vector.Params{M: 16, EfConstruction: 200, EfSearch: 50})

	id := codec.NewID()
	err := e.Update(func(txn *kv.Txn) error {
		return bm25.InsertDoc(txn, "body", id, "hello world")
	})
	require.NoError(t, err)

	err = e.View(func(txn *kv.Txn) error {
		results, err := Search(txn, bm25, "body", "hello", vecIdx, "Doc", nil, 0.7, 10, 50, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, id, results[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestNormalizeSingleResultMapsToOne(t *testing.T) {
	out := normalizeBM25([]fulltext.Result{{DocID: codec.NewID(), Score: 3.2}})
	for _, v := range out {
		require.Equal(t, 1.0, v)
	}
}

// Scenario 6 (spec.md §8): equal fused scores are broken by ascending id.
func TestFusedTieBrokenByAscendingID(t *testing.T) {
	a := codec.ID{0x01}
	b := codec.ID{0x02}
	results := []Result{{ID: b, Score: 0.5}, {ID: a, Score: 0.5}}
	sortResults(results)
	require.Equal(t, a, results[0].ID)
	require.Equal(t, b, results[1].ID)
}
