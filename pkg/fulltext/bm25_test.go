package fulltext

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/pkg/kv"
)

func testParams() Params { return Params{K1: 1.2, B: 0.75} }

func openEngine(t *testing.T) *kv.Engine {
	t.Helper()
	e, err := kv.Open(kv.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	tok := NewTokenizer([]string{"the", "and"}, 2)
	got := tok.Tokenize("The Quick Brown Fox and a Dog")
	require.Equal(t, []string{"quick", "brown", "fox", "dog"}, got)
}

func TestScenarioRankingAndStopwordZeroScore(t *testing.T) {
	e := openEngine(t)
	idx := New(testParams(), NewTokenizer([]string{"the", "and"}, 1))

	doc1, doc2, doc3 := codec.NewID(), codec.NewID(), codec.NewID()
	err := e.Update(func(txn *kv.Txn) error {
		if err := idx.InsertDoc(txn, "body", doc1, "the quick brown fox"); err != nil {
			return err
		}
		if err := idx.InsertDoc(txn, "body", doc2, "the lazy dog"); err != nil {
			return err
		}
		return idx.InsertDoc(txn, "body", doc3, "quick fox and lazy dog")
	})
	require.NoError(t, err)

	err = e.View(func(txn *kv.Txn) error {
		results, err := idx.Search(txn, "body", "quick fox", 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
		require.Equal(t, doc1, results[0].DocID)
		require.Equal(t, doc3, results[1].DocID)
		for _, r := range results {
			require.NotEqual(t, doc2, r.DocID)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestSearchScoreMonotonicInTermFrequency(t *testing.T) {
	e := openEngine(t)
	idx := New(testParams(), NewTokenizer(nil, 1))

	low, high := codec.NewID(), codec.NewID()
	err := e.Update(func(txn *kv.Txn) error {
		if err := idx.InsertDoc(txn, "body", low, "cat sat on the mat"); err != nil {
			return err
		}
		return idx.InsertDoc(txn, "body", high, "cat cat cat sat on the mat")
	})
	require.NoError(t, err)

	err = e.View(func(txn *kv.Txn) error {
		results, err := idx.Search(txn, "body", "cat", 10)
		require.NoError(t, err)
		require.Len(t, results, 2)
		require.Equal(t, high, results[0].DocID)
		require.Greater(t, results[0].Score, results[1].Score)
		require.Equal(t, low, results[1].DocID)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteDocRemovesFromSearchAndRestoresState(t *testing.T) {
	e := openEngine(t)
	idx := New(testParams(), NewTokenizer(nil, 1))

	a, b := codec.NewID(), codec.NewID()
	err := e.Update(func(txn *kv.Txn) error {
		if err := idx.InsertDoc(txn, "body", a, "apples and oranges"); err != nil {
			return err
		}
		return idx.InsertDoc(txn, "body", b, "oranges and pears")
	})
	require.NoError(t, err)

	err = e.Update(func(txn *kv.Txn) error {
		return idx.DeleteDoc(txn, "body", a)
	})
	require.NoError(t, err)

	err = e.View(func(txn *kv.Txn) error {
		results, err := idx.Search(txn, "body", "apples", 10)
		require.NoError(t, err)
		require.Empty(t, results)

		results, err = idx.Search(txn, "body", "oranges", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, b, results[0].DocID)
		return nil
	})
	require.NoError(t, err)

	err = e.View(func(txn *kv.Txn) error {
		m, err := idx.readMeta(txn, "body")
		require.NoError(t, err)
		require.Equal(t, uint64(1), m.docCount)
		return nil
	})
	require.NoError(t, err)
}

func TestUpdateDocReindexesText(t *testing.T) {
	e := openEngine(t)
	idx := New(testParams(), NewTokenizer(nil, 1))

	id := codec.NewID()
	err := e.Update(func(txn *kv.Txn) error {
		return idx.InsertDoc(txn, "body", id, "red fish blue fish")
	})
	require.NoError(t, err)

	err = e.Update(func(txn *kv.Txn) error {
		return idx.UpdateDoc(txn, "body", id, "green eggs and ham")
	})
	require.NoError(t, err)

	err = e.View(func(txn *kv.Txn) error {
		results, err := idx.Search(txn, "body", "fish", 10)
		require.NoError(t, err)
		require.Empty(t, results)

		results, err = idx.Search(txn, "body", "ham", 10)
		require.NoError(t, err)
		require.Len(t, results, 1)
		require.Equal(t, id, results[0].DocID)
		return nil
	})
	require.NoError(t, err)
}

func TestSearchWithNoMatchingTermsReturnsEmpty(t *testing.T) {
	e := openEngine(t)
	idx := New(testParams(), NewTokenizer(nil, 1))

	err := e.Update(func(txn *kv.Txn) error {
		return idx.InsertDoc(txn, "body", codec.NewID(), "hello world")
	})
	require.NoError(t, err)

	err = e.View(func(txn *kv.Txn) error {
		results, err := idx.Search(txn, "body", "goodbye", 10)
		require.NoError(t, err)
		require.Empty(t, results)
		return nil
	})
	require.NoError(t, err)
}
