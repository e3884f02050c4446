package vector

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/pkg/kv"
)

func testParams() Params {
	return Params{M: 16, EfConstruction: 200, EfSearch: 50}
}

func openEngine(t *testing.T) *kv.Engine {
	t.Helper()
	e, err := kv.Open(kv.Options{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func randomVec(rng *rand.Rand, d int) []float64 {
	v := make([]float64, d)
	for i := range v {
		v[i] = rng.NormFloat64()
	}
	return v
}

type scored struct {
	id   codec.ID
	dist float64
}

func bruteForceTopK(query []float64, vecs map[codec.ID][]float64, k int) []codec.ID {
	qn := norm(query)
	var all []scored
	for id, v := range vecs {
		d := cosineDistance(query, qn, v, norm(v))
		all = append(all, scored{id, d})
	}
	sortScored(all)
	if len(all) > k {
		all = all[:k]
	}
	out := make([]codec.ID, len(all))
	for i, s := range all {
		out[i] = s.id
	}
	return out
}

func sortScored(s []scored) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1].dist > s[j].dist; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

func TestInsertAndSearchFindsSelf(t *testing.T) {
	e := openEngine(t)
	idx := New(testParams())
	rng := rand.New(rand.NewSource(1))

	ids := make([]codec.ID, 0, 200)
	vecs := make(map[codec.ID][]float64)
	err := e.Update(func(txn *kv.Txn) error {
		for i := 0; i < 200; i++ {
			id := codec.NewID()
			v := randomVec(rng, 8)
			if err := idx.Insert(txn, "Doc", id, v); err != nil {
				return err
			}
			ids = append(ids, id)
			vecs[id] = v
		}
		return nil
	})
	require.NoError(t, err)

	query := vecs[ids[0]]
	err = e.View(func(txn *kv.Txn) error {
		res, err := idx.Search(txn, "Doc", query, 10, 100, nil)
		require.NoError(t, err)
		require.NotEmpty(t, res)
		require.Equal(t, ids[0], res[0].ID)
		require.InDelta(t, 0, res[0].Distance, 1e-9)
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteIsolatesFromSearch(t *testing.T) {
	e := openEngine(t)
	idx := New(testParams())
	rng := rand.New(rand.NewSource(2))

	var target codec.ID
	err := e.Update(func(txn *kv.Txn) error {
		for i := 0; i < 50; i++ {
			id := codec.NewID()
			if i == 10 {
				target = id
			}
			if err := idx.Insert(txn, "Doc", id, randomVec(rng, 8)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = e.Update(func(txn *kv.Txn) error {
		return idx.Delete(txn, "Doc", target)
	})
	require.NoError(t, err)

	err = e.View(func(txn *kv.Txn) error {
		res, err := idx.Search(txn, "Doc", randomVec(rand.New(rand.NewSource(3)), 8), 50, 200, nil)
		require.NoError(t, err)
		for _, r := range res {
			require.NotEqual(t, target, r.ID)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestDimensionMismatchIsSchemaError(t *testing.T) {
	e := openEngine(t)
	idx := New(testParams())

	err := e.Update(func(txn *kv.Txn) error {
		if err := idx.Insert(txn, "Doc", codec.NewID(), []float64{1, 2, 3}); err != nil {
			return err
		}
		return idx.Insert(txn, "Doc", codec.NewID(), []float64{1, 2})
	})
	require.Error(t, err)
}

func TestNaNVectorIsValueError(t *testing.T) {
	e := openEngine(t)
	idx := New(testParams())
	err := e.Update(func(txn *kv.Txn) error {
		return idx.Insert(txn, "Doc", codec.NewID(), []float64{1, math.NaN()})
	})
	require.Error(t, err)
}

func TestSearchRecallAgainstBruteForce(t *testing.T) {
	e := openEngine(t)
	idx := New(Params{M: 16, EfConstruction: 200, EfSearch: 200})
	rng := rand.New(rand.NewSource(42))

	// One write transaction per insert: a single transaction carrying all
	// 500 inserts exceeds badger's per-transaction size limit.
	vecs := make(map[codec.ID][]float64)
	for i := 0; i < 500; i++ {
		id := codec.NewID()
		v := randomVec(rng, 16)
		vecs[id] = v
		err := e.Update(func(txn *kv.Txn) error {
			return idx.Insert(txn, "Doc", id, v)
		})
		require.NoError(t, err)
	}

	query := randomVec(rng, 16)
	expected := bruteForceTopK(query, vecs, 10)

	err := e.View(func(txn *kv.Txn) error {
		got, err := idx.Search(txn, "Doc", query, 10, 200, nil)
		require.NoError(t, err)

		hits := 0
		expectedSet := make(map[codec.ID]bool, len(expected))
		for _, id := range expected {
			expectedSet[id] = true
		}
		for _, r := range got {
			if expectedSet[r.ID] {
				hits++
			}
		}
		require.GreaterOrEqual(t, float64(hits)/float64(len(expected)), 0.7)
		return nil
	})
	require.NoError(t, err)
}
