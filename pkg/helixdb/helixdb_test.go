package helixdb

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/pkg/config"
)

func openTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.Default()
	cfg.KV.InMemory = true
	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func props(keys []string, vals []codec.Value) codec.Properties {
	return codec.Properties{Keys: keys, Values: vals}
}

// Scenario 1 (spec.md §8): minimal graph.
func TestScenarioMinimalGraph(t *testing.T) {
	e := openTestEngine(t)

	wt, err := e.BeginWrite()
	require.NoError(t, err)
	u, err := e.AddN(wt, "User", props([]string{"name", "age"}, []codec.Value{codec.StringValue("John"), codec.I32Value(20)}))
	require.NoError(t, err)
	j, err := e.AddN(wt, "User", props([]string{"name", "age"}, []codec.Value{codec.StringValue("Jane"), codec.I32Value(22)}))
	require.NoError(t, err)
	_, err = e.AddE(wt, "Knows", u, j, codec.Properties{})
	require.NoError(t, err)
	require.NoError(t, wt.Commit())

	rt, err := e.BeginRead()
	require.NoError(t, err)
	defer rt.Close()

	out, err := e.Out(rt, u, "Knows")
	require.NoError(t, err)
	require.Equal(t, []codec.ID{j}, out)

	in, err := e.In(rt, j, "Knows")
	require.NoError(t, err)
	require.Equal(t, []codec.ID{u}, in)
}

// Scenario 5 (spec.md §8): BM25 ranking with stopword zero-score.
func TestScenarioBM25Ranking(t *testing.T) {
	cfg := config.Default()
	cfg.KV.InMemory = true
	cfg.BM25.Stopwords = []string{"the", "and"}
	e, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	doc1, doc2, doc3 := codec.NewID(), codec.NewID(), codec.NewID()
	wt, err := e.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, e.InsertDoc(wt, "body", doc1, "the quick brown fox"))
	require.NoError(t, e.InsertDoc(wt, "body", doc2, "the lazy dog"))
	require.NoError(t, e.InsertDoc(wt, "body", doc3, "quick fox and lazy dog"))
	require.NoError(t, wt.Commit())

	rt, err := e.BeginRead()
	require.NoError(t, err)
	defer rt.Close()

	results, err := e.BM25Search(rt, "body", "quick fox", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, doc1, results[0].DocID)
	require.Equal(t, doc3, results[1].DocID)
	for _, r := range results {
		require.NotEqual(t, doc2, r.DocID)
	}
}

// Scenario 6 (spec.md §8): α=1 degenerates hybrid_search to BM25-only
// ordering, exercised end-to-end through the wired Engine.
func TestScenarioHybridAlphaOneMatchesBM25Ordering(t *testing.T) {
	e := openTestEngine(t)

	strong, weak := codec.NewID(), codec.NewID()
	wt, err := e.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, e.InsertDoc(wt, "body", strong, "alpha beta"))
	require.NoError(t, e.InsertDoc(wt, "body", weak, "alpha"))
	require.NoError(t, wt.Commit())

	rt, err := e.BeginRead()
	require.NoError(t, err)
	defer rt.Close()
	results, err := e.HybridSearch(rt, "body", "alpha beta", "Doc", nil, 1.0, 10, 50, nil)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	require.Equal(t, strong, results[0].ID)
}

func TestAddVAndVFromID(t *testing.T) {
	e := openTestEngine(t)

	wt, err := e.BeginWrite()
	require.NoError(t, err)
	id, err := e.AddV(wt, "Doc", []float64{1, 2, 3}, props([]string{"title"}, []codec.Value{codec.StringValue("vec")}))
	require.NoError(t, err)
	require.NoError(t, wt.Commit())

	rt, err := e.BeginRead()
	require.NoError(t, err)
	defer rt.Close()
	label, data, p, err := e.VFromID(rt, id)
	require.NoError(t, err)
	require.Equal(t, "Doc", label)
	require.Equal(t, []float64{1, 2, 3}, data)
	require.Equal(t, "vec", p.Values[0].Str)
}

func TestUpdateMergesVectorEntityProperties(t *testing.T) {
	e := openTestEngine(t)

	wt, err := e.BeginWrite()
	require.NoError(t, err)
	id, err := e.AddV(wt, "Doc", []float64{1, 2, 3}, props([]string{"title"}, []codec.Value{codec.StringValue("vec")}))
	require.NoError(t, err)
	require.NoError(t, wt.Commit())

	wt2, err := e.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, e.Update(wt2, id, props([]string{"title", "author"}, []codec.Value{codec.StringValue("updated"), codec.StringValue("jane")})))
	require.NoError(t, wt2.Commit())

	rt, err := e.BeginRead()
	require.NoError(t, err)
	defer rt.Close()
	label, data, p, err := e.VFromID(rt, id)
	require.NoError(t, err)
	require.Equal(t, "Doc", label)
	require.Equal(t, []float64{1, 2, 3}, data)
	require.Equal(t, []string{"title", "author"}, p.Keys)
	require.Equal(t, "updated", p.Values[0].Str)
	require.Equal(t, "jane", p.Values[1].Str)
}

func TestDropCascadesToVectorEntity(t *testing.T) {
	e := openTestEngine(t)

	wt, err := e.BeginWrite()
	require.NoError(t, err)
	id, err := e.AddV(wt, "Doc", []float64{1, 2, 3}, codec.Properties{})
	require.NoError(t, err)
	require.NoError(t, wt.Commit())

	wt2, err := e.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, e.Drop(wt2, id))
	require.NoError(t, wt2.Commit())

	rt, err := e.BeginRead()
	require.NoError(t, err)
	defer rt.Close()
	results, err := e.SearchV(rt, "Doc", []float64{1, 2, 3}, 10, 50, nil)
	require.NoError(t, err)
	for _, r := range results {
		require.NotEqual(t, id, r.ID)
	}
}

func TestTraversalPipelineThroughEngine(t *testing.T) {
	e := openTestEngine(t)

	wt, err := e.BeginWrite()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err := e.AddN(wt, "User", codec.Properties{})
		require.NoError(t, err)
	}
	require.NoError(t, wt.Commit())

	rt, err := e.BeginRead()
	require.NoError(t, err)
	defer rt.Close()

	items, err := e.NFromLabel(rt, "User").Range(0, 3).Collect()
	require.NoError(t, err)
	require.Len(t, items, 3)
}
