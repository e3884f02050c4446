// Package hybrid implements the weighted fusion of BM25 and vector search
// results (engine specification §4.7).
package hybrid

import (
	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/pkg/fulltext"
	"github.com/suxatcode/helix-db/pkg/kv"
	"github.com/suxatcode/helix-db/pkg/vector"
)

// Result pairs a document/vector id with its fused score.
type Result struct {
	ID    codec.ID
	Score float64
}

// Search runs BM25 search on text and, if q is non-nil, vector search on q,
// independently, then fuses them as
// `final = α·bm25_norm + (1−α)·vec_norm` (§4.7). Each score set is min-max
// normalized to [0,1] against its own best/worst within the returned
// window; an id present in only one result set contributes 0 for the
// other. Returns the top-k ids by descending fused score, ties broken by
// ascending id.
func Search(
	txn *kv.Txn,
	bm25 *fulltext.Index,
	field string,
	text string,
	vec *vector.Index,
	vecLabel string,
	q []float64,
	alpha float64,
	k int,
	ef int,
	filter vector.Filter,
) ([]Result, error) {
	bm25Results, err := bm25.Search(txn, field, text, k)
	if err != nil {
		return nil, err
	}

	var vecResults []vector.SearchResult
	if q != nil {
		vecResults, err = vec.Search(txn, vecLabel, q, k, ef, filter)
		if err != nil {
			return nil, err
		}
	}

	bm25Norm := normalizeBM25(bm25Results)
	vecNorm := normalizeVector(vecResults)

	fused := make(map[codec.ID]float64, len(bm25Norm)+len(vecNorm))
	for id, s := range bm25Norm {
		fused[id] += alpha * s
	}
	for id, s := range vecNorm {
		fused[id] += (1 - alpha) * s
	}

	out := make([]Result, 0, len(fused))
	for id, score := range fused {
		out = append(out, Result{ID: id, Score: score})
	}
	sortResults(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// normalizeBM25 min-max normalizes BM25 scores to [0,1]. A single-result or
// zero-spread set maps every score to 1 (it is, trivially, both the best
// and the worst in its own window).
func normalizeBM25(results []fulltext.Result) map[codec.ID]float64 {
	out := make(map[codec.ID]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := results[0].Score, results[0].Score
	for _, r := range results {
		if r.Score < min {
			min = r.Score
		}
		if r.Score > max {
			max = r.Score
		}
	}
	spread := max - min
	for _, r := range results {
		if spread == 0 {
			out[r.DocID] = 1
		} else {
			out[r.DocID] = (r.Score - min) / spread
		}
	}
	return out
}

// normalizeVector min-max normalizes vector results to [0,1]. Distance is
// inverted (1 - normalized distance) so higher is better, matching BM25's
// "higher score is better" orientation.
func normalizeVector(results []vector.SearchResult) map[codec.ID]float64 {
	out := make(map[codec.ID]float64, len(results))
	if len(results) == 0 {
		return out
	}
	min, max := results[0].Distance, results[0].Distance
	for _, r := range results {
		if r.Distance < min {
			min = r.Distance
		}
		if r.Distance > max {
			max = r.Distance
		}
	}
	spread := max - min
	for _, r := range results {
		if spread == 0 {
			out[r.ID] = 1
		} else {
			out[r.ID] = 1 - (r.Distance-min)/spread
		}
	}
	return out
}

func sortResults(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0; j-- {
			a, b := results[j-1], results[j]
			if a.Score > b.Score || (a.Score == b.Score && lessID(a.ID, b.ID)) {
				break
			}
			results[j-1], results[j] = results[j], results[j-1]
		}
	}
}

func lessID(a, b codec.ID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
