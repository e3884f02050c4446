// Package traversal implements the lazy pipeline engine over graph, vector
// and BM25 sources (engine specification §4.6): a chain of typed steps over
// TraversalVal, evaluated one item at a time via a push-style source rather
// than materializing intermediate slices, so a filter early in the chain
// short-circuits work further down without a separate "lazy sequence" type.
package traversal

import (
	"fmt"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/internal/herr"
	"github.com/suxatcode/helix-db/pkg/fulltext"
	"github.com/suxatcode/helix-db/pkg/graph"
	"github.com/suxatcode/helix-db/pkg/kv"
	"github.com/suxatcode/helix-db/pkg/vector"
)

// Kind discriminates which field of a TraversalVal is populated.
type Kind int

const (
	KindEmpty Kind = iota
	KindNode
	KindEdge
	KindVector
	KindValue
)

// TraversalVal is the tagged union every pipeline step consumes and
// produces (§4.6: `TraversalVal ∈ {Node, Edge, Vector, Value, Empty}`).
type TraversalVal struct {
	Kind Kind

	Node *graph.Node
	Edge *graph.Edge

	// VectorID/Distance populate the Vector variant — a search hit's id and
	// its score against the query, not the raw vector data.
	VectorID codec.ID
	Distance float64

	Value codec.Value
}

func NodeVal(n *graph.Node) TraversalVal  { return TraversalVal{Kind: KindNode, Node: n} }
func EdgeVal(e *graph.Edge) TraversalVal  { return TraversalVal{Kind: KindEdge, Edge: e} }
func EmptyVal() TraversalVal              { return TraversalVal{Kind: KindEmpty} }
func ValueVal(v codec.Value) TraversalVal { return TraversalVal{Kind: KindValue, Value: v} }
func VectorVal(id codec.ID, dist float64) TraversalVal {
	return TraversalVal{Kind: KindVector, VectorID: id, Distance: dist}
}

// idKey returns a stable dedup key for variants that carry an identity.
// Value and Empty have none, so Dedup lets them through unconditionally.
func idKey(v TraversalVal) (string, bool) {
	switch v.Kind {
	case KindNode:
		return "n" + string(v.Node.ID[:]), true
	case KindEdge:
		return "e" + string(v.Edge.ID[:]), true
	case KindVector:
		return "v" + string(v.VectorID[:]), true
	default:
		return "", false
	}
}

// Emit is called once per item a Source produces. Returning (false, nil)
// tells the source to stop early (e.g. a downstream Range/limit was
// satisfied); a non-nil error aborts the entire pipeline.
type Emit func(TraversalVal) (bool, error)

// Source drives a pipeline's items through emit, in source order.
type Source func(emit Emit) error

// Pipeline is a composable, lazily-evaluated sequence of TraversalVal.
// Every combinator returns a new Pipeline wrapping the previous Source;
// nothing runs until a terminal method (Collect/Each/First/Any) is called.
type Pipeline struct {
	src        Source
	afterDedup bool
	err        error
}

// From wraps src as a Pipeline.
func From(src Source) Pipeline { return Pipeline{src: src} }

// NFromLabel sources every node carrying label, in ascending id order
// (§4.3 n_from_types).
func NFromLabel(txn *kv.Txn, store *graph.Store, label string) Pipeline {
	return From(func(emit Emit) error {
		ids, err := store.NodesByLabel(txn, label)
		if err != nil {
			return err
		}
		for _, id := range ids {
			n, err := store.NodeByID(txn, id)
			if err != nil {
				return err
			}
			cont, err := emit(NodeVal(n))
			if err != nil || !cont {
				return err
			}
		}
		return nil
	})
}

// EFromLabel sources every edge carrying label, in ascending id order.
func EFromLabel(txn *kv.Txn, store *graph.Store, label string) Pipeline {
	return From(func(emit Emit) error {
		ids, err := store.EdgesByLabel(txn, label)
		if err != nil {
			return err
		}
		for _, id := range ids {
			e, err := store.EdgeByID(txn, id)
			if err != nil {
				return err
			}
			cont, err := emit(EdgeVal(e))
			if err != nil || !cont {
				return err
			}
		}
		return nil
	})
}

// SearchV sources the top-k HNSW hits for q, already ordered by ascending
// distance then id (§4.6 determinism rule for unordered sources).
func SearchV(txn *kv.Txn, idx *vector.Index, label string, q []float64, k, ef int, filter vector.Filter) Pipeline {
	return From(func(emit Emit) error {
		results, err := idx.Search(txn, label, q, k, ef, filter)
		if err != nil {
			return err
		}
		for _, r := range results {
			cont, err := emit(VectorVal(r.ID, r.Distance))
			if err != nil || !cont {
				return err
			}
		}
		return nil
	})
}

// BM25Search sources BM25 hits as Value objects `{id, score}`, already
// ordered by descending score then ascending id.
func BM25Search(txn *kv.Txn, idx *fulltext.Index, field, query string, limit int) Pipeline {
	return From(func(emit Emit) error {
		results, err := idx.Search(txn, field, query, limit)
		if err != nil {
			return err
		}
		for _, r := range results {
			obj := codec.ObjectValue(
				[]string{"id", "score"},
				[]codec.Value{codec.StringValue(r.DocID.String()), codec.F64Value(r.Score)},
			)
			cont, err := emit(ValueVal(obj))
			if err != nil || !cont {
				return err
			}
		}
		return nil
	})
}

func (p Pipeline) chain(src Source) Pipeline {
	return Pipeline{src: src, afterDedup: p.afterDedup, err: p.err}
}

func (p Pipeline) rejectAfterDedup() Pipeline {
	if p.afterDedup {
		return Pipeline{err: fmt.Errorf("%w: only projection may follow dedup", herr.Query)}
	}
	return p
}

// FilterRef includes only items for which pred returns true. A predicate
// error aborts the pipeline with that error (§4.6 filter_ref).
func (p Pipeline) FilterRef(txn *kv.Txn, pred func(TraversalVal, *kv.Txn) (bool, error)) Pipeline {
	if p.err != nil {
		return p
	}
	p = p.rejectAfterDedup()
	if p.err != nil {
		return p
	}
	return p.chain(func(emit Emit) error {
		return p.src(func(v TraversalVal) (bool, error) {
			ok, err := pred(v, txn)
			if err != nil {
				return false, err
			}
			if !ok {
				return true, nil
			}
			return emit(v)
		})
	})
}

// WhereExists includes items for which sub(item) yields at least one result
// (§4.6 where_exists).
func (p Pipeline) WhereExists(sub func(TraversalVal) (Pipeline, error)) Pipeline {
	if p.err != nil {
		return p
	}
	p = p.rejectAfterDedup()
	if p.err != nil {
		return p
	}
	return p.chain(func(emit Emit) error {
		return p.src(func(v TraversalVal) (bool, error) {
			subPipe, err := sub(v)
			if err != nil {
				return false, err
			}
			has, err := subPipe.Any()
			if err != nil {
				return false, err
			}
			if !has {
				return true, nil
			}
			return emit(v)
		})
	})
}

// Dedup removes duplicate ids, preserving first-seen order. Per the HQL
// static rule, only Project may follow Dedup in the same pipeline; any
// other combinator called afterward fails with herr.Query.
func (p Pipeline) Dedup() Pipeline {
	if p.err != nil {
		return p
	}
	p = p.rejectAfterDedup()
	if p.err != nil {
		return p
	}
	seen := make(map[string]bool)
	next := Pipeline{
		src: func(emit Emit) error {
			return p.src(func(v TraversalVal) (bool, error) {
				if key, ok := idKey(v); ok {
					if seen[key] {
						return true, nil
					}
					seen[key] = true
				}
				return emit(v)
			})
		},
	}
	next.afterDedup = true
	return next
}

// Range returns the [start,end) window of the pipeline's items, clamped to
// [0,len] (§4.3's slice semantics, reused by §4.6 range).
func (p Pipeline) Range(start, end int) Pipeline {
	if p.err != nil {
		return p
	}
	p = p.rejectAfterDedup()
	if p.err != nil {
		return p
	}
	return p.chain(func(emit Emit) error {
		pos := 0
		return p.src(func(v TraversalVal) (bool, error) {
			if pos >= end {
				return false, nil
			}
			i := pos
			pos++
			if i < start {
				return true, nil
			}
			return emit(v)
		})
	})
}

// Project reduces Node/Edge items to Value objects carrying only the named
// properties (§4.6 project). Other variants pass through unchanged — there
// is nothing to project on a Vector, Value, or Empty item.
func (p Pipeline) Project(fields []string) Pipeline {
	if p.err != nil {
		return p
	}
	return Pipeline{src: func(emit Emit) error {
		return p.src(func(v TraversalVal) (bool, error) {
			var props codec.Properties
			switch v.Kind {
			case KindNode:
				props = v.Node.Properties
			case KindEdge:
				props = v.Edge.Properties
			default:
				return emit(v)
			}
			keys := make([]string, 0, len(fields))
			vals := make([]codec.Value, 0, len(fields))
			for _, f := range fields {
				for i, k := range props.Keys {
					if k == f {
						keys = append(keys, k)
						vals = append(vals, props.Values[i])
						break
					}
				}
			}
			return emit(ValueVal(codec.ObjectValue(keys, vals)))
		})
	}}
}

// ForIn iterates a host-supplied collection, invoking body for each item
// (§4.6 for_in — used for bulk load, a mutating terminal step in practice
// but expressible here as any other source).
func ForIn[T any](items []T, body func(T) (TraversalVal, error)) Pipeline {
	return From(func(emit Emit) error {
		for _, it := range items {
			v, err := body(it)
			if err != nil {
				return err
			}
			cont, err := emit(v)
			if err != nil || !cont {
				return err
			}
		}
		return nil
	})
}

// Collect runs the pipeline to completion and materializes every item.
func (p Pipeline) Collect() ([]TraversalVal, error) {
	if p.err != nil {
		return nil, p.err
	}
	var out []TraversalVal
	err := p.src(func(v TraversalVal) (bool, error) {
		out = append(out, v)
		return true, nil
	})
	return out, err
}

// Each runs fn over every item, stopping at the first error.
func (p Pipeline) Each(fn func(TraversalVal) error) error {
	if p.err != nil {
		return p.err
	}
	return p.src(func(v TraversalVal) (bool, error) {
		if err := fn(v); err != nil {
			return false, err
		}
		return true, nil
	})
}

// First returns the first item, if any.
func (p Pipeline) First() (TraversalVal, bool, error) {
	if p.err != nil {
		return TraversalVal{}, false, p.err
	}
	var (
		found bool
		first TraversalVal
	)
	err := p.src(func(v TraversalVal) (bool, error) {
		first = v
		found = true
		return false, nil
	})
	return first, found, err
}

// Any reports whether the pipeline yields at least one item.
func (p Pipeline) Any() (bool, error) {
	_, found, err := p.First()
	return found, err
}
