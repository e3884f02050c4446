// Package helixdb wires the KV substrate, graph store, HNSW vector index,
// BM25 index, and txn manager into the single embedding API surface engine
// specification §6 names: open, begin_read/begin_write, the graph
// operations, the index operations, and hybrid_search. Everything else in
// this module is a collaborator this package composes.
package helixdb

import (
	"encoding/binary"
	"fmt"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/internal/herr"
	"github.com/suxatcode/helix-db/pkg/config"
	"github.com/suxatcode/helix-db/pkg/fulltext"
	"github.com/suxatcode/helix-db/pkg/graph"
	"github.com/suxatcode/helix-db/pkg/hybrid"
	"github.com/suxatcode/helix-db/pkg/kv"
	"github.com/suxatcode/helix-db/pkg/traversal"
	"github.com/suxatcode/helix-db/pkg/txn"
	"github.com/suxatcode/helix-db/pkg/vector"
)

// Engine is the top-level embedding handle (§6 `open(path, config) → Engine`).
type Engine struct {
	kv     *kv.Engine
	cfg    config.Config
	graph  *graph.Store
	vector *vector.Index
	bm25   *fulltext.Index
}

// Open opens (or creates) a database using cfg, validating it first.
func Open(cfg config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kve, err := kv.Open(kv.Options{
		DataDir:    cfg.KV.DataDir,
		InMemory:   cfg.KV.InMemory,
		SyncWrites: cfg.KV.SyncWrites,
		ReadOnly:   cfg.ReadOnly,
		LowMemory:  cfg.KV.LowMemory,
	})
	if err != nil {
		return nil, err
	}

	vparams := vector.Params{M: cfg.HNSW.M, EfConstruction: cfg.HNSW.EfConstruction, EfSearch: cfg.HNSW.EfSearch}
	bparams := fulltext.Params{K1: cfg.BM25.K1, B: cfg.BM25.B}
	tok := fulltext.NewTokenizer(cfg.BM25.Stopwords, cfg.BM25.MinTokenLen)

	return &Engine{
		kv:     kve,
		cfg:    cfg,
		graph:  graph.New(cfg.SecondaryIndices),
		vector: vector.New(vparams),
		bm25:   fulltext.New(bparams, tok),
	}, nil
}

// Close releases the underlying KV engine.
func (e *Engine) Close() error { return e.kv.Close() }

// BeginRead opens a read handle (§6 `begin_read`).
func (e *Engine) BeginRead() (*txn.ReadTxn, error) { return txn.BeginRead(e.kv) }

// BeginWrite opens a write handle (§6 `begin_write`).
func (e *Engine) BeginWrite() (*txn.WriteTxn, error) { return txn.BeginWrite(e.kv) }

// --- graph operations ---

func (e *Engine) AddN(wt *txn.WriteTxn, label string, props codec.Properties) (codec.ID, error) {
	return e.graph.AddN(wt.KV(), label, props)
}

func (e *Engine) AddE(wt *txn.WriteTxn, label string, from, to codec.ID, props codec.Properties) (codec.ID, error) {
	return e.graph.AddE(wt.KV(), label, from, to, props)
}

// AddV creates a vector entity: an id, label, and properties record plus
// the HNSW insertion itself (§3 Vector, §4.4 Insert).
func (e *Engine) AddV(wt *txn.WriteTxn, label string, data []float64, props codec.Properties) (codec.ID, error) {
	id := codec.NewID()
	if err := e.vector.Insert(wt.KV(), label, id, data); err != nil {
		return codec.ID{}, err
	}
	if err := wt.KV().Set(codec.VectorRecordKey(id), encodeVectorRecord(label, props)); err != nil {
		return codec.ID{}, err
	}
	if err := wt.KV().Set(codec.LabelIdxKey(codec.KindVector, label, id), []byte{}); err != nil {
		return codec.ID{}, err
	}
	return id, nil
}

// Update merges partial into the properties of a node, edge, or vector
// entity. All three entity kinds declare mutable properties (§3); a vector
// entity's record lives outside graph.Store, under VectorRecordKey, so it is
// checked first and merged in place rather than delegated to graph.Update.
func (e *Engine) Update(wt *txn.WriteTxn, id codec.ID, partial codec.Properties) error {
	props, label, found, err := readVectorRecord(wt.KV(), id)
	if err != nil {
		return err
	}
	if found {
		merged := graph.MergeProperties(props, partial)
		return wt.KV().Set(codec.VectorRecordKey(id), encodeVectorRecord(label, merged))
	}
	return e.graph.Update(wt.KV(), id, partial)
}

// Drop removes a node (cascading to incident edges), an edge, or a vector
// entity (removing its HNSW entry too). Idempotent on a missing id.
func (e *Engine) Drop(wt *txn.WriteTxn, id codec.ID) error {
	_, label, found, err := readVectorRecord(wt.KV(), id)
	if err != nil {
		return err
	}
	if found {
		if err := e.vector.Delete(wt.KV(), label, id); err != nil {
			return err
		}
		if err := wt.KV().Delete(codec.LabelIdxKey(codec.KindVector, label, id)); err != nil {
			return err
		}
		if err := wt.KV().Delete(codec.VectorRecordKey(id)); err != nil {
			return err
		}
	}
	return e.graph.Drop(wt.KV(), id)
}

func (e *Engine) NFromID(rt *txn.ReadTxn, id codec.ID) (*graph.Node, error) {
	return e.graph.NodeByID(rt.KV(), id)
}

func (e *Engine) EFromID(rt *txn.ReadTxn, id codec.ID) (*graph.Edge, error) {
	return e.graph.EdgeByID(rt.KV(), id)
}

func (e *Engine) NFromTypes(rt *txn.ReadTxn, label string) ([]codec.ID, error) {
	return e.graph.NodesByLabel(rt.KV(), label)
}

func (e *Engine) EFromTypes(rt *txn.ReadTxn, label string) ([]codec.ID, error) {
	return e.graph.EdgesByLabel(rt.KV(), label)
}

func (e *Engine) Out(rt *txn.ReadTxn, from codec.ID, label string) ([]codec.ID, error) {
	return e.graph.Out(rt.KV(), from, label)
}

func (e *Engine) In(rt *txn.ReadTxn, to codec.ID, label string) ([]codec.ID, error) {
	return e.graph.In(rt.KV(), to, label)
}

func (e *Engine) OutE(rt *txn.ReadTxn, from codec.ID, label string) ([]codec.ID, error) {
	return e.graph.OutE(rt.KV(), from, label)
}

func (e *Engine) InE(rt *txn.ReadTxn, to codec.ID, label string) ([]codec.ID, error) {
	return e.graph.InE(rt.KV(), to, label)
}

func (e *Engine) FromN(rt *txn.ReadTxn, edgeID codec.ID) (*graph.Node, error) {
	return e.graph.FromN(rt.KV(), edgeID)
}

func (e *Engine) ToN(rt *txn.ReadTxn, edgeID codec.ID) (*graph.Node, error) {
	return e.graph.ToN(rt.KV(), edgeID)
}

// --- vector entity support ---

func encodeVectorRecord(label string, props codec.Properties) []byte {
	buf := make([]byte, 0, 64)
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(label)))
	buf = append(buf, lb[:]...)
	buf = append(buf, label...)
	return codec.EncodeProperties(buf, props)
}

func decodeVectorRecord(data []byte) (string, codec.Properties, error) {
	if len(data) < 4 {
		return "", codec.Properties{}, fmt.Errorf("%w: truncated vector record", herr.Storage)
	}
	n := int(binary.LittleEndian.Uint32(data[0:4]))
	if len(data) < 4+n {
		return "", codec.Properties{}, fmt.Errorf("%w: truncated vector label", herr.Storage)
	}
	label := string(data[4 : 4+n])
	props, _, err := codec.DecodeProperties(data[4+n:])
	return label, props, err
}

func readVectorRecord(t *kv.Txn, id codec.ID) (codec.Properties, string, bool, error) {
	data, err := t.Get(codec.VectorRecordKey(id))
	if err == herr.NotFound {
		return codec.Properties{}, "", false, nil
	}
	if err != nil {
		return codec.Properties{}, "", false, err
	}
	label, props, err := decodeVectorRecord(data)
	if err != nil {
		return codec.Properties{}, "", false, err
	}
	return props, label, true, nil
}

// VFromID performs a point lookup for a vector entity's label, properties,
// and raw data.
func (e *Engine) VFromID(rt *txn.ReadTxn, id codec.ID) (label string, data []float64, props codec.Properties, err error) {
	props, label, found, err := readVectorRecord(rt.KV(), id)
	if err != nil {
		return "", nil, codec.Properties{}, err
	}
	if !found {
		return "", nil, codec.Properties{}, herr.WithID(herr.NotFound, id.String())
	}
	data, err = e.vector.Vector(rt.KV(), label, id)
	if err != nil {
		return "", nil, codec.Properties{}, err
	}
	return label, data, props, nil
}

// --- index operations ---

func (e *Engine) SearchV(rt *txn.ReadTxn, label string, q []float64, k int, ef int, filter vector.Filter) ([]vector.SearchResult, error) {
	return e.vector.Search(rt.KV(), label, q, k, ef, filter)
}

func (e *Engine) InsertDoc(wt *txn.WriteTxn, field string, docID codec.ID, text string) error {
	return e.bm25.InsertDoc(wt.KV(), field, docID, text)
}

func (e *Engine) UpdateDoc(wt *txn.WriteTxn, field string, docID codec.ID, text string) error {
	return e.bm25.UpdateDoc(wt.KV(), field, docID, text)
}

func (e *Engine) DeleteDoc(wt *txn.WriteTxn, field string, docID codec.ID) error {
	return e.bm25.DeleteDoc(wt.KV(), field, docID)
}

func (e *Engine) BM25Search(rt *txn.ReadTxn, field, query string, limit int) ([]fulltext.Result, error) {
	return e.bm25.Search(rt.KV(), field, query, limit)
}

// HybridSearch fuses BM25 and vector search per §4.7.
func (e *Engine) HybridSearch(rt *txn.ReadTxn, field, text, vecLabel string, q []float64, alpha float64, k, ef int, filter vector.Filter) ([]hybrid.Result, error) {
	return hybrid.Search(rt.KV(), e.bm25, field, text, e.vector, vecLabel, q, alpha, k, ef, filter)
}

// --- traversal combinators ---

// NFromLabel starts a traversal pipeline over every node carrying label.
func (e *Engine) NFromLabel(rt *txn.ReadTxn, label string) traversal.Pipeline {
	return traversal.NFromLabel(rt.KV(), e.graph, label)
}

// EFromLabel starts a traversal pipeline over every edge carrying label.
func (e *Engine) EFromLabel(rt *txn.ReadTxn, label string) traversal.Pipeline {
	return traversal.EFromLabel(rt.KV(), e.graph, label)
}

// SearchVPipeline starts a traversal pipeline over HNSW search hits.
func (e *Engine) SearchVPipeline(rt *txn.ReadTxn, label string, q []float64, k, ef int, filter vector.Filter) traversal.Pipeline {
	return traversal.SearchV(rt.KV(), e.vector, label, q, k, ef, filter)
}

// BM25SearchPipeline starts a traversal pipeline over BM25 search hits.
func (e *Engine) BM25SearchPipeline(rt *txn.ReadTxn, field, query string, limit int) traversal.Pipeline {
	return traversal.BM25Search(rt.KV(), e.bm25, field, query, limit)
}

// StreamNodes invokes fn for every node in the store, in ascending id
// order, for helixctl stats/check.
func (e *Engine) StreamNodes(rt *txn.ReadTxn, fn func(*graph.Node) error) error {
	return e.graph.StreamNodes(rt.KV(), fn)
}

// StreamEdges invokes fn for every edge in the store, in ascending id
// order, for helixctl stats/check.
func (e *Engine) StreamEdges(rt *txn.ReadTxn, fn func(*graph.Edge) error) error {
	return e.graph.StreamEdges(rt.KV(), fn)
}

// Compact runs HNSW tombstone compaction for label, an explicit
// caller-driven maintenance operation (§4.4).
func (e *Engine) Compact(wt *txn.WriteTxn, label string) error {
	return e.vector.Compact(wt.KV(), label)
}

// Stats reports the on-disk size of the underlying KV substrate, for
// helixctl stats.
func (e *Engine) Stats() (lsm, vlog int64) {
	return e.kv.Size()
}
