// Package vector implements the HNSW approximate nearest-neighbor index
// (engine specification §4.4): a persistent, multi-layer proximity graph
// over cosine distance, entirely backed by the KV substrate so every
// transaction observes a consistent snapshot of the vector index alongside
// the graph and text indices.
//
// The layer-search and neighbor-selection shape is grounded on the
// teacher's in-memory HNSWIndex (pkg/search/hnsw_index.go): a bounded
// max-heap best-first search and nearest-M neighbor selection, generalized
// here to read/write its state through a kv.Txn instead of Go maps.
package vector

import (
	"container/heap"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/internal/herr"
	"github.com/suxatcode/helix-db/pkg/kv"
)

// Params are the HNSW construction/search parameters (§4.4).
type Params struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// MMax0 is the layer-0 neighbor cap, double M per spec.md §4.4.
func (p Params) MMax0() int { return 2 * p.M }

// mL is the level-assignment constant `1/ln(M)`.
func (p Params) mL() float64 { return 1.0 / math.Log(float64(p.M)) }

// Index is the per-label HNSW index view over one kv.Engine. It holds no
// state itself beyond construction parameters; entry point, counts, and
// graph structure all live in the KV substrate.
type Index struct {
	params Params
}

func New(params Params) *Index {
	return &Index{params: params}
}

// SearchResult pairs an id with its cosine distance from the query.
type SearchResult struct {
	ID       codec.ID
	Distance float64
}

// --- persisted meta ---

type meta struct {
	hasEntry   bool
	entryID    codec.ID
	entryLevel uint8
	count      uint64
	dim        uint32
}

func (m meta) encode() []byte {
	buf := make([]byte, 0, 30)
	if m.hasEntry {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, m.entryID[:]...)
	buf = append(buf, m.entryLevel)
	var cb [8]byte
	binary.LittleEndian.PutUint64(cb[:], m.count)
	buf = append(buf, cb[:]...)
	var db [4]byte
	binary.LittleEndian.PutUint32(db[:], m.dim)
	return append(buf, db[:]...)
}

func decodeMeta(b []byte) (meta, error) {
	if len(b) != 30 {
		return meta{}, fmt.Errorf("%w: malformed vec_meta entry", herr.Storage)
	}
	var m meta
	m.hasEntry = b[0] == 1
	copy(m.entryID[:], b[1:17])
	m.entryLevel = b[17]
	m.count = binary.LittleEndian.Uint64(b[18:26])
	m.dim = binary.LittleEndian.Uint32(b[26:30])
	return m, nil
}

func (idx *Index) readMeta(txn *kv.Txn, label string) (meta, error) {
	data, err := txn.Get(codec.VecMetaKey(label))
	if err == herr.NotFound {
		return meta{}, nil
	}
	if err != nil {
		return meta{}, err
	}
	return decodeMeta(data)
}

func (idx *Index) writeMeta(txn *kv.Txn, label string, m meta) error {
	return txn.Set(codec.VecMetaKey(label), m.encode())
}

// --- persisted payload: tombstone + level + norm + raw vector ---

type payload struct {
	tombstoned bool
	level      uint8
	norm       float64
	vec        []float64
}

func (p payload) encode() []byte {
	buf := make([]byte, 0, 10+8*len(p.vec))
	if p.tombstoned {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, p.level)
	var nb [8]byte
	binary.LittleEndian.PutUint64(nb[:], math.Float64bits(p.norm))
	buf = append(buf, nb[:]...)
	for _, f := range p.vec {
		var fb [8]byte
		binary.LittleEndian.PutUint64(fb[:], math.Float64bits(f))
		buf = append(buf, fb[:]...)
	}
	return buf
}

func decodePayload(b []byte) (payload, error) {
	if len(b) < 10 || (len(b)-10)%8 != 0 {
		return payload{}, fmt.Errorf("%w: malformed vector payload", herr.Storage)
	}
	var p payload
	p.tombstoned = b[0] == 1
	p.level = b[1]
	p.norm = math.Float64frombits(binary.LittleEndian.Uint64(b[2:10]))
	n := (len(b) - 10) / 8
	p.vec = make([]float64, n)
	for i := 0; i < n; i++ {
		off := 10 + i*8
		p.vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(b[off : off+8]))
	}
	return p, nil
}

func (idx *Index) readPayload(txn *kv.Txn, label string, id codec.ID) (payload, error) {
	data, err := txn.Get(codec.VecPayloadKey(label, id))
	if err != nil {
		return payload{}, err
	}
	return decodePayload(data)
}

func (idx *Index) writePayload(txn *kv.Txn, label string, id codec.ID, p payload) error {
	return txn.Set(codec.VecPayloadKey(label, id), p.encode())
}

// --- neighbor lists ---

func (idx *Index) neighbors(txn *kv.Txn, label string, layer uint8, id codec.ID) ([]codec.ID, error) {
	data, err := txn.Get(codec.VecLayerKey(label, layer, id))
	if err == herr.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	n := len(data) / 16
	out := make([]codec.ID, n)
	for i := 0; i < n; i++ {
		id, err := codec.IDFromBytes(data[i*16 : i*16+16])
		if err != nil {
			return nil, err
		}
		out[i] = id
	}
	return out, nil
}

func (idx *Index) setNeighbors(txn *kv.Txn, label string, layer uint8, id codec.ID, neighbors []codec.ID) error {
	buf := make([]byte, 0, 16*len(neighbors))
	for _, n := range neighbors {
		buf = append(buf, n[:]...)
	}
	return txn.Set(codec.VecLayerKey(label, layer, id), buf)
}

// --- distance ---

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func norm(v []float64) float64 {
	return math.Sqrt(dot(v, v))
}

// cosineDistance computes 1 - (a·b)/(|a||b|) using cached norms.
func cosineDistance(a []float64, aNorm float64, b []float64, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 1
	}
	return 1 - dot(a, b)/(aNorm*bNorm)
}

func hasNaNOrInf(v []float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}

// --- Insert ---

// Insert adds a vector under id, drawing a random level and wiring it into
// the proximity graph per §4.4's construction algorithm.
func (idx *Index) Insert(txn *kv.Txn, label string, id codec.ID, v []float64) error {
	if hasNaNOrInf(v) {
		return herr.WithIDMessage(herr.Value, id.String(), "vector contains NaN or Inf")
	}

	m, err := idx.readMeta(txn, label)
	if err != nil {
		return err
	}
	if m.count > 0 && int(m.dim) != len(v) {
		return herr.WithIDMessage(herr.Schema, id.String(), fmt.Sprintf("dimension mismatch: expected %d, got %d", m.dim, len(v)))
	}

	level := idx.randomLevel()
	p := payload{level: uint8(level), norm: norm(v), vec: v}
	if err := idx.writePayload(txn, label, id, p); err != nil {
		return err
	}

	m.count++
	m.dim = uint32(len(v))

	if !m.hasEntry {
		m.hasEntry = true
		m.entryID = id
		m.entryLevel = uint8(level)
		return idx.writeMeta(txn, label, m)
	}

	ep := m.entryID
	epLevel := int(m.entryLevel)
	epPayload, err := idx.readPayload(txn, label, ep)
	if err != nil {
		return err
	}

	for l := epLevel; l > level; l-- {
		ep, epPayload, err = idx.greedyDescend(txn, label, v, p.norm, ep, epPayload, uint8(l))
		if err != nil {
			return err
		}
	}

	top := level
	if epLevel < top {
		top = epLevel
	}
	for l := top; l >= 0; l-- {
		candidates, err := idx.searchLayer(txn, label, v, p.norm, ep, idx.params.EfConstruction, uint8(l))
		if err != nil {
			return err
		}
		mMax := idx.params.M
		if l == 0 {
			mMax = idx.params.MMax0()
		}
		selected := selectNearest(candidates, idx.params.M)
		if err := idx.setNeighbors(txn, label, uint8(l), id, idsOf(selected)); err != nil {
			return err
		}
		for _, cand := range selected {
			if err := idx.addBackEdge(txn, label, uint8(l), cand.ID, id, v, p.norm, mMax); err != nil {
				return err
			}
		}
		if len(candidates) > 0 {
			ep = candidates[0].ID
		}
	}

	if level > epLevel {
		m.entryID = id
		m.entryLevel = uint8(level)
	}
	return idx.writeMeta(txn, label, m)
}

func idsOf(results []SearchResult) []codec.ID {
	ids := make([]codec.ID, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	return ids
}

// addBackEdge adds id as a neighbor of peer at layer, pruning back to mMax
// by keeping the mMax nearest neighbors (the same heuristic used for
// forward selection, per §4.4 step 5).
func (idx *Index) addBackEdge(txn *kv.Txn, label string, layer uint8, peer, id codec.ID, newVec []float64, newNorm float64, mMax int) error {
	existing, err := idx.neighbors(txn, label, layer, peer)
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e == id {
			return nil
		}
	}
	existing = append(existing, id)
	if len(existing) <= mMax {
		return idx.setNeighbors(txn, label, layer, peer, existing)
	}

	peerPayload, err := idx.readPayload(txn, label, peer)
	if err != nil {
		return err
	}
	scored := make([]SearchResult, 0, len(existing))
	for _, nid := range existing {
		var d float64
		if nid == id {
			d = cosineDistance(peerPayload.vec, peerPayload.norm, newVec, newNorm)
		} else {
			np, err := idx.readPayload(txn, label, nid)
			if err != nil {
				return err
			}
			d = cosineDistance(peerPayload.vec, peerPayload.norm, np.vec, np.norm)
		}
		scored = append(scored, SearchResult{ID: nid, Distance: d})
	}
	pruned := selectNearest(scored, mMax)
	return idx.setNeighbors(txn, label, layer, peer, idsOf(pruned))
}

func selectNearest(results []SearchResult, m int) []SearchResult {
	sorted := append([]SearchResult(nil), results...)
	sortByDistanceThenID(sorted)
	if len(sorted) > m {
		sorted = sorted[:m]
	}
	return sorted
}

func sortByDistanceThenID(results []SearchResult) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0; j-- {
			a, b := results[j-1], results[j]
			if a.Distance < b.Distance || (a.Distance == b.Distance && lessID(a.ID, b.ID)) {
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

func (idx *Index) greedyDescend(txn *kv.Txn, label string, q []float64, qNorm float64, current codec.ID, currentPayload payload, layer uint8) (codec.ID, payload, error) {
	currentDist := cosineDistance(q, qNorm, currentPayload.vec, currentPayload.norm)
	for {
		neighbors, err := idx.neighbors(txn, label, layer, current)
		if err != nil {
			return codec.ID{}, payload{}, err
		}
		changed := false
		for _, nid := range neighbors {
			np, err := idx.readPayload(txn, label, nid)
			if err != nil {
				return codec.ID{}, payload{}, err
			}
			if np.tombstoned {
				continue
			}
			d := cosineDistance(q, qNorm, np.vec, np.norm)
			if d < currentDist {
				current = nid
				currentPayload = np
				currentDist = d
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return current, currentPayload, nil
}

// --- best-first layer search with bounded max-heap (§4.4 step 5/Search step 2) ---

type heapItem struct {
	id   codec.ID
	dist float64
}

type maxHeap []heapItem

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type minHeap []heapItem

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// searchLayer runs best-first search at one layer, expanding while any
// unvisited candidate is closer than the worst in the bounded result set.
// Tombstoned vectors are skipped (§4.4 Delete: "searches skip tombstones
// and filter them out of neighbor expansions").
func (idx *Index) searchLayer(txn *kv.Txn, label string, q []float64, qNorm float64, entry codec.ID, ef int, layer uint8) ([]SearchResult, error) {
	visited := map[codec.ID]bool{entry: true}

	entryPayload, err := idx.readPayload(txn, label, entry)
	if err != nil {
		return nil, err
	}
	entryDist := cosineDistance(q, qNorm, entryPayload.vec, entryPayload.norm)

	candidates := &minHeap{{id: entry, dist: entryDist}}
	heap.Init(candidates)
	results := &maxHeap{}
	if !entryPayload.tombstoned {
		heap.Push(results, heapItem{id: entry, dist: entryDist})
	}

	for candidates.Len() > 0 {
		closest := heap.Pop(candidates).(heapItem)
		if results.Len() >= ef && closest.dist > (*results)[0].dist {
			break
		}

		neighbors, err := idx.neighbors(txn, label, layer, closest.id)
		if err != nil {
			return nil, err
		}
		for _, nid := range neighbors {
			if visited[nid] {
				continue
			}
			visited[nid] = true

			np, err := idx.readPayload(txn, label, nid)
			if err != nil {
				return nil, err
			}
			d := cosineDistance(q, qNorm, np.vec, np.norm)

			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, heapItem{id: nid, dist: d})
				if !np.tombstoned {
					heap.Push(results, heapItem{id: nid, dist: d})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]SearchResult, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		item := heap.Pop(results).(heapItem)
		out[i] = SearchResult{ID: item.id, Distance: item.dist}
	}
	return out, nil
}

func (idx *Index) randomLevel() int {
	u := rand.Float64()
	for u == 0 {
		u = rand.Float64()
	}
	return int(math.Floor(-math.Log(u) * idx.params.mL()))
}

// --- Search ---

// Filter evaluates a predicate over a candidate id within the same
// transaction the search runs in (the PREFILTER hook, §4.4 step 3).
type Filter func(id codec.ID) (bool, error)

// Search returns the top-k ids by ascending cosine distance.
func (idx *Index) Search(txn *kv.Txn, label string, q []float64, k int, ef int, filter Filter) ([]SearchResult, error) {
	if hasNaNOrInf(q) {
		return nil, herr.WithIDMessage(herr.Value, "", "query vector contains NaN or Inf")
	}
	m, err := idx.readMeta(txn, label)
	if err != nil {
		return nil, err
	}
	if !m.hasEntry {
		return nil, nil
	}
	if int(m.dim) != len(q) {
		return nil, herr.WithIDMessage(herr.Schema, "", fmt.Sprintf("dimension mismatch: expected %d, got %d", m.dim, len(q)))
	}
	if ef <= 0 {
		ef = idx.params.EfSearch
	}

	qNorm := norm(q)
	ep := m.entryID
	epPayload, err := idx.readPayload(txn, label, ep)
	if err != nil {
		return nil, err
	}
	for l := int(m.entryLevel); l > 0; l-- {
		ep, epPayload, err = idx.greedyDescend(txn, label, q, qNorm, ep, epPayload, uint8(l))
		if err != nil {
			return nil, err
		}
	}

	candidates, err := idx.searchLayer(txn, label, q, qNorm, ep, max(ef, k), 0)
	if err != nil {
		return nil, err
	}
	sortByDistanceThenID(candidates)

	out := make([]SearchResult, 0, k)
	for _, c := range candidates {
		if filter != nil {
			ok, err := filter(c.ID)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		out = append(out, c)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Vector returns the raw stored vector for id within label, or
// herr.NotFound if the id is absent or has been deleted.
func (idx *Index) Vector(txn *kv.Txn, label string, id codec.ID) ([]float64, error) {
	p, err := idx.readPayload(txn, label, id)
	if err != nil {
		return nil, err
	}
	if p.tombstoned {
		return nil, herr.NotFound
	}
	return p.vec, nil
}

// Delete tombstones id: searches skip it and filter it out of neighbor
// expansions, but its edges remain to preserve connectivity for the rest
// of the graph (§4.4 Delete).
func (idx *Index) Delete(txn *kv.Txn, label string, id codec.ID) error {
	p, err := idx.readPayload(txn, label, id)
	if err == herr.NotFound {
		return nil
	}
	if err != nil {
		return err
	}
	if p.tombstoned {
		return nil
	}
	p.tombstoned = true
	if err := idx.writePayload(txn, label, id, p); err != nil {
		return err
	}
	m, err := idx.readMeta(txn, label)
	if err != nil {
		return err
	}
	if m.count > 0 {
		m.count--
	}
	return idx.writeMeta(txn, label, m)
}

// Compact rebuilds every layer's neighbor lists, dropping tombstoned
// vectors entirely. Not required for correctness (§4.4); exposed as an
// explicit caller-driven maintenance operation (helixctl compact).
func (idx *Index) Compact(txn *kv.Txn, label string) error {
	m, err := idx.readMeta(txn, label)
	if err != nil {
		return err
	}
	if !m.hasEntry {
		return nil
	}

	live := make([]codec.ID, 0, m.count)
	maxLevel := uint8(0)
	for l := uint8(0); ; l++ {
		c := txn.PrefixCursor(codec.VecLayerPrefix(label, l))
		any := false
		for ; c.Valid(); c.Next() {
			any = true
		}
		c.Close()
		if !any {
			break
		}
		maxLevel = l
		if l == 255 {
			break
		}
	}

	newEntry := m.entryID
	newEntryLevel := m.entryLevel
	foundLiveEntry := false

	for l := uint8(0); l <= maxLevel; l++ {
		c := txn.PrefixCursor(codec.VecLayerPrefix(label, l))
		var ids []codec.ID
		for ; c.Valid(); c.Next() {
			key := c.Key()
			id, err := codec.IDFromBytes(key[len(key)-16:])
			if err != nil {
				c.Close()
				return err
			}
			ids = append(ids, id)
		}
		c.Close()

		for _, id := range ids {
			p, err := idx.readPayload(txn, label, id)
			if err != nil && err != herr.NotFound {
				return err
			}
			// A missing payload was removed at a lower layer of this pass.
			if err == herr.NotFound || p.tombstoned {
				if err := txn.Delete(codec.VecLayerKey(label, l, id)); err != nil {
					return err
				}
				if err := txn.Delete(codec.VecPayloadKey(label, id)); err != nil {
					return err
				}
				continue
			}
			if l == 0 {
				live = append(live, id)
			}
			if !p.tombstoned && !foundLiveEntry {
				newEntry = id
				newEntryLevel = p.level
				foundLiveEntry = true
			}
			neighbors, err := idx.neighbors(txn, label, l, id)
			if err != nil {
				return err
			}
			filtered := neighbors[:0]
			for _, nid := range neighbors {
				np, err := idx.readPayload(txn, label, nid)
				if err == herr.NotFound {
					continue
				}
				if err != nil {
					return err
				}
				if !np.tombstoned {
					filtered = append(filtered, nid)
				}
			}
			if err := idx.setNeighbors(txn, label, l, id, filtered); err != nil {
				return err
			}
		}
	}

	// The first vector of a label has no neighbor-list keys until a later
	// insert links back to it, so the layer scan above cannot see it.
	if !foundLiveEntry {
		if p, err := idx.readPayload(txn, label, m.entryID); err == nil && !p.tombstoned {
			newEntry, newEntryLevel, foundLiveEntry = m.entryID, p.level, true
			live = append(live, m.entryID)
		}
	}

	m.entryID = newEntry
	m.entryLevel = newEntryLevel
	m.hasEntry = foundLiveEntry
	m.count = uint64(len(live))
	return idx.writeMeta(txn, label, m)
}
