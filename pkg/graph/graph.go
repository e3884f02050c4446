// Package graph implements the node/edge storage layer: records, adjacency
// maintenance, and secondary indices (engine specification §3, §4.3).
package graph

import (
	"encoding/binary"
	"fmt"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/internal/herr"
	"github.com/suxatcode/helix-db/pkg/config"
	"github.com/suxatcode/helix-db/pkg/kv"
)

// Node is the in-memory view of a node record.
type Node struct {
	ID         codec.ID
	Label      string
	Properties codec.Properties
}

// Edge is the in-memory view of an edge record.
type Edge struct {
	ID         codec.ID
	Label      string
	From       codec.ID
	To         codec.ID
	Properties codec.Properties
}

// Store is the graph storage layer. It is stateless beyond the secondary
// index schema, so a single Store is shared across every transaction the
// engine opens.
type Store struct {
	secondary config.SecondaryIndicesConfig
}

// New builds a Store using sec as the schema of which (label, property key)
// pairs maintain secondary indices.
func New(sec config.SecondaryIndicesConfig) *Store {
	return &Store{secondary: sec}
}

func (s *Store) secondaryKeysFor(kind byte, label string) []string {
	if kind == codec.KindNode {
		return s.secondary.Nodes[label]
	}
	return s.secondary.Edges[label]
}

// --- record encoding ---

func encodeNodeRecord(label string, props codec.Properties) []byte {
	buf := make([]byte, 0, 64)
	buf = appendLenPrefixedString(buf, label)
	buf = codec.EncodeProperties(buf, props)
	return buf
}

func decodeNodeRecord(data []byte) (string, codec.Properties, error) {
	label, rest, err := readLenPrefixedString(data)
	if err != nil {
		return "", codec.Properties{}, err
	}
	props, _, err := codec.DecodeProperties(rest)
	if err != nil {
		return "", codec.Properties{}, err
	}
	return label, props, nil
}

func encodeEdgeRecord(label string, from, to codec.ID, props codec.Properties) []byte {
	buf := make([]byte, 0, 96)
	buf = appendLenPrefixedString(buf, label)
	buf = append(buf, from[:]...)
	buf = append(buf, to[:]...)
	buf = codec.EncodeProperties(buf, props)
	return buf
}

func decodeEdgeRecord(data []byte) (string, codec.ID, codec.ID, codec.Properties, error) {
	label, rest, err := readLenPrefixedString(data)
	if err != nil {
		return "", codec.ID{}, codec.ID{}, codec.Properties{}, err
	}
	if len(rest) < 32 {
		return "", codec.ID{}, codec.ID{}, codec.Properties{}, fmt.Errorf("%w: truncated edge record", herr.Storage)
	}
	from, err := codec.IDFromBytes(rest[:16])
	if err != nil {
		return "", codec.ID{}, codec.ID{}, codec.Properties{}, err
	}
	to, err := codec.IDFromBytes(rest[16:32])
	if err != nil {
		return "", codec.ID{}, codec.ID{}, codec.Properties{}, err
	}
	props, _, err := codec.DecodeProperties(rest[32:])
	if err != nil {
		return "", codec.ID{}, codec.ID{}, codec.Properties{}, err
	}
	return label, from, to, props, nil
}

func appendLenPrefixedString(dst []byte, s string) []byte {
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(s)))
	dst = append(dst, lb[:]...)
	return append(dst, s...)
}

func readLenPrefixedString(src []byte) (string, []byte, error) {
	if len(src) < 4 {
		return "", nil, fmt.Errorf("%w: truncated label length", herr.Storage)
	}
	n := int(binary.LittleEndian.Uint32(src[0:4]))
	if len(src) < 4+n {
		return "", nil, fmt.Errorf("%w: truncated label", herr.Storage)
	}
	return string(src[4 : 4+n]), src[4+n:], nil
}

// --- property lookup helpers ---

func propValue(props codec.Properties, key string) (codec.Value, bool) {
	for i, k := range props.Keys {
		if k == key {
			return props.Values[i], true
		}
	}
	return codec.Value{}, false
}

// MergeProperties merges partial into base, overwriting existing keys and
// appending new ones. Exported so helixdb can apply the same merge to a
// vector entity's property record (its own sub-store, outside graph.Store).
func MergeProperties(base, partial codec.Properties) codec.Properties {
	keys := append([]string(nil), base.Keys...)
	vals := append([]codec.Value(nil), base.Values...)
	for i, k := range partial.Keys {
		found := false
		for j, bk := range keys {
			if bk == k {
				vals[j] = partial.Values[i]
				found = true
				break
			}
		}
		if !found {
			keys = append(keys, k)
			vals = append(vals, partial.Values[i])
		}
	}
	return codec.Properties{Keys: keys, Values: vals}
}

// --- secondary index maintenance ---

func (s *Store) writeSecondaryEntries(txn *kv.Txn, kind byte, label string, id codec.ID, props codec.Properties) error {
	for _, key := range s.secondaryKeysFor(kind, label) {
		v, ok := propValue(props, key)
		if !ok {
			return herr.WithIDMessage(herr.Schema, id.String(), fmt.Sprintf("secondary key %q not present on %q", key, label))
		}
		valBytes := codec.EncodeValue(nil, v)
		if err := txn.Set(codec.SecondaryIdxKey(label, key, valBytes, id), []byte{}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) deleteSecondaryEntries(txn *kv.Txn, kind byte, label string, id codec.ID, props codec.Properties) error {
	for _, key := range s.secondaryKeysFor(kind, label) {
		v, ok := propValue(props, key)
		if !ok {
			continue
		}
		valBytes := codec.EncodeValue(nil, v)
		if err := txn.Delete(codec.SecondaryIdxKey(label, key, valBytes, id)); err != nil {
			return err
		}
	}
	return nil
}

// --- graph operations (engine specification §4.3) ---

// AddN creates a node, writing its record, label index entry, and any
// configured secondary-index entries. Fails with herr.Schema if a
// configured secondary key names a property the node does not carry.
func (s *Store) AddN(txn *kv.Txn, label string, props codec.Properties) (codec.ID, error) {
	if label == "" {
		return codec.ID{}, herr.WithIDMessage(herr.Value, "", "node label must not be empty")
	}
	id := codec.NewID()
	if err := txn.Set(codec.NodeKey(id), encodeNodeRecord(label, props)); err != nil {
		return codec.ID{}, err
	}
	if err := txn.Set(codec.LabelIdxKey(codec.KindNode, label, id), []byte{}); err != nil {
		return codec.ID{}, err
	}
	if err := s.writeSecondaryEntries(txn, codec.KindNode, label, id, props); err != nil {
		return codec.ID{}, err
	}
	return id, nil
}

// AddE creates an edge after verifying both endpoints exist, writing the
// edge record and both adjacency entries atomically within txn.
func (s *Store) AddE(txn *kv.Txn, label string, from, to codec.ID, props codec.Properties) (codec.ID, error) {
	if label == "" {
		return codec.ID{}, herr.WithIDMessage(herr.Value, "", "edge label must not be empty")
	}
	if ok, err := txn.Has(codec.NodeKey(from)); err != nil {
		return codec.ID{}, err
	} else if !ok {
		return codec.ID{}, herr.WithID(herr.Referential, from.String())
	}
	if ok, err := txn.Has(codec.NodeKey(to)); err != nil {
		return codec.ID{}, err
	} else if !ok {
		return codec.ID{}, herr.WithID(herr.Referential, to.String())
	}

	id := codec.NewID()
	if err := txn.Set(codec.EdgeKey(id), encodeEdgeRecord(label, from, to, props)); err != nil {
		return codec.ID{}, err
	}
	if err := txn.Set(codec.OutAdjKey(from, label, id), to[:]); err != nil {
		return codec.ID{}, err
	}
	if err := txn.Set(codec.InAdjKey(to, label, id), from[:]); err != nil {
		return codec.ID{}, err
	}
	if err := txn.Set(codec.LabelIdxKey(codec.KindEdge, label, id), []byte{}); err != nil {
		return codec.ID{}, err
	}
	if err := s.writeSecondaryEntries(txn, codec.KindEdge, label, id, props); err != nil {
		return codec.ID{}, err
	}
	return id, nil
}

// Update merges partial into the node or edge's properties, maintaining
// secondary indices (delete stale entries, insert fresh ones) within txn.
func (s *Store) Update(txn *kv.Txn, id codec.ID, partial codec.Properties) error {
	if node, err := s.NodeByID(txn, id); err == nil {
		merged := MergeProperties(node.Properties, partial)
		if err := s.deleteSecondaryEntries(txn, codec.KindNode, node.Label, id, node.Properties); err != nil {
			return err
		}
		if err := txn.Set(codec.NodeKey(id), encodeNodeRecord(node.Label, merged)); err != nil {
			return err
		}
		return s.writeSecondaryEntries(txn, codec.KindNode, node.Label, id, merged)
	} else if err != herr.NotFound {
		return err
	}

	edge, err := s.EdgeByID(txn, id)
	if err != nil {
		return err
	}
	merged := MergeProperties(edge.Properties, partial)
	if err := s.deleteSecondaryEntries(txn, codec.KindEdge, edge.Label, id, edge.Properties); err != nil {
		return err
	}
	if err := txn.Set(codec.EdgeKey(id), encodeEdgeRecord(edge.Label, edge.From, edge.To, merged)); err != nil {
		return err
	}
	return s.writeSecondaryEntries(txn, codec.KindEdge, edge.Label, id, merged)
}

// Drop removes a node (cascading to incident edges) or an edge (removing
// its record, both adjacency entries, and secondary entries). Idempotent:
// dropping a missing id is not an error.
func (s *Store) Drop(txn *kv.Txn, id codec.ID) error {
	if node, err := s.NodeByID(txn, id); err == nil {
		return s.dropNode(txn, id, node)
	} else if err != herr.NotFound {
		return err
	}

	if edge, err := s.EdgeByID(txn, id); err == nil {
		return s.dropEdge(txn, id, edge)
	} else if err != herr.NotFound {
		return err
	}

	// Unknown id: may be a vector-only identifier, or simply absent.
	// Drop is idempotent per spec.md §4.3.
	return nil
}

func (s *Store) dropNode(txn *kv.Txn, id codec.ID, node *Node) error {
	outEdges, err := s.collectAdjEdgeIDs(txn, codec.OutAdjNodePrefix(id))
	if err != nil {
		return err
	}
	for _, eid := range outEdges {
		if edge, err := s.EdgeByID(txn, eid); err == nil {
			if err := s.dropEdge(txn, eid, edge); err != nil {
				return err
			}
		} else if err != herr.NotFound {
			return err
		}
	}

	inEdges, err := s.collectAdjEdgeIDs(txn, codec.InAdjNodePrefix(id))
	if err != nil {
		return err
	}
	for _, eid := range inEdges {
		if edge, err := s.EdgeByID(txn, eid); err == nil {
			if err := s.dropEdge(txn, eid, edge); err != nil {
				return err
			}
		} else if err != herr.NotFound {
			return err
		}
	}

	if err := s.deleteSecondaryEntries(txn, codec.KindNode, node.Label, id, node.Properties); err != nil {
		return err
	}
	if err := txn.Delete(codec.LabelIdxKey(codec.KindNode, node.Label, id)); err != nil {
		return err
	}
	return txn.Delete(codec.NodeKey(id))
}

func (s *Store) dropEdge(txn *kv.Txn, id codec.ID, edge *Edge) error {
	if err := txn.Delete(codec.OutAdjKey(edge.From, edge.Label, id)); err != nil {
		return err
	}
	if err := txn.Delete(codec.InAdjKey(edge.To, edge.Label, id)); err != nil {
		return err
	}
	if err := s.deleteSecondaryEntries(txn, codec.KindEdge, edge.Label, id, edge.Properties); err != nil {
		return err
	}
	if err := txn.Delete(codec.LabelIdxKey(codec.KindEdge, edge.Label, id)); err != nil {
		return err
	}
	return txn.Delete(codec.EdgeKey(id))
}

// collectAdjEdgeIDs scans an out/in adjacency prefix (scoped to one node,
// any label) and extracts the edge id suffix of each key.
func (s *Store) collectAdjEdgeIDs(txn *kv.Txn, nodePrefix []byte) ([]codec.ID, error) {
	var ids []codec.ID
	c := txn.PrefixCursor(nodePrefix)
	defer c.Close()
	for ; c.Valid(); c.Next() {
		key := c.Key()
		if len(key) < 16 {
			continue
		}
		id, err := codec.IDFromBytes(key[len(key)-16:])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// NodeByID performs a point lookup for a node.
func (s *Store) NodeByID(txn *kv.Txn, id codec.ID) (*Node, error) {
	data, err := txn.Get(codec.NodeKey(id))
	if err != nil {
		return nil, err
	}
	label, props, err := decodeNodeRecord(data)
	if err != nil {
		return nil, err
	}
	return &Node{ID: id, Label: label, Properties: props}, nil
}

// EdgeByID performs a point lookup for an edge.
func (s *Store) EdgeByID(txn *kv.Txn, id codec.ID) (*Edge, error) {
	data, err := txn.Get(codec.EdgeKey(id))
	if err != nil {
		return nil, err
	}
	label, from, to, props, err := decodeEdgeRecord(data)
	if err != nil {
		return nil, err
	}
	return &Edge{ID: id, Label: label, From: from, To: to, Properties: props}, nil
}

// NodesByLabel returns every node id carrying label, in ascending id order.
func (s *Store) NodesByLabel(txn *kv.Txn, label string) ([]codec.ID, error) {
	return s.idsByLabel(txn, codec.KindNode, label)
}

// EdgesByLabel returns every edge id carrying label, in ascending id order.
func (s *Store) EdgesByLabel(txn *kv.Txn, label string) ([]codec.ID, error) {
	return s.idsByLabel(txn, codec.KindEdge, label)
}

func (s *Store) idsByLabel(txn *kv.Txn, kind byte, label string) ([]codec.ID, error) {
	var ids []codec.ID
	c := txn.PrefixCursor(codec.LabelIdxPrefix(kind, label))
	defer c.Close()
	for ; c.Valid(); c.Next() {
		key := c.Key()
		if len(key) < 16 {
			continue
		}
		id, err := codec.IDFromBytes(key[len(key)-16:])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Out returns the peer node ids reachable from `from` over edges labeled
// label, in adjacency (edge id) order.
func (s *Store) Out(txn *kv.Txn, from codec.ID, label string) ([]codec.ID, error) {
	return s.scanAdjPeers(txn, codec.OutAdjPrefix(from, label))
}

// In returns the peer node ids reaching `to` over edges labeled label.
func (s *Store) In(txn *kv.Txn, to codec.ID, label string) ([]codec.ID, error) {
	return s.scanAdjPeers(txn, codec.InAdjPrefix(to, label))
}

func (s *Store) scanAdjPeers(txn *kv.Txn, prefix []byte) ([]codec.ID, error) {
	var peers []codec.ID
	c := txn.PrefixCursor(prefix)
	defer c.Close()
	for ; c.Valid(); c.Next() {
		v, err := c.Value()
		if err != nil {
			return nil, err
		}
		id, err := codec.IDFromBytes(v)
		if err != nil {
			return nil, err
		}
		peers = append(peers, id)
	}
	return peers, nil
}

// OutE returns the outgoing edge ids from `from` labeled label.
func (s *Store) OutE(txn *kv.Txn, from codec.ID, label string) ([]codec.ID, error) {
	return s.collectAdjEdgeIDs(txn, codec.OutAdjPrefix(from, label))
}

// InE returns the incoming edge ids to `to` labeled label.
func (s *Store) InE(txn *kv.Txn, to codec.ID, label string) ([]codec.ID, error) {
	return s.collectAdjEdgeIDs(txn, codec.InAdjPrefix(to, label))
}

// FromN dereferences an edge id to its source node.
func (s *Store) FromN(txn *kv.Txn, edgeID codec.ID) (*Node, error) {
	edge, err := s.EdgeByID(txn, edgeID)
	if err != nil {
		return nil, err
	}
	return s.NodeByID(txn, edge.From)
}

// ToN dereferences an edge id to its target node.
func (s *Store) ToN(txn *kv.Txn, edgeID codec.ID) (*Node, error) {
	edge, err := s.EdgeByID(txn, edgeID)
	if err != nil {
		return nil, err
	}
	return s.NodeByID(txn, edge.To)
}

// SecondaryLookup returns every entity id whose (label, key) property
// equals value, via a direct secondary-index scan (§4.3 P5).
func (s *Store) SecondaryLookup(txn *kv.Txn, label, key string, value codec.Value) ([]codec.ID, error) {
	valBytes := codec.EncodeValue(nil, value)
	var ids []codec.ID
	c := txn.PrefixCursor(codec.SecondaryIdxValuePrefix(label, key, valBytes))
	defer c.Close()
	for ; c.Valid(); c.Next() {
		key := c.Key()
		id, err := codec.IDFromBytes(key[len(key)-16:])
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Range clamps [start,end) to [0,len(ids)]; start>end yields empty, per
// §4.3's slice semantics.
func Range(ids []codec.ID, start, end int) []codec.ID {
	n := len(ids)
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > end {
		return nil
	}
	return ids[start:end]
}

// StreamNodes invokes fn for every node in ascending id order, stopping
// early if fn returns an error. Grounded on the teacher's StreamingEngine
// convenience for bulk export without materializing a full slice.
func (s *Store) StreamNodes(txn *kv.Txn, fn func(*Node) error) error {
	c := txn.PrefixCursor([]byte{codec.PrefixNode})
	defer c.Close()
	for ; c.Valid(); c.Next() {
		v, err := c.Value()
		if err != nil {
			return err
		}
		label, props, err := decodeNodeRecord(v)
		if err != nil {
			return err
		}
		key := c.Key()
		id, err := codec.IDFromBytes(key[1:])
		if err != nil {
			return err
		}
		if err := fn(&Node{ID: id, Label: label, Properties: props}); err != nil {
			return err
		}
	}
	return nil
}

// StreamEdges invokes fn for every edge in ascending id order.
func (s *Store) StreamEdges(txn *kv.Txn, fn func(*Edge) error) error {
	c := txn.PrefixCursor([]byte{codec.PrefixEdge})
	defer c.Close()
	for ; c.Valid(); c.Next() {
		v, err := c.Value()
		if err != nil {
			return err
		}
		label, from, to, props, err := decodeEdgeRecord(v)
		if err != nil {
			return err
		}
		key := c.Key()
		id, err := codec.IDFromBytes(key[1:])
		if err != nil {
			return err
		}
		if err := fn(&Edge{ID: id, Label: label, From: from, To: to, Properties: props}); err != nil {
			return err
		}
	}
	return nil
}
