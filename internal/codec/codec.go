package codec

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Sub-store key prefixes (engine specification §4.1/§4.2). Each sub-store is
// a disjoint byte range within one flat ordered keyspace, so a single KV
// engine transaction can address all of them through prefix iteration —
// mirrors the teacher's single-byte record-kind prefixes in its storage
// layer, generalized to the full set of sub-stores §4.1 names.
const (
	PrefixNode         byte = 'N'
	PrefixEdge         byte = 'E'
	PrefixOutAdj       byte = 'O'
	PrefixInAdj        byte = 'I'
	PrefixSecondaryIdx byte = 'S'
	PrefixVecLayer     byte = 'V'
	PrefixVecMeta      byte = 'm'
	PrefixBM25Posting  byte = 'P'
	PrefixBM25DocLen   byte = 'l'
	PrefixBM25TermDF   byte = 'd'
	PrefixBM25Meta     byte = 'b'
	// PrefixLabelIdx supports n_from_types/e_from_types (§4.3): spec.md does
	// not assign this scan a dedicated key layout, only a contract ("ordered
	// scan yielding ids"), so this prefix is an addition needed to make that
	// scan efficient without a full nodes/edges table scan per label.
	PrefixLabelIdx byte = 'T'
	// PrefixVectorRecord holds a vector entity's {label, properties} — §3
	// describes the Vector entity as carrying its own label and properties
	// alongside the HNSW payload, but §4.2 only specifies the HNSW layer/meta
	// key layouts, not a record for the entity's label/properties. This
	// prefix is the addition that gives add_v's non-data fields a home.
	PrefixVectorRecord byte = 'v'
	// PrefixMeta holds the single reserved format_version entry (§6).
	PrefixMeta byte = 0x00
)

// LabelHash4 and KeyHash4 are the truncated xxhash64 digests spec.md §4.2
// calls `label_hash4`/`key_hash4`. Truncation to 4 bytes keeps adjacency and
// secondary-index keys compact. Two labels (or keys) whose hashes collide
// share a key prefix, and the prefix scans built on these keys do not
// compare the full label/key string, so such a scan returns the entries of
// both.
func LabelHash4(label string) [4]byte {
	return hash4(label)
}

func KeyHash4(key string) [4]byte {
	return hash4(key)
}

func hash4(s string) [4]byte {
	h := xxhash.Sum64String(s)
	var out [4]byte
	binary.BigEndian.PutUint32(out[:], uint32(h>>32))
	return out
}

// NodeKey builds the `N ∥ id16` key for a node record.
func NodeKey(id ID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, PrefixNode)
	return append(k, id[:]...)
}

// EdgeKey builds the `E ∥ id16` key for an edge record.
func EdgeKey(id ID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, PrefixEdge)
	return append(k, id[:]...)
}

// OutAdjKey builds the `O ∥ from16 ∥ label_hash4 ∥ edge_id16` key.
func OutAdjKey(from ID, label string, edgeID ID) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 37)
	k = append(k, PrefixOutAdj)
	k = append(k, from[:]...)
	k = append(k, lh[:]...)
	return append(k, edgeID[:]...)
}

// OutAdjPrefix builds the `O ∥ id ∥ label_hash` scan prefix used by out(label).
func OutAdjPrefix(from ID, label string) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 21)
	k = append(k, PrefixOutAdj)
	k = append(k, from[:]...)
	return append(k, lh[:]...)
}

// OutAdjNodePrefix builds the `O ∥ id` prefix used when dropping a node: all
// outgoing adjacency entries regardless of label.
func OutAdjNodePrefix(from ID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, PrefixOutAdj)
	return append(k, from[:]...)
}

// InAdjKey builds the `I ∥ to16 ∥ label_hash4 ∥ edge_id16` key.
func InAdjKey(to ID, label string, edgeID ID) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 37)
	k = append(k, PrefixInAdj)
	k = append(k, to[:]...)
	k = append(k, lh[:]...)
	return append(k, edgeID[:]...)
}

// InAdjPrefix builds the `I ∥ id ∥ label_hash` scan prefix used by in(label).
func InAdjPrefix(to ID, label string) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 21)
	k = append(k, PrefixInAdj)
	k = append(k, to[:]...)
	return append(k, lh[:]...)
}

// InAdjNodePrefix builds the `I ∥ id` prefix used when dropping a node.
func InAdjNodePrefix(to ID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, PrefixInAdj)
	return append(k, to[:]...)
}

// SecondaryIdxKey builds the
// `S ∥ label_hash4 ∥ key_hash4 ∥ value_bytes ∥ 0x00 ∥ entity_id16` key.
func SecondaryIdxKey(label, key string, valueBytes []byte, entityID ID) []byte {
	lh := LabelHash4(label)
	kh := KeyHash4(key)
	k := make([]byte, 0, 1+4+4+len(valueBytes)+1+16)
	k = append(k, PrefixSecondaryIdx)
	k = append(k, lh[:]...)
	k = append(k, kh[:]...)
	k = append(k, valueBytes...)
	k = append(k, 0x00)
	return append(k, entityID[:]...)
}

// SecondaryIdxValuePrefix builds the scan prefix for every entity id
// matching a given (label, key, value) triple — used to locate the exact
// entry to delete on update/drop without a full entityID suffix.
func SecondaryIdxValuePrefix(label, key string, valueBytes []byte) []byte {
	lh := LabelHash4(label)
	kh := KeyHash4(key)
	k := make([]byte, 0, 1+4+4+len(valueBytes)+1)
	k = append(k, PrefixSecondaryIdx)
	k = append(k, lh[:]...)
	k = append(k, kh[:]...)
	k = append(k, valueBytes...)
	return append(k, 0x00)
}

// VecLayerKey builds the `V ∥ label_hash4 ∥ k1 ∥ id16` key for a node's
// neighbor list at HNSW layer k. k is a single byte: spec.md's default parameters keep graphs
// well under 256 layers (m_L = 1/ln(16) ≈ 0.36, so even a billion-point
// index rarely exceeds layer 15).
func VecLayerKey(label string, layer uint8, id ID) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 22)
	k = append(k, PrefixVecLayer)
	k = append(k, lh[:]...)
	k = append(k, layer)
	return append(k, id[:]...)
}

// VecLayerPrefix scopes a scan to every node at a given layer for a label.
func VecLayerPrefix(label string, layer uint8) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 6)
	k = append(k, PrefixVecLayer)
	k = append(k, lh[:]...)
	return append(k, layer)
}

// VecMetaKey builds the `vec_meta[label]` key holding entry point, count,
// dimension, and (separately, via VecPayloadKey) raw vector bytes.
func VecMetaKey(label string) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 5)
	k = append(k, PrefixVecMeta)
	return append(k, lh[:]...)
}

// VecPayloadKey builds the per-id raw vector payload key within vec_meta,
// distinguished from VecMetaKey by a trailing id so the two never collide.
func VecPayloadKey(label string, id ID) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 21)
	k = append(k, PrefixVecMeta)
	k = append(k, lh[:]...)
	return append(k, id[:]...)
}

// BM25PostingKey builds the `P ∥ field_hash4 ∥ term_bytes ∥ 0x00 ∥ doc_id16` key.
func BM25PostingKey(field string, term string, docID ID) []byte {
	fh := LabelHash4(field)
	k := make([]byte, 0, 1+4+len(term)+1+16)
	k = append(k, PrefixBM25Posting)
	k = append(k, fh[:]...)
	k = append(k, []byte(term)...)
	k = append(k, 0x00)
	return append(k, docID[:]...)
}

// BM25PostingTermPrefix scopes a scan to every doc carrying a given term.
func BM25PostingTermPrefix(field string, term string) []byte {
	fh := LabelHash4(field)
	k := make([]byte, 0, 1+4+len(term)+1)
	k = append(k, PrefixBM25Posting)
	k = append(k, fh[:]...)
	k = append(k, []byte(term)...)
	return append(k, 0x00)
}

// BM25DocLenKey builds the per-document length entry key.
func BM25DocLenKey(field string, docID ID) []byte {
	fh := LabelHash4(field)
	k := make([]byte, 0, 21)
	k = append(k, PrefixBM25DocLen)
	k = append(k, fh[:]...)
	return append(k, docID[:]...)
}

// BM25TermDFKey builds the document-frequency entry key for a term.
func BM25TermDFKey(field string, term string) []byte {
	fh := LabelHash4(field)
	k := make([]byte, 0, 1+4+len(term))
	k = append(k, PrefixBM25TermDF)
	k = append(k, fh[:]...)
	return append(k, []byte(term)...)
}

// BM25MetaKey builds the field-scoped meta entry key (doc count, total
// token count, for average document length).
func BM25MetaKey(field string) []byte {
	fh := LabelHash4(field)
	k := make([]byte, 0, 5)
	k = append(k, PrefixBM25Meta)
	return append(k, fh[:]...)
}

// LabelIdxKey builds the `n_from_types`/`e_from_types` ordered-scan key:
// kind distinguishes nodes from edges so the two scans never interleave.
func LabelIdxKey(kind byte, label string, id ID) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 22)
	k = append(k, PrefixLabelIdx, kind)
	k = append(k, lh[:]...)
	return append(k, id[:]...)
}

// LabelIdxPrefix scopes a scan to every id of a given kind and label.
func LabelIdxPrefix(kind byte, label string) []byte {
	lh := LabelHash4(label)
	k := make([]byte, 0, 6)
	k = append(k, PrefixLabelIdx, kind)
	return append(k, lh[:]...)
}

// Entity kinds for LabelIdxKey.
const (
	KindNode   byte = 'n'
	KindEdge   byte = 'e'
	KindVector byte = 'v'
)

// VectorRecordKey builds the `v ∥ id16` key for a vector entity's label and
// properties (its HNSW payload lives separately under VecPayloadKey).
func VectorRecordKey(id ID) []byte {
	k := make([]byte, 0, 17)
	k = append(k, PrefixVectorRecord)
	return append(k, id[:]...)
}

// FormatVersionKey is the single reserved meta key holding the one-byte
// format_version (§6): mismatched versions refuse to open.
func FormatVersionKey() []byte {
	return []byte{PrefixMeta}
}

// CurrentFormatVersion is the format_version this build writes and expects.
const CurrentFormatVersion byte = 1
