// Package fulltext implements the BM25 inverted-index engine (engine
// specification §4.5), persisted across the `bm25_postings`, `bm25_doc_lens`,
// `bm25_term_df`, and `bm25_meta` sub-stores (§4.1).
//
// Tokenization and scoring are grounded on the teacher's in-memory
// FulltextIndex (pkg/search/fulltext_index.go): lowercase, split on
// non-alphanumeric runes, drop short/stop words, BM25 with the
// Lucene-style `+1` IDF smoothing — generalized here to read/write its
// state through a kv.Txn and to support per-field indices (a document's
// identifier can carry indexed text under more than one field name).
package fulltext

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/suxatcode/helix-db/internal/codec"
	"github.com/suxatcode/helix-db/internal/herr"
	"github.com/suxatcode/helix-db/pkg/kv"
)

// Params are the BM25 scoring parameters (§4.5), configurable per index.
type Params struct {
	K1 float64
	B  float64
}

// Tokenizer is the pluggable collaborator spec.md §1 names: the index does
// not depend on its exact details beyond "produces a slice of terms". This
// is the reference implementation.
type Tokenizer struct {
	Stopwords   map[string]bool
	MinTokenLen int
}

// NewTokenizer builds a Tokenizer from a stop-word list and minimum token
// length (engine specification §5 Open Question (c): both configurable,
// defaulting respectively to none and 1).
func NewTokenizer(stopwords []string, minLen int) Tokenizer {
	set := make(map[string]bool, len(stopwords))
	for _, w := range stopwords {
		set[strings.ToLower(w)] = true
	}
	if minLen <= 0 {
		minLen = 1
	}
	return Tokenizer{Stopwords: set, MinTokenLen: minLen}
}

// maxTokenLen is the reference tokenizer's explicit per-token cap (§4.5
// step 1); tokens longer than this are dropped rather than truncated, so a
// pathological run of non-space characters cannot inflate posting sizes.
const maxTokenLen = 64

func (t Tokenizer) Tokenize(text string) []string {
	lower := strings.ToLower(text)
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		if len(w) < t.MinTokenLen || len(w) > maxTokenLen {
			continue
		}
		if t.Stopwords[w] {
			continue
		}
		tokens = append(tokens, w)
	}
	return tokens
}

// Index is the BM25 engine view over one kv.Engine, scoped to a field
// name so the same document id can carry independently scored text under
// several fields (e.g. "title" vs "body").
type Index struct {
	params    Params
	tokenizer Tokenizer
}

func New(params Params, tokenizer Tokenizer) *Index {
	return &Index{params: params, tokenizer: tokenizer}
}

// --- persisted meta: doc count + total token count, for average doc length ---

type fieldMeta struct {
	docCount    uint64
	totalTokens uint64
}

func (m fieldMeta) encode() []byte {
	buf := make([]byte, 0, 20)
	buf = binary.AppendUvarint(buf, m.docCount)
	return binary.AppendUvarint(buf, m.totalTokens)
}

func decodeFieldMeta(b []byte) (fieldMeta, error) {
	docCount, n := binary.Uvarint(b)
	if n <= 0 {
		return fieldMeta{}, fmt.Errorf("%w: malformed bm25_meta entry", herr.Storage)
	}
	totalTokens, n2 := binary.Uvarint(b[n:])
	if n2 <= 0 {
		return fieldMeta{}, fmt.Errorf("%w: malformed bm25_meta entry", herr.Storage)
	}
	return fieldMeta{docCount: docCount, totalTokens: totalTokens}, nil
}

func (idx *Index) readMeta(txn *kv.Txn, field string) (fieldMeta, error) {
	data, err := txn.Get(codec.BM25MetaKey(field))
	if err == herr.NotFound {
		return fieldMeta{}, nil
	}
	if err != nil {
		return fieldMeta{}, err
	}
	return decodeFieldMeta(data)
}

func (idx *Index) writeMeta(txn *kv.Txn, field string, m fieldMeta) error {
	return txn.Set(codec.BM25MetaKey(field), m.encode())
}

func (idx *Index) avgDocLen(m fieldMeta) float64 {
	if m.docCount == 0 {
		return 0
	}
	return float64(m.totalTokens) / float64(m.docCount)
}

// --- persisted per-doc length + term list (the latter lets Delete find
// which postings/df entries to remove without a reverse index scan) ---

type docEntry struct {
	length uint64
	terms  []string
}

func (d docEntry) encode() []byte {
	buf := make([]byte, 0, 32)
	buf = binary.AppendUvarint(buf, d.length)
	buf = binary.AppendUvarint(buf, uint64(len(d.terms)))
	for _, term := range d.terms {
		buf = binary.AppendUvarint(buf, uint64(len(term)))
		buf = append(buf, term...)
	}
	return buf
}

func decodeDocEntry(b []byte) (docEntry, error) {
	length, n := binary.Uvarint(b)
	if n <= 0 {
		return docEntry{}, fmt.Errorf("%w: malformed doc length entry", herr.Storage)
	}
	b = b[n:]
	count, n := binary.Uvarint(b)
	if n <= 0 {
		return docEntry{}, fmt.Errorf("%w: malformed doc length entry", herr.Storage)
	}
	b = b[n:]
	terms := make([]string, count)
	for i := range terms {
		tlen, n := binary.Uvarint(b)
		if n <= 0 || uint64(len(b)-n) < tlen {
			return docEntry{}, fmt.Errorf("%w: malformed doc length entry", herr.Storage)
		}
		b = b[n:]
		terms[i] = string(b[:tlen])
		b = b[tlen:]
	}
	return docEntry{length: length, terms: terms}, nil
}

func (idx *Index) readDocEntry(txn *kv.Txn, field string, docID codec.ID) (docEntry, bool, error) {
	data, err := txn.Get(codec.BM25DocLenKey(field, docID))
	if err == herr.NotFound {
		return docEntry{}, false, nil
	}
	if err != nil {
		return docEntry{}, false, err
	}
	e, err := decodeDocEntry(data)
	return e, true, err
}

// --- postings and document frequency ---

func (idx *Index) readTermDF(txn *kv.Txn, field, term string) (uint64, error) {
	data, err := txn.Get(codec.BM25TermDFKey(field, term))
	if err == herr.NotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	df, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, fmt.Errorf("%w: malformed term df entry", herr.Storage)
	}
	return df, nil
}

func (idx *Index) writeTermDF(txn *kv.Txn, field, term string, df uint64) error {
	if df == 0 {
		return txn.Delete(codec.BM25TermDFKey(field, term))
	}
	return txn.Set(codec.BM25TermDFKey(field, term), binary.AppendUvarint(nil, df))
}

func (idx *Index) readPostingTF(txn *kv.Txn, field, term string, docID codec.ID) (uint64, bool, error) {
	data, err := txn.Get(codec.BM25PostingKey(field, term, docID))
	if err == herr.NotFound {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	tf, n := binary.Uvarint(data)
	if n <= 0 {
		return 0, false, fmt.Errorf("%w: malformed posting entry", herr.Storage)
	}
	return tf, true, nil
}

// --- operations ---

// InsertDoc tokenizes text and indexes it under docID within field,
// updating postings, document frequency, per-doc length, and the field's
// global statistics (§4.5 insert_doc).
func (idx *Index) InsertDoc(txn *kv.Txn, field string, docID codec.ID, text string) error {
	tokens := idx.tokenizer.Tokenize(text)

	termFreq := make(map[string]uint64)
	for _, tok := range tokens {
		termFreq[tok]++
	}

	m, err := idx.readMeta(txn, field)
	if err != nil {
		return err
	}

	terms := make([]string, 0, len(termFreq))
	for term, tf := range termFreq {
		terms = append(terms, term)
		if err := txn.Set(codec.BM25PostingKey(field, term, docID), binary.AppendUvarint(nil, tf)); err != nil {
			return err
		}
		df, err := idx.readTermDF(txn, field, term)
		if err != nil {
			return err
		}
		if err := idx.writeTermDF(txn, field, term, df+1); err != nil {
			return err
		}
	}

	entry := docEntry{length: uint64(len(tokens)), terms: terms}
	if err := txn.Set(codec.BM25DocLenKey(field, docID), entry.encode()); err != nil {
		return err
	}

	m.docCount++
	m.totalTokens += entry.length
	return idx.writeMeta(txn, field, m)
}

// UpdateDoc re-indexes docID's text, equivalent to DeleteDoc followed by
// InsertDoc within the same write transaction.
func (idx *Index) UpdateDoc(txn *kv.Txn, field string, docID codec.ID, text string) error {
	if err := idx.DeleteDoc(txn, field, docID); err != nil {
		return err
	}
	return idx.InsertDoc(txn, field, docID, text)
}

// DeleteDoc removes docID's postings, decrements document frequencies, and
// updates global statistics. Idempotent on an absent doc.
func (idx *Index) DeleteDoc(txn *kv.Txn, field string, docID codec.ID) error {
	entry, found, err := idx.readDocEntry(txn, field, docID)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	for _, term := range entry.terms {
		if err := txn.Delete(codec.BM25PostingKey(field, term, docID)); err != nil {
			return err
		}
		df, err := idx.readTermDF(txn, field, term)
		if err != nil {
			return err
		}
		if df > 0 {
			df--
		}
		if err := idx.writeTermDF(txn, field, term, df); err != nil {
			return err
		}
	}

	if err := txn.Delete(codec.BM25DocLenKey(field, docID)); err != nil {
		return err
	}

	m, err := idx.readMeta(txn, field)
	if err != nil {
		return err
	}
	if m.docCount > 0 {
		m.docCount--
	}
	if m.totalTokens >= entry.length {
		m.totalTokens -= entry.length
	} else {
		m.totalTokens = 0
	}
	return idx.writeMeta(txn, field, m)
}

// Result pairs a document id with its BM25 score.
type Result struct {
	DocID codec.ID
	Score float64
}

// Search scores query against every document in the union of its terms'
// posting lists, returning the top-limit results by descending score
// (ties by ascending doc_id, per §4.5 step 3).
func (idx *Index) Search(txn *kv.Txn, field string, query string, limit int) ([]Result, error) {
	terms := idx.tokenizer.Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	m, err := idx.readMeta(txn, field)
	if err != nil {
		return nil, err
	}
	if m.docCount == 0 {
		return nil, nil
	}
	avgDL := idx.avgDocLen(m)

	scores := make(map[codec.ID]float64)
	seen := make(map[string]bool)
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true

		df, err := idx.readTermDF(txn, field, term)
		if err != nil {
			return nil, err
		}
		if df == 0 {
			continue
		}
		idf := bm25IDF(float64(m.docCount), float64(df))

		c := txn.PrefixCursor(codec.BM25PostingTermPrefix(field, term))
		for ; c.Valid(); c.Next() {
			key := c.Key()
			docID, err := codec.IDFromBytes(key[len(key)-16:])
			if err != nil {
				c.Close()
				return nil, err
			}
			v, err := c.Value()
			if err != nil {
				c.Close()
				return nil, err
			}
			tf, n := binary.Uvarint(v)
			if n <= 0 {
				c.Close()
				return nil, fmt.Errorf("%w: malformed posting entry", herr.Storage)
			}

			entry, found, err := idx.readDocEntry(txn, field, docID)
			if err != nil {
				c.Close()
				return nil, err
			}
			if !found {
				continue
			}
			docLen := float64(entry.length)

			numerator := float64(tf) * (idx.params.K1 + 1)
			denominator := float64(tf) + idx.params.K1*(1-idx.params.B+idx.params.B*docLen/avgDL)
			scores[docID] += idf * (numerator / denominator)
		}
		c.Close()
	}

	results := make([]Result, 0, len(scores))
	for id, score := range scores {
		results = append(results, Result{DocID: id, Score: score})
	}
	sortResults(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// bm25IDF is the Lucene-style `+1`-smoothed IDF (§4.5 step 1): always
// non-negative, so common terms never subtract from a document's score.
func bm25IDF(n, df float64) float64 {
	return math.Log(1 + (n-df+0.5)/(df+0.5))
}

func sortResults(results []Result) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0; j-- {
			a, b := results[j-1], results[j]
			if a.Score > b.Score || (a.Score == b.Score && lessID(a.DocID, b.DocID)) {
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
