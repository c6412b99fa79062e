// Package store implements the indexed fact store: an
// insertion-ordered, append-only collection of facts with a primary id
// index, a kind index, and per-(kind,attribute) secondary indexes declared
// indexable by the schema. Queries are planned against the cheapest index
// and answered in time proportional to the match count, not the total
// fact count.
package store

import (
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/hashicorp/go-memdb"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/logging"
)

var (
	// ErrFrozenStore is returned by Insert after Freeze has been called.
	ErrFrozenStore = errors.New("store: frozen, insert not allowed")

	// ErrDuplicateID is unreachable by construction: ids are
	// assigned monotonically by the store itself, never supplied by the
	// caller. Kept so callers that type-switch on store errors have a
	// stable symbol to reference.
	ErrDuplicateID = errors.New("store: duplicate id")
)

// Store is the indexed fact store. The zero value is not usable; construct
// with New.
type Store struct {
	schema *fact.Schema
	db     *memdb.MemDB

	mu     sync.Mutex // serializes the single-writer build phase only
	nextID int64
	frozen atomic.Bool

	fpOnce sync.Once
	fp     uint64
}

// New builds an empty store for the given schema, registering one
// go-memdb secondary index per (kind, attribute) pair the schema declares
// indexable.
func New(schema *fact.Schema) (*Store, error) {
	db, err := memdb.NewMemDB(buildSchema(schema))
	if err != nil {
		return nil, err
	}
	return &Store{schema: schema, db: db}, nil
}

// Insert appends a fact, assigning it the next monotonic id. Attribute
// types are validated against the schema; id-reference attributes are
// resolved eagerly against facts already present. A forward reference
// to a fact not yet inserted fails validation, so extractors must emit
// facts in a reference-respecting order: the referent before the
// referrer.
func (s *Store) Insert(f fact.Fact) (fact.ID, error) {
	if s.frozen.Load() {
		return 0, ErrFrozenStore
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.schema.Validate(f); err != nil {
		return 0, err
	}

	rtxn := s.db.Txn(false)
	for _, refAttr := range s.schema.RefAttributes(f.Kind) {
		val, ok := f.Attributes[refAttr]
		if !ok {
			continue
		}
		raw, err := rtxn.First(factsTable, "id", int64(val.Ref))
		if err != nil || raw == nil {
			rtxn.Abort()
			return 0, &fact.SchemaError{
				Kind: f.Kind, Attribute: refAttr,
				Reason: "id-reference does not resolve to an existing fact",
			}
		}
	}
	rtxn.Abort()

	s.nextID++
	id := fact.ID(s.nextID)
	f.ID = id

	wtxn := s.db.Txn(true)
	if err := wtxn.Insert(factsTable, &record{ID: int64(id), Kind: string(f.Kind), Fact: f}); err != nil {
		wtxn.Abort()
		s.nextID--
		return 0, err
	}
	wtxn.Commit()

	logging.Get(logging.CategoryStore).Debugf("inserted fact id=%d kind=%s", id, f.Kind)
	return id, nil
}

// Freeze transitions the store to read-only mode. Subsequent Insert calls
// return ErrFrozenStore. Idempotent.
func (s *Store) Freeze() {
	s.frozen.Store(true)
}

// Frozen reports whether the store has been frozen.
func (s *Store) Frozen() bool {
	return s.frozen.Load()
}

// Fingerprint returns a content hash of every fact in id order, the
// store component of the analysis cache key. Only meaningful on a
// frozen store; memoized after the first call since the content can no
// longer change.
func (s *Store) Fingerprint() uint64 {
	if !s.frozen.Load() {
		return s.computeFingerprint()
	}
	s.fpOnce.Do(func() { s.fp = s.computeFingerprint() })
	return s.fp
}

func (s *Store) computeFingerprint() uint64 {
	h := fnv.New64a()
	txn := s.db.Txn(false)
	it, err := txn.Get(factsTable, "id")
	if err != nil {
		return 0
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		r := raw.(*record)
		fmt.Fprintf(h, "%d|%s|%s:%d:%d:%d|", r.ID, r.Kind,
			r.Fact.Location.File, r.Fact.Location.Line, r.Fact.Location.ColumnStart, r.Fact.Location.ColumnEnd)
		names := make([]string, 0, len(r.Fact.Attributes))
		for name := range r.Fact.Attributes {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(h, "%s=%s;", name, r.Fact.Attributes[name].String())
		}
	}
	return h.Sum64()
}

// Get looks up a single fact by id through the primary index.
func (s *Store) Get(id fact.ID) (fact.Fact, bool) {
	txn := s.db.Txn(false)
	raw, err := txn.First(factsTable, "id", int64(id))
	if err != nil || raw == nil {
		return fact.Fact{}, false
	}
	return raw.(*record).Fact, true
}

// IndexBucketSize is the planner's cheap selectivity primitive: the number
// of facts an indexed (kind, attribute=value) predicate would match,
// without applying the rest of the pattern's predicates. Used by
// internal/rules to pick the cheapest leading index for a rule body.
func (s *Store) IndexBucketSize(k fact.Kind, attr string, val fact.Attr) int {
	txn := s.db.Txn(false)
	it, err := txn.Get(factsTable, attrIndexName(k, attr), val)
	if err != nil {
		return 0
	}
	n := 0
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n++
	}
	return n
}

// KindBucketSize is IndexBucketSize's fallback for patterns with no
// indexable predicate: the total number of facts of one kind.
func (s *Store) KindBucketSize(k fact.Kind) int {
	txn := s.db.Txn(false)
	it, err := txn.Get(factsTable, "kind", string(k))
	if err != nil {
		return 0
	}
	n := 0
	for raw := it.Next(); raw != nil; raw = it.Next() {
		n++
	}
	return n
}

// Query evaluates a pattern and returns a finite, restartable iterator
// over matches in ascending id order. It chooses the smallest
// available indexed predicate as the leading index, intersects any
// further indexed predicates via roaring64 bitmap AND, then applies
// any non-indexable attribute and location predicates as a linear
// filter over the narrowed candidate set.
func (s *Store) Query(p Pattern) *ResultIterator {
	return &ResultIterator{facts: s.match(p)}
}

// Count returns the exact number of facts matching p, always equal to
// Query(p).Len().
func (s *Store) Count(p Pattern) int {
	return len(s.match(p))
}

func (s *Store) match(p Pattern) []fact.Fact {
	txn := s.db.Txn(false)

	indexableAttrs := s.schema.IndexableAttributes(p.Kind)
	indexable := make(map[string]bool, len(indexableAttrs))
	for _, a := range indexableAttrs {
		indexable[a] = true
	}

	type predicate struct {
		attr string
		val  fact.Attr
	}
	var indexedPreds []predicate
	nonIndexed := map[string]fact.Attr{}
	for name, val := range p.Attrs {
		// An exact-id lookup already narrows to one candidate; every
		// attribute predicate becomes a plain filter.
		if indexable[name] && p.ID == 0 {
			indexedPreds = append(indexedPreds, predicate{attr: name, val: val})
		} else {
			nonIndexed[name] = val
		}
	}

	var candidates *roaring64.Bitmap
	if p.ID != 0 {
		candidates = roaring64.New()
		candidates.Add(uint64(p.ID))
	} else if len(indexedPreds) == 0 {
		// No indexed predicate: fall back to the always-present kind index.
		candidates = s.idsFromIndex(txn, "kind", string(p.Kind))
	} else {
		sort.Slice(indexedPreds, func(i, j int) bool {
			return s.IndexBucketSize(p.Kind, indexedPreds[i].attr, indexedPreds[i].val) <
				s.IndexBucketSize(p.Kind, indexedPreds[j].attr, indexedPreds[j].val)
		})
		for i, pred := range indexedPreds {
			ids := s.idsFromIndex(txn, attrIndexName(p.Kind, pred.attr), pred.val)
			if i == 0 {
				candidates = ids
			} else {
				candidates.And(ids)
			}
		}
	}

	var out []fact.Fact
	it := candidates.Iterator()
	for it.HasNext() {
		id := it.Next()
		raw, err := txn.First(factsTable, "id", int64(id))
		if err != nil || raw == nil {
			continue
		}
		r := raw.(*record)
		if r.Fact.Kind != p.Kind {
			continue
		}
		if len(nonIndexed) > 0 && !matchesAttrs(nonIndexed, r.Fact.Attributes) {
			continue
		}
		if !p.matchesLocation(r.Fact.Location) {
			continue
		}
		out = append(out, r.Fact)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matchesAttrs(want map[string]fact.Attr, got map[string]fact.Attr) bool {
	for name, w := range want {
		g, ok := got[name]
		if !ok || g != w {
			return false
		}
	}
	return true
}

func (s *Store) idsFromIndex(txn *memdb.Txn, index string, arg interface{}) *roaring64.Bitmap {
	bm := roaring64.New()
	it, err := txn.Get(factsTable, index, arg)
	if err != nil {
		return bm
	}
	for raw := it.Next(); raw != nil; raw = it.Next() {
		bm.Add(uint64(raw.(*record).ID))
	}
	return bm
}

// ResultIterator is the finite, restartable sequence Query returns.
type ResultIterator struct {
	facts []fact.Fact
	pos   int
}

// Next returns the next fact and true, or the zero value and false once
// exhausted.
func (it *ResultIterator) Next() (fact.Fact, bool) {
	if it == nil || it.pos >= len(it.facts) {
		return fact.Fact{}, false
	}
	f := it.facts[it.pos]
	it.pos++
	return f, true
}

// Reset rewinds the iterator to its first element.
func (it *ResultIterator) Reset() { it.pos = 0 }

// Len reports the total number of matches (equivalent to Store.Count for
// the pattern this iterator was built from).
func (it *ResultIterator) Len() int { return len(it.facts) }

// All drains the iterator into a slice. Convenience for callers that do
// not need lazy streaming.
func (it *ResultIterator) All() []fact.Fact {
	out := make([]fact.Fact, len(it.facts)-it.pos)
	copy(out, it.facts[it.pos:])
	it.pos = len(it.facts)
	return out
}
