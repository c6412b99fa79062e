package store

import (
	"fmt"

	"github.com/hashicorp/go-memdb"

	"hodeiscan/internal/fact"
)

const factsTable = "facts"

// record is the go-memdb row. go-memdb indexes via reflection/Indexer over
// a stored object, so the Fact is kept as a field alongside a plain
// string Kind field that memdb.StringFieldIndex can index directly.
type record struct {
	ID   int64
	Kind string
	Fact fact.Fact
}

// attrIndexName is the stable name of the secondary index the store builds
// for one (kind, attribute) pair declared indexable in the schema.
func attrIndexName(k fact.Kind, attr string) string {
	return fmt.Sprintf("attr_%s_%s", k, attr)
}

// attrIndexer indexes records of one Kind by one attribute's value. It
// implements memdb.Indexer (single-value, from object and from args).
type attrIndexer struct {
	kind fact.Kind
	attr string
}

func (ix *attrIndexer) FromObject(raw interface{}) (bool, []byte, error) {
	r, ok := raw.(*record)
	if !ok {
		return false, nil, fmt.Errorf("attrIndexer: unexpected object type %T", raw)
	}
	if r.Fact.Kind != ix.kind {
		return false, nil, nil
	}
	val, ok := r.Fact.Attributes[ix.attr]
	if !ok {
		return false, nil, nil
	}
	b, err := encodeAttr(val)
	if err != nil {
		return false, nil, err
	}
	return true, b, nil
}

func (ix *attrIndexer) FromArgs(args ...interface{}) ([]byte, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("attrIndexer: expected exactly one arg, got %d", len(args))
	}
	a, ok := args[0].(fact.Attr)
	if !ok {
		return nil, fmt.Errorf("attrIndexer: expected fact.Attr arg, got %T", args[0])
	}
	return encodeAttr(a)
}

// encodeAttr produces the byte key go-memdb's radix tree sorts on. A one
// byte type tag prefixes the value so attributes of different declared
// types never collide.
func encodeAttr(a fact.Attr) ([]byte, error) {
	switch a.Kind {
	case fact.AttrString:
		return append([]byte{'s'}, []byte(a.Str)...), nil
	case fact.AttrInt:
		return append([]byte{'i'}, encodeInt64(a.Int)...), nil
	case fact.AttrBool:
		if a.Bool {
			return []byte{'b', 1}, nil
		}
		return []byte{'b', 0}, nil
	case fact.AttrRef:
		return append([]byte{'r'}, encodeInt64(int64(a.Ref))...), nil
	default:
		return nil, fmt.Errorf("encodeAttr: unknown attribute kind %d", a.Kind)
	}
}

// encodeInt64 big-endian-encodes an int64 with its sign bit flipped so
// radix byte order matches numeric order, the same trick
// memdb.IntFieldIndex itself uses internally.
func encodeInt64(v int64) []byte {
	buf := make([]byte, 8)
	uv := uint64(v) ^ (1 << 63) // flip sign bit so negatives sort before positives
	for i := 7; i >= 0; i-- {
		buf[i] = byte(uv)
		uv >>= 8
	}
	return buf
}

// buildSchema assembles the go-memdb DBSchema for a given fact.Schema: a
// primary id index, a kind index, and one index per declared-indexable
// (kind, attribute) pair.
func buildSchema(s *fact.Schema) *memdb.DBSchema {
	indexes := map[string]*memdb.IndexSchema{
		"id": {
			Name:    "id",
			Unique:  true,
			Indexer: &memdb.IntFieldIndex{Field: "ID"},
		},
		"kind": {
			Name:    "kind",
			Unique:  false,
			Indexer: &memdb.StringFieldIndex{Field: "Kind"},
		},
	}
	for _, k := range fact.AllKinds {
		for _, attr := range s.IndexableAttributes(k) {
			name := attrIndexName(k, attr)
			indexes[name] = &memdb.IndexSchema{
				Name:         name,
				Unique:       false,
				AllowMissing: true,
				Indexer:      &attrIndexer{kind: k, attr: attr},
			}
		}
	}
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			factsTable: {
				Name:    factsTable,
				Indexes: indexes,
			},
		},
	}
}
