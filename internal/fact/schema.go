package fact

// AttrDecl declares one attribute of a Kind: its expected scalar type and
// whether the store should build a secondary index on it.
type AttrDecl struct {
	Name      string
	Type      AttrKind
	Indexable bool
}

// KindDecl is the fixed attribute set for one Kind, declared once at
// schema-load time.
type KindDecl struct {
	Kind  Kind
	Attrs []AttrDecl
}

// Schema is the closed description of every Kind's valid attributes.
// Built once, read many times; safe for concurrent use after construction.
type Schema struct {
	decls map[Kind]KindDecl
}

// NewSchema builds a Schema from a list of per-kind declarations. It does
// not validate facts; Validate does that against a built Schema.
func NewSchema(decls ...KindDecl) *Schema {
	s := &Schema{decls: make(map[Kind]KindDecl, len(decls))}
	for _, d := range decls {
		s.decls[d.Kind] = d
	}
	return s
}

// IndexableAttributes returns the attribute names declared indexable for a
// Kind, used by the store to register secondary indexes at construction.
func (s *Schema) IndexableAttributes(k Kind) []string {
	decl, ok := s.decls[k]
	if !ok {
		return nil
	}
	var names []string
	for _, a := range decl.Attrs {
		if a.Indexable {
			names = append(names, a.Name)
		}
	}
	return names
}

// Validate checks a fact's kind and attribute types against the schema.
// It does not resolve id-references; the store does that eagerly at
// insertion time, since only the store knows which ids currently exist.
func (s *Schema) Validate(f Fact) error {
	if !f.Kind.Valid() {
		return &SchemaError{Kind: f.Kind, Reason: "unknown kind"}
	}
	decl, ok := s.decls[f.Kind]
	if !ok {
		return &SchemaError{Kind: f.Kind, Reason: "kind has no schema declaration"}
	}
	declared := make(map[string]AttrDecl, len(decl.Attrs))
	for _, a := range decl.Attrs {
		declared[a.Name] = a
	}
	for name, val := range f.Attributes {
		ad, ok := declared[name]
		if !ok {
			return &SchemaError{Kind: f.Kind, Attribute: name, Reason: "attribute not declared for this kind"}
		}
		if ad.Type != val.Kind {
			return &SchemaError{Kind: f.Kind, Attribute: name, Reason: "attribute type mismatch"}
		}
	}
	return nil
}

// RefAttributes returns the names of attributes declared AttrRef for a
// kind, used by the store to validate id-reference resolution eagerly.
func (s *Schema) RefAttributes(k Kind) []string {
	decl, ok := s.decls[k]
	if !ok {
		return nil
	}
	var names []string
	for _, a := range decl.Attrs {
		if a.Type == AttrRef {
			names = append(names, a.Name)
		}
	}
	return names
}

// DefaultSchema is the built-in schema covering the attribute shapes the
// rest of the engine (model builder, taint propagator, connascence
// analyzer) expects to find on facts. Callers embedding the engine as a
// library may extend it with NewSchema for additional, domain-specific
// attributes instead of relying on this one.
func DefaultSchema() *Schema {
	return NewSchema(
		KindDecl{Kind: KindFunction, Attrs: []AttrDecl{
			{Name: "name", Type: AttrString, Indexable: true},
			{Name: "package", Type: AttrString, Indexable: true},
		}},
		KindDecl{Kind: KindVariable, Attrs: []AttrDecl{
			{Name: "name", Type: AttrString, Indexable: true},
			{Name: "owner_function", Type: AttrRef, Indexable: true},
			// block is a BasicBlock id local to owner_function, not a
			// fact reference: blocks are derived graph nodes, never
			// inserted as facts of their own.
			{Name: "block", Type: AttrInt, Indexable: true},
			{Name: "def_or_use", Type: AttrString, Indexable: true}, // "def" | "use"
			{Name: "type", Type: AttrString, Indexable: true},
			{Name: "is_source", Type: AttrBool, Indexable: true},
			{Name: "is_sink", Type: AttrBool, Indexable: true},
			{Name: "data_tag", Type: AttrString, Indexable: true},
		}},
		KindDecl{Kind: KindCall, Attrs: []AttrDecl{
			{Name: "callee", Type: AttrString, Indexable: true},
			{Name: "owner_function", Type: AttrRef, Indexable: true},
			{Name: "block", Type: AttrInt, Indexable: true},
			{Name: "arg_count", Type: AttrInt, Indexable: false},
			{Name: "arg_types", Type: AttrString, Indexable: false},
		}},
		KindDecl{Kind: KindDataFlowEdge, Attrs: []AttrDecl{
			{Name: "from", Type: AttrRef, Indexable: true},
			{Name: "to", Type: AttrRef, Indexable: true},
		}},
		KindDecl{Kind: KindControlFlowEdge, Attrs: []AttrDecl{
			// from/to are BasicBlock ids local to owner_function, not
			// fact references (see Variable.block above).
			{Name: "from", Type: AttrInt, Indexable: true},
			{Name: "to", Type: AttrInt, Indexable: true},
			{Name: "owner_function", Type: AttrRef, Indexable: true},
			{Name: "edge_kind", Type: AttrString, Indexable: true},
		}},
		KindDecl{Kind: KindTaintSource, Attrs: []AttrDecl{
			{Name: "target", Type: AttrRef, Indexable: true},
			{Name: "data_tag", Type: AttrString, Indexable: true},
		}},
		KindDecl{Kind: KindTaintSink, Attrs: []AttrDecl{
			{Name: "target", Type: AttrRef, Indexable: true},
			{Name: "data_tag", Type: AttrString, Indexable: true},
		}},
		KindDecl{Kind: KindSanitizer, Attrs: []AttrDecl{
			{Name: "target", Type: AttrRef, Indexable: true},
			{Name: "data_tag", Type: AttrString, Indexable: true},
		}},
		// Annotation doubles as the lexical-scope fact the model builder
		// reads: key "scope_parent" with value the
		// parent scope id (empty string at the root), key
		// "scope_declares" once per identifier declared in that scope.
		KindDecl{Kind: KindAnnotation, Attrs: []AttrDecl{
			{Name: "owner", Type: AttrRef, Indexable: true},
			{Name: "key", Type: AttrString, Indexable: true},
			{Name: "value", Type: AttrString, Indexable: true},
			{Name: "scope", Type: AttrInt, Indexable: true},
		}},
		KindDecl{Kind: KindCoverageStat, Attrs: []AttrDecl{
			{Name: "target", Type: AttrRef, Indexable: true},
			{Name: "covered", Type: AttrBool, Indexable: false},
		}},
		KindDecl{Kind: KindDependency, Attrs: []AttrDecl{
			{Name: "from_package", Type: AttrString, Indexable: true},
			{Name: "to_package", Type: AttrString, Indexable: true},
		}},
	)
}
