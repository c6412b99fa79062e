package taint

import (
	"github.com/google/mangle/ast"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/model"
	"hodeiscan/internal/store"
)

var (
	symSource    = ast.PredicateSym{Symbol: "source", Arity: 2}
	symSink      = ast.PredicateSym{Symbol: "sink", Arity: 2}
	symSanitizes = ast.PredicateSym{Symbol: "sanitizes", Arity: 2}
	symDF        = ast.PredicateSym{Symbol: "df", Arity: 2}
	symFlow      = ast.PredicateSym{Symbol: "flow", Arity: 3}
)

// edb is the per-run extensional database translated from the DFG and
// TaintPolicy: the Mangle EDB atoms fed to the engine, plus the same
// information kept natively for the Go-side witness-path search.
type edb struct {
	atoms []ast.Atom

	adjacency map[fact.ID][]fact.ID // df edges, var -> vars it flows to
	sources   map[fact.ID]map[DataTag]bool
	sinks     map[fact.ID]map[DataTag]bool
	sanitized map[fact.ID]map[DataTag]bool
	exact     map[fact.ID]map[DataTag]bool
}

// buildEDB collects the df/2 relation from every function's DFG
// def-use edges plus explicit DataFlowEdge facts, then classifies each
// seen variable against the policy's matcher sets.
func buildEDB(s *store.Store, models map[fact.ID]*model.Model, policy *Policy) *edb {
	e := &edb{
		adjacency: map[fact.ID][]fact.ID{},
		sources:   map[fact.ID]map[DataTag]bool{},
		sinks:     map[fact.ID]map[DataTag]bool{},
		sanitized: map[fact.ID]map[DataTag]bool{},
		exact:     map[fact.ID]map[DataTag]bool{},
	}

	seenVars := map[fact.ID]bool{}
	addEdge := func(from, to fact.ID) {
		e.adjacency[from] = append(e.adjacency[from], to)
		e.atoms = append(e.atoms, ast.Atom{Predicate: symDF, Args: []ast.BaseTerm{
			ast.Number(int64(from)), ast.Number(int64(to)),
		}})
		seenVars[from] = true
		seenVars[to] = true
	}
	for _, m := range models {
		for defHandle, uses := range m.DFG.DefUse {
			defVar := m.DFG.Nodes[defHandle].Variable
			for _, useHandle := range uses {
				addEdge(defVar, m.DFG.Nodes[useHandle].Variable)
			}
		}
		for _, n := range m.DFG.Nodes {
			seenVars[n.Variable] = true
		}
	}

	// Explicit DataFlowEdge facts (extractor-provided def-use chains that
	// bypass the reaching-definitions derivation, e.g. inter-procedural
	// edges) contribute to the same df/2 relation.
	edges := s.Query(store.Pattern{Kind: fact.KindDataFlowEdge})
	for ef, ok := edges.Next(); ok; ef, ok = edges.Next() {
		addEdge(ef.Attributes["from"].Ref, ef.Attributes["to"].Ref)
	}

	for varID := range seenVars {
		f, ok := s.Get(varID)
		if !ok {
			continue
		}
		classify(f, policy.Sources, e.sources, e.exact, &e.atoms, symSource)
		classify(f, policy.Sinks, e.sinks, nil, &e.atoms, symSink)
		classify(f, policy.Sanitizers, e.sanitized, nil, &e.atoms, symSanitizes)
	}
	return e
}

func classify(f fact.Fact, matchers []Matcher, into map[fact.ID]map[DataTag]bool, exact map[fact.ID]map[DataTag]bool, atoms *[]ast.Atom, sym ast.PredicateSym) {
	tags := tagsFor(f, matchers)
	if len(tags) == 0 {
		return
	}
	into[f.ID] = map[DataTag]bool{}
	for tag, isExact := range tags {
		into[f.ID][tag] = true
		if exact != nil {
			if exact[f.ID] == nil {
				exact[f.ID] = map[DataTag]bool{}
			}
			exact[f.ID][tag] = isExact
		}
		*atoms = append(*atoms, ast.Atom{Predicate: sym, Args: []ast.BaseTerm{
			ast.Number(int64(f.ID)), ast.String(string(tag)),
		}})
	}
}
