// Package taint implements the Datalog-based taint propagator on top
// of github.com/google/mangle: EDB facts are translated from the
// semantic model's DFG and a TaintPolicy, mangle runs the semi-naive
// fixed point, and witness paths are reconstructed by a deterministic
// Go-side search over the same df graph.
package taint

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/mangle/analysis"
	"github.com/google/mangle/ast"
	mengine "github.com/google/mangle/engine"
	"github.com/google/mangle/factstore"
	"github.com/google/mangle/parse"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/logging"
	"hodeiscan/internal/model"
	"hodeiscan/internal/store"
)

// Flow is one source-to-sink taint finding.
type Flow struct {
	Source     fact.ID
	Sink       fact.ID
	Tag        DataTag
	Path       []fact.ID
	Sanitized  bool
	Confidence float64
}

var (
	strictProgram, strictErr         = compileProgram(datalogSchema)
	permissiveProgram, permissiveErr = compileProgram(permissiveSchema)
)

func compileProgram(schema string) (*analysis.ProgramInfo, error) {
	unit, err := parse.Unit(bytes.NewReader([]byte(schema)))
	if err != nil {
		return nil, err
	}
	return analysis.AnalyzeOneUnit(unit, nil)
}

// Propagator runs the taint analysis over a built semantic model.
type Propagator struct {
	MaxFlowsPerPair int
	ReportSanitized bool
}

// Run computes every taint flow from policy sources to policy sinks.
// An empty policy or a model with no DFG nodes yields zero flows,
// never an error.
func (p *Propagator) Run(ctx context.Context, s *store.Store, models map[fact.ID]*model.Model, policy *Policy) ([]Flow, error) {
	log := logging.Get(logging.CategoryTaint)
	if policy == nil || (len(policy.Sources) == 0 && len(policy.Sinks) == 0) {
		return nil, nil
	}
	if strictErr != nil {
		return nil, fmt.Errorf("taint: compile schema: %w", strictErr)
	}

	e := buildEDB(s, models, policy)
	if len(e.sources) == 0 {
		log.Debug("no source variables matched policy; zero flows")
		return nil, nil
	}

	strictPairs, err := p.derivedPairs(ctx, strictProgram, e)
	if err != nil {
		return nil, err
	}

	var permissivePairs map[pairKey]bool
	if p.ReportSanitized {
		if permissiveErr != nil {
			return nil, fmt.Errorf("taint: compile permissive schema: %w", permissiveErr)
		}
		permissivePairs, err = p.derivedPairs(ctx, permissiveProgram, e)
		if err != nil {
			return nil, err
		}
	}

	maxPaths := p.MaxFlowsPerPair
	if maxPaths < 1 {
		maxPaths = 1
	}

	flows := map[pairKey][]Flow{}
	for key := range strictPairs {
		// A strict pair's witness paths must avoid sanitizer nodes for the
		// flow's tag (other than the source itself): the Datalog cut
		// !sanitizes(V, T) guarantees such a path exists, and routing
		// through a sanitizer here would mislabel the flow as unsanitized.
		blocked := func(v fact.ID) bool { return v != key.source && e.sanitized[v][key.tag] }
		for _, path := range pathsBetween(e.adjacency, key.source, key.sink, maxPaths, blocked) {
			flows[key] = append(flows[key], Flow{
				Source:     key.source,
				Sink:       key.sink,
				Tag:        key.tag,
				Path:       path,
				Sanitized:  false,
				Confidence: confidence(e, key, path, false),
			})
		}
	}
	if p.ReportSanitized {
		for key := range permissivePairs {
			if _, already := flows[key]; already {
				continue
			}
			for _, path := range pathsBetween(e.adjacency, key.source, key.sink, maxPaths, nil) {
				flows[key] = append(flows[key], Flow{
					Source:     key.source,
					Sink:       key.sink,
					Tag:        key.tag,
					Path:       path,
					Sanitized:  true,
					Confidence: confidence(e, key, path, true),
				})
			}
		}
	}

	var out []Flow
	for _, fs := range flows {
		out = append(out, fs...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Sink != out[j].Sink {
			return out[i].Sink < out[j].Sink
		}
		if out[i].Tag != out[j].Tag {
			return out[i].Tag < out[j].Tag
		}
		return len(out[i].Path) < len(out[j].Path)
	})
	log.Debugf("taint propagation: %d flows", len(out))
	return out, nil
}

type pairKey struct {
	source fact.ID
	sink   fact.ID
	tag    DataTag
}

// derivedPairs loads e's EDB into a fresh Mangle store, runs the
// fixed-point evaluator, and reads back the derived flow/3 relation.
// The select racing ctx.Done() against the evaluation goroutine is the
// cancellation point: on cancellation it returns at once and no partial
// flow/3 facts are read out, while the evaluation goroutine runs to its
// own end in the background.
func (p *Propagator) derivedPairs(ctx context.Context, program *analysis.ProgramInfo, e *edb) (map[pairKey]bool, error) {
	base := factstore.NewSimpleInMemoryStore()
	fs := factstore.NewConcurrentFactStore(base)
	for _, atom := range e.atoms {
		fs.Add(atom)
	}

	done := make(chan error, 1)
	go func() {
		_, err := mengine.EvalProgramWithStats(program, fs)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, err
		}
	}

	pairs := map[pairKey]bool{}
	err := fs.GetFacts(ast.NewQuery(symFlow), func(a ast.Atom) error {
		src, ok1 := asInt(a.Args[0])
		snk, ok2 := asInt(a.Args[1])
		tag, ok3 := asString(a.Args[2])
		if ok1 && ok2 && ok3 {
			pairs[pairKey{source: fact.ID(src), sink: fact.ID(snk), tag: DataTag(tag)}] = true
		}
		return nil
	})
	return pairs, err
}

// pathsBetween returns up to max simple paths from source to sink over
// the df adjacency, skipping nodes for which blocked returns true. The
// shortest path comes first (BFS); further paths, when max > 1, are
// enumerated by a bounded DFS in ascending-id neighbor order. Both
// traversals are deterministic, so re-runs over the same graph yield
// byte-equal paths. Returns nil if unreachable.
func pathsBetween(adj map[fact.ID][]fact.ID, source, sink fact.ID, max int, blocked func(fact.ID) bool) [][]fact.ID {
	shortest := bfsPath(adj, source, sink, blocked)
	if shortest == nil {
		return nil
	}
	if max <= 1 {
		return [][]fact.ID{shortest}
	}

	seen := map[string]bool{pathKey(shortest): true}
	paths := [][]fact.ID{shortest}
	onPath := map[fact.ID]bool{source: true}
	var walk func(cur fact.ID, path []fact.ID)
	walk = func(cur fact.ID, path []fact.ID) {
		if len(paths) >= max {
			return
		}
		if cur == sink {
			if k := pathKey(path); !seen[k] {
				seen[k] = true
				paths = append(paths, append([]fact.ID(nil), path...))
			}
			return
		}
		next := append([]fact.ID(nil), adj[cur]...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, n := range next {
			if onPath[n] || (blocked != nil && blocked(n)) {
				continue
			}
			onPath[n] = true
			walk(n, append(path, n))
			delete(onPath, n)
		}
	}
	walk(source, []fact.ID{source})
	return paths
}

func pathKey(path []fact.ID) string {
	var b bytes.Buffer
	for _, id := range path {
		fmt.Fprintf(&b, "%d,", id)
	}
	return b.String()
}

// bfsPath finds the shortest path from source to sink, breadth-first
// with a deterministic (ascending-id) visit order.
func bfsPath(adj map[fact.ID][]fact.ID, source, sink fact.ID, blocked func(fact.ID) bool) []fact.ID {
	if source == sink {
		return []fact.ID{source}
	}
	parent := map[fact.ID]fact.ID{source: source}
	queue := []fact.ID{source}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		next := append([]fact.ID(nil), adj[cur]...)
		sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
		for _, n := range next {
			if _, visited := parent[n]; visited {
				continue
			}
			if blocked != nil && blocked(n) {
				continue
			}
			parent[n] = cur
			if n == sink {
				return reconstruct(parent, source, sink)
			}
			queue = append(queue, n)
		}
	}
	return nil
}

func reconstruct(parent map[fact.ID]fact.ID, source, sink fact.ID) []fact.ID {
	var path []fact.ID
	for n := sink; ; {
		path = append(path, n)
		if n == source {
			break
		}
		n = parent[n]
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}

// confidence is 1/(1+pathLength), weighted 0.5x per sanitizer crossed
// and 0.8x when the source match was a pattern rather than an exact
// identifier. Deterministic by construction.
func confidence(e *edb, key pairKey, path []fact.ID, sanitized bool) float64 {
	pathLen := len(path) - 1
	c := 1.0 / float64(1+pathLen)
	if sanitized {
		sanitizerCount := 0
		for _, v := range path {
			if e.sanitized[v][key.tag] {
				sanitizerCount++
			}
		}
		if sanitizerCount == 0 {
			sanitizerCount = 1 // sanitized by construction (permissive-only pair); weight at least once
		}
		for i := 0; i < sanitizerCount; i++ {
			c *= 0.5
		}
	}
	if !e.exact[key.source][key.tag] {
		c *= 0.8
	}
	return c
}

func asInt(t ast.BaseTerm) (int64, bool) {
	c, ok := t.(ast.Constant)
	if !ok || c.Type != ast.NumberType {
		return 0, false
	}
	return c.NumValue, true
}

func asString(t ast.BaseTerm) (string, bool) {
	c, ok := t.(ast.Constant)
	if !ok || c.Type != ast.StringType {
		return "", false
	}
	return c.Symbol, true
}
