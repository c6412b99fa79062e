package model

import (
	"fmt"
	"sort"
	"strconv"

	set "github.com/hashicorp/go-set/v3"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/logging"
	"hodeiscan/internal/store"
)

// Builder assembles semantic models from a frozen fact store. It holds no
// mutable state of its own; Build is a pure function of its arguments.
type Builder struct{}

// NewBuilder returns a ready-to-use Builder.
func NewBuilder() *Builder { return &Builder{} }

// Build materializes one Model per Function fact in the store, all
// sharing a single ScopeTree and CouplingGraph. The coupling graph
// starts empty, keyed on function/class fact ids; internal/connascence
// populates it.
func (b *Builder) Build(s *store.Store) (map[fact.ID]*Model, error) {
	log := logging.Get(logging.CategoryModel)

	scopeTree, err := b.buildScopeTree(s)
	if err != nil {
		return nil, err
	}

	coupling := &CouplingGraph{Nodes: map[fact.ID]bool{}}

	funcs := s.Query(store.Pattern{Kind: fact.KindFunction})
	models := make(map[fact.ID]*Model)
	for f, ok := funcs.Next(); ok; f, ok = funcs.Next() {
		coupling.Nodes[f.ID] = true

		cfg, err := b.buildCFG(s, f.ID)
		if err != nil {
			return nil, fmt.Errorf("build CFG for function %d: %w", f.ID, err)
		}
		dfg, err := b.buildDFG(s, f.ID, cfg)
		if err != nil {
			return nil, fmt.Errorf("build DFG for function %d: %w", f.ID, err)
		}
		models[f.ID] = &Model{
			Function: f.ID,
			CFG:      cfg,
			DFG:      dfg,
			Scope:    scopeTree,
			Coupling: coupling,
		}
	}
	log.Debugf("built semantic model for %d functions", len(models))
	return models, nil
}

// entryHandle is the synthesized entry block's handle. Extractor block
// ids are used as handles unchanged, so a ControlFlowEdge whose from is
// 0 leaves the entry block.
const entryHandle BlockHandle = 0

func (b *Builder) buildCFG(s *store.Store, funcID fact.ID) (*CFG, error) {
	edges := s.Query(store.Pattern{
		Kind:  fact.KindControlFlowEdge,
		Attrs: map[string]fact.Attr{"owner_function": fact.Ref(funcID)},
	})

	g := &CFG{
		OwnerFunc: funcID,
		Entry:     entryHandle,
		Blocks:    map[BlockHandle]*BasicBlock{entryHandle: {Handle: entryHandle, OwnerFunc: funcID, IsEntry: true}},
		Out:       map[BlockHandle][]CFGEdge{},
		In:        map[BlockHandle][]CFGEdge{},
	}

	hasIncoming := map[BlockHandle]bool{}
	for e, ok := edges.Next(); ok; e, ok = edges.Next() {
		from := BlockHandle(e.Attributes["from"].Int)
		to := BlockHandle(e.Attributes["to"].Int)
		kind := EdgeKind(e.Attributes["edge_kind"].Str)

		g.ensureBlock(from, funcID)
		g.ensureBlock(to, funcID)

		ce := CFGEdge{From: from, To: to, Kind: kind}
		g.Out[from] = append(g.Out[from], ce)
		g.In[to] = append(g.In[to], ce)
		if kind != EdgeException {
			hasIncoming[to] = true
		}
	}

	// Synthesize entry's successors: any block with no predecessors from
	// within the function (other than entry itself) hangs directly off
	// entry.
	for handle, blk := range g.Blocks {
		if handle == entryHandle {
			continue
		}
		if !hasIncoming[handle] {
			ce := CFGEdge{From: entryHandle, To: handle, Kind: EdgeFallThrough}
			g.Out[entryHandle] = append(g.Out[entryHandle], ce)
			g.In[handle] = append(g.In[handle], ce)
		}
		_ = blk
	}

	// Exit blocks: no outgoing non-exception edges.
	for handle, blk := range g.Blocks {
		exit := true
		for _, oe := range g.Out[handle] {
			if oe.Kind != EdgeException {
				exit = false
				break
			}
		}
		blk.IsExit = exit
	}
	if len(g.Blocks) == 1 {
		g.Blocks[entryHandle].IsExit = true // body-less function: entry only
	}

	b.markReachable(g)
	return g, nil
}

func (g *CFG) ensureBlock(h BlockHandle, owner fact.ID) {
	if _, ok := g.Blocks[h]; !ok {
		g.Blocks[h] = &BasicBlock{Handle: h, OwnerFunc: owner}
	}
}

// markReachable walks the CFG from its entry block, marking every
// reached block.
func (b *Builder) markReachable(g *CFG) {
	visited := set.New[BlockHandle](len(g.Blocks))
	stack := []BlockHandle{g.Entry}
	for len(stack) > 0 {
		h := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited.Contains(h) {
			continue
		}
		visited.Insert(h)
		g.Blocks[h].Reachable = true
		for _, e := range g.Out[h] {
			if !visited.Contains(e.To) {
				stack = append(stack, e.To)
			}
		}
	}
}

// buildDFG computes reaching definitions per CFG block via the forward
// fixed-point RD_out(B) = GEN(B) ∪ (RD_in(B) \ KILL(B)), worklist in
// reverse post-order. Termination is guaranteed: the lattice
// of def-handle sets over a finite block set is finite and the
// transfer function is monotone.
func (b *Builder) buildDFG(s *store.Store, funcID fact.ID, cfg *CFG) (*DFG, error) {
	vars := s.Query(store.Pattern{
		Kind:  fact.KindVariable,
		Attrs: map[string]fact.Attr{"owner_function": fact.Ref(funcID)},
	})

	dfg := &DFG{OwnerFunc: funcID, Nodes: map[DataHandle]*DataNode{}, DefUse: map[DataHandle][]DataHandle{}}
	nameOf := map[DataHandle]string{}
	var defs, uses []DataHandle
	var next DataHandle
	for v, ok := vars.Next(); ok; v, ok = vars.Next() {
		h := next
		next++
		kind := DataUse
		if v.Attributes["def_or_use"].Str == string(DataDef) {
			kind = DataDef
		}
		node := &DataNode{
			Handle:   h,
			Variable: v.ID,
			Block:    BlockHandle(v.Attributes["block"].Int),
			Kind:     kind,
		}
		if _, ok := cfg.Blocks[node.Block]; !ok {
			return nil, fmt.Errorf("DFG node for variable %d references CFG block %d which does not exist", v.ID, node.Block)
		}
		dfg.Nodes[h] = node
		nameOf[h] = v.Attributes["name"].Str
		if kind == DataDef {
			defs = append(defs, h)
		} else {
			uses = append(uses, h)
		}
	}

	genOf := map[BlockHandle][]DataHandle{}
	for _, d := range defs {
		b := dfg.Nodes[d].Block
		genOf[b] = append(genOf[b], d)
	}
	killOf := map[BlockHandle][]DataHandle{}
	for b, gens := range genOf {
		names := set.New[string](len(gens))
		for _, d := range gens {
			names.Insert(nameOf[d])
		}
		for _, d := range defs {
			if dfg.Nodes[d].Block != b && names.Contains(nameOf[d]) {
				killOf[b] = append(killOf[b], d)
			}
		}
	}

	order := reversePostOrder(cfg)
	rdIn := map[BlockHandle]*set.Set[DataHandle]{}
	rdOut := map[BlockHandle]*set.Set[DataHandle]{}
	for h := range cfg.Blocks {
		rdIn[h] = set.New[DataHandle](0)
		rdOut[h] = set.New[DataHandle](0)
	}

	changed := true
	for changed {
		changed = false
		for _, h := range order {
			in := set.New[DataHandle](0)
			for _, pe := range cfg.In[h] {
				in.InsertSet(rdOut[pe.From])
			}
			out := set.New[DataHandle](0)
			out.InsertSlice(genOf[h])
			killSet := set.New[DataHandle](0)
			killSet.InsertSlice(killOf[h])
			for _, d := range in.Slice() {
				if !killSet.Contains(d) {
					out.Insert(d)
				}
			}
			if !out.Equal(rdOut[h]) {
				changed = true
			}
			rdIn[h] = in
			rdOut[h] = out
		}
	}

	for _, u := range uses {
		un := dfg.Nodes[u]
		reach := set.New[DataHandle](0)
		reach.InsertSet(rdIn[un.Block])
		reach.InsertSlice(genOf[un.Block])
		for _, d := range reach.Slice() {
			if d != u && nameOf[d] == nameOf[u] {
				dfg.DefUse[d] = append(dfg.DefUse[d], u)
			}
		}
	}
	for d := range dfg.DefUse {
		sort.Slice(dfg.DefUse[d], func(i, j int) bool { return dfg.DefUse[d][i] < dfg.DefUse[d][j] })
	}
	return dfg, nil
}

// reversePostOrder numbers CFG blocks via a DFS from entry; blocks
// unreachable from entry are appended afterward so the fixed-point loop
// still covers disconnected components from dead code.
func reversePostOrder(g *CFG) []BlockHandle {
	visited := set.New[BlockHandle](len(g.Blocks))
	var post []BlockHandle
	var visit func(BlockHandle)
	visit = func(h BlockHandle) {
		if visited.Contains(h) {
			return
		}
		visited.Insert(h)
		for _, e := range g.Out[h] {
			visit(e.To)
		}
		post = append(post, h)
	}
	visit(g.Entry)
	for h := range g.Blocks {
		visit(h)
	}
	// reverse
	order := make([]BlockHandle, len(post))
	for i, h := range post {
		order[len(post)-1-i] = h
	}
	return order
}

// buildScopeTree assembles the whole-program lexical scope tree from
// the lexical-scope Annotation facts the extractor emits, rejecting
// cyclic parent chains with a visited-set guard during the parent walk.
func (b *Builder) buildScopeTree(s *store.Store) (*ScopeTree, error) {
	tree := &ScopeTree{Nodes: map[ScopeHandle]*Scope{}}

	parents := s.Query(store.Pattern{
		Kind:  fact.KindAnnotation,
		Attrs: map[string]fact.Attr{"key": fact.String("scope_parent")},
	})
	for a, ok := parents.Next(); ok; a, ok = parents.Next() {
		h := ScopeHandle(a.Attributes["scope"].Int)
		val := a.Attributes["value"].Str
		n := &Scope{Handle: h}
		if val == "" {
			n.IsRoot = true
			n.Parent = h
			tree.Root = h
		} else {
			parentID, err := strconv.Atoi(val)
			if err != nil {
				return nil, &fact.SchemaError{Kind: fact.KindAnnotation, Attribute: "value", Reason: "scope_parent value is not a valid scope id"}
			}
			n.Parent = ScopeHandle(parentID)
		}
		tree.Nodes[h] = n
	}

	declares := s.Query(store.Pattern{
		Kind:  fact.KindAnnotation,
		Attrs: map[string]fact.Attr{"key": fact.String("scope_declares")},
	})
	for a, ok := declares.Next(); ok; a, ok = declares.Next() {
		h := ScopeHandle(a.Attributes["scope"].Int)
		n, ok := tree.Nodes[h]
		if !ok {
			return nil, &fact.SchemaError{Kind: fact.KindAnnotation, Attribute: "scope", Reason: "scope_declares references an unknown scope"}
		}
		n.Declares = append(n.Declares, a.Attributes["value"].Str)
	}

	for h := range tree.Nodes {
		if err := validateScopeAcyclic(tree, h); err != nil {
			return nil, err
		}
	}
	return tree, nil
}

func validateScopeAcyclic(tree *ScopeTree, start ScopeHandle) error {
	visited := set.New[ScopeHandle](0)
	h := start
	for {
		if visited.Contains(h) {
			return &fact.SchemaError{Kind: fact.KindAnnotation, Reason: "scope tree contains a cycle"}
		}
		visited.Insert(h)
		n, ok := tree.Nodes[h]
		if !ok {
			return &fact.SchemaError{Kind: fact.KindAnnotation, Reason: "scope references a parent scope that does not exist"}
		}
		if n.IsRoot {
			return nil
		}
		h = n.Parent
	}
}
