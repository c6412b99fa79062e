package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/store"
)

func newFuncStore(t *testing.T) (*store.Store, fact.ID) {
	t.Helper()
	s, err := store.New(fact.DefaultSchema())
	require.NoError(t, err)
	fnID, err := s.Insert(fact.Fact{Kind: fact.KindFunction, Attributes: map[string]fact.Attr{"name": fact.String("f"), "package": fact.String("pkg")}})
	require.NoError(t, err)
	return s, fnID
}

// linear CFG: entry(0) -> block1 -> block2, x defined in block1, used in block2.
func TestBuildCFGAndDFG_Linear(t *testing.T) {
	s, fnID := newFuncStore(t)

	_, err := s.Insert(fact.Fact{
		Kind: fact.KindControlFlowEdge,
		Attributes: map[string]fact.Attr{
			"from": fact.Int(0), "to": fact.Int(1),
			"owner_function": fact.Ref(fnID), "edge_kind": fact.String(string(EdgeFallThrough)),
		},
	})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{
		Kind: fact.KindControlFlowEdge,
		Attributes: map[string]fact.Attr{
			"from": fact.Int(1), "to": fact.Int(2),
			"owner_function": fact.Ref(fnID), "edge_kind": fact.String(string(EdgeFallThrough)),
		},
	})
	require.NoError(t, err)

	_, err = s.Insert(fact.Fact{
		Kind: fact.KindVariable,
		Attributes: map[string]fact.Attr{
			"name": fact.String("x"), "owner_function": fact.Ref(fnID),
			"block": fact.Int(1), "def_or_use": fact.String(string(DataDef)),
		},
	})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{
		Kind: fact.KindVariable,
		Attributes: map[string]fact.Attr{
			"name": fact.String("x"), "owner_function": fact.Ref(fnID),
			"block": fact.Int(2), "def_or_use": fact.String(string(DataUse)),
		},
	})
	require.NoError(t, err)

	s.Freeze()

	models, err := NewBuilder().Build(s)
	require.NoError(t, err)
	m, ok := models[fnID]
	require.True(t, ok)

	assert.Len(t, m.CFG.Blocks, 3)
	assert.True(t, m.CFG.Blocks[0].IsEntry)
	assert.True(t, m.CFG.Blocks[BlockHandle(2)].IsExit)
	for _, blk := range m.CFG.Blocks {
		assert.True(t, blk.Reachable)
	}

	require.Len(t, m.DFG.Nodes, 2)
	var defHandle DataHandle
	for h, n := range m.DFG.Nodes {
		if n.Kind == DataDef {
			defHandle = h
		}
	}
	require.Contains(t, m.DFG.DefUse, defHandle)
	assert.Len(t, m.DFG.DefUse[defHandle], 1)
}

func TestBuildDFG_InvalidBlockReference(t *testing.T) {
	s, fnID := newFuncStore(t)
	_, err := s.Insert(fact.Fact{
		Kind: fact.KindVariable,
		Attributes: map[string]fact.Attr{
			"name": fact.String("x"), "owner_function": fact.Ref(fnID),
			"block": fact.Int(42), "def_or_use": fact.String(string(DataDef)),
		},
	})
	require.NoError(t, err)
	s.Freeze()

	_, err = NewBuilder().Build(s)
	require.Error(t, err)
}

func TestBuildScopeTree(t *testing.T) {
	s, fnID := newFuncStore(t)
	_, err := s.Insert(fact.Fact{
		Kind: fact.KindAnnotation,
		Attributes: map[string]fact.Attr{
			"owner": fact.Ref(fnID), "key": fact.String("scope_parent"),
			"value": fact.String(""), "scope": fact.Int(0),
		},
	})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{
		Kind: fact.KindAnnotation,
		Attributes: map[string]fact.Attr{
			"owner": fact.Ref(fnID), "key": fact.String("scope_parent"),
			"value": fact.String("0"), "scope": fact.Int(1),
		},
	})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{
		Kind: fact.KindAnnotation,
		Attributes: map[string]fact.Attr{
			"owner": fact.Ref(fnID), "key": fact.String("scope_declares"),
			"value": fact.String("x"), "scope": fact.Int(1),
		},
	})
	require.NoError(t, err)
	s.Freeze()

	models, err := NewBuilder().Build(s)
	require.NoError(t, err)
	tree := models[fnID].Scope
	assert.Equal(t, ScopeHandle(0), tree.Root)
	assert.True(t, tree.Nodes[0].IsRoot)
	assert.Equal(t, ScopeHandle(0), tree.Nodes[1].Parent)
	assert.Equal(t, []string{"x"}, tree.Nodes[1].Declares)
}

func TestBuildScopeTree_CycleDetected(t *testing.T) {
	s, fnID := newFuncStore(t)
	_, err := s.Insert(fact.Fact{
		Kind: fact.KindAnnotation,
		Attributes: map[string]fact.Attr{
			"owner": fact.Ref(fnID), "key": fact.String("scope_parent"),
			"value": fact.String("1"), "scope": fact.Int(0),
		},
	})
	require.NoError(t, err)
	_, err = s.Insert(fact.Fact{
		Kind: fact.KindAnnotation,
		Attributes: map[string]fact.Attr{
			"owner": fact.Ref(fnID), "key": fact.String("scope_parent"),
			"value": fact.String("0"), "scope": fact.Int(1),
		},
	})
	require.NoError(t, err)
	s.Freeze()

	_, err = NewBuilder().Build(s)
	require.Error(t, err)
}
