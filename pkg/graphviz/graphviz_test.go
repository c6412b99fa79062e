package graphviz

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"hodeiscan/internal/fact"
	"hodeiscan/internal/model"
)

func TestCFGExport(t *testing.T) {
	g := &model.CFG{
		OwnerFunc: 1,
		Entry:     0,
		Blocks: map[model.BlockHandle]*model.BasicBlock{
			0: {Handle: 0, OwnerFunc: 1, IsEntry: true, Reachable: true},
			1: {Handle: 1, OwnerFunc: 1, IsExit: true, Reachable: true},
		},
		Out: map[model.BlockHandle][]model.CFGEdge{
			0: {{From: 0, To: 1, Kind: model.EdgeFallThrough}},
		},
		In: map[model.BlockHandle][]model.CFGEdge{
			1: {{From: 0, To: 1, Kind: model.EdgeFallThrough}},
		},
	}

	out := CFG(g)
	assert.Contains(t, out, "digraph")
	assert.Contains(t, out, "entry")
	assert.Contains(t, out, "fall_through")
}

func TestCouplingExport(t *testing.T) {
	g := &model.CouplingGraph{Nodes: map[fact.ID]bool{}}
	g.AddEdge(model.CouplingEdge{
		Kind:         model.ConnascencePosition,
		Participants: []fact.ID{1, 2},
		Strength:     model.StrengthMedium,
		Rationale:    "shared positional shape",
	})

	out := Coupling(g)
	assert.Contains(t, out, "graph")
	assert.Contains(t, out, "Position/Medium")
}
