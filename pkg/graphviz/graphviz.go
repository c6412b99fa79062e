// Package graphviz renders a semantic model's CFG, DFG, or
// CouplingGraph to Graphviz DOT for external tooling.
package graphviz

import (
	"fmt"

	"github.com/emicklei/dot"

	"hodeiscan/internal/model"
)

// CFG renders one function's control-flow graph.
func CFG(g *model.CFG) string {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("label", fmt.Sprintf("CFG(function=%d)", g.OwnerFunc))

	nodes := map[model.BlockHandle]dot.Node{}
	for h, blk := range g.Blocks {
		n := graph.Node(fmt.Sprintf("b%d", h))
		label := fmt.Sprintf("block %d", h)
		switch {
		case blk.IsEntry:
			label = "entry"
		case blk.IsExit:
			label += " (exit)"
		}
		if !blk.Reachable {
			label += " (unreachable)"
		}
		n.Attr("label", label)
		nodes[h] = n
	}
	for _, edges := range g.Out {
		for _, e := range edges {
			graph.Edge(nodes[e.From], nodes[e.To]).Attr("label", string(e.Kind))
		}
	}
	return graph.String()
}

// DFG renders one function's data-flow graph.
func DFG(g *model.DFG) string {
	graph := dot.NewGraph(dot.Directed)
	graph.Attr("label", fmt.Sprintf("DFG(function=%d)", g.OwnerFunc))

	nodes := map[model.DataHandle]dot.Node{}
	for h, n := range g.Nodes {
		gn := graph.Node(fmt.Sprintf("d%d", h))
		gn.Attr("label", fmt.Sprintf("%s var=%d block=%d", n.Kind, n.Variable, n.Block))
		nodes[h] = gn
	}
	for from, tos := range g.DefUse {
		for _, to := range tos {
			graph.Edge(nodes[from], nodes[to])
		}
	}
	return graph.String()
}

// Coupling renders the shared coupling graph.
func Coupling(g *model.CouplingGraph) string {
	graph := dot.NewGraph(dot.Undirected)
	nodes := map[string]dot.Node{}
	nodeFor := func(id interface{}) dot.Node {
		key := fmt.Sprintf("%v", id)
		if n, ok := nodes[key]; ok {
			return n
		}
		n := graph.Node(key)
		nodes[key] = n
		return n
	}
	for id := range g.Nodes {
		nodeFor(id)
	}
	for _, e := range g.Edges {
		for i := 0; i < len(e.Participants)-1; i++ {
			graph.Edge(nodeFor(e.Participants[i]), nodeFor(e.Participants[i+1])).
				Attr("label", fmt.Sprintf("%s/%s", e.Kind, e.Strength))
		}
	}
	return graph.String()
}
