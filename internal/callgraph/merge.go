package callgraph

import (
	"fmt"
	"sort"
)

// Merge unions per-function subgraphs into one graph. Vertices are matched
// by label and edge weights are summed. Known names are added first so that
// opaque leaves without edges still appear.
//
// Keys and known names are visited in sorted order, so the result does not
// depend on map iteration or on the order of known.
func Merge(subgraphs map[string]*Graph, known []string) *Graph {
	out := NewGraph()

	names := append([]string(nil), known...)
	sort.Strings(names)
	for _, n := range names {
		out.AddNode(n)
	}

	keys := make([]string, 0, len(subgraphs))
	for k := range subgraphs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sub := subgraphs[k]
		if sub == nil {
			continue
		}
		nodes := sub.Nodes()
		sort.Strings(nodes)
		for _, n := range nodes {
			out.AddNode(n)
		}
		for _, e := range sub.Edges() {
			out.AddEdge(e.Caller, e.Callee, e.Weight)
		}
	}
	return out
}

// MergeResults merges the graphs of independent runs. Subgraphs are keyed
// by run position, so the same function expanded by two runs contributes
// its calls twice.
func MergeResults(results []*Result) *Graph {
	subgraphs := make(map[string]*Graph)
	seen := make(map[string]bool)
	var known []string
	for i, res := range results {
		for fn, sub := range res.Subgraphs {
			subgraphs[fmt.Sprintf("%04d/%s", i, fn)] = sub
		}
		for _, n := range res.Known {
			if !seen[n] {
				seen[n] = true
				known = append(known, n)
			}
		}
	}
	return Merge(subgraphs, known)
}
