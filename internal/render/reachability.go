package render

import (
	"fmt"
	"sort"
	"strings"

	"bytegraph/internal/callgraph"
)

// FindEntryPoints returns decoded functions that no other function calls.
// Self-calls do not count as incoming edges.
func FindEntryPoints(g *callgraph.Graph, rec *callgraph.Record) []string {
	called := make(map[string]bool)
	for _, e := range g.Edges() {
		if e.Caller != e.Callee {
			called[e.Callee] = true
		}
	}

	var entries []string
	for _, n := range g.Nodes() {
		if ClassifyCallee(n, rec) != ProvDecoded {
			continue
		}
		if !called[n] {
			entries = append(entries, n)
		}
	}
	sort.Strings(entries)
	return entries
}

// ReachableSet performs BFS from entry points along call edges and returns
// the set of all reachable names.
func ReachableSet(entryPoints []string, g *callgraph.Graph) map[string]bool {
	adj := make(map[string][]string)
	for _, e := range g.Edges() {
		adj[e.Caller] = append(adj[e.Caller], e.Callee)
	}

	reachable := make(map[string]bool)
	queue := make([]string, 0, len(entryPoints))
	for _, ep := range entryPoints {
		if !reachable[ep] {
			reachable[ep] = true
			queue = append(queue, ep)
		}
	}

	for len(queue) > 0 {
		fn := queue[0]
		queue = queue[1:]
		for _, target := range adj[fn] {
			if !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}
	return reachable
}

// ReachabilityDOT renders the call graph filtered to the reachable set.
// Entry points are highlighted. Only edges between reachable decoded
// functions are shown.
func ReachabilityDOT(g *callgraph.Graph, rec *callgraph.Record, reachable map[string]bool, entryPoints []string, title string, t Theme) string {
	entrySet := make(map[string]bool, len(entryPoints))
	for _, ep := range entryPoints {
		entrySet[ep] = true
	}

	var edges []callgraph.Edge
	refNodes := make(map[string]bool)
	for _, e := range g.Edges() {
		if !reachable[e.Caller] || !reachable[e.Callee] {
			continue
		}
		if ClassifyCallee(e.Callee, rec) != ProvDecoded {
			continue
		}
		edges = append(edges, e)
		refNodes[e.Caller] = true
		refNodes[e.Callee] = true
	}
	// Also include entry points even if they have no edges.
	for _, ep := range entryPoints {
		refNodes[ep] = true
	}

	ownerFuncs := make(map[string][]string)
	var noOwner []string
	for _, name := range sortedKeys(refNodes) {
		if owner := ownerOf(name); owner != "" {
			ownerFuncs[owner] = append(ownerFuncs[owner], name)
		} else {
			noOwner = append(noOwner, name)
		}
	}

	var b strings.Builder
	writeHeader(&b, "reachable", "LR", title, t)

	writeNode := func(name string) {
		id := dotID(name)
		label := truncLabel(name, 50)
		if entrySet[name] {
			fmt.Fprintf(&b, "    %s [label=%q, penwidth=1.5, color=%q];\n", id, label, t.EntryBorder)
		} else {
			fmt.Fprintf(&b, "    %s [label=%q];\n", id, label)
		}
	}

	for _, owner := range sortedKeys(ownerFuncs) {
		names := ownerFuncs[owner]
		if len(names) < 2 {
			noOwner = append(noOwner, names...)
			continue
		}
		fmt.Fprintf(&b, "  subgraph cluster_%s {\n", dotID(owner))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(owner))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			writeNode(name)
		}
		b.WriteString("  }\n")
	}
	sort.Strings(noOwner)
	for _, name := range noOwner {
		b.WriteString("  ")
		writeNode(name)
	}
	b.WriteByte('\n')

	for _, e := range edges {
		attrs := fmt.Sprintf("color=%q", t.EdgeDecoded)
		if e.Weight > 1 {
			attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(e.Weight)*0.1)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(e.Caller), dotID(e.Callee), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
