package render

import (
	"fmt"
	"sort"
	"strings"

	"bytegraph/internal/callgraph"
)

// Callee categories.
const (
	ProvDecoded    = "decoded"
	ProvOpaque     = "opaque"
	ProvConst      = "const"
	ProvUnresolved = "unresolved"
)

// ClassifyCallee returns the category of a call edge by its callee.
// A nil record treats every named callee as decoded.
func ClassifyCallee(callee string, rec *callgraph.Record) string {
	switch {
	case callee == callgraph.UnknownNode:
		return ProvUnresolved
	case strings.HasPrefix(callee, "<const:"):
		return ProvConst
	case rec != nil && rec.Opaque(callee):
		return ProvOpaque
	}
	return ProvDecoded
}

// edgeColor returns the DOT color for a callee category.
func edgeColor(prov string, t Theme) string {
	switch prov {
	case ProvOpaque:
		return t.EdgeOpaque
	case ProvConst:
		return t.EdgeConst
	case ProvUnresolved:
		return t.EdgeUnresolved
	}
	return t.EdgeDecoded
}

// edgeStyle returns dot style attributes for a callee category.
func edgeStyle(prov string) string {
	switch prov {
	case ProvConst:
		return "dotted"
	case ProvUnresolved:
		return "dashed"
	}
	return "solid"
}

// edgeAttrs scales an edge by its call count.
func edgeAttrs(color, style string, count int) string {
	attrs := fmt.Sprintf("color=%q, style=%q", color, style)
	if count > 1 {
		attrs += fmt.Sprintf(", penwidth=%.1f", 0.5+float64(count)*0.1)
		if count > 2 {
			attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%dx</font>>", color, count)
		}
	}
	return attrs
}

// CallgraphDOT renders a weighted call graph as DOT.
// Decoded functions are boxes clustered by owner; opaque callees and the
// unresolved placeholder are plaintext nodes. Edge width and label follow
// the call count. maxNodes limits the number of decoded function nodes
// rendered (0 = all).
func CallgraphDOT(g *callgraph.Graph, rec *callgraph.Record, title string, t Theme, maxNodes int) string {
	edges := g.Edges()

	var funcs, external []string
	for _, n := range g.Nodes() {
		if ClassifyCallee(n, rec) == ProvDecoded {
			funcs = append(funcs, n)
		} else {
			external = append(external, n)
		}
	}
	if maxNodes > 0 && len(funcs) > maxNodes {
		funcs = funcs[:maxNodes]
	}
	funcSet := make(map[string]bool, len(funcs))
	for _, f := range funcs {
		funcSet[f] = true
	}

	// Group rendered functions by owner for clustering.
	ownerFuncs := make(map[string][]string)
	var noOwner []string
	for _, f := range funcs {
		if owner := ownerOf(f); owner != "" {
			ownerFuncs[owner] = append(ownerFuncs[owner], f)
		} else {
			noOwner = append(noOwner, f)
		}
	}

	var b strings.Builder
	writeHeader(&b, "callgraph", "LR", title, t)

	for _, owner := range sortedKeys(ownerFuncs) {
		inOwner := ownerFuncs[owner]
		if len(inOwner) < 2 {
			// Singletons go at top level.
			noOwner = append(noOwner, inOwner...)
			continue
		}
		fmt.Fprintf(&b, "  subgraph cluster_%s {\n", dotID(owner))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n",
			t.ClusterLabel, dotEscape(owner))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, f := range inOwner {
			label := truncLabel(stripMethodName(f, owner), 50)
			fmt.Fprintf(&b, "    %s [label=%q];\n", dotID(f), label)
		}
		b.WriteString("  }\n")
	}
	sort.Strings(noOwner)
	for _, f := range noOwner {
		fmt.Fprintf(&b, "  %s [label=%q];\n", dotID(f), truncLabel(f, 60))
	}
	b.WriteByte('\n')

	externalSet := make(map[string]bool, len(external))
	for _, name := range external {
		externalSet[name] = true
		fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
			dotID(name), truncLabel(name, 50), t.ExternalText)
	}
	b.WriteByte('\n')

	for _, e := range edges {
		if !funcSet[e.Caller] {
			continue
		}
		if !funcSet[e.Callee] && !externalSet[e.Callee] {
			continue
		}
		prov := ClassifyCallee(e.Callee, rec)
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(e.Caller), dotID(e.Callee),
			edgeAttrs(edgeColor(prov, t), edgeStyle(prov), e.Weight))
	}

	b.WriteString("}\n")
	return b.String()
}

// CallgraphStats summarizes a call graph.
type CallgraphStats struct {
	TotalFunctions int
	OpaqueCallees  int
	TotalEdges     int // distinct caller → callee pairs
	TotalCalls     int // sum of call counts
	Unresolved     int
	UniqueOwners   int
	ProvCounts     map[string]int // call counts per callee category
	TopCallers     []NameCount    // sorted desc
	TopCallees     []NameCount    // sorted desc
	TopOwners      []NameCount    // sorted desc by function count
}

// NameCount pairs a name with a count.
type NameCount struct {
	Name  string
	Count int
}

// ComputeStats computes call graph statistics.
func ComputeStats(g *callgraph.Graph, rec *callgraph.Record, unresolved []callgraph.Unresolved) CallgraphStats {
	stats := CallgraphStats{
		Unresolved: len(unresolved),
		ProvCounts: make(map[string]int),
	}

	ownerCount := make(map[string]int)
	for _, n := range g.Nodes() {
		switch ClassifyCallee(n, rec) {
		case ProvDecoded:
			stats.TotalFunctions++
			if owner := ownerOf(n); owner != "" {
				ownerCount[owner]++
			}
		case ProvOpaque:
			stats.OpaqueCallees++
		}
	}
	stats.UniqueOwners = len(ownerCount)

	callerCount := make(map[string]int)
	calleeCount := make(map[string]int)
	for _, e := range g.Edges() {
		stats.TotalEdges++
		stats.TotalCalls += e.Weight
		stats.ProvCounts[ClassifyCallee(e.Callee, rec)] += e.Weight
		callerCount[e.Caller] += e.Weight
		calleeCount[e.Callee] += e.Weight
	}

	stats.TopCallers = topNMap(callerCount, 20)
	stats.TopCallees = topNMap(calleeCount, 20)
	stats.TopOwners = topNMap(ownerCount, 30)
	return stats
}

// topNMap returns the top N entries from a map, sorted descending by count
// and then by name.
func topNMap(m map[string]int, n int) []NameCount {
	entries := make([]NameCount, 0, len(m))
	for name, count := range m {
		entries = append(entries, NameCount{name, count})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Count != entries[j].Count {
			return entries[i].Count > entries[j].Count
		}
		return entries[i].Name < entries[j].Name
	})
	if len(entries) > n {
		entries = entries[:n]
	}
	return entries
}
