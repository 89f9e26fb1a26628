package render

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"bytegraph/internal/callgraph"
)

// OwnergraphDOT renders an owner-level call graph where each owner (module
// or class prefix) is one node and edges aggregate calls between owners.
// maxNodes limits rendered owners (0 = all). Names without an owner are
// grouped under "(toplevel)". Opaque and unresolved callees are ignored.
func OwnergraphDOT(g *callgraph.Graph, rec *callgraph.Record, title string, t Theme, maxNodes int) string {
	const toplevel = "(toplevel)"
	owner := func(name string) string {
		if o := ownerOf(name); o != "" {
			return o
		}
		return toplevel
	}

	memberCount := make(map[string]int)
	for _, n := range g.Nodes() {
		if ClassifyCallee(n, rec) == ProvDecoded {
			memberCount[owner(n)]++
		}
	}

	type ownerEdge struct {
		from, to string
	}
	counts := make(map[ownerEdge]int)
	for _, e := range g.Edges() {
		if ClassifyCallee(e.Callee, rec) != ProvDecoded {
			continue
		}
		src, dst := owner(e.Caller), owner(e.Callee)
		if src == dst {
			continue // skip intra-owner calls
		}
		counts[ownerEdge{src, dst}] += e.Weight
	}

	involvement := make(map[string]int)
	for oe, c := range counts {
		involvement[oe.from] += c
		involvement[oe.to] += c
	}

	type ranked struct {
		name        string
		involvement int
	}
	rank := make([]ranked, 0, len(involvement))
	for name, inv := range involvement {
		rank = append(rank, ranked{name, inv})
	}
	sort.Slice(rank, func(i, j int) bool {
		if rank[i].involvement != rank[j].involvement {
			return rank[i].involvement > rank[j].involvement
		}
		return rank[i].name < rank[j].name
	})
	limit := len(rank)
	if maxNodes > 0 && limit > maxNodes {
		limit = maxNodes
	}
	renderSet := make(map[string]bool, limit)
	maxMembers := 1
	for _, r := range rank[:limit] {
		renderSet[r.name] = true
		if c := memberCount[r.name]; c > maxMembers {
			maxMembers = c
		}
	}

	var b strings.Builder
	writeHeader(&b, "ownergraph", "LR", title, t)

	for _, r := range rank[:limit] {
		members := memberCount[r.name]
		// Scale node height by member count (log scale).
		height := 0.4 + 0.3*math.Log2(float64(members)+1)/math.Log2(float64(maxMembers)+1)
		label := fmt.Sprintf("<<font point-size=\"10\">%s</font><br/><font point-size=\"7\" color=\"%s\">%d functions</font>>",
			dotEscape(r.name), t.ExternalText, members)
		if r.name == toplevel {
			fmt.Fprintf(&b, "  %s [label=%s, fillcolor=%q, height=%.2f];\n", dotID(r.name), label, t.OpaqueFill, height)
		} else {
			fmt.Fprintf(&b, "  %s [label=%s, height=%.2f];\n", dotID(r.name), label, height)
		}
	}
	b.WriteByte('\n')

	var keys []ownerEdge
	maxCount := 1
	for oe, c := range counts {
		if !renderSet[oe.from] || !renderSet[oe.to] {
			continue
		}
		keys = append(keys, oe)
		if c > maxCount {
			maxCount = c
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].from != keys[j].from {
			return keys[i].from < keys[j].from
		}
		return keys[i].to < keys[j].to
	})
	for _, oe := range keys {
		c := counts[oe]
		pw := 0.5 + 2.0*math.Log2(float64(c)+1)/math.Log2(float64(maxCount)+1)
		attrs := fmt.Sprintf("penwidth=%.1f, color=%q", pw, t.EdgeDecoded)
		if c > 1 {
			attrs += fmt.Sprintf(", label=<<font point-size=\"7\" color=\"%s\">%d</font>>", t.ExternalText, c)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(oe.from), dotID(oe.to), attrs)
	}

	b.WriteString("}\n")
	return b.String()
}
