package render

import (
	"fmt"
	"strings"

	"bytegraph/internal/depgraph"
)

// DepgraphDOT renders a module dependency graph as DOT. Local modules are
// boxes, the entry module is highlighted, external libraries are plaintext.
func DepgraphDOT(g *depgraph.Graph, title string, t Theme) string {
	var b strings.Builder
	writeHeader(&b, "deps", "LR", title, t)

	for _, n := range g.Nodes() {
		id := dotID(n.Name)
		label := truncLabel(n.Name, 60)
		switch {
		case n.Name == g.Entry:
			fmt.Fprintf(&b, "  %s [label=%q, penwidth=1.5, color=%q];\n", id, label, t.EntryBorder)
		case n.Kind == depgraph.LocalFile:
			fmt.Fprintf(&b, "  %s [label=%q];\n", id, label)
		default:
			fmt.Fprintf(&b, "  %s [label=%q, shape=plaintext, style=\"\", fillcolor=none, fontcolor=%q, fontsize=8];\n",
				id, label, t.ExternalText)
		}
	}
	b.WriteByte('\n')

	for _, e := range g.Edges() {
		color := t.EdgeDecoded
		if n, ok := g.Node(e.To); ok && n.Kind == depgraph.ExternalLibrary {
			color = t.EdgeOpaque
		}
		fmt.Fprintf(&b, "  %s -> %s [color=%q];\n", dotID(e.From), dotID(e.To), color)
	}

	b.WriteString("}\n")
	return b.String()
}
