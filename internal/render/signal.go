package render

import (
	"fmt"
	"sort"
	"strings"

	"bytegraph/internal/signal"
)

const maxFindingsPerFunc = 5

// SignalDOT renders the signal and context functions of g, grouped by owner,
// with call edges between them and each signal function's findings as leaf
// nodes. Returns "" when g has no signal function.
func SignalDOT(g *signal.SignalGraph, title string, t Theme) string {
	funcs := make(map[string]*signal.SignalFunc)
	for i := range g.Funcs {
		if g.Funcs[i].Role != "" {
			funcs[g.Funcs[i].Name] = &g.Funcs[i]
		}
	}
	if g.Stats.SignalFuncs == 0 || len(funcs) == 0 {
		return ""
	}

	var b strings.Builder
	writeHeader(&b, "signal", "LR", title, t)

	owners := make(map[string][]string)
	for name := range funcs {
		owners[ownerOf(name)] = append(owners[ownerOf(name)], name)
	}
	writeNode := func(indent string, f *signal.SignalFunc) {
		label := truncLabel(f.Name, 40)
		var attrs string
		if f.Role == "signal" {
			switch f.Severity {
			case signal.SeverityHigh:
				attrs = `, fillcolor="#FCE4EC", color="#C62828", penwidth=1.5, fontcolor="#C62828"`
			case signal.SeverityMedium:
				attrs = `, fillcolor="#FFF3E0", color="#E65100", penwidth=1.2, fontcolor="#E65100"`
			default:
				attrs = `, fillcolor="#E3F2FD", color="#1565C0", penwidth=1.0`
			}
			label += "\\n" + truncLabel(strings.Join(f.Categories, ","), 30)
		} else {
			attrs = fmt.Sprintf(`, fillcolor=%q, color=%q, fontcolor=%q`, t.OpaqueFill, t.ClusterBorder, t.ClusterLabel)
		}
		if f.IsEntryPoint {
			attrs += fmt.Sprintf(`, color=%q, penwidth=1.5`, t.EntryBorder)
		}
		fmt.Fprintf(&b, "%s%s [label=%q%s];\n", indent, dotID(f.Name), label, attrs)
	}

	for _, owner := range sortedKeys(owners) {
		names := owners[owner]
		sort.Strings(names)
		if owner == "" || len(names) < 2 {
			for _, name := range names {
				writeNode("  ", funcs[name])
			}
			continue
		}
		fmt.Fprintf(&b, "  subgraph cluster_%s {\n", dotID(owner))
		fmt.Fprintf(&b, "    label=<<font point-size=\"8\" color=\"%s\">%s</font>>;\n", t.ClusterLabel, dotEscape(owner))
		fmt.Fprintf(&b, "    style=dotted; color=%q; penwidth=0.3;\n", t.ClusterBorder)
		for _, name := range names {
			writeNode("    ", funcs[name])
		}
		b.WriteString("  }\n")
	}
	b.WriteByte('\n')

	for _, e := range g.Edges {
		if funcs[e.Caller] == nil || funcs[e.Callee] == nil {
			continue
		}
		attrs := fmt.Sprintf("color=%q", t.EdgeDecoded)
		if funcs[e.Callee].Role == "signal" {
			attrs = fmt.Sprintf("color=%q, penwidth=1.0", t.EdgeConst)
		}
		fmt.Fprintf(&b, "  %s -> %s [%s];\n", dotID(e.Caller), dotID(e.Callee), attrs)
	}

	// Findings, deduplicated by value per function.
	n := 0
	for _, f := range g.Funcs {
		if f.Role != "signal" {
			continue
		}
		seen := make(map[string]bool)
		shown := 0
		for _, fd := range f.Findings {
			if seen[fd.Value] {
				continue
			}
			seen[fd.Value] = true
			if shown == maxFindingsPerFunc {
				shown++
				break
			}
			shown++
			id := fmt.Sprintf("finding_%d", n)
			n++
			color := findingColor(fd.Categories)
			shape := "rect"
			if fd.Kind == "call" {
				shape = "cds"
			}
			fmt.Fprintf(&b, "  %s [shape=%s, style=\"filled,rounded\", fillcolor=\"#FFF8E1\", color=%q, penwidth=0.3, fontsize=7, fontcolor=%q, fontname=\"Courier,monospace\", margin=\"0.06,0.03\", height=0.2, label=%q];\n",
				id, shape, color, color, truncLabel(fd.Value, 60))
			fmt.Fprintf(&b, "  %s -> %s [style=dotted, arrowsize=0.3, penwidth=0.4, color=%q];\n", dotID(f.Name), id, color)
		}
		if shown > maxFindingsPerFunc {
			id := fmt.Sprintf("finding_%d", n)
			n++
			fmt.Fprintf(&b, "  %s [shape=plaintext, fontsize=7, fontcolor=%q, label=\"more\"];\n", id, t.ClusterLabel)
			fmt.Fprintf(&b, "  %s -> %s [style=dotted, arrowsize=0.3, penwidth=0.4];\n", dotID(f.Name), id)
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func findingColor(cats []string) string {
	switch signal.MaxSeverity(cats) {
	case signal.SeverityHigh:
		return "#C62828"
	case signal.SeverityMedium:
		return "#0B3D91"
	}
	return "#C2185B"
}
