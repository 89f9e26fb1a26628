package render

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"bytegraph/internal/callgraph"
)

// IndexPage is the content of the summary page written next to the graphs.
type IndexPage struct {
	Title       string
	Stats       CallgraphStats
	Unresolved  []callgraph.Unresolved
	EntryPoints []string
	CFGCount    int
	Graphs      []string       // DOT file names present in the output directory
	Signals     map[string]int // finding count per signal category
}

// WriteIndexHTML writes a small HTML page summarizing a call graph run.
func WriteIndexHTML(w io.Writer, p IndexPage) {
	stats := p.Stats
	resolvedPct := 0.0
	resolved := stats.TotalCalls - stats.ProvCounts[ProvUnresolved]
	if total := resolved + stats.Unresolved; total > 0 {
		resolvedPct = float64(resolved) / float64(total) * 100
	}

	fmt.Fprintf(w, `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>%s</title>
<style>
body { font-family: "Helvetica Neue", Helvetica, Arial, sans-serif; font-size: 14px; color: #1A1A1A; background: #F5F5F5; margin: 2em; max-width: 900px; }
h1 { font-size: 18px; font-weight: 600; margin-bottom: 0.5em; }
h2 { font-size: 14px; font-weight: 600; margin-top: 1.5em; border-bottom: 1px solid #ddd; padding-bottom: 4px; }
table { border-collapse: collapse; margin: 0.5em 0; }
th, td { text-align: left; padding: 3px 12px 3px 0; font-size: 13px; }
th { font-weight: 600; }
td.num { text-align: right; font-variant-numeric: tabular-nums; }
.prov { display: inline-block; width: 10px; height: 10px; border-radius: 2px; margin-right: 4px; vertical-align: middle; }
a { color: #0B3D91; }
.bar { height: 8px; border-radius: 2px; display: inline-block; vertical-align: middle; }
.mbar { height: 6px; border-radius: 2px; display: inline-block; vertical-align: middle; background: #0B3D91; }
.ep { font-family: "Courier New", monospace; font-size: 12px; }
</style>
</head>
<body>
`, htmlEscape(p.Title))

	fmt.Fprintf(w, "<h1>%s</h1>\n", htmlEscape(p.Title))

	fmt.Fprintln(w, "<h2>Summary</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintf(w, "<tr><td>Decoded functions</td><td class=\"num\">%d</td></tr>\n", stats.TotalFunctions)
	fmt.Fprintf(w, "<tr><td>Opaque callees</td><td class=\"num\">%d</td></tr>\n", stats.OpaqueCallees)
	fmt.Fprintf(w, "<tr><td>Owners</td><td class=\"num\">%d</td></tr>\n", stats.UniqueOwners)
	fmt.Fprintf(w, "<tr><td>Distinct edges</td><td class=\"num\">%d</td></tr>\n", stats.TotalEdges)
	fmt.Fprintf(w, "<tr><td>Calls</td><td class=\"num\">%d</td></tr>\n", stats.TotalCalls)
	fmt.Fprintf(w, "<tr><td>Unresolved call sites</td><td class=\"num\">%d</td></tr>\n", stats.Unresolved)
	fmt.Fprintf(w, "<tr><td>Resolved</td><td class=\"num\">%.1f%%</td></tr>\n", resolvedPct)
	if p.CFGCount > 0 {
		fmt.Fprintf(w, "<tr><td>CFGs generated</td><td class=\"num\">%d</td></tr>\n", p.CFGCount)
	}
	fmt.Fprintln(w, "</table>")

	fmt.Fprintln(w, "<h2>Callee Categories</h2>")
	fmt.Fprintln(w, "<table>")
	fmt.Fprintln(w, "<tr><th></th><th>Category</th><th>Calls</th><th></th></tr>")
	provLabels := map[string]string{
		ProvDecoded:    "Decoded function",
		ProvOpaque:     "Built-in / external",
		ProvConst:      "Constant receiver",
		ProvUnresolved: "Unresolved placeholder",
	}
	for _, prov := range []string{ProvDecoded, ProvOpaque, ProvConst, ProvUnresolved} {
		count := stats.ProvCounts[prov]
		if count == 0 {
			continue
		}
		color := edgeColor(prov, NASA)
		barW := 0
		if stats.TotalCalls > 0 {
			barW = max(count*200/stats.TotalCalls, 2)
		}
		fmt.Fprintf(w, "<tr><td><span class=\"prov\" style=\"background:%s\"></span></td><td>%s</td><td class=\"num\">%d</td><td><span class=\"bar\" style=\"width:%dpx;background:%s\"></span></td></tr>\n",
			color, provLabels[prov], count, barW, color)
	}
	fmt.Fprintln(w, "</table>")

	if len(p.Graphs) > 0 {
		fmt.Fprintln(w, "<h2>Graphs</h2>")
		fmt.Fprint(w, "<p>")
		for i, name := range p.Graphs {
			if i > 0 {
				fmt.Fprint(w, " | ")
			}
			fmt.Fprintf(w, `<a href="%s">%s</a>`, htmlEscape(name), htmlEscape(name))
		}
		fmt.Fprintln(w, "</p>")
	}

	if len(p.EntryPoints) > 0 {
		fmt.Fprintln(w, "<h2>Entry Points</h2>")
		fmt.Fprintf(w, "<p>%d functions with no incoming calls:</p>\n", len(p.EntryPoints))
		fmt.Fprintln(w, "<table>")
		limit := min(len(p.EntryPoints), 50)
		for _, ep := range p.EntryPoints[:limit] {
			cfgLink := ""
			if p.CFGCount > 0 {
				cfgLink = fmt.Sprintf(` <a href="cfg/%s.dot" style="font-size:11px">[cfg]</a>`, safeFuncNameHTML(ep))
			}
			fmt.Fprintf(w, "<tr><td class=\"ep\">%s%s</td></tr>\n", htmlEscape(ep), cfgLink)
		}
		if len(p.EntryPoints) > limit {
			fmt.Fprintf(w, "<tr><td>... and %d more</td></tr>\n", len(p.EntryPoints)-limit)
		}
		fmt.Fprintln(w, "</table>")
	}

	if len(stats.TopOwners) > 0 {
		fmt.Fprintln(w, "<h2>Top Owners</h2>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Owner</th><th>Functions</th><th></th></tr>")
		maxCount := stats.TopOwners[0].Count
		for _, nc := range stats.TopOwners[:min(len(stats.TopOwners), 20)] {
			barW := max(nc.Count*120/maxCount, 2)
			fmt.Fprintf(w, "<tr><td>%s</td><td class=\"num\">%d</td><td><span class=\"mbar\" style=\"width:%dpx\"></span></td></tr>\n",
				htmlEscape(nc.Name), nc.Count, barW)
		}
		fmt.Fprintln(w, "</table>")
	}

	if len(p.Signals) > 0 {
		cats := make([]string, 0, len(p.Signals))
		for c := range p.Signals {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		fmt.Fprintln(w, "<h2>Signals</h2>")
		fmt.Fprintln(w, "<p>See <a href=\"signals.json\">signals.json</a>.</p>")
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Category</th><th>Findings</th></tr>")
		for _, c := range cats {
			fmt.Fprintf(w, "<tr><td>%s</td><td class=\"num\">%d</td></tr>\n", htmlEscape(c), p.Signals[c])
		}
		fmt.Fprintln(w, "</table>")
	}

	writeNameCounts(w, "Top Callers", "Outgoing", stats.TopCallers)
	writeNameCounts(w, "Top Callees", "Incoming", stats.TopCallees)

	if len(p.Unresolved) > 0 {
		fmt.Fprintln(w, "<h2>Unresolved Call Sites</h2>")
		byReason := make(map[string]int)
		for _, u := range p.Unresolved {
			byReason[reasonClass(u.Reason)]++
		}
		reasons := sortedKeys(byReason)
		sort.SliceStable(reasons, func(i, j int) bool { return byReason[reasons[i]] > byReason[reasons[j]] })
		fmt.Fprintln(w, "<table>")
		fmt.Fprintln(w, "<tr><th>Reason</th><th>Count</th></tr>")
		for _, r := range reasons {
			fmt.Fprintf(w, "<tr><td>%s</td><td class=\"num\">%d</td></tr>\n", htmlEscape(r), byReason[r])
		}
		fmt.Fprintln(w, "</table>")
	}

	fmt.Fprintln(w, "</body></html>")
}

func writeNameCounts(w io.Writer, heading, column string, rows []NameCount) {
	if len(rows) == 0 {
		return
	}
	fmt.Fprintf(w, "<h2>%s</h2>\n", heading)
	fmt.Fprintln(w, "<table>")
	fmt.Fprintf(w, "<tr><th>Function</th><th>%s</th></tr>\n", column)
	for _, nc := range rows[:min(len(rows), 15)] {
		fmt.Fprintf(w, "<tr><td>%s</td><td class=\"num\">%d</td></tr>\n", htmlEscape(nc.Name), nc.Count)
	}
	fmt.Fprintln(w, "</table>")
}

// reasonClass strips offsets and opnames from a resolver reason so that
// similar failures group together.
func reasonClass(reason string) string {
	if i := strings.Index(reason, " at offset"); i > 0 {
		reason = reason[:i]
	}
	if strings.HasPrefix(reason, "opaque producer ") {
		return "opaque producer"
	}
	return reason
}

func htmlEscape(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

// safeFuncNameHTML converts a function name to a safe filename.
// Must match output.SafeFileName.
func safeFuncNameHTML(name string) string {
	r := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
		" ", "_",
	)
	s := r.Replace(name)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
