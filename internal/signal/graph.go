package signal

import (
	"sort"

	"bytegraph/internal/callgraph"
)

// Finding is one classified call target or string constant.
type Finding struct {
	Func       string   `json:"func"`
	Offset     int      `json:"offset"`
	Kind       string   `json:"kind"` // "call", "string"
	Value      string   `json:"value"`
	Categories []string `json:"categories"`
}

// SignalFunc is a function in the signal graph.
type SignalFunc struct {
	Name         string    `json:"name"`
	Findings     []Finding `json:"findings,omitempty"`
	Categories   []string  `json:"categories"`
	Severity     string    `json:"severity"` // "high", "medium", "low"
	Role         string    `json:"role"`     // "signal", "context", ""
	IsEntryPoint bool      `json:"is_entry_point,omitempty"`
}

// SignalGraph is the complete signal graph.
type SignalGraph struct {
	Funcs []SignalFunc     `json:"funcs"`
	Edges []callgraph.Edge `json:"edges"`
	Stats SignalStats      `json:"stats"`
}

// SignalStats holds summary statistics.
type SignalStats struct {
	TotalFuncs   int            `json:"total_funcs"`
	SignalFuncs  int            `json:"signal_funcs"`
	ContextFuncs int            `json:"context_funcs"`
	TotalEdges   int            `json:"total_edges"`
	Findings     int            `json:"findings"`
	Categories   map[string]int `json:"categories"`
}

// Scan classifies the resolved call sites and string constants of funcs.
// Findings come out in function order, then by offset.
func Scan(funcs []callgraph.FuncInfo) []Finding {
	var out []Finding
	for _, f := range funcs {
		var fs []Finding
		for _, s := range f.Sites {
			if !s.Resolved() {
				continue
			}
			name := s.Name.Dotted()
			if cats := ClassifyCallee(name); len(cats) > 0 {
				fs = append(fs, Finding{Func: f.Name, Offset: s.Offset, Kind: "call", Value: name, Categories: cats})
			}
		}
		for _, inst := range f.Insts {
			if inst.Opname != "LOAD_CONST" {
				continue
			}
			if cats := ClassifyString(inst.Argval); len(cats) > 0 {
				fs = append(fs, Finding{Func: f.Name, Offset: inst.Offset, Kind: "string", Value: inst.Argval, Categories: cats})
			}
		}
		sort.SliceStable(fs, func(i, j int) bool { return fs[i].Offset < fs[j].Offset })
		out = append(out, fs...)
	}
	return out
}

// Summarize counts findings per category.
func Summarize(findings []Finding) map[string]int {
	counts := make(map[string]int)
	for _, f := range findings {
		for _, c := range f.Categories {
			counts[c]++
		}
	}
	return counts
}

// BuildSignalGraph marks every function with a finding as "signal" and every
// function within k call hops of one, in either direction, as "context".
// entryPoints may be nil.
func BuildSignalGraph(funcs []callgraph.FuncInfo, g *callgraph.Graph, k int, entryPoints map[string]bool) *SignalGraph {
	findings := Scan(funcs)

	type funcSignal struct {
		findings   []Finding
		categories map[string]bool
	}
	funcSignals := make(map[string]*funcSignal)
	catCounts := make(map[string]int)
	for _, f := range findings {
		fs, ok := funcSignals[f.Func]
		if !ok {
			fs = &funcSignal{categories: make(map[string]bool)}
			funcSignals[f.Func] = fs
		}
		fs.findings = append(fs.findings, f)
		for _, c := range f.Categories {
			if !fs.categories[c] {
				fs.categories[c] = true
				catCounts[c]++
			}
		}
	}

	var edges []callgraph.Edge
	if g != nil {
		edges = g.Edges()
	}
	fwd := make(map[string][]string)
	rev := make(map[string][]string)
	for _, e := range edges {
		fwd[e.Caller] = append(fwd[e.Caller], e.Callee)
		rev[e.Callee] = append(rev[e.Callee], e.Caller)
	}

	// BFS k hops from signal functions.
	contextSet := make(map[string]bool)
	visited := make(map[string]bool)
	type queueItem struct {
		name  string
		depth int
	}
	var queue []queueItem
	signalNames := make([]string, 0, len(funcSignals))
	for name := range funcSignals {
		signalNames = append(signalNames, name)
	}
	sort.Strings(signalNames)
	for _, name := range signalNames {
		visited[name] = true
		queue = append(queue, queueItem{name, 0})
	}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		if item.depth >= k {
			continue
		}
		for _, adj := range [][]string{fwd[item.name], rev[item.name]} {
			for _, next := range adj {
				if !visited[next] {
					visited[next] = true
					contextSet[next] = true
					queue = append(queue, queueItem{next, item.depth + 1})
				}
			}
		}
	}

	var all []SignalFunc
	for _, f := range funcs {
		sf := SignalFunc{Name: f.Name, IsEntryPoint: entryPoints[f.Name]}
		if fs, ok := funcSignals[f.Name]; ok {
			sf.Role = "signal"
			sf.Findings = fs.findings
			for c := range fs.categories {
				sf.Categories = append(sf.Categories, c)
			}
			sort.Strings(sf.Categories)
			sf.Severity = MaxSeverity(sf.Categories)
		} else if contextSet[f.Name] {
			sf.Role = "context"
		}
		all = append(all, sf)
	}

	// Sort: signal, context, other. Within signal: entry points first, then
	// severity, then category count.
	roleOrd := map[string]int{"signal": 0, "context": 1, "": 2}
	sevOrd := map[string]int{SeverityHigh: 0, SeverityMedium: 1, SeverityLow: 2, "": 3}
	sort.SliceStable(all, func(i, j int) bool {
		si, sj := &all[i], &all[j]
		if si.Role != sj.Role {
			return roleOrd[si.Role] < roleOrd[sj.Role]
		}
		if si.Role == "signal" && si.IsEntryPoint != sj.IsEntryPoint {
			return si.IsEntryPoint
		}
		if si.Severity != sj.Severity {
			return sevOrd[si.Severity] < sevOrd[sj.Severity]
		}
		if len(si.Categories) != len(sj.Categories) {
			return len(si.Categories) > len(sj.Categories)
		}
		return si.Name < sj.Name
	})

	return &SignalGraph{
		Funcs: all,
		Edges: edges,
		Stats: SignalStats{
			TotalFuncs:   len(funcs),
			SignalFuncs:  len(funcSignals),
			ContextFuncs: len(contextSet),
			TotalEdges:   len(edges),
			Findings:     len(findings),
			Categories:   catCounts,
		},
	}
}
