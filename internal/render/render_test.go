package render

import (
	"bytes"
	"strings"
	"testing"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/disasm"
	"bytegraph/internal/signal"
)

func sampleGraph() (*callgraph.Graph, *callgraph.Record) {
	rec := callgraph.NewRecord()
	body := []disasm.Inst{{Offset: 0, Opname: "RETURN_CONST", Argval: "None"}}
	rec.Add("app.main", body)
	rec.Add("app.Worker.run", body)
	rec.Add("app.Worker.stop", body)
	rec.Add("print", nil)

	g := callgraph.NewGraph()
	g.AddEdge("app.main", "app.Worker.run", 1)
	g.AddEdge("app.main", "print", 3)
	g.AddEdge("app.Worker.run", "app.Worker.stop", 2)
	g.AddEdge("app.Worker.run", callgraph.UnknownNode, 1)
	g.AddEdge("app.Worker.stop", "<const:sep>.join", 1)
	return g, rec
}

func TestCallgraphDOT(t *testing.T) {
	g, rec := sampleGraph()
	dot := CallgraphDOT(g, rec, "demo", NASA, 0)

	if !strings.HasPrefix(dot, "digraph callgraph {") {
		t.Fatalf("unexpected header: %q", dot[:40])
	}
	for _, want := range []string{
		"subgraph cluster_" + dotID("app.Worker"),
		dotID("app.main") + " -> " + dotID("print"),
		"3x",
		`style="dashed"`, // unresolved placeholder
		`style="dotted"`, // constant receiver
		`shape=plaintext`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q", want)
		}
	}

	// Deterministic output.
	if again := CallgraphDOT(g, rec, "demo", NASA, 0); again != dot {
		t.Error("CallgraphDOT output is not stable")
	}
}

func TestCallgraphDOT_MaxNodes(t *testing.T) {
	g, rec := sampleGraph()
	dot := CallgraphDOT(g, rec, "", NASA, 1)
	if strings.Contains(dot, dotID("app.Worker.stop")+" ->") {
		t.Error("edges from functions beyond maxNodes should be dropped")
	}
}

func TestComputeStats(t *testing.T) {
	g, rec := sampleGraph()
	s := ComputeStats(g, rec, []callgraph.Unresolved{{Func: "app.Worker.run", Offset: 4}})
	if s.TotalFunctions != 3 {
		t.Errorf("functions = %d, want 3", s.TotalFunctions)
	}
	if s.OpaqueCallees != 1 {
		t.Errorf("opaque = %d, want 1", s.OpaqueCallees)
	}
	if s.TotalEdges != 5 || s.TotalCalls != 8 {
		t.Errorf("edges/calls = %d/%d, want 5/8", s.TotalEdges, s.TotalCalls)
	}
	if s.ProvCounts[ProvOpaque] != 3 {
		t.Errorf("opaque calls = %d, want 3", s.ProvCounts[ProvOpaque])
	}
	if len(s.TopCallers) == 0 || s.TopCallers[0].Name != "app.main" {
		t.Errorf("top callers = %+v", s.TopCallers)
	}
}

func TestFindEntryPoints(t *testing.T) {
	g, rec := sampleGraph()
	g.AddEdge("app.main", "app.main", 1)
	eps := FindEntryPoints(g, rec)
	if len(eps) != 1 || eps[0] != "app.main" {
		t.Fatalf("entry points = %v, want [app.main]", eps)
	}
	reach := ReachableSet(eps, g)
	for _, n := range []string{"app.main", "app.Worker.run", "app.Worker.stop", "print"} {
		if !reach[n] {
			t.Errorf("%s not reachable", n)
		}
	}
	dot := ReachabilityDOT(g, rec, reach, eps, "reach", NASA)
	if strings.Contains(dot, dotID("print")) {
		t.Error("opaque callees should not appear in the reachability graph")
	}
	if !strings.Contains(dot, "penwidth=1.5") {
		t.Error("entry point not highlighted")
	}
}

func TestOwnergraphDOT(t *testing.T) {
	g, rec := sampleGraph()
	dot := OwnergraphDOT(g, rec, "", NASA, 0)
	if !strings.Contains(dot, dotID("app")+" -> "+dotID("app.Worker")) {
		t.Errorf("missing owner edge:\n%s", dot)
	}
	if strings.Contains(dot, dotID("app.Worker")+" -> "+dotID("app.Worker")) {
		t.Error("intra-owner edge rendered")
	}
}

func TestCFGDOT(t *testing.T) {
	insts := []disasm.Inst{
		{Offset: 0, Opname: "LOAD_FAST", Arg: disasm.IntArg(0), Argval: "x"},
		{Offset: 2, Opname: "POP_JUMP_IF_FALSE", Arg: disasm.IntArg(3), Argval: "6"},
		{Offset: 4, Opname: "RETURN_CONST", Arg: disasm.IntArg(0), Argval: "1"},
		{Offset: 6, Opname: "JUMP_FORWARD", Arg: disasm.IntArg(40), Argval: "90"},
	}
	cfg := disasm.BuildCFG("f", insts)
	dot := CFGDOT(cfg, NASA)
	for _, want := range []string{
		"bb0 -> bb2", "bb0 -> bb1", "B0 @0  branch", "B1 @4  return", "B2 @6  jump",
		">false<", ">true<", "target outside function", "POP_JUMP_IF_FALSE",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("CFG DOT missing %q:\n%s", want, dot)
		}
	}
	if CFGDOT(disasm.BuildCFG("empty", nil), NASA) != "" {
		t.Error("empty CFG should render nothing")
	}
}

func TestCFGDOT_Loop(t *testing.T) {
	// for x in it: f(x)
	insts := []disasm.Inst{
		{Offset: 0, Opname: "LOAD_FAST", Arg: disasm.IntArg(0), Argval: "it"},
		{Offset: 2, Opname: "GET_ITER"},
		{Offset: 4, Opname: "FOR_ITER", Arg: disasm.IntArg(5), Argval: "16"},
		{Offset: 6, Opname: "STORE_FAST", Arg: disasm.IntArg(1), Argval: "x"},
		{Offset: 8, Opname: "LOAD_GLOBAL", Arg: disasm.IntArg(0), Argval: "f"},
		{Offset: 10, Opname: "LOAD_FAST", Arg: disasm.IntArg(1), Argval: "x"},
		{Offset: 12, Opname: "CALL", Arg: disasm.IntArg(1)},
		{Offset: 14, Opname: "JUMP_BACKWARD", Arg: disasm.IntArg(6), Argval: "4"},
		{Offset: 16, Opname: "RETURN_CONST", Arg: disasm.IntArg(0), Argval: "None"},
	}
	dot := CFGDOT(disasm.BuildCFG("loop", insts), NASA)
	for _, want := range []string{
		"B1 @4  for  (loop head)", ">exhausted<", ">next<", "; call",
		"bb2 -> bb1 [color=", "style=dashed",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("CFG DOT missing %q:\n%s", want, dot)
		}
	}
}

func TestBranchLabel(t *testing.T) {
	taken := disasm.Succ{Kind: disasm.ConditionalTaken}
	fall := disasm.Succ{Kind: disasm.ConditionalFallthrough}
	tests := []struct {
		op   string
		s    disasm.Succ
		cond string
		want string
	}{
		{"POP_JUMP_IF_FALSE", taken, "F", "false"},
		{"POP_JUMP_IF_TRUE", taken, "T", "true"},
		{"POP_JUMP_IF_NONE", taken, "T", "is None"},
		{"POP_JUMP_IF_NOT_NONE", taken, "F", "not None"},
		{"POP_JUMP_IF_NOT_NONE", fall, "T", "is None"},
		{"SEND", taken, "T", "done"},
		{"JUMP_IF_NOT_EXC_MATCH", fall, "F", "match"},
	}
	for _, tt := range tests {
		tt.s.Cond = tt.cond
		if got := branchLabel(tt.op, tt.s); got != tt.want {
			t.Errorf("branchLabel(%s, %v) = %q, want %q", tt.op, tt.s.Kind, got, tt.want)
		}
	}
}

func TestWriteIndexHTML(t *testing.T) {
	g, rec := sampleGraph()
	var buf bytes.Buffer
	WriteIndexHTML(&buf, IndexPage{
		Title:       "app <main>",
		Stats:       ComputeStats(g, rec, nil),
		Unresolved:  []callgraph.Unresolved{{Reason: "opaque producer BINARY_SUBSCR at offset 4"}},
		EntryPoints: []string{"app.main"},
		CFGCount:    2,
		Graphs:      []string{"callgraph.dot"},
		Signals:     map[string]int{"exec": 2},
	})
	html := buf.String()
	for _, want := range []string{"app &lt;main&gt;", `href="callgraph.dot"`, "cfg/app.main.dot", "opaque producer", "<td>exec</td>"} {
		if !strings.Contains(html, want) {
			t.Errorf("HTML missing %q", want)
		}
	}
}

func TestSignalDOT(t *testing.T) {
	g, _ := sampleGraph()
	funcs := []callgraph.FuncInfo{
		{Name: "app.main"},
		{Name: "app.Worker.run", Sites: []disasm.CallSite{
			{Offset: 4, Opname: "CALL", Name: disasm.CallableName{Segments: []string{"subprocess", "run"}}},
		}},
		{Name: "app.Worker.stop"},
	}
	dot := SignalDOT(signal.BuildSignalGraph(funcs, g, 1, nil), "demo", NASA)
	for _, want := range []string{
		"digraph signal {",
		"subgraph cluster_" + dotID("app.Worker"),
		dotID("app.main") + " -> " + dotID("app.Worker.run"),
		`label="subprocess.run"`,
		"#C62828", // high severity
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q", want)
		}
	}
	if strings.Contains(dot, dotID("print")) {
		t.Error("opaque callee without a role should not be drawn")
	}

	quiet := signal.BuildSignalGraph([]callgraph.FuncInfo{{Name: "app.main"}}, g, 1, nil)
	if got := SignalDOT(quiet, "demo", NASA); got != "" {
		t.Errorf("no signals should render nothing, got %d bytes", len(got))
	}
}
