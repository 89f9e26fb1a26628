package callgraph

import (
	"testing"

	"bytegraph/internal/disasm"

	"github.com/zboralski/lattice/render"
)

// mk creates a synthetic Inst. arg < 0 means no immediate.
func mk(off int, op string, arg int, argval string) disasm.Inst {
	inst := disasm.Inst{Offset: off, Opname: op, Argval: argval}
	if arg >= 0 {
		inst.Arg = disasm.IntArg(arg)
	}
	return inst
}

func TestBuildCFG_DOTOutput(t *testing.T) {
	// entry (B0):
	//   0: LOAD_GLOBAL foo
	//   2: CALL 0               ; call foo
	//   4: POP_JUMP_IF_FALSE 14 ; conditional → B2
	//
	// true path (B1):
	//   6: LOAD_GLOBAL bar
	//   8: CALL 0               ; call bar
	//  10: POP_TOP
	//  12: JUMP_FORWARD 20      ; jump → B3
	//
	// false path (B2):
	//  14: LOAD_GLOBAL baz
	//  16: CALL 0               ; call baz
	//  18: RETURN_VALUE
	//
	// join (B3):
	//  20: RETURN_CONST None
	insts := []disasm.Inst{
		mk(0, "LOAD_GLOBAL", 0, "foo"),
		mk(2, "CALL", 0, ""),
		mk(4, "POP_JUMP_IF_FALSE", 7, "14"),
		mk(6, "LOAD_GLOBAL", 1, "bar"),
		mk(8, "CALL", 0, ""),
		mk(10, "POP_TOP", -1, ""),
		mk(12, "JUMP_FORWARD", 3, "20"),
		mk(14, "LOAD_GLOBAL", 2, "baz"),
		mk(16, "CALL", 0, ""),
		mk(18, "RETURN_VALUE", -1, ""),
		mk(20, "RETURN_CONST", 0, "None"),
	}
	sites := disasm.ExtractCallSites(insts, disasm.ResolveOptions{}, false)

	funcs := []FuncInfo{
		{Name: "app.main", Insts: insts, Sites: sites},
	}

	cfg := BuildCFG(funcs)

	if len(cfg.Funcs) != 1 {
		t.Fatalf("expected 1 function, got %d", len(cfg.Funcs))
	}
	f := cfg.Funcs[0]
	if f.Name != "app.main" {
		t.Errorf("func name = %q", f.Name)
	}
	// Expect 4 blocks: entry, true-path, false-path, join
	if len(f.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(f.Blocks))
	}

	// B0: entry, has 1 call (foo), 2 successors. The jump is taken when foo()
	// is false: F→B2, T→B1.
	b0 := f.Blocks[0]
	if len(b0.Calls) != 1 || b0.Calls[0].Callee != "foo" {
		t.Errorf("B0 calls = %+v", b0.Calls)
	}
	if len(b0.Succs) != 2 {
		t.Errorf("B0 succs = %+v", b0.Succs)
	} else if b0.Succs[0].BlockID != 2 || b0.Succs[0].Cond != "F" || b0.Succs[1].BlockID != 1 || b0.Succs[1].Cond != "T" {
		t.Errorf("B0 succs = %+v, want F→2 T→1", b0.Succs)
	}

	// B1: true path, has 1 call (bar), 1 unconditional successor
	b1 := f.Blocks[1]
	if len(b1.Calls) != 1 || b1.Calls[0].Callee != "bar" {
		t.Errorf("B1 calls = %+v", b1.Calls)
	}
	if len(b1.Succs) != 1 || b1.Succs[0].BlockID != 3 || b1.Succs[0].Cond != "" {
		t.Errorf("B1 succs = %+v", b1.Succs)
	}

	// B2: false path, has 1 call (baz), terminal
	b2 := f.Blocks[2]
	if len(b2.Calls) != 1 || b2.Calls[0].Callee != "baz" {
		t.Errorf("B2 calls = %+v", b2.Calls)
	}
	if !b2.Term {
		t.Error("B2 should be terminal")
	}

	b3 := f.Blocks[3]
	if !b3.Term {
		t.Error("B3 should be terminal")
	}

	dot := render.DOTCFG(cfg, "bytegraph CFG example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}

func TestBuildCFG_UnresolvedCall(t *testing.T) {
	insts := []disasm.Inst{
		mk(0, "LOAD_FAST", 0, "table"),
		mk(2, "LOAD_CONST", 1, "0"),
		mk(4, "BINARY_SUBSCR", -1, ""),
		mk(6, "CALL", 0, ""),
		mk(8, "RETURN_VALUE", -1, ""),
	}
	sites := disasm.ExtractCallSites(insts, disasm.ResolveOptions{}, false)
	cg := BuildCFG([]FuncInfo{{Name: "dispatch", Insts: insts, Sites: sites}})
	if len(cg.Funcs) != 1 || len(cg.Funcs[0].Blocks) != 1 {
		t.Fatalf("funcs = %+v", cg.Funcs)
	}
	calls := cg.Funcs[0].Blocks[0].Calls
	if len(calls) != 1 || calls[0].Callee != UnknownNode || calls[0].Offset != 3 {
		t.Errorf("calls = %+v", calls)
	}
}

func TestBuildSummaryFuncCFG(t *testing.T) {
	insts := []disasm.Inst{
		mk(0, "LOAD_GLOBAL", 0, "print"),
		mk(2, "LOAD_CONST", 1, "'starting'"),
		mk(4, "CALL", 1, ""),
		mk(6, "POP_TOP", -1, ""),
		mk(8, "LOAD_CONST", 2, "', '"),
		mk(10, "LOAD_METHOD", 3, "join"),
		mk(12, "LOAD_FAST", 0, "xs"),
		mk(14, "CALL", 1, ""),
		mk(16, "POP_TOP", -1, ""),
		mk(18, "LOAD_GLOBAL", 0, "print"),
		mk(20, "LOAD_CONST", 1, "'starting'"),
		mk(22, "CALL", 1, ""),
		mk(24, "RETURN_VALUE", -1, ""),
	}
	sites := disasm.ExtractCallSites(insts, disasm.ResolveOptions{}, false)
	lcfg := BuildSummaryFuncCFG("main", insts, sites)
	if len(lcfg.Blocks) != 1 {
		t.Fatalf("blocks = %d, want 1", len(lcfg.Blocks))
	}
	var got []string
	for _, c := range lcfg.Blocks[0].Calls {
		got = append(got, c.Callee)
	}
	want := []string{`"starting"`, "print", `", "`}
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("calls[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestGraphLattice_DOTOutput(t *testing.T) {
	g := NewGraph()
	g.AddEdge("main", "Foo.init", 1)
	g.AddEdge("main", "Bar.run", 1)
	g.AddEdge("Foo.init", "Logger.log", 1)
	g.AddEdge("Bar.run", "Logger.log", 2)

	lg := g.Lattice()
	if len(lg.Nodes) != 4 {
		t.Errorf("expected 4 nodes, got %d", len(lg.Nodes))
	}
	if len(lg.Edges) != 4 {
		t.Errorf("expected 4 edges, got %d", len(lg.Edges))
	}

	dot := render.DOT(lg, "bytegraph call graph example")
	if dot == "" {
		t.Error("expected non-empty DOT output")
	}
}
