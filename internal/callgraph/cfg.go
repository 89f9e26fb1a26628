package callgraph

import (
	"fmt"
	"strings"

	"bytegraph/internal/disasm"

	"github.com/zboralski/lattice"
)

// FuncInfo holds the data needed to build the CFG of one function.
type FuncInfo struct {
	Name  string
	Insts []disasm.Inst
	Sites []disasm.CallSite
}

// FuncInfos lists the decoded functions of a result in record order,
// skipping opaque leaves.
func (r *Result) FuncInfos() []FuncInfo {
	var out []FuncInfo
	for _, name := range r.Record.Names() {
		insts, _ := r.Record.Get(name)
		if len(insts) == 0 {
			continue
		}
		out = append(out, FuncInfo{Name: name, Insts: insts, Sites: r.Sites[name]})
	}
	return out
}

// BuildCFG constructs a lattice.CFGGraph from decoded functions.
// Each FuncInfo is converted to a lattice.FuncCFG via disasm.BuildCFG
// then mapped to lattice types.
func BuildCFG(funcs []FuncInfo) *lattice.CFGGraph {
	cg := &lattice.CFGGraph{}
	for _, f := range funcs {
		dcfg := disasm.BuildCFG(f.Name, f.Insts)
		cg.Funcs = append(cg.Funcs, convertFuncCFG(&dcfg, f.Sites))
	}
	return cg
}

// BuildSummaryFuncCFG builds a one-block FuncCFG listing the named callees
// and string constants a function touches, in order of first appearance.
func BuildSummaryFuncCFG(name string, insts []disasm.Inst, sites []disasm.CallSite) *lattice.FuncCFG {
	siteByIdx := make(map[int]disasm.CallSite, len(sites))
	for _, s := range sites {
		siteByIdx[s.Index] = s
	}

	seen := make(map[string]bool)
	var calls []lattice.CallSite
	add := func(label string) {
		if seen[label] {
			return
		}
		seen[label] = true
		calls = append(calls, lattice.CallSite{Offset: len(calls), Callee: label})
	}

	for idx, inst := range insts {
		if s, ok := siteByIdx[idx]; ok && s.Resolved() && isInterestingCallee(s.Name) {
			add(s.Name.Dotted())
		}
		if v, ok := stringConst(inst); ok {
			if len(v) > 50 {
				v = v[:47] + "..."
			}
			add(fmt.Sprintf("%q", v))
		}
	}

	lcfg := &lattice.FuncCFG{Name: name}
	if len(calls) > 0 {
		lcfg.Blocks = append(lcfg.Blocks, &lattice.BasicBlock{
			ID:    0,
			Start: 0,
			End:   1,
			Term:  true,
			Calls: calls,
		})
	}
	return lcfg
}

// isInterestingCallee filters out names that say nothing about program
// behavior: constant receivers and class-construction plumbing.
func isInterestingCallee(n disasm.CallableName) bool {
	switch {
	case n.IsConst():
		return false
	case n.Dotted() == "__build_class__":
		return false
	case strings.HasPrefix(n.Attr(), "__") && n.Attr() != "__init__":
		return false
	}
	return true
}

// stringConst returns the text of a LOAD_CONST of a quoted string.
func stringConst(inst disasm.Inst) (string, bool) {
	if inst.Opname != "LOAD_CONST" || len(inst.Argval) < 2 {
		return "", false
	}
	v := inst.Argval
	q := v[0]
	if (q != '\'' && q != '"') || v[len(v)-1] != q {
		return "", false
	}
	return v[1 : len(v)-1], true
}

// convertFuncCFG maps a disasm.FuncCFG to a lattice.FuncCFG.
// Call sites are mapped into blocks by instruction index.
func convertFuncCFG(dcfg *disasm.FuncCFG, sites []disasm.CallSite) *lattice.FuncCFG {
	siteByIdx := make(map[int]disasm.CallSite, len(sites))
	for _, s := range sites {
		siteByIdx[s.Index] = s
	}

	lcfg := &lattice.FuncCFG{Name: dcfg.Name}
	for _, db := range dcfg.Blocks {
		lb := &lattice.BasicBlock{
			ID:    db.ID,
			Start: db.Start,
			End:   db.End,
			Term:  db.IsTerm,
		}

		for _, ds := range db.Succs {
			lb.Succs = append(lb.Succs, lattice.Successor{
				BlockID: ds.BlockID,
				Cond:    ds.Cond,
			})
		}

		for idx := db.Start; idx < db.End && idx < len(dcfg.Insts); idx++ {
			s, ok := siteByIdx[idx]
			if !ok {
				continue
			}
			callee := UnknownNode
			if s.Resolved() {
				callee = s.Name.Dotted()
			}
			lb.Calls = append(lb.Calls, lattice.CallSite{
				Offset: idx,
				Callee: callee,
			})
		}

		lcfg.Blocks = append(lcfg.Blocks, lb)
	}
	return lcfg
}
