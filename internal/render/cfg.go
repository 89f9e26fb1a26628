package render

import (
	"fmt"
	"strings"

	"bytegraph/internal/disasm"
)

const maxBlockLines = 12

// CFGDOT renders the basic blocks of one unit as DOT. Each block is headed by
// its id, leader offset and the way control leaves it. Conditional edges are
// labelled with the outcome that selects them for the jump's opname family;
// edges back to an earlier block are dashed and their targets marked as loop
// heads. Returns "" for a unit without blocks.
func CFGDOT(cfg disasm.FuncCFG, t Theme) string {
	if len(cfg.Blocks) == 0 {
		return ""
	}

	dangling := make(map[int]bool, len(cfg.Dangling))
	for _, off := range cfg.Dangling {
		dangling[off] = true
	}
	loopHeads := make(map[int]bool)
	for _, blk := range cfg.Blocks {
		for _, s := range blk.Succs {
			if isBackEdge(cfg, blk, s) {
				loopHeads[s.BlockID] = true
			}
		}
	}

	var b strings.Builder
	writeHeader(&b, "cfg", "TB", cfg.Name, t)
	b.WriteString("  node [fontname=\"Courier,monospace\", fontsize=8, margin=\"0.08,0.04\"];\n\n")

	for _, blk := range cfg.Blocks {
		last := cfg.Insts[blk.End-1]
		head := fmt.Sprintf("B%d @%d  %s", blk.ID, blk.Offset, exitKind(last))
		if loopHeads[blk.ID] {
			head += "  (loop head)"
		}
		lines := []string{"<b>" + dotEscape(head) + "</b>"}

		var body []string
		for i := blk.Start; i < blk.End && i < len(cfg.Insts); i++ {
			inst := cfg.Insts[i]
			line := fmt.Sprintf("%4d: %s", inst.Offset, inst.String())
			switch {
			case dangling[inst.Offset]:
				line += "  ; target outside function"
			case disasm.IsCall(inst.Opname):
				line += "  ; call"
			}
			body = append(body, dotEscape(line))
		}
		if n := len(body); n > maxBlockLines {
			elided := fmt.Sprintf("... (%d more)", n-10)
			body = append(append(body[:5:5], elided), body[n-5:]...)
		}
		lines = append(lines, body...)
		label := strings.Join(lines, "<br align=\"left\"/>") + "<br align=\"left\"/>"

		var attrs string
		if blk.IsEntry {
			attrs = fmt.Sprintf(", penwidth=1.5, color=%q", t.EntryBorder)
		}
		if blk.IsTerm {
			attrs += fmt.Sprintf(", fillcolor=%q", t.OpaqueFill)
		}
		fmt.Fprintf(&b, "  bb%d [label=<%s>%s];\n", blk.ID, label, attrs)
	}
	b.WriteByte('\n')

	for _, blk := range cfg.Blocks {
		op := cfg.Insts[blk.End-1].Opname
		for _, s := range blk.Succs {
			var attrs string
			switch s.Kind {
			case disasm.ConditionalTaken:
				attrs = edgeLabel(t.EdgeTaken, branchLabel(op, s))
			case disasm.ConditionalFallthrough:
				attrs = edgeLabel(t.EdgeFallthrough, branchLabel(op, s))
			default:
				attrs = fmt.Sprintf("color=%q", t.EdgeDecoded)
			}
			if isBackEdge(cfg, blk, s) {
				attrs += ", style=dashed"
			}
			fmt.Fprintf(&b, "  bb%d -> bb%d [%s];\n", blk.ID, s.BlockID, attrs)
		}
	}

	b.WriteString("}\n")
	return b.String()
}

func edgeLabel(color, text string) string {
	return fmt.Sprintf("color=%q, label=<<font point-size=\"7\" color=\"%s\">%s</font>>", color, color, dotEscape(text))
}

// isBackEdge reports whether s jumps to a block at or before blk.
func isBackEdge(cfg disasm.FuncCFG, blk disasm.BasicBlock, s disasm.Succ) bool {
	return s.Kind != disasm.Sequential && cfg.Blocks[s.BlockID].Offset <= blk.Offset
}

// exitKind names how control leaves a block ending in last.
func exitKind(last disasm.Inst) string {
	switch disasm.JumpKindOf(last.Opname) {
	case disasm.JumpTerminator:
		if strings.HasPrefix(last.Opname, "RETURN_") {
			return "return"
		}
		return "raise"
	case disasm.JumpUnconditional:
		return "jump"
	case disasm.JumpConditional:
		switch last.Opname {
		case "FOR_ITER":
			return "for"
		case "SEND":
			return "send"
		case "JUMP_IF_NOT_EXC_MATCH":
			return "except"
		}
		return "branch"
	}
	return "next"
}

// branchLabel names the outcome of the conditional jump op that selects s.
func branchLabel(op string, s disasm.Succ) string {
	taken := s.Kind == disasm.ConditionalTaken
	pick := func(ifTaken, ifFall string) string {
		if taken {
			return ifTaken
		}
		return ifFall
	}
	switch {
	case op == "FOR_ITER":
		return pick("exhausted", "next")
	case op == "SEND":
		return pick("done", "yielded")
	case op == "JUMP_IF_NOT_EXC_MATCH":
		return pick("no match", "match")
	case strings.HasSuffix(op, "_IF_NONE"), strings.HasSuffix(op, "_IF_NOT_NONE"):
		if s.Cond == "T" {
			return "is None"
		}
		return "not None"
	}
	if s.Cond == "T" {
		return "true"
	}
	return "false"
}
