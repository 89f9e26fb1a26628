// Package disasm models decoded stack-machine bytecode and the analyses that
// work directly on one function's instruction stream: stack effects, call
// target resolution and control-flow graphs.
package disasm

import (
	"fmt"
	"strconv"
	"strings"
)

// Inst is one decoded bytecode instruction.
type Inst struct {
	Offset int    `json:"offset"`
	Opname string `json:"opname"`
	Opcode int    `json:"opcode"`
	Arg    *int   `json:"arg,omitempty"` // nil = no immediate
	Argval string `json:"argval,omitempty"`
}

// IntArg returns a pointer suitable for Inst.Arg.
func IntArg(v int) *int {
	return &v
}

// HasArg reports whether the instruction carries an immediate operand.
func (i Inst) HasArg() bool {
	return i.Arg != nil
}

// ArgOr returns the immediate operand, or def if there is none.
func (i Inst) ArgOr(def int) int {
	if i.Arg == nil {
		return def
	}
	return *i.Arg
}

// Target parses Argval as an absolute jump target offset.
func (i Inst) Target() (int, bool) {
	s := strings.TrimSpace(i.Argval)
	s = strings.TrimPrefix(s, "to ")
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// String renders the instruction the way listings show it.
func (i Inst) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-24s", i.Opname)
	if i.Arg != nil {
		fmt.Fprintf(&b, " %4d", *i.Arg)
		if i.Argval != "" {
			fmt.Fprintf(&b, " (%s)", i.Argval)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Annotator returns an optional inline comment for an instruction.
// Empty string means no annotation.
type Annotator func(idx int, inst Inst) string

// Format renders a slice of instructions as stable text output.
// Each line: <offset>  <opname> <arg> (<argval>)  ; <comment>
// Offsets that are jump targets are marked with ">>".
// Annotators are checked in order; first non-empty result is used.
func Format(insts []Inst, annotators ...Annotator) string {
	targets := make(map[int]bool)
	for _, inst := range insts {
		if JumpKindOf(inst.Opname) == JumpNone {
			continue
		}
		if t, ok := inst.Target(); ok {
			targets[t] = true
		}
	}

	var b strings.Builder
	for idx, inst := range insts {
		if targets[inst.Offset] {
			b.WriteString(">> ")
		} else {
			b.WriteString("   ")
		}
		fmt.Fprintf(&b, "%6d  %s", inst.Offset, inst.String())
		for _, ann := range annotators {
			if s := ann(idx, inst); s != "" {
				fmt.Fprintf(&b, "  ; %s", s)
				break
			}
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// CallSiteAnnotator labels call instructions with their resolved callee.
func CallSiteAnnotator(sites []CallSite) Annotator {
	byIdx := make(map[int]CallSite, len(sites))
	for _, s := range sites {
		byIdx[s.Index] = s
	}
	return func(idx int, _ Inst) string {
		s, ok := byIdx[idx]
		if !ok {
			return ""
		}
		if s.Err != nil {
			return "call <unresolved>"
		}
		return "call " + s.Name.Dotted()
	}
}
