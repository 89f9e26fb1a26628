package disasm

import "strings"

// Opname-level control-flow classification. These functions identify
// basic-block terminators and extract branch targets.

// JumpKind classifies an opname's control-flow behavior.
type JumpKind int

const (
	JumpNone          JumpKind = iota // falls through to the next instruction
	JumpUnconditional                 // always transfers to its target
	JumpConditional                   // target when taken, next instruction otherwise
	JumpTerminator                    // leaves the function (return, raise)
)

var unconditionalJumps = map[string]bool{
	"JUMP_FORWARD":               true,
	"JUMP_BACKWARD":              true,
	"JUMP_BACKWARD_NO_INTERRUPT": true,
	"JUMP_ABSOLUTE":              true,
}

var conditionalJumps = map[string]bool{
	"JUMP_IF_TRUE_OR_POP":   true,
	"JUMP_IF_FALSE_OR_POP":  true,
	"JUMP_IF_NOT_EXC_MATCH": true,
	"FOR_ITER":              true,
	"SEND":                  true,
}

var terminators = map[string]bool{
	"RETURN_VALUE":  true,
	"RETURN_CONST":  true,
	"RAISE_VARARGS": true,
	"RERAISE":       true,
}

// JumpKindOf classifies an opname.
// The POP_JUMP_IF_* family (including the 3.11 FORWARD/BACKWARD variants)
// is matched by prefix.
func JumpKindOf(opname string) JumpKind {
	switch {
	case terminators[opname]:
		return JumpTerminator
	case unconditionalJumps[opname]:
		return JumpUnconditional
	case conditionalJumps[opname], strings.HasPrefix(opname, "POP_JUMP_"):
		return JumpConditional
	}
	return JumpNone
}

// BranchInfo describes a decoded branch instruction.
type BranchInfo struct {
	Target    int  // absolute target offset (valid when HasTarget)
	HasTarget bool // false for terminators and unparsable operands
	Cond      bool // true if conditional (has fallthrough)
	IsTerm    bool // true for return/raise
}

// DecodeBranch returns branch information for inst.
// Returns nil if the instruction is not a jump or terminator.
func DecodeBranch(inst Inst) *BranchInfo {
	switch JumpKindOf(inst.Opname) {
	case JumpTerminator:
		return &BranchInfo{IsTerm: true}
	case JumpUnconditional:
		t, ok := inst.Target()
		return &BranchInfo{Target: t, HasTarget: ok}
	case JumpConditional:
		t, ok := inst.Target()
		return &BranchInfo{Target: t, HasTarget: ok, Cond: true}
	}
	return nil
}

// Polarity reports the condition value on which a conditional jump is taken.
// For the None-testing variants the condition is "value is None".
// ok is false when the opname carries no boolean polarity (FOR_ITER, SEND,
// exception matching).
func Polarity(opname string) (takenWhen bool, ok bool) {
	switch {
	case strings.HasSuffix(opname, "_IF_TRUE"), opname == "JUMP_IF_TRUE_OR_POP":
		return true, true
	case strings.HasSuffix(opname, "_IF_FALSE"), opname == "JUMP_IF_FALSE_OR_POP":
		return false, true
	case strings.HasSuffix(opname, "_IF_NONE"):
		return true, true
	case strings.HasSuffix(opname, "_IF_NOT_NONE"):
		return false, true
	}
	return false, false
}
