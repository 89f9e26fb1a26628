package disasm

import (
	"strings"
	"testing"
)

func TestInstTarget(t *testing.T) {
	tests := []struct {
		argval string
		want   int
		ok     bool
	}{
		{"12", 12, true},
		{"to 40", 40, true},
		{" 8 ", 8, true},
		{"", 0, false},
		{"x", 0, false},
		{"-2", 0, false},
	}
	for _, tt := range tests {
		got, ok := Inst{Argval: tt.argval}.Target()
		if got != tt.want || ok != tt.ok {
			t.Errorf("Target(%q) = (%d,%v), want (%d,%v)", tt.argval, got, ok, tt.want, tt.ok)
		}
	}
}

func TestFormat(t *testing.T) {
	insts := []Inst{
		mk(0, "LOAD_GLOBAL", 0, "print"),
		mk(2, "LOAD_CONST", 1, "'hi'"),
		mk(4, "CALL", 1, ""),
		mk(6, "POP_JUMP_IF_FALSE", 5, "10"),
		mk(8, "NOP", -1, ""),
		mk(10, "RETURN_CONST", 0, "None"),
	}
	sites := ExtractCallSites(insts, ResolveOptions{}, false)
	text := Format(insts, CallSiteAnnotator(sites))

	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("got %d lines, want 6:\n%s", len(lines), text)
	}
	if !strings.Contains(lines[0], "LOAD_GLOBAL") || !strings.Contains(lines[0], "(print)") {
		t.Errorf("line 0 = %q", lines[0])
	}
	if !strings.HasPrefix(lines[5], ">>") {
		t.Errorf("jump target not marked: %q", lines[5])
	}
	if strings.HasPrefix(lines[0], ">>") {
		t.Errorf("non-target marked: %q", lines[0])
	}
	if !strings.Contains(lines[2], "; call print") {
		t.Errorf("call not annotated: %q", lines[2])
	}
}

func TestFormatEmpty(t *testing.T) {
	if got := Format(nil); got != "" {
		t.Errorf("Format(nil) = %q", got)
	}
}

func TestJumpKindOf(t *testing.T) {
	tests := map[string]JumpKind{
		"POP_JUMP_IF_FALSE":            JumpConditional,
		"POP_JUMP_FORWARD_IF_NOT_NONE": JumpConditional,
		"FOR_ITER":                     JumpConditional,
		"JUMP_FORWARD":                 JumpUnconditional,
		"JUMP_BACKWARD":                JumpUnconditional,
		"RETURN_VALUE":                 JumpTerminator,
		"RAISE_VARARGS":                JumpTerminator,
		"CALL":                         JumpNone,
		"JUMP":                         JumpNone,
	}
	for op, want := range tests {
		if got := JumpKindOf(op); got != want {
			t.Errorf("JumpKindOf(%s) = %v, want %v", op, got, want)
		}
	}
}

func TestPolarity(t *testing.T) {
	tests := []struct {
		op        string
		takenWhen bool
		ok        bool
	}{
		{"POP_JUMP_IF_FALSE", false, true},
		{"POP_JUMP_IF_TRUE", true, true},
		{"POP_JUMP_BACKWARD_IF_TRUE", true, true},
		{"JUMP_IF_FALSE_OR_POP", false, true},
		{"POP_JUMP_IF_NONE", true, true},
		{"POP_JUMP_IF_NOT_NONE", false, true},
		{"FOR_ITER", false, false},
	}
	for _, tt := range tests {
		tw, ok := Polarity(tt.op)
		if tw != tt.takenWhen || ok != tt.ok {
			t.Errorf("Polarity(%s) = (%v,%v), want (%v,%v)", tt.op, tw, ok, tt.takenWhen, tt.ok)
		}
	}
}
