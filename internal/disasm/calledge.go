package disasm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrResolutionFailed is returned when the backward stack walk cannot name
// the value a call instruction invokes.
var ErrResolutionFailed = errors.New("callable resolution failed")

const (
	defaultMaxSteps = 512
	defaultMaxChain = 32
)

// CallableName is a dotted name chain such as np.linalg.solve.
// Two names are equal iff their dotted forms are equal.
type CallableName struct {
	Segments []string
}

// NewCallableName builds a name from its segments.
func NewCallableName(segments ...string) CallableName {
	return CallableName{Segments: segments}
}

// Dotted returns the segments joined with ".".
func (n CallableName) Dotted() string {
	return strings.Join(n.Segments, ".")
}

// Base returns the root of the chain ("np" in np.linalg.solve).
func (n CallableName) Base() string {
	if len(n.Segments) == 0 {
		return ""
	}
	return n.Segments[0]
}

// Attr returns the final segment ("solve" in np.linalg.solve).
func (n CallableName) Attr() string {
	if len(n.Segments) == 0 {
		return ""
	}
	return n.Segments[len(n.Segments)-1]
}

// Chain returns the segments after the base.
func (n CallableName) Chain() []string {
	if len(n.Segments) < 2 {
		return nil
	}
	return n.Segments[1:]
}

// IsConst reports whether the chain is rooted at a constant.
func (n CallableName) IsConst() bool {
	return strings.HasPrefix(n.Base(), "<const:")
}

func (n CallableName) String() string {
	return n.Dotted()
}

// Resolved is a successfully traced call target.
type Resolved struct {
	Name      CallableName
	BaseIndex int // index of the instruction that pushed the chain root
}

// ResolveError describes why a call site could not be traced.
type ResolveError struct {
	CallIndex int
	Offset    int
	Reason    string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve call at offset %d: %s", e.Offset, e.Reason)
}

func (e *ResolveError) Unwrap() error {
	return ErrResolutionFailed
}

// ResolveOptions bounds the backward walk.
type ResolveOptions struct {
	MaxSteps int // instructions visited per call site; 0 = 512
	MaxChain int // name segments per chain; 0 = 32
}

func (o ResolveOptions) steps() int {
	if o.MaxSteps > 0 {
		return o.MaxSteps
	}
	return defaultMaxSteps
}

func (o ResolveOptions) chain() int {
	if o.MaxChain > 0 {
		return o.MaxChain
	}
	return defaultMaxChain
}

var baseLoads = map[string]bool{
	"LOAD_GLOBAL":      true,
	"LOAD_NAME":        true,
	"LOAD_FAST":        true,
	"LOAD_FAST_CHECK":  true,
	"LOAD_DEREF":       true,
	"LOAD_CLASSDEREF":  true,
	"LOAD_CLOSURE":     true,
	"LOAD_BUILD_CLASS": true,
}

var attrLoads = map[string]bool{
	"LOAD_ATTR":   true,
	"LOAD_METHOD": true,
}

// segment returns the name segment contributed by a load.
func segment(inst Inst) string {
	if inst.Opname == "LOAD_BUILD_CLASS" {
		return "__build_class__"
	}
	return inst.Argval
}

// ResolveCallable walks backwards from the call at callIdx to find the
// instruction that pushed the invoked value and reconstructs its name chain.
//
// remaining counts the stack slots between the cursor and the callable slot.
// The first instruction that pushes more than remaining items produced it.
func ResolveCallable(insts []Inst, callIdx int, opts ResolveOptions) (Resolved, error) {
	if callIdx < 0 || callIdx >= len(insts) {
		return Resolved{}, &ResolveError{CallIndex: callIdx, Reason: "call index out of range"}
	}
	call := insts[callIdx]
	fail := func(format string, args ...any) (Resolved, error) {
		return Resolved{}, &ResolveError{
			CallIndex: callIdx,
			Offset:    call.Offset,
			Reason:    fmt.Sprintf(format, args...),
		}
	}

	remaining, ok := ArgDepth(call)
	if !ok {
		return fail("%s is not a call", call.Opname)
	}

	var rev []string // segments in discovery order (attr first)
	steps := 0
	for i := callIdx - 1; ; i-- {
		if i < 0 {
			return fail("walked past function start")
		}
		if steps++; steps > opts.steps() {
			return fail("step limit %d exceeded", opts.steps())
		}
		if remaining < 0 {
			return fail("stack underflow at offset %d", insts[i+1].Offset)
		}

		inst := insts[i]
		e := walkEffect(inst)
		if !e.Known {
			return fail("unknown stack effect %s", inst.Opname)
		}
		if remaining >= e.Pushes {
			remaining -= e.Net()
			continue
		}

		switch {
		case baseLoads[inst.Opname]:
			rev = append(rev, segment(inst))
			return Resolved{Name: reversed(rev), BaseIndex: i}, nil
		case attrLoads[inst.Opname]:
			rev = append(rev, segment(inst))
			if len(rev) >= opts.chain() {
				return fail("name chain longer than %d", opts.chain())
			}
			// The attribute load consumed exactly its object and produced
			// the attribute, so the object sits in the same slot.
		case inst.Opname == "LOAD_CONST":
			rev = append(rev, "<const:"+inst.Argval+">")
			return Resolved{Name: reversed(rev), BaseIndex: i}, nil
		default:
			return fail("opaque producer %s at offset %d", inst.Opname, inst.Offset)
		}
	}
}

func reversed(rev []string) CallableName {
	segs := make([]string, len(rev))
	for i, s := range rev {
		segs[len(rev)-1-i] = s
	}
	return CallableName{Segments: segs}
}

// CallSite is one call instruction and its resolution outcome.
type CallSite struct {
	Index     int
	Offset    int
	Opname    string
	Name      CallableName // valid when Err == nil
	BaseIndex int
	Err       error
	Guess     string // raw operand of the preceding instruction, diagnostic only
}

// Resolved reports whether the site was traced to a name.
func (s CallSite) Resolved() bool {
	return s.Err == nil
}

// ExtractCallSites resolves every call instruction in a function.
// When rawGuess is set, unresolved sites carry the argval of the
// instruction just before the call as a hint.
func ExtractCallSites(insts []Inst, opts ResolveOptions, rawGuess bool) []CallSite {
	var sites []CallSite
	for i, inst := range insts {
		if !IsCall(inst.Opname) {
			continue
		}
		site := CallSite{Index: i, Offset: inst.Offset, Opname: inst.Opname}
		r, err := ResolveCallable(insts, i, opts)
		if err != nil {
			site.Err = err
			if rawGuess && i > 0 {
				site.Guess = insts[i-1].Argval
			}
		} else {
			site.Name = r.Name
			site.BaseIndex = r.BaseIndex
		}
		sites = append(sites, site)
	}
	return sites
}
