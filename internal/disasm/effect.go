package disasm

import "math/bits"

// StackEffect is the number of operand-stack items an instruction pops and
// pushes. Known is false for the (0,0) fallback applied to unrecognized opnames.
type StackEffect struct {
	Pops   int
	Pushes int
	Known  bool
}

// Net returns the net change in stack depth.
func (e StackEffect) Net() int {
	return e.Pushes - e.Pops
}

func fixed(pops, pushes int) StackEffect {
	return StackEffect{Pops: pops, Pushes: pushes, Known: true}
}

// effectTable holds the opnames whose effect does not depend on the operand.
//
// The NULL sentinel pushed ahead of callables since 3.11 is not modelled:
// PUSH_NULL, PRECALL and KW_NAMES are neutral and LOAD_METHOD is (1,1), so
// that calls consistently consume arg+1 items.
var effectTable = map[string]StackEffect{
	// No stack traffic.
	"NOP":               fixed(0, 0),
	"RESUME":            fixed(0, 0),
	"CACHE":             fixed(0, 0),
	"EXTENDED_ARG":      fixed(0, 0),
	"PRECALL":           fixed(0, 0),
	"KW_NAMES":          fixed(0, 0),
	"PUSH_NULL":         fixed(0, 0),
	"MAKE_CELL":         fixed(0, 0),
	"COPY_FREE_VARS":    fixed(0, 0),
	"SETUP_ANNOTATIONS": fixed(0, 0),
	"SETUP_FINALLY":     fixed(0, 0),
	"POP_BLOCK":         fixed(0, 0),
	"DELETE_NAME":       fixed(0, 0),
	"DELETE_GLOBAL":     fixed(0, 0),
	"DELETE_FAST":       fixed(0, 0),
	"DELETE_DEREF":      fixed(0, 0),

	// Stack shuffles.
	"POP_TOP":     fixed(1, 0),
	"END_FOR":     fixed(2, 0),
	"DUP_TOP":     fixed(1, 2),
	"DUP_TOP_TWO": fixed(2, 4),
	"ROT_TWO":     fixed(2, 2),
	"ROT_THREE":   fixed(3, 3),
	"ROT_FOUR":    fixed(4, 4),

	// Loads.
	"LOAD_CONST":                fixed(0, 1),
	"LOAD_NAME":                 fixed(0, 1),
	"LOAD_GLOBAL":               fixed(0, 1),
	"LOAD_FAST":                 fixed(0, 1),
	"LOAD_FAST_CHECK":           fixed(0, 1),
	"LOAD_FAST_AND_CLEAR":       fixed(0, 1),
	"LOAD_DEREF":                fixed(0, 1),
	"LOAD_CLASSDEREF":           fixed(0, 1),
	"LOAD_CLOSURE":              fixed(0, 1),
	"LOAD_BUILD_CLASS":          fixed(0, 1),
	"LOAD_ASSERTION_ERROR":      fixed(0, 1),
	"LOAD_LOCALS":               fixed(0, 1),
	"LOAD_ATTR":                 fixed(1, 1),
	"LOAD_METHOD":               fixed(1, 1),
	"LOAD_SUPER_ATTR":           fixed(3, 1),
	"LOAD_FROM_DICT_OR_GLOBALS": fixed(1, 1),
	"LOAD_FROM_DICT_OR_DEREF":   fixed(1, 1),
	"LOAD_FAST_LOAD_FAST":       fixed(0, 2),

	// Stores and deletes.
	"STORE_NAME":    fixed(1, 0),
	"STORE_GLOBAL":  fixed(1, 0),
	"STORE_FAST":    fixed(1, 0),
	"STORE_DEREF":   fixed(1, 0),
	"STORE_FAST_LOAD_FAST":  fixed(1, 1),
	"STORE_FAST_STORE_FAST": fixed(2, 0),
	"STORE_ATTR":    fixed(2, 0),
	"STORE_SUBSCR":  fixed(3, 0),
	"STORE_SLICE":   fixed(4, 0),
	"DELETE_ATTR":   fixed(1, 0),
	"DELETE_SUBSCR": fixed(2, 0),

	// Unary.
	"UNARY_POSITIVE":      fixed(1, 1),
	"UNARY_NEGATIVE":      fixed(1, 1),
	"UNARY_NOT":           fixed(1, 1),
	"UNARY_INVERT":        fixed(1, 1),
	"TO_BOOL":             fixed(1, 1),
	"GET_ITER":            fixed(1, 1),
	"GET_YIELD_FROM_ITER": fixed(1, 1),
	"GET_AWAITABLE":       fixed(1, 1),
	"GET_AITER":           fixed(1, 1),
	"GET_ANEXT":           fixed(1, 2),
	"GET_LEN":             fixed(1, 2),
	"LIST_TO_TUPLE":       fixed(1, 1),
	"FORMAT_SIMPLE":       fixed(1, 1),
	"FORMAT_WITH_SPEC":    fixed(2, 1),
	"CONVERT_VALUE":       fixed(1, 1),
	"CALL_INTRINSIC_1":    fixed(1, 1),
	"CALL_INTRINSIC_2":    fixed(2, 1),

	// Function construction.
	"SET_FUNCTION_ATTRIBUTE": fixed(2, 1),

	// Binary.
	"BINARY_OP":               fixed(2, 1),
	"BINARY_ADD":              fixed(2, 1),
	"BINARY_SUBTRACT":         fixed(2, 1),
	"BINARY_MULTIPLY":         fixed(2, 1),
	"BINARY_MATRIX_MULTIPLY":  fixed(2, 1),
	"BINARY_TRUE_DIVIDE":      fixed(2, 1),
	"BINARY_FLOOR_DIVIDE":     fixed(2, 1),
	"BINARY_MODULO":           fixed(2, 1),
	"BINARY_POWER":            fixed(2, 1),
	"BINARY_LSHIFT":           fixed(2, 1),
	"BINARY_RSHIFT":           fixed(2, 1),
	"BINARY_AND":              fixed(2, 1),
	"BINARY_OR":               fixed(2, 1),
	"BINARY_XOR":              fixed(2, 1),
	"BINARY_SUBSCR":           fixed(2, 1),
	"BINARY_SLICE":            fixed(3, 1),
	"INPLACE_ADD":             fixed(2, 1),
	"INPLACE_SUBTRACT":        fixed(2, 1),
	"INPLACE_MULTIPLY":        fixed(2, 1),
	"INPLACE_MATRIX_MULTIPLY": fixed(2, 1),
	"INPLACE_TRUE_DIVIDE":     fixed(2, 1),
	"INPLACE_FLOOR_DIVIDE":    fixed(2, 1),
	"INPLACE_MODULO":          fixed(2, 1),
	"INPLACE_POWER":           fixed(2, 1),
	"INPLACE_LSHIFT":          fixed(2, 1),
	"INPLACE_RSHIFT":          fixed(2, 1),
	"INPLACE_AND":             fixed(2, 1),
	"INPLACE_OR":              fixed(2, 1),
	"INPLACE_XOR":             fixed(2, 1),
	"COMPARE_OP":              fixed(2, 1),
	"IS_OP":                   fixed(2, 1),
	"CONTAINS_OP":             fixed(2, 1),

	// Control flow.
	"JUMP_FORWARD":                  fixed(0, 0),
	"JUMP_BACKWARD":                 fixed(0, 0),
	"JUMP_BACKWARD_NO_INTERRUPT":    fixed(0, 0),
	"JUMP_ABSOLUTE":                 fixed(0, 0),
	"RETURN_CONST":                  fixed(0, 0),
	"POP_JUMP_IF_FALSE":             fixed(1, 0),
	"POP_JUMP_IF_TRUE":              fixed(1, 0),
	"POP_JUMP_IF_NONE":              fixed(1, 0),
	"POP_JUMP_IF_NOT_NONE":          fixed(1, 0),
	"POP_JUMP_FORWARD_IF_FALSE":     fixed(1, 0),
	"POP_JUMP_FORWARD_IF_TRUE":      fixed(1, 0),
	"POP_JUMP_FORWARD_IF_NONE":      fixed(1, 0),
	"POP_JUMP_FORWARD_IF_NOT_NONE":  fixed(1, 0),
	"POP_JUMP_BACKWARD_IF_FALSE":    fixed(1, 0),
	"POP_JUMP_BACKWARD_IF_TRUE":     fixed(1, 0),
	"POP_JUMP_BACKWARD_IF_NONE":     fixed(1, 0),
	"POP_JUMP_BACKWARD_IF_NOT_NONE": fixed(1, 0),
	"JUMP_IF_TRUE_OR_POP":           fixed(1, 0),
	"JUMP_IF_FALSE_OR_POP":          fixed(1, 0),
	"JUMP_IF_NOT_EXC_MATCH":         fixed(2, 0),
	"FOR_ITER":                      fixed(1, 2),
	"SEND":                          fixed(2, 2),
	"RETURN_VALUE":                  fixed(1, 0),
	"YIELD_VALUE":                   fixed(1, 1),
	"RERAISE":                       fixed(1, 0),
	"POP_EXCEPT":                    fixed(1, 0),
	"PUSH_EXC_INFO":                 fixed(1, 2),
	"CHECK_EXC_MATCH":               fixed(2, 2),
	"BEFORE_WITH":                   fixed(1, 2),
	"SETUP_WITH":                    fixed(1, 2),
	"BEFORE_ASYNC_WITH":             fixed(1, 2),
	"RETURN_GENERATOR":              fixed(0, 1),
	"END_SEND":                      fixed(2, 1),
	"CLEANUP_THROW":                 fixed(3, 2),

	// Imports.
	"IMPORT_NAME": fixed(2, 1),
	"IMPORT_FROM": fixed(1, 2),
	"IMPORT_STAR": fixed(1, 0),

	// Comprehension helpers; the container stays below the popped value.
	"LIST_APPEND": fixed(1, 0),
	"SET_ADD":     fixed(1, 0),
	"MAP_ADD":     fixed(2, 0),
	"LIST_EXTEND": fixed(1, 0),
	"SET_UPDATE":  fixed(1, 0),
	"DICT_UPDATE": fixed(1, 0),
	"DICT_MERGE":  fixed(1, 0),
}

// callPops maps call opnames to the number of items popped beyond arg.
var callPops = map[string]int{
	"CALL":             1,
	"CALL_FUNCTION":    1,
	"CALL_METHOD":      1,
	"CALL_FUNCTION_KW": 2,
	"CALL_KW":          2,
}

// IsCall reports whether opname invokes a callable.
func IsCall(opname string) bool {
	if _, ok := callPops[opname]; ok {
		return true
	}
	return opname == "CALL_FUNCTION_EX"
}

// Effect returns the stack effect of inst. It never fails: unrecognized
// opnames yield (0,0) with Known=false.
func Effect(inst Inst) StackEffect {
	if e, ok := effectTable[inst.Opname]; ok {
		return e
	}
	arg := inst.ArgOr(0)
	if arg < 0 {
		arg = 0
	}
	if extra, ok := callPops[inst.Opname]; ok {
		return fixed(arg+extra, 1)
	}
	switch inst.Opname {
	case "CALL_FUNCTION_EX":
		// Positional tuple plus the keyword mapping when bit 0 is set.
		return fixed(1 + arg&1, 1)
	case "BUILD_TUPLE", "BUILD_LIST", "BUILD_SET", "BUILD_STRING", "BUILD_SLICE":
		return fixed(arg, 1)
	case "BUILD_MAP":
		return fixed(2*arg, 1)
	case "BUILD_CONST_KEY_MAP":
		return fixed(arg+1, 1)
	case "UNPACK_SEQUENCE":
		return fixed(1, arg)
	case "UNPACK_EX":
		return fixed(1, arg&0xff + arg>>8 + 1)
	case "COPY":
		return fixed(arg, arg+1)
	case "SWAP":
		return fixed(arg, arg)
	case "RAISE_VARARGS":
		return fixed(arg, 0)
	case "FORMAT_VALUE":
		if arg&0x04 != 0 {
			return fixed(2, 1)
		}
		return fixed(1, 1)
	case "MAKE_FUNCTION":
		// Code object plus one item per flag bit (defaults, kwdefaults,
		// annotations, closure).
		return fixed(1+bits.OnesCount(uint(arg&0x0f)), 1)
	}
	return StackEffect{}
}

// ArgDepth returns how many stack items a call instruction consumes above
// its callable. ok is false for non-call instructions.
func ArgDepth(inst Inst) (depth int, ok bool) {
	if !IsCall(inst.Opname) {
		return 0, false
	}
	e := Effect(inst)
	if inst.Opname == "CALL_FUNCTION_EX" {
		return e.Pops, true
	}
	return e.Pops - 1, true
}

// walkEffect is Effect with the callable of a spread call counted, so the
// backward walk sees the true stack delta.
func walkEffect(inst Inst) StackEffect {
	e := Effect(inst)
	if inst.Opname == "CALL_FUNCTION_EX" {
		e.Pops++
	}
	return e
}
