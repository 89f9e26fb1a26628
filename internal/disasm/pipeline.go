package disasm

// FuncRecord is one line in functions.jsonl.
type FuncRecord struct {
	Name   string `json:"name"`
	Insts  int    `json:"insts"`
	Blocks int    `json:"blocks,omitempty"`
	Opaque bool   `json:"opaque,omitempty"` // no decodable instructions
}

// CallEdgeRecord is one line in call_edges.jsonl.
type CallEdgeRecord struct {
	FromFunc   string `json:"from_func"`
	FromOffset int    `json:"from_offset"`
	Kind       string `json:"kind"` // call opname, e.g. "CALL" or "CALL_FUNCTION_KW"
	Target     string `json:"target"`
	Base       string `json:"base,omitempty"`
}

// UnresolvedRecord is one line in unresolved.jsonl.
type UnresolvedRecord struct {
	Func   string `json:"func"`
	Offset int    `json:"offset"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Guess  string `json:"guess,omitempty"`
}

// EdgeRecords converts resolved call sites of one function to records.
func EdgeRecords(funcName string, sites []CallSite) []CallEdgeRecord {
	var out []CallEdgeRecord
	for _, s := range sites {
		if !s.Resolved() {
			continue
		}
		out = append(out, CallEdgeRecord{
			FromFunc:   funcName,
			FromOffset: s.Offset,
			Kind:       s.Opname,
			Target:     s.Name.Dotted(),
			Base:       s.Name.Base(),
		})
	}
	return out
}
