package callgraph

import (
	"errors"
	"sort"

	"bytegraph/internal/disasm"

	"github.com/zboralski/lattice"
)

var (
	// ErrDecodeUnavailable is returned by a Decoder for callables that have
	// no bytecode (built-ins, native extensions). The callable becomes an
	// opaque leaf.
	ErrDecodeUnavailable = errors.New("bytecode unavailable")

	// ErrNameNotFound is returned by a NameResolver when a dotted name does
	// not bind to any callable in scope.
	ErrNameNotFound = errors.New("name not found")
)

// UnknownNode is the placeholder callee for unresolved call sites when
// placeholders are enabled.
const UnknownNode = "<unknown>"

// Callable is a function, method, class or module body the collaborators
// know about.
type Callable interface {
	QualName() string
}

// Decoder returns the instruction listing of a callable.
type Decoder interface {
	Decode(c Callable) ([]disasm.Inst, error)
}

// NameResolver binds a call-site name chain to a callable, in the scope of
// the calling function.
type NameResolver interface {
	ResolveCallable(base string, chain []string, caller Callable) (Callable, error)
}

// Record maps every visited dotted name to its listing, in insertion order.
// An empty listing marks an opaque callable.
type Record struct {
	names []string
	code  map[string][]disasm.Inst
}

// NewRecord returns an empty record.
func NewRecord() *Record {
	return &Record{code: make(map[string][]disasm.Inst)}
}

// Add inserts name once. It reports false if name was already present.
func (r *Record) Add(name string, insts []disasm.Inst) bool {
	if _, ok := r.code[name]; ok {
		return false
	}
	if insts == nil {
		insts = []disasm.Inst{}
	}
	r.names = append(r.names, name)
	r.code[name] = insts
	return true
}

// Has reports whether name has been visited.
func (r *Record) Has(name string) bool {
	_, ok := r.code[name]
	return ok
}

// Get returns the listing for name.
func (r *Record) Get(name string) ([]disasm.Inst, bool) {
	insts, ok := r.code[name]
	return insts, ok
}

// Opaque reports whether name was recorded with an empty listing.
func (r *Record) Opaque(name string) bool {
	insts, ok := r.code[name]
	return ok && len(insts) == 0
}

// Names returns the visited names in insertion order.
func (r *Record) Names() []string {
	return append([]string(nil), r.names...)
}

// Len returns the number of visited names.
func (r *Record) Len() int {
	return len(r.names)
}

// Edge is a weighted caller → callee edge.
type Edge struct {
	Caller string `json:"caller"`
	Callee string `json:"callee"`
	Weight int    `json:"call_count"`
}

type edgeKey struct {
	caller, callee string
}

// Graph is a directed call graph with unique vertex labels and weighted
// edges.
type Graph struct {
	nodes   []string
	hasNode map[string]bool
	weights map[edgeKey]int
}

// NewGraph returns an empty graph.
func NewGraph() *Graph {
	return &Graph{
		hasNode: make(map[string]bool),
		weights: make(map[edgeKey]int),
	}
}

// AddNode adds a vertex if it is not present yet.
func (g *Graph) AddNode(name string) {
	if g.hasNode[name] {
		return
	}
	g.hasNode[name] = true
	g.nodes = append(g.nodes, name)
}

// AddEdge adds weight to the caller → callee edge, creating both vertices
// and the edge as needed.
func (g *Graph) AddEdge(caller, callee string, weight int) {
	g.AddNode(caller)
	g.AddNode(callee)
	g.weights[edgeKey{caller, callee}] += weight
}

// HasNode reports whether name is a vertex.
func (g *Graph) HasNode(name string) bool {
	return g.hasNode[name]
}

// Weight returns the call count of caller → callee, 0 if absent.
func (g *Graph) Weight(caller, callee string) int {
	return g.weights[edgeKey{caller, callee}]
}

// Nodes returns the vertices in insertion order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Edges returns all edges sorted by caller, then callee.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.weights))
	for k, w := range g.weights {
		out = append(out, Edge{Caller: k.caller, Callee: k.callee, Weight: w})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Caller != out[j].Caller {
			return out[i].Caller < out[j].Caller
		}
		return out[i].Callee < out[j].Callee
	})
	return out
}

// Lattice converts the graph to a lattice.Graph for rendering.
// Weights are dropped; each edge appears once.
func (g *Graph) Lattice() *lattice.Graph {
	lg := &lattice.Graph{Nodes: g.Nodes()}
	for _, e := range g.Edges() {
		lg.Edges = append(lg.Edges, lattice.Edge{
			Caller: e.Caller,
			Callee: e.Callee,
		})
	}
	lg.Dedup()
	return lg
}
