// Package depgraph builds the inter-module import graph reachable from an
// entry module.
package depgraph

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/disasm"
)

// ErrModuleNotFound is returned by a Loader for names it cannot load.
var ErrModuleNotFound = errors.New("module not found")

// Kind classifies a dependency vertex.
type Kind int

const (
	LocalFile Kind = iota
	ExternalLibrary
)

func (k Kind) String() string {
	if k == LocalFile {
		return "local"
	}
	return "external"
}

// Loader gives access to modules and their code units.
type Loader interface {
	// LoadModule returns the module body callable for a dotted module name.
	LoadModule(name string) (callgraph.Callable, error)
	// ListTopLevel returns the classes and functions defined by a module.
	ListTopLevel(module callgraph.Callable) (classes, functions []callgraph.Callable, err error)
	// ListMethods returns the methods of a class.
	ListMethods(class callgraph.Callable) ([]callgraph.Callable, error)
	// Decode returns the instruction listing of a code unit.
	Decode(c callgraph.Callable) ([]disasm.Inst, error)
}

// SourceLocator decides whether a module name denotes source under root.
type SourceLocator interface {
	ExistsAsLocalSource(name, root string) bool
}

// FSLocator checks the filesystem for the module's own path under root and
// under the conventional src/ and lib/ source roots: <base>/a/b.py or
// <base>/a/b/__init__.py. A file that merely shares the last segment's name
// elsewhere in the tree does not count.
type FSLocator struct{}

var sourceRoots = []string{"", "src", "lib"}

// ExistsAsLocalSource implements SourceLocator.
func (FSLocator) ExistsAsLocalSource(name, root string) bool {
	if name == "" || root == "" {
		return false
	}
	rel := filepath.Join(strings.Split(name, ".")...)
	for _, sr := range sourceRoots {
		base := filepath.Join(root, sr, rel)
		if fileExists(base+".py") || fileExists(filepath.Join(base, "__init__.py")) {
			return true
		}
	}
	return false
}

func fileExists(path string) bool {
	st, err := os.Stat(path)
	return err == nil && !st.IsDir()
}

// Node is one module in the dependency graph.
type Node struct {
	Name string `json:"name"`
	Kind Kind   `json:"kind"`
}

// Import is an importer → imported edge.
type Import struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the dependency graph. Vertices and edges keep insertion order
// and are unique.
type Graph struct {
	Entry   string
	nodes   []Node
	index   map[string]int
	edges   []Import
	hasEdge map[Import]bool
}

func newGraph(entry string) *Graph {
	return &Graph{
		Entry:   entry,
		index:   make(map[string]int),
		hasEdge: make(map[Import]bool),
	}
}

func (g *Graph) addNode(name string, kind Kind) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, Node{Name: name, Kind: kind})
}

func (g *Graph) addEdge(from, to string) {
	e := Import{From: from, To: to}
	if g.hasEdge[e] {
		return
	}
	g.hasEdge[e] = true
	g.edges = append(g.edges, e)
}

// Nodes returns the vertices in discovery order.
func (g *Graph) Nodes() []Node {
	return append([]Node(nil), g.nodes...)
}

// Edges returns the import edges in discovery order.
func (g *Graph) Edges() []Import {
	return append([]Import(nil), g.edges...)
}

// Node looks up a vertex by module name.
func (g *Graph) Node(name string) (Node, bool) {
	i, ok := g.index[name]
	if !ok {
		return Node{}, false
	}
	return g.nodes[i], true
}
