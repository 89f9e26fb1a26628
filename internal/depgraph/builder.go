package depgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/disasm"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("bytegraph.depgraph")

var modulesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bytegraph_depgraph_modules_total",
	Help: "Modules discovered by classification",
}, []string{"kind"})

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger for skipped modules.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithLocator replaces the filesystem locator.
func WithLocator(l SourceLocator) Option {
	return func(b *Builder) { b.locator = l }
}

// Builder walks imports breadth-first from an entry module.
type Builder struct {
	loader  Loader
	locator SourceLocator
	root    string
	logger  *slog.Logger
}

// NewBuilder returns a builder classifying modules against root.
func NewBuilder(loader Loader, root string, opts ...Option) *Builder {
	b := &Builder{
		loader:  loader,
		locator: FSLocator{},
		root:    root,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build returns the dependency graph reachable from entry.
//
// Every module is loaded at most once. Local modules are expanded, external
// libraries are leaves. Failing to load the entry is an error; other local
// modules that fail to load are logged and kept as leaves.
func (b *Builder) Build(ctx context.Context, entry string) (*Graph, error) {
	ctx, span := tracer.Start(ctx, "depgraph.Build",
		trace.WithAttributes(attribute.String("entry", entry)),
	)
	defer span.End()

	g := newGraph(entry)
	g.addNode(entry, LocalFile)
	modulesTotal.WithLabelValues(LocalFile.String()).Inc()

	kinds := map[string]Kind{entry: LocalFile}
	processed := make(map[string]bool)
	enqueued := map[string]bool{entry: true}
	queue := []string{entry}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("depgraph: %w", err)
		}
		mod := queue[0]
		queue = queue[1:]
		if processed[mod] {
			continue
		}
		processed[mod] = true

		imports, err := b.moduleImports(mod)
		if err != nil {
			if mod == entry {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return nil, fmt.Errorf("depgraph: entry %s: %w", entry, err)
			}
			b.logger.Warn("skipping module", "module", mod, "err", err)
			continue
		}

		for _, name := range imports {
			kind, ok := kinds[name]
			if !ok {
				kind = ExternalLibrary
				if b.locator.ExistsAsLocalSource(name, b.root) {
					kind = LocalFile
				}
				kinds[name] = kind
				modulesTotal.WithLabelValues(kind.String()).Inc()
			}
			g.addNode(name, kind)
			g.addEdge(mod, name)
			if kind == LocalFile && !enqueued[name] {
				enqueued[name] = true
				queue = append(queue, name)
			}
		}
	}

	span.SetAttributes(
		attribute.Int("modules", len(g.nodes)),
		attribute.Int("imports", len(g.edges)),
	)
	span.SetStatus(codes.Ok, "")
	return g, nil
}

// moduleImports loads a module and collects the imports of its body, its
// top-level functions and its class methods.
func (b *Builder) moduleImports(name string) ([]string, error) {
	body, err := b.loader.LoadModule(name)
	if err != nil {
		return nil, err
	}

	units := []callgraph.Callable{body}
	classes, funcs, err := b.loader.ListTopLevel(body)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", name, err)
	}
	units = append(units, funcs...)
	for _, c := range classes {
		methods, err := b.loader.ListMethods(c)
		if err != nil {
			return nil, fmt.Errorf("list methods of %s: %w", c.QualName(), err)
		}
		units = append(units, methods...)
	}

	var out []string
	seen := make(map[string]bool)
	for _, u := range units {
		insts, err := b.loader.Decode(u)
		if errors.Is(err, callgraph.ErrDecodeUnavailable) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", u.QualName(), err)
		}
		for _, imp := range Imports(insts) {
			if !seen[imp] {
				seen[imp] = true
				out = append(out, imp)
			}
		}
	}
	return out, nil
}

// Imports returns the absolute module names imported by a listing, in order
// of first appearance. Relative imports with an empty name are skipped.
func Imports(insts []disasm.Inst) []string {
	var out []string
	seen := make(map[string]bool)
	for _, inst := range insts {
		if inst.Opname != "IMPORT_NAME" || inst.Argval == "" || seen[inst.Argval] {
			continue
		}
		seen[inst.Argval] = true
		out = append(out, inst.Argval)
	}
	return out
}
