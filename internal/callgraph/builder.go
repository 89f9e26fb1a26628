package callgraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bytegraph/internal/disasm"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Unresolved is a call site whose target could not be named or bound.
type Unresolved struct {
	Func   string `json:"func"`
	Offset int    `json:"offset"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Guess  string `json:"guess,omitempty"`
}

// Result is the outcome of one Build.
type Result struct {
	Entry      string
	Record     *Record
	Subgraphs  map[string]*Graph // per expanded function, keyed by its name
	Sites      map[string][]disasm.CallSite
	Unresolved []Unresolved
	Known      []string
}

// Graph merges the per-function subgraphs of the result.
func (r *Result) Graph() *Graph {
	return Merge(r.Subgraphs, r.Known)
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger for per-site diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithResolveOptions bounds the backward stack walk.
func WithResolveOptions(o disasm.ResolveOptions) Option {
	return func(b *Builder) { b.resolve = o }
}

// WithUnknownPlaceholders adds an edge to UnknownNode for every call site
// that could not be resolved.
func WithUnknownPlaceholders(on bool) Option {
	return func(b *Builder) { b.placeholders = on }
}

// WithRawFallback attaches the raw operand of the instruction preceding an
// unresolved call as a diagnostic guess. It never produces an edge.
func WithRawFallback(on bool) Option {
	return func(b *Builder) { b.rawFallback = on }
}

// WithWorkers limits how many entries BuildAll analyzes concurrently.
func WithWorkers(n int) Option {
	return func(b *Builder) { b.workers = n }
}

// Builder constructs call graphs by recursive expansion from an entry point.
// A Builder holds no per-run state and may be shared between goroutines if
// its collaborators allow concurrent reads.
type Builder struct {
	decoder      Decoder
	resolver     NameResolver
	logger       *slog.Logger
	resolve      disasm.ResolveOptions
	placeholders bool
	rawFallback  bool
	workers      int
}

// NewBuilder returns a builder using the given collaborators.
func NewBuilder(dec Decoder, res NameResolver, opts ...Option) *Builder {
	b := &Builder{
		decoder:  dec,
		resolver: res,
		logger:   slog.Default(),
		workers:  4,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.workers < 1 {
		b.workers = 1
	}
	return b
}

// run is the state of one analysis. The record, keyed by qualified name,
// doubles as the visited set. bound memoizes what a call-site name resolved
// to in a given caller, notFound what the resolver rejected there.
type run struct {
	b        *Builder
	logger   *slog.Logger
	record   *Record
	bound    map[siteKey]string
	notFound map[siteKey]bool
	res      *Result
}

// siteKey scopes a call-site name to its caller: "helper" or "self.log"
// may bind differently in another module or class.
type siteKey struct {
	caller, name string
}

// Build decodes entry and expands every reachable call site.
//
// The entry must decode; ErrDecodeUnavailable on the entry yields a record
// holding only an opaque entry. Any other decoder error is returned.
func (b *Builder) Build(ctx context.Context, entry Callable) (*Result, error) {
	name := entry.QualName()
	ctx, span := tracer.Start(ctx, "callgraph.Build",
		trace.WithAttributes(attribute.String("entry", name)),
	)
	defer span.End()
	start := time.Now()
	defer func() { buildDuration.Observe(time.Since(start).Seconds()) }()

	r := &run{
		b:        b,
		logger:   b.logger.With("entry", name),
		record:   NewRecord(),
		bound:    make(map[siteKey]string),
		notFound: make(map[siteKey]bool),
		res: &Result{
			Entry:     name,
			Subgraphs: make(map[string]*Graph),
			Sites:     make(map[string][]disasm.CallSite),
		},
	}
	r.res.Record = r.record

	insts, err := b.decoder.Decode(entry)
	switch {
	case errors.Is(err, ErrDecodeUnavailable):
		insts = nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("callgraph: decode entry %s: %w", name, err)
	}
	r.record.Add(name, insts)
	functionsExpanded.WithLabelValues(kindOf(insts)).Inc()

	if len(insts) > 0 {
		if err := r.expand(ctx, entry, name, insts); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	r.res.Known = r.record.Names()
	span.SetAttributes(
		attribute.Int("functions", r.record.Len()),
		attribute.Int("unresolved", len(r.res.Unresolved)),
	)
	span.SetStatus(codes.Ok, "")
	return r.res, nil
}

// expand walks the call sites of one decoded function and recurses into
// callees not yet in the record.
func (r *run) expand(ctx context.Context, fn Callable, name string, insts []disasm.Inst) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("callgraph: %s: %w", name, err)
	}

	sub := NewGraph()
	sub.AddNode(name)
	r.res.Subgraphs[name] = sub

	sites := disasm.ExtractCallSites(insts, r.b.resolve, r.b.rawFallback)
	r.res.Sites[name] = sites

	for _, site := range sites {
		if !site.Resolved() {
			r.unresolved(name, site)
			continue
		}

		callee := site.Name.Dotted()
		key := siteKey{name, callee}
		if q, ok := r.bound[key]; ok {
			callSitesTotal.WithLabelValues("resolved").Inc()
			sub.AddEdge(name, q, 1)
			continue
		}
		if r.notFound[key] {
			callSitesTotal.WithLabelValues("memo_hit").Inc()
			continue
		}

		target, err := r.b.resolver.ResolveCallable(site.Name.Base(), site.Name.Chain(), fn)
		if errors.Is(err, ErrNameNotFound) {
			callSitesTotal.WithLabelValues("not_found").Inc()
			r.notFound[key] = true
			r.logger.Debug("name not found", "func", name, "offset", site.Offset, "name", callee)
			continue
		}
		if err != nil {
			return fmt.Errorf("callgraph: resolve %s in %s: %w", callee, name, err)
		}
		q := target.QualName()
		r.bound[key] = q
		callSitesTotal.WithLabelValues("resolved").Inc()
		sub.AddEdge(name, q, 1)
		if r.record.Has(q) {
			continue
		}

		code, err := r.b.decoder.Decode(target)
		switch {
		case errors.Is(err, ErrDecodeUnavailable):
			code = nil
		case err != nil:
			return fmt.Errorf("callgraph: decode %s: %w", q, err)
		}
		r.record.Add(q, code)
		functionsExpanded.WithLabelValues(kindOf(code)).Inc()

		if len(code) > 0 {
			if err := r.expand(ctx, target, q, code); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *run) unresolved(name string, site disasm.CallSite) {
	callSitesTotal.WithLabelValues("unresolved").Inc()
	reason := site.Err.Error()
	var re *disasm.ResolveError
	if errors.As(site.Err, &re) {
		reason = re.Reason
	}
	r.logger.Debug("unresolved call", "func", name, "offset", site.Offset, "op", site.Opname, "reason", reason)
	r.res.Unresolved = append(r.res.Unresolved, Unresolved{
		Func:   name,
		Offset: site.Offset,
		Kind:   site.Opname,
		Reason: reason,
		Guess:  site.Guess,
	})
	if r.b.placeholders {
		r.res.Subgraphs[name].AddEdge(name, UnknownNode, 1)
	}
}

func kindOf(insts []disasm.Inst) string {
	if len(insts) == 0 {
		return "opaque"
	}
	return "decoded"
}

// BuildAll analyzes independent entries concurrently, one run per entry,
// and merges their graphs. Results are returned in entry order.
func (b *Builder) BuildAll(ctx context.Context, entries []Callable) (*Graph, []*Result, error) {
	results := make([]*Result, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for i, e := range entries {
		g.Go(func() error {
			res, err := b.Build(gctx, e)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	return MergeResults(results), results, nil
}
