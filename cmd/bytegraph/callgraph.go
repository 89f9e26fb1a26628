package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"bytegraph/internal/cache"
	"bytegraph/internal/callgraph"
	"bytegraph/internal/disasm"
	"bytegraph/internal/dump"
	"bytegraph/internal/output"
	"bytegraph/internal/render"
	"bytegraph/internal/signal"

	"github.com/spf13/cobra"
	lrender "github.com/zboralski/lattice/render"
)

type callgraphFlags struct {
	image      string
	all        bool
	title      string
	listCached bool
}

func newCallgraphCmd(a *app) *cobra.Command {
	var f callgraphFlags
	cmd := &cobra.Command{
		Use:   "callgraph --image <json> --out <dir> entry...",
		Short: "Build weighted call graphs from entry points",
		Long: `Build the call graph reachable from each entry point and write it as DOT,
JSONL and optionally SQLite.

Several entries are analyzed concurrently, one run each, and their graphs are
merged with call counts summed. With --all every unit of the image is an
entry and each function contributes its calls once.

--list-cached prints the entries cached for the image under --cache and
builds nothing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCallgraph(cmd, a, f, args)
		},
	}
	cmd.Flags().StringVar(&f.image, "image", "", "bytecode image (JSON)")
	cmd.Flags().BoolVar(&f.all, "all", false, "analyze every unit of the image")
	cmd.Flags().StringVar(&f.title, "title", "", "graph title (default image path and entries)")
	cmd.Flags().BoolVar(&f.listCached, "list-cached", false, "print the cached entries for the image and exit")
	cmd.Flags().String("out", "out", "output directory")
	cmd.Flags().Bool("placeholders", false, "add "+callgraph.UnknownNode+" edges for unresolved calls")
	cmd.Flags().Bool("raw-fallback", false, "record a best-effort guess for unresolved calls")
	cmd.Flags().Int("workers", 4, "concurrent runs")
	cmd.Flags().Int("max-nodes", 2000, "max function nodes in callgraph.dot (0 = all)")
	cmd.Flags().Bool("listings", true, "write per-function listings")
	cmd.Flags().Bool("dot", true, "write DOT files")
	cmd.Flags().String("sqlite", "", "also export nodes and edges to this SQLite file")
	cmd.Flags().String("cache", "", "cache directory for build results")
	cmd.Flags().Int("signal-hops", 2, "context hops around signal functions (-1 = no signal output)")
	return cmd
}

func runCallgraph(cmd *cobra.Command, a *app, f callgraphFlags, args []string) error {
	cfg := &a.cfg
	overrideString(cmd, "out", &cfg.Output.Dir)
	overrideBool(cmd, "placeholders", &cfg.CallGraph.UnknownPlaceholders)
	overrideBool(cmd, "raw-fallback", &cfg.Resolver.RawFallback)
	overrideInt(cmd, "workers", &cfg.CallGraph.Workers)
	overrideInt(cmd, "max-nodes", &cfg.Output.MaxNodes)
	overrideBool(cmd, "listings", &cfg.Output.Listings)
	overrideBool(cmd, "dot", &cfg.Output.DOT)
	overrideString(cmd, "sqlite", &cfg.Output.SQLite)
	overrideString(cmd, "cache", &cfg.Cache.Dir)
	overrideInt(cmd, "signal-hops", &cfg.Output.SignalHops)

	if f.listCached {
		return a.listCached(cmd, f.image)
	}
	if len(args) == 0 && !f.all {
		return fmt.Errorf("at least one entry is required (or --all)")
	}
	ctx := cmd.Context()

	img, digest, err := a.loadImage(f.image)
	if err != nil {
		return err
	}
	refs, err := lookupEntries(img, args)
	if err != nil {
		return err
	}

	results, err := a.buildCached(ctx, img, digest, refs)
	if err != nil {
		return err
	}

	var g *callgraph.Graph
	if f.all {
		g = wholeProgram(results)
	} else {
		g = callgraph.MergeResults(results)
	}
	rec, sites, unresolved := combine(results)
	fmt.Fprintf(a.stderr, "analyzed %d entries: %d names, %d edges, %d unresolved call sites\n",
		len(refs), rec.Len(), len(g.Edges()), len(unresolved))

	outDir := cfg.Output.Dir
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", outDir, err)
	}

	title := f.title
	if title == "" {
		title = titleFor(f.image, args)
	}
	w := &callgraphWriter{a: a, dir: outDir, title: title, g: g, rec: rec, sites: sites, unresolved: unresolved}
	if err := w.records(results); err != nil {
		return err
	}
	if cfg.Output.SignalHops >= 0 {
		if err := w.signals(cfg.Output.SignalHops); err != nil {
			return err
		}
	}
	if cfg.Output.Listings {
		if err := w.listings(); err != nil {
			return err
		}
	}
	if cfg.Output.DOT {
		if err := w.dots(results); err != nil {
			return err
		}
	}
	if cfg.Output.SQLite != "" {
		if err := output.ExportSQLite(ctx, cfg.Output.SQLite, g, rec, nil); err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "wrote %s\n", cfg.Output.SQLite)
	}
	return nil
}

// buildCached returns one result per ref, in order. Results found in the
// cache are reused; the rest are built concurrently and stored.
func (a *app) buildCached(ctx context.Context, img *dump.Image, digest string, refs []*dump.Ref) ([]*callgraph.Result, error) {
	results := make([]*callgraph.Result, len(refs))

	var store *cache.Store
	if dir := a.cfg.Cache.Dir; dir != "" {
		cc := cache.DefaultConfig(dir)
		cc.Logger = a.logger
		s, err := cache.Open(cc)
		if err != nil {
			return nil, err
		}
		defer s.Close()
		store = s
	}
	key := func(ref *dump.Ref) cache.Key {
		return cache.Key{Image: digest, Options: a.optionsDigest(), Entry: ref.QualName()}
	}

	var todo []callgraph.Callable
	var todoIdx []int
	for i, ref := range refs {
		if store != nil {
			snap, err := store.Get(key(ref))
			switch {
			case err == nil:
				a.logger.Debug("cache hit", "entry", ref.QualName())
				results[i] = snap.Result()
				continue
			case !errors.Is(err, cache.ErrNotCached):
				return nil, err
			}
		}
		todo = append(todo, ref)
		todoIdx = append(todoIdx, i)
	}
	if len(todo) == 0 {
		return results, nil
	}

	_, fresh, err := a.builder(img).BuildAll(ctx, todo)
	if err != nil {
		return nil, err
	}
	for j, res := range fresh {
		i := todoIdx[j]
		results[i] = res
		if store != nil {
			if err := store.Put(key(refs[i]), cache.SnapshotOf(res)); err != nil {
				return nil, err
			}
		}
	}
	return results, nil
}

// listCached prints the entries cached for an image, one per line.
func (a *app) listCached(cmd *cobra.Command, imagePath string) error {
	if a.cfg.Cache.Dir == "" {
		return fmt.Errorf("--list-cached requires --cache")
	}
	_, digest, err := a.loadImage(imagePath)
	if err != nil {
		return err
	}
	cc := cache.DefaultConfig(a.cfg.Cache.Dir)
	cc.Logger = a.logger
	store, err := cache.Open(cc)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Entries(digest)
	if err != nil {
		return err
	}
	sort.Strings(entries)
	stdout := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintln(stdout, e)
	}
	fmt.Fprintf(a.stderr, "%d cached entries\n", len(entries))
	return nil
}

// wholeProgram merges results keyed by function, so a function reached from
// several entries contributes its calls once.
func wholeProgram(results []*callgraph.Result) *callgraph.Graph {
	subgraphs := make(map[string]*callgraph.Graph)
	var known []string
	for _, res := range results {
		for fn, sub := range res.Subgraphs {
			if _, ok := subgraphs[fn]; !ok {
				subgraphs[fn] = sub
			}
		}
		known = append(known, res.Known...)
	}
	return callgraph.Merge(subgraphs, known)
}

// combine unions the records, call sites and unresolved sites of several
// results. The first listing recorded for a name wins.
func combine(results []*callgraph.Result) (*callgraph.Record, map[string][]disasm.CallSite, []callgraph.Unresolved) {
	rec := callgraph.NewRecord()
	sites := make(map[string][]disasm.CallSite)
	var unresolved []callgraph.Unresolved
	seenUnres := make(map[string]bool)
	for _, res := range results {
		for _, name := range res.Record.Names() {
			insts, _ := res.Record.Get(name)
			rec.Add(name, insts)
		}
		for name, s := range res.Sites {
			if _, ok := sites[name]; !ok {
				sites[name] = s
			}
		}
		for _, u := range res.Unresolved {
			k := fmt.Sprintf("%s@%d", u.Func, u.Offset)
			if !seenUnres[k] {
				seenUnres[k] = true
				unresolved = append(unresolved, u)
			}
		}
	}
	return rec, sites, unresolved
}

type callgraphWriter struct {
	a          *app
	dir, title string
	g          *callgraph.Graph
	rec        *callgraph.Record
	sites      map[string][]disasm.CallSite
	unresolved []callgraph.Unresolved
	sg         *signal.SignalGraph
	sigCounts  map[string]int
}

func (w *callgraphWriter) funcInfos() []callgraph.FuncInfo {
	res := &callgraph.Result{Record: w.rec, Sites: w.sites}
	return res.FuncInfos()
}

// records writes functions.jsonl, call_edges.jsonl, unresolved.jsonl and
// callgraph.json.
func (w *callgraphWriter) records(results []*callgraph.Result) error {
	var funcs []disasm.FuncRecord
	var edges []disasm.CallEdgeRecord
	for _, name := range w.rec.Names() {
		insts, _ := w.rec.Get(name)
		fr := disasm.FuncRecord{Name: name, Insts: len(insts), Opaque: len(insts) == 0}
		if len(insts) > 0 {
			fr.Blocks = len(disasm.BuildCFG(name, insts).Blocks)
		}
		funcs = append(funcs, fr)
		edges = append(edges, disasm.EdgeRecords(name, w.sites[name])...)
	}
	unres := make([]disasm.UnresolvedRecord, len(w.unresolved))
	for i, u := range w.unresolved {
		unres[i] = disasm.UnresolvedRecord(u)
	}

	funcsPath := filepath.Join(w.dir, "functions.jsonl")
	if err := output.WriteJSONL(funcsPath, funcs); err != nil {
		return err
	}
	fmt.Fprintf(w.a.stderr, "wrote %s (%d functions)\n", funcsPath, len(funcs))

	edgesPath := filepath.Join(w.dir, "call_edges.jsonl")
	if err := output.WriteJSONL(edgesPath, edges); err != nil {
		return err
	}
	fmt.Fprintf(w.a.stderr, "wrote %s (%d edges)\n", edgesPath, len(edges))

	unresPath := filepath.Join(w.dir, "unresolved.jsonl")
	if err := output.WriteJSONL(unresPath, unres); err != nil {
		return err
	}
	fmt.Fprintf(w.a.stderr, "wrote %s (%d unresolved)\n", unresPath, len(unres))

	entries := make([]string, len(results))
	for i, r := range results {
		entries[i] = r.Entry
	}
	graphPath := filepath.Join(w.dir, "callgraph.json")
	doc := struct {
		Entries []string         `json:"entries"`
		Nodes   []string         `json:"nodes"`
		Edges   []callgraph.Edge `json:"edges"`
	}{entries, w.g.Nodes(), w.g.Edges()}
	if err := output.WriteJSON(graphPath, doc); err != nil {
		return err
	}
	fmt.Fprintf(w.a.stderr, "wrote %s\n", graphPath)
	return nil
}

// signals writes signals.jsonl, one finding per line, and signals.json, the
// functions ranked by role and severity.
func (w *callgraphWriter) signals(hops int) error {
	funcs := w.funcInfos()
	entries := make(map[string]bool)
	for _, ep := range render.FindEntryPoints(w.g, w.rec) {
		entries[ep] = true
	}
	sg := signal.BuildSignalGraph(funcs, w.g, hops, entries)
	findings := signal.Scan(funcs)
	w.sg = sg
	w.sigCounts = signal.Summarize(findings)

	findingsPath := filepath.Join(w.dir, "signals.jsonl")
	if err := output.WriteJSONL(findingsPath, findings); err != nil {
		return err
	}
	fmt.Fprintf(w.a.stderr, "wrote %s (%d findings)\n", findingsPath, len(findings))

	graphPath := filepath.Join(w.dir, "signals.json")
	if err := output.WriteJSON(graphPath, sg); err != nil {
		return err
	}
	fmt.Fprintf(w.a.stderr, "wrote %s (%d signal, %d context functions)\n",
		graphPath, sg.Stats.SignalFuncs, sg.Stats.ContextFuncs)
	return nil
}

func (w *callgraphWriter) listings() error {
	n := 0
	for _, fi := range w.funcInfos() {
		if err := output.WriteListing(w.dir, fi.Name, fi.Insts, disasm.CallSiteAnnotator(fi.Sites)); err != nil {
			return err
		}
		n++
	}
	fmt.Fprintf(w.a.stderr, "wrote %d listings to %s\n", n, filepath.Join(w.dir, "listings"))
	return nil
}

// dots writes the master graphs, per-function subgraphs, per-function CFGs
// and index.html.
func (w *callgraphWriter) dots(results []*callgraph.Result) error {
	t := render.NASA
	var graphs []string
	write := func(rel, src string) error {
		path, err := output.WriteDOT(w.dir, rel, src)
		if err != nil || path == "" {
			return err
		}
		graphs = append(graphs, rel)
		fmt.Fprintf(w.a.stderr, "wrote %s (%d bytes)\n", path, len(src))
		return nil
	}

	if err := write("callgraph.dot", render.CallgraphDOT(w.g, w.rec, w.title, t, w.a.cfg.Output.MaxNodes)); err != nil {
		return err
	}
	if err := write("ownergraph.dot", render.OwnergraphDOT(w.g, w.rec, w.title+" (owners)", t, 0)); err != nil {
		return err
	}
	if err := write("lattice_callgraph.dot", lrender.DOT(w.g.Lattice(), w.title)); err != nil {
		return err
	}

	entryPoints := render.FindEntryPoints(w.g, w.rec)
	reachable := render.ReachableSet(entryPoints, w.g)
	fmt.Fprintf(w.a.stderr, "entry points: %d, reachable: %d / %d\n",
		len(entryPoints), len(reachable), len(w.g.Nodes()))
	if err := write("reachable.dot", render.ReachabilityDOT(w.g, w.rec, reachable, entryPoints, w.title+" (reachable)", t)); err != nil {
		return err
	}
	if w.sg != nil {
		if err := write("signals.dot", render.SignalDOT(w.sg, w.title+" (signals)", t)); err != nil {
			return err
		}
	}

	// Per-function subgraphs, first run wins.
	subs := make(map[string]*callgraph.Graph)
	for _, res := range results {
		for fn, sub := range res.Subgraphs {
			if _, ok := subs[fn]; !ok {
				subs[fn] = sub
			}
		}
	}
	nsub := 0
	for fn, sub := range subs {
		if len(sub.Edges()) == 0 {
			continue
		}
		rel := filepath.Join("graphs", output.SafeFileName(fn)+".dot")
		if _, err := output.WriteDOT(w.dir, rel, lrender.DOT(sub.Lattice(), fn)); err != nil {
			return err
		}
		nsub++
	}
	fmt.Fprintf(w.a.stderr, "wrote %d per-function call graphs to %s\n", nsub, filepath.Join(w.dir, "graphs"))

	ncfg := 0
	for _, fi := range w.funcInfos() {
		cfg := disasm.BuildCFG(fi.Name, fi.Insts)
		if len(cfg.Blocks) < w.a.cfg.Output.MinBlocks {
			continue
		}
		if err := cfg.Malformed(); err != nil {
			w.a.logger.Warn("malformed jump", "err", err)
		}
		rel := filepath.Join("cfg", output.SafeFileName(fi.Name)+".dot")
		if _, err := output.WriteDOT(w.dir, rel, render.CFGDOT(cfg, t)); err != nil {
			return err
		}
		ncfg++
	}
	fmt.Fprintf(w.a.stderr, "wrote %d per-function CFG DOTs to %s\n", ncfg, filepath.Join(w.dir, "cfg"))

	indexPath := filepath.Join(w.dir, "index.html")
	f, err := os.Create(indexPath)
	if err != nil {
		return fmt.Errorf("create index.html: %w", err)
	}
	defer f.Close()
	render.WriteIndexHTML(f, render.IndexPage{
		Title:       w.title,
		Stats:       render.ComputeStats(w.g, w.rec, w.unresolved),
		Unresolved:  w.unresolved,
		EntryPoints: entryPoints,
		CFGCount:    ncfg,
		Graphs:      graphs,
		Signals:     w.sigCounts,
	})
	fmt.Fprintf(w.a.stderr, "wrote %s\n", indexPath)
	return nil
}
