package main

import (
	"errors"
	"fmt"
	"path/filepath"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/disasm"
	"bytegraph/internal/output"
	"bytegraph/internal/render"

	"github.com/spf13/cobra"
	"github.com/zboralski/lattice"
	lrender "github.com/zboralski/lattice/render"
)

func newCFGCmd(a *app) *cobra.Command {
	var imagePath string
	var summary bool
	cmd := &cobra.Command{
		Use:   "cfg --image <json> --out <dir> [entry...]",
		Short: "Write per-function control-flow graphs",
		Long: `Partition each unit into basic blocks and write one DOT file per unit to
<out>/cfg, plus a combined cfg.dot with call sites attached to blocks.

--summary also writes summary.dot: one block per unit listing the callees
and string constants it touches.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCFG(cmd, a, imagePath, summary, args)
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "bytecode image (JSON)")
	cmd.Flags().BoolVar(&summary, "summary", false, "also write a callee/string summary graph")
	cmd.Flags().String("out", "out", "output directory")
	cmd.Flags().Int("min-blocks", 1, "skip units with fewer basic blocks")
	return cmd
}

func runCFG(cmd *cobra.Command, a *app, imagePath string, summary bool, args []string) error {
	overrideString(cmd, "out", &a.cfg.Output.Dir)
	overrideInt(cmd, "min-blocks", &a.cfg.Output.MinBlocks)
	outDir := a.cfg.Output.Dir

	img, _, err := a.loadImage(imagePath)
	if err != nil {
		return err
	}
	refs, err := lookupEntries(img, args)
	if err != nil {
		return err
	}

	var funcs []callgraph.FuncInfo
	summaries := &lattice.CFGGraph{}
	malformed := 0
	for _, ref := range refs {
		name := ref.QualName()
		insts, err := img.Decode(ref)
		if errors.Is(err, callgraph.ErrDecodeUnavailable) {
			continue
		}
		if err != nil {
			return err
		}

		cfg := disasm.BuildCFG(name, insts)
		if len(cfg.Blocks) < a.cfg.Output.MinBlocks {
			continue
		}
		if err := cfg.Malformed(); err != nil {
			a.logger.Warn("malformed jump", "err", err)
			malformed++
		}
		sites := disasm.ExtractCallSites(insts, a.resolveOptions(), a.cfg.Resolver.RawFallback)

		rel := filepath.Join("cfg", output.SafeFileName(name)+".dot")
		if _, err := output.WriteDOT(outDir, rel, render.CFGDOT(cfg, render.NASA)); err != nil {
			return err
		}
		funcs = append(funcs, callgraph.FuncInfo{Name: name, Insts: insts, Sites: sites})
		if summary {
			summaries.Funcs = append(summaries.Funcs, callgraph.BuildSummaryFuncCFG(name, insts, sites))
		}
	}
	fmt.Fprintf(a.stderr, "wrote %d per-function CFG DOTs to %s (%d with malformed jumps)\n",
		len(funcs), filepath.Join(outDir, "cfg"), malformed)

	if len(funcs) == 0 {
		return nil
	}
	title := titleFor(imagePath, args)
	path, err := output.WriteDOT(outDir, "cfg.dot", lrender.DOTCFG(callgraph.BuildCFG(funcs), title))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "wrote %s\n", path)

	if summary {
		path, err := output.WriteDOT(outDir, "summary.dot", lrender.DOTCFG(summaries, title+" (summary)"))
		if err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "wrote %s\n", path)
	}
	return nil
}
