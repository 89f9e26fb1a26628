package main

import (
	"errors"
	"fmt"

	"bytegraph/internal/callgraph"
	"bytegraph/internal/disasm"
	"bytegraph/internal/output"

	"github.com/spf13/cobra"
)

func newDisCmd(a *app) *cobra.Command {
	var imagePath, outDir string
	cmd := &cobra.Command{
		Use:   "dis --image <json> [--out dir] [entry...]",
		Short: "Print annotated instruction listings",
		Long: `Print instruction listings with resolved call targets.

Without --out the listings go to stdout. With --out each unit is written to
<out>/listings/<name>.txt. Without entries every unit of the image is listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDis(cmd, a, imagePath, outDir, args)
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "bytecode image (JSON)")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (default stdout)")
	cmd.Flags().Bool("raw-fallback", false, "show a best-effort guess for unresolved calls")
	return cmd
}

func runDis(cmd *cobra.Command, a *app, imagePath, outDir string, args []string) error {
	overrideBool(cmd, "raw-fallback", &a.cfg.Resolver.RawFallback)

	img, _, err := a.loadImage(imagePath)
	if err != nil {
		return err
	}
	refs, err := lookupEntries(img, args)
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	written := 0
	for _, ref := range refs {
		name := ref.QualName()
		insts, err := img.Decode(ref)
		if errors.Is(err, callgraph.ErrDecodeUnavailable) {
			a.logger.Debug("no bytecode", "unit", name)
			continue
		}
		if err != nil {
			return err
		}

		sites := disasm.ExtractCallSites(insts, a.resolveOptions(), a.cfg.Resolver.RawFallback)
		ann := disasm.CallSiteAnnotator(sites)
		if outDir == "" {
			fmt.Fprintf(stdout, "== %s ==\n%s\n", name, disasm.Format(insts, ann))
		} else if err := output.WriteListing(outDir, name, insts, ann); err != nil {
			return err
		}
		written++
	}

	if outDir != "" {
		fmt.Fprintf(a.stderr, "wrote %d listings to %s/listings\n", written, outDir)
	}
	return nil
}
