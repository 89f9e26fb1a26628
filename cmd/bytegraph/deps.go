package main

import (
	"fmt"
	"path/filepath"

	"bytegraph/internal/depgraph"
	"bytegraph/internal/output"
	"bytegraph/internal/render"

	"github.com/spf13/cobra"
)

func newDepsCmd(a *app) *cobra.Command {
	var imagePath, root string
	cmd := &cobra.Command{
		Use:   "deps --image <json> [--root <dir>] --out <dir> <module>",
		Short: "Write the module dependency graph of an entry module",
		Long: `Follow imports breadth-first from a module. Modules whose source is found
under --root are expanded; everything else is an external library leaf.

Without --root a module counts as local when the image holds it together
with a source file name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(cmd, a, imagePath, root, args[0])
		},
	}
	cmd.Flags().StringVar(&imagePath, "image", "", "bytecode image (JSON)")
	cmd.Flags().StringVar(&root, "root", "", "project source root")
	cmd.Flags().String("out", "out", "output directory")
	cmd.Flags().String("sqlite", "", "also export modules and imports to this SQLite file")
	return cmd
}

func runDeps(cmd *cobra.Command, a *app, imagePath, root, entry string) error {
	overrideString(cmd, "out", &a.cfg.Output.Dir)
	overrideString(cmd, "sqlite", &a.cfg.Output.SQLite)

	img, _, err := a.loadImage(imagePath)
	if err != nil {
		return err
	}

	opts := []depgraph.Option{depgraph.WithLogger(a.logger)}
	if root == "" {
		opts = append(opts, depgraph.WithLocator(img))
	}
	g, err := depgraph.NewBuilder(img, root, opts...).Build(cmd.Context(), entry)
	if err != nil {
		return err
	}

	local := 0
	for _, n := range g.Nodes() {
		if n.Kind == depgraph.LocalFile {
			local++
		}
	}
	fmt.Fprintf(a.stderr, "%s: %d modules (%d local), %d imports\n",
		entry, len(g.Nodes()), local, len(g.Edges()))

	path, err := output.WriteDOT(a.cfg.Output.Dir, "deps.dot", render.DepgraphDOT(g, entry, render.NASA))
	if err != nil {
		return err
	}
	fmt.Fprintf(a.stderr, "wrote %s\n", path)

	if db := a.cfg.Output.SQLite; db != "" {
		if err := output.ExportSQLite(cmd.Context(), db, nil, nil, g); err != nil {
			return err
		}
		fmt.Fprintf(a.stderr, "wrote %s\n", filepath.Clean(db))
	}
	return nil
}
