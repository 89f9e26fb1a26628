package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"bytegraph/internal/cache"
	"bytegraph/internal/callgraph"
	"bytegraph/internal/config"
	"bytegraph/internal/disasm"
	"bytegraph/internal/dump"
	"bytegraph/internal/telemetry"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// app carries state shared by all subcommands of one invocation.
type app struct {
	configPath string
	logLevel   string
	metricsOut string
	trace      bool

	cfg      config.Config
	logger   *slog.Logger
	runID    string
	stderr   io.Writer
	shutdown telemetry.ShutdownFunc
}

func newRootCmd() *cobra.Command {
	a := &app{cfg: config.Default()}

	root := &cobra.Command{
		Use:   "bytegraph",
		Short: "Static call graph, CFG and import graph analyzer for bytecode images",
		Long: `bytegraph reads a JSON bytecode image and derives call graphs, per-function
control-flow graphs and module dependency graphs from it without running
any of the code.

Entry points are written module:qualname (app:Worker.run), or module for
the module body.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.teardown(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "configuration file (.toml, .yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.metricsOut, "metrics-out", "", "write Prometheus metrics to this file on exit")
	root.PersistentFlags().BoolVar(&a.trace, "trace", false, "print spans to stderr")

	root.AddCommand(
		newDisCmd(a),
		newCallgraphCmd(a),
		newCFGCmd(a),
		newDepsCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	a.stderr = cmd.ErrOrStderr()
	a.runID = uuid.NewString()

	var level slog.Level
	if err := level.UnmarshalText([]byte(a.logLevel)); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level})).
		With("run", a.runID)

	if a.configPath != "" {
		cfg, err := config.Load(a.configPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
	}

	if a.trace {
		shutdown, err := telemetry.SetupTracing(a.stderr, a.runID)
		if err != nil {
			return err
		}
		a.shutdown = shutdown
	}
	return nil
}

func (a *app) teardown(ctx context.Context) error {
	var errs []error
	if a.shutdown != nil {
		if ctx == nil {
			ctx = context.Background()
		}
		errs = append(errs, a.shutdown(ctx))
	}
	if a.metricsOut != "" {
		if err := telemetry.WriteMetrics(a.metricsOut); err != nil {
			errs = append(errs, err)
		} else {
			fmt.Fprintf(a.stderr, "wrote %s\n", a.metricsOut)
		}
	}
	return errors.Join(errs...)
}

// loadImage reads and parses an image, returning it with the digest of its
// bytes.
func (a *app) loadImage(path string) (*dump.Image, string, error) {
	if path == "" {
		return nil, "", fmt.Errorf("--image is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	img, err := dump.Parse(bytes.NewReader(data), dump.WithReceiver(a.cfg.Resolver.ReceiverName))
	if err != nil {
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	a.logger.Debug("image loaded", "path", path, "modules", len(img.Modules), "python", img.Python)
	return img, cache.Digest(data), nil
}

// lookupEntries resolves entry arguments. With no arguments every unit of
// the image is returned.
func lookupEntries(img *dump.Image, args []string) ([]*dump.Ref, error) {
	if len(args) == 0 {
		return img.Functions(), nil
	}
	refs := make([]*dump.Ref, 0, len(args))
	for _, arg := range args {
		ref, err := img.Lookup(arg)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (a *app) resolveOptions() disasm.ResolveOptions {
	return disasm.ResolveOptions{
		MaxSteps: a.cfg.Resolver.MaxSteps,
		MaxChain: a.cfg.Resolver.MaxChain,
	}
}

func (a *app) builder(img *dump.Image) *callgraph.Builder {
	return callgraph.NewBuilder(img, img,
		callgraph.WithLogger(a.logger),
		callgraph.WithResolveOptions(a.resolveOptions()),
		callgraph.WithUnknownPlaceholders(a.cfg.CallGraph.UnknownPlaceholders),
		callgraph.WithRawFallback(a.cfg.Resolver.RawFallback),
		callgraph.WithWorkers(a.cfg.CallGraph.Workers),
	)
}

// optionsDigest fingerprints the settings that change a call graph.
func (a *app) optionsDigest() string {
	r := a.cfg.Resolver
	return cache.OptionsDigest(r.MaxSteps, r.MaxChain, r.ReceiverName, r.RawFallback,
		a.cfg.CallGraph.UnknownPlaceholders)
}

// titleFor builds a graph title from the image path and entries.
func titleFor(imagePath string, entries []string) string {
	title := imagePath
	if len(entries) > 0 && len(entries) <= 3 {
		title += " " + strings.Join(entries, ", ")
	}
	return title
}

// overrideString copies a flag into dst when it was set on the command line.
func overrideString(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetString(name)
	}
}

func overrideBool(cmd *cobra.Command, name string, dst *bool) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetBool(name)
	}
}

func overrideInt(cmd *cobra.Command, name string, dst *int) {
	if cmd.Flags().Changed(name) {
		*dst, _ = cmd.Flags().GetInt(name)
	}
}
