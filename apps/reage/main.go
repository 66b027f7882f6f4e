package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PhantomInTheWire/reage-pipeline/pkg/config"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/logging"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/model"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/model/wasm"
	"github.com/PhantomInTheWire/reage-pipeline/pkg/pipeline"
)

// app carries state shared by every subcommand of one invocation.
type app struct {
	cfgPath string
	verbose bool

	// pipeline and model overrides; applied only when set on the command line
	window      int
	stride      int
	workers     int
	blend       string
	tileTimeout string
	backend     string
	wasmPath    string

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	root := &cobra.Command{
		Use:   "reage",
		Short: "Tiled face re-aging for images and video",
		Long: `reage applies an age-transformation model to photographs and video frames.

Large inputs are cut into overlapping window×window tiles, each tile is run
through the model with the source and target age, and the outputs are
blended back into a seamless full-resolution result.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = a.logger.Sync()
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", "reage.yaml", "config file")
	pf.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")
	pf.IntVar(&a.window, "window", 0, "tile window size in pixels")
	pf.IntVar(&a.stride, "stride", 0, "distance between tile origins")
	pf.IntVar(&a.workers, "workers", 0, "concurrent tile inferences per image")
	pf.StringVar(&a.blend, "blend", "", "blend weights: uniform or linear")
	pf.StringVar(&a.tileTimeout, "tile-timeout", "", "per-tile inference timeout, e.g. 30s")
	pf.StringVar(&a.backend, "backend", "", "model backend: identity or wasm")
	pf.StringVar(&a.wasmPath, "wasm", "", "path to the wasm model")

	root.AddCommand(
		newImageCmd(a),
		newVideoCmd(a),
		newBatchCmd(a),
		newSplitCmd(a),
		newSubmitCmd(a),
		newEnqueueCmd(a),
		newWorkerCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("window") {
		cfg.Pipeline.WindowSize = a.window
	}
	if flags.Changed("stride") {
		cfg.Pipeline.Stride = a.stride
	}
	if flags.Changed("workers") {
		cfg.Pipeline.Workers = a.workers
	}
	if flags.Changed("blend") {
		cfg.Pipeline.Blend = a.blend
	}
	if flags.Changed("tile-timeout") {
		cfg.Pipeline.TileTimeout = a.tileTimeout
	}
	if flags.Changed("wasm") {
		cfg.Model.WasmPath = a.wasmPath
		cfg.Model.Backend = "wasm"
	}
	if flags.Changed("backend") {
		cfg.Model.Backend = a.backend
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging, a.verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) options() (pipeline.Options, error) {
	return a.cfg.PipelineOptions(a.logger)
}

// openModel builds the configured backend. Callers own the returned model
// and must Close it.
func (a *app) openModel() (model.Model, error) {
	var m model.Model
	switch a.cfg.Model.Backend {
	case "identity":
		m = model.Identity{}
	case "wasm":
		wm, err := wasm.New(a.cfg.Model.WasmPath, a.cfg.Model.VMPool, a.logger)
		if err != nil {
			return nil, err
		}
		m = wm
	default:
		return nil, fmt.Errorf("unknown model backend %q", a.cfg.Model.Backend)
	}
	if a.cfg.Model.Serialize {
		m = model.Serialized(m)
	}
	return m, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
