// Package main provides the slowpokefs command: a passthrough FUSE mount
// that delays every operation.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	_ "go.uber.org/automaxprocs"

	"github.com/ajaxzhan/slowpokefs/internal/config"
	slowfs "github.com/ajaxzhan/slowpokefs/internal/fs"
	"github.com/ajaxzhan/slowpokefs/internal/latency"
	"github.com/ajaxzhan/slowpokefs/internal/logging"
	"github.com/ajaxzhan/slowpokefs/internal/metrics"
	"github.com/ajaxzhan/slowpokefs/internal/server"
	"github.com/ajaxzhan/slowpokefs/internal/trace"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "0.2.0"

const usageText = `USAGE: slowpokefs [options] -F <actual folder> <mount point>

Options:
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// flags holds the parsed command line. Only flags the user set override
// the configuration file.
type flags struct {
	configPath   string
	root         string
	minDelay     int64
	maxDelay     int64
	debug        bool
	noReadDelay  bool
	noWriteDelay bool
	single       bool
	allowOther   bool
	version      bool
	set          map[string]bool
	mountPoint   string
}

func parseFlags(args []string, stderr io.Writer) (*flags, error) {
	f := &flags{set: make(map[string]bool)}

	fs := flag.NewFlagSet("slowpokefs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usageText)
		fs.PrintDefaults()
	}

	fs.StringVar(&f.configPath, "config", "", "Path to configuration file (YAML)")
	fs.StringVar(&f.root, "F", "", "Real directory to expose")
	fs.StringVar(&f.root, "root", "", "Alias for -F")
	fs.Int64Var(&f.minDelay, "m", 0, "Minimum delay in milliseconds (default 2000)")
	fs.Int64Var(&f.maxDelay, "M", 0, "Maximum delay in milliseconds (default 5000)")
	fs.BoolVar(&f.debug, "debug", false, "Trace every operation to stderr")
	fs.BoolVar(&f.noReadDelay, "no-read-delay", false, "Do not delay read operations")
	fs.BoolVar(&f.noWriteDelay, "no-write-delay", false, "Do not delay write operations")
	fs.BoolVar(&f.single, "single", false, "Serve requests on a single thread")
	fs.BoolVar(&f.allowOther, "allow-other", false, "Allow other users to access the mount")
	fs.BoolVar(&f.version, "v", false, "Print version and exit")
	fs.BoolVar(&f.version, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(fl *flag.Flag) {
		f.set[fl.Name] = true
	})
	if fs.NArg() > 1 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args()[1:])
	}
	f.mountPoint = fs.Arg(0)
	return f, nil
}

// apply overrides cfg with the flags given on the command line.
func (f *flags) apply(cfg *config.Config) {
	if f.set["F"] || f.set["root"] {
		cfg.Mount.RootDir = f.root
	}
	if f.mountPoint != "" {
		cfg.Mount.MountPoint = f.mountPoint
	}
	if f.set["m"] {
		cfg.Delay.MinMs = f.minDelay
	}
	if f.set["M"] {
		cfg.Delay.MaxMs = f.maxDelay
	}
	if f.debug {
		cfg.Trace.Debug = true
	}
	if f.noReadDelay {
		cfg.Delay.Read = false
	}
	if f.noWriteDelay {
		cfg.Delay.Write = false
	}
	if f.single {
		cfg.Mount.SingleThreaded = true
	}
	if f.allowOther {
		cfg.Mount.AllowOther = true
	}
}

// loadConfig builds the validated configuration from the command line.
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.LoadOrDefault(f.configPath)
	if err != nil {
		return nil, err
	}
	f.apply(cfg)

	if cfg.Mount.RootDir == "" {
		return nil, errors.New("you didn't specify a real folder (-F)")
	}
	if err := cfg.ResolveRoot(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	f, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}
	if f.version {
		fmt.Fprintf(stdout, "Slowpokefs - %s\n", Version)
		return 0
	}

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(stderr, "slowpokefs: %v\n", err)
		return 1
	}

	if err := logging.Init(&logging.Config{
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		File:    cfg.Logging.File,
		NoColor: cfg.Logging.NoColor,
	}); err != nil {
		fmt.Fprintf(stderr, "slowpokefs: failed to initialize logging: %v\n", err)
		return 1
	}
	defer logging.Sync()

	if err := serve(cfg, stderr); err != nil {
		logging.Error("Mount failed", logging.Err(err))
		return 1
	}
	return 0
}

// serve mounts the filesystem and blocks until SIGINT or SIGTERM.
func serve(cfg *config.Config, stderr io.Writer) error {
	collector, err := metrics.NewCollector(nil)
	if err != nil {
		return err
	}

	mc := cfg.MountOptions()
	tracer := trace.New(mc.Debug, stderr)
	defer tracer.Sync()

	d, err := slowfs.NewDispatcher(mc, slowfs.Options{
		Delayer:  latency.New(mc),
		Tracer:   tracer,
		Recorder: collector,
	})
	if err != nil {
		return err
	}
	defer d.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ctrl *server.Server
	if cfg.Control.Enabled {
		ctrl, err = server.New(&server.Config{
			GRPCSocket: cfg.Control.GRPCSocket,
			HTTPSocket: cfg.Control.HTTPSocket,
		}, collector.Handler())
		if err != nil {
			return err
		}
		if err := ctrl.Listen(); err != nil {
			return err
		}
		go func() {
			if err := ctrl.Serve(ctx); err != nil {
				logging.Error("Control server failed", logging.Err(err))
			}
		}()
	}

	if !mc.ReadDelay && !mc.WriteDelay && len(mc.Rules) == 0 {
		logging.Warn("Both delay classes are disabled, operations pass through without latency")
	}

	ready := func(id string) {
		logging.With(logging.String("mount_id", id)).Info("Filesystem mounted",
			logging.String("root", mc.RootDir),
			logging.String("mount_point", cfg.Mount.MountPoint),
			logging.Int64("min_ms", mc.MinDelay),
			logging.Int64("max_ms", mc.MaxDelay),
			logging.Bool("read_delay", mc.ReadDelay),
			logging.Bool("write_delay", mc.WriteDelay),
		)
		if ctrl != nil {
			ctrl.SetServing(true)
		}
	}

	err = mount(ctx, cfg, d, ready)
	if ctrl != nil {
		ctrl.SetServing(false)
	}
	if errors.Is(err, context.Canceled) {
		logging.Info("Filesystem unmounted", logging.String("mount_point", cfg.Mount.MountPoint))
		return nil
	}
	return err
}
