package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/use-agent/portharvest/config"
	"github.com/use-agent/portharvest/harvest"
	"github.com/use-agent/portharvest/session"
	"github.com/use-agent/portharvest/sink"
	"github.com/use-agent/portharvest/webhook"
)

var flags struct {
	configFile string
	url        string
	outDir     string
	mode       string
	maxPages   int
}

var rootCmd = &cobra.Command{
	Use:   "portharvest",
	Short: "portharvest scrapes a paginated port listing into spreadsheet and CSV files.",
	Long: `portharvest opens the port listing, collects every record on every page
by following the next-page control, and writes the result to the configured
sinks (xlsx and csv by default). Settings come from HARVEST_* environment
variables, an optional YAML file and the flags below, in that order.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.configFile, "config", "", "YAML config file overlaid on the environment")
	f.StringVar(&flags.url, "url", "", "start URL of the listing")
	f.StringVar(&flags.outDir, "out-dir", "", "directory for output files")
	f.StringVar(&flags.mode, "mode", "", `session mode: "browser" or "http"`)
	f.IntVar(&flags.maxPages, "max-pages", 0, "stop after this many pages (0 = no limit)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	// ── 1. Load configuration ───────────────────────────────────────
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// ── 2. Initialise structured logging ────────────────────────────
	closeLog := initLogger(cfg.Log)
	defer closeLog()
	slog.Info("portharvest starting",
		"url", cfg.Target.URL,
		"mode", cfg.Browser.Mode,
		"sinks", cfg.Output.Sinks,
		"maxPages", cfg.Pagination.MaxPages,
	)

	// ── 3. Build sinks and notifier ─────────────────────────────────
	sinks, err := sink.FromConfig(cfg.Output)
	if err != nil {
		return err
	}
	var opts []harvest.Option
	if n := webhook.NewNotifier(cfg.Webhook); n != nil {
		opts = append(opts, harvest.WithNotifier(n))
	}

	// ── 4. Harvest ──────────────────────────────────────────────────
	open := func() (session.Session, error) { return session.New(cfg) }
	sum, err := harvest.New(cfg, open, sinks, opts...).Harvest(cmd.Context())
	if err != nil {
		return err
	}

	for _, s := range sum.Sinks {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d records -> %s\n", s.Name, s.Written, s.Path)
	}
	return nil
}

// loadConfig layers environment, YAML file and flags, then validates.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()

	if flags.configFile != "" {
		var err error
		if cfg, err = config.LoadFile(flags.configFile, cfg); err != nil {
			return nil, err
		}
	}

	f := cmd.Flags()
	if f.Changed("url") {
		cfg.Target.URL = flags.url
	}
	if f.Changed("out-dir") {
		cfg.Output.Dir = flags.outDir
	}
	if f.Changed("mode") {
		cfg.Browser.Mode = flags.mode
	}
	if f.Changed("max-pages") {
		cfg.Pagination.MaxPages = flags.maxPages
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// initLogger configures slog based on the LogConfig. When a log file is set,
// records go to stderr and to a size-rotated file. The returned func closes
// the file.
func initLogger(cfg config.LogConfig) func() {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var (
		out     io.Writer = os.Stderr
		closeFn           = func() {}
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename:  cfg.File,
			MaxSize:   cfg.MaxSizeMB,
			LocalTime: true,
		}
		out = io.MultiWriter(os.Stderr, lj)
		closeFn = func() { _ = lj.Close() }
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))
	return closeFn
}
