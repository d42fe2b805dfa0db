package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/notecove/notecove/internal/config"
	"github.com/notecove/notecove/internal/coordinator"
	"github.com/notecove/notecove/internal/metadatacache"
)

// skipConfigAnnotation marks a command whose RunE handles its own config
// loading (or needs none at all), bypassing PersistentPreRunE's automatic
// load-and-resolve.
const skipConfigAnnotation = "skipConfig"

// cliFlags holds the persistent flag values bound at root-command
// construction time.
type cliFlags struct {
	ConfigPath string
	Profile    string
	JSON       bool
	Quiet      bool
	Verbose    bool
	Debug      bool
}

// CLIContext carries everything a command's RunE needs once config has
// been resolved: the effective profile, a logger built from its Logging
// section, a Coordinator wired to every SD the profile knows about, and
// the raw flag values for commands that branch on them (--json, --quiet).
type CLIContext struct {
	Cfg         *config.ResolvedProfile
	Logger      *slog.Logger
	Coordinator *coordinator.Coordinator
	Cache       *metadatacache.Cache
	Flags       cliFlags
}

type cliContextKeyType struct{}

var cliContextKey cliContextKeyType

// cliContextFrom returns the CLIContext stored in ctx, or nil if none was
// stored (commands annotated with skipConfigAnnotation must check for nil).
func cliContextFrom(ctx context.Context) *CLIContext {
	cc, _ := ctx.Value(cliContextKey).(*CLIContext)
	return cc
}

// mustCLIContext returns the CLIContext stored in ctx, panicking if absent.
// Safe to call from any command that did not opt out of config loading.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc := cliContextFrom(ctx)
	if cc == nil {
		panic("notecove: CLIContext missing from command context")
	}
	return cc
}

var flags cliFlags

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "notecove",
		Short:         "Local-first, multi-device collaborative note storage",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipConfigAnnotation] == "true" {
				return nil
			}
			return loadConfig(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.ConfigPath, "config", "", "path to config.toml (overrides NOTECOVE_CONFIG and the platform default)")
	pf.StringVar(&flags.Profile, "profile", "", "profile name to use (overrides NOTECOVE_PROFILE)")
	pf.BoolVar(&flags.JSON, "json", false, "emit machine-readable JSON instead of text")
	pf.BoolVar(&flags.Quiet, "quiet", false, "suppress non-essential status output")
	pf.BoolVar(&flags.Verbose, "verbose", false, "enable debug-level logging")
	pf.BoolVar(&flags.Debug, "debug", false, "alias for --verbose")
	root.MarkFlagsMutuallyExclusive("verbose", "debug", "quiet")

	root.AddCommand(
		newSDCmd(),
		newNoteCmd(),
		newFolderCmd(),
		newImageCmd(),
		newStatusCmd(),
		newPollingCmd(),
		newDiagnosticsCmd(),
		newDaemonCmd(),
		newVerifyCmd(),
		newConfigCmd(),
	)

	return root
}

// loadConfig resolves the effective config file path, loads it (or falls
// back to defaults on a fresh install), resolves the active profile, builds
// a logger from its Logging section, opens the profile's MetadataCache, and
// stores the result in cmd's context for every subcommand's RunE to read.
func loadConfig(cmd *cobra.Command) error {
	bootstrapLogger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	env := config.ReadEnvOverrides()
	cfgPath := config.ResolveConfigPath(env, flags.ConfigPath, bootstrapLogger)

	cfg, err := config.LoadOrDefault(cfgPath, bootstrapLogger)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	profileName := flags.Profile
	if profileName == "" {
		profileName = env.Profile
	}

	var rp *config.ResolvedProfile
	if len(cfg.Profiles) == 0 {
		// Zero-config first run: synthesize an unnamed default profile from
		// the global sections so sd register can bootstrap one.
		rp = &config.ResolvedProfile{Name: "default", Polling: cfg.Polling, Logging: cfg.Logging}
	} else {
		rp, err = config.ResolveProfile(cfg, profileName)
		if err != nil {
			return err
		}
	}

	logger := buildLogger(rp)

	cache, err := metadatacache.Open(config.ProfileCachePath(rp.Name), logger)
	if err != nil {
		return fmt.Errorf("opening metadata cache: %w", err)
	}

	coord := coordinator.New(rp.ProfileID, cache, logger)
	for sdID, sd := range cfg.SDs {
		if err := registerConfiguredSD(coord, sdID, sd, logger); err != nil {
			logger.Warn("notecove: skipping sd at startup", slog.String("sd", sdID), slog.Any("err", err))
		}
	}

	cc := &CLIContext{Cfg: rp, Logger: logger, Coordinator: coord, Cache: cache, Flags: flags}
	cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey, cc))

	return nil
}

// buildLogger constructs the process logger. The config file's log_level is
// the baseline; --verbose/--debug raise it to debug, --quiet raises the
// threshold to error so only failures reach stderr.
func buildLogger(rp *config.ResolvedProfile) *slog.Logger {
	level := parseLevel(rp.Logging.LogLevel)

	switch {
	case flags.Verbose || flags.Debug:
		level = slog.LevelDebug
	case flags.Quiet:
		level = slog.LevelError
	}

	var handler slog.Handler
	w := os.Stderr

	opts := &slog.HandlerOptions{Level: level}
	if rp.Logging.LogFormat == "json" || (rp.Logging.LogFormat == "auto" && !isatty.IsTerminal(w.Fd())) {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// exitOnError prints err to stderr and exits the process with status 1.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "notecove: %v\n", err)
	os.Exit(1)
}
