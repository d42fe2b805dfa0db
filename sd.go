package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/notecove/notecove/internal/config"
	"github.com/notecove/notecove/internal/coordinator"
	"github.com/notecove/notecove/internal/fsadapter"
	"github.com/notecove/notecove/internal/sdstore"
)

func newSDCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sd",
		Short: "Manage registered storage directories",
	}
	cmd.AddCommand(newSDRegisterCmd(), newSDUnregisterCmd(), newSDCheckCmd(), newSDMigrateCmd())
	return cmd
}

func newSDRegisterCmd() *cobra.Command {
	var displayName string
	cmd := &cobra.Command{
		Use:   "register <sd-id> <path>",
		Short: "Register a directory as a storage directory for the active profile",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			sdID, path := args[0], args[1]

			abs, err := resolveSDPath(path)
			if err != nil {
				return err
			}

			adapter := fsadapter.NewOSAdapter(abs, cc.Logger)
			result, err := sdstore.CheckVersion(adapter)
			if err != nil {
				return fmt.Errorf("checking storage directory: %w", err)
			}
			if !result.Compatible {
				if result.Reason != sdstore.ReasonTooOld {
					return fmt.Errorf("incompatible storage directory (version %d, reason %s)", result.Version, result.Reason)
				}
				cc.Logger.Info("sd is on an older schema version, migrating", "sd", sdID, "version", result.Version)
				if err := cc.Coordinator.MigrateSD(adapter); err != nil {
					return fmt.Errorf("migrating storage directory: %w", err)
				}
			}

			cfgPath := config.ResolveConfigPath(config.ReadEnvOverrides(), cc.Flags.ConfigPath, cc.Logger)
			if err := writeSDSection(cfgPath, sdID, abs, displayName); err != nil {
				return err
			}

			if err := cc.Coordinator.RegisterSD(sdID, adapter); err != nil {
				return fmt.Errorf("registering sd with running coordinator: %w", err)
			}

			cc.Statusf("Registered sd %q at %s\n", sdID, abs)
			return nil
		},
	}
	cmd.Flags().StringVar(&displayName, "display-name", "", "human-readable name shown in listings")
	return cmd
}

// writeSDSection appends or updates the [sd.<id>] section in the config
// file, creating the file from the default template if it does not exist.
func writeSDSection(cfgPath, sdID, abs, displayName string) error {
	var err error
	if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
		err = config.CreateConfigWithSD(cfgPath, sdID, abs)
	} else {
		err = config.AppendSDSection(cfgPath, sdID, abs)
	}
	if err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if displayName != "" {
		if err := config.SetSDKey(cfgPath, sdID, "display_name", displayName); err != nil {
			return fmt.Errorf("setting display_name: %w", err)
		}
	}
	return nil
}

func newSDUnregisterCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <sd-id>",
		Short: "Remove a storage directory from the active profile (does not delete files)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			sdID := args[0]

			cfgPath := config.ResolveConfigPath(config.ReadEnvOverrides(), cc.Flags.ConfigPath, cc.Logger)
			if err := config.DeleteSDSection(cfgPath, sdID); err != nil {
				return fmt.Errorf("removing sd from config: %w", err)
			}
			_ = cc.Coordinator.UnregisterSD(sdID)

			cc.Statusf("Unregistered sd %q\n", sdID)
			return nil
		},
	}
}

func newSDCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <sd-id>",
		Short: "Check a storage directory's on-disk schema version for compatibility",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := adapterForSD(cc, args[0])
			if err != nil {
				return err
			}

			result, err := cc.Coordinator.CheckSDVersion(adapter)
			if err != nil {
				return fmt.Errorf("checking version: %w", err)
			}

			if result.Compatible {
				cc.Statusf("sd %q is compatible (version %d)\n", args[0], result.Version)
				return nil
			}

			return fmt.Errorf("sd %q is not compatible: version %d, reason %s", args[0], result.Version, result.Reason)
		},
	}
}

func newSDMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate <sd-id>",
		Short: "Migrate a storage directory's on-disk schema to the current version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			adapter, err := adapterForSD(cc, args[0])
			if err != nil {
				return err
			}

			if err := cc.Coordinator.MigrateSD(adapter); err != nil {
				return fmt.Errorf("migrating sd %q: %w", args[0], err)
			}

			cfgPath := config.ResolveConfigPath(config.ReadEnvOverrides(), cc.Flags.ConfigPath, cc.Logger)
			_ = config.SetSDKey(cfgPath, args[0], "last_known_version", fmt.Sprintf("%d", sdstore.CurrentVersion))

			cc.Statusf("Migrated sd %q to version %d\n", args[0], sdstore.CurrentVersion)
			return nil
		},
	}
}

// adapterForSD resolves sdID against the active profile's configured SDs
// and returns a fresh OSAdapter over its path, independent of whether the
// sd is currently registered with the running Coordinator.
func adapterForSD(cc *CLIContext, sdID string) (fsadapter.Adapter, error) {
	cfgPath := config.ResolveConfigPath(config.ReadEnvOverrides(), cc.Flags.ConfigPath, cc.Logger)
	cfg, err := config.LoadOrDefault(cfgPath, cc.Logger)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	sd, ok := cfg.SDs[sdID]
	if !ok {
		return nil, fmt.Errorf("sd %q not found in config", sdID)
	}
	return fsadapter.NewOSAdapter(sd.Path, cc.Logger), nil
}

// resolveSDPath validates that path exists and is a directory, returning
// its absolute form.
func resolveSDPath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%s: %w", path, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// registerConfiguredSD brings one config-file SD online at startup: checks
// its version, skips (rather than fails the whole process) if it's
// incompatible, and registers it with the Coordinator.
func registerConfiguredSD(coord *coordinator.Coordinator, sdID string, sd config.SD, logger *slog.Logger) error {
	adapter := fsadapter.NewOSAdapter(sd.Path, logger)
	result, err := sdstore.CheckVersion(adapter)
	if err != nil {
		return err
	}
	if !result.Compatible {
		return fmt.Errorf("sd %q is not compatible: version %d, reason %s", sdID, result.Version, result.Reason)
	}
	return coord.RegisterSD(sdID, adapter)
}
