package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/notecove/notecove/internal/config"
)

// daemonPIDPath returns the PID file path for the active profile's daemon,
// under the platform data directory.
func daemonPIDPath(profileName string) string {
	dataDir := config.DefaultDataDir()
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "run", profileName+".pid")
}

// daemonSocketPath returns the Unix socket path the daemon's IPC hub
// listens on for the active profile.
func daemonSocketPath(profileName string) string {
	dataDir := config.DefaultDataDir()
	if dataDir == "" {
		return ""
	}
	return filepath.Join(dataDir, "run", profileName+".sock")
}

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run and control the background polling/sync daemon",
	}
	cmd.AddCommand(newDaemonStartCmd(), newDaemonStopCmd(), newDaemonPauseCmd(), newDaemonResumeCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the background daemon in the foreground",
		Long: `Starts PollingGroup ticking, ActivitySync fallback polling, and orphan
sweeps for every registered storage directory, and serves the IPC event
hub over a local Unix socket for connected host-editor windows.

Runs in the foreground; use a process supervisor or '&' to background it.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			pidPath := daemonPIDPath(cc.Cfg.Name)
			if pidPath != "" {
				if err := os.MkdirAll(filepath.Dir(pidPath), 0o755); err != nil {
					return fmt.Errorf("creating run directory: %w", err)
				}
				cleanup, err := writePIDFile(pidPath)
				if err != nil {
					return fmt.Errorf("writing pid file: %w", err)
				}
				defer cleanup()
			}

			ctx := shutdownContext(cmd.Context(), cc.Logger)

			sockPath := daemonSocketPath(cc.Cfg.Name)
			if sockPath != "" {
				_ = os.Remove(sockPath)
				listener, err := net.Listen("unix", sockPath)
				if err == nil {
					srv := &http.Server{Handler: cc.Coordinator.Hub()}
					go func() {
						<-ctx.Done()
						_ = srv.Close()
					}()
					go func() {
						if err := srv.Serve(listener); err != nil && ctx.Err() == nil {
							cc.Logger.Warn("daemon: ipc server stopped", "err", err)
						}
					}()
					defer os.Remove(sockPath)
				} else {
					cc.Logger.Warn("daemon: ipc socket unavailable", "err", err)
				}
			}

			cc.Statusf("notecove daemon running for profile %q\n", cc.Cfg.Name)
			return cc.Coordinator.RunBackground(ctx)
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Ask a running daemon to shut down",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			profileName := flags.Profile
			if profileName == "" {
				profileName = "default"
			}
			pidPath := daemonPIDPath(profileName)
			pid, err := readPIDFile(pidPath)
			if err != nil {
				return fmt.Errorf("no running daemon found: %w", err)
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signaling daemon: %w", err)
			}
			statusf(flags.Quiet, "Stopped daemon (pid %d)\n", pid)
			return nil
		},
	}
}

func newDaemonPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause",
		Short: "Pause a running daemon's polling and activity sync loops",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return notifyDaemonReload()
		},
	}
}

func newDaemonResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused daemon",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return notifyDaemonReload()
		},
	}
}

// notifyDaemonReload sends SIGHUP to the running daemon for the active
// profile, telling it to reread its polling settings without restarting.
func notifyDaemonReload() error {
	profileName := flags.Profile
	if profileName == "" {
		profileName = "default"
	}
	pidPath := daemonPIDPath(profileName)
	if err := sendSIGHUP(pidPath); err != nil {
		return fmt.Errorf("notifying daemon: %w", err)
	}
	statusf(flags.Quiet, "Notified running daemon\n")
	return nil
}
