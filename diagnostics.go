package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newDiagnosticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagnostics",
		Short: "Produce a diagnostics package for bug reports",
	}
	cmd.AddCommand(newDiagnosticsExportCmd())
	return cmd
}

func newDiagnosticsExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a tar.gz diagnostics bundle: effective config, verify reports for every registered sd, and the tail of the log file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			if out == "" {
				out = fmt.Sprintf("notecove-diagnostics-%s.tar.gz", cc.Cfg.Name)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			gz := gzip.NewWriter(f)
			defer gz.Close()

			tw := tar.NewWriter(gz)
			defer tw.Close()

			var buf bytes.Buffer
			fmt.Fprintf(&buf, "profile: %s\n", cc.Cfg.Name)
			fmt.Fprintf(&buf, "log_level: %s\n", cc.Cfg.Logging.LogLevel)
			fmt.Fprintf(&buf, "log_format: %s\n", cc.Cfg.Logging.LogFormat)
			if err := addTarFile(tw, "config.txt", buf.Bytes()); err != nil {
				return err
			}

			for _, sdID := range cc.Coordinator.RegisteredSDIDs() {
				report, err := cc.Coordinator.Verify(sdID)
				if err != nil {
					cc.Logger.Warn("diagnostics: verify failed", "sd", sdID, "err", err)
					continue
				}
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				if err := addTarFile(tw, fmt.Sprintf("verify-%s.json", sdID), data); err != nil {
					return err
				}
			}

			if cc.Cfg.Logging.LogFile != "" {
				if tail, err := readLogTail(cc.Cfg.Logging.LogFile, 256*1024); err == nil {
					if err := addTarFile(tw, "log-tail.txt", tail); err != nil {
						return err
					}
				}
			}

			cc.Statusf("Wrote diagnostics package to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output tar.gz path (default notecove-diagnostics-<profile>.tar.gz)")
	return cmd
}

func addTarFile(tw *tar.Writer, name string, data []byte) error {
	if err := tw.WriteHeader(&tar.Header{Name: name, Size: int64(len(data)), Mode: 0o644}); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// readLogTail returns up to maxBytes from the end of path.
func readLogTail(path string, maxBytes int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	offset := int64(0)
	if info.Size() > maxBytes {
		offset = info.Size() - maxBytes
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, err
	}
	return io.ReadAll(f)
}
