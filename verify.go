package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notecove/notecove/internal/coordinator"
)

// errVerifyMismatch signals that verify found at least one problem, so
// main can map it to exit status 1 without printing a duplicate message.
var errVerifyMismatch = errors.New("verify: inconsistencies found")

func newVerifyCmd() *cobra.Command {
	var sdID string
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check CRDT log integrity, tombstone consistency, and image orphans for a storage directory",
		Long: `Validates every note's .crdtlog files, cross-checks DeletionLog tombstones
against what's present in notes/, and reports (without deleting) ImageStore
orphans for one registered storage directory.

Exit code 0 if everything is consistent; exit code 1 if any problems are found.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			if sdID == "" {
				return fmt.Errorf("--sd is required")
			}

			report, err := cc.Coordinator.Verify(sdID)
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				if err := printJSON(report); err != nil {
					return err
				}
			} else {
				printVerifyReport(report)
			}

			if !report.Clean() {
				return errVerifyMismatch
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&sdID, "sd", "", "storage directory to verify")
	return cmd
}

func printVerifyReport(r coordinator.VerifyReport) {
	fmt.Printf("Scanned %d notes in sd %q\n", r.NotesScanned, r.SDID)
	for _, p := range r.LogProblems {
		fmt.Printf("  log problem: %s\n", p.Path)
		for _, e := range p.Errors {
			fmt.Printf("    %s\n", e)
		}
	}
	for _, id := range r.OrphanTombstones {
		fmt.Printf("  orphan tombstone: %s (permanently deleted but files still present)\n", id)
	}
	for _, id := range r.OrphanImages {
		fmt.Printf("  orphan image: %s\n", id)
	}
	if r.Clean() {
		fmt.Println("No inconsistencies found.")
	}
}
