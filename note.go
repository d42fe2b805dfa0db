package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/notecove/notecove/internal/notedoc"
	"github.com/notecove/notecove/internal/notemove"
)

func newNoteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "note",
		Short: "Load, edit, move, and delete notes",
	}
	cmd.AddCommand(
		newNoteCreateCmd(), newNoteLoadCmd(), newNoteApplyCmd(), newNoteWatchCmd(),
		newNoteSnapshotCmd(), newNoteMoveCmd(),
		newNoteDeleteCmd(), newNoteRestoreCmd(), newNotePurgeCmd(),
	)
	return cmd
}

func newNoteCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <sd-id>",
		Short: "Create an empty note and load it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			noteID, err := cc.Coordinator.CreateNote(args[0])
			if err != nil {
				return err
			}
			fmt.Println(noteID)
			return nil
		},
	}
}

func newNoteLoadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "load <sd-id> <note-id>",
		Short: "Load a note's materialized CRDT state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			state, err := cc.Coordinator.LoadNote(args[0], args[1])
			if err != nil {
				return err
			}
			if out == "-" || out == "" {
				_, err := os.Stdout.Write(state)
				return err
			}
			return os.WriteFile(out, state, 0o644)
		},
	}
	cmd.Flags().StringVar(&out, "out", "-", "file to write the encoded state to, or - for stdout")
	return cmd
}

func newNoteApplyCmd() *cobra.Command {
	var originFlag string
	cmd := &cobra.Command{
		Use:   "apply <sd-id> <note-id>",
		Short: "Apply a base64-encoded CRDT update to a note, read from stdin",
		Long: `Applies an update produced by a host editor's CRDT runtime. The update
is read as base64 from stdin (or --file). --origin controls whether the
write is treated as a local edit (recorded in the activity log) or an
incoming sync/IPC update (not re-recorded).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			origin, err := parseOrigin(originFlag)
			if err != nil {
				return err
			}

			raw, err := readUpdateInput(cmd)
			if err != nil {
				return err
			}

			update, err := base64.StdEncoding.DecodeString(string(raw))
			if err != nil {
				return fmt.Errorf("decoding update: %w", err)
			}

			return cc.Coordinator.ApplyUpdate(args[0], args[1], update, origin)
		},
	}
	cmd.Flags().StringVar(&originFlag, "origin", "edit", "edit|ipc|reload")
	cmd.Flags().String("file", "", "read the update from a file instead of stdin")
	return cmd
}

func readUpdateInput(cmd *cobra.Command) ([]byte, error) {
	file, _ := cmd.Flags().GetString("file")
	if file != "" {
		return os.ReadFile(file)
	}
	return os.ReadFile("/dev/stdin")
}

func parseOrigin(s string) (notedoc.Origin, error) {
	switch s {
	case "edit":
		return notedoc.OriginEdit, nil
	case "ipc":
		return notedoc.OriginIPC, nil
	case "reload":
		return notedoc.OriginReload, nil
	default:
		return "", fmt.Errorf("unknown origin %q (want edit, ipc, or reload)", s)
	}
}

func newNoteWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <sd-id> <note-id>",
		Short: "Stream base64-encoded updates for a note as they are applied",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			unsubscribe, err := cc.Coordinator.ObserveUpdates(args[0], args[1], func(ev notedoc.UpdateEvent) {
				fmt.Printf("%s %s\n", ev.Origin, base64.StdEncoding.EncodeToString(ev.Update))
			})
			if err != nil {
				return err
			}
			defer unsubscribe()

			cc.Statusf("Watching %s/%s — press Ctrl+C to stop\n", args[0], args[1])
			<-cmd.Context().Done()
			return nil
		},
	}
}

func newNoteSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <sd-id> <note-id>",
		Short: "Force a snapshot of a note's current state (existing log files are kept)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			return cc.Coordinator.SnapshotNote(args[0], args[1])
		},
	}
}

func newNoteMoveCmd() *cobra.Command {
	var conflict string
	cmd := &cobra.Command{
		Use:   "move <source-sd-id> <target-sd-id> <note-id>",
		Short: "Move a note to a different storage directory",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			var cr notemove.ConflictResolution
			switch conflict {
			case "replace":
				cr = notemove.ConflictReplace
			case "keepBoth", "":
				cr = notemove.ConflictKeepBoth
			case "error":
				cr = notemove.ConflictError
			default:
				return fmt.Errorf("unknown --conflict %q (want replace, keepBoth, or error)", conflict)
			}

			targetNoteID, err := cc.Coordinator.MoveNote(args[0], args[1], args[2], cr)
			if err != nil {
				return err
			}
			fmt.Println(targetNoteID)
			return nil
		},
	}
	cmd.Flags().StringVar(&conflict, "conflict", "keepBoth", "replace|keepBoth|error — what to do if the target note id already exists")
	return cmd
}

func newNoteDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <sd-id> <note-id>",
		Short: "Soft-delete a note (files stay in place; restorable)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mustCLIContext(cmd.Context()).Coordinator.SoftDeleteNote(args[0], args[1])
		},
	}
}

func newNoteRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <sd-id> <note-id>",
		Short: "Restore a soft-deleted note",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mustCLIContext(cmd.Context()).Coordinator.RestoreNote(args[0], args[1])
		},
	}
}

func newNotePurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <sd-id> <note-id>",
		Short: "Permanently delete a note (irreversible tombstone)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mustCLIContext(cmd.Context()).Coordinator.PermanentDeleteNote(args[0], args[1])
		},
	}
}
