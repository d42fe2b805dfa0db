package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/notecove/notecove/internal/foldertree"
)

func newFolderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "folder",
		Short: "Manage a storage directory's folder tree",
	}
	cmd.AddCommand(
		newFolderCreateCmd(), newFolderRenameCmd(), newFolderMoveCmd(),
		newFolderDeleteCmd(), newFolderListCmd(),
	)
	return cmd
}

func newFolderCreateCmd() *cobra.Command {
	var parentID string
	var order int
	cmd := &cobra.Command{
		Use:   "create <sd-id> <name>",
		Short: "Create a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			id, err := cc.Coordinator.CreateFolder(args[0], args[1], parentID, order)
			if err != nil {
				return err
			}
			fmt.Println(id)
			return nil
		},
	}
	cmd.Flags().StringVar(&parentID, "parent", "", "parent folder id (empty for root)")
	cmd.Flags().IntVar(&order, "order", 0, "sort order among siblings")
	return cmd
}

func newFolderRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <sd-id> <folder-id> <name>",
		Short: "Rename a folder",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mustCLIContext(cmd.Context()).Coordinator.RenameFolder(args[0], args[1], args[2])
		},
	}
}

func newFolderMoveCmd() *cobra.Command {
	var order int
	cmd := &cobra.Command{
		Use:   "move <sd-id> <folder-id> <new-parent-id>",
		Short: "Move a folder under a new parent",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mustCLIContext(cmd.Context()).Coordinator.MoveFolder(args[0], args[1], args[2], order)
		},
	}
	cmd.Flags().IntVar(&order, "order", 0, "sort order among the new siblings")
	return cmd
}

func newFolderDeleteCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "delete <sd-id> <folder-id>",
		Short: "Delete a folder",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			var dm foldertree.DeleteMode
			switch mode {
			case "simple", "":
				dm = foldertree.ModeSimple
			case "cascade":
				dm = foldertree.ModeCascade
			case "reparent":
				dm = foldertree.ModeReparent
			default:
				return fmt.Errorf("unknown --mode %q (want simple, cascade, or reparent)", mode)
			}

			return cc.Coordinator.DeleteFolder(args[0], args[1], dm)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "simple", "simple|cascade|reparent — how to treat children")
	return cmd
}

func newFolderListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <sd-id>",
		Short: "List every folder in a storage directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())
			folders, err := cc.Coordinator.ListFolders(args[0])
			if err != nil {
				return err
			}

			if cc.Flags.JSON {
				return printJSON(folders)
			}

			rows := make([][]string, 0, len(folders))
			for _, f := range folders {
				rows = append(rows, []string{f.ID, f.Name, f.ParentID, fmt.Sprintf("%d", f.Order)})
			}
			printTable(cmdOut(cmd), []string{"ID", "NAME", "PARENT", "ORDER"}, rows)
			return nil
		},
	}
}
