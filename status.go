package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show polling queue status for every registered storage directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())

			statuses := cc.Coordinator.AllPollingStatus()

			if cc.Flags.JSON {
				return printJSON(statuses)
			}

			if len(statuses) == 0 {
				fmt.Println("No storage directories registered.")
				return nil
			}

			rows := make([][]string, 0, len(statuses))
			for _, st := range statuses {
				rows = append(rows, []string{st.SDID, fmt.Sprintf("%d", st.QueueLength)})
			}
			printTable(cmdOut(cmd), []string{"SD", "QUEUE"}, rows)
			return nil
		},
	}
}
