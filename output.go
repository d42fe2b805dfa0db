package main

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"
)

// cmdOut returns the writer a command should print its primary output to —
// cobra commands otherwise default to os.Stdout, but tests redirect this.
func cmdOut(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

// printJSON writes v to stdout as indented JSON, for every command
// supporting --json.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
