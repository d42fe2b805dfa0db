package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newImageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "image",
		Short: "Store and retrieve note images",
	}
	cmd.AddCommand(newImagePutCmd(), newImageGetCmd())
	return cmd
}

func newImagePutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "put <sd-id> <file>",
		Short: "Store an image and print its assigned image id",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}

			ext := strings.TrimPrefix(extOf(args[1]), ".")
			imageID, err := cc.Coordinator.ImagePut(args[0], data, ext)
			if err != nil {
				return err
			}

			fmt.Println(imageID)
			return nil
		},
	}
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

func newImageGetCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "get <sd-id> <image-id>",
		Short: "Retrieve an image's bytes",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc := mustCLIContext(cmd.Context())

			data, err := cc.Coordinator.ImageGet(args[0], args[1])
			if err != nil {
				return err
			}

			if out == "-" || out == "" {
				_, err := os.Stdout.Write(data)
				return err
			}
			return os.WriteFile(out, data, 0o644)
		},
	}
	cmd.Flags().StringVar(&out, "out", "-", "file to write image bytes to, or - for stdout")
	return cmd
}
