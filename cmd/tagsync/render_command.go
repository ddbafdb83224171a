package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"tagsync/internal/tagcodec"
)

func newRenderCommand() *cobra.Command {
	var markers string
	cmd := &cobra.Command{
		Use:         "render <file|->",
		Short:       "Print a document with markers shown or hidden",
		Long:        "Display only: the file is never modified and hidden markers are still synchronized.",
		Args:        cobra.ExactArgs(1),
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			state, ok := tagcodec.ParseDisplayState(markers)
			if !ok {
				return fmt.Errorf("invalid --markers value %q (want visible or hidden)", markers)
			}
			var (
				data []byte
				err  error
			)
			if args[0] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[0])
			}
			if err != nil {
				return fmt.Errorf("read %s: %w", args[0], err)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), tagcodec.Render(string(data), state))
			return err
		},
	}
	cmd.Flags().StringVar(&markers, "markers", "hidden", "Marker display: visible or hidden")
	return cmd
}
