package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voice-agent-lab/internal/decoder"
)

// DecodersCmd lists the registered speech decoders.
func DecodersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decoders",
		Short: "List available speech decoders",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range decoder.Names() {
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %s\n", name, decoder.Describe(name))
			}
			return nil
		},
	}
}
