package main

import (
	"github.com/spf13/cobra"
)

// Set by -ldflags "-X main.version=...".
var version = "dev"

// Shared CLI flags
var (
	cfgFile  string
	envFiles []string
	logLevel string
)

// SetupRootCmd configures the root command with all subcommands and flags.
func SetupRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ears",
		Short: "ears - voice-triggered prompt dispatcher",
		Long: `ears listens to an audio stream, waits for the trigger phrase and
hands everything said after it to the configured consumers once the
speaker pauses (or says the submit word).

Just type 'ears run' to listen on stdin.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "YAML config file (optional)")
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load (default .env)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")

	rootCmd.AddCommand(RunCmd())
	rootCmd.AddCommand(DecodersCmd())
	rootCmd.AddCommand(VersionCmd())

	return rootCmd
}
