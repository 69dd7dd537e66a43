// Package cmd wires cmd/spartanctl's subcommands, following
// dsmmcken-dh-cli's internal/cmd layout: one file per subcommand group,
// registered onto a shared root command built by NewRootCmd.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"spartan/internal/config"
	"spartan/internal/output"
)

// Version is overridden at build time via -ldflags.
var Version = "dev"

var (
	jsonFlag    bool
	verboseFlag bool
	quietFlag   bool
	configDir   string
)

// NewRootCmd assembles the spartanctl root command and every subcommand
// group onto it.
func NewRootCmd() *cobra.Command {
	cmd := newRootCmd()
	addConfigCommands(cmd)
	addBootCommand(cmd)
	addDemoCommands(cmd)
	return cmd
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "spartanctl",
		Short:         "Drive a simulated SPARTAN-style microkernel",
		Long:          "spartanctl boots and exercises a hosted simulation of the kernel's scheduler, IPC, and memory subsystems.",
		Version:       fmt.Sprintf("spartanctl %s", Version),
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if verboseFlag && quietFlag {
				return fmt.Errorf("--verbose and --quiet are mutually exclusive")
			}
			if jsonFlag {
				quietFlag = true
			}
			output.SetFlags(jsonFlag, quietFlag, verboseFlag)
			config.SetConfigDir(configDir)
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVarP(&jsonFlag, "json", "j", false, "Output as JSON")
	pflags.BoolVarP(&verboseFlag, "verbose", "v", false, "Extra detail to stderr")
	pflags.BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output")
	pflags.StringVar(&configDir, "config-dir", "", "Override config directory (default: ~/.spartan)")

	if v := os.Getenv("SPARTAN_HOME"); v != "" && configDir == "" {
		configDir = v
	}
	if os.Getenv("SPARTAN_JSON") == "1" {
		jsonFlag = true
	}

	return rootCmd
}

// Execute builds and runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
