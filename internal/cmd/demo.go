package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"spartan/internal/output"
	"spartan/kernel/demo"
)

func addDemoCommands(rootCmd *cobra.Command) {
	demoCmd := &cobra.Command{
		Use:   "demo <scenario>",
		Short: "Run one of the kernel's end-to-end demo scenarios",
		Long:  "Runs a single named scenario (see 'spartanctl demo list') against a freshly built simulation and prints its result.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			result, err := demo.Run(ctx, args[0])
			if err != nil {
				if output.IsJSON() {
					return output.PrintError(cmd.OutOrStdout(), err.Kind, err.Message)
				}
				return fmt.Errorf("%s: %s", err.Kind, err.Message)
			}
			if output.IsJSON() {
				return output.PrintJSON(cmd.OutOrStdout(), map[string]string{"scenario": args[0], "result": result})
			}
			fmt.Fprintln(cmd.OutOrStdout(), result)
			return nil
		},
	}

	demoListCmd := &cobra.Command{
		Use:   "list",
		Short: "List available demo scenario names",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output.IsJSON() {
				return output.PrintJSON(cmd.OutOrStdout(), demo.Scenarios)
			}
			for _, name := range demo.Scenarios {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}

	demoCmd.AddCommand(demoListCmd)
	rootCmd.AddCommand(demoCmd)
}
