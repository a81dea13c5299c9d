// Command wagerctl is the operator CLI for wager-engine: oracle and token
// key management, offline proof generation, and fee conversions.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := RootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// RootCmd assembles every subcommand.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "wagerctl",
		Short:         "wager-engine operator tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(
		OracleCmd(),
		TokenCmd(),
		FeeCmd(),
		ConfigCmd(),
	)
	return cmd
}
