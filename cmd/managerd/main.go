// Command managerd is the configuration-lifecycle manager daemon: it wires
// the registry, graph, state engine, compiler, worker RPC client, and
// dispatcher together and serves the admin transports until a termination
// signal triggers an orderly shutdown, grounded on the teacher's
// cmd/server/main.go flag-parsing and signal-handling shape.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const serviceName = "managerd"

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Varnish-style configuration-lifecycle manager",
}

func main() {
	rootCmd.AddCommand(serveCmd, versionCmd, configCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the managerd version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", serviceName, version)
		return nil
	},
}
