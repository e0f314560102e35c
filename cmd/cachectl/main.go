// Command cachectl is a thin client for the manager's admin line protocol:
// one subcommand per §6 verb, dialing the configured address and printing
// the status/body reply it gets back.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var addr string

var rootCmd = &cobra.Command{
	Use:   "cachectl",
	Short: "Admin client for the configuration-lifecycle manager",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:2000", "manager line-protocol address")
	rootCmd.AddCommand(
		loadCmd(), inlineCmd(), useCmd(), stateCmd(), discardCmd(), listCmd(), labelCmd(),
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// send dials addr, writes one command line, and prints the single-line
// reply, unescaping the "\n" the server uses to flatten multi-line bodies
// like vcl.list's onto one wire line.
func send(command string) error {
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\n", command); err != nil {
		return fmt.Errorf("write command: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}

	fmt.Println(strings.ReplaceAll(strings.TrimRight(line, "\r\n"), `\n`, "\n"))
	return nil
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load NAME PATH [STATE]",
		Short: "Load a config from a filesystem path",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send("vcl.load " + strings.Join(args, " "))
		},
	}
}

func inlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inline NAME SOURCE [STATE]",
		Short: "Load a config from inline source text",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send("vcl.inline " + strings.Join(args, " "))
		},
	}
}

func useCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use NAME",
		Short: "Activate a config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send("vcl.use " + args[0])
		},
	}
}

func stateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "state NAME STATE",
		Short: "Set a config's intent (auto, cold, or warm)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send("vcl.state " + args[0] + " " + args[1])
		},
	}
}

func discardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard NAME",
		Short: "Remove a config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send("vcl.discard " + args[0])
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return send("vcl.list")
		},
	}
}

func labelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "label LABEL TARGET",
		Short: "Point a label at a target config",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return send("vcl.label " + args[0] + " " + args[1])
		},
	}
}
