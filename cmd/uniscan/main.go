// Command uniscan is the master binary of spec §6: it parses the CLI
// surface, plans and runs a scan locally (or against remote drones),
// and dispatches reports to output sinks. `sender`/`listener` subcommands
// let this same binary run as a drone role, matching cmd/uniscan-sender
// and cmd/uniscan-listener's standalone equivalents.
//
// Grounded on controlplane/telemetry/cmd/telemetry-data's cobra root +
// persistent-flags structure, with leaf flags added via pflag the way
// tools/uping/cmd/uping-send does for its single command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "uniscan: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "uniscan",
		Short:         "Asynchronous IPv4 network scanner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newScanCmd(&verbose),
		newSenderCmd(&verbose),
		newListenerCmd(&verbose),
	)
	return root
}
