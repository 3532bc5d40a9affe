//go:build linux

// Command uniscan-listener is uniscan-sender's listener-drone
// counterpart: it opens one interface's raw receive socket, attaches
// each recv-workunit's BPF filter, and streams classified IP/ARP/trace
// reports back to the connected master over the control URI.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/robertelee78/unicornscan/pkg/cliutil"
	"github.com/robertelee78/unicornscan/pkg/drone"
	"github.com/robertelee78/unicornscan/pkg/scan"
	"github.com/robertelee78/unicornscan/pkg/sockpath"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

func main() {
	var (
		iface   string
		uri     string
		verbose bool
	)
	pflag.StringVarP(&iface, "interface", "i", "", "interface to listen on (required)")
	pflag.StringVarP(&uri, "listen", "l", "", "control URI to accept the master on (default: local socket path)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.Parse()

	if iface == "" {
		fmt.Fprintln(os.Stderr, "error: --interface is required")
		pflag.Usage()
		os.Exit(2)
	}

	log := cliutil.NewLogger("L", verbose)

	ifc, err := workunit.SnapshotIface(iface)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uniscan-listener: %v\n", err)
		os.Exit(1)
	}

	if uri == "" {
		paths := sockpath.Discover()
		if err := paths.EnsureDir(); err != nil {
			fmt.Fprintf(os.Stderr, "uniscan-listener: %v\n", err)
			os.Exit(1)
		}
		uri = "unix:" + paths.Listen
	}

	ctx, cancel := scan.WaitForSignal(context.Background())
	defer cancel()

	if err := drone.ServeListener(ctx, uri, ifc, log); err != nil {
		fmt.Fprintf(os.Stderr, "uniscan-listener: %v\n", err)
		os.Exit(1)
	}
}
