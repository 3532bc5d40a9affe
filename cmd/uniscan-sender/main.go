//go:build linux

// Command uniscan-sender is the standalone sender drone of spec §5: it
// opens one interface's raw send socket and waits for a master to
// connect and push send-workunits over the control URI, reporting
// per-workunit stats back as they finish.
//
// Grounded on tools/uping/cmd/uping-send's flat pflag leaf-flag CLI and
// signal.NotifyContext-on-SIGINT/SIGTERM shutdown style.
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
	pflag.StringVarP(&iface, "interface", "i", "", "interface to send on (required)")
	pflag.StringVarP(&uri, "listen", "l", "", "control URI to accept the master on (default: local socket path)")
	pflag.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	pflag.Parse()

	if iface == "" {
		fmt.Fprintln(os.Stderr, "error: --interface is required")
		pflag.Usage()
		os.Exit(2)
	}

	log := cliutil.NewLogger("S", verbose)

	ifc, err := workunit.SnapshotIface(iface)
	if err != nil {
		fmt.Fprintf(os.Stderr, "uniscan-sender: %v\n", err)
		os.Exit(1)
	}

	if uri == "" {
		paths := sockpath.Discover()
		if err := paths.EnsureDir(); err != nil {
			fmt.Fprintf(os.Stderr, "uniscan-sender: %v\n", err)
			os.Exit(1)
		}
		uri = "unix:" + paths.Send
	}

	ctx, cancel := scan.WaitForSignal(context.Background())
	defer cancel()

	if err := drone.ServeSender(ctx, uri, ifc, log); err != nil {
		fmt.Fprintf(os.Stderr, "uniscan-sender: %v\n", err)
		os.Exit(1)
	}
}
