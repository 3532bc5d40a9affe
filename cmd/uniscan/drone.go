//go:build linux

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/robertelee78/unicornscan/pkg/cliutil"
	"github.com/robertelee78/unicornscan/pkg/drone"
	"github.com/robertelee78/unicornscan/pkg/scan"
	"github.com/robertelee78/unicornscan/pkg/sockpath"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

// newSenderCmd runs this binary as a sender drone in-process (spec §5):
// same role cmd/uniscan-sender plays as a standalone binary, useful for
// running master and a sender drone from one install without a second
// binary on $PATH.
func newSenderCmd(verbose *bool) *cobra.Command {
	var iface, uri string
	cmd := &cobra.Command{
		Use:   "sender",
		Short: "Run as a standalone sender drone",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := cliutil.NewLogger("S", *verbose)
			ifc, resolvedURI, err := resolveDrone(iface, uri, sockpath.Discover().Send)
			if err != nil {
				return err
			}
			ctx, cancel := scan.WaitForSignal(cmd.Context())
			defer cancel()
			return drone.ServeSender(ctx, resolvedURI, ifc, log)
		},
	}
	pf := cmd.Flags()
	pf.StringVarP(&iface, "interface", "i", "", "interface to send on (required)")
	pf.StringVarP(&uri, "listen", "l", "", "control URI to accept the master on (default: local socket path)")
	return cmd
}

// newListenerCmd is newSenderCmd's listener-drone counterpart.
func newListenerCmd(verbose *bool) *cobra.Command {
	var iface, uri string
	cmd := &cobra.Command{
		Use:   "listener",
		Short: "Run as a standalone listener drone",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := cliutil.NewLogger("L", *verbose)
			ifc, resolvedURI, err := resolveDrone(iface, uri, sockpath.Discover().Listen)
			if err != nil {
				return err
			}
			ctx, cancel := scan.WaitForSignal(cmd.Context())
			defer cancel()
			return drone.ServeListener(ctx, resolvedURI, ifc, log)
		},
	}
	pf := cmd.Flags()
	pf.StringVarP(&iface, "interface", "i", "", "interface to listen on (required)")
	pf.StringVarP(&uri, "listen", "l", "", "control URI to accept the master on (default: local socket path)")
	return cmd
}

// resolveDrone snapshots the named interface and, absent an explicit
// --listen URI, falls back to the local socket path discovery rules of
// spec §6 (ensuring the containing directory exists).
func resolveDrone(iface, uri, defaultPath string) (workunit.Iface, string, error) {
	if iface == "" {
		return workunit.Iface{}, "", fmt.Errorf("uniscan: --interface is required")
	}
	ifc, err := workunit.SnapshotIface(iface)
	if err != nil {
		return workunit.Iface{}, "", err
	}
	if uri == "" {
		if err := sockpath.Discover().EnsureDir(); err != nil {
			return workunit.Iface{}, "", err
		}
		uri = "unix:" + defaultPath
	}
	return ifc, uri, nil
}
