//go:build linux

package workunit

import (
	"fmt"

	"github.com/vishvananda/netlink"
)

// SnapshotIface reads the named interface's IPv4 address, MAC, and MTU
// via netlink, building the Iface value every workunit in a scan phase
// carries. Shared by pkg/scan and the standalone drone binaries so both
// build an Iface identically from an -i flag.
func SnapshotIface(name string) (Iface, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return Iface{}, fmt.Errorf("workunit: netlink lookup %q: %w", name, err)
	}
	attrs := link.Attrs()

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return Iface{}, fmt.Errorf("workunit: netlink addr list %q: %w", name, err)
	}
	var found *netlink.Addr
	for i := range addrs {
		if addrs[i].IP.To4() != nil {
			found = &addrs[i]
			break
		}
	}
	if found == nil {
		return Iface{}, fmt.Errorf("workunit: interface %q has no IPv4 address", name)
	}

	return Iface{
		Name:    attrs.Name,
		IP:      found.IP.To4(),
		Netmask: found.IPNet.Mask,
		MAC:     attrs.HardwareAddr,
		MTU:     attrs.MTU,
	}, nil
}
