package phasefilter

import (
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertAndDrain(t *testing.T) {
	f := New()
	require.Equal(t, 0, f.Len())

	f.Insert(netip.MustParseAddr("192.168.77.5"), net.HardwareAddr{1, 2, 3, 4, 5, 6})
	f.Insert(netip.MustParseAddr("192.168.77.3"), net.HardwareAddr{1, 2, 3, 4, 5, 7})
	require.Equal(t, 2, f.Len())

	entries := f.Drain()
	require.Len(t, entries, 2)
	require.Equal(t, "192.168.77.3", entries[0].IP.String())
	require.Equal(t, "192.168.77.5", entries[1].IP.String())
	require.Equal(t, 0, f.Len(), "drain must empty the filter")
}

func TestDrainEmpty(t *testing.T) {
	f := New()
	require.Empty(t, f.Drain())
}

func TestHostsDoesNotDrain(t *testing.T) {
	f := New()
	f.Insert(netip.MustParseAddr("10.0.0.1"), nil)
	hosts := f.Hosts()
	require.Len(t, hosts, 1)
	require.Equal(t, 1, f.Len())
}
