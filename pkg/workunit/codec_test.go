package workunit

import (
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robertelee78/unicornscan/pkg/cookie"
)

func TestSendWorkunitRoundTrip(t *testing.T) {
	w := SendWorkunit{
		ID:      7,
		Magic:   MagicTCP,
		Repeats: 2,
		PPS:     500,
		Iface: Iface{
			Name:    "eth0",
			IP:      net.ParseIP("192.168.1.5"),
			Netmask: net.CIDRMask(24, 32),
			MAC:     net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
			MTU:     1500,
		},
		Target:          netip.MustParsePrefix("10.0.0.0/24"),
		ToS:             1,
		MinTTL:          1,
		MaxTTL:          5,
		IPOptions:       []byte{1, 2, 3},
		FragOff:         0,
		SrcPortTemplate: -1,
		TCPFlags:        2,
		TCPOptions:      []byte{0x02, 0x04, 0x05, 0xb4},
		TCPWindow:       65535,
		CookieKey:       cookie.Key(0xdeadbeef),
		PortExpr:        "80,443",
		TraceMode:       true,
		Status:          StatusQueued,
	}
	got, err := UnmarshalSendWorkunit(w.Marshal())
	require.NoError(t, err)
	require.Equal(t, w.ID, got.ID)
	require.Equal(t, w.Magic, got.Magic)
	require.Equal(t, w.Repeats, got.Repeats)
	require.Equal(t, w.PPS, got.PPS)
	require.Equal(t, w.Iface.Name, got.Iface.Name)
	require.True(t, w.Iface.IP.Equal(got.Iface.IP))
	require.Equal(t, w.Iface.MAC, got.Iface.MAC)
	require.Equal(t, w.Iface.MTU, got.Iface.MTU)
	require.Equal(t, w.Target, got.Target)
	require.Equal(t, w.ToS, got.ToS)
	require.Equal(t, w.IPOptions, got.IPOptions)
	require.Equal(t, w.SrcPortTemplate, got.SrcPortTemplate)
	require.Equal(t, w.TCPOptions, got.TCPOptions)
	require.Equal(t, w.CookieKey, got.CookieKey)
	require.Equal(t, w.PortExpr, got.PortExpr)
	require.Equal(t, w.TraceMode, got.TraceMode)
	require.Equal(t, w.Status, got.Status)
}

func TestRecvWorkunitRoundTrip(t *testing.T) {
	w := RecvWorkunit{
		ID:                  3,
		Magic:               MagicTCP,
		Timeout:             5 * time.Second,
		LayerReturnMask:     LayerLink | LayerNetwork,
		Promisc:             true,
		ReportBadNetCksum:   true,
		ReportBadTransCksum: false,
		FollowUpConnect:     true,
		CookieKey:           cookie.Key(42),
		BPFFilterOverride:   "tcp and port 80",
		Status:              StatusInFlight,
	}
	got, err := UnmarshalRecvWorkunit(w.Marshal())
	require.NoError(t, err)
	require.Equal(t, w, got)
}

func TestUnmarshalSendWorkunitRejectsTruncated(t *testing.T) {
	_, err := UnmarshalSendWorkunit([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestUnmarshalRecvWorkunitRejectsTruncated(t *testing.T) {
	_, err := UnmarshalRecvWorkunit(nil)
	require.Error(t, err)
}
