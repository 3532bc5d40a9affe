package target

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robertelee78/unicornscan/pkg/prng"
)

func TestParseSingleHost(t *testing.T) {
	e, err := Parse([]string{"192.168.77.5"})
	require.NoError(t, err)
	require.Equal(t, []netip.Prefix{netip.MustParsePrefix("192.168.77.5/32")}, e.Prefixes)
	require.Equal(t, []netip.Addr{netip.MustParseAddr("192.168.77.5")}, e.Hosts(nil))
}

func TestParseCIDRExpandsAllHosts(t *testing.T) {
	e, err := Parse([]string{"192.168.77.0/30"})
	require.NoError(t, err)
	hosts := e.Hosts(nil)
	require.Equal(t, []netip.Addr{
		netip.MustParseAddr("192.168.77.0"),
		netip.MustParseAddr("192.168.77.1"),
		netip.MustParseAddr("192.168.77.2"),
		netip.MustParseAddr("192.168.77.3"),
	}, hosts)
	require.EqualValues(t, 4, e.Count())
}

func TestParseCommaSeparatedList(t *testing.T) {
	e, err := Parse([]string{"10.0.0.1,10.0.0.2"})
	require.NoError(t, err)
	require.Len(t, e.Prefixes, 2)
}

func TestParseRejectsIPv6(t *testing.T) {
	_, err := Parse([]string{"::1"})
	require.Error(t, err)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse([]string{"not-an-ip"})
	require.Error(t, err)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse([]string{""})
	require.Error(t, err)
}

func TestHostsShuffleIsPermutation(t *testing.T) {
	e, err := Parse([]string{"192.168.77.0/28"})
	require.NoError(t, err)
	unshuffled := e.Hosts(nil)
	shuffled := e.Hosts(prng.NewStream(42))
	require.ElementsMatch(t, unshuffled, shuffled)
}
