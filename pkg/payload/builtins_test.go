package payload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterBuiltinsWiresWellKnownPorts(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)

	require.Equal(t, 1, reg.CountPayloads(UDP, 67))
	require.Equal(t, 1, reg.CountPayloads(UDP, 137))
	require.Equal(t, 1, reg.CountPayloads(UDP, 3478))
	require.Equal(t, 1, reg.CountPayloads(TCP, 27017))
	require.Equal(t, 1, reg.CountPayloads(TCP, 443))
	require.Equal(t, 1, reg.CountPayloads(TCP, 80))
}

func TestDHCPDiscoverHasMagicCookie(t *testing.T) {
	b, err := dhcpDiscover()
	require.NoError(t, err)
	require.Equal(t, []byte{0x63, 0x82, 0x53, 0x63}, b[232:236])
}

func TestNBNSNodeStatusQueryType(t *testing.T) {
	b, err := nbnsNodeStatus()
	require.NoError(t, err)
	require.Equal(t, byte(0x20), b[12])
}

func TestSTUNBindingRequestMagicCookie(t *testing.T) {
	b, err := stunBindingRequest()
	require.NoError(t, err)
	require.Equal(t, []byte{0x21, 0x12, 0xA4, 0x42}, b[4:8])
}

func TestMongoIsMasterLengthPrefixMatchesBuffer(t *testing.T) {
	b, err := mongoIsMaster()
	require.NoError(t, err)
	require.Len(t, b, int(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16|uint32(b[3])<<24))
}

func TestTLSClientHelloStartsWithHandshakeRecord(t *testing.T) {
	b, err := tlsClientHello()
	require.NoError(t, err)
	require.Equal(t, byte(0x16), b[0])
}

func TestWebsocketUpgradeContainsKeyHeader(t *testing.T) {
	b, err := websocketUpgrade()
	require.NoError(t, err)
	require.Contains(t, string(b), "Sec-WebSocket-Key:")
}
