package ports

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestPortEncodingRoundTrip is P3.
func TestPortEncodingRoundTrip(t *testing.T) {
	for offset := uint16(0); offset < 1024; offset += 37 {
		for idx := 0; idx <= 15; idx++ {
			sport, err := EncodePayload(offset, idx)
			require.NoError(t, err)
			require.True(t, IsPayloadEncoded(sport))
			require.Equal(t, idx, DecodePayloadIndex(sport))
		}
	}
}

func TestEncodePayloadRejectsBadIndex(t *testing.T) {
	_, err := EncodePayload(0, 16)
	require.Error(t, err)
	_, err = EncodePayload(0, -1)
	require.Error(t, err)
}

func TestTraceEncodingRoundTrip(t *testing.T) {
	for ttl := 1; ttl <= 255; ttl++ {
		sport, err := EncodeTrace(uint8(ttl))
		require.NoError(t, err)
		require.True(t, IsTraceEncoded(sport))
		got, ok := DecodeTraceTTL(sport)
		require.True(t, ok)
		require.Equal(t, uint8(ttl), got)
	}
}

func TestEncodeTraceRejectsZero(t *testing.T) {
	_, err := EncodeTrace(0)
	require.Error(t, err)
}

// TestPortEncodingDisjointness is P2: every trace-encoded port must fall
// outside the payload range and vice versa.
func TestPortEncodingDisjointness(t *testing.T) {
	for ttl := 1; ttl <= 255; ttl++ {
		tport, err := EncodeTrace(uint8(ttl))
		require.NoError(t, err)
		require.False(t, IsPayloadEncoded(tport), "trace port %d must not be payload-encoded", tport)
		require.GreaterOrEqual(t, int(tport), 1024)
		require.LessOrEqual(t, int(tport), 65535)
	}
	for offset := uint16(0); offset < 1024; offset += 53 {
		for idx := 0; idx <= 15; idx++ {
			pport, err := EncodePayload(offset, idx)
			require.NoError(t, err)
			require.False(t, IsTraceEncoded(pport), "payload port %d must not be trace-encoded", pport)
			require.GreaterOrEqual(t, int(pport), 1024)
			require.LessOrEqual(t, int(pport), 65535)
		}
	}
}
