package cookie

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestCookieRoundTrip is P1: for any tuple and key, generating a cookie
// and verifying it from the listener's swapped vantage point succeeds.
func TestCookieRoundTrip(t *testing.T) {
	cases := []struct {
		name               string
		src, dst           [4]byte
		srcPort, dstPort   uint16
		key                Key
	}{
		{"basic", [4]byte{192, 168, 1, 1}, [4]byte{10, 0, 0, 1}, 54321, 80, 0xdeadbeef},
		{"zero key", [4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 1, 1, 0},
		{"max ports", [4]byte{255, 255, 255, 255}, [4]byte{0, 0, 0, 0}, 65535, 65535, 0xffffffff},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			isn := Generate(c.src, c.dst, c.srcPort, c.dstPort, c.key)
			ack := isn + 1
			ok := Verify(c.dst, c.src, c.dstPort, c.srcPort, c.key, ack)
			require.True(t, ok, "cookie must verify against ack=isn+1 from the swapped tuple")
		})
	}
}

func TestCookieRejectsWrongKey(t *testing.T) {
	src, dst := [4]byte{192, 168, 1, 1}, [4]byte{10, 0, 0, 1}
	isn := Generate(src, dst, 1234, 80, Key(1))
	ok := Verify(dst, src, 80, 1234, Key(2), isn+1)
	require.False(t, ok)
}

func TestCookieDistinctForDistinctTuples(t *testing.T) {
	src, dst := [4]byte{192, 168, 1, 1}, [4]byte{10, 0, 0, 1}
	a := Generate(src, dst, 1000, 80, Key(7))
	b := Generate(src, dst, 1001, 80, Key(7))
	c := Generate(src, dst, 1000, 81, Key(7))
	require.NotEqual(t, a, b)
	require.NotEqual(t, a, c)
	require.NotEqual(t, b, c)
}
