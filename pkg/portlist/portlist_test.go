package portlist

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBasic(t *testing.T) {
	entries, err := Parse("80,443,1000-1002:3")
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Port: 80, PayloadCount: 0},
		{Port: 443, PayloadCount: 0},
		{Port: 1000, PayloadCount: 3},
		{Port: 1001, PayloadCount: 3},
		{Port: 1002, PayloadCount: 3},
	}, entries)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	e := Entry{Port: 443, PayloadCount: 2}
	got := Unpack(e.Pack())
	require.Equal(t, e, got)
}

func TestParseRejectsBadRange(t *testing.T) {
	_, err := Parse("100-50")
	require.Error(t, err)
}

func TestParseRejectsOutOfBounds(t *testing.T) {
	_, err := Parse("70000")
	require.Error(t, err)
}

func TestParseRejectsBadPayloadCount(t *testing.T) {
	_, err := Parse("80:99")
	require.Error(t, err)
}
