package payload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryOrderedChain(t *testing.T) {
	r := NewRegistry()
	require.Equal(t, 0, r.CountPayloads(TCP, 443))

	r.Register(TCP, 443, func() ([]byte, error) { return []byte("variant-0"), nil })
	r.Register(TCP, 443, func() ([]byte, error) { return []byte("variant-1"), nil })

	require.Equal(t, 2, r.CountPayloads(TCP, 443))

	b0, err := r.GetPayload(TCP, 443, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("variant-0"), b0)

	b1, err := r.GetPayload(TCP, 443, 1)
	require.NoError(t, err)
	require.Equal(t, []byte("variant-1"), b1)
}

func TestRegistryOutOfRange(t *testing.T) {
	r := NewRegistry()
	r.Register(UDP, 53, func() ([]byte, error) { return []byte("dns"), nil })
	_, err := r.GetPayload(UDP, 53, 5)
	require.Error(t, err)
}

func TestRegistryDistinctProtos(t *testing.T) {
	r := NewRegistry()
	r.Register(TCP, 53, func() ([]byte, error) { return []byte("tcp"), nil })
	require.Equal(t, 0, r.CountPayloads(UDP, 53))
}
