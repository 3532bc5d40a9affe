//go:build linux

package sender

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/robertelee78/unicornscan/pkg/payload"
	"github.com/robertelee78/unicornscan/pkg/ports"
	"github.com/robertelee78/unicornscan/pkg/prng"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

func TestMax1(t *testing.T) {
	require.Equal(t, 1, max1(0))
	require.Equal(t, 1, max1(-5))
	require.Equal(t, 3, max1(3))
}

func TestHtons(t *testing.T) {
	// ETH_P_ALL is 0x0003; htons swaps its two bytes into network byte
	// order, giving 0x0300.
	require.Equal(t, 0x0300, htons(0x0003))
}

func TestPickSrcPortUsesTemplateWhenSet(t *testing.T) {
	s := &Sender{}
	wu := workunit.SendWorkunit{SrcPortTemplate: 12345}
	port, err := s.pickSrcPort(wu, 0, true, nil)
	require.NoError(t, err)
	require.Equal(t, uint16(12345), port)
}

func TestPickSrcPortEncodesPayloadIndexWhenMultiPayload(t *testing.T) {
	s := &Sender{}
	wu := workunit.SendWorkunit{SrcPortTemplate: -1}
	rnd := prng.NewStream(42)

	port, err := s.pickSrcPort(wu, 5, true, rnd)
	require.NoError(t, err)
	require.True(t, ports.IsPayloadEncoded(port))
	require.Equal(t, 5, ports.DecodePayloadIndex(port))
}

func TestPickSrcPortClampsOutOfRangeIndex(t *testing.T) {
	s := &Sender{}
	wu := workunit.SendWorkunit{SrcPortTemplate: -1}
	port, err := s.pickSrcPort(wu, 99, true, nil)
	require.NoError(t, err)
	require.Equal(t, 0, ports.DecodePayloadIndex(port))
}

func TestPickSrcPortDoesNotEncodeWhenSinglePayload(t *testing.T) {
	s := &Sender{}
	wu := workunit.SendWorkunit{SrcPortTemplate: -1}
	rnd := prng.NewStream(42)

	port, err := s.pickSrcPort(wu, 0, false, rnd)
	require.NoError(t, err)
	require.False(t, ports.IsPayloadEncoded(port))
}

func TestResolveVariantsPrefersExplicitCount(t *testing.T) {
	require.Equal(t, 3, resolveVariants(nil, workunit.MagicTCP, 80, 3))
}

func TestResolveVariantsFallsBackToRegistryNaturalCount(t *testing.T) {
	reg := payload.NewRegistry()
	reg.Register(payload.TCP, 80, func() ([]byte, error) { return []byte("a"), nil })
	reg.Register(payload.TCP, 80, func() ([]byte, error) { return []byte("b"), nil })
	require.Equal(t, 2, resolveVariants(reg, workunit.MagicTCP, 80, 0))
}

func TestResolveVariantsDefaultsToOneForNonPayloadMagic(t *testing.T) {
	reg := payload.NewRegistry()
	require.Equal(t, 1, resolveVariants(reg, workunit.MagicARP, 0, 0))
}

func TestIsTransientSocketErr(t *testing.T) {
	require.True(t, isTransientSocketErr(unix.ENETDOWN))
	require.False(t, isTransientSocketErr(unix.EACCES))
}
