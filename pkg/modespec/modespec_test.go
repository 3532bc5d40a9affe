package modespec

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/robertelee78/unicornscan/pkg/wire"
	"github.com/robertelee78/unicornscan/pkg/workunit"
)

func TestParseBareTCPDefaultsToSYN(t *testing.T) {
	phases, err := Parse("T")
	require.NoError(t, err)
	require.Len(t, phases, 1)
	require.Equal(t, workunit.MagicTCP, phases[0].MagicMode)
	require.Equal(t, wire.FlagSYN, phases[0].TCPFlags)
}

func TestParseTCPFlagLetters(t *testing.T) {
	phases, err := Parse("TsF")
	require.NoError(t, err)
	require.Equal(t, wire.FlagSYN|wire.FlagFIN, phases[0].TCPFlags)
}

func TestParsePerPhaseOverrides(t *testing.T) {
	phases, err := Parse("T100:R3:L15")
	require.NoError(t, err)
	require.Equal(t, 100, phases[0].PPS)
	require.Equal(t, 3, phases[0].Repeats)
	require.Equal(t, 15, phases[0].RecvTimeoutS)
}

func TestParseCompoundMode(t *testing.T) {
	phases, err := Parse("A+T")
	require.NoError(t, err)
	require.Len(t, phases, 2)
	require.Equal(t, workunit.MagicARP, phases[0].MagicMode)
	require.Equal(t, workunit.MagicTCP, phases[1].MagicMode)
}

func TestParseOtherMagics(t *testing.T) {
	for tok, want := range map[string]workunit.Magic{
		"U": workunit.MagicUDP,
		"A": workunit.MagicARP,
		"I": workunit.MagicICMP,
		"P": workunit.MagicIPRaw,
	} {
		phases, err := Parse(tok)
		require.NoError(t, err)
		require.Equal(t, want, phases[0].MagicMode)
	}
}

func TestParseRejectsUnknownLetter(t *testing.T) {
	_, err := Parse("X")
	require.Error(t, err)
}

func TestParseRejectsEmpty(t *testing.T) {
	_, err := Parse("")
	require.Error(t, err)
}
