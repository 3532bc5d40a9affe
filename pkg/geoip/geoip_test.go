package geoip

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/maxmind/mmdbwriter"
	"github.com/maxmind/mmdbwriter/mmdbtype"
	"github.com/stretchr/testify/require"
)

func writeMMDB(t *testing.T, filename string, inserts func(w *mmdbwriter.Tree)) string {
	t.Helper()
	w, err := mmdbwriter.New(mmdbwriter.Options{DatabaseType: "GeoLite2-Country", RecordSize: 24})
	require.NoError(t, err)
	inserts(w)

	path := filepath.Join(t.TempDir(), filename)
	f, err := os.Create(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	_, err = w.WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return path
}

func mustCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	require.NoError(t, err)
	return n
}

func TestEnricherCountryResolvesKnownAddress(t *testing.T) {
	path := writeMMDB(t, "country.mmdb", func(w *mmdbwriter.Tree) {
		rec := mmdbtype.Map{
			"country": mmdbtype.Map{
				"iso_code": mmdbtype.String("CA"),
			},
		}
		require.NoError(t, w.Insert(mustCIDR(t, "1.1.1.0/24"), rec))
	})

	e, err := Open(path, nil)
	require.NoError(t, err)
	defer e.Close()

	cc, ok := e.Country(net.ParseIP("1.1.1.1").To4())
	require.True(t, ok)
	require.Equal(t, "CA", cc)
}

func TestEnricherCountryMissReturnsFalse(t *testing.T) {
	path := writeMMDB(t, "country.mmdb", func(w *mmdbwriter.Tree) {
		rec := mmdbtype.Map{"country": mmdbtype.Map{"iso_code": mmdbtype.String("CA")}}
		require.NoError(t, w.Insert(mustCIDR(t, "1.1.1.0/24"), rec))
	})

	e, err := Open(path, nil)
	require.NoError(t, err)
	defer e.Close()

	_, ok := e.Country(net.ParseIP("8.8.8.8").To4())
	require.False(t, ok)
}

func TestEnricherCountryEmptyInputReturnsFalse(t *testing.T) {
	path := writeMMDB(t, "country.mmdb", func(w *mmdbwriter.Tree) {})

	e, err := Open(path, nil)
	require.NoError(t, err)
	defer e.Close()

	_, ok := e.Country(nil)
	require.False(t, ok)
}
