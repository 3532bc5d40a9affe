package sink

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
)

func TestTextSinkFormatsIPReport(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf, "%h:%p %r\n", "", aggregator.Deps{})

	s.OnReport(aggregator.IPReport{
		HostAddr: net.IPv4(10, 0, 0, 1).To4(),
		SPort:    80,
		IPProto:  6,
		Type:     1 << 1, // SYN
	})

	require.Equal(t, "10.0.0.1:80 SYN\n", buf.String())
}

func TestTextSinkFormatsARPReport(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf, "", "%h is alive (%M)\n", aggregator.Deps{})

	s.OnARPReport(aggregator.ARPReport{
		IP:       net.IPv4(10, 0, 0, 9).To4(),
		MAC:      net.HardwareAddr{0xde, 0xad, 0xbe, 0xef, 0x00, 0x01},
		RecvTime: time.Now(),
	})

	require.Equal(t, "10.0.0.9 is alive (de:ad:be:ef:00:01)\n", buf.String())
}

func TestTextSinkDefaultsTemplatesWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	s := NewTextSink(&buf, "", "", aggregator.Deps{})
	require.Equal(t, DefaultIPTemplate, s.ipTemplate)
	require.Equal(t, DefaultARPTemplate, s.arpTemplate)
}

func TestFileSinkAppendsAndClosesOnFini(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	fs, err := NewFileSink(path, "%h\n", "", aggregator.Deps{}, nil)
	require.NoError(t, err)

	fs.OnReport(aggregator.IPReport{HostAddr: net.IPv4(1, 2, 3, 4).To4()})
	require.NoError(t, fs.Fini())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "1.2.3.4\n", string(data))
}

func TestLoadConfigParsesModules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sinks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modules:
  - module_name: text
    module_path: builtin
  - module_name: file
    module_path: builtin
    options:
      path: /var/log/unicornscan.log
`), 0o644))

	modules, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, modules, 2)
	require.Equal(t, "text", modules[0].Name)
	require.Equal(t, "file", modules[1].Name)
	require.Equal(t, "/var/log/unicornscan.log", modules[1].Options["path"])
}

func TestBuildAllFailsFastOnUnknownModule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sinks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
modules:
  - module_name: postgresql
`), 0o644))

	_, err := BuildAll(path, nil)
	require.Error(t, err)
}

func TestBuildAllInitializesFileSink(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "out.log")
	cfgPath := filepath.Join(dir, "sinks.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
modules:
  - module_name: file
    options:
      path: `+logPath+`
`), 0o644))

	sinks, err := BuildAll(cfgPath, nil)
	require.NoError(t, err)
	require.Len(t, sinks, 1)
}
