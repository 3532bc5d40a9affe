// Package sink implements the output-sink side of spec §6: a small set
// of aggregator.Sink consumers (text, file) plus the YAML config-file
// loader that names which modules to load and with what options.
package sink

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
)

// DefaultIPTemplate and DefaultARPTemplate mirror the source's default
// report lines, spec §4.7's format grammar.
const (
	DefaultIPTemplate  = "%s: %h:%p %r ttl=%t\n"
	DefaultARPTemplate = "%s: %h is alive (%M)\n"
)

// TextSink renders reports with aggregator.Format and writes them to w,
// the §6 "-e text" module. A nil Deps degrades every lookup-based verb
// (%hn, %pn, %o, %C) to its bare value instead of failing.
type TextSink struct {
	w           io.Writer
	ipTemplate  string
	arpTemplate string
	deps        aggregator.Deps

	mu sync.Mutex
}

// NewTextSink builds a TextSink over w. Empty templates fall back to the
// package defaults.
func NewTextSink(w io.Writer, ipTemplate, arpTemplate string, deps aggregator.Deps) *TextSink {
	if ipTemplate == "" {
		ipTemplate = DefaultIPTemplate
	}
	if arpTemplate == "" {
		arpTemplate = DefaultARPTemplate
	}
	return &TextSink{w: w, ipTemplate: ipTemplate, arpTemplate: arpTemplate, deps: deps}
}

func (s *TextSink) Init() error { return nil }

func (s *TextSink) OnReport(r aggregator.IPReport) {
	line := aggregator.Format(s.ipTemplate, r, s.deps)
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.w, line)
}

func (s *TextSink) OnARPReport(r aggregator.ARPReport) {
	ip := aggregator.IPReport{HostAddr: r.IP, EthSrcMAC: r.MAC, RecvTime: r.RecvTime}
	line := aggregator.Format(s.arpTemplate, ip, s.deps)
	s.mu.Lock()
	defer s.mu.Unlock()
	io.WriteString(s.w, line)
}

func (s *TextSink) Fini() error { return nil }

// FileSink is TextSink's append-only-log counterpart, the §6 "-e file"
// module: same formatting, but it owns the underlying *os.File and
// closes it on Fini.
type FileSink struct {
	*TextSink
	f   *os.File
	log *slog.Logger
}

// NewFileSink opens path for append (creating it if needed) and returns
// a Sink that writes formatted lines to it.
func NewFileSink(path, ipTemplate, arpTemplate string, deps aggregator.Deps, log *slog.Logger) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	return &FileSink{
		TextSink: NewTextSink(f, ipTemplate, arpTemplate, deps),
		f:        f,
		log:      log,
	}, nil
}

func (s *FileSink) Fini() error {
	if s.log != nil {
		s.log.Info("closing output sink", "path", s.f.Name())
	}
	return s.f.Close()
}
