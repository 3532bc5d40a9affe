package sink

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/robertelee78/unicornscan/pkg/aggregator"
)

// ModuleConfig is one `{module_name, module_path, options}` triple of
// spec §6's output-sink discovery file.
type ModuleConfig struct {
	Name    string            `yaml:"module_name"`
	Path    string            `yaml:"module_path"`
	Options map[string]string `yaml:"options"`
}

// fileConfig is the top-level shape of the sink config file: a bare list
// of modules under a `modules:` key.
type fileConfig struct {
	Modules []ModuleConfig `yaml:"modules"`
}

// LoadConfig parses a sink config file at path into its module list.
func LoadConfig(path string) ([]ModuleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("sink: read config %s: %w", path, err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("sink: parse config %s: %w", path, err)
	}
	return cfg.Modules, nil
}

// Build resolves a ModuleConfig into a live aggregator.Sink. Only the two
// built-in modules ship in this repo (spec.md §1 scopes a PostgreSQL or
// other warehouse sink out); "module_path" is accepted for forward
// compatibility with an out-of-tree loader but unused here.
func Build(mc ModuleConfig, log *slog.Logger) (aggregator.Sink, error) {
	ipTmpl := mc.Options["ip_template"]
	arpTmpl := mc.Options["arp_template"]

	switch mc.Name {
	case "text":
		return NewTextSink(os.Stdout, ipTmpl, arpTmpl, aggregator.Deps{}), nil
	case "file":
		path := mc.Options["path"]
		if path == "" {
			return nil, fmt.Errorf("sink: module %q requires options.path", mc.Name)
		}
		return NewFileSink(path, ipTmpl, arpTmpl, aggregator.Deps{}, log)
	default:
		return nil, fmt.Errorf("sink: unknown output module %q", mc.Name)
	}
}

// BuildAll resolves every module in a config file in order, failing
// fast per spec §7's "cannot initialize at least one output sink" fatal
// condition.
func BuildAll(path string, log *slog.Logger) ([]aggregator.Sink, error) {
	modules, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	sinks := make([]aggregator.Sink, 0, len(modules))
	for _, mc := range modules {
		s, err := Build(mc, log)
		if err != nil {
			return nil, err
		}
		if err := s.Init(); err != nil {
			return nil, fmt.Errorf("sink: init module %q: %w", mc.Name, err)
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}
