// Package config loads sstrace settings from a YAML file. File values fill
// in every command line flag that was not set explicitly.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config mirrors the sstrace flags.
type Config struct {
	Target  TargetConfig  `yaml:"target"`
	Output  OutputConfig  `yaml:"output"`
	Sampler SamplerConfig `yaml:"sampler"`
	SS      SSConfig      `yaml:"ss"`
	Capture CaptureConfig `yaml:"capture"`
	Redis   RedisConfig   `yaml:"redis"`
	Metrics MetricsConfig `yaml:"metrics"`
}

type TargetConfig struct {
	RemoteIP   string `yaml:"remote_ip"`
	RemotePort int    `yaml:"remote_port"`
	LocalPort  int    `yaml:"local_port"`
	// Duration is in seconds, kept as text so that it is validated the same
	// way as the flag.
	Duration string `yaml:"duration"`
}

type OutputConfig struct {
	Path      string `yaml:"path"`
	Format    string `yaml:"format"`
	Compress  bool   `yaml:"compress"`
	EmitEmpty bool   `yaml:"emit_empty"`
}

type SamplerConfig struct {
	MinInterval    time.Duration `yaml:"min_interval"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	MaxFailures    int           `yaml:"max_failures"`
	OnUnknownField string        `yaml:"on_unknown_field"`
	ExtraFields    []string      `yaml:"extra_fields"`
}

type SSConfig struct {
	Binary   string `yaml:"binary"`
	Args     string `yaml:"args"`
	Extended bool   `yaml:"extended"`
	Memory   bool   `yaml:"memory"`
}

type CaptureConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Binary    string `yaml:"binary"`
	Interface string `yaml:"interface"`
	Port      int    `yaml:"port"`
	Output    string `yaml:"output"`
	Owner     string `yaml:"owner"`
	SizeMB    int    `yaml:"size_mb"`
}

type RedisConfig struct {
	Addr  string `yaml:"addr"`
	RunID string `yaml:"run_id"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Load reads and validates the YAML file at path. Unknown keys are errors.
func Load(path string) (*Config, error) {
	fp, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()

	var cfg Config
	dec := yaml.NewDecoder(fp)
	dec.KnownFields(true)
	// An empty file decodes as io.EOF and leaves every value unset.
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Output.Format == "" {
		c.Output.Format = "text"
	}
	if c.Sampler.OnUnknownField == "" {
		c.Sampler.OnUnknownField = "quarantine"
	}
	if c.Capture.Enabled {
		if c.Capture.Binary == "" {
			c.Capture.Binary = "tcpdump"
		}
		if c.Capture.Interface == "" {
			c.Capture.Interface = "any"
		}
	}
}

func (c *Config) validate() error {
	if c.Target.RemotePort < 0 || c.Target.RemotePort > 65535 {
		return fmt.Errorf("target.remote_port %d out of range", c.Target.RemotePort)
	}
	if c.Target.LocalPort < 0 || c.Target.LocalPort > 65535 {
		return fmt.Errorf("target.local_port %d out of range", c.Target.LocalPort)
	}
	if c.Sampler.MinInterval < 0 || c.Sampler.QueryTimeout < 0 {
		return fmt.Errorf("sampler intervals must not be negative")
	}
	if c.Sampler.MaxFailures < 0 {
		return fmt.Errorf("sampler.max_failures must not be negative")
	}
	if c.Capture.Enabled && c.Capture.Output == "" {
		return fmt.Errorf("capture.output is required when capture is enabled")
	}
	return nil
}

// flagValues maps flag names to the string form of the configured values.
// Zero values are left out so that they never replace flag defaults.
func (c *Config) flagValues() map[string][]string {
	v := map[string][]string{}
	str := func(name, s string) {
		if s != "" {
			v[name] = []string{s}
		}
	}
	num := func(name string, n int) {
		if n != 0 {
			v[name] = []string{strconv.Itoa(n)}
		}
	}
	boolean := func(name string, b bool) {
		if b {
			v[name] = []string{"true"}
		}
	}
	dur := func(name string, d time.Duration) {
		if d != 0 {
			v[name] = []string{d.String()}
		}
	}
	str("remote-ip", c.Target.RemoteIP)
	num("remote-port", c.Target.RemotePort)
	num("local-port", c.Target.LocalPort)
	str("duration", c.Target.Duration)
	str("output", c.Output.Path)
	str("format", c.Output.Format)
	boolean("compress", c.Output.Compress)
	boolean("emit-empty", c.Output.EmitEmpty)
	dur("min-interval", c.Sampler.MinInterval)
	dur("query-timeout", c.Sampler.QueryTimeout)
	num("max-failures", c.Sampler.MaxFailures)
	str("on-unknown-field", c.Sampler.OnUnknownField)
	if len(c.Sampler.ExtraFields) > 0 {
		v["extra-field"] = c.Sampler.ExtraFields
	}
	str("ss.binary", c.SS.Binary)
	str("ss.args", c.SS.Args)
	boolean("ss.extended", c.SS.Extended)
	boolean("ss.memory", c.SS.Memory)
	boolean("capture.enable", c.Capture.Enabled)
	str("capture.binary", c.Capture.Binary)
	str("capture.interface", c.Capture.Interface)
	num("capture.port", c.Capture.Port)
	str("capture.output", c.Capture.Output)
	str("capture.owner", c.Capture.Owner)
	num("capture.size-mb", c.Capture.SizeMB)
	str("redis.addr", c.Redis.Addr)
	str("run-id", c.Redis.RunID)
	str("metrics.addr", c.Metrics.Addr)
	return v
}

// Apply sets every flag of fs that has a configured value and was not set
// on the command line or from the environment. Flags that fs does not
// define are ignored.
func (c *Config) Apply(fs *flag.FlagSet) error {
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })
	for name, values := range c.flagValues() {
		if set[name] || fs.Lookup(name) == nil {
			continue
		}
		for _, value := range values {
			if err := fs.Set(name, value); err != nil {
				return fmt.Errorf("config: flag -%s=%s: %w", name, strings.TrimSpace(value), err)
			}
		}
	}
	return nil
}
