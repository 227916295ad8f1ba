package config

import (
	"fmt"
	"time"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

const (
	BackendNetlink = "netlink"
	BackendFake    = "fake"

	DefaultWaitTimeout     = 5 * time.Second
	DefaultSettleTime      = 20 * time.Millisecond
	DefaultEventQueueLimit = 4096
)

// Config is the top-level linkd configuration.
type Config struct {
	Platform *PlatformConfig `hcl:"platform,block"`
	Logging  *LoggingConfig  `hcl:"logging,block"`
	Metrics  *MetricsConfig  `hcl:"metrics,block"`
	Journal  *JournalConfig  `hcl:"journal,block"`
	Links    []LinkConfig    `hcl:"link,block"`
}

// PlatformConfig controls the link platform backend.
type PlatformConfig struct {
	Backend           string `hcl:"backend,optional"`
	Netns             string `hcl:"netns,optional"`
	WaitTimeout       string `hcl:"wait_timeout,optional"`
	SettleTime        string `hcl:"settle_time,optional"`
	PruneImplicitBond *bool  `hcl:"prune_implicit_bond,optional"`

	// LegacyDefaultBond makes the fake backend create bond0 alongside the
	// first bond, the way old bonding drivers did with max_bonds=1.
	LegacyDefaultBond bool `hcl:"legacy_default_bond,optional"`

	// EventQueueLimit sizes the buffer between the netlink subscription
	// and the cache. Overflow triggers a full resync.
	EventQueueLimit int `hcl:"event_queue_limit,optional"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `hcl:"level,optional"`
	JSON  bool   `hcl:"json,optional"`
}

// MetricsConfig controls the prometheus endpoint.
type MetricsConfig struct {
	Listen string `hcl:"listen,optional"`
}

// JournalConfig controls the sqlite event journal.
type JournalConfig struct {
	Path string `hcl:"path,optional"`

	// Retention bounds the age of journaled events; empty keeps everything.
	Retention string `hcl:"retention,optional"`
}

// RetentionDuration returns retention, 0 when unset.
func (j *JournalConfig) RetentionDuration() time.Duration {
	return parseDurationOr(j.Retention, 0)
}

// LinkConfig is a desired link, realized by "linkd apply".
type LinkConfig struct {
	Name      string `hcl:"name,label"`
	Type      string `hcl:"type"`
	Up        *bool  `hcl:"up,optional"`
	Master    string `hcl:"master,optional"`
	SlaveType string `hcl:"slave_type,optional"`

	Options      cty.Value `hcl:"options,optional"`
	SlaveOptions cty.Value `hcl:"slave_options,optional"`
}

// Default returns a configuration with every block present and defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Platform == nil {
		c.Platform = &PlatformConfig{}
	}
	if c.Platform.Backend == "" {
		c.Platform.Backend = BackendNetlink
	}
	if c.Platform.WaitTimeout == "" {
		c.Platform.WaitTimeout = DefaultWaitTimeout.String()
	}
	if c.Platform.SettleTime == "" {
		c.Platform.SettleTime = DefaultSettleTime.String()
	}
	if c.Platform.PruneImplicitBond == nil {
		prune := true
		c.Platform.PruneImplicitBond = &prune
	}
	if c.Platform.EventQueueLimit == 0 {
		c.Platform.EventQueueLimit = DefaultEventQueueLimit
	}
	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Metrics == nil {
		c.Metrics = &MetricsConfig{}
	}
	if c.Journal == nil {
		c.Journal = &JournalConfig{}
	}
}

// WaitTimeoutDuration returns wait_timeout, falling back to the default on
// unparsable input. Validate reports the parse error.
func (p *PlatformConfig) WaitTimeoutDuration() time.Duration {
	return parseDurationOr(p.WaitTimeout, DefaultWaitTimeout)
}

// SettleTimeDuration returns settle_time.
func (p *PlatformConfig) SettleTimeDuration() time.Duration {
	return parseDurationOr(p.SettleTime, DefaultSettleTime)
}

// ShouldPruneImplicitBond reports whether an implicitly created bond0 is deleted.
func (p *PlatformConfig) ShouldPruneImplicitBond() bool {
	return p.PruneImplicitBond == nil || *p.PruneImplicitBond
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// Link returns the link block with the given name, or nil.
func (c *Config) Link(name string) *LinkConfig {
	for i := range c.Links {
		if c.Links[i].Name == name {
			return &c.Links[i]
		}
	}
	return nil
}

// MasterOptions returns the link's options block as strings.
func (l *LinkConfig) MasterOptions() (map[string]string, error) {
	m, err := optionMap(l.Options)
	if err != nil {
		return nil, fmt.Errorf("link %q options: %w", l.Name, err)
	}
	return m, nil
}

// SlaveOptionMap returns the link's slave_options block as strings.
func (l *LinkConfig) SlaveOptionMap() (map[string]string, error) {
	m, err := optionMap(l.SlaveOptions)
	if err != nil {
		return nil, fmt.Errorf("link %q slave_options: %w", l.Name, err)
	}
	return m, nil
}

// optionMap flattens an HCL object or map into string values.
func optionMap(v cty.Value) (map[string]string, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsWhollyKnown() {
		return nil, fmt.Errorf("value is not known")
	}
	ty := v.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", ty.FriendlyName())
	}

	out := make(map[string]string, v.LengthInt())
	for it := v.ElementIterator(); it.Next(); {
		k, ev := it.Element()
		sv, err := convert.Convert(ev, cty.String)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k.AsString(), err)
		}
		if sv.IsNull() {
			return nil, fmt.Errorf("%s: value is null", k.AsString())
		}
		out[k.AsString()] = sv.AsString()
	}
	return out, nil
}

// OptionsValue converts a string map to the cty object used in LinkConfig.
func OptionsValue(m map[string]string) cty.Value {
	if len(m) == 0 {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	vals := make(map[string]cty.Value, len(m))
	for k, v := range m {
		vals[k] = cty.StringVal(v)
	}
	return cty.ObjectVal(vals)
}
