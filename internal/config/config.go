// Package config handles configuration loading using viper.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"firestige.xyz/pktcraft/pkg/core"
	"firestige.xyz/pktcraft/pkg/link"
	"firestige.xyz/pktcraft/pkg/sink"
)

// Config is the top-level configuration.
// Maps to the `pktcraft:` root key in YAML.
type Config struct {
	Link    LinkConfig    `mapstructure:"link" yaml:"link"`
	IPv4    IPv4Config    `mapstructure:"ipv4" yaml:"ipv4"`
	Sink    sink.Config   `mapstructure:"sink" yaml:"sink"`
	Serial  SerialConfig  `mapstructure:"serial" yaml:"serial"`
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

// ─── Link ───

// LinkConfig selects the link variant and its addressing.
type LinkConfig struct {
	Type           string `mapstructure:"type" yaml:"type"` // ethernet | slip
	Interface      string `mapstructure:"interface" yaml:"interface"`
	SrcMAC         string `mapstructure:"src_mac" yaml:"src_mac"`                 // empty = interface address
	DstMAC         string `mapstructure:"dst_mac" yaml:"dst_mac"`                 // empty = neighbour lookup
	ResolveTimeout string `mapstructure:"resolve_timeout" yaml:"resolve_timeout"` // ARP fallback budget
}

// Kind returns the parsed link type.
func (l LinkConfig) Kind() (link.Kind, error) { return link.ParseKind(l.Type) }

// HardwareAddrs parses the configured MAC addresses. Unset addresses are
// returned as nil.
func (l LinkConfig) HardwareAddrs() (src, dst net.HardwareAddr, err error) {
	if src, err = parseMAC("link.src_mac", l.SrcMAC); err != nil {
		return nil, nil, err
	}
	if dst, err = parseMAC("link.dst_mac", l.DstMAC); err != nil {
		return nil, nil, err
	}
	return src, dst, nil
}

// Timeout returns the parsed resolve timeout.
func (l LinkConfig) Timeout() time.Duration {
	d, err := time.ParseDuration(l.ResolveTimeout)
	if err != nil {
		return 0
	}
	return d
}

func parseMAC(field, s string) (net.HardwareAddr, error) {
	if s == "" {
		return nil, nil
	}
	mac, err := net.ParseMAC(s)
	if err != nil {
		return nil, fmt.Errorf("invalid %s %q: %w", field, s, core.ErrConfigInvalid)
	}
	if len(mac) != 6 {
		return nil, fmt.Errorf("%s %q is not a 48-bit address: %w", field, s, core.ErrConfigInvalid)
	}
	return mac, nil
}

// ─── IPv4 ───

// IPv4Config holds the socket options applied to every datagram.
type IPv4Config struct {
	SourceAddr      string `mapstructure:"source_addr" yaml:"source_addr"` // empty = first address of link.interface
	TTL             int    `mapstructure:"ttl" yaml:"ttl"`
	Precedence      int    `mapstructure:"precedence" yaml:"precedence"` // 0-7
	LowDelay        bool   `mapstructure:"low_delay" yaml:"low_delay"`
	HighThroughput  bool   `mapstructure:"high_throughput" yaml:"high_throughput"`
	HighReliability bool   `mapstructure:"high_reliability" yaml:"high_reliability"`
	NoFragment      bool   `mapstructure:"no_fragment" yaml:"no_fragment"`
	MTU             int    `mapstructure:"mtu" yaml:"mtu"` // 0 = unchecked
}

// ─── Serial (SLIP) ───

// SerialConfig configures the serial port SLIP frames are written to.
type SerialConfig struct {
	Device string `mapstructure:"device" yaml:"device"`
	Baud   int    `mapstructure:"baud" yaml:"baud"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level   string           `mapstructure:"level" yaml:"level"`   // debug / info / warn / error
	Format  string           `mapstructure:"format" yaml:"format"` // json / text
	Outputs LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stderr.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `pktcraft: ...`.
type configRoot struct {
	Pktcraft Config `mapstructure:"pktcraft"`
}

// LoadOption adjusts the viper instance before the config is decoded.
type LoadOption func(v *viper.Viper) error

// WithFlags binds command-line flags over config keys. bindings maps a key
// below the root (e.g. "link.interface") to a flag name. Flags the user did
// not set leave the file, env and default values in place.
func WithFlags(fs *pflag.FlagSet, bindings map[string]string) LoadOption {
	return func(v *viper.Viper) error {
		for key, name := range bindings {
			f := fs.Lookup(name)
			if f == nil {
				return fmt.Errorf("no flag %q to bind to %s", name, key)
			}
			if err := v.BindPFlag("pktcraft."+key, f); err != nil {
				return fmt.Errorf("bind flag %q: %w", name, err)
			}
		}
		return nil
	}
}

// Load loads configuration from path. An empty path yields the defaults,
// still subject to environment and flag overrides.
// Precedence: flags > env (PKTCRAFT_ prefix, e.g. PKTCRAFT_LINK_INTERFACE) >
// file > defaults.
func Load(path string, opts ...LoadOption) (*Config, error) {
	v := viper.New()

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// The `pktcraft.` key prefix maps to `PKTCRAFT_` through the replacer.
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.Pktcraft

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// setDefaults sets default values for configuration.
// All keys use the "pktcraft." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Link defaults
	v.SetDefault("pktcraft.link.type", "ethernet")
	v.SetDefault("pktcraft.link.interface", "")
	v.SetDefault("pktcraft.link.src_mac", "")
	v.SetDefault("pktcraft.link.dst_mac", "")
	v.SetDefault("pktcraft.link.resolve_timeout", "2s")

	// IPv4 defaults match a freshly created socket
	v.SetDefault("pktcraft.ipv4.source_addr", "")
	v.SetDefault("pktcraft.ipv4.ttl", 64)
	v.SetDefault("pktcraft.ipv4.precedence", 0)
	v.SetDefault("pktcraft.ipv4.low_delay", false)
	v.SetDefault("pktcraft.ipv4.high_throughput", true)
	v.SetDefault("pktcraft.ipv4.high_reliability", false)
	v.SetDefault("pktcraft.ipv4.no_fragment", false)
	v.SetDefault("pktcraft.ipv4.mtu", 1500)

	// Sink defaults
	v.SetDefault("pktcraft.sink.type", "packet")
	v.SetDefault("pktcraft.sink.interface", "")
	v.SetDefault("pktcraft.sink.pcap_file", "pktcraft.pcap")
	v.SetDefault("pktcraft.sink.ring_size_mb", 2)
	v.SetDefault("pktcraft.sink.snap_len", 65536)

	// Serial defaults
	v.SetDefault("pktcraft.serial.device", "")
	v.SetDefault("pktcraft.serial.baud", sink.DefaultBaud)

	// Metrics defaults
	v.SetDefault("pktcraft.metrics.enabled", false)
	v.SetDefault("pktcraft.metrics.listen", ":9091")
	v.SetDefault("pktcraft.metrics.path", "/metrics")

	// Log defaults
	v.SetDefault("pktcraft.log.level", "info")
	v.SetDefault("pktcraft.log.format", "text")
	v.SetDefault("pktcraft.log.outputs.file.enabled", false)
	v.SetDefault("pktcraft.log.outputs.file.path", "/var/log/pktcraft/pktcraft.log")
	v.SetDefault("pktcraft.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("pktcraft.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("pktcraft.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("pktcraft.log.outputs.file.rotation.compress", true)
}

// Default returns the configuration Load produces without a file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var root configRoot
	// defaults always decode
	_ = v.Unmarshal(&root)
	cfg := root.Pktcraft
	return &cfg
}

// ValidateAndApplyDefaults validates configuration and fills derived values.
// Every failure wraps core.ErrConfigInvalid.
func (cfg *Config) ValidateAndApplyDefaults() error {
	if err := cfg.validate(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfigInvalid, err)
	}
	return nil
}

func (cfg *Config) validate() error {
	// ── Log ──
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json/text)", cfg.Log.Format)
	}

	// ── IPv4 ──
	if cfg.IPv4.TTL < 1 || cfg.IPv4.TTL > 255 {
		return fmt.Errorf("ipv4.ttl %d out of range 1-255", cfg.IPv4.TTL)
	}
	if cfg.IPv4.Precedence < 0 || cfg.IPv4.Precedence > 7 {
		return fmt.Errorf("ipv4.precedence %d out of range 0-7", cfg.IPv4.Precedence)
	}
	if cfg.IPv4.MTU < 0 || cfg.IPv4.MTU > 65535 {
		return fmt.Errorf("ipv4.mtu %d out of range 0-65535", cfg.IPv4.MTU)
	}
	if cfg.IPv4.SourceAddr != "" {
		addr, err := netip.ParseAddr(cfg.IPv4.SourceAddr)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("ipv4.source_addr %q is not an IPv4 address", cfg.IPv4.SourceAddr)
		}
	}

	// ── Link ──
	kind, err := cfg.Link.Kind()
	if err != nil {
		return err
	}
	if _, _, err := cfg.Link.HardwareAddrs(); err != nil {
		return err
	}
	if _, err := time.ParseDuration(cfg.Link.ResolveTimeout); err != nil {
		return fmt.Errorf("invalid link.resolve_timeout %q: %v", cfg.Link.ResolveTimeout, err)
	}

	switch kind {
	case link.KindEthernet:
		if cfg.Sink.Interface == "" {
			cfg.Sink.Interface = cfg.Link.Interface
		}
		if !registered(cfg.Sink.Type) {
			return fmt.Errorf("unsupported sink.type: %s (available %v)", cfg.Sink.Type, sink.Registered())
		}
	case link.KindSLIP:
		if cfg.Serial.Baud <= 0 {
			return fmt.Errorf("serial.baud must be positive, got %d", cfg.Serial.Baud)
		}
	}

	// ── Metrics ──
	if cfg.Metrics.Enabled && cfg.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled=true")
	}
	return nil
}

func registered(name string) bool {
	for _, n := range sink.Registered() {
		if n == name {
			return true
		}
	}
	return false
}

// ResolveSourceAddr returns the first IPv4 address of iface, or of the first
// up, non-loopback interface when iface is empty. Link-local addresses are
// skipped.
func ResolveSourceAddr(iface string) (netip.Addr, error) {
	var ifaces []net.Interface
	if iface != "" {
		ifi, err := net.InterfaceByName(iface)
		if err != nil {
			return netip.Addr{}, fmt.Errorf("cannot resolve source address: %w", err)
		}
		ifaces = []net.Interface{*ifi}
	} else {
		all, err := net.Interfaces()
		if err != nil {
			return netip.Addr{}, fmt.Errorf("cannot resolve source address: failed to list interfaces: %w", err)
		}
		ifaces = all
	}

	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || (iface == "" && ifi.Flags&net.FlagLoopback != 0) {
			continue
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			addr, ok := netip.AddrFromSlice(ipNet.IP.To4())
			if !ok || addr.IsLinkLocalUnicast() {
				continue
			}
			return addr, nil
		}
	}
	return netip.Addr{}, fmt.Errorf("cannot resolve source address: set PKTCRAFT_IPV4_SOURCE_ADDR or pktcraft.ipv4.source_addr")
}
