// Package sink provides the raw frame transmit primitives a link writes to.
package sink

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"firestige.xyz/pktcraft/pkg/core"
)

// Sink accepts fully framed packets. WriteFrame returns the number of bytes
// the platform reported as sent. A deadline on ctx bounds the write where the
// implementation supports it.
type Sink interface {
	WriteFrame(ctx context.Context, frame []byte) (int, error)
	Close() error
}

// Config selects and parameterises a registered sink.
type Config struct {
	Type       string `mapstructure:"type" yaml:"type"`
	Interface  string `mapstructure:"interface" yaml:"interface"`
	PcapFile   string `mapstructure:"pcap_file" yaml:"pcap_file"`
	RingSizeMB int    `mapstructure:"ring_size_mb" yaml:"ring_size_mb"`
	SnapLen    int    `mapstructure:"snap_len" yaml:"snap_len"`
}

// Factory opens a sink from its configuration.
type Factory func(cfg Config) (Sink, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Factory)
)

// Register makes a sink type available to Open. Registering a name twice
// replaces the earlier factory.
func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// Registered lists the available sink types.
func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open builds the sink named by cfg.Type.
func Open(cfg Config) (Sink, error) {
	registryMu.RLock()
	f, ok := registry[cfg.Type]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("sink type %q (available %v): %w", cfg.Type, Registered(), core.ErrConfigInvalid)
	}
	return f(cfg)
}

// checkContext reports a cancelled or expired ctx as a sink error.
func checkContext(ctx context.Context, op string) error {
	if err := ctx.Err(); err != nil {
		return core.NewSinkError(op, err)
	}
	return nil
}
