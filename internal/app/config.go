// Package app loads the bridge daemon configuration. The file is YAML;
// keys are dotted (bridge.atomic.swap.enabled) and may be written flat
// or nested — nested maps are flattened on load.
package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aurigraph/chainadapter"
	"gopkg.in/yaml.v3"
)

// Default values for recognized keys.
const (
	DefaultAtomicSwapTimeoutHours = 24
	DefaultTransferTimeoutMinutes = 5
	DefaultMaxRetries             = 3
	DefaultProcessingDelayMinMs   = 50
	DefaultProcessingDelayMaxMs   = 200
)

// Config is the flattened key/value view of the daemon configuration.
type Config struct {
	values map[string]string
}

// Load reads and flattens a YAML config file. A missing path yields an
// all-defaults config.
func Load(path string) (*Config, error) {
	cfg := &Config{values: make(map[string]string)}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	flatten("", raw, cfg.values)
	return cfg, nil
}

// flatten turns nested maps into dotted keys.
func flatten(prefix string, value interface{}, out map[string]string) {
	switch v := value.(type) {
	case map[string]interface{}:
		for key, child := range v {
			next := key
			if prefix != "" {
				next = prefix + "." + key
			}
			flatten(next, child, out)
		}
	default:
		out[prefix] = fmt.Sprintf("%v", v)
	}
}

// Set overrides one key. Used by flags and tests.
func (c *Config) Set(key, value string) {
	c.values[key] = value
}

// String returns a key's value or the default.
func (c *Config) String(key, def string) string {
	if v, ok := c.values[key]; ok {
		return v
	}
	return def
}

// Bool returns a key's boolean value or the default.
func (c *Config) Bool(key string, def bool) bool {
	v, ok := c.values[key]
	if !ok {
		return def
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

// Int returns a key's integer value or the default.
func (c *Config) Int(key string, def int) int {
	v, ok := c.values[key]
	if !ok {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return parsed
}

// ProcessingDelayMin is the lower bound of the adapter processing
// window (bridge.processing.delay.min, ms).
func (c *Config) ProcessingDelayMin() time.Duration {
	return time.Duration(c.Int("bridge.processing.delay.min", DefaultProcessingDelayMinMs)) * time.Millisecond
}

// ProcessingDelayMax is the upper bound of the adapter processing
// window (bridge.processing.delay.max, ms).
func (c *Config) ProcessingDelayMax() time.Duration {
	return time.Duration(c.Int("bridge.processing.delay.max", DefaultProcessingDelayMaxMs)) * time.Millisecond
}

// AtomicSwapEnabled gates the swap engine (bridge.atomic.swap.enabled).
func (c *Config) AtomicSwapEnabled() bool {
	return c.Bool("bridge.atomic.swap.enabled", true)
}

// MultiSigEnabled gates the threshold round (bridge.multi.sig.enabled).
func (c *Config) MultiSigEnabled() bool {
	return c.Bool("bridge.multi.sig.enabled", true)
}

// AtomicSwapTimeout is the HTLC expiry window
// (atomic.swap.timeout.hours).
func (c *Config) AtomicSwapTimeout() time.Duration {
	return time.Duration(c.Int("atomic.swap.timeout.hours", DefaultAtomicSwapTimeoutHours)) * time.Hour
}

// TransferTimeout is the orchestrated-transfer deadline
// (bridge.transfer.timeout.minutes).
func (c *Config) TransferTimeout() time.Duration {
	return time.Duration(c.Int("bridge.transfer.timeout.minutes", DefaultTransferTimeoutMinutes)) * time.Minute
}

// SwapConfirmBlocks is the per-chain confirmation override
// (atomic.swap.confirm.blocks.<chain>); 0 means no override.
func (c *Config) SwapConfirmBlocks(chainID string) int {
	return c.Int("atomic.swap.confirm.blocks."+chainID, 0)
}

// ConfirmationOverrides collects every configured per-chain override.
func (c *Config) ConfirmationOverrides(chainIDs []string) map[string]int {
	out := make(map[string]int)
	for _, chain := range chainIDs {
		if v := c.SwapConfirmBlocks(chain); v > 0 {
			out[chain] = v
		}
	}
	return out
}

// AdapterConfig assembles one chain's adapter configuration from its
// scoped keys (<chain>.rpc.url, <chain>.websocket.url, <chain>.chain.id,
// <chain>.confirmation.blocks, <chain>.max.retries,
// <chain>.timeout.seconds).
func (c *Config) AdapterConfig(chainID string) chainadapter.Config {
	return chainadapter.Config{
		RPCURL:             c.String(chainID+".rpc.url", ""),
		WebsocketURL:       c.String(chainID+".websocket.url", ""),
		NetworkID:          c.String(chainID+".chain.id", ""),
		ConfirmationBlocks: c.Int(chainID+".confirmation.blocks", 0),
		MaxRetries:         c.Int(chainID+".max.retries", DefaultMaxRetries),
		Timeout:            time.Duration(c.Int(chainID+".timeout.seconds", 30)) * time.Second,
	}
}

// ValidatorMnemonic is the keystore mnemonic (validators.mnemonic).
// Empty means generate a fresh one at startup.
func (c *Config) ValidatorMnemonic() string {
	return c.String("validators.mnemonic", "")
}

// ValidatorCount is how many local validators to derive
// (validators.count).
func (c *Config) ValidatorCount() int {
	return c.Int("validators.count", 3)
}

// MetricsListen is the Prometheus listen address (metrics.listen).
func (c *Config) MetricsListen() string {
	return c.String("metrics.listen", ":9105")
}

// AuditLogPath is the NDJSON audit trail location (audit.log.path).
func (c *Config) AuditLogPath() string {
	return c.String("audit.log.path", "")
}
