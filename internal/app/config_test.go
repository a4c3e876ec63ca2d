package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.True(t, cfg.AtomicSwapEnabled())
	assert.True(t, cfg.MultiSigEnabled())
	assert.Equal(t, 24*time.Hour, cfg.AtomicSwapTimeout())
	assert.Equal(t, 5*time.Minute, cfg.TransferTimeout())
	assert.Equal(t, 0, cfg.SwapConfirmBlocks("ethereum"))
	assert.Equal(t, 3, cfg.ValidatorCount())
}

func TestNestedKeysFlatten(t *testing.T) {
	path := writeConfig(t, `
bridge:
  atomic:
    swap:
      enabled: false
  multi:
    sig:
      enabled: true
  processing:
    delay:
      min: 10
      max: 20
atomic:
  swap:
    timeout:
      hours: 48
    confirm:
      blocks:
        polygon: 64
ethereum:
  rpc:
    url: https://eth.example.org
  timeout:
    seconds: 12
  confirmation:
    blocks: 6
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.AtomicSwapEnabled())
	assert.True(t, cfg.MultiSigEnabled())
	assert.Equal(t, 10*time.Millisecond, cfg.ProcessingDelayMin())
	assert.Equal(t, 20*time.Millisecond, cfg.ProcessingDelayMax())
	assert.Equal(t, 48*time.Hour, cfg.AtomicSwapTimeout())
	assert.Equal(t, 64, cfg.SwapConfirmBlocks("polygon"))

	adapter := cfg.AdapterConfig("ethereum")
	assert.Equal(t, "https://eth.example.org", adapter.RPCURL)
	assert.Equal(t, 12*time.Second, adapter.Timeout)
	assert.Equal(t, 6, adapter.ConfirmationBlocks)
}

func TestFlatDottedKeys(t *testing.T) {
	path := writeConfig(t, `
bridge.atomic.swap.enabled: "false"
atomic.swap.timeout.hours: 1
polygon.rpc.url: https://polygon.example.org
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.AtomicSwapEnabled())
	assert.Equal(t, time.Hour, cfg.AtomicSwapTimeout())
	assert.Equal(t, "https://polygon.example.org", cfg.AdapterConfig("polygon").RPCURL)
}

func TestConfirmationOverrides(t *testing.T) {
	path := writeConfig(t, `
atomic.swap.confirm.blocks.ethereum: 24
atomic.swap.confirm.blocks.polygon: 64
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	overrides := cfg.ConfirmationOverrides([]string{"ethereum", "polygon", "bsc"})
	assert.Equal(t, map[string]int{"ethereum": 24, "polygon": 64}, overrides)
}

func TestMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.True(t, cfg.MultiSigEnabled())
}

func TestMalformedFileErrors(t *testing.T) {
	path := writeConfig(t, "{{not yaml")
	_, err := Load(path)
	require.Error(t, err)
}
