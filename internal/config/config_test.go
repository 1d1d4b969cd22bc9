package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, DefaultLSWAddress, cfg.LSWAddress)
	assert.Equal(t, uint64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, uint64(900), cfg.MaxBlockRange)
	assert.Equal(t, uint64(2000), cfg.LookbackBlocks)
	assert.Equal(t, 30*time.Second, cfg.HealthInterval)
	assert.Equal(t, "@every 30s", cfg.HealthSpec())
	assert.Equal(t, 50, cfg.HistoryCapacity)
	assert.Equal(t, 100, cfg.ActivityCapacity)
	assert.Equal(t, "file", cfg.Store)
}

func TestLoadPrecedence(t *testing.T) {
	dir := chdirTemp(t)
	cfgPath := filepath.Join(dir, "roundkeeper.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("max-block-range: 500\nlookback-blocks: 1000\ntopic0-map: \"0xabc=RoundEnded\"\n"), 0o644))
	t.Setenv("ROUNDKEEPER_LOOKBACK_BLOCKS", "1500")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Uint64("max-block-range", 900, "")
	require.NoError(t, flags.Parse([]string{"--max-block-range=100"}))

	cfg, err := Load(cfgPath, flags)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), cfg.MaxBlockRange)
	assert.Equal(t, uint64(1500), cfg.LookbackBlocks)
	assert.Equal(t, map[string]string{"0xabc": "RoundEnded"}, cfg.Topic0Map)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("ROUNDKEEPER_STREAMS_ADDRESS=0x00000000000000000000000000000000000000cc\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("ROUNDKEEPER_STREAMS_ADDRESS") })

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000cc", cfg.StreamsAddress)
}

func TestValidate(t *testing.T) {
	chdirTemp(t)
	cfg, err := Load("", nil)
	require.NoError(t, err)

	bad := cfg
	bad.Store = "sqlite"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Store = "postgres"
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.MaxBlockRange = 0
	assert.Error(t, bad.Validate())
}

func TestParseStringMap(t *testing.T) {
	got := parseStringMap(" 0x1=RoundEnded, bad, =x, 0x2 = StakeReceived ")
	assert.Equal(t, map[string]string{"0x1": "RoundEnded", "0x2": "StakeReceived"}, got)
}
