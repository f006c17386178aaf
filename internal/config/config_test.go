package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
server:
  addr: ":8080"
aggregator:
  base_url: "http://aggregator.local"
chain:
  networks:
    base-sepolia:
      chain_id: 84532
      rpc_endpoints: ["http://rpc-a", "http://rpc-b"]
      gateway: "0x0000000000000000000000000000000000000001"
      tokens:
        USDC:
          address: "0x0000000000000000000000000000000000000002"
          decimals: 6
`

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 2*time.Second, cfg.SubmitterPollInterval())
	assert.Equal(t, 2*time.Minute, cfg.ResolutionTimeout())
	assert.Equal(t, 5*time.Second, cfg.ReconcileInterval())
	assert.Equal(t, 30*time.Second, cfg.Lease())
	assert.Equal(t, 30*time.Second, cfg.ReindexGrace())
	assert.Equal(t, 3, cfg.Reindex.Attempts)
	assert.Equal(t, time.Second, cfg.ReindexBaseDelay())
	assert.Equal(t, 20*time.Second, cfg.RecordsTimeout())
	assert.Equal(t, 15*time.Second, cfg.WorkerInterval())
	assert.Empty(t, cfg.DB.DSN)

	n := cfg.Chain.Networks["base-sepolia"]
	assert.Equal(t, int64(84532), n.ChainID)
	assert.Equal(t, int32(6), n.Tokens["USDC"].Decimals)
}

func TestParse_EnvOverrides(t *testing.T) {
	t.Setenv("AGGREGATOR_TOKEN", "secret")
	t.Setenv("SIGNER_KEY", "0xabc")
	t.Setenv("RPC_ENDPOINTS_BASE_SEPOLIA", " http://rpc-c , ,http://rpc-d ")
	t.Setenv("REINDEX_GRACE_SECONDS", "45")
	t.Setenv("RECONCILER_INTERVAL_MS", "not-a-number")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Aggregator.Token)
	n := cfg.Chain.Networks["base-sepolia"]
	assert.Equal(t, "0xabc", n.SignerKey)
	assert.Equal(t, []string{"http://rpc-c", "http://rpc-d"}, n.RPCEndpoints)
	assert.Equal(t, 45*time.Second, cfg.ReindexGrace())
	assert.Equal(t, 5*time.Second, cfg.ReconcileInterval())
}

func TestParse_Validation(t *testing.T) {
	cases := map[string]string{
		"missing addr":       "aggregator: {base_url: x}\nchain: {networks: {a: {chain_id: 1, rpc_endpoints: [x], gateway: g}}}",
		"missing aggregator": "server: {addr: ':1'}\nchain: {networks: {a: {chain_id: 1, rpc_endpoints: [x], gateway: g}}}",
		"no networks":        "server: {addr: ':1'}\naggregator: {base_url: x}",
		"no gateway":         "server: {addr: ':1'}\naggregator: {base_url: x}\nchain: {networks: {a: {chain_id: 1, rpc_endpoints: [x]}}}",
		"bad token":          "server: {addr: ':1'}\naggregator: {base_url: x}\nchain: {networks: {a: {chain_id: 1, rpc_endpoints: [x], gateway: g, tokens: {USDC: {address: y}}}}}",
	}
	for name, doc := range cases {
		_, err := Parse([]byte(doc))
		assert.Error(t, err, name)
	}
}

func TestLoad_ShippedConfig(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	path := filepath.Join("..", "..", "configs", "config.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skip("shipped config not found")
	}
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Chain.Networks, "base")
	assert.Equal(t, ":8080", cfg.Server.Addr)
}
