package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Token struct {
	Address  string `yaml:"address"`
	Decimals int32  `yaml:"decimals"`
}

type Network struct {
	ChainID              int64            `yaml:"chain_id"`
	RPCEndpoints         []string         `yaml:"rpc_endpoints"`
	Gateway              string           `yaml:"gateway"`
	SignerKey            string           `yaml:"signer_key"`
	RPCFailoverThreshold int              `yaml:"rpc_failover_threshold"`
	Tokens               map[string]Token `yaml:"tokens"`
}

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Aggregator struct {
		BaseURL        string `yaml:"base_url"`
		Token          string `yaml:"token"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"aggregator"`
	Chain struct {
		Networks map[string]Network `yaml:"networks"`
	} `yaml:"chain"`
	Submitter struct {
		PollIntervalMillis       int `yaml:"poll_interval_ms"`
		ResolutionTimeoutSeconds int `yaml:"resolution_timeout_seconds"`
	} `yaml:"submitter"`
	Reconciler struct {
		IntervalMillis int `yaml:"interval_ms"`
		LeaseSeconds   int `yaml:"lease_seconds"`
	} `yaml:"reconciler"`
	Reindex struct {
		GraceSeconds    int `yaml:"grace_seconds"`
		Attempts        int `yaml:"attempts"`
		BaseDelayMillis int `yaml:"base_delay_ms"`
	} `yaml:"reindex"`
	Records struct {
		TimeoutSeconds int `yaml:"timeout_seconds"`
	} `yaml:"records"`
	Worker struct {
		IntervalSeconds int64 `yaml:"interval_seconds"`
	} `yaml:"worker"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML document, applies environment overrides and
// defaults, and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.Aggregator.BaseURL == "" {
		return errors.New("aggregator.base_url is required")
	}
	if len(c.Chain.Networks) == 0 {
		return errors.New("chain.networks is empty")
	}
	for name, n := range c.Chain.Networks {
		if n.ChainID == 0 || len(n.RPCEndpoints) == 0 || n.Gateway == "" {
			return fmt.Errorf("chain.networks.%s is incomplete", name)
		}
		for symbol, t := range n.Tokens {
			if t.Address == "" || t.Decimals <= 0 {
				return fmt.Errorf("chain.networks.%s.tokens.%s is incomplete", name, symbol)
			}
		}
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Aggregator.TimeoutSeconds <= 0 {
		cfg.Aggregator.TimeoutSeconds = 15
	}
	if cfg.Submitter.PollIntervalMillis <= 0 {
		cfg.Submitter.PollIntervalMillis = 2000
	}
	if cfg.Submitter.ResolutionTimeoutSeconds <= 0 {
		cfg.Submitter.ResolutionTimeoutSeconds = 120
	}
	if cfg.Reconciler.IntervalMillis <= 0 {
		cfg.Reconciler.IntervalMillis = 5000
	}
	if cfg.Reconciler.LeaseSeconds <= 0 {
		cfg.Reconciler.LeaseSeconds = 30
	}
	if cfg.Reindex.GraceSeconds <= 0 {
		cfg.Reindex.GraceSeconds = 30
	}
	if cfg.Reindex.Attempts <= 0 {
		cfg.Reindex.Attempts = 3
	}
	if cfg.Reindex.BaseDelayMillis <= 0 {
		cfg.Reindex.BaseDelayMillis = 1000
	}
	if cfg.Records.TimeoutSeconds <= 0 {
		cfg.Records.TimeoutSeconds = 20
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 15
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("AGGREGATOR_BASE_URL"); v != "" {
		cfg.Aggregator.BaseURL = v
	}
	if v := os.Getenv("AGGREGATOR_TOKEN"); v != "" {
		cfg.Aggregator.Token = v
	}
	if v := os.Getenv("AGGREGATOR_TIMEOUT_SECONDS"); v != "" {
		cfg.Aggregator.TimeoutSeconds = atoiOr(cfg.Aggregator.TimeoutSeconds, v)
	}
	// The signer key is shared by every network unless a network sets its own.
	if v := os.Getenv("SIGNER_KEY"); v != "" {
		for name, n := range cfg.Chain.Networks {
			if n.SignerKey == "" {
				n.SignerKey = v
				cfg.Chain.Networks[name] = n
			}
		}
	}
	for name, n := range cfg.Chain.Networks {
		key := "RPC_ENDPOINTS_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if v := os.Getenv(key); v != "" {
			n.RPCEndpoints = splitCommaList(v)
			cfg.Chain.Networks[name] = n
		}
	}
	if v := os.Getenv("SUBMITTER_POLL_INTERVAL_MS"); v != "" {
		cfg.Submitter.PollIntervalMillis = atoiOr(cfg.Submitter.PollIntervalMillis, v)
	}
	if v := os.Getenv("SUBMITTER_RESOLUTION_TIMEOUT_SECONDS"); v != "" {
		cfg.Submitter.ResolutionTimeoutSeconds = atoiOr(cfg.Submitter.ResolutionTimeoutSeconds, v)
	}
	if v := os.Getenv("RECONCILER_INTERVAL_MS"); v != "" {
		cfg.Reconciler.IntervalMillis = atoiOr(cfg.Reconciler.IntervalMillis, v)
	}
	if v := os.Getenv("RECONCILER_LEASE_SECONDS"); v != "" {
		cfg.Reconciler.LeaseSeconds = atoiOr(cfg.Reconciler.LeaseSeconds, v)
	}
	if v := os.Getenv("REINDEX_GRACE_SECONDS"); v != "" {
		cfg.Reindex.GraceSeconds = atoiOr(cfg.Reindex.GraceSeconds, v)
	}
	if v := os.Getenv("REINDEX_ATTEMPTS"); v != "" {
		cfg.Reindex.Attempts = atoiOr(cfg.Reindex.Attempts, v)
	}
	if v := os.Getenv("REINDEX_BASE_DELAY_MS"); v != "" {
		cfg.Reindex.BaseDelayMillis = atoiOr(cfg.Reindex.BaseDelayMillis, v)
	}
	if v := os.Getenv("WORKER_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.IntervalSeconds = atoi64Or(cfg.Worker.IntervalSeconds, v)
	}
}

func (c *Config) AggregatorTimeout() time.Duration {
	return time.Duration(c.Aggregator.TimeoutSeconds) * time.Second
}

func (c *Config) SubmitterPollInterval() time.Duration {
	return time.Duration(c.Submitter.PollIntervalMillis) * time.Millisecond
}

func (c *Config) ResolutionTimeout() time.Duration {
	return time.Duration(c.Submitter.ResolutionTimeoutSeconds) * time.Second
}

func (c *Config) ReconcileInterval() time.Duration {
	return time.Duration(c.Reconciler.IntervalMillis) * time.Millisecond
}

// Lease is how long a process may go without renewing its claim on an
// order before another process takes reconciliation over.
func (c *Config) Lease() time.Duration {
	return time.Duration(c.Reconciler.LeaseSeconds) * time.Second
}

func (c *Config) ReindexGrace() time.Duration {
	return time.Duration(c.Reindex.GraceSeconds) * time.Second
}

func (c *Config) ReindexBaseDelay() time.Duration {
	return time.Duration(c.Reindex.BaseDelayMillis) * time.Millisecond
}

func (c *Config) RecordsTimeout() time.Duration {
	return time.Duration(c.Records.TimeoutSeconds) * time.Second
}

func (c *Config) WorkerInterval() time.Duration {
	return time.Duration(c.Worker.IntervalSeconds) * time.Second
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
