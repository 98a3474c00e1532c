// Package config provides centralized configuration for the wallet transfer
// engine. All tunable thresholds (dust, spendable age, pool liveness, tx
// size limits, mixin defaults, node endpoint, retry timing) live here.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable the engine consults outside of a single call's
// explicit arguments.
type Config struct {
	// NodeEndpoint is the base URL of the node's JSON-RPC interface.
	NodeEndpoint string `yaml:"node_endpoint"`

	// NodeSubscribeEndpoint is the websocket URL used for the node's push
	// observer subscription (peer/height/pool/chain-switch events). Empty
	// disables the push path; the synchronizer falls back to polling.
	NodeSubscribeEndpoint string `yaml:"node_subscribe_endpoint"`

	// DustThreshold is the largest amount, in atomic units, treated as dust:
	// spendable but excluded from automatic input selection unless needed.
	DustThreshold uint64 `yaml:"dust_threshold"`

	// SpendableAge is the number of confirmations (A) an output must clear
	// before it leaves the SoftLocked state and becomes spendable.
	SpendableAge uint32 `yaml:"spendable_age"`

	// MempoolTxLiveTime bounds how long an unconfirmed outgoing transaction
	// is kept in the pending set before the aging sweep gives up on it.
	MempoolTxLiveTime time.Duration `yaml:"mempool_tx_live_time"`

	// UpperTransactionSizeLimit bounds the serialized transaction size, in
	// bytes: the sender reports TransactionSizeTooBig for any transaction
	// whose size reaches or exceeds it.
	UpperTransactionSizeLimit uint64 `yaml:"upper_transaction_size_limit"`

	// DefaultMixin is a default decoy count (ring size minus one) offered to
	// callers. The sender does not read it: every Send uses the mixin given
	// in its request, and zero means no decoys.
	DefaultMixin uint64 `yaml:"default_mixin"`

	// MaxMixin is an upper bound on the decoy count offered to callers. The
	// sender does not check it; it reports MixinCountTooBig only when the
	// Node returns too few decoys for an input amount.
	MaxMixin uint64 `yaml:"max_mixin"`

	// DustAddToFee, when true, folds any change residue below
	// DustThreshold into the transaction fee instead of emitting a dust
	// output. When false, the residue is sent to DustAddress.
	DustAddToFee bool `yaml:"dust_add_to_fee"`

	// DustAddress receives sub-dust change residue when DustAddToFee is
	// false. Ignored otherwise.
	DustAddress string `yaml:"dust_address"`

	// DisplayDecimals is the number of fractional digits atomic-unit amounts
	// are formatted with in logs, matching the original's
	// CRYPTONOTE_DISPLAY_DECIMAL_POINT.
	DisplayDecimals uint8 `yaml:"display_decimals"`

	// SyncPollInterval is how often the synchronizer asks the node for new
	// blocks when no push subscription is active.
	SyncPollInterval time.Duration `yaml:"sync_poll_interval"`

	// PoolPollInterval is how often the synchronizer refreshes the
	// transaction pool's symmetric difference.
	PoolPollInterval time.Duration `yaml:"pool_poll_interval"`

	// NetworkRetryBackoff and NetworkRetryBackoffMax are loaded from the
	// config file, but nothing outside this package reads them: a failed
	// node request is not retried with backoff, and the daemon's poll loop
	// simply tries again on its next SyncPollInterval or PoolPollInterval
	// tick.
	NetworkRetryBackoff time.Duration `yaml:"network_retry_backoff"`

	// NetworkRetryBackoffMax: see NetworkRetryBackoff.
	NetworkRetryBackoffMax time.Duration `yaml:"network_retry_backoff_max"`

	// Logging controls the engine's structured logger.
	Logging LoggingConfig `yaml:"logging"`

	// Storage controls where the wallet file and history database live.
	Storage StorageConfig `yaml:"storage"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// StorageConfig holds on-disk layout settings.
type StorageConfig struct {
	// DataDir is the directory holding the wallet file and history database.
	DataDir string `yaml:"data_dir"`

	// HistoryDBFile is the sqlite file name for the secondary transaction
	// history index, relative to DataDir.
	HistoryDBFile string `yaml:"history_db_file"`
}

// Default returns a Config with sensible defaults, suitable for tests and as
// the basis for a freshly generated config file.
func Default() *Config {
	return &Config{
		NodeEndpoint:              "http://127.0.0.1:8070",
		NodeSubscribeEndpoint:     "",
		DustThreshold:             1000,
		SpendableAge:              10,
		MempoolTxLiveTime:         24 * time.Hour,
		UpperTransactionSizeLimit: 1_000_000,
		DefaultMixin:              6,
		MaxMixin:                  100,
		DustAddToFee:              true,
		DustAddress:               "",
		DisplayDecimals:           8,
		SyncPollInterval:          time.Second,
		PoolPollInterval:          5 * time.Second,
		NetworkRetryBackoff:       500 * time.Millisecond,
		NetworkRetryBackoffMax:    30 * time.Second,
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
		Storage: StorageConfig{
			DataDir:       "~/.walletengine",
			HistoryDBFile: "history.db",
		},
	}
}

// FileName is the default config file name.
const FileName = "config.yaml"

// Load reads configuration from dataDir/config.yaml, creating one with
// default values (rooted at dataDir) if it doesn't exist yet.
func Load(dataDir string) (*Config, error) {
	expanded := expandPath(dataDir)
	path := filepath.Join(expanded, FileName)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.Storage.DataDir = dataDir
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse config file: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to a YAML file, creating its directory if
// necessary.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("config: create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal config: %w", err)
	}

	header := []byte("# wallet transfer engine configuration\n# generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("config: write config file: %w", err)
	}
	return nil
}

func expandPath(path string) string {
	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
