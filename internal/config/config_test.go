package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.NodeEndpoint == "" {
		t.Error("expected a non-empty default node endpoint")
	}

	if cfg.DustThreshold != 1000 {
		t.Errorf("expected DustThreshold 1000, got %d", cfg.DustThreshold)
	}

	if cfg.SpendableAge != 10 {
		t.Errorf("expected SpendableAge 10, got %d", cfg.SpendableAge)
	}

	if cfg.MempoolTxLiveTime != 24*time.Hour {
		t.Errorf("expected MempoolTxLiveTime 24h, got %v", cfg.MempoolTxLiveTime)
	}

	if cfg.DefaultMixin == 0 {
		t.Error("expected a non-zero default mixin")
	}

	if cfg.MaxMixin < cfg.DefaultMixin {
		t.Errorf("MaxMixin (%d) must be >= DefaultMixin (%d)", cfg.MaxMixin, cfg.DefaultMixin)
	}

	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Logging.Level)
	}
}

func TestLoadCreatesDefault(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "walletengine-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	configPath := filepath.Join(tmpDir, FileName)
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	if cfg.Storage.DataDir != tmpDir {
		t.Errorf("expected DataDir %s, got %s", tmpDir, cfg.Storage.DataDir)
	}
	if cfg.DustThreshold != Default().DustThreshold {
		t.Errorf("expected default dust threshold, got %d", cfg.DustThreshold)
	}
}

func TestLoadReadsExisting(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "walletengine-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	customConfig := `node_endpoint: http://node.example:8070
dust_threshold: 5000
spendable_age: 20
default_mixin: 4
max_mixin: 16
logging:
  level: debug
`
	configPath := filepath.Join(tmpDir, FileName)
	if err := os.WriteFile(configPath, []byte(customConfig), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.NodeEndpoint != "http://node.example:8070" {
		t.Errorf("expected custom node endpoint, got %s", cfg.NodeEndpoint)
	}
	if cfg.DustThreshold != 5000 {
		t.Errorf("expected DustThreshold 5000, got %d", cfg.DustThreshold)
	}
	if cfg.SpendableAge != 20 {
		t.Errorf("expected SpendableAge 20, got %d", cfg.SpendableAge)
	}
	if cfg.DefaultMixin != 4 {
		t.Errorf("expected DefaultMixin 4, got %d", cfg.DefaultMixin)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Logging.Level)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "walletengine-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	cfg := Default()
	cfg.DustThreshold = 42
	path := filepath.Join(tmpDir, FileName)
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DustThreshold != 42 {
		t.Errorf("expected DustThreshold 42 after round trip, got %d", loaded.DustThreshold)
	}
}
