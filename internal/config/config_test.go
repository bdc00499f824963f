package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadAndValidate(t *testing.T) {
	yaml := `
storage:
  root: "/tmp/tickstore/data"
  naming_convention: "by_source"
  max_parallelism: 4

tiers:
  - name: hot
    max_age_days: 7
  - name: warm
    max_age_days: 90
    compression: gzip
  - name: cold
    max_age_days: 365
    compression: zstd
  - name: glacier
    blob:
      enabled: true
      endpoint: "http://localhost:9000"
      bucket: "market-archive"

policies:
  trades:
    classification: Critical
    hot_tier_days: 3
    warm_tier_days: 30
    cold_tier_days: 180
    compression:
      cold: brotli

quotas:
  global:
    max_bytes: "10GB"
    policy: hard_limit
  sources:
    alpaca:
      max_bytes: "1GB"
      max_files: 1000
      policy: warn
  rescan_interval: "15m"

metadata:
  path: "/tmp/tickstore/meta.db"
`
	tmpFile, err := os.CreateTemp("", "tickstore-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())
	tmpFile.WriteString(yaml)
	tmpFile.Close()

	cfg, err := Load(tmpFile.Name())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if cfg.Storage.Root != "/tmp/tickstore/data" {
		t.Errorf("unexpected root: %s", cfg.Storage.Root)
	}
	if len(cfg.Tiers) != 4 {
		t.Fatalf("expected 4 tiers, got %d", len(cfg.Tiers))
	}
	if cfg.Tiers[3].Blob == nil || cfg.Tiers[3].Blob.Bucket != "market-archive" {
		t.Errorf("glacier blob config not parsed: %+v", cfg.Tiers[3].Blob)
	}
	p, ok := cfg.Policies["trades"]
	if !ok {
		t.Fatal("trades policy missing")
	}
	if p.Classification != "Critical" || p.ColdTierDays != 180 || p.Compression["cold"] != "brotli" {
		t.Errorf("unexpected trades policy: %+v", p)
	}
	if int64(cfg.Quotas.Global.MaxBytes) != 10*1024*1024*1024 {
		t.Errorf("unexpected global max_bytes: %d", cfg.Quotas.Global.MaxBytes)
	}
	if cfg.Quotas.Sources["alpaca"].MaxFiles != 1000 {
		t.Errorf("unexpected alpaca max_files: %d", cfg.Quotas.Sources["alpaca"].MaxFiles)
	}
	if cfg.Quotas.RescanInterval.Duration() != 15*time.Minute {
		t.Errorf("unexpected rescan interval: %v", cfg.Quotas.RescanInterval.Duration())
	}
	// Defaults survive for fields the file omits.
	if cfg.DefaultPolicy.ColdTierDays != 365 {
		t.Errorf("default policy lost: %+v", cfg.DefaultPolicy)
	}
	if cfg.Migration.ParallelFiles != 4 {
		t.Errorf("default parallel_files lost: %d", cfg.Migration.ParallelFiles)
	}
}

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tiers = []TierConfig{{Name: "hot", MaxAgeDays: 7}, {Name: "cold", MaxAgeDays: 365}}
	return cfg
}

func TestValidateNoTiers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tiers = nil
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for no tiers")
	}
}

func TestValidateDuplicateTier(t *testing.T) {
	cfg := validConfig()
	cfg.Tiers = append(cfg.Tiers, TierConfig{Name: "HOT"})
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for duplicate tier")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown tier", func(c *Config) { c.Tiers[0].Name = "lukewarm" }},
		{"unknown codec", func(c *Config) { c.Tiers[0].Compression = "snappy" }},
		{"unknown convention", func(c *Config) { c.Storage.NamingConvention = "by_mood" }},
		{"unknown classification", func(c *Config) { c.DefaultPolicy.Classification = "Vital" }},
		{"unknown quota policy", func(c *Config) {
			c.Quotas.Global = &QuotaLimitConfig{MaxBytes: 1, Policy: "explode"}
		}},
		{"blob without bucket", func(c *Config) { c.Tiers[1].Blob = &BlobTierConfig{Enabled: true} }},
		{"no root", func(c *Config) { c.Storage.Root = "" }},
		{"zero parallelism", func(c *Config) { c.Storage.MaxParallelism = 0 }},
		{"nats without url", func(c *Config) { c.NATS.Enabled = true; c.NATS.URL = "" }},
		{"zero rescan interval", func(c *Config) { c.Quotas.RescanInterval = 0 }},
		{"responder without nats", func(c *Config) { c.API.NATSResponder.Enabled = true }},
	}
	for _, tt := range tests {
		cfg := validConfig()
		tt.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}
}

func TestValidConfigPasses(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseByteSizes(t *testing.T) {
	tests := []struct {
		input    string
		expected int64
	}{
		{"1KB", 1024},
		{"256MB", 256 * 1024 * 1024},
		{"10GB", 10 * 1024 * 1024 * 1024},
		{"1TB", 1024 * 1024 * 1024 * 1024},
		{"100B", 100},
	}
	for _, tt := range tests {
		result, err := ParseByteSize(tt.input)
		if err != nil {
			t.Errorf("ParseByteSize(%q) error: %v", tt.input, err)
			continue
		}
		if result != tt.expected {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.input, result, tt.expected)
		}
	}
}
