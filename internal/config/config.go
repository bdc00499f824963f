package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gftdcojp/tickstore/internal/naming"
	"github.com/gftdcojp/tickstore/internal/types"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Storage       StorageConfig           `yaml:"storage"`
	Tiers         []TierConfig            `yaml:"tiers"`
	DefaultPolicy PolicyConfig            `yaml:"default_policy"`
	Policies      map[string]PolicyConfig `yaml:"policies"`
	Quotas        QuotaConfig             `yaml:"quotas"`
	Lifecycle     LifecycleConfig         `yaml:"lifecycle"`
	Migration     MigrationConfig         `yaml:"migration"`
	Metadata      MetadataConfig          `yaml:"metadata"`
	NATS          NATSConfig              `yaml:"nats"`
	API           APIConfig               `yaml:"api"`
	Observability ObservabilityConfig     `yaml:"observability"`
}

type StorageConfig struct {
	Root               string   `yaml:"root"`
	NamingConvention   string   `yaml:"naming_convention"`
	DefaultCompression string   `yaml:"default_compression"`
	IncludePatterns    []string `yaml:"include_patterns"`
	ExcludePaths       []string `yaml:"exclude_paths"`
	MaxParallelism     int      `yaml:"max_parallelism"`
	ComputeChecksums   bool     `yaml:"compute_checksums"`
}

type TierConfig struct {
	Name        string          `yaml:"name"`
	Path        string          `yaml:"path"`
	MaxAgeDays  int             `yaml:"max_age_days"`
	Compression string          `yaml:"compression"`
	Format      string          `yaml:"format"`
	Blob        *BlobTierConfig `yaml:"blob"`
}

type BlobTierConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
	StorageClass    string `yaml:"storage_class"`
}

type PolicyConfig struct {
	Classification   string            `yaml:"classification"`
	HotTierDays      int               `yaml:"hot_tier_days"`
	WarmTierDays     int               `yaml:"warm_tier_days"`
	ColdTierDays     int               `yaml:"cold_tier_days"`
	PerpetualArchive bool              `yaml:"perpetual_archive"`
	MinRetentionDays int               `yaml:"min_retention_days"`
	Compression      map[string]string `yaml:"compression"`
}

type QuotaConfig struct {
	Global         *QuotaLimitConfig           `yaml:"global"`
	Sources        map[string]QuotaLimitConfig `yaml:"sources"`
	Symbols        map[string]QuotaLimitConfig `yaml:"symbols"`
	EventTypes     map[string]QuotaLimitConfig `yaml:"event_types"`
	RescanInterval Duration                    `yaml:"rescan_interval"`
}

type QuotaLimitConfig struct {
	MaxBytes ByteSize `yaml:"max_bytes"`
	MaxFiles int64    `yaml:"max_files"`
	Policy   string   `yaml:"policy"`
}

type LifecycleConfig struct {
	Enabled        bool     `yaml:"enabled"`
	EvalInterval   Duration `yaml:"eval_interval"`
	DryRun         bool     `yaml:"dry_run"`
	TieringEnabled bool     `yaml:"tiering_enabled"`

	// ActionLogRetention is how many audit records to keep; 0 keeps all.
	ActionLogRetention int `yaml:"action_log_retention"`
}

type MigrationConfig struct {
	ParallelFiles int      `yaml:"parallel_files"`
	Throughput    ByteSize `yaml:"throughput"`
}

type MetadataConfig struct {
	Path   string `yaml:"path"`
	NoSync bool   `yaml:"no_sync"`
}

type NATSConfig struct {
	Enabled         bool      `yaml:"enabled"`
	URL             string    `yaml:"url"`
	SubjectPrefix   string    `yaml:"subject_prefix"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
	ConnectionName  string    `yaml:"connection_name"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type APIConfig struct {
	Enabled       bool                `yaml:"enabled"`
	Listen        string              `yaml:"listen"`
	NATSResponder NATSResponderConfig `yaml:"nats_responder"`
}

// NATSResponderConfig answers requests on <subject_prefix>.api.*. It
// needs nats.enabled.
type NATSResponderConfig struct {
	Enabled       bool   `yaml:"enabled"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root is required")
	}
	if _, err := naming.ParseConvention(c.Storage.NamingConvention); err != nil {
		return fmt.Errorf("storage.naming_convention: %w", err)
	}
	if _, err := types.ParseCompression(c.Storage.DefaultCompression); err != nil {
		return fmt.Errorf("storage.default_compression: %w", err)
	}
	if c.Storage.MaxParallelism < 1 {
		return fmt.Errorf("storage.max_parallelism must be >= 1")
	}

	if len(c.Tiers) == 0 {
		return fmt.Errorf("at least one tier must be configured")
	}
	seen := make(map[types.Tier]bool)
	for i, tc := range c.Tiers {
		t, err := types.ParseTier(tc.Name)
		if err != nil {
			return fmt.Errorf("tiers[%d]: %w", i, err)
		}
		if seen[t] {
			return fmt.Errorf("tiers[%d] (%s): duplicate tier", i, tc.Name)
		}
		seen[t] = true
		if filepath.IsAbs(tc.Path) || strings.HasPrefix(filepath.ToSlash(filepath.Clean(tc.Path)), "..") {
			return fmt.Errorf("tiers[%d] (%s): path must be relative to storage.root", i, tc.Name)
		}
		if tc.MaxAgeDays < 0 {
			return fmt.Errorf("tiers[%d] (%s): max_age_days must be >= 0", i, tc.Name)
		}
		if _, err := types.ParseCompression(tc.Compression); err != nil {
			return fmt.Errorf("tiers[%d] (%s): %w", i, tc.Name, err)
		}
		if _, err := types.ParseFormat(tc.Format); err != nil {
			return fmt.Errorf("tiers[%d] (%s): %w", i, tc.Name, err)
		}
		if tc.Blob != nil && tc.Blob.Enabled && tc.Blob.Bucket == "" {
			return fmt.Errorf("tiers[%d] (%s): blob tier requires bucket", i, tc.Name)
		}
	}

	if err := c.DefaultPolicy.validate(); err != nil {
		return fmt.Errorf("default_policy: %w", err)
	}
	for name, p := range c.Policies {
		if err := p.validate(); err != nil {
			return fmt.Errorf("policies[%s]: %w", name, err)
		}
	}

	if c.Quotas.Global != nil {
		if err := c.Quotas.Global.validate(); err != nil {
			return fmt.Errorf("quotas.global: %w", err)
		}
	}
	for scope, limits := range map[string]map[string]QuotaLimitConfig{
		"sources":     c.Quotas.Sources,
		"symbols":     c.Quotas.Symbols,
		"event_types": c.Quotas.EventTypes,
	} {
		for key, l := range limits {
			if err := l.validate(); err != nil {
				return fmt.Errorf("quotas.%s[%s]: %w", scope, key, err)
			}
		}
	}

	if c.Lifecycle.Enabled && c.Lifecycle.EvalInterval <= 0 {
		return fmt.Errorf("lifecycle.eval_interval must be > 0")
	}
	if c.Quotas.RescanInterval <= 0 {
		return fmt.Errorf("quotas.rescan_interval must be > 0")
	}
	if c.Migration.ParallelFiles < 1 {
		return fmt.Errorf("migration.parallel_files must be >= 1")
	}
	if c.Metadata.Path == "" {
		return fmt.Errorf("metadata.path is required")
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		return fmt.Errorf("nats.url is required when nats is enabled")
	}
	if c.API.NATSResponder.Enabled && !c.NATS.Enabled {
		return fmt.Errorf("api.nats_responder requires nats.enabled")
	}

	return nil
}

func (p PolicyConfig) validate() error {
	if _, err := types.ParseClassification(p.Classification); err != nil {
		return err
	}
	if p.HotTierDays < 0 || p.WarmTierDays < 0 || p.ColdTierDays < 0 || p.MinRetentionDays < 0 {
		return fmt.Errorf("tier days must be >= 0")
	}
	for tierName, codec := range p.Compression {
		if _, err := types.ParseTier(tierName); err != nil {
			return err
		}
		if _, err := types.ParseCompression(codec); err != nil {
			return err
		}
	}
	return nil
}

func (l QuotaLimitConfig) validate() error {
	if l.MaxBytes < 0 || l.MaxFiles < 0 {
		return fmt.Errorf("limits must be >= 0")
	}
	switch l.Policy {
	case "", "warn", "soft_limit", "hard_limit", "drop_oldest":
		return nil
	}
	return fmt.Errorf("unknown enforcement policy %q", l.Policy)
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps int64 for YAML unmarshaling of strings like "256MB", "10GB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		// Try as integer
		var n int64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// ParseByteSize parses "512", "256MB" or "10GB" (binary multiples).
func ParseByteSize(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty byte size")
	}

	var multiplier int64 = 1
	numStr := s

	switch {
	case len(s) >= 2 && s[len(s)-2:] == "KB":
		multiplier = 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "MB":
		multiplier = 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "GB":
		multiplier = 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case s[len(s)-1] == 'B':
		numStr = s[:len(s)-1]
	}

	var n int64
	_, err := fmt.Sscanf(numStr, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * multiplier, nil
}
