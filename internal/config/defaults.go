package config

import "time"

func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Root:               "/var/lib/tickstore/data",
			NamingConvention:   "by_symbol",
			DefaultCompression: "none",
			MaxParallelism:     8,
			ComputeChecksums:   true,
		},
		DefaultPolicy: PolicyConfig{
			Classification: "Standard",
			HotTierDays:    7,
			WarmTierDays:   90,
			ColdTierDays:   365,
		},
		Quotas: QuotaConfig{
			RescanInterval: Duration(time.Hour),
		},
		Lifecycle: LifecycleConfig{
			Enabled:            true,
			EvalInterval:       Duration(time.Hour),
			TieringEnabled:     true,
			ActionLogRetention: 10000,
		},
		Migration: MigrationConfig{
			ParallelFiles: 4,
			Throughput:    ByteSize(100 * 1024 * 1024), // 100MB/s
		},
		Metadata: MetadataConfig{
			Path: "/var/lib/tickstore/meta.db",
		},
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			SubjectPrefix:  "tickstore",
			ConnectionName: "tickstore",
			MaxReconnects:  -1,
			ReconnectWait:  Duration(2 * time.Second),
		},
		API: APIConfig{
			Enabled: true,
			Listen:  ":8080",
			NATSResponder: NATSResponderConfig{
				SubjectPrefix: "tickstore",
			},
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: true,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       true,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
				Output: "stderr",
			},
		},
	}
}
