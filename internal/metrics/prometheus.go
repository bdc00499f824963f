package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gftdcojp/tickstore/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Catalog metrics
	CatalogFiles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tickstore_catalog_files",
		Help: "Number of files in the catalog",
	})

	CatalogBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tickstore_catalog_bytes",
		Help: "Total on-disk bytes of cataloged files",
	})

	CatalogRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tickstore_catalog_rebuild_duration_seconds",
		Help:    "Time to rebuild the catalog",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
	})

	FileErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstore_file_errors_total",
		Help: "Per-file failures by operation and kind",
	}, []string{"operation", "kind"})

	IntegrityIssues = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tickstore_integrity_issues",
		Help: "Issues found by the last integrity verification",
	})

	// Tier metrics
	TierFiles = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tickstore_tier_files",
		Help: "Number of files in each tier",
	}, []string{"tier"})

	TierBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tickstore_tier_bytes",
		Help: "Total bytes stored in each tier",
	}, []string{"tier"})

	MigrationOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstore_migration_ops_total",
		Help: "File migrations by source tier, target tier and outcome",
	}, []string{"from_tier", "to_tier", "status"})

	MigrationBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstore_migration_bytes_total",
		Help: "Bytes written to target tiers by migrations",
	}, []string{"to_tier"})

	MigrationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tickstore_migration_duration_seconds",
		Help:    "Per-file migration latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"to_tier"})

	// S3 metrics
	S3UploadDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tickstore_s3_upload_duration_seconds",
		Help:    "S3 upload latency",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"tier"})

	S3UploadErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstore_s3_upload_errors_total",
		Help: "S3 upload failures",
	}, []string{"tier"})

	// Lifecycle metrics
	LifecycleActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstore_lifecycle_actions_total",
		Help: "Lifecycle actions by kind and outcome",
	}, []string{"kind", "status"})

	LifecycleEvalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tickstore_lifecycle_eval_duration_seconds",
		Help:    "Time to evaluate lifecycle policies across the catalog",
		Buckets: prometheus.DefBuckets,
	})

	// Quota metrics
	QuotaUsageBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tickstore_quota_usage_bytes",
		Help: "Tracked bytes per quota scope",
	}, []string{"scope"})

	QuotaUsageRatio = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tickstore_quota_usage_ratio",
		Help: "Tracked bytes divided by the configured limit",
	}, []string{"scope"})

	QuotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tickstore_quota_denials_total",
		Help: "Writes refused by a hard limit",
	}, []string{"scope"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
