package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func TestMetricsServer_MetricsEndpoint(t *testing.T) {
	// Vec metrics only show up after WithLabelValues() is called.
	CatalogFiles.Set(0)
	CatalogBytes.Set(0)
	CatalogRebuildDuration.Observe(0)
	FileErrors.WithLabelValues("rebuild", "CorruptContent").Add(0)
	IntegrityIssues.Set(0)
	TierFiles.WithLabelValues("hot").Set(0)
	TierBytes.WithLabelValues("hot").Set(0)
	MigrationOps.WithLabelValues("hot", "warm", "ok").Add(0)
	MigrationBytes.WithLabelValues("warm").Add(0)
	MigrationDuration.WithLabelValues("warm").Observe(0)
	S3UploadDuration.WithLabelValues("glacier").Observe(0)
	S3UploadErrors.WithLabelValues("glacier").Add(0)
	LifecycleActions.WithLabelValues("Delete", "ok").Add(0)
	LifecycleEvalDuration.Observe(0)
	QuotaUsageBytes.WithLabelValues("global").Set(0)
	QuotaUsageRatio.WithLabelValues("global").Set(0)
	QuotaDenials.WithLabelValues("global").Add(0)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	body := w.Body.String()
	expectedMetrics := []string{
		"tickstore_catalog_files",
		"tickstore_catalog_bytes",
		"tickstore_catalog_rebuild_duration_seconds",
		"tickstore_file_errors_total",
		"tickstore_integrity_issues",
		"tickstore_tier_files",
		"tickstore_tier_bytes",
		"tickstore_migration_ops_total",
		"tickstore_migration_bytes_total",
		"tickstore_migration_duration_seconds",
		"tickstore_s3_upload_duration_seconds",
		"tickstore_s3_upload_errors_total",
		"tickstore_lifecycle_actions_total",
		"tickstore_lifecycle_eval_duration_seconds",
		"tickstore_quota_usage_bytes",
		"tickstore_quota_usage_ratio",
		"tickstore_quota_denials_total",
	}

	for _, name := range expectedMetrics {
		if !strings.Contains(body, name) {
			t.Errorf("expected /metrics to contain %q", name)
		}
	}

	ct := w.Header().Get("Content-Type")
	if !strings.Contains(ct, "text/plain") && !strings.Contains(ct, "text/openmetrics") {
		t.Errorf("expected text/plain or openmetrics content type, got %s", ct)
	}
}
