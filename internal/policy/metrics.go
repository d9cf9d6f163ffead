package policy

import (
	"crypto/sha1"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	overlayEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_policy_overlay_evaluations_total",
			Help: "Total number of rego overlay evaluations",
		},
		[]string{"outcome", "mode"},
	)

	overlayEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_policy_overlay_duration_seconds",
			Help:    "Time spent evaluating the rego overlay",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10),
		},
		[]string{"mode"},
	)

	overlayErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_policy_overlay_errors_total",
			Help: "Total number of rego overlay load or evaluation errors",
		},
		[]string{"error_type", "mode"},
	)

	overlayDryRunFindings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_policy_overlay_dry_run_findings_total",
			Help: "Overlay findings that were logged but not applied",
		},
		[]string{"kind"}, // violation, approval
	)

	overlayLoadTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentcore_policy_overlay_load_timestamp_seconds",
			Help: "Timestamp of last successful overlay load",
		},
		[]string{"policy_path"},
	)

	overlayModules = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentcore_policy_overlay_modules_loaded",
			Help: "Number of rego modules currently loaded",
		},
		[]string{"policy_path"},
	)

	overlayCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcore_policy_overlay_cache_hits_total",
			Help: "Total number of overlay decision cache hits",
		},
	)

	overlayCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agentcore_policy_overlay_cache_misses_total",
			Help: "Total number of overlay decision cache misses",
		},
	)

	overlayVersionInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentcore_policy_overlay_version_info",
			Help: "Overlay version information (value always 1, labels contain version data)",
		},
		[]string{"policy_path", "version_hash"},
	)

	blockReasons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_policy_block_reasons_total",
			Help: "Count of blocked drafts by reason",
		},
		[]string{"reason_hash", "truncated_reason"},
	)
)

// RecordOverlayEvaluation records one overlay evaluation
func RecordOverlayEvaluation(outcome string, mode Mode, seconds float64) {
	overlayEvaluations.WithLabelValues(outcome, string(mode)).Inc()
	overlayEvaluationDuration.WithLabelValues(string(mode)).Observe(seconds)
}

// RecordOverlayError records an overlay load or evaluation failure
func RecordOverlayError(errorType string, mode Mode) {
	overlayErrors.WithLabelValues(errorType, string(mode)).Inc()
}

// RecordDryRunFinding records an overlay finding that dry-run mode discarded
func RecordDryRunFinding(kind string) {
	overlayDryRunFindings.WithLabelValues(kind).Inc()
}

// RecordOverlayLoad records a successful overlay load
func RecordOverlayLoad(path string, modules int, timestamp float64, version string) {
	overlayLoadTime.WithLabelValues(path).Set(timestamp)
	overlayModules.WithLabelValues(path).Set(float64(modules))
	overlayVersionInfo.WithLabelValues(path, version).Set(1)
}

// RecordCacheHit records an overlay decision cache hit
func RecordCacheHit() { overlayCacheHits.Inc() }

// RecordCacheMiss records an overlay decision cache miss
func RecordCacheMiss() { overlayCacheMisses.Inc() }

// RecordBlockReason records why a draft was blocked
func RecordBlockReason(reason string) {
	blockReasons.WithLabelValues(hashString(reason), truncateString(reason, 50)).Inc()
}

// hashString creates a consistent hash for high-cardinality strings
func hashString(s string) string {
	h := sha1.Sum([]byte(s))
	return fmt.Sprintf("%x", h[:4])
}

// truncateString truncates a string to a maximum length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
