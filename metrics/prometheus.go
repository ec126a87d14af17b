package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dali-mrabet/vuln-scanner/config"
	"github.com/dali-mrabet/vuln-scanner/scanner"
	"github.com/dali-mrabet/vuln-scanner/utils"
)

// StoreStatsProvider exposes aggregate counts of the store
type StoreStatsProvider interface {
	Counts() (applications int, dependencies int, vulnerabilities int)
}

// ScannerStatsProvider exposes query client counters
type ScannerStatsProvider interface {
	GetStats() scanner.ClientStats
}

// PrometheusMetrics holds all Prometheus collectors
type PrometheusMetrics struct {
	config  *config.Config
	store   StoreStatsProvider
	scanner ScannerStatsProvider

	// query client
	osvQueriesTotal     prometheus.Counter
	osvQueryErrorsTotal prometheus.Counter
	osvCacheHitsTotal   prometheus.Counter
	osvCachedResults    prometheus.Gauge

	// store
	applicationsTracked    prometheus.Gauge
	dependenciesTracked    prometheus.Gauge
	vulnerabilitiesTracked prometheus.Gauge

	// scan pipeline
	applicationsCreatedTotal prometheus.Counter
	resolveDuration          prometheus.Histogram

	// disk
	diskUsageBytes   prometheus.Gauge
	diskUsagePercent prometheus.Gauge
	diskFreeBytes    prometheus.Gauge

	// process
	uptime prometheus.Gauge
	up     prometheus.Gauge

	lastQueries   int64
	lastErrors    int64
	lastCacheHits int64
}

// NewPrometheusMetrics registers all collectors on the default registry
func NewPrometheusMetrics(cfg *config.Config, store StoreStatsProvider, scannerClient ScannerStatsProvider) *PrometheusMetrics {
	namespace := "vulnscanner"

	pm := &PrometheusMetrics{
		config:  cfg,
		store:   store,
		scanner: scannerClient,

		osvQueriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "osv_queries_total",
			Help:      "Total number of queries sent to the vulnerability database",
		}),

		osvQueryErrorsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "osv_query_errors_total",
			Help:      "Total number of failed vulnerability database queries",
		}),

		osvCacheHitsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "osv_cache_hits_total",
			Help:      "Total number of queries answered from the local cache",
		}),

		osvCachedResults: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "osv_cached_results",
			Help:      "Number of query results currently held in the cache",
		}),

		applicationsTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "applications_tracked",
			Help:      "Number of applications registered in the store",
		}),

		dependenciesTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dependencies_tracked",
			Help:      "Number of distinct dependency identities in the store",
		}),

		vulnerabilitiesTracked: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vulnerabilities_tracked",
			Help:      "Number of distinct vulnerabilities in the store",
		}),

		applicationsCreatedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "applications_created_total",
			Help:      "Total number of applications created since startup",
		}),

		resolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolve_duration_seconds",
			Help:      "Duration of dependency resolution runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}),

		diskUsageBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disk_usage_bytes",
			Help:      "Disk space used on the data volume in bytes",
		}),

		diskUsagePercent: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disk_usage_percent",
			Help:      "Disk space used percentage on the data volume",
		}),

		diskFreeBytes: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "disk_free_bytes",
			Help:      "Free disk space on the data volume in bytes",
		}),

		uptime: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Service uptime in seconds",
		}),

		up: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "Service is up and running (always 1)",
		}),
	}

	pm.up.Set(1)

	return pm
}

// UpdateMetrics refreshes all collectors from the current provider values
func (pm *PrometheusMetrics) UpdateMetrics(uptimeSeconds int64) {
	pm.uptime.Set(float64(uptimeSeconds))

	if pm.scanner != nil {
		stats := pm.scanner.GetStats()

		// counters only move forward, add the delta since last refresh
		pm.osvQueriesTotal.Add(float64(stats.QueriesIssued - pm.lastQueries))
		pm.osvQueryErrorsTotal.Add(float64(stats.QueryErrors - pm.lastErrors))
		pm.osvCacheHitsTotal.Add(float64(stats.CacheHits - pm.lastCacheHits))
		pm.lastQueries = stats.QueriesIssued
		pm.lastErrors = stats.QueryErrors
		pm.lastCacheHits = stats.CacheHits

		pm.osvCachedResults.Set(float64(stats.CachedResults))
	}

	if pm.store != nil {
		apps, deps, vulns := pm.store.Counts()
		pm.applicationsTracked.Set(float64(apps))
		pm.dependenciesTracked.Set(float64(deps))
		pm.vulnerabilitiesTracked.Set(float64(vulns))
	}

	diskInfo, err := utils.GetDiskUsage("/")
	if err == nil {
		pm.diskUsageBytes.Set(float64(diskInfo.Used))
		pm.diskUsagePercent.Set(diskInfo.UsedPercent)
		pm.diskFreeBytes.Set(float64(diskInfo.Free))
	}
}

// IncrementApplicationsCreated counts a successful application creation
func (pm *PrometheusMetrics) IncrementApplicationsCreated() {
	pm.applicationsCreatedTotal.Inc()
}

// RecordResolveDuration records the duration of one resolution run
func (pm *PrometheusMetrics) RecordResolveDuration(seconds float64) {
	pm.resolveDuration.Observe(seconds)
}
