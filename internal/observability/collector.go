package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daimoniac/vendorcomply/internal/statestore"
)

var (
	complianceCollectorOnce     sync.Once
	complianceCollectorInstance *ComplianceCollector
)

// StatsSource provides the aggregate counts reported by ComplianceCollector
type StatsSource interface {
	Stats(ctx context.Context) (*statestore.Stats, error)
}

// ComplianceCollector reports database-derived gauges when /metrics is scraped
type ComplianceCollector struct {
	source StatsSource
	logger *slog.Logger

	openAlertsDesc *prometheus.Desc
	vendorsDesc    *prometheus.Desc
	documentsDesc  *prometheus.Desc

	// Scrapes within ttl reuse the last successful query
	mu       sync.Mutex
	cached   *statestore.Stats
	cachedAt time.Time
	ttl      time.Duration
}

// NewComplianceCollector creates a collector over source
func NewComplianceCollector(source StatsSource, logger *slog.Logger) *ComplianceCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ComplianceCollector{
		source: source,
		logger: logger,
		ttl:    30 * time.Second,
		openAlertsDesc: prometheus.NewDesc(
			"vendorcomply_open_alerts",
			"Current number of unresolved alerts by type",
			[]string{"alert_type"},
			nil,
		),
		vendorsDesc: prometheus.NewDesc(
			"vendorcomply_vendors",
			"Current number of vendors by persisted compliance status",
			[]string{"compliance_status"},
			nil,
		),
		documentsDesc: prometheus.NewDesc(
			"vendorcomply_documents",
			"Current number of documents by cached status",
			[]string{"status"},
			nil,
		),
	}
}

// RegisterComplianceCollector registers the collector exactly once
func RegisterComplianceCollector(source StatsSource, logger *slog.Logger) {
	complianceCollectorOnce.Do(func() {
		complianceCollectorInstance = NewComplianceCollector(source, logger)
		prometheus.MustRegister(complianceCollectorInstance)
		complianceCollectorInstance.logger.Info("compliance metrics collector registered")
	})
}

// Describe sends the metric descriptors to the provided channel
func (c *ComplianceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.openAlertsDesc
	ch <- c.vendorsDesc
	ch <- c.documentsDesc
}

// Collect queries the store and sends current gauges to the provided channel
func (c *ComplianceCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.stats()
	if stats == nil {
		return
	}

	for alertType, n := range stats.OpenAlertsByType {
		ch <- prometheus.MustNewConstMetric(c.openAlertsDesc, prometheus.GaugeValue, float64(n), string(alertType))
	}
	for status, n := range stats.VendorsByStatus {
		ch <- prometheus.MustNewConstMetric(c.vendorsDesc, prometheus.GaugeValue, float64(n), string(status))
	}
	for status, n := range stats.Documents {
		ch <- prometheus.MustNewConstMetric(c.documentsDesc, prometheus.GaugeValue, float64(n), string(status))
	}
}

func (c *ComplianceCollector) stats() *statestore.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && time.Since(c.cachedAt) < c.ttl {
		return c.cached
	}

	// Metrics need not be exact, but should survive moderate lock contention
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stats, err := c.source.Stats(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.logger.Debug("compliance metrics collection timed out (likely database locked)", "error", err)
		} else {
			c.logger.Error("failed to collect compliance metrics", "error", err)
		}
		return c.cached
	}

	c.cached = stats
	c.cachedAt = time.Now()
	return stats
}
