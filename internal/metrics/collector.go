package metrics

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/voxreach/call-engine/internal/jobstore"
)

// JobStoreStats is the narrow slice of jobstore.Store the collector scrapes.
type JobStoreStats interface {
	StreamStats(ctx context.Context, stream string) (jobstore.Stats, error)
}

// SessionCounter is the narrow slice of *bridge.Manager the collector scrapes.
type SessionCounter interface {
	Count() int
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool     *pgxpool.Pool
	store    JobStoreStats
	stream   string
	sessions SessionCounter

	activeBridgeSessions *prometheus.Desc
	jobsWaiting          *prometheus.Desc
	jobsDelayed          *prometheus.Desc
	jobsActive           *prometheus.Desc
	dbTotalConns         *prometheus.Desc
	dbAcquiredConns      *prometheus.Desc
	dbIdleConns          *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// Any of pool, store, or sessions may be nil, in which case the
// corresponding gauges report 0.
func NewCollector(pool *pgxpool.Pool, store JobStoreStats, stream string, sessions SessionCounter) *Collector {
	return &Collector{
		pool:     pool,
		store:    store,
		stream:   stream,
		sessions: sessions,
		activeBridgeSessions: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "bridge", "active_sessions"),
			"Current number of active media bridge sessions.",
			nil, nil,
		),
		jobsWaiting: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobstore", "jobs_waiting"),
			"Jobs currently waiting to be dispatched.",
			nil, nil,
		),
		jobsDelayed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobstore", "jobs_delayed"),
			"Jobs scheduled for a future time.",
			nil, nil,
		),
		jobsActive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "jobstore", "jobs_active"),
			"Jobs currently leased by a worker.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
		dbIdleConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "idle_conns"),
			"Database pool idle connections.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeBridgeSessions
	ch <- c.jobsWaiting
	ch <- c.jobsDelayed
	ch <- c.jobsActive
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
	ch <- c.dbIdleConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	sessions := 0
	if c.sessions != nil {
		sessions = c.sessions.Count()
	}
	ch <- prometheus.MustNewConstMetric(c.activeBridgeSessions, prometheus.GaugeValue, float64(sessions))

	if c.store != nil {
		if stats, err := c.store.StreamStats(context.Background(), c.stream); err == nil {
			ch <- prometheus.MustNewConstMetric(c.jobsWaiting, prometheus.GaugeValue, float64(stats.Waiting))
			ch <- prometheus.MustNewConstMetric(c.jobsDelayed, prometheus.GaugeValue, float64(stats.Delayed))
			ch <- prometheus.MustNewConstMetric(c.jobsActive, prometheus.GaugeValue, float64(stats.Active))
		}
	} else {
		ch <- prometheus.MustNewConstMetric(c.jobsWaiting, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.jobsDelayed, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.jobsActive, prometheus.GaugeValue, 0)
	}

	if c.pool != nil {
		stat := c.pool.Stat()
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, 0)
		ch <- prometheus.MustNewConstMetric(c.dbIdleConns, prometheus.GaugeValue, 0)
	}
}
