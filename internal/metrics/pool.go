package metrics

import (
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a point-in-time view of a connection pool.
type PoolStats struct {
	Acquired        int32
	Idle            int32
	Total           int32
	Max             int32
	AcquireCount    int64
	EmptyAcquires   int64
	CanceledAcquire int64
	AcquireWait     time.Duration
}

func pgxPoolStats(pool *pgxpool.Pool) func() PoolStats {
	return func() PoolStats {
		stat := pool.Stat()
		return PoolStats{
			Acquired:        stat.AcquiredConns(),
			Idle:            stat.IdleConns(),
			Total:           stat.TotalConns(),
			Max:             stat.MaxConns(),
			AcquireCount:    stat.AcquireCount(),
			EmptyAcquires:   stat.EmptyAcquireCount(),
			CanceledAcquire: stat.CanceledAcquireCount(),
			AcquireWait:     stat.AcquireDuration(),
		}
	}
}

type poolMetric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func(PoolStats) float64
}

type poolCollector struct {
	stats   func() PoolStats
	metrics []poolMetric
}

// RegisterPoolMetrics exports live pgxpool statistics, read on every scrape.
// Flag reads on a cache miss and NOTIFY listeners both hold pool connections,
// so a saturated pool shows up here before it shows up as evaluation latency.
func RegisterPoolMetrics(reg prometheus.Registerer, pool *pgxpool.Pool) {
	registerPoolStats(reg, pgxPoolStats(pool))
}

func registerPoolStats(reg prometheus.Registerer, stats func() PoolStats) {
	gauge := func(name, help string, value func(PoolStats) float64) poolMetric {
		return poolMetric{desc: prometheus.NewDesc(name, help, nil, nil), kind: prometheus.GaugeValue, value: value}
	}
	counter := func(name, help string, value func(PoolStats) float64) poolMetric {
		return poolMetric{desc: prometheus.NewDesc(name, help, nil, nil), kind: prometheus.CounterValue, value: value}
	}

	reg.MustRegister(&poolCollector{
		stats: stats,
		metrics: []poolMetric{
			gauge("flagchain_db_pool_acquired", "Number of currently acquired database connections.",
				func(s PoolStats) float64 { return float64(s.Acquired) }),
			gauge("flagchain_db_pool_idle", "Number of idle database connections in the pool.",
				func(s PoolStats) float64 { return float64(s.Idle) }),
			gauge("flagchain_db_pool_total", "Total number of database connections in the pool.",
				func(s PoolStats) float64 { return float64(s.Total) }),
			gauge("flagchain_db_pool_max", "Maximum number of database connections allowed in the pool.",
				func(s PoolStats) float64 { return float64(s.Max) }),
			counter("flagchain_db_pool_acquires_total", "Successful connection acquisitions from the pool.",
				func(s PoolStats) float64 { return float64(s.AcquireCount) }),
			counter("flagchain_db_pool_empty_acquires_total", "Acquisitions that had to wait for a connection.",
				func(s PoolStats) float64 { return float64(s.EmptyAcquires) }),
			counter("flagchain_db_pool_canceled_acquires_total", "Acquisitions canceled by their context.",
				func(s PoolStats) float64 { return float64(s.CanceledAcquire) }),
			counter("flagchain_db_pool_acquire_wait_seconds_total", "Cumulative time spent acquiring connections.",
				func(s PoolStats) float64 { return s.AcquireWait.Seconds() }),
		},
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.stats()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value(stats))
	}
}
