package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// RegisterPgxPoolMetrics exposes the fleet database pool's statistics as
// Prometheus gauges, sampled on scrape.
func RegisterPgxPoolMetrics(pool *pgxpool.Pool) {
	gauge := func(name, help string, value func(pgxpool.Stat) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, func() float64 {
			return value(*pool.Stat())
		})
	}
	prometheus.MustRegister(
		gauge("fleet_pgxpool_acquired_conns", "Connections currently checked out of the pool", func(s pgxpool.Stat) float64 {
			return float64(s.AcquiredConns())
		}),
		gauge("fleet_pgxpool_idle_conns", "Connections sitting idle in the pool", func(s pgxpool.Stat) float64 {
			return float64(s.IdleConns())
		}),
		gauge("fleet_pgxpool_total_conns", "Connections the pool holds in total", func(s pgxpool.Stat) float64 {
			return float64(s.TotalConns())
		}),
		gauge("fleet_pgxpool_max_conns", "Upper bound on pool connections", func(s pgxpool.Stat) float64 {
			return float64(s.MaxConns())
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "fleet_pgxpool_empty_acquires_total",
			Help: "Acquires that had to wait for a free connection",
		}, func() float64 {
			return float64(pool.Stat().EmptyAcquireCount())
		}),
	)
}
