package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the bot lifecycle.
type Metrics struct {
	BotsStarted        prometheus.Counter
	BotsExited         prometheus.Counter
	ActiveBots         prometheus.Gauge
	CapacityRejections prometheus.Counter
	RoomsProvisioned   prometheus.Counter
	ProvisionDuration  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BotsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "botserve_bots_started_total",
			Help: "Total number of bot processes spawned",
		}),
		BotsExited: factory.NewCounter(prometheus.CounterOpts{
			Name: "botserve_bots_exited_total",
			Help: "Total number of bot processes that exited",
		}),
		ActiveBots: factory.NewGauge(prometheus.GaugeOpts{
			Name: "botserve_active_bots",
			Help: "Number of currently running bot processes",
		}),
		CapacityRejections: factory.NewCounter(prometheus.CounterOpts{
			Name: "botserve_capacity_rejections_total",
			Help: "Launch attempts rejected by the per-room bot cap",
		}),
		RoomsProvisioned: factory.NewCounter(prometheus.CounterOpts{
			Name: "botserve_rooms_provisioned_total",
			Help: "Total number of rooms created via the Daily API",
		}),
		ProvisionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "botserve_provision_duration_seconds",
			Help:    "Latency of room+token provisioning round trips",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
