package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Collector struct {
	reg *prometheus.Registry

	ActiveVehicles prometheus.Gauge

	FusionCycles prometheus.Counter
	EmptyCycles  prometheus.Counter
	CycleErrors  prometheus.Counter

	ReportsIngested prometheus.Counter
	ReportsRejected *prometheus.CounterVec // reason label: invalid|rate_limit|store

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	CycleDuration       prometheus.Histogram
	PublishDuration     prometheus.Histogram
	ContributingBeacons prometheus.Histogram

	FusionInterval  prometheus.Gauge // seconds
	StalenessWindow prometheus.Gauge // seconds
}

func NewCollector(fusionInterval, stalenessWindow time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		ActiveVehicles: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_active_vehicles",
			Help: "Number of vehicles with a running fusion cycle.",
		}),
		FusionCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fusion_cycles_total",
			Help: "Total fusion cycles executed.",
		}),
		EmptyCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fusion_cycles_empty_total",
			Help: "Fusion cycles that had zero live beacon reports.",
		}),
		CycleErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_fusion_cycle_errors_total",
			Help: "Fusion ticks abandoned due to store or deadline errors.",
		}),
		ReportsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_reports_ingested_total",
			Help: "Beacon reports accepted by the ingest API.",
		}),
		ReportsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tracker_reports_rejected_total",
			Help: "Beacon reports rejected by the ingest API.",
		}, []string{"reason"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tracker_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_fusion_cycle_duration_seconds",
			Help:    "Duration of one read-fuse-write-emit cycle.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		ContributingBeacons: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tracker_contributing_beacons",
			Help:    "Live beacons contributing to each fused state.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		FusionInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_fusion_interval_seconds",
			Help: "Fusion cycle interval in seconds.",
		}),
		StalenessWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tracker_staleness_window_seconds",
			Help: "Maximum beacon report age eligible for fusion, in seconds.",
		}),
	}

	reg.MustRegister(
		c.ActiveVehicles,
		c.FusionCycles, c.EmptyCycles, c.CycleErrors,
		c.ReportsIngested, c.ReportsRejected,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.CycleDuration, c.PublishDuration, c.ContributingBeacons,
		c.FusionInterval, c.StalenessWindow,
	)

	c.FusionInterval.Set(fusionInterval.Seconds())
	c.StalenessWindow.Set(stalenessWindow.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()
	log.Printf("metrics listening on %s", addr)
	return srv
}
