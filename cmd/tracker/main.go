package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"beacon-tracker/internal/config"
	"beacon-tracker/internal/fusion"
	"beacon-tracker/internal/httpapi"
	"beacon-tracker/internal/metrics"
	"beacon-tracker/internal/publisher"
	"beacon-tracker/internal/store"
	"beacon-tracker/internal/stopdb"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Beacon report + vehicle state store
	st, err := store.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.HeartbeatTTL)
	if err != nil {
		log.Fatalf("redis error: %v", err)
	}
	defer st.Close()

	// Route reference data
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL or PGDATABASE must be set")
	}
	sqlDB, err := stopdb.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db open error: %v", err)
	}
	defer sqlDB.Close()
	if err := stopdb.Ping(ctx, sqlDB); err != nil {
		log.Fatalf("db ping error: %v", err)
	}
	catalog := stopdb.NewCatalog(sqlDB)

	// Metrics setup
	var mcol *metrics.Collector
	var metricsSrvCancel context.CancelFunc
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(cfg.FusionInterval, cfg.StalenessWindow)
		mctx, mcancel := context.WithCancel(ctx)
		metricsSrvCancel = mcancel
		srv := mcol.Serve(cfg.MetricsAddr)
		go func() {
			<-mctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// NATS publisher for state, ETA and approach events
	pub, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.LogNATSSubjects, wrapPublisherMetrics(mcol))
	if err != nil {
		log.Fatalf("nats error: %v", err)
	}
	defer pub.Close()

	// Per-vehicle fusion cycles
	mgr := fusion.NewManager(st, st, catalog, pub, cfg.FusionInterval, cfg.StalenessWindow, cfg.ETA(), mcol)
	mgr.Start(ctx, cfg.RefreshInterval)

	// Ingest + query API
	rl := httpapi.NewRateLimiter(st.Client(), cfg.RateLimitRPS, cfg.RateLimitBurst)
	api := httpapi.NewServer(cfg.HTTPAddr, st, catalog, cfg.ETA(), cfg.StalenessWindow, rl, mcol)
	api.Start()

	// Block until context cancelled
	<-ctx.Done()
	mgr.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = api.Shutdown(shutdownCtx)
	if metricsSrvCancel != nil {
		metricsSrvCancel()
	}
	log.Println("shutdown complete")
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
