package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/promolink/auction-engine/internal/clock"
	"github.com/promolink/auction-engine/internal/config"
	"github.com/promolink/auction-engine/internal/gate"
	"github.com/promolink/auction-engine/internal/handler"
	"github.com/promolink/auction-engine/internal/ledger"
	"github.com/promolink/auction-engine/internal/middleware"
	"github.com/promolink/auction-engine/internal/notify"
	"github.com/promolink/auction-engine/internal/readmodel"
	"github.com/promolink/auction-engine/internal/registry"
	"github.com/promolink/auction-engine/internal/scheduler"
	"github.com/promolink/auction-engine/internal/telemetry"
)

const serviceName = "auction-engine"

func main() {
	cfg := config.Load()

	// Initialize structured logging
	telemetry.InitLogger(serviceName)

	// Initialize OpenTelemetry tracing
	cleanup, err := telemetry.InitTracer(serviceName)
	if err != nil {
		log.Printf("Warning: Failed to initialize tracer: %v", err)
	} else {
		defer cleanup()
	}

	gin.SetMode(cfg.GinMode)

	log.Println("Starting auction engine...")
	clk := clock.System()

	// 1. Open the ledger
	log.Printf("Opening ledger at %s...", cfg.LedgerPath)
	store, err := ledger.NewFileStore(cfg.LedgerPath)
	if err != nil {
		log.Fatalf("Failed to open ledger: %v", err)
	}
	defer store.Close()

	// 2. Registry, recovered from the ledger
	reg := registry.New(store, clk, nil, cfg.Retention)
	if err := reg.Recover(); err != nil {
		log.Fatalf("Failed to recover registry: %v", err)
	}

	// 3. Admission gate
	g := gate.New(reg, store, clk, cfg.BusyTimeout)

	// 4. Read model (optionally mirrored to Redis)
	var rdb *redis.Client
	if cfg.UseRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}
	rm := readmodel.New(rdb)
	if err := rm.InitializeFromStore(store); err != nil {
		log.Fatalf("Failed to initialize read model: %v", err)
	}
	g.RegisterEventHandler(rm.HandleEvent)

	// 5. Settlement/event publisher
	if cfg.NATSUrl != "" {
		log.Printf("Connecting to NATS at %s...", cfg.NATSUrl)
		pub, err := notify.Connect(cfg.NATSUrl, rm)
		if err != nil {
			log.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer pub.Close()
		g.RegisterEventHandler(pub.HandleEvent)
	}

	// 6. Scheduler: derive timers from recovered state, then run
	sched := scheduler.New(g, reg, clk, cfg.EndingWindow)
	sched.Rebuild()
	sched.Start()
	defer sched.Stop()

	// 7. Periodic eviction of terminal auctions past retention
	evictDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				reg.EvictTerminal()
			case <-evictDone:
				return
			}
		}
	}()
	defer close(evictDone)

	// 8. HTTP server
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Tracing())
	router.Use(middleware.Metrics())

	h := handler.NewHandler(g, rm, sched)
	h.RegisterRoutes(router)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// 9. Metrics server (separate port for Prometheus scraping)
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	go func() {
		log.Printf("HTTP server listening on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	go func() {
		log.Printf("Metrics server listening on port %d", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}
	if err := metricsSrv.Shutdown(ctx); err != nil {
		log.Printf("Metrics server shutdown error: %v", err)
	}

	log.Println("Auction engine stopped.")
}
