/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the quote ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Open the store selected by STORE_DRIVER
  3. Pick the locker (Redis when REDIS_ADDRESS is set) and the event
     publisher (Kafka when KAFKA_BROKERS is set)
  4. Create API handler and optionally seed the default catalog
  5. Start the restock scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -driver  sqlite | bolt | postgres | memory (overrides STORE_DRIVER)
  -db      sqlite / bolt file path (overrides DB_PATH)
  -seed    load the default catalog on an empty store

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the restock scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the event publisher and the store
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/quotes.db"

  # Run in memory with the sample catalog
  ./server -driver=memory -seed

  # Postgres with shared locks
  STORE_DRIVER=postgres DATABASE_URL=postgres://... REDIS_ADDRESS=localhost:6379 ./server

SEE ALSO:
  - config/config.go: Environment variables
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/quote-ledger/api"
	"github.com/warp/quote-ledger/config"
	"github.com/warp/quote-ledger/events"
	"github.com/warp/quote-ledger/factory"
	"github.com/warp/quote-ledger/ledger"
	"github.com/warp/quote-ledger/ledger/store"
	"github.com/warp/quote-ledger/lock"
	"github.com/warp/quote-ledger/store/bolt"
	"github.com/warp/quote-ledger/store/postgres"
	"github.com/warp/quote-ledger/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags
	port := flag.Int("port", cfg.Port, "HTTP server port")
	driver := flag.String("driver", cfg.StoreDriver, "store driver: sqlite, bolt, postgres or memory")
	dbPath := flag.String("db", cfg.DBPath, "sqlite or bolt database path")
	seed := flag.Bool("seed", cfg.SeedCatalog, "load the default catalog on an empty store")
	flag.Parse()
	cfg.Port, cfg.StoreDriver, cfg.DBPath, cfg.SeedCatalog = *port, *driver, *dbPath, *seed
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	ctx := context.Background()

	// Initialize store
	backend, err := openStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize store")
	}
	defer backend.Close()

	locker := newLocker(cfg, log)
	pub := newPublisher(cfg, log)
	defer pub.Close()

	// Initialize handler
	handler := api.NewHandler(backend, locker, pub, api.Options{
		InitialCash:   cfg.InitialCash,
		RestockBuffer: cfg.RestockBuffer,
	}, log)

	if cfg.SeedCatalog {
		res, err := handler.Factory.Seed(ctx, backend, handler.Ledger, locker,
			factory.SampleCatalog(factory.DefaultCoverage, factory.DefaultSeed))
		if err != nil {
			log.WithError(err).Warn("failed to seed catalog")
		} else {
			log.WithFields(logrus.Fields{
				"items":        res.Items,
				"stocked":      res.Stocked,
				"opening_cost": res.OpeningCost.StringFixed(2),
				"skipped":      res.Skipped,
			}).Info("catalog seeded")
		}
	}

	scheduler := api.NewRestockScheduler(backend, handler.Restock, log)
	scheduler.CheckInterval = cfg.RestockInterval
	scheduler.Start()

	// Create router
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.WithFields(logrus.Fields{
			"port":   cfg.Port,
			"driver": cfg.StoreDriver,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	log.Info("server stopped")
}

func openStore(ctx context.Context, cfg config.Config) (ledger.Backend, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		return sqlite.New(cfg.DBPath)
	case config.DriverBolt:
		return bolt.New(cfg.DBPath)
	case config.DriverPostgres:
		return postgres.New(ctx, cfg.DatabaseURL)
	case config.DriverMemory:
		return store.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

func newLocker(cfg config.Config, log logrus.FieldLogger) lock.Locker {
	if cfg.RedisAddress == "" {
		return lock.NewLocal(cfg.LockTimeout)
	}
	log.WithField("address", cfg.RedisAddress).Info("using redis locks")
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddress})
	return lock.NewRedis(rdb, cfg.LockTimeout, log)
}

func newPublisher(cfg config.Config, log logrus.FieldLogger) events.Publisher {
	if len(cfg.KafkaBrokers) == 0 {
		return events.NewLog(log)
	}
	log.WithField("brokers", cfg.KafkaBrokers).Info("publishing events to kafka")
	return events.NewKafka(cfg.KafkaBrokers)
}
