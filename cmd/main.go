package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sawafleet/collection-reconciler/internal/api"
	"github.com/sawafleet/collection-reconciler/internal/config"
	"github.com/sawafleet/collection-reconciler/internal/directory"
	"github.com/sawafleet/collection-reconciler/internal/repository"
	"github.com/sawafleet/collection-reconciler/internal/service"
	"github.com/sawafleet/collection-reconciler/internal/telemetry"
)

func main() {
	cfg := config.Load()

	if err := telemetry.Init("collection-reconciler"); err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())

	telemetry.Logger.Info("Starting Collection Reconciler")

	// Connect to PostgreSQL
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := repository.InitSchema(db); err != nil {
		telemetry.Logger.Fatal("Failed to initialize database schema", zap.Error(err))
	}

	collections := repository.NewPostgresCollectionStore(db)
	events := repository.NewPostgresPaymentEventStore(db)
	ledger := repository.NewPostgresLedgerStore(db)
	settings := repository.NewPostgresTenantSettingsStore(db)

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisURL,
	})

	// Connect to NATS (driver directory)
	nc, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		telemetry.Logger.Fatal("Failed to connect to NATS", zap.Error(err))
	}
	defer nc.Close()

	drivers := directory.NewCachedDirectory(
		directory.NewNATSDirectory(nc, cfg.Tuning.LookupTimeout),
		redisClient,
		cfg.DriverCacheTTL,
	)

	// Connect to Kafka
	kafkaWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers),
		Topic:    service.OutcomeTopic,
		Balancer: &kafka.LeastBytes{},
	}
	defer kafkaWriter.Close()

	resolver := service.NewResolver(
		collections,
		events,
		ledger,
		settings,
		drivers,
		service.NewRedisEventLocker(redisClient, cfg.LockTTL),
		service.NewKafkaOutcomePublisher(kafkaWriter),
		cfg.PhoneRegion,
		cfg.Tuning,
	)

	consumerCtx, stopConsumer := context.WithCancel(context.Background())
	defer stopConsumer()
	go resolver.ConsumePaymentEvents(consumerCtx, cfg.KafkaBrokers)

	router := api.NewRouter(resolver, ledger, events, collections, cfg.PhoneRegion)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		telemetry.Logger.Info("Collection Reconciler listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			telemetry.Logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	telemetry.Logger.Info("Shutting down server...")
	stopConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		telemetry.Logger.Error("Server forced to shutdown", zap.Error(err))
	}

	telemetry.Logger.Info("Server exited")
}
