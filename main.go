package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"ms-booking/internal/booking"
	"ms-booking/internal/booking/booking_api"
	bookingdb "ms-booking/internal/booking/db"
	"ms-booking/internal/config"
	"ms-booking/internal/database"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/fare"
	"ms-booking/internal/incident"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/models"
	"ms-booking/internal/seatlock"
	"ms-booking/internal/seatmap"
	"ms-booking/internal/sse"
	"ms-booking/internal/sweeper"
)

func prepareSchema(ctx context.Context, bunDB *bun.DB, cfg *config.Config, log *logger.Logger) {
	if cfg.Database.Driver == "sqlite" {
		if err := database.CreateSchema(ctx, bunDB); err != nil {
			log.Fatal("DATABASE", fmt.Sprintf("Failed to create schema: %v", err))
		}
		log.Info("DATABASE", "SQLite schema ready")
	} else if cfg.Migration.AutoMigrate {
		runner := migrations.NewRunner(bunDB, migrations.MigrateOptions{
			MigrationsDir: cfg.Migration.Dir,
			AutoMigrate:   true,
		}, log)
		if err := runner.RunMigrations(); err != nil {
			log.Fatal("MIGRATION", fmt.Sprintf("Failed to run migrations: %v", err))
		}
	}

	if cfg.Migration.SeedData {
		if err := database.SeedDemo(ctx, bunDB); err != nil {
			log.Error("DATABASE", fmt.Sprintf("Failed to seed demo data: %v", err))
		} else {
			log.Info("DATABASE", "Demo trip, bus and fares seeded")
		}
	}
}

func newRedisClient(ctx context.Context, cfg *config.Config, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal("REDIS", fmt.Sprintf("Redis connection error: %v", err))
	}
	log.Info("REDIS", fmt.Sprintf("✅ Connected to Redis at %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))
	return client
}

func newLocker(client *redis.Client, cfg *config.Config, log *logger.Logger) seatlock.Locker {
	if cfg.Booking.LockBackend != "redis" {
		log.Info("LOCK", fmt.Sprintf("Using in-process seat locks (wait %s)", cfg.Booking.LockWait))
		return seatlock.NewLocal(cfg.Booking.LockWait)
	}
	log.Info("LOCK", fmt.Sprintf("Using Redis seat locks (lease %s)", cfg.Booking.LockLease))
	return seatlock.NewRedis(client, seatlock.RedisOptions{
		Lease: cfg.Booking.LockLease,
		Wait:  cfg.Booking.LockWait,
	})
}

func newFareLookup(bunDB *bun.DB, client *redis.Client, cfg *config.Config, log *logger.Logger) fare.Lookup {
	var lookup fare.Lookup
	if cfg.Fare.ServiceURL == "" {
		log.Info("FARE", "Reading fares from the fare_rules table")
		lookup = &fare.DBLookup{Bun: bunDB}
	} else {
		log.Info("FARE", fmt.Sprintf("Using fare service at %s", cfg.Fare.ServiceURL))
		lookup = fare.NewHTTPLookup(&http.Client{Timeout: cfg.Fare.Timeout}, cfg.Fare.ServiceURL, log)
	}
	if cfg.Fare.CacheTTL > 0 {
		log.Info("FARE", fmt.Sprintf("Caching fare rules in Redis for %s", cfg.Fare.CacheTTL))
		lookup = fare.NewCachedLookup(client, lookup, cfg.Fare.CacheTTL, log)
	}
	return lookup
}

func main() {
	started := time.Now()
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Booking Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bunDB, err := database.Connect(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect: %v", err))
	}
	defer bunDB.Close()
	prepareSchema(ctx, bunDB, cfg, log)

	var redisClient *redis.Client
	if cfg.Booking.LockBackend == "redis" || cfg.Fare.CacheTTL > 0 {
		redisClient = newRedisClient(ctx, cfg, log)
		defer redisClient.Close()
	}
	locker := newLocker(redisClient, cfg, log)

	stream := sse.NewSeatEventEmitter()
	events := booking.Publishers{stream}
	var incidents incident.Sink = &incident.DBSink{Bun: bunDB}
	if cfg.Kafka.Enabled {
		topics := []string{cfg.Kafka.Topics.SeatStatus, cfg.Kafka.Topics.Incidents}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, topics, log); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}

		producer := kafka.NewProducer(cfg.Kafka.Brokers, log)
		defer producer.Close()
		events = append(events, kafka.NewSeatEvents(producer, cfg.Kafka.Topics.SeatStatus, log))

		incidentWriter := incident.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topics.Incidents)
		defer incidentWriter.Close()
		incidents = incident.Multi{incidents, incidentWriter}
		log.Info("KAFKA", fmt.Sprintf("Kafka producer initialized for %v", cfg.Kafka.Brokers))
	} else {
		log.Warn("KAFKA", "Kafka disabled, seat events only reach SSE clients")
	}
	incidentQueue := incident.NewAsync(incidents, cfg.Booking.IncidentQueue, log)

	store := &bookingdb.DB{Bun: bunDB}
	svc := booking.NewService(booking.Deps{
		Store:     store,
		Locker:    locker,
		SeatMaps:  seatmap.NewService(&seatmap.DB{Bun: bunDB}),
		Fares:     fare.NewCalculator(newFareLookup(bunDB, redisClient, cfg, log), log),
		Incidents: incidentQueue,
		Events:    events,
		Logger:    log,
	}, booking.Options{
		DefaultHoldTTL: cfg.Booking.DefaultHoldTTL,
		MaxHoldTTL:     cfg.Booking.MaxHoldTTL,
		FareTimeout:    cfg.Booking.FareTimeout,
		PricingMode:    models.PricingMode(cfg.Booking.PricingMode),
	})

	sweep := sweeper.NewWorker(store, events, incidentQueue, func() sweeper.HoldOutcomes {
		c := svc.Counters()
		return sweeper.HoldOutcomes{Consumed: c.Consumed, LazilyExpired: c.LazilyExpired}
	}, log, sweeper.Options{
		Interval:     cfg.Booking.SweepInterval,
		Batch:        cfg.Booking.SweepBatch,
		AbandonAlert: cfg.Booking.AbandonAlert,
	})

	handler := booking_api.NewHandler(svc, log)
	handler.SweepStats = sweep.Stats
	handler.Stream = stream

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		incidentQueue.Start(gctx)
		return nil
	})
	g.Go(func() error {
		sweep.Start(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP", fmt.Sprintf("🚀 Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	if err := g.Wait(); err != nil {
		log.Error("APP", fmt.Sprintf("Service stopped with error: %v", err))
		os.Exit(1)
	}

	stats := sweep.Stats()
	log.Info("APP", fmt.Sprintf("✅ Booking Service shutdown complete (swept %d holds in %d runs, %d incidents dropped, %s uptime)",
		stats.Expired, stats.Runs, incidentQueue.Dropped(), time.Since(started).Round(time.Second)))
}
