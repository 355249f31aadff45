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

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"fortune-wheel/internal/api"
	"fortune-wheel/internal/cache"
	"fortune-wheel/internal/config"
	"fortune-wheel/internal/database/migrations"
	"fortune-wheel/internal/draw"
	"fortune-wheel/internal/entropy"
	kafkaproducer "fortune-wheel/internal/kafka"
	"fortune-wheel/internal/logger"
	"fortune-wheel/internal/mint"
	"fortune-wheel/internal/numberpool"
	"fortune-wheel/internal/payment"
	"fortune-wheel/internal/reservation"
	"fortune-wheel/internal/solana"
	"fortune-wheel/internal/store"
)

func connectDatabase(cfg *config.Config, log *logger.Logger) *bun.DB {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		cfg.Database.Username, cfg.Database.Password,
		cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to open Postgres: %v", err))
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)

	if err := sqldb.Ping(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to Postgres: %v", err))
	}
	log.Info("DATABASE", "Postgres connection successful")

	return bun.NewDB(sqldb, pgdialect.New())
}

func connectRedis(cfg *config.Config, log *logger.Logger) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		// The service degrades to store-only allocation without Redis.
		log.Warn("REDIS", fmt.Sprintf("Redis unavailable, continuing without cache: %v", err))
		return nil
	}
	log.Info("REDIS", "Redis connection successful")
	return client
}

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.NewLogger()
	defer log.Close()

	bunDB := connectDatabase(cfg, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, "./migrations")
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}

	redisClient := connectRedis(cfg, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var producer *kafkaproducer.Producer
	if cfg.Kafka.Enabled {
		producer = kafkaproducer.NewProducer(cfg.Kafka.Brokers, kafkaproducer.Topics{
			TicketMinted:    cfg.Kafka.Topics.TicketMinted,
			RaffleCompleted: cfg.Kafka.Topics.RaffleCompleted,
		})
		defer producer.Close()
	}

	db := &store.DB{Bun: bunDB}
	cacheClient := cache.New(redisClient, log)
	pool := numberpool.New(db, cacheClient, log, cfg.Raffle.ReservationTTL)
	reservations := reservation.New(pool, db, log)

	rpc := solana.NewClient(cfg.Solana.RPCURL)
	rail := solana.NewRail(rpc, cfg.Solana.ProgramAddress)
	payments := payment.New(db, rail, reservations, log, cfg.Raffle.ReservationTTL, cfg.Solana.PayLabel)

	var minter *mint.Service
	var engine *draw.Engine
	if producer != nil {
		minter = mint.New(db, pool, payments, producer, log, cfg.Raffle.MetadataBase)
		engine = draw.NewEngine(db, entropy.NewSource(rpc), producer, log)
	} else {
		minter = mint.New(db, pool, payments, nil, log, cfg.Raffle.MetadataBase)
		engine = draw.NewEngine(db, entropy.NewSource(rpc), nil, log)
	}

	scheduler := draw.NewScheduler(engine, reservations, log)
	if err := scheduler.Start(cfg.Raffle.DrawSchedule, cfg.Raffle.SweepSchedule); err != nil {
		log.Fatal("SCHEDULER", fmt.Sprintf("Failed to start scheduler: %v", err))
	}
	defer scheduler.Stop()

	handler := &api.Handler{
		Reservations: reservations,
		Payments:     payments,
		Mint:         minter,
		Draw:         engine,
		Pool:         pool,
		DB:           db,
		Cache:        cacheClient,
		Logger:       log,
		AdminKeys:    cfg.Solana.AdminPublicKeys,
	}

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("SERVER", fmt.Sprintf("Raffle service on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("SERVER", fmt.Sprintf("HTTP error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(ctxShutdown)
	log.Info("SERVER", "Raffle service shutdown complete")
}
