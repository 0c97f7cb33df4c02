package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmorales/debt-ledger/internal/api"
	"github.com/jmorales/debt-ledger/internal/config"
	"github.com/jmorales/debt-ledger/internal/infrastructure/kafka"
	"github.com/jmorales/debt-ledger/internal/infrastructure/redis"
	"github.com/jmorales/debt-ledger/internal/observability"
	core "github.com/jmorales/debt-ledger/internal/repository/postgres"
	service "github.com/jmorales/debt-ledger/internal/services"
	_ "github.com/lib/pq"
)

func main() {
	shutdown := observability.Setup("debt-ledger")
	defer shutdown(context.Background())

	cfg := config.Load()

	db, err := sql.Open("postgres", cfg.PostgresDSN())
	if err != nil {
		log.Fatalf("Failed to open Postgres: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	cancelPing()
	slog.Info("connected to Postgres", "host", cfg.DBHost, "db", cfg.DBName)

	debtRepo := core.NewPostgresDebtRepository(db)
	transactionRepo := core.NewPostgresTransactionRepository(db)
	redisClient := redis.NewClient(cfg.RedisAddr)
	defer redisClient.Close()
	producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	svc := service.NewDebtService(debtRepo, transactionRepo, redisClient, producer)
	router := api.SetupRouter(svc, db)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		slog.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server shutdown failed: %v", err)
	}
	slog.Info("server stopped")
}
