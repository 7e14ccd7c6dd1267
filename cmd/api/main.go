package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/safar/agri-supply-tracker/internal/api"
	"github.com/safar/agri-supply-tracker/internal/config"
	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/logger"
	"github.com/safar/agri-supply-tracker/internal/store"
	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	lg, err := logger.New("mirror-api", cfg.Log.Level)
	if err != nil {
		log.Fatalf("Init logger: %v", err)
	}
	defer lg.Sync()

	db, err := database.NewConnection(&cfg.Database)
	if err != nil {
		lg.Fatal("connect to database", zap.Error(err))
	}
	defer db.Close()

	if err := database.RunMigrations(db, database.MigrateUp); err != nil {
		lg.Fatal("run migrations", zap.Error(err))
	}
	lg.Info("connected to database", zap.Int("max_open_conns", cfg.Database.MaxOpenConns))

	srv := api.NewServer(store.NewMirror(db), cfg.Server, lg)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      srv.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		lg.Info("server starting", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		lg.Error("server shutdown failed", zap.Error(err))
	}
}
