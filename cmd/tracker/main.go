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

	"github.com/safar/agri-supply-tracker/internal/chain"
	"github.com/safar/agri-supply-tracker/internal/config"
	"github.com/safar/agri-supply-tracker/internal/database"
	"github.com/safar/agri-supply-tracker/internal/devchain"
	"github.com/safar/agri-supply-tracker/internal/events"
	"github.com/safar/agri-supply-tracker/internal/ledger"
	"github.com/safar/agri-supply-tracker/internal/logger"
	"github.com/safar/agri-supply-tracker/internal/mirror"
	"github.com/safar/agri-supply-tracker/internal/mirrorclient"
	"github.com/safar/agri-supply-tracker/internal/models"
	"github.com/safar/agri-supply-tracker/internal/reconcile"
	"github.com/safar/agri-supply-tracker/internal/store"
	"github.com/safar/agri-supply-tracker/internal/tracker"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 30 * time.Second
	devAccountCount = 5
)

// mirrorBackend is what the node needs from the derived store: writes for the synchronizer
// and a product listing for the reader.
type mirrorBackend interface {
	mirror.Writer
	reconcile.MirrorSource
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Load config: %v", err)
	}

	lg, err := logger.New("tracker", cfg.Log.Level)
	if err != nil {
		log.Fatalf("Init logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	accounts := devAccounts(cfg.Chain.DevAccounts)
	contract := ledger.New(accounts[0], ledger.WithStrictTransitions(cfg.Chain.StrictTransitions))
	dev := devchain.New(contract, devchain.Options{BlockInterval: cfg.Chain.BlockInterval}, lg.Named("devchain"))
	for _, a := range accounts {
		dev.Fund(a, cfg.Chain.FundingWei)
	}
	go dev.Run(ctx)

	wallet := devchain.NewWallet(accounts)
	client, err := chain.NewClient(ctx, dev, wallet, chain.Options{
		GasMarginPercent: cfg.Chain.GasMarginPercent,
		ReceiptTimeout:   cfg.Chain.ReceiptTimeout,
		PollInterval:     cfg.Chain.PollInterval,
		GasPrice:         cfg.Chain.GasPrice,
	}, lg.Named("chain"))
	if err != nil {
		lg.Fatal("create chain client", zap.Error(err))
	}
	defer client.Watch(wallet)()

	lg.Info("ledger ready",
		zap.String("owner", contract.Owner().Short()),
		zap.Int("accounts", len(accounts)),
		zap.Bool("strict_transitions", contract.Strict()),
		zap.Duration("block_interval", cfg.Chain.BlockInterval),
	)

	backend, prepare, closeMirror, err := openMirror(cfg, lg)
	if err != nil {
		lg.Fatal("open mirror", zap.Error(err))
	}
	defer closeMirror()

	bus := events.NewBus(lg.Named("bus"))
	synchronizer := mirror.NewSynchronizer(backend, lg.Named("mirror"))
	if prepare != nil {
		synchronizer.PrepareWith(prepare)
	}
	defer synchronizer.Attach(bus)()

	if err := synchronizer.Probe(ctx); err != nil {
		lg.Warn("mirror not reachable at startup, writes will be skipped", zap.Error(err))
	}
	if cfg.Mirror.ProbeInterval > 0 {
		go synchronizer.RunProbes(ctx, cfg.Mirror.ProbeInterval)
	}

	dispatcher := tracker.NewDispatcher(bus, client, lg.Named("dispatcher"))
	go func() {
		if err := dispatcher.Run(ctx, dev); err != nil {
			lg.Error("receipt stream stopped", zap.Error(err))
		}
	}()

	reader := reconcile.NewReader(client, backend, reconcile.DefaultOptions(), lg.Named("reconcile"))
	svc := tracker.NewService(client, dispatcher, reader, synchronizer, lg)

	server := &http.Server{
		Addr:         ":" + cfg.Tracker.Port,
		Handler:      tracker.NewHandler(svc, cfg.Server, lg).Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Chain.ReceiptTimeout + cfg.Server.WriteTimeout,
	}

	go func() {
		lg.Info("tracker starting", zap.String("port", cfg.Tracker.Port), zap.String("mirror_mode", cfg.Mirror.Mode))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	lg.Info("shutting down tracker")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("server shutdown failed", zap.Error(err))
	}
	stop()
}

func devAccounts(configured []string) []models.Address {
	if len(configured) == 0 {
		return devchain.DevAccounts(devAccountCount)
	}
	accounts := make([]models.Address, 0, len(configured))
	for _, a := range configured {
		addr := models.Address(a)
		if !addr.Valid() {
			log.Fatalf("Invalid CHAIN_DEV_ACCOUNTS entry %q", a)
		}
		accounts = append(accounts, addr)
	}
	return accounts
}

// openMirror connects to the derived store directly or through the mirror backend's REST API.
// In direct mode the returned prepare func applies the schema; the synchronizer runs it on its
// first successful probe, so a database that comes up after the tracker still gets migrated.
func openMirror(cfg *config.Config, lg *zap.Logger) (mirrorBackend, func(context.Context) error, func(), error) {
	if cfg.Mirror.Mode == config.MirrorModeHTTP {
		lg.Info("mirroring through REST backend", zap.String("url", cfg.Mirror.URL))
		return mirrorclient.New(cfg.Mirror.URL, cfg.Mirror.RequestTimeout, lg.Named("mirrorclient")), nil, func() {}, nil
	}

	db, err := database.Open(&cfg.Database)
	if err != nil {
		return nil, nil, nil, err
	}

	prepare := func(context.Context) error {
		return database.RunMigrations(db, database.MigrateUp)
	}
	return store.NewMirror(db), prepare, func() { db.Close() }, nil
}
