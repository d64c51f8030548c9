package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/spotbeacon/engine/pkg/api"
	"github.com/spotbeacon/engine/pkg/config"
	"github.com/spotbeacon/engine/pkg/engine"
	"github.com/spotbeacon/engine/pkg/engine/snapshot"
	"github.com/spotbeacon/engine/pkg/ledger"
	"github.com/spotbeacon/engine/pkg/oracle"
	"github.com/spotbeacon/engine/pkg/storage"
	"github.com/spotbeacon/engine/pkg/util"
)

func main() {
	cfg, err := config.Load(os.Getenv("EXCHANGED_ENV_FILE"))
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/exchanged.log"
	}
	logger, err := util.NewLoggerWithFile(logFile, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	logger.Info("exchanged_starting", zap.String("listen_addr", cfg.ListenAddr))

	store, err := storage.OpenPebbleSnapshotStore(cfg.SnapshotPath)
	if err != nil {
		logger.Fatal("snapshot_store_open_failed", zap.Error(err))
	}
	defer store.Close()

	ledgerClient := ledger.NewHTTPClient(cfg.LedgerBaseURL, cfg.RequestTimeout)
	rateOracle := oracle.NewHTTPClient(cfg.OracleBaseURL, cfg.RequestTimeout)

	house := common.HexToAddress(cfg.House)
	payment := common.HexToAddress(cfg.PaymentToken)
	eng := engine.New(logger, ledgerClient, house, payment)

	if state, err := snapshot.Read(store); err != nil {
		logger.Fatal("snapshot_read_failed", zap.Error(err))
	} else if state != nil && len(state.Tokens) > 0 {
		eng.Restore(state)
		logger.Info("snapshot_restored", zap.Int("tokens", len(state.Tokens)))
	}

	// The engine has no internal locking: the command loop below is the
	// only goroutine that touches it. API handlers (one goroutine per
	// connection under net/http) enqueue closures here and block until
	// the loop has run them.
	cmds := make(chan func(), 64)
	dispatch := func(fn func()) {
		done := make(chan struct{})
		cmds <- func() {
			defer close(done)
			fn()
		}
		<-done
	}

	srv := api.NewServer(eng, rateOracle, dispatch, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := srv.Start(cfg.ListenAddr); err != nil {
			logger.Fatal("api_server_failed", zap.Error(err))
		}
	}()

	snapshotTicker := time.NewTicker(cfg.SnapshotInterval)
	defer snapshotTicker.Stop()
	housekeepingTicker := time.NewTicker(cfg.HousekeepingInterval)
	defer housekeepingTicker.Stop()

	logger.Info("exchanged_ready",
		zap.Duration("snapshot_interval", cfg.SnapshotInterval),
		zap.Duration("housekeeping_interval", cfg.HousekeepingInterval))

	// Single command loop: every engine access — dispatched API
	// requests, the periodic jobs, and the final snapshot — runs here,
	// on this one goroutine.
	for {
		select {
		case <-ctx.Done():
			logger.Info("exchanged_shutting_down")
			if err := snapshot.Write(store, eng.Snapshot()); err != nil {
				logger.Error("final_snapshot_failed", zap.Error(err))
			}
			return
		case fn := <-cmds:
			fn()
		case <-snapshotTicker.C:
			if err := snapshot.Write(store, eng.Snapshot()); err != nil {
				logger.Error("snapshot_write_failed", zap.Error(err))
				continue
			}
			logger.Info("snapshot_written")
		case <-housekeepingTicker.C:
			now := uint64(time.Now().UnixNano())
			eng.Housekeeping(now)
			logger.Info("housekeeping_ran", zap.Uint64("now", now))
		}
	}
}
