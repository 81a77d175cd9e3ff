// Command marketkeeper is the process entrypoint for the testnet
// liquidity-provision engine (spec §11, supplement S11). It loads
// config and wallet secrets, wires one WalletWorker per enabled
// wallet, starts them under a Supervisor, and serves the Supervisor
// surface (spec §6) over a small control-plane HTTP listener. A
// dashboard or CLI is out of scope (spec §1 non-goals) and would
// drive this process only through that surface.
//
// Adapted from the teacher's cmd/gateway: same signal-context,
// flag-parsing, and staged-shutdown shape, generalized from the
// event-bus gateway's pool/bus/provider lifecycle to this engine's
// per-wallet worker lifecycle.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/driftnine/marketkeeper/internal/catalog"
	"github.com/driftnine/marketkeeper/internal/chain"
	"github.com/driftnine/marketkeeper/internal/chain/fake"
	"github.com/driftnine/marketkeeper/internal/config"
	"github.com/driftnine/marketkeeper/internal/control"
	"github.com/driftnine/marketkeeper/internal/domain"
	"github.com/driftnine/marketkeeper/internal/errs"
	"github.com/driftnine/marketkeeper/internal/keys"
	"github.com/driftnine/marketkeeper/internal/price"
	"github.com/driftnine/marketkeeper/internal/scripting"
	"github.com/driftnine/marketkeeper/internal/storage/migrations"
	"github.com/driftnine/marketkeeper/internal/storage/postgres"
	"github.com/driftnine/marketkeeper/internal/streamwatch"
	"github.com/driftnine/marketkeeper/internal/telemetry"
	"github.com/driftnine/marketkeeper/internal/throttle"
	"github.com/driftnine/marketkeeper/internal/worker"
)

const (
	defaultControlAddr    = ":8090"
	defaultMigrationsPath = "db/migrations"
	shutdownTimeout       = 15 * time.Second
	controlShutdownGrace  = 5 * time.Second
	defaultThrottleRPS    = 5.0
	defaultThrottleBurst  = 2
)

// Exit codes per spec §6.
const (
	exitOK             = 0
	exitConfigError    = 2
	exitUnknownWallet  = 3
	exitChainUnhealthy = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "path to markets/wallets config (default config/markets.yaml)")
		controlAddr = flag.String("http", defaultControlAddr, "control-plane HTTP listen address")
		databaseDSN = flag.String("database", "", "optional PostgreSQL DSN for the broadcast ledger (spec §4.11)")
		streamURL   = flag.String("stream-url", "", "optional chain event stream URL for early drift detection (spec §4.8)")
	)
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, "marketkeeper ", log.LstdFlags|log.Lmsgprefix)

	provider, err := telemetry.NewProvider(ctx, telemetry.DefaultConfig())
	if err != nil {
		logger.Printf("telemetry disabled: %v", err)
		disabledCfg := telemetry.DefaultConfig()
		disabledCfg.Enabled = false
		provider, _ = telemetry.NewProvider(ctx, disabledCfg)
	}
	defer func() {
		shCtx, shCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shCancel()
		if err := provider.Shutdown(shCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()
	metrics := telemetry.NewWorkerMetrics(provider)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Printf("config error: %v", err)
		return exitConfigError
	}

	keyProvider := keys.NewEnvProvider()
	wallets, err := keyProvider.LoadWallets(ctx)
	if err != nil {
		logger.Printf("wallet load error: %v", err)
		return exitConfigError
	}
	wallets = cfg.Merge(wallets)

	cat, err := catalog.Load(cfg.Markets, wallets)
	if err != nil {
		var envelope *errs.E
		if errors.As(err, &envelope) && envelope.Canonical == errs.CanonicalUnknownMarket {
			logger.Printf("catalog error: %v", err)
			return exitUnknownWallet
		}
		logger.Printf("catalog error: %v", err)
		return exitConfigError
	}

	chainClient, err := newChainClient()
	if err != nil {
		logger.Printf("chain client error: %v", err)
		return exitChainUnhealthy
	}

	store, closeStore, err := newStore(ctx, *databaseDSN, logger)
	if err != nil {
		logger.Printf("broadcast ledger error: %v", err)
		return exitConfigError
	}
	defer closeStore()

	oracle := price.New(chainClient, chainClient)
	limiter := throttle.New(defaultThrottleRPS, defaultThrottleBurst)
	scriptEval := scripting.New()

	var watcher *streamwatch.Watcher
	if *streamURL != "" {
		watcher = streamwatch.New(*streamURL, logger)
	}

	sup := control.NewSupervisor(logger)

	for _, w := range wallets {
		if !w.Enabled {
			continue
		}
		markets, err := cat.EnabledMarkets(w.WalletID)
		if err != nil {
			logger.Printf("wallet %s: %v", w.WalletID, err)
			return exitUnknownWallet
		}
		if len(markets) == 0 {
			logger.Printf("wallet %s: no markets configured, skipping", w.WalletID)
			continue
		}

		address, err := keyProvider.Address(w.WalletID)
		if err != nil {
			logger.Printf("wallet %s: %v", w.WalletID, err)
			return exitConfigError
		}

		params := make(map[string]domain.MarketParams, len(markets))
		for _, m := range markets {
			params[m.Symbol] = cfg.Params[m.Symbol]
		}

		wk, err := worker.New(w, address, markets, params, worker.Deps{
			Venue:     "injective-testnet",
			Chain:     chainClient,
			Oracle:    oracle,
			Throttle:  limiter,
			Metrics:   metrics,
			Scripting: scriptEval,
			Store:     store,
			Logger:    log.New(os.Stdout, fmt.Sprintf("marketkeeper[%s] ", w.WalletID), log.LstdFlags|log.Lmsgprefix),
		})
		if err != nil {
			logger.Printf("wallet %s: %v", w.WalletID, err)
			return exitConfigError
		}

		sup.Register(w.WalletID, wk)
		if watcher != nil {
			watcher.Register(address, func(dctx context.Context) {
				if _, err := wk.CheckDrift(dctx); err != nil {
					logger.Printf("wallet %s: stream-triggered drift check failed: %v", w.WalletID, err)
				}
			})
		}
		if err := sup.StartWorker(ctx, w.WalletID); err != nil {
			logger.Printf("wallet %s: start failed: %v", w.WalletID, err)
			if errors.Is(err, control.ErrWalletNotFound) {
				return exitUnknownWallet
			}
			return exitConfigError
		}
	}

	if len(sup.WalletIDs()) == 0 {
		logger.Printf("no enabled wallets with configured markets; nothing to run")
		return exitConfigError
	}

	if watcher != nil {
		go func() {
			if err := watcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Printf("stream watcher exited: %v", err)
			}
		}()
	}

	httpServer := &http.Server{
		Addr:              *controlAddr,
		Handler:           control.NewHandler(sup),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErrs := make(chan error, 1)
	go func() {
		logger.Printf("control plane listening on %s", *controlAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrs <- err
			return
		}
		serveErrs <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-serveErrs:
		if err != nil {
			logger.Printf("control plane error: %v", err)
		}
	}

	shCtx, shCancel := context.WithTimeout(context.Background(), controlShutdownGrace)
	defer shCancel()
	if err := httpServer.Shutdown(shCtx); err != nil {
		logger.Printf("control plane shutdown: %v", err)
	}

	for _, walletID := range sup.WalletIDs() {
		if err := sup.StopWorker(walletID, true); err != nil {
			logger.Printf("wallet %s stop: %v", walletID, err)
		}
	}

	return exitOK
}

// newChainClient constructs the ChainClient this process broadcasts
// through. Spec §1 treats ChainClient as an opaque external
// collaborator (signing, broadcast, gRPC/REST queries against the
// venue); no example in the corpus ships that client, so this process
// wires the deterministic in-memory fake everywhere a real one would
// plug into the same worker.Deps.Chain field. A production deployment
// replaces this single constructor with a real implementation of
// chain.Client; nothing else in this file changes.
func newChainClient() (chain.Client, error) {
	return fake.New(), nil
}

// newStore optionally constructs the broadcast ledger (spec §4.11). A
// blank dsn returns a nil store, and worker.Deps.Store's nil-safety
// makes that a legitimate, fully-functional configuration.
func newStore(ctx context.Context, dsn string, logger *log.Logger) (*postgres.Store, func(), error) {
	if dsn == "" {
		return nil, func() {}, nil
	}

	if err := migrations.Apply(ctx, dsn, defaultMigrationsPath, logger); err != nil {
		return nil, nil, fmt.Errorf("apply broadcast ledger migrations: %w", err)
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("connect broadcast ledger: %w", err)
	}
	return postgres.New(pool), pool.Close, nil
}
