// Command peleond hosts the wallet contract, its intent dispatcher and the
// signed-call HTTP gateway.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"peleon/config"
	"peleon/core/accounts"
	"peleon/core/events"
	"peleon/core/identity"
	"peleon/core/runtime"
	"peleon/crypto"
	"peleon/gateway/auth"
	"peleon/gateway/middleware"
	"peleon/gateway/routes"
	"peleon/native/common"
	"peleon/native/token"
	"peleon/native/wallet"
	"peleon/observability/logging"
	telemetry "peleon/observability/otel"
	"peleon/services/reconcile"
	"peleon/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configFile := flag.String("config", "./peleond.toml", "Path to the configuration file (.toml, .yaml or .yml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	env := cfg.Environment
	if fromEnv := strings.TrimSpace(os.Getenv("PELEON_ENV")); fromEnv != "" {
		env = fromEnv
	}
	logger := logging.SetupWithOptions(logging.Options{
		Service:    "peleond",
		Env:        env,
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	if err := run(cfg, env, logger); err != nil {
		logger.Error("peleond exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, env string, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "peleond",
		Environment: env,
		ContractID:  cfg.Contract.ID,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", slog.Any("error", err))
		}
	}()

	db, err := openStorage(cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	fanout := events.NewFanout()
	ledger := token.NewLedger(db, cfg.Token.Symbol)
	ledger.SetEmitter(fanout)
	keys := accounts.NewKeyring(db,
		accounts.WithReserved(reservedAccounts(ledger, cfg.Contract)),
		accounts.WithEmitter(fanout),
	)
	if err := applyGenesis(ctx, ledger, keys, cfg.Token.Genesis, logger); err != nil {
		return err
	}

	rt := runtime.New(db,
		runtime.WithSingleCallGas(cfg.Contract.SingleCallGas),
		runtime.WithEmitter(fanout),
		runtime.WithLogger(logger),
		runtime.WithAccessKeys(keys),
	)
	checkDeployment(ctx, rt, cfg.Contract, logger)

	journalDB, err := reconcile.Open(cfg.Journal.Driver, cfg.Journal.DSN)
	if err != nil {
		return err
	}
	if sqlDB, err := journalDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	journal, err := reconcile.NewJournal(journalDB, cfg.Contract.ID)
	if err != nil {
		return err
	}

	q := cfg.Dispatcher.Quota
	dispatcher := runtime.NewDispatcher(ledger, rt,
		runtime.WithQueueSize(cfg.Dispatcher.QueueSize),
		runtime.WithRateLimit(cfg.Dispatcher.RatePerSecond, cfg.Dispatcher.Burst),
		runtime.WithQuota(common.Quota{MaxCallsPerEpoch: q.MaxCallsPerEpoch, MaxGasPerEpoch: q.MaxGasPerEpoch, EpochSeconds: q.EpochSeconds}),
		runtime.WithJournal(journal),
		runtime.WithDispatchEmitter(fanout),
		runtime.WithDispatchLogger(logger),
	)
	rt.SetSink(dispatcher)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		dispatcher.Run(dispatchCtx)
		close(dispatchDone)
	}()
	defer func() {
		stopDispatch()
		<-dispatchDone
	}()

	replayed, err := rt.Replay(ctx)
	if err != nil {
		return fmt.Errorf("replay outbox: %w", err)
	}
	if replayed > 0 {
		logger.Info("replayed pending intents", slog.Int("count", replayed))
	}

	verifierOpts := auth.Options{
		Skew:          time.Duration(cfg.Gateway.MaxSkewSeconds) * time.Second,
		NonceTTL:      time.Duration(cfg.Gateway.NonceTTLSeconds) * time.Second,
		NonceCapacity: cfg.Gateway.NonceCapacity,
		Keys:          keys,
	}
	if cfg.Storage.Backend != "memory" {
		nonces, err := auth.OpenLevelDBNonces(filepath.Join(cfg.DataDir, "nonces"))
		if err != nil {
			return err
		}
		defer nonces.Close()
		verifierOpts.Persistence = nonces
	}
	verifier := auth.NewVerifier(verifierOpts)
	if err := verifier.HydrateNonces(ctx); err != nil {
		return err
	}

	secret := os.Getenv(cfg.Gateway.JWTSecretEnv)
	if strings.TrimSpace(secret) == "" {
		logger.Warn("operator endpoints disabled; secret not set", slog.String("env", cfg.Gateway.JWTSecretEnv))
	}
	limit := middleware.RateLimit{RatePerSecond: cfg.Gateway.RateLimitPerSecond, Burst: cfg.Gateway.RateLimitBurst}
	handler, err := routes.New(routes.Config{
		Runtime:  rt,
		Verifier: verifier,
		OperatorAuth: middleware.NewOperatorAuth(middleware.OperatorAuthConfig{
			HMACSecret: secret,
			Issuer:     cfg.Gateway.JWTIssuer,
			Audience:   cfg.Gateway.JWTAudience,
		}, logger),
		RateLimiter: middleware.NewRateLimiter(map[string]middleware.RateLimit{
			routes.LimitCalls:    limit,
			routes.LimitOperator: limit,
		}, logger),
		Observability: middleware.NewObservability(prometheus.DefaultRegisterer, logger),
		CORS:          &middleware.CORSConfig{},
		Events:        fanout,
		AccessKeys:    keys,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Gateway.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Gateway.WriteTimeoutSeconds) * time.Second,
		IdleTimeout:       time.Minute,
	}
	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", slog.String("addr", listener.Addr().String()))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", slog.Any("error", err))
	}
	return nil
}

func openStorage(cfg config.Storage) (storage.Database, error) {
	switch cfg.Backend {
	case "memory":
		return storage.NewMemDB(), nil
	case "bolt":
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, err
		}
		return storage.NewBoltDB(cfg.Path, nil)
	default:
		return storage.NewLevelDB(cfg.Path)
	}
}

// applyGenesis credits the configured allocations once, on a ledger with no
// supply yet, and registers their access keys.
func applyGenesis(ctx context.Context, ledger *token.Ledger, keys *accounts.Keyring, allocs []config.Allocation, logger *slog.Logger) error {
	if len(allocs) == 0 {
		return nil
	}
	supply, err := ledger.TotalSupply(ctx, token.QueryGas)
	if err != nil {
		return fmt.Errorf("genesis: %w", err)
	}
	if !supply.IsZero() {
		return nil
	}
	for _, alloc := range allocs {
		amount, err := parseAmount(alloc.Amount)
		if err != nil {
			return fmt.Errorf("genesis %s: %w", alloc.Account, err)
		}
		if strings.TrimSpace(alloc.Credential) != "" {
			cred, err := crypto.ParseCredential(alloc.Credential)
			if err != nil {
				return fmt.Errorf("genesis %s: %w", alloc.Account, err)
			}
			if err := keys.AddKey(ctx, alloc.Account, cred); err != nil {
				return fmt.Errorf("genesis %s: %w", alloc.Account, err)
			}
		}
		if err := ledger.CreateLedgerAccount(ctx, alloc.Account, token.CreateAccountGas); err != nil && !errors.Is(err, token.ErrAccountExists) {
			return fmt.Errorf("genesis %s: %w", alloc.Account, err)
		}
		if err := ledger.Mint(ctx, alloc.Account, amount); err != nil {
			return fmt.Errorf("genesis %s: %w", alloc.Account, err)
		}
		logger.Info("genesis allocation", slog.String("account", alloc.Account), slog.String("amount", amount.Dec()))
	}
	return nil
}

// reservedAccounts keeps accounts that already exist on the ledger, and the
// contract's own identifier space, from being claimed by a first signer.
func reservedAccounts(ledger *token.Ledger, contract config.Contract) accounts.ReservedFunc {
	return func(ctx context.Context, accountID string) (bool, error) {
		switch {
		case accountID == contract.ID, accountID == contract.GatewayContractID:
			return true, nil
		case identity.IsSubAccountOf(accountID, contract.ID):
			return true, nil
		}
		return ledger.HasAccount(ctx, accountID)
	}
}

// checkDeployment warns when the stored contract header disagrees with the
// configured deployment.
func checkDeployment(ctx context.Context, rt *runtime.Runtime, want config.Contract, logger *slog.Logger) {
	err := rt.View(ctx, func(c *wallet.Contract) error {
		header, err := c.Header()
		if err != nil {
			return err
		}
		if header.ContractID != want.ID || header.Variant != want.Variant || header.HashAlgorithm != want.HashAlgorithm {
			logger.Warn("stored contract differs from configuration",
				slog.String("contract", header.ContractID),
				slog.String("variant", header.Variant),
				slog.String("hash", header.HashAlgorithm))
		}
		return nil
	})
	switch {
	case errors.Is(err, wallet.ErrUninitialized):
		logger.Info("contract not initialized; awaiting owner initialize call", slog.String("contract", want.ID))
	case err != nil:
		logger.Warn("inspect contract header", slog.Any("error", err))
	}
}
