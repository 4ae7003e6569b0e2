package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dealmesh/config"
	"dealmesh/core/events"
	"dealmesh/core/state"
	"dealmesh/crypto"
	"dealmesh/ledger"
	nativecommon "dealmesh/native/common"
	"dealmesh/native/market"
	"dealmesh/observability/logging"
	"dealmesh/rpc"
	"dealmesh/storage"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	envEnv           = "DEALMESH_ENV"
	operatorPassEnv  = "DEALMESH_OPERATOR_PASS"
	journalRetention = 4096
	shutdownGrace    = 10 * time.Second
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv(envEnv))
	logger := logging.Setup("dealmeshd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("Failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	tokenLedger := ledger.NewLedger(manager)

	escrow, err := resolveEscrowAccount(cfg)
	if err != nil {
		logger.Error("Failed to resolve escrow account", slog.Any("error", err))
		os.Exit(1)
	}

	if err := seedGenesisAccounts(db, tokenLedger, cfg.GenesisAccounts); err != nil {
		logger.Error("Failed to seed genesis accounts", slog.Any("error", err))
		os.Exit(1)
	}

	journal := events.NewJournal(journalRetention)
	pauses := nativecommon.NewPauseSet()

	engine := market.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(tokenLedger)
	engine.SetEscrowAccount(escrow)
	engine.SetEmitter(journal)
	engine.SetPauses(pauses)

	server := rpc.NewServer(engine, tokenLedger, manager, pauses, journal, logger)

	router := chi.NewRouter()
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Handle("/", server.Handler())
	router.Handle("/ws/events", server.EventStreamHandler())
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("RPC server listening", slog.String("address", cfg.RPCAddress), slog.String("network", cfg.NetworkName))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("RPC server failed", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", slog.Any("error", err))
	}
}

// resolveEscrowAccount prefers the configured escrow address and falls back
// to the operator keystore identity.
func resolveEscrowAccount(cfg *config.Config) ([20]byte, error) {
	if strings.TrimSpace(cfg.EscrowAddress) != "" {
		addr, err := crypto.DecodeAddress(cfg.EscrowAddress)
		if err != nil {
			return [20]byte{}, err
		}
		return addr.Array(), nil
	}
	if strings.TrimSpace(cfg.OperatorKeystorePath) == "" {
		return [20]byte{}, fmt.Errorf("no escrow address configured and no operator keystore available")
	}
	key, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, os.Getenv(operatorPassEnv))
	if err != nil {
		return [20]byte{}, err
	}
	return key.PubKey().Address().Array(), nil
}

// seedGenesisAccounts mints the configured starting balances exactly once;
// a marker key in the database guards against re-minting on restart.
func seedGenesisAccounts(db storage.Database, tokenLedger *ledger.Ledger, accounts []config.GenesisAccount) error {
	const markerKey = "genesis/seeded"
	seeded, err := db.Has([]byte(markerKey))
	if err != nil {
		return err
	}
	if seeded {
		return nil
	}
	for _, acct := range accounts {
		addr, err := crypto.DecodeAddress(acct.Address)
		if err != nil {
			return fmt.Errorf("invalid genesis address %q: %w", acct.Address, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(acct.Balance), 10)
		if !ok || balance.Sign() <= 0 {
			return fmt.Errorf("invalid genesis balance %q for %s", acct.Balance, acct.Address)
		}
		if err := tokenLedger.Mint(addr.Array(), balance); err != nil {
			return err
		}
	}
	return db.Put([]byte(markerKey), []byte("1"))
}
