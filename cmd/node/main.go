// Command node starts a GPS Runner ledger node.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/tolelom/gpsrunner/anticheat"
	"github.com/tolelom/gpsrunner/config"
	"github.com/tolelom/gpsrunner/crypto/certgen"
	"github.com/tolelom/gpsrunner/events"
	"github.com/tolelom/gpsrunner/indexer"
	"github.com/tolelom/gpsrunner/logging"
	"github.com/tolelom/gpsrunner/rpc"
	"github.com/tolelom/gpsrunner/storage"
	"github.com/tolelom/gpsrunner/vm"
	"github.com/tolelom/gpsrunner/wallet"

	// Import VM modules to trigger their init() self-registration.
	_ "github.com/tolelom/gpsrunner/vm/modules/economy"
	_ "github.com/tolelom/gpsrunner/vm/modules/runner"
	_ "github.com/tolelom/gpsrunner/vm/modules/stake"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file (JSON or YAML)")
	keyPath := flag.String("key", "operator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new operator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + RPC TLS certs into the given directory and exit")
	initConfig := flag.Bool("initconfig", false, "write the default config to -config and exit")
	flag.Parse()

	// Secrets come from the environment, never from flags (they leak via ps).
	env, err := config.ParseEnv()
	if err != nil {
		fail(err)
	}

	if *genKey {
		if env.Password == "" {
			fmt.Fprintln(os.Stderr, "WARNING: GPSRUN_PASSWORD not set, keystore will use an empty password")
		}
		w, err := wallet.Generate()
		if err != nil {
			fail(err)
		}
		if err := wallet.SaveKey(*keyPath, env.Password, w.PrivKey()); err != nil {
			fail(err)
		}
		fmt.Printf("Generated key. Identity (public key): %s\n", w.PubKey())
		fmt.Printf("Default player id: %s\n", w.PlayerID())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	if *initConfig {
		if err := config.Save(config.DefaultConfig(), *cfgPath); err != nil {
			fail(err)
		}
		fmt.Printf("Default config written to %s\n", *cfgPath)
		return
	}

	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		fail(fmt.Errorf("config: %w", err))
	}

	if *genCerts != "" {
		files, err := certgen.GenerateAll(*genCerts, cfg.NodeID, nil)
		if err != nil {
			fail(fmt.Errorf("gencerts: %w", err))
		}
		fmt.Printf("Certificates generated in %s for %q\n", *genCerts, cfg.NodeID)
		fmt.Printf("tls: {cert_file: %s, key_file: %s, client_ca: %s}\n", files.Cert, files.Key, files.CACert)
		return
	}

	if env.LogLevel != "" {
		cfg.Log.Level = env.LogLevel
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		fail(err)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("node stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	params, err := cfg.StakingParams()
	if err != nil {
		return err
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("mkdir data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	state := storage.NewStateDB(db)
	emitter := events.NewEmitter(log)
	idx := indexer.New(db, emitter)

	exec := vm.NewExecutor(state, emitter, vm.Options{
		ChainID: cfg.Genesis.ChainID,
		ACL:     vm.NewACL(cfg.Roles.Admins, cfg.Roles.Verifiers, cfg.Roles.MarkerOracles),
		Gate:    anticheat.NewGate(cfg.AntiCheat),
		Staking: params,
		Logger:  log,
	})

	// ---- genesis (fresh database only) ----
	applied, err := config.ApplyGenesis(cfg, exec, db)
	if err != nil {
		return err
	}
	if applied {
		log.Info("genesis applied",
			zap.String("chain_id", cfg.Genesis.ChainID),
			zap.Int("allocations", len(cfg.Genesis.Alloc)),
			zap.Int("pools", len(cfg.Genesis.Pools)))
	}
	log.Info("ledger ready",
		zap.String("chain_id", cfg.Genesis.ChainID),
		zap.String("state_root", exec.StateRoot()),
		zap.Any("tx_types", vm.RegisteredTypes()))

	// ---- RPC ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcServer := rpc.NewServer(rpcAddr, rpc.NewHandler(exec, idx), cfg.RPCAuthToken,
		rpc.WithTLS(tlsCfg), rpc.WithLogger(log))
	if err := rpcServer.Start(); err != nil {
		return fmt.Errorf("rpc start: %w", err)
	}
	if cfg.RPCAuthToken != "" {
		log.Info("RPC bearer token authentication enabled")
	}

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", zap.String("signal", sig.String()))

	// Stop RPC before the deferred db.Close so no call writes to a closed DB.
	if err := rpcServer.Stop(); err != nil {
		log.Warn("rpc shutdown", zap.Error(err))
	}
	log.Info("shutdown complete")
	return nil
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Config file not found at %s, using defaults.\n", path)
		return config.Load("")
	}
	return config.Load(path)
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
