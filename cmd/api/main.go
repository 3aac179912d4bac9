package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"hivegate.org/internal/apps"
	"hivegate.org/internal/auth"
	"hivegate.org/internal/config"
	"hivegate.org/internal/gate"
	"hivegate.org/internal/hive"
	"hivegate.org/internal/httpapi"
	"hivegate.org/internal/ledger"
	"hivegate.org/internal/ledger/remote"
	"hivegate.org/internal/obs"
	"hivegate.org/internal/ops"
	"hivegate.org/internal/relay"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the YAML config (default $"+config.EnvConfig+")")
	showVersion := pflag.Bool("version", false, "print the version and exit")
	pflag.Parse()

	if *showVersion {
		fmt.Printf("hivegate %s (%s)\n", version, commit)
		return
	}

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		obs.LogEvent(obs.LevelError, "gateway_failed", map[string]any{"error": err})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, registry, err := openApps(ctx, cfg)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	node, err := openLedger(cfg)
	if err != nil {
		return err
	}
	signer, err := broadcaster(cfg)
	if err != nil {
		return err
	}
	chain, err := cfg.Chain()
	if err != nil {
		return err
	}
	rl, err := relay.New(node, signer, chain, relay.WithExpiration(cfg.Ledger.Expiration))
	if err != nil {
		return err
	}

	svc, err := auth.NewService(cfg.Secrets.AuthSecret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithCodeTTL(cfg.Auth.CodeTTL),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
		auth.WithAssertionTTL(cfg.Auth.AssertionTTL),
		auth.WithScopeSource(registry),
		auth.WithSecretChecker(registry),
		auth.WithKeyResolver(ledger.PostingKeys{Node: node}),
	)
	if err != nil {
		return fmt.Errorf("auth service: %w", err)
	}
	defaultScope, err := cfg.Scope()
	if err != nil {
		return err
	}

	probe := httpapi.ReadyProbe{DB: db}
	api, err := httpapi.New(httpapi.Deps{
		Auth:    svc,
		Gate:    gate.New(defaultScope),
		Relay:   rl,
		Node:    node,
		Ready:   probe,
		Version: version,
	},
		httpapi.WithRateLimit(cfg.Server.RateLimit.RPS, cfg.Server.RateLimit.Burst),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)
	if err != nil {
		return err
	}

	go svc.RunCleanup(ctx, cfg.Auth.CleanupInterval)

	srv := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	errs := make(chan error, 2)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("http listen: %w", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
		grpcSrv = grpc.NewServer()
		health := httpapi.NewGRPCServer(probe)
		health.Register(grpcSrv)
		go health.Run(ctx, 5*time.Second)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				errs <- fmt.Errorf("grpc serve: %w", err)
			}
		}()
	}

	obs.SetReady(true)
	obs.LogEvent(obs.LevelInfo, "gateway_started", map[string]any{
		"version":     version,
		"http_addr":   cfg.Server.HTTPAddr,
		"grpc_addr":   cfg.Server.GRPCAddr,
		"ledger_mode": cfg.Ledger.Mode,
		"chain":       cfg.Ledger.Chain,
		"broadcaster": signer.PublicKey().String(),
		"secrets":     cfg.Secrets.Redacted(),
	})

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errs:
	}

	obs.SetReady(false)
	obs.LogEvent(obs.LevelInfo, "gateway_stopping", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("http shutdown: %w", err)
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	obs.LogEvent(obs.LevelInfo, "gateway_stopped", nil)
	return runErr
}

// openApps returns the app registry: Postgres when a DSN is set, memory
// otherwise. Apps listed in the config are upserted either way.
func openApps(ctx context.Context, cfg *config.Config) (*sql.DB, *apps.Registry, error) {
	var (
		db    *sql.DB
		store apps.Store
	)
	if dsn := cfg.Secrets.PostgresDSN; dsn != "" {
		var err error
		if db, err = apps.Open(dsn); err != nil {
			return nil, nil, fmt.Errorf("open app registry: %w", err)
		}
		store = apps.NewPGStore(db)
	} else {
		store = apps.NewMemory()
	}

	for _, ac := range cfg.Apps {
		scope, err := ops.ParseScope(ac.Scope)
		if err != nil {
			return db, nil, fmt.Errorf("apps.%s: %w", ac.Name, err)
		}
		app := apps.App{Name: ac.Name, Scope: scope, SecretHash: ac.SecretHash, CreatedAt: time.Now().UTC()}
		if err := store.Put(ctx, app); err != nil {
			return db, nil, fmt.Errorf("seed app %s: %w", ac.Name, err)
		}
	}
	return db, apps.NewRegistry(store), nil
}

func openLedger(cfg *config.Config) (ledger.Node, error) {
	if cfg.Ledger.Mode == config.LedgerMemory {
		obs.LogEvent(obs.LevelWarn, "ledger_in_memory", map[string]any{"note": "transactions are not sent to any chain"})
		return ledger.NewInMemory(), nil
	}
	client, err := remote.New(cfg.Ledger.Nodes, remote.WithCallTimeout(cfg.Ledger.Timeout))
	if err != nil {
		return nil, fmt.Errorf("ledger nodes: %w", err)
	}
	return client, nil
}

// broadcaster loads the posting key from the environment. The in-memory
// ledger may run with a throwaway key.
func broadcaster(cfg *config.Config) (hive.Signer, error) {
	if wif := cfg.Secrets.BroadcasterWIF; wif != "" {
		signer, err := hive.NewKeySigner(wif)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.EnvBroadcasterWIF, err)
		}
		return signer, nil
	}
	if cfg.Ledger.Mode != config.LedgerMemory {
		return nil, fmt.Errorf("%s is required", config.EnvBroadcasterWIF)
	}
	key, err := hive.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	obs.LogEvent(obs.LevelWarn, "ephemeral_broadcaster_key", map[string]any{"public_key": key.PublicKey().String()})
	return hive.SignerFromKey(key), nil
}
