package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/BrandonDHaskell/Portunus/skud/internal/config"
	"github.com/BrandonDHaskell/Portunus/skud/internal/db"
	"github.com/BrandonDHaskell/Portunus/skud/internal/healthsvc"
	"github.com/BrandonDHaskell/Portunus/skud/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/controller"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/service"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/skud/internal/skud/types"
)

func main() {
	logger := log.New(os.Stdout, "skud-server ", log.LstdFlags|log.LUTC)

	root := &cli.Command{
		Name:  "skud-server",
		Usage: "Turnstile access control (SKUD) service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "YAML file overlaid on the environment", Sources: cli.EnvVars("SKUD_CONFIG")},
			&cli.StringFlag{Name: "db-path", Usage: "SQLite database path"},
			&cli.StringFlag{Name: "env", Usage: "dev or prod"},
		},
		Commands: []*cli.Command{
			serveCommand(logger),
			migrateCommand(logger),
			seedDevCommand(logger),
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return runServer(ctx, cfg, logger)
		},
	}

	if err := root.Run(context.Background(), os.Args); err != nil {
		logger.Fatal(err)
	}
}

// loadConfig layers environment, then the optional YAML file, then flags.
func loadConfig(c *cli.Command) (config.Config, error) {
	cfg := config.FromEnv()
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.LoadFile(path, cfg); err != nil {
			return cfg, err
		}
	}
	if c.IsSet("db-path") {
		cfg.DBPath = c.String("db-path")
	}
	if c.IsSet("env") {
		cfg.Env = c.String("env")
	}
	if c.IsSet("http-addr") {
		cfg.HTTPAddr = c.String("http-addr")
	}
	if c.IsSet("grpc-addr") {
		cfg.GRPCAddr = c.String("grpc-addr")
	}
	return cfg, nil
}

func serveCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API and gRPC health server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "http-addr", Usage: "HTTP listen address"},
			&cli.StringFlag{Name: "grpc-addr", Usage: "gRPC health listen address"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			return runServer(ctx, cfg, logger)
		},
	}
}

func migrateCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations and exit",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
			if err != nil {
				return err
			}
			defer conn.Close()
			v, err := db.SchemaVersion(ctx, conn)
			if err != nil {
				return err
			}
			logger.Printf("migrations applied db=%s version=%d", cfg.DBPath, v)
			return nil
		},
	}
}

func seedDevCommand(logger *log.Logger) *cli.Command {
	return &cli.Command{
		Name:  "seed-dev",
		Usage: "Load a small employee roster for local testing",
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			if cfg.Env == "prod" {
				return errors.New("seed-dev refuses to run with env=prod")
			}
			conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.SeedDev(ctx, conn, db.SeedDevOptions{}); err != nil {
				return err
			}
			logger.Printf("dev employees seeded db=%s", cfg.DBPath)
			return nil
		},
	}
}

func fallbackSettings(cfg config.Config) types.Settings {
	mode, ok := types.ParseIntegrationMode(cfg.IntegrationMode)
	if !ok {
		mode = types.ModeMock
	}
	return types.Settings{
		WebdelEnabled:     cfg.WebdelEnabled,
		BaseURL:           cfg.WebdelBaseURL,
		Username:          cfg.WebdelUsername,
		Password:          cfg.WebdelPassword,
		IPAllowlist:       cfg.WebdelIPAllowlist,
		IntegrationMode:   mode,
		FeatureQR:         cfg.FeatureQR,
		FeatureCards:      cfg.FeatureCards,
		FeatureDirectREST: cfg.FeatureDirectREST,
	}
}

// signingKey returns the configured QR key. In dev an ephemeral key is
// generated, so tokens do not survive a restart.
func signingKey(cfg config.Config, logger *log.Logger) ([]byte, error) {
	if cfg.QRSigningKey != "" {
		return []byte(cfg.QRSigningKey), nil
	}
	if cfg.Env == "prod" {
		return nil, service.ErrMissingSecret
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate qr key: %w", err)
	}
	logger.Printf("SKUD_QR_SIGNING_KEY not set; using an ephemeral dev key")
	return key, nil
}

func runServer(ctx context.Context, cfg config.Config, logger *log.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	tokens, err := cfg.ParseAdminTokens()
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		logger.Printf("no SKUD_ADMIN_TOKENS configured; admin API will reject every request")
	}
	key, err := signingKey(cfg, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return err
	}
	defer conn.Close()
	writer := db.NewWorker(conn)
	defer writer.Close()

	// Controller client
	ctrl := controller.NewHTTPClient(cfg.HardwareTimeout(), logger)
	if err := ctrl.Start(ctx); err != nil {
		return fmt.Errorf("start controller client: %w", err)
	}
	defer ctrl.Stop()

	auditor := service.NewAuditor(sqlite.NewAuditStore(writer), nil, logger)

	// Runtime settings
	settingsSvc := service.NewSettingsService(sqlite.NewSettingsStore(conn, writer), fallbackSettings(cfg), ctrl, auditor, nil)
	refresher := service.NewSettingsRefresher(settingsSvc, cfg.SettingsRefresh(), logger)
	refresher.Start(ctx)
	defer refresher.Stop()

	ledger := service.NewSyncLedger(sqlite.NewSyncJobStore(conn), cfg.ExternalSystem, nil)
	deps := service.Deps{
		ExternalSystem: cfg.ExternalSystem,
		States:         sqlite.NewAccessStateStore(conn, writer),
		Bindings:       sqlite.NewPersonBindingStore(conn, writer),
		Cards:          sqlite.NewCardStore(conn, writer),
		QRTokens:       sqlite.NewQRTokenStore(conn, writer),
		Events:         sqlite.NewAccessEventStore(conn, writer),
		Persons:        sqlite.NewPersonStore(conn),
		Ledger:         ledger,
		Audit:          auditor,
		Notifier:       service.LogNotifier{Logger: logger},
		Settings:       settingsSvc,
		Logger:         logger,
	}

	qr, err := service.NewQRService(deps, service.QRConfig{SigningKey: key, DefaultTTL: cfg.QRDefaultTTL()})
	if err != nil {
		return err
	}

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:          logger,
		Addr:            cfg.HTTPAddr,
		HardwareTimeout: cfg.HardwareTimeout(),
		AdminTokens:     tokens,
		Gate:            service.NewWebdelGate(settingsSvc),
		Delegate:        service.NewDelegateResolver(deps, qr),
		Events:          service.NewEventIngestor(deps),
		Access:          service.NewAccessService(deps, cfg.BatchConcurrency),
		Cards:           service.NewCardService(deps),
		QR:              qr,
		Ledger:          ledger,
		Settings:        settingsSvc,
	})

	// gRPC health
	health := healthsvc.New(logger)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			logger.Printf("grpc error: %v", err)
			stop()
		}
	}()

	go func() {
		logger.Printf("listening on %s env=%s db=%s", cfg.HTTPAddr, cfg.Env, cfg.DBPath)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()
	health.SetServing(true)

	<-ctx.Done()
	logger.Printf("shutting down")

	health.SetServing(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("http shutdown: %v", err)
	}
	health.Stop(shutdownCtx)
	return nil
}
