// Command keel runs the policy-enforcement server.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mereon-labs/keel/pkg/api"
	"github.com/mereon-labs/keel/pkg/classifier"
	"github.com/mereon-labs/keel/pkg/config"
	"github.com/mereon-labs/keel/pkg/enforce"
	"github.com/mereon-labs/keel/pkg/escalation"
	"github.com/mereon-labs/keel/pkg/identity"
	"github.com/mereon-labs/keel/pkg/ledger"
	"github.com/mereon-labs/keel/pkg/observability"
	"github.com/mereon-labs/keel/pkg/policy"
	"github.com/mereon-labs/keel/pkg/registry"
	"github.com/mereon-labs/keel/pkg/regulatory"
	"github.com/mereon-labs/keel/pkg/risk"
)

func main() {
	if err := run(); err != nil {
		slog.Error("startup failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := observability.SetupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obsCfg := observability.DefaultConfig()
	obsCfg.Enabled = cfg.TelemetryEnabled
	obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
	obsCfg.Insecure = cfg.OTLPInsecure
	obsCfg.SampleRate = cfg.TraceSampleRate
	obsCfg.Environment = cfg.Environment

	obs, err := observability.New(ctx, obsCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	reg, err := buildRegistry(cfg, logger)
	if err != nil {
		return err
	}

	led, closeLedger, err := buildLedger(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()

	cls, err := buildClassifier(cfg)
	if err != nil {
		return err
	}

	calc, err := buildRegulatory(cfg)
	if err != nil {
		return err
	}

	global, err := buildGlobalPolicy(cfg)
	if err != nil {
		return err
	}

	router, err := risk.NewRouter(risk.Weights{
		Capability: cfg.Weights[0],
		Regulatory: cfg.Weights[1],
		Ethical:    cfg.Weights[2],
	})
	if err != nil {
		return err
	}

	reviews := escalation.NewManager(5 * time.Minute)

	engine, err := enforce.New(enforce.Options{
		Registry:     reg,
		Classifier:   cls,
		Router:       router,
		Ledger:       led,
		Reviews:      reviews,
		Regulatory:   calc,
		GlobalPolicy: global,
		Jurisdiction: regulatory.Jurisdiction(cfg.Jurisdiction),
		EscalationThresholds: map[string]float64{
			policy.EnvProduction: cfg.EscalationThreshold,
		},
	})
	if err != nil {
		return err
	}

	if cfg.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required")
	}
	resolver, err := identity.NewResolver([]byte(cfg.AuthSecret), cfg.AuthIssuer)
	if err != nil {
		return err
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	server := api.NewServer(engine, reg, led, reviews, resolver, limiter)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func buildRegistry(cfg *config.Config, logger *slog.Logger) (registry.Registry, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set, registry runs in memory")
		return registry.NewMemoryRegistry(), nil
	}
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return registry.NewPostgresRegistry(db)
}

func buildLedger(ctx context.Context, cfg *config.Config) (*ledger.Ledger, func(), error) {
	if cfg.LedgerMasterKey == "" {
		return nil, nil, fmt.Errorf("LEDGER_MASTER_KEY is required")
	}
	key, err := ledger.DeriveKey([]byte(cfg.LedgerMasterKey), cfg.DeploymentID)
	if err != nil {
		return nil, nil, err
	}

	var store ledger.Store
	closeStore := func() {}
	if cfg.LedgerPath != "" {
		fileStore, err := ledger.OpenFileStore(cfg.LedgerPath)
		if err != nil {
			return nil, nil, err
		}
		store = fileStore
		closeStore = func() { _ = fileStore.Close() }
	} else {
		store = ledger.NewMemoryStore()
	}

	led, err := ledger.Open(ctx, store, key, ledger.Config{MinRetention: cfg.MinRetention()})
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return led, closeStore, nil
}

func buildClassifier(cfg *config.Config) (*classifier.Classifier, error) {
	if cfg.TaxonomyPath == "" {
		return classifier.Default(), nil
	}
	tax, err := classifier.LoadTaxonomy(cfg.TaxonomyPath)
	if err != nil {
		return nil, err
	}
	return classifier.New(tax)
}

func buildRegulatory(cfg *config.Config) (*regulatory.Calculator, error) {
	if cfg.PenaltyTablePath == "" {
		return regulatory.Default(), nil
	}
	table, err := regulatory.LoadTable(cfg.PenaltyTablePath)
	if err != nil {
		return nil, err
	}
	return regulatory.NewCalculator(table), nil
}

func buildGlobalPolicy(cfg *config.Config) (*policy.Policy, error) {
	if cfg.GlobalPolicyPath == "" {
		// Conservative builtin defaults; production deployments load a
		// reviewed policy document instead.
		return &policy.Policy{
			AutonomyMatrix: map[string]float64{
				policy.EnvDevelopment: 7.0,
				policy.EnvStaging:     6.0,
				policy.EnvProduction:  5.0,
			},
		}, nil
	}
	return policy.Load(cfg.GlobalPolicyPath)
}
