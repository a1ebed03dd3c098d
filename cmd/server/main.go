package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tbardale/strikesentry/internal/api"
	"github.com/tbardale/strikesentry/internal/auth"
	"github.com/tbardale/strikesentry/internal/broker"
	"github.com/tbardale/strikesentry/internal/config"
	"github.com/tbardale/strikesentry/internal/engine"
	"github.com/tbardale/strikesentry/internal/mock"
	"github.com/tbardale/strikesentry/internal/orders"
	"github.com/tbardale/strikesentry/internal/session"
	"github.com/tbardale/strikesentry/internal/storage"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// .env is optional; real deployments export variables directly.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Warning: could not load .env file: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(cfg.Environment.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	logger.Infof("Starting strikesentry in %s mode", cfg.Environment.Mode)
	if cfg.IsPaperTrading() {
		logger.Info("Paper mode: all users share the simulated brokerage")
	}

	tickInterval, err := cfg.TickInterval()
	if err != nil {
		log.Fatalf("Invalid tick interval: %v", err)
	}
	sweepInterval, err := cfg.SweepInterval()
	if err != nil {
		log.Fatalf("Invalid sweep interval: %v", err)
	}
	idleTimeout, err := cfg.IdleTimeout()
	if err != nil {
		log.Fatalf("Invalid idle timeout: %v", err)
	}

	usersFile, err := storage.NewFile(cfg.Storage.UsersPath)
	if err != nil {
		log.Fatalf("Failed to open users table: %v", err)
	}
	sessionsFile, err := storage.NewFile(cfg.Storage.SessionsPath)
	if err != nil {
		log.Fatalf("Failed to open sessions table: %v", err)
	}

	creds, err := auth.NewStore(usersFile, nil)
	if err != nil {
		log.Fatalf("Failed to load credential store: %v", err)
	}
	registry, err := session.NewRegistry(sessionsFile, nil)
	if err != nil {
		log.Fatalf("Failed to load session registry: %v", err)
	}

	factory := buildBrokerFactory(cfg, logger)

	dispatcher := orders.NewDispatcher(nil, orders.Config{
		Quantity:    cfg.Orders.Quantity,
		ProductType: cfg.Orders.ProductType,
		OrderKind:   broker.KindMarket,
		TickSize:    cfg.Orders.TickSize,
	})

	eng := engine.New(creds, factory, dispatcher, engine.Config{
		TickInterval:    tickInterval,
		SignalThreshold: cfg.SignalThreshold(),
		StrikeCount:     cfg.StrikeCount(),
		SymbolPrefix:    cfg.Engine.SymbolPrefix,
		Underlying:      cfg.Engine.Underlying,
	}, os.Stdout)

	// A superseded or revoked session tears the user's worker down before
	// the new token becomes visible.
	registry.OnRevoke(func(username string) { eng.Teardown(username) })

	sweeper := session.NewSweeper(registry, sweepInterval, idleTimeout, nil)

	server := api.NewServer(api.Config{
		Addr:      cfg.ListenAddr(),
		SymbolMap: cfg.Engine.SymbolMap,
	}, creds, registry, eng, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return sweeper.Run(gctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("Server exited with error")
	}

	// Drain every live worker before the process exits.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	eng.Shutdown(shutdownCtx)
	logger.Info("Shutdown complete")
}

// buildBrokerFactory returns the per-token broker constructor. Paper mode
// shares one simulated gateway across users; live mode gives each token its
// own REST client behind a circuit breaker.
func buildBrokerFactory(cfg *config.Config, logger *logrus.Logger) broker.Factory {
	if cfg.IsPaperTrading() {
		provider := mock.NewProvider(24187, 50)
		return func(string) broker.Broker { return provider }
	}
	endpoint := cfg.Broker.APIEndpoint
	logger.Infof("Live mode: brokerage endpoint %s", endpoint)
	return func(accessToken string) broker.Broker {
		return broker.NewCircuitBreakerBroker(broker.NewRESTClient(endpoint, accessToken))
	}
}
