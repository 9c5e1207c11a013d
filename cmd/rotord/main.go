// Command rotord runs the order-dispatch engine as a daemon: the item and
// presence watchers, the periodic safety-net sweep, and the operational
// HTTP endpoints (manual reconcile, health, metrics).
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/storekit/rotor"
	"github.com/storekit/rotor/internal/httpd"
	"github.com/storekit/rotor/internal/logging"
	"github.com/storekit/rotor/internal/metrics"
	"github.com/storekit/rotor/store/mongo"
)

// daemonConfig wraps the engine configuration with the connection
// settings only the daemon needs.
type daemonConfig struct {
	NATS struct {
		URL  string `yaml:"url"`
		Name string `yaml:"name"`
	} `yaml:"nats"`

	Mongo struct {
		URI      string `yaml:"uri"`
		Database string `yaml:"database"`
	} `yaml:"mongo"`

	Engine rotor.Config `yaml:"engine"`
}

func loadConfig(path string) (*daemonConfig, error) {
	cfg := &daemonConfig{}
	cfg.NATS.URL = nats.DefaultURL
	cfg.NATS.Name = "rotord"
	cfg.Mongo.URI = "mongodb://localhost:27017"
	cfg.Mongo.Database = "shop"

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	rotor.SetDefaults(&cfg.Engine)
	if err := cfg.Engine.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "rotord",
		Short:        "Order-dispatch engine daemon",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			return run(cmd.Context(), cfg)
		},
	}

	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *daemonConfig) error {
	logger := logging.NewSlog(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.Name(cfg.NATS.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
	}
	defer nc.Close()

	docs, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	defer func() {
		if err := docs.Close(context.Background()); err != nil {
			logger.Warn("failed to close document store", "error", err)
		}
	}()

	collector := metrics.NewPrometheus(prometheus.DefaultRegisterer, "rotor")

	engine, err := rotor.NewEngine(&cfg.Engine, nc, docs,
		rotor.WithLogger(logger),
		rotor.WithMetrics(collector),
	)
	if err != nil {
		return err
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	server := httpd.NewServer(httpd.Config{
		Addr:           cfg.Engine.HTTP.Addr,
		Secret:         cfg.Engine.HTTP.ReconcileSecret,
		SweepMaxItems:  cfg.Engine.Sweep.ManualBatchSize,
		RequestTimeout: cfg.Engine.HTTP.RequestTimeout,
	}, engine, engine, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			logger.Error("http server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Engine.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown failed", "error", err)
	}
	if err := engine.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("engine shutdown: %w", err)
	}

	return nil
}
