package tracker

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"metafusion/chain"
	"metafusion/config"
	"metafusion/content"
	"metafusion/events"
	"metafusion/observability"
	"metafusion/observability/logging"
	telemetry "metafusion/observability/otel"
	"metafusion/pipeline"
	"metafusion/state"
)

// Main runs the tracker daemon using the provided command line flags.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := []logging.Option{}
	if cfg.LogFile != "" {
		logOpts = append(logOpts, logging.WithFile(cfg.LogFile))
	}
	logger := logging.Setup("trackerd", cfg.Environment, logOpts...)
	logger.Info("configuration loaded",
		"driver", cfg.Database.Driver,
		logging.MaskField("dsn", cfg.Database.DSN),
		"rpc", cfg.Chain.RPCURL,
		"contract", cfg.Chain.ContractAddress)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.FromEnv("trackerd"))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(shutdownCtx)
	}()

	store, err := state.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = store.Close() }()

	signerKey, err := cfg.Chain.SignerKey()
	if err != nil {
		return err
	}
	chainClient, err := chain.Dial(ctx, chain.Config{
		RPCURL:          cfg.Chain.RPCURL,
		ContractAddress: cfg.Chain.ContractAddress,
		SignerKeyHex:    signerKey,
		CallTimeout:     cfg.Chain.CallTimeoutDuration(),
		ConfirmReceipts: cfg.Chain.ConfirmReceipts,
	}, logger)
	if err != nil {
		return fmt.Errorf("dial chain: %w", err)
	}
	defer chainClient.Close()

	contentClient := content.NewClient(cfg.IPFS.APIURL, cfg.IPFS.TimeoutDuration())

	env := &events.Env{
		Store:   store,
		Market:  chainClient,
		Content: contentClient,
		Log:     logger,
		Metrics: observability.Tracker(),
	}
	if cfg.Pipeline.Enabled {
		generator := pipeline.NewHTTPGenerator(cfg.Pipeline.GeneratorURL, cfg.Pipeline.GeneratorTimeoutDuration())
		env.Pipeline = pipeline.New(store, contentClient, chainClient, generator, logger)
		logger.Info("oracle pipeline enabled", "generator", cfg.Pipeline.GeneratorURL)
	}

	dispatcher := NewDispatcher(chainClient, env, Options{
		StartBlock:    cfg.Tracker.StartBlock,
		BatchSize:     cfg.Tracker.BatchSize,
		Confirmations: cfg.Tracker.Confirmations,
		PollInterval:  cfg.Tracker.PollIntervalDuration(),
	})

	if cfg.API.MetricsAddress != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", promhttp.Handler())
		metricsSrv := &http.Server{
			Addr:         cfg.API.MetricsAddress,
			Handler:      metricsMux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("tracker started",
		"contract", cfg.Chain.ContractAddress,
		"start_block", cfg.Tracker.StartBlock,
		"signer", chainClient.Signer().Hex())

	if err := dispatcher.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("tracker stopped")
	return nil
}
