package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spooky-finn/go-orderbook-live/config"
	"github.com/spooky-finn/go-orderbook-live/feedserver"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
	promclient "github.com/spooky-finn/go-orderbook-live/infrastructure/prometheus"
	"github.com/spooky-finn/go-orderbook-live/provider"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "path to the config file")
	env := flag.String("env", "", "binance environment: testnet or real")
	providerName := flag.String("provider", "", "upstream exchange: binance or kucoin")
	logOutput := flag.String("log-output", "stderr", "log destination: stdout, stderr or a file path")
	flag.Parse()

	log := logger.GetLogger()

	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("failed to load .env")
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if *env != "" {
		cfg.Binance.Env = strings.ToLower(*env)
		if cfg.Binance.Env != "testnet" && cfg.Binance.Env != "real" {
			log.WithFields(logger.Fields{"env": *env}).Fatal("env must be testnet or real")
		}
	}
	if *providerName != "" {
		cfg.Server.Provider = strings.ToLower(*providerName)
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, *logOutput, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Fatal("failed to configure logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connManager := provider.NewConnectionManager(cfg)
	defer connManager.Close()

	source, err := connManager.StreamAPI(cfg.Server.Provider)
	if err != nil {
		log.WithError(err).Fatal("failed to resolve provider")
	}

	hub := feedserver.NewHub(source, feedserver.HubConfig{
		BroadcastInterval: cfg.Server.BroadcastInterval,
		SendBuffer:        cfg.Server.SendBuffer,
	})
	go hub.Run(ctx)

	if cfg.Metrics.Enabled {
		go func() {
			if err := promclient.StartPromClientServer(ctx, cfg.Metrics.Address); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	log.WithFields(logger.Fields{
		"provider": cfg.Server.Provider,
		"env":      cfg.Binance.Env,
		"address":  cfg.Server.Address,
	}).Info("starting feed relay")

	server := feedserver.NewServer(hub, feedserver.ServerConfig{
		Address:     cfg.Server.Address,
		PairParam:   cfg.Feed.PairParam,
		DefaultPair: cfg.Server.DefaultPair,
	})
	if err := server.ListenAndServe(ctx); err != nil {
		log.WithError(err).Fatal("feed server stopped")
	}
}
