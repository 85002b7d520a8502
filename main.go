package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spooky-finn/go-orderbook-live/config"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/infrastructure/logger"
	promclient "github.com/spooky-finn/go-orderbook-live/infrastructure/prometheus"
	"github.com/spooky-finn/go-orderbook-live/provider/feed"
	"github.com/spooky-finn/go-orderbook-live/rpc"
	"github.com/spooky-finn/go-orderbook-live/terminal"
	"github.com/spooky-finn/go-orderbook-live/usecase"
)

func main() {
	configPath := flag.String("config", "config/config.yml", "path to the config file")
	pair := flag.String("pair", "", "pair to open on start, defaults to feed.default_pair")
	headless := flag.Bool("headless", false, "run without the terminal view")
	flag.Parse()

	log := logger.GetLogger()

	if err := config.LoadDotEnv(); err != nil {
		log.WithError(err).Fatal("failed to load .env")
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Fatal("failed to configure logger")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := feed.NewStreamClient(feed.StreamClientConfig{
		Endpoint:         cfg.Feed.Endpoint,
		PairParam:        cfg.Feed.PairParam,
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		ReadLimit:        cfg.Feed.ReadLimit,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to create feed client")
	}

	storage := domain.NewOrderBookStorage()
	controller := usecase.NewSubscriptionController(client, storage, usecase.SubscriptionControllerOptions{
		InboxLimit:     cfg.Feed.InboxLimit,
		AvailablePairs: cfg.Feed.AvailablePairs,
	})
	defer controller.Stop()

	if cfg.Metrics.Enabled {
		go func() {
			if err := promclient.StartPromClientServer(ctx, cfg.Metrics.Address); err != nil {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}

	if cfg.RPC.Enabled {
		server := rpc.NewServer(controller, storage, &rpc.ValidationServiceConfig{AvailablePairs: cfg.Feed.AvailablePairs})
		go func() {
			if err := server.Serve(ctx, cfg.RPC.Address); err != nil {
				log.WithError(err).Error("rpc server stopped")
			}
		}()
	}

	startPair := *pair
	if startPair == "" {
		startPair = cfg.Feed.DefaultPair
	}
	// a failed first subscription leaves the viewer idle, another pair can be entered
	if err := controller.Start(ctx, startPair); err != nil {
		log.WithError(err).WithFields(logger.Fields{"pair": startPair}).Error("failed to subscribe")
	}

	if *headless {
		<-ctx.Done()
		return
	}

	if err := terminal.NewDashboard(controller, storage).Run(ctx); err != nil {
		log.WithError(err).Error("terminal view stopped")
	}
}
