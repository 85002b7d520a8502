package provider

import (
	"fmt"

	"github.com/spooky-finn/go-orderbook-live/config"
	"github.com/spooky-finn/go-orderbook-live/domain"
	"github.com/spooky-finn/go-orderbook-live/provider/binance"
	"github.com/spooky-finn/go-orderbook-live/provider/kucoin"
)

const (
	Binance = "binance"
	Kucoin  = "kucoin"
)

// ConnectionManager resolves the upstream book source by provider name.
type ConnectionManager struct {
	BinanceSyncAPI   *binance.BinanceSyncAPI
	BinanceStreamAPI *binance.BinanceStreamAPI

	KucoinSyncAPI   *kucoin.KucoinSyncAPI
	KucoinStreamAPI *kucoin.KucoinStreamAPI
}

func NewConnectionManager(cfg *config.Config) *ConnectionManager {
	var binanceSyncAPI *binance.BinanceSyncAPI
	seedDepth := 0
	if cfg.Binance.SeedSnapshot {
		binanceSyncAPI = binance.NewBinanceSyncAPI(cfg.Binance.BinanceAPIURL())
		seedDepth = cfg.Binance.SeedDepth
	}
	binanceStreamClient := binance.NewBinanceStreamClient(cfg.Binance.BinanceStreamURL())

	kucoinSyncAPI := kucoin.NewKucoinSyncAPI(cfg.Kucoin.BaseURI)
	kucoinStreamClient := kucoin.NewKucoinStreamClient(kucoinSyncAPI)

	return &ConnectionManager{
		BinanceSyncAPI:   binanceSyncAPI,
		BinanceStreamAPI: binance.NewBinanceStreamAPI(binanceStreamClient, binanceSyncAPI, seedDepth),
		KucoinSyncAPI:    kucoinSyncAPI,
		KucoinStreamAPI:  kucoin.NewKucoinStreamAPI(kucoinStreamClient, kucoinSyncAPI, cfg.Kucoin.QuoteAssets, cfg.Kucoin.SeedSnapshot),
	}
}

func (cm *ConnectionManager) StreamAPI(provider string) (domain.BookSource, error) {
	switch provider {
	case Kucoin:
		return cm.KucoinStreamAPI, nil
	case Binance:
		return cm.BinanceStreamAPI, nil
	}

	return nil, fmt.Errorf("unknown provider: %s", provider)
}

func (cm *ConnectionManager) Close() {
	if cm.BinanceSyncAPI != nil {
		_ = cm.BinanceSyncAPI.Close()
	}
}
