package rpc

import "github.com/spooky-finn/go-orderbook-live/domain"

type ValidationServiceConfig struct {
	// AvailablePairs restricts SetPair when not empty.
	AvailablePairs []string
}

type ValidationService struct {
	config *ValidationServiceConfig
}

func NewValidationService(config *ValidationServiceConfig) *ValidationService {
	if config == nil {
		config = &ValidationServiceConfig{}
	}
	return &ValidationService{
		config: config,
	}
}

func (s *ValidationService) IsSupportedPair(pair domain.Pair) bool {
	if len(s.config.AvailablePairs) == 0 {
		return true
	}
	for _, p := range s.config.AvailablePairs {
		if candidate, err := domain.NewPair(p); err == nil && candidate == pair {
			return true
		}
	}
	return false
}
