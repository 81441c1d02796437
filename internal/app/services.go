package app

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/kindtally/internal/config"
	"github.com/dokzlo13/kindtally/internal/db"
	"github.com/dokzlo13/kindtally/internal/eventbus"
	"github.com/dokzlo13/kindtally/internal/history"
	"github.com/dokzlo13/kindtally/internal/nostr"
	"github.com/dokzlo13/kindtally/internal/tally"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Optional persistence, nil when database.path is empty
	DB      *db.DB
	History *history.History

	// Relay transport
	Bus     *eventbus.Bus
	Tracker *RelayTracker
	Pool    *nostr.Pool

	Collector *tally.Collector
	Status    *StatusService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	if cfg.Database.Path != "" {
		database, err := db.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		s.DB = database
		s.History = history.New(database.DB)
	}

	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())
	s.Tracker = NewRelayTracker(cfg.Relays, s.Bus)

	// One limiter shared by every relay so reconnect storms stay bounded
	limiter := rate.NewLimiter(rate.Limit(cfg.Connection.DialRateRPS), max(1, int(cfg.Connection.DialRateRPS)))

	relayCfg := nostr.RelayConfig{
		DialTimeout:   cfg.Connection.DialTimeout.Duration(),
		MinBackoff:    cfg.Connection.MinRetryBackoff.Duration(),
		MaxBackoff:    cfg.Connection.MaxRetryBackoff.Duration(),
		Multiplier:    cfg.Connection.RetryMultiplier,
		MaxReconnects: cfg.Connection.MaxReconnects,
	}
	filter := buildFilter(cfg)

	relays := make([]*nostr.Relay, 0, len(cfg.Relays))
	for _, url := range cfg.Relays {
		relays = append(relays, nostr.NewRelay(url, filter, relayCfg, limiter))
	}

	pool, err := nostr.NewPool(relays, s.Bus)
	if err != nil {
		s.Close(context.Background())
		return nil, err
	}
	s.Pool = pool

	s.Collector = tally.New()
	s.Status = NewStatusService(cfg, s.Collector, s.Tracker)

	return s, nil
}

func buildFilter(cfg *config.Config) nostr.Filter {
	filter := nostr.Filter{
		Kinds: cfg.Subscription.Kinds,
		Limit: cfg.Subscription.Limit,
	}
	if lookback := cfg.Subscription.Lookback.Duration(); lookback > 0 {
		filter = filter.WithSince(now().Add(-lookback).Unix())
	}
	return filter
}

// Close releases all resources. The relay pool must have stopped before the bus is closed.
func (s *Services) Close(ctx context.Context) {
	if s.Bus != nil {
		s.Bus.Close(ctx)
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}
