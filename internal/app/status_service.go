package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/kindtally/internal/config"
	"github.com/dokzlo13/kindtally/internal/tally"
)

// StatusService provides HTTP endpoints for health and the live tally.
type StatusService struct {
	cfg       *config.Config
	collector *tally.Collector
	tracker   *RelayTracker
	server    *http.Server
}

// NewStatusService creates a new StatusService.
func NewStatusService(cfg *config.Config, collector *tally.Collector, tracker *RelayTracker) *StatusService {
	return &StatusService{
		cfg:       cfg,
		collector: collector,
		tracker:   tracker,
	}
}

// Start begins the status server if enabled. It stops when ctx is done.
func (s *StatusService) Start(ctx context.Context) {
	if !s.cfg.Status.Enabled {
		return
	}

	go s.run(ctx)
}

func (s *StatusService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Status.GetHost(), s.cfg.Status.GetPort())

	s.server = &http.Server{
		Addr:    addr,
		Handler: s.handler(),
	}

	log.Info().Str("addr", addr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Status server error")
	}
}

func (s *StatusService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Ready once at least one relay subscription is live
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if s.tracker.Connected() == 0 {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "connecting"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.HandleFunc("/tally", func(w http.ResponseWriter, r *http.Request) {
		snap := s.collector.Snapshot()
		writeJSON(w, http.StatusOK, map[string]any{
			"total":  snap.Total(),
			"counts": snap,
		})
	})

	mux.HandleFunc("/relays", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.tracker.Snapshot())
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write status response")
	}
}
