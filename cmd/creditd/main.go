package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"fintech-approve/internal/api"
	"fintech-approve/internal/audit"
	"fintech-approve/internal/cfg"
	"fintech-approve/internal/engine"
	"fintech-approve/internal/explain"
	"fintech-approve/internal/feature"
	"fintech-approve/internal/metrics"
	"fintech-approve/internal/model"
	"fintech-approve/internal/policy"
)

func main() {
	// Optional .env for local development
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()

	transformer, err := feature.NewTransformer(feature.DefaultSchema())
	if err != nil {
		log.Fatal().Err(err).Msg("feature transformer initialization failed")
	}

	mdl, err := buildModel(c, transformer)
	if err != nil {
		log.Fatal().Err(err).Msg("model initialization failed")
	}

	attributor, err := explain.New(mdl, transformer.FeatureNames(), transformer.Baseline(), explain.Config{
		SampleCount: c.SampleCount,
		Seed:        c.RandomSeed,
		Workers:     c.AttributorWorkers,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("attributor initialization failed")
	}

	store := initializeStore(c)
	defer store.Close()

	eng := engine.New(transformer, mdl, attributor, policy.New(c.RiskThreshold), store, engine.Config{
		TopKDrivers:      c.TopKDrivers,
		AuditRequired:    c.AuditRequired,
		RecentStatsLimit: c.RecentStatsLimit,
		RequestTimeout:   c.RequestTimeout,
	}, m)

	srv := api.NewServer(eng, c.ListenAddr, m)

	startMetricsServer(ctx, c)

	go func() {
		if err := srv.Start(); err != nil {
			log.Error().Err(err).Msg("decision API server failed")
			cancel()
		}
	}()

	waitForShutdown(ctx, cancel, srv)
}

// buildModel selects the scoring backend: a remote inference service when
// configured, fitted parameters from disk when a params path is set, the
// shipped classifier otherwise.
func buildModel(c cfg.Settings, transformer *feature.Transformer) (model.Model, error) {
	if c.RemoteModelURL != "" {
		log.Info().Str("url", c.RemoteModelURL).Msg("using remote scoring service")
		return model.NewRemote(c.RemoteModelURL, transformer.NumFeatures(), c.RemoteModelTimeout), nil
	}
	if c.ModelParamsPath != "" {
		return model.LoadLogistic(c.ModelParamsPath)
	}
	log.Info().Msg("using embedded model parameters")
	return model.DefaultLogistic(), nil
}

// initializeStore opens the audit database under DataPath. The store is
// required: history and aggregate queries have nowhere else to read from.
func initializeStore(c cfg.Settings) *audit.Store {
	if err := os.MkdirAll(c.DataPath, 0o755); err != nil {
		log.Fatal().Err(err).Str("data_path", c.DataPath).Msg("failed to create data directory")
	}
	store, err := audit.New(c.DataPath)
	if err != nil {
		log.Fatal().Err(err).Str("data_path", c.DataPath).Msg("audit store initialization failed")
	}
	return store
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, c cfg.Settings) {
	go func() {
		mux := http.NewServeMux()

		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

func waitForShutdown(ctx context.Context, cancel context.CancelFunc, srv *api.Server) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case s := <-sig:
		log.Info().Str("signal", s.String()).Msg("shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("decision API shutdown failed")
	}
	log.Info().Msg("shutdown complete")
}
