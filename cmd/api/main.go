package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transtrack-api/analytics"
	"transtrack-api/config"
	"transtrack-api/enrich"
	"transtrack-api/fleet"
	"transtrack-api/geo"
	"transtrack-api/handlers"
	"transtrack-api/ingest"
	"transtrack-api/logging"
	"transtrack-api/middleware"
	"transtrack-api/routing"
	"transtrack-api/services"
	"transtrack-api/store"
	"transtrack-api/tracing"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Failed to read .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logging.Init(cfg.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("tracing init: %w", err)
	}
	defer shutdownTracing()

	stations, err := config.LoadStations(cfg.StationsFile)
	if err != nil {
		return fmt.Errorf("station table: %w", err)
	}
	slog.Info("station table loaded", "stations", len(stations), "file", cfg.StationsFile)

	repo := fleet.NewRepository()
	deps := services.FleetDeps{
		Repo:         repo,
		Builder:      enrich.NewBuilder(repo, geo.NewStationTable(stations), analytics.ParamsFromConfig(cfg.Analytics)),
		Hub:          services.NewHub(32),
		Router:       routing.NewOSRMClient(cfg.Routing),
		RouteTimeout: cfg.Routing.Timeout,
	}

	seed := services.SeedFleet()
	if cfg.Database.Enabled {
		st, err := store.Open(cfg.Database)
		if err != nil {
			return err
		}
		defer st.Close()
		deps.Buses, deps.Incidents = st, st

		archive, err := store.NewSampleArchive(ctx, cfg.Database.GetDSN())
		if err != nil {
			return err
		}
		defer archive.Close()
		deps.Samples = archive

		stored, err := st.LoadBuses(ctx)
		if err != nil {
			return err
		}
		if len(stored) > 0 {
			seed = stored
		}
		slog.Info("database connected", "host", cfg.Database.Host, "buses", len(stored))
	}

	if cfg.Redis.Enabled {
		cache, err := services.NewCacheService(cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, live events stay in-process", "error", err)
		} else {
			defer cache.Close()
			deps.Publisher = cache
		}
	}

	svc := services.NewFleetService(deps)
	svc.Seed(seed)
	slog.Info("fleet seeded", "buses", len(seed))

	if cfg.MQTT.URL != "" {
		sub := ingest.NewSubscriber(cfg.MQTT, svc)
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
		slog.Info("mqtt ingest running", "url", cfg.MQTT.URL, "topic", cfg.MQTT.Topic)
	}

	router := gin.Default()
	router.Use(middleware.RequestMetrics(), middleware.SetupCORS(cfg.CORS))
	handlers.RegisterRoutes(router, svc)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           otelhttp.NewHandler(router, "transtrack-api"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	svc.Hub().Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	svc.Shutdown()
	return nil
}
