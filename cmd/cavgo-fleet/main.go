package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/Genocadio/cavgocompany-sub001/internal/app"
	"github.com/Genocadio/cavgocompany-sub001/internal/config"
	"github.com/Genocadio/cavgocompany-sub001/internal/fleet"
	"github.com/Genocadio/cavgocompany-sub001/internal/kafka"
	"github.com/Genocadio/cavgocompany-sub001/internal/models"
	"github.com/Genocadio/cavgocompany-sub001/internal/service"
	"github.com/Genocadio/cavgocompany-sub001/internal/stream"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/subcommands"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().
		Timestamp().
		Str("app", "cavgo-fleet").
		Logger()

	settings, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load settings")
	}

	logLevel, err := zerolog.ParseLevel(settings.LogLevel)
	if err != nil {
		logger.Fatal().Err(err).Msg("Couldn't parse log level setting.")
	}
	zerolog.SetGlobalLevel(logLevel)
	logger = logger.Level(logLevel)

	// new context that cancels on program interrupt
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	// CLI commands
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	if len(os.Args) > 1 {
		// CLI only mode
		subcommands.Register(&probeCmd{logger: logger, settings: settings}, "subscription")

		flag.Parse()
		os.Exit(int(subcommands.Execute(ctx)))
	}

	hub := stream.NewHub(logger, settings.BroadcastRateLimit)

	var producer *kafka.SnapshotProducer
	if settings.IsSnapshotProducerEnabled {
		kafkaBrokers := strings.Split(settings.KafkaBrokers, ",")
		producer, err = kafka.NewSnapshotProducer(&logger, kafkaBrokers, settings.SnapshotTopic)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create snapshot producer")
		}
		defer func() {
			if err := producer.Close(); err != nil {
				logger.Error().Err(err).Msg("Failed to close snapshot producer")
			}
		}()
	}

	onSnapshot := func(cars []models.Car) {
		hub.Broadcast(cars)
		if producer != nil {
			producer.PublishSnapshot(cars)
		}
	}

	aggregator, err := fleet.NewAggregator(settings.GraphQLEndpoint, settings.APIToken, logger, onSnapshot)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create fleet aggregator")
	}
	defer aggregator.Close()

	fleetAPI := service.NewFleetAPIService(logger, settings)
	geocoder := service.NewGeocoder(logger, settings)

	monApp := createMonitoringServer()
	group, gCtx := errgroup.WithContext(ctx)

	webAPI := app.App(settings, &logger, aggregator, hub, geocoder)

	logger.Info().Str("port", settings.MonitoringPort).Msgf("Starting monitoring server %s", settings.MonitoringPort)
	runFiber(gCtx, monApp, ":"+settings.MonitoringPort, group)
	logger.Info().Str("port", settings.Port).Msgf("Starting web server %s", settings.Port)
	runFiber(gCtx, webAPI, ":"+settings.Port, group)

	runFleetPoller(gCtx, logger, settings, fleetAPI, aggregator, group)

	if err = group.Wait(); err != nil {
		logger.Fatal().Err(err).Msg("Server failed.")
	}
	logger.Info().Msg("Server stopped.")
}

// runFleetPoller periodically re-fetches the company car list and reconciles
// the active trip subscription set against it.
func runFleetPoller(ctx context.Context, logger zerolog.Logger, settings *config.Settings, fleetAPI service.FleetAPI, aggregator *fleet.Aggregator, group *errgroup.Group) {
	group.Go(func() error {
		refresh := func() {
			cars, err := fleetAPI.FetchCompanyCars(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to fetch company cars")
				return
			}
			aggregator.Reconcile(cars)
		}

		refresh()

		ticker := time.NewTicker(settings.FleetRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				refresh()
			}
		}
	})
}

func runFiber(ctx context.Context, fiberApp *fiber.App, addr string, group *errgroup.Group) {
	group.Go(func() error {
		if err := fiberApp.Listen(addr); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		if err := fiberApp.Shutdown(); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
		return nil
	})
}

// createMonitoringServer meant for prometheus / openmetrics scraping.
func createMonitoringServer() *fiber.App {
	monApp := fiber.New(fiber.Config{DisableStartupMessage: true})

	monApp.Get("/", func(_ *fiber.Ctx) error { return nil })
	monApp.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return monApp
}
