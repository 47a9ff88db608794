package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/auth"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/broadcast"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/config"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/database"
	httpHandlers "github.com/ANIKETSHETTY47/panel-telemetry/internal/http"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/hub"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/logger"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/metrics"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/relay"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/repository"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/service"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logger.Setup(config.LogLevel(), config.LogFormat(), "api")
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.Fatal().Err(err).Msg("metrics register failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, config.DatabaseDSN())
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	repos := repository.New(db)
	svcs := service.New(repos, service.Options{
		Location:      config.Location(),
		DefaultWindow: config.ReadingsDefaultWindow(),
	})

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	g, gctx := errgroup.WithContext(ctx)

	var probes []httpHandlers.Probe
	if config.RelayEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:                  config.RedisAddr(),
			Password:              config.RedisPassword(),
			DB:                    config.RedisDB(),
			ContextTimeoutEnabled: true,
		})
		defer rdb.Close()

		verifier, err := auth.FromSecret(config.JWTSecret())
		if err != nil {
			log.Fatal().Err(err).Msg("auth setup failed")
		}

		h := hub.New(hub.Options{Auth: verifier, Resolver: repos}, logger.Component("hub"))
		registry := broadcast.NewRegistry(h, logger.Component("broadcast"))
		h.SetRouter(registry)

		streams := relay.Streams{SensorData: config.RelaySensorStream(), PanelChange: config.RelayPanelStream()}
		consumer := relay.NewConsumer(rdb, relay.ConsumerOptions{Streams: streams}, relay.Handlers{
			SensorData:  registry.BroadcastSensorData,
			PanelChange: registry.BroadcastPanelChange,
		}, logger.Component("relay"))
		publisher := relay.NewPublisher(rdb, streams, logger.Component("relay"))

		// Changes reach local clients through the consumer like any other.
		httpHandlers.RegisterPanelAdmin(app, publisher.PublishPanelChange, nil)
		probes = append(probes,
			httpHandlers.Probe{Name: "connections", Check: func() (any, bool) { return h.Connections(), true }},
			httpHandlers.Probe{Name: "subscribedConnections", Check: func() (any, bool) { return registry.Connections(), true }},
		)

		g.Go(func() error { return consumer.Run(gctx) })
		g.Go(func() error { return h.Serve(gctx, config.HubAddr()) })
	}

	httpHandlers.RegisterOps(app, prometheus.DefaultGatherer, probes...)
	httpHandlers.Register(app, svcs.Readings, svcs.Consumption)

	g.Go(func() error {
		log.Info().Str("addr", config.APIAddr()).Msg("api listening")
		return app.Listen(config.APIAddr())
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.Shutdown()
	})

	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server exit")
	}
	log.Info().Msg("api stopped")
}
