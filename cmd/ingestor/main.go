package main

import (
	"context"
	"errors"
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
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/cloud"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/config"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/database"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	httpHandlers "github.com/ANIKETSHETTY47/panel-telemetry/internal/http"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/hub"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/ingest"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/lastvalue"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/logger"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/metrics"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/mqtt"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/panelcache"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/persist"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/queue"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/relay"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/repository"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logger.Setup(config.LogLevel(), config.LogFormat(), "ingestor")
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

	cacheOpts := panelcache.Options{
		Attempts:   config.PanelCacheAttempts(),
		RetryDelay: config.PanelCacheRetryDelay(),
	}
	schedOpts := persist.Options{
		Interval:          config.FlushInterval(),
		Horizon:           config.StalenessHorizon(),
		FinalFlushTimeout: config.FinalFlushTimeout(),
		AlignToMinute:     true,
	}
	if config.UseCloudServices() {
		cfg, err := cloud.LoadConfig(ctx, config.AWSRegion())
		if err != nil {
			log.Fatal().Err(err).Msg("aws config failed")
		}
		schedOpts.Archiver = cloud.NewS3Archiver(cfg, config.S3Bucket())
		schedOpts.Mirrors = append(schedOpts.Mirrors, cloud.NewDynamoReadingWriter(cfg, config.DynamoDBTable()))
		if arn := config.SNSTopicArn(); arn != "" {
			cacheOpts.Alerter = cloud.NewSNSNotifier(cfg, arn)
		}
		log.Info().Str("region", config.AWSRegion()).Msg("cloud services enabled")
	}

	cache := panelcache.New(repos, cacheOpts, logger.Component("panelcache"))
	table := lastvalue.New()
	reports := queue.New[domain.GatewayReport]()

	g, gctx := errgroup.WithContext(ctx)

	var (
		broadcaster   ingest.Broadcaster
		onPanelChange httpHandlers.PanelChangeFunc
	)
	if config.RelayEnabled() {
		rdb := redis.NewClient(&redis.Options{
			Addr:                  config.RedisAddr(),
			Password:              config.RedisPassword(),
			DB:                    config.RedisDB(),
			ContextTimeoutEnabled: true,
		})
		defer rdb.Close()

		streams := relay.Streams{SensorData: config.RelaySensorStream(), PanelChange: config.RelayPanelStream()}
		publisher := relay.NewPublisher(rdb, streams, logger.Component("relay"))
		broadcaster = publisher
		g.Go(func() error { return publisher.Run(gctx) })
		onPanelChange = func(ctx context.Context, change domain.PanelChange) error {
			cache.Apply(change)
			return publisher.PublishPanelChange(ctx, change)
		}

		consumer := relay.NewConsumer(rdb, relay.ConsumerOptions{Streams: streams},
			relay.Handlers{PanelChange: cache.Apply}, logger.Component("relay"))
		g.Go(func() error { return consumer.Run(gctx) })
	} else {
		verifier, err := auth.FromSecret(config.JWTSecret())
		if err != nil {
			log.Fatal().Err(err).Msg("auth setup failed")
		}
		h := hub.New(hub.Options{Auth: verifier, Resolver: repos}, logger.Component("hub"))
		registry := broadcast.NewRegistry(h, logger.Component("broadcast"))
		h.SetRouter(registry)
		broadcaster = registry
		onPanelChange = func(_ context.Context, change domain.PanelChange) error {
			cache.Apply(change)
			registry.BroadcastPanelChange(change)
			return nil
		}
		g.Go(func() error { return h.Serve(gctx, config.HubAddr()) })
	}

	adapter := mqtt.NewAdapter(mqtt.Options{
		Broker:            config.MQTTBroker(),
		ClientID:          config.MQTTClientID(),
		Username:          config.MQTTUsername(),
		Password:          config.MQTTPassword(),
		ReportTopic:       config.MQTTTopic(),
		QoS:               config.MQTTQoS(),
		ReconnectInterval: config.MQTTReconnectInterval(),
		Location:          config.Location(),
	}, reports, logger.Component("mqtt"))
	worker := ingest.NewWorker(reports, cache, table, broadcaster, logger.Component("ingest"))
	drained := make(chan struct{})
	schedOpts.Drained = drained
	scheduler := persist.New(table, repos, schedOpts, logger.Component("persist"))

	// Resolution runs degraded until the cache loads; it never blocks ingestion.
	g.Go(func() error {
		if err := cache.Populate(gctx); err != nil {
			log.Error().Err(err).Msg("panel cache unavailable, readings will not resolve")
		}
		return nil
	})
	g.Go(func() error {
		err := adapter.Run(gctx)
		reports.Close()
		return err
	})
	g.Go(func() error {
		defer close(drained)
		return worker.Run(gctx)
	})
	g.Go(func() error { return scheduler.Run(gctx) })

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	httpHandlers.RegisterOps(app, prometheus.DefaultGatherer,
		httpHandlers.Probe{Name: "mqttConnected", Check: func() (any, bool) {
			ok := adapter.IsConnected()
			return ok, ok
		}},
		httpHandlers.Probe{Name: "panelCacheSize", Check: func() (any, bool) {
			return cache.Len(), cache.Loaded()
		}},
		httpHandlers.Probe{Name: "bufferedReadings", Check: func() (any, bool) {
			return table.Len(), true
		}},
	)
	httpHandlers.RegisterPanelAdmin(app, onPanelChange, cache)
	g.Go(func() error {
		log.Info().Str("addr", config.MetricsAddr()).Msg("admin listening")
		return app.Listen(config.MetricsAddr())
	})
	g.Go(func() error {
		<-gctx.Done()
		return app.Shutdown()
	})

	log.Info().Msg("ingestor running; Ctrl+C to stop")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("ingestor exited with error")
	}
	log.Info().Msg("ingestor stopped")
}
