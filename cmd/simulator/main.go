package main

import (
	"context"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/config"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/logger"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/mqtt"
)

func main() {
	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logger.Setup(config.LogLevel(), config.LogFormat(), "simulator")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := paho.NewClientOptions().
		AddBroker(config.MQTTBroker()).
		SetClientID(config.MQTTClientID() + "-sim").
		SetUsername(config.MQTTUsername()).
		SetPassword(config.MQTTPassword())
	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		log.Fatal().Err(token.Error()).Msg("mqtt connect")
	}
	defer client.Disconnect(250)

	gateways := config.SimGateways()
	sensors := config.SimSensors()
	count := config.SimCount()
	ticker := time.NewTicker(config.SimInterval())
	defer ticker.Stop()

	log.Info().Strs("gateways", gateways).Int("sensors", sensors).Msg("simulation started")
	for i := 0; count <= 0 || i < count; i++ {
		now := time.Now()
		for _, gw := range gateways {
			payload, err := mqtt.EncodeReport(now, samples(sensors))
			if err != nil {
				log.Fatal().Err(err).Msg("encode report")
			}
			token := client.Publish(mqtt.ReportTopic(gw), config.MQTTQoS(), false, payload)
			if token.Wait() && token.Error() != nil {
				log.Error().Err(token.Error()).Str("gateway_id", gw).Msg("publish failed")
			}
		}
		select {
		case <-ctx.Done():
			log.Info().Int("rounds", i+1).Msg("simulation interrupted")
			return
		case <-ticker.C:
		}
	}
	log.Info().Msg("simulation done")
}

func samples(n int) []domain.SensorSample {
	out := make([]domain.SensorSample, n)
	for i := range out {
		out[i] = domain.SensorSample{Value: 20 + rand.Float64()*10, Active: rand.Intn(10) > 0}
	}
	return out
}
