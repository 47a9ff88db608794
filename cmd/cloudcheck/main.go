// Command cloudcheck pushes one synthetic flush through the AWS sinks to
// verify credentials, bucket, table and topic before enabling them.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/cloud"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/config"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
	"github.com/ANIKETSHETTY47/panel-telemetry/internal/logger"
)

func main() {
	panelID := flag.Int64("panel", 1, "panel id to write the sample reading under")
	alert := flag.Bool("alert", false, "also publish a test alert")
	flag.Parse()

	if err := config.Load(); err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	logger.Setup(config.LogLevel(), "console", "cloudcheck")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cfg, err := cloud.LoadConfig(ctx, config.AWSRegion())
	if err != nil {
		log.Fatal().Err(err).Msg("aws config failed")
	}

	now := time.Now().Truncate(time.Second)
	batch := []domain.PanelReading{{PanelID: *panelID, ReadingTime: now, Value: 0}}

	if err := cloud.NewS3Archiver(cfg, config.S3Bucket()).ArchiveReadings(ctx, now, batch); err != nil {
		log.Fatal().Err(err).Str("bucket", config.S3Bucket()).Msg("s3 archive failed")
	}
	log.Info().Str("bucket", config.S3Bucket()).Str("key", cloud.ArchiveKey(now)).Msg("s3 ok")

	if err := cloud.NewDynamoReadingWriter(cfg, config.DynamoDBTable()).InsertReadings(ctx, batch); err != nil {
		log.Fatal().Err(err).Str("table", config.DynamoDBTable()).Msg("dynamodb write failed")
	}
	log.Info().Str("table", config.DynamoDBTable()).Msg("dynamodb ok")

	if *alert {
		if config.SNSTopicArn() == "" {
			log.Fatal().Msg("AWS_SNS_TOPIC_ARN not set")
		}
		if err := cloud.NewSNSNotifier(cfg, config.SNSTopicArn()).SendAlert("cloudcheck", "test alert from cloudcheck"); err != nil {
			log.Fatal().Err(err).Msg("sns publish failed")
		}
		log.Info().Msg("sns ok")
	}
}
