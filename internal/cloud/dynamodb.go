package cloud

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/cenkalti/backoff/v5"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

const (
	// DynamoDB caps BatchWriteItem at 25 requests
	batchWriteLimit  = 25
	unprocessedTries = 3
)

type DynamoBatchAPI interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// DynamoReadingWriter mirrors flushed readings into a table keyed by
// panelId and readingTime. Rewriting an existing key overwrites it.
type DynamoReadingWriter struct {
	svc   DynamoBatchAPI
	table string
	retry time.Duration
}

func NewDynamoReadingWriter(cfg aws.Config, table string) *DynamoReadingWriter {
	return NewDynamoReadingWriterWithAPI(dynamodb.NewFromConfig(cfg), table)
}

func NewDynamoReadingWriterWithAPI(svc DynamoBatchAPI, table string) *DynamoReadingWriter {
	return &DynamoReadingWriter{svc: svc, table: table, retry: 100 * time.Millisecond}
}

type dynamoReading struct {
	PanelID     int64   `dynamodbav:"panelId"`
	ReadingTime int64   `dynamodbav:"readingTime"`
	Timestamp   string  `dynamodbav:"timestamp"`
	Value       float64 `dynamodbav:"value"`
}

func (w *DynamoReadingWriter) InsertReadings(ctx context.Context, readings []domain.PanelReading) error {
	for start := 0; start < len(readings); start += batchWriteLimit {
		end := min(start+batchWriteLimit, len(readings))
		requests := make([]types.WriteRequest, 0, end-start)
		for _, r := range readings[start:end] {
			item, err := attributevalue.MarshalMap(dynamoReading{
				PanelID:     r.PanelID,
				ReadingTime: r.ReadingTime.UnixMilli(),
				Timestamp:   r.ReadingTime.UTC().Format(time.RFC3339),
				Value:       r.Value,
			})
			if err != nil {
				return fmt.Errorf("failed to marshal reading: %w", err)
			}
			requests = append(requests, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
		}
		if err := w.write(ctx, requests); err != nil {
			return err
		}
	}
	return nil
}

func (w *DynamoReadingWriter) write(ctx context.Context, requests []types.WriteRequest) error {
	pending := map[string][]types.WriteRequest{w.table: requests}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.retry

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		out, err := w.svc.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: pending})
		if err != nil {
			return struct{}{}, backoff.Permanent(fmt.Errorf("failed to batch write readings: %w", err))
		}
		if left := len(out.UnprocessedItems[w.table]); left > 0 {
			pending = out.UnprocessedItems
			return struct{}{}, fmt.Errorf("%d readings left unprocessed", left)
		}
		return struct{}{}, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(unprocessedTries))
	return err
}
