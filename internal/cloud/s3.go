package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/ANIKETSHETTY47/panel-telemetry/internal/domain"
)

// S3PutAPI is the subset of the S3 client the archiver needs.
type S3PutAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes each flushed batch as one JSON object.
type S3Archiver struct {
	svc    S3PutAPI
	bucket string
}

func NewS3Archiver(cfg aws.Config, bucket string) *S3Archiver {
	return NewS3ArchiverWithAPI(s3.NewFromConfig(cfg), bucket)
}

func NewS3ArchiverWithAPI(svc S3PutAPI, bucket string) *S3Archiver {
	return &S3Archiver{svc: svc, bucket: bucket}
}

type archivedBatch struct {
	FlushedAt time.Time             `json:"flushedAt"`
	Readings  []domain.PanelReading `json:"readings"`
}

// ArchiveKey is readings/YYYY/MM/DD/HHMM.json in UTC.
func ArchiveKey(flushedAt time.Time) string {
	return "readings/" + flushedAt.UTC().Format("2006/01/02/1504") + ".json"
}

func (a *S3Archiver) ArchiveReadings(ctx context.Context, flushedAt time.Time, readings []domain.PanelReading) error {
	if len(readings) == 0 {
		return nil
	}
	body, err := json.Marshal(archivedBatch{FlushedAt: flushedAt.UTC(), Readings: readings})
	if err != nil {
		return fmt.Errorf("encode archive batch: %w", err)
	}

	key := ArchiveKey(flushedAt)
	_, err = a.svc.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"reading-count": strconv.Itoa(len(readings)),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", key, err)
	}
	return nil
}
