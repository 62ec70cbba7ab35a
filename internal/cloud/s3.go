// Package cloud forwards bus traffic to an off-gateway destination so
// fleet tooling can see telemetry without reaching into each device.
package cloud

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// Destination receives NDJSON payloads for one stream.
type Destination interface {
	Write(ctx context.Context, stream string, data []byte) error
}

// S3Destination writes NDJSON objects to an S3-compatible bucket under
// date-partitioned keys.
type S3Destination struct {
	client *s3.Client
	bucket string
	prefix string

	now func() time.Time
}

// NewS3Destination creates an S3 destination. If endpoint is non-empty,
// path-style addressing is enabled (for MinIO and similar).
func NewS3Destination(ctx context.Context, bucket, prefix, region, endpoint string) (*S3Destination, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var s3opts []func(*s3.Options)
	if endpoint != "" {
		s3opts = append(s3opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		})
	}

	return &S3Destination{
		client: s3.NewFromConfig(cfg, s3opts...),
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// Write uploads data under a fresh date-partitioned key for stream.
func (d *S3Destination) Write(ctx context.Context, stream string, data []byte) error {
	contentType := "application/x-ndjson"
	key := d.objectKey(stream)
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
	})
	if err != nil {
		return fmt.Errorf("s3 put object %s: %w", key, err)
	}
	return nil
}

// objectKey partitions by stream and UTC date:
// <prefix>/<stream>/2006/01/02/<uuid>.ndjson
func (d *S3Destination) objectKey(stream string) string {
	day := d.now().UTC().Format("2006/01/02")
	name := fmt.Sprintf("%s/%s/%s.ndjson", stream, day, uuid.New().String())
	if d.prefix == "" {
		return name
	}
	return d.prefix + "/" + name
}
