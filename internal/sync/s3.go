package sync

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// SnapshotObject is the object name written under the configured prefix.
const SnapshotObject = "ledger.jsonl"

// S3API is the subset of the S3 client the destination uses.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Destination writes JSONL snapshots to an S3-compatible bucket.
type S3Destination struct {
	client S3API
	bucket string
	key    string
}

// NewS3Destination creates an S3 destination writing <prefix>/ledger.jsonl.
// If endpoint is non-empty, path-style addressing is enabled (for MinIO and
// similar).
func NewS3Destination(ctx context.Context, bucket, prefix, region, endpoint string) (*S3Destination, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
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
	return NewS3DestinationWithClient(s3.NewFromConfig(cfg, s3opts...), bucket, prefix), nil
}

// NewS3DestinationWithClient wraps an existing client.
func NewS3DestinationWithClient(client S3API, bucket, prefix string) *S3Destination {
	return &S3Destination{
		client: client,
		bucket: bucket,
		key:    path.Join(prefix, SnapshotObject),
	}
}

// Key is the object key snapshots are written to.
func (d *S3Destination) Key() string { return d.key }

// Write uploads data to S3 as the configured object key.
func (d *S3Destination) Write(ctx context.Context, data []byte) error {
	_, err := d.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(d.bucket),
		Key:         aws.String(d.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return fmt.Errorf("s3 put object: %w", err)
	}
	return nil
}
