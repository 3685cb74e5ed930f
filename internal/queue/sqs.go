package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/alfredjeanlab/zapline/internal/model"
)

// SQSAPI is the subset of *sqs.Client the queue uses.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSConfig locates the queues. QueueURLs holds one queue per shard.
type SQSConfig struct {
	Region          string
	Endpoint        string // e.g. an ElasticMQ or LocalStack URL
	QueueURLs       []string
	WaitTimeSeconds int32
}

// NewSQSClient builds an *sqs.Client. A custom Endpoint uses static dummy
// credentials for local development.
func NewSQSClient(ctx context.Context, cfg SQSConfig) (*sqs.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	var clientOpts []func(*sqs.Options)
	if cfg.Endpoint != "" {
		loadOpts = append(loadOpts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("dummy", "dummy", "")))
		clientOpts = append(clientOpts, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg, clientOpts...), nil
}

// maxSQSDelay is the largest DelaySeconds SQS accepts.
const maxSQSDelay = 15 * time.Minute

// SQSQueue stores each shard in its own SQS queue.
type SQSQueue struct {
	client    SQSAPI
	queueURLs []string
	wait      int32
	now       func() time.Time
}

// NewSQSQueue wraps client. The shard count is len(cfg.QueueURLs).
func NewSQSQueue(client SQSAPI, cfg SQSConfig) (*SQSQueue, error) {
	if len(cfg.QueueURLs) == 0 {
		return nil, ValidateShard(0, 0)
	}
	return &SQSQueue{client: client, queueURLs: cfg.QueueURLs, wait: cfg.WaitTimeSeconds, now: time.Now}, nil
}

func (q *SQSQueue) Enqueue(ctx context.Context, job model.ReplyJob) error {
	return q.send(ctx, ShardOf(job.GameID, len(q.queueURLs)), job)
}

// send delays delivery until the job is ready. Waits longer than SQS allows
// are finished by Dequeue re-sending the job.
func (q *SQSQueue) send(ctx context.Context, shard int, job model.ReplyJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshaling job: %w", err)
	}
	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(q.queueURLs[shard]),
		MessageBody:  aws.String(string(body)),
		DelaySeconds: delaySeconds(untilReady(job, q.now())),
	})
	if err != nil {
		return fmt.Errorf("sending job %s to SQS: %w", job.ID, err)
	}
	return nil
}

func (q *SQSQueue) Dequeue(ctx context.Context, shardID, totalShards int) (*Delivery, error) {
	if err := ValidateShard(shardID, totalShards); err != nil {
		return nil, err
	}
	if totalShards != len(q.queueURLs) {
		return nil, ValidateShard(shardID, len(q.queueURLs))
	}
	url := q.queueURLs[shardID]
	out, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(url),
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     q.wait,
	})
	if err != nil {
		return nil, fmt.Errorf("receiving from %s: %w", url, err)
	}
	if out == nil || len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]
	receipt := aws.ToString(msg.ReceiptHandle)
	del := func(ctx context.Context) error {
		_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(url),
			ReceiptHandle: aws.String(receipt),
		})
		if err != nil {
			return fmt.Errorf("deleting message from %s: %w", url, err)
		}
		return nil
	}

	var job model.ReplyJob
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &job); err != nil {
		_ = del(ctx)
		return nil, fmt.Errorf("decoding job from %s: %w", url, err)
	}
	if !job.ReadyAt(q.now()) {
		if err := q.send(ctx, shardID, job); err != nil {
			return nil, err
		}
		return nil, del(ctx)
	}
	return NewDelivery(job, del, func(ctx context.Context, reason string, delay time.Duration) error {
		if err := q.send(ctx, shardID, retried(job, reason, q.now(), delay)); err != nil {
			// Leave the original to reappear after its visibility timeout.
			return err
		}
		return del(ctx)
	}), nil
}

func (q *SQSQueue) Close() error { return nil }

func delaySeconds(d time.Duration) int32 {
	if d <= 0 {
		return 0
	}
	if d > maxSQSDelay {
		d = maxSQSDelay
	}
	return int32(math.Ceil(d.Seconds()))
}
