package archive

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/cenkalti/backoff/v4"

	"github.com/baderkha/access-transfer/pkg/migrate"
)

const DefaultMaxRetry = 3

// S3 : puts snapshots into a bucket under Prefix
type S3 struct {
	Client   s3iface.S3API
	Bucket   string
	Prefix   string
	MaxRetry int
	// BackOff between attempts, exponential when nil
	BackOff func() backoff.BackOff
	now     func() time.Time
}

var _ migrate.Archiver = (*S3)(nil)

func NewS3(client s3iface.S3API, bucket string, prefix string) *S3 {
	return &S3{Client: client, Bucket: bucket, Prefix: prefix, MaxRetry: DefaultMaxRetry, now: time.Now}
}

func (a *S3) Archive(ctx context.Context, snap migrate.Snapshot) error {
	body, err := encode(snap)
	if err != nil {
		return err
	}
	key := Key(a.Prefix, snap, a.now())
	return a.upload(ctx, body, key)
}

func (a *S3) upload(ctx context.Context, body []byte, key string) error {
	var (
		attempts int
		b        backoff.BackOff
	)
	if a.BackOff != nil {
		b = a.BackOff()
	} else {
		b = backoff.NewExponentialBackOff()
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(a.MaxRetry)), ctx)
	err := backoff.Retry(func() error {
		attempts++
		_, err := a.Client.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Body:        bytes.NewReader(body),
			Bucket:      aws.String(a.Bucket),
			Key:         aws.String(key),
			ContentType: aws.String("application/json"),
		})
		return err
	}, b)
	if err != nil {
		return fmt.Errorf("attempted uploading key (%s) %d times with no success : original_err=%w", key, attempts, err)
	}
	return nil
}
