package tilestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"tilevault/internal/circuitbreaker"
	appconfig "tilevault/internal/config"
	"tilevault/internal/metrics"
)

// S3Sink implements Sink for S3-compatible storage
type S3Sink struct {
	client         *s3.Client
	bucket         string
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	writeTimeout   time.Duration
	maxRetries     int
	retryDelay     time.Duration
}

// NewS3Sink creates a new S3-compatible tile sink
func NewS3Sink(ctx context.Context, cfg *appconfig.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) (*S3Sink, error) {
	region := cfg.S3Region
	if region == "" {
		// Reasonable default; works for MinIO and AWS if caller doesn't care.
		region = "us-east-1"
	}

	cfgOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	// Static credentials (typical for MinIO and many S3-compatible providers)
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKeyID,
				cfg.S3SecretAccessKey,
				"",
			),
		))
	}

	// Custom endpoint (MinIO, Wasabi, etc.)
	if cfg.S3Endpoint != "" {
		endpoint := cfg.S3Endpoint
		cfgOpts = append(cfgOpts, config.WithEndpointResolverWithOptions(
			aws.EndpointResolverWithOptionsFunc(
				func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
					if service == s3.ServiceID {
						return aws.Endpoint{
							URL:               endpoint,
							HostnameImmutable: true, // don't rewrite host when using a custom endpoint
						}, nil
					}
					return aws.Endpoint{}, &aws.EndpointNotFoundError{}
				},
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, err
	}

	usePathStyle := cfg.S3UsePathStyle

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = usePathStyle
	})

	return &S3Sink{
		client:         client,
		bucket:         cfg.S3Bucket,
		circuitBreaker: cb,
		metrics:        m,
		writeTimeout:   cfg.TileFetchTimeout,
		maxRetries:     cfg.TileMaxRetries,
		retryDelay:     cfg.TileRetryDelay,
	}, nil
}

// PutObject stores a tile under <packID>/<key>
func (s *S3Sink) PutObject(ctx context.Context, packID, key string, body []byte) error {
	start := time.Now()
	resultLabel := "error"
	defer func() {
		s.metrics.TileWriteDuration.WithLabelValues("s3", resultLabel).Observe(time.Since(start).Seconds())
	}()

	objectKey := packID + "/" + key

	_, err := s.circuitBreaker.Execute(func() (interface{}, error) {
		// Retry loop with exponential backoff
		var lastErr error
		for attempt := 0; attempt <= s.maxRetries; attempt++ {
			if attempt > 0 {
				delay := s.retryDelay * time.Duration(1<<(attempt-1))
				time.Sleep(delay)
			}

			putCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			_, err := s.client.PutObject(putCtx, &s3.PutObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    aws.String(objectKey),
				Body:   bytes.NewReader(body),
			})
			cancel()

			if err == nil {
				return nil, nil
			}
			lastErr = err

			if !isRetryableError(err) || attempt == s.maxRetries {
				break
			}
		}
		return nil, lastErr
	})
	if err != nil {
		return err
	}

	resultLabel = "success"
	return nil
}

// DeletePrefix removes every object under the pack's prefix
func (s *S3Sink) DeletePrefix(ctx context.Context, packID string) error {
	prefix := packID + "/"
	var continuation *string

	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuation,
		})
		if err != nil {
			return fmt.Errorf("list pack objects: %w", err)
		}
		if len(out.Contents) == 0 {
			return nil
		}

		objects := make([]types.ObjectIdentifier, 0, len(out.Contents))
		for _, obj := range out.Contents {
			objects = append(objects, types.ObjectIdentifier{Key: obj.Key})
		}

		_, err = s.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(s.bucket),
			Delete: &types.Delete{Objects: objects},
		})
		if err != nil {
			return fmt.Errorf("delete pack objects: %w", err)
		}

		if out.IsTruncated == nil || !*out.IsTruncated {
			return nil
		}
		continuation = out.NextContinuationToken
	}
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for context errors (timeout/cancellation)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Access problems fail fast; throttling and transient network
	// errors retry.
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDenied", "NoSuchBucket", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return false
		}
	}
	return true
}

// HealthCheck performs a lightweight connectivity check to S3
func (s *S3Sink) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := s.client.ListBuckets(checkCtx, &s3.ListBucketsInput{})
	if err != nil {
		return fmt.Errorf("s3 connectivity check failed: %w", err)
	}
	return nil
}

// Type names the backend
func (s *S3Sink) Type() string {
	return "s3"
}
