package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/wildfs/wildfs/internal/storage"
	"github.com/wildfs/wildfs/pkg/types"
)

// API is the subset of *s3.Client the backend uses.
type API interface {
	HeadBucket(ctx context.Context, in *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// NewClient builds an SDK client from the default AWS configuration chain,
// overridden by the fields of cfg.
func NewClient(ctx context.Context, cfg Config) (*s3.Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.ForcePathStyle
	}), nil
}

// Constructor builds S3 backends for the storage registry. newAPI defaults to
// NewClient; tests substitute a fake.
func Constructor(logger *slog.Logger, newAPI func(context.Context, Config) (API, error)) storage.Constructor {
	if newAPI == nil {
		newAPI = func(ctx context.Context, cfg Config) (API, error) {
			return NewClient(ctx, cfg)
		}
	}
	return func(ctx context.Context, s types.Storage) (types.Backend, error) {
		cfg, err := ParseConfig(s.Config)
		if err != nil {
			return nil, err
		}
		api, err := newAPI(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b := New(api, cfg, logger)
		if err := b.HealthCheck(ctx); err != nil {
			return nil, err
		}
		return b, nil
	}
}

func apiErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func httpStatus(err error) int {
	var re interface{ HTTPStatusCode() int }
	if stderrors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func isNoSuchKey(err error) bool {
	var nsk *s3types.NoSuchKey
	if stderrors.As(err, &nsk) {
		return true
	}
	switch apiErrorCode(err) {
	case "NoSuchKey", "NotFound":
		return true
	}
	return false
}

func isPreconditionFailed(err error) bool {
	return apiErrorCode(err) == "PreconditionFailed" || httpStatus(err) == http.StatusPreconditionFailed
}

func isInvalidRange(err error) bool {
	return apiErrorCode(err) == "InvalidRange" || httpStatus(err) == http.StatusRequestedRangeNotSatisfiable
}

// isTransient reports SDK errors worth retrying: throttling and server faults.
func isTransient(err error) bool {
	switch apiErrorCode(err) {
	case "SlowDown", "Throttling", "ThrottlingException", "RequestTimeout",
		"InternalError", "ServiceUnavailable":
		return true
	}
	return httpStatus(err) >= http.StatusInternalServerError
}
