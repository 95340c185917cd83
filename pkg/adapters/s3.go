// Package adapters provides reference External Action Adapter
// implementations satisfying executor.Adapter (spec.md §6's
// `execute(action_record) -> {ok, data|error, retryable}` contract).
// These are the out-of-the-box adapters a deployment can wire directly
// or use as a template for its own; Grace's core never imports a
// specific cloud SDK outside this package.
package adapters

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/executor"
)

// S3Adapter dispatches actions of type "s3.put_object", "s3.get_object"
// and "s3.delete_object" against a single bucket, the reference
// storage-side adapter spec.md §6 expects a deployment to supply.
type S3Adapter struct {
	client *s3.Client
	bucket string
}

// NewS3Adapter loads the default AWS config chain (env vars, shared
// config, IMDS) and targets bucket.
func NewS3Adapter(ctx context.Context, bucket string, optFns ...func(*awsconfig.LoadOptions) error) (*S3Adapter, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("adapters: load aws config: %w", err)
	}
	return &S3Adapter{client: s3.NewFromConfig(cfg), bucket: bucket}, nil
}

func (a *S3Adapter) Execute(ctx context.Context, action contracts.ActionRecord) (executor.AdapterResult, error) {
	key := action.Target
	if key == "" {
		return executor.AdapterResult{OK: false, Error: "adapters: s3 action missing target key", Retryable: false}, nil
	}

	switch action.Type {
	case "s3.put_object":
		body, _ := action.Parameters["body"].(string)
		_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
			Body:   bytes.NewReader([]byte(body)),
		})
		if err != nil {
			return executor.AdapterResult{OK: false, Error: err.Error(), Retryable: retryableS3(err)}, nil
		}
		return executor.AdapterResult{OK: true, Data: map[string]any{"bucket": a.bucket, "key": key}}, nil

	case "s3.get_object":
		out, err := a.client.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
		if err != nil {
			return executor.AdapterResult{OK: false, Error: err.Error(), Retryable: retryableS3(err)}, nil
		}
		defer func() { _ = out.Body.Close() }()
		data, err := io.ReadAll(out.Body)
		if err != nil {
			return executor.AdapterResult{OK: false, Error: err.Error(), Retryable: true}, nil
		}
		return executor.AdapterResult{OK: true, Data: map[string]any{"bucket": a.bucket, "key": key, "body": string(data)}}, nil

	case "s3.delete_object":
		_, err := a.client.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(a.bucket), Key: aws.String(key)})
		if err != nil {
			return executor.AdapterResult{OK: false, Error: err.Error(), Retryable: retryableS3(err)}, nil
		}
		return executor.AdapterResult{OK: true, Data: map[string]any{"bucket": a.bucket, "key": key, "deleted": true}}, nil

	default:
		return executor.AdapterResult{OK: false, Error: fmt.Sprintf("adapters: unsupported s3 action %q", action.Type), Retryable: false}, nil
	}
}

// retryableS3 treats a missing object as a permanent failure; anything
// else (throttling, transient network errors, 5xx) is assumed
// retryable, matching spec.md §4.6's default-to-retryable stance for
// adapter errors it cannot classify.
func retryableS3(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return false
	}
	return true
}
