package adapters

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/mindburn-labs/grace/pkg/contracts"
	"github.com/mindburn-labs/grace/pkg/executor"
)

// GCSAdapter dispatches "gcs.put_object" and "gcs.get_object" actions
// and doubles as the archival target for the Immutable Log's export
// path (see ledger.ExportToArchive). It is the reference evidence/audit
// sink spec.md §6 leaves for a deployment to wire.
type GCSAdapter struct {
	client *storage.Client
	bucket string
}

// NewGCSAdapter opens a client using application-default credentials
// and targets bucket.
func NewGCSAdapter(ctx context.Context, bucket string) (*GCSAdapter, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("adapters: open gcs client: %w", err)
	}
	return &GCSAdapter{client: client, bucket: bucket}, nil
}

func (a *GCSAdapter) Execute(ctx context.Context, action contracts.ActionRecord) (executor.AdapterResult, error) {
	object := action.Target
	if object == "" {
		return executor.AdapterResult{OK: false, Error: "adapters: gcs action missing target object", Retryable: false}, nil
	}

	switch action.Type {
	case "gcs.put_object":
		body, _ := action.Parameters["body"].(string)
		if err := a.putObject(ctx, object, []byte(body)); err != nil {
			return executor.AdapterResult{OK: false, Error: err.Error(), Retryable: true}, nil
		}
		return executor.AdapterResult{OK: true, Data: map[string]any{"bucket": a.bucket, "object": object}}, nil

	case "gcs.get_object":
		data, err := a.getObject(ctx, object)
		if err != nil {
			retryable := err != storage.ErrObjectNotExist
			return executor.AdapterResult{OK: false, Error: err.Error(), Retryable: retryable}, nil
		}
		return executor.AdapterResult{OK: true, Data: map[string]any{"bucket": a.bucket, "object": object, "body": string(data)}}, nil

	default:
		return executor.AdapterResult{OK: false, Error: fmt.Sprintf("adapters: unsupported gcs action %q", action.Type), Retryable: false}, nil
	}
}

func (a *GCSAdapter) putObject(ctx context.Context, object string, body []byte) error {
	w := a.client.Bucket(a.bucket).Object(object).NewWriter(ctx)
	if _, err := io.Copy(w, bytes.NewReader(body)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write %s/%s: %w", a.bucket, object, err)
	}
	return w.Close()
}

func (a *GCSAdapter) getObject(ctx context.Context, object string) ([]byte, error) {
	r, err := a.client.Bucket(a.bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", a.bucket, object, err)
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

// PutObject exposes the raw write path directly for callers that are
// not going through the Adapter/ActionRecord contract, such as the
// Immutable Log's export job.
func (a *GCSAdapter) PutObject(ctx context.Context, object string, body []byte) error {
	return a.putObject(ctx, object, body)
}

// Close releases the underlying GCS client.
func (a *GCSAdapter) Close() error { return a.client.Close() }
