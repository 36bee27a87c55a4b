package gcs

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// New opens a storage client and checks the bucket is reachable.
func New(ctx context.Context, bucket, credentialsFile string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if _, err := client.Bucket(bucket).Attrs(pingCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("gcs bucket %q check failed: %w", bucket, err)
	}
	return client, nil
}
