package weaviate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	wv "github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/auth"
)

func New(ctx context.Context, host, scheme, apiKey string) (*wv.Client, error) {
	host = strings.TrimSpace(host)
	switch {
	case strings.HasPrefix(host, "https://"):
		scheme, host = "https", strings.TrimPrefix(host, "https://")
	case strings.HasPrefix(host, "http://"):
		scheme, host = "http", strings.TrimPrefix(host, "http://")
	}
	if scheme == "" {
		scheme = "http"
	}

	cfg := wv.Config{Host: host, Scheme: scheme}
	if apiKey != "" {
		cfg.AuthConfig = auth.ApiKey{Value: apiKey}
	}
	client, err := wv.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	ready, err := client.Misc().ReadyChecker().Do(pingCtx)
	if err != nil {
		return nil, fmt.Errorf("weaviate ready check failed: %w", err)
	}
	if !ready {
		return nil, errors.New("weaviate is not ready")
	}
	return client, nil
}
