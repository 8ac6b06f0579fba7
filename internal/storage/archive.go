// Package storage selects the record archive backend from configuration.
package storage

import (
	"context"
	"fmt"
	"strings"

	gcsclient "cloud.google.com/go/storage"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/storage/gcs"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/storage/local"
	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/storage/memory"
)

// Provider names accepted by Open.
const (
	ProviderNone   = "none"
	ProviderLocal  = "local"
	ProviderGCS    = "gcs"
	ProviderMemory = "memory"
)

// Config selects and configures an archive backend.
type Config struct {
	Provider  string
	BaseDir   string
	GCSBucket string
}

// Open returns the configured archive and a close function. For "none" the
// archive is nil.
func Open(ctx context.Context, cfg Config) (kickstarter.RecordArchive, func() error, error) {
	noop := func() error { return nil }
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", ProviderNone:
		return nil, noop, nil
	case ProviderMemory:
		return memory.NewArchive(), noop, nil
	case ProviderLocal:
		archive, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, noop, fmt.Errorf("open local archive: %w", err)
		}
		return archive, noop, nil
	case ProviderGCS:
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, noop, fmt.Errorf("create gcs client: %w", err)
		}
		archive, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			_ = client.Close()
			return nil, noop, fmt.Errorf("open gcs archive: %w", err)
		}
		return archive, client.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown archive provider %q", cfg.Provider)
	}
}
