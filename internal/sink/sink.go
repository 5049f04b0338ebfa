// Package sink delivers finished archives to their destination.
package sink

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/iconidentify/likevault/internal/config"
)

// Sink consumes a finished archive.
type Sink interface {
	// Deliver stores data under name and returns where it landed.
	Deliver(ctx context.Context, name string, data []byte) (string, error)
}

// NewFromConfig builds the sink selected by cfg.Destination.
func NewFromConfig(ctx context.Context, cfg config.ExportConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Destination {
	case config.DestinationDir, "":
		return NewDirSink(cfg.Dir, logger), nil
	case config.DestinationS3:
		return NewS3Sink(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unknown export destination %q", cfg.Destination)
	}
}
