package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
)

// ErrInsufficientSpace is returned when the target volume cannot hold the archive.
var ErrInsufficientSpace = errors.New("insufficient disk space")

// DirSink writes archives into a local directory.
type DirSink struct {
	dir    string
	logger *slog.Logger

	// freeSpace reports available bytes; 0 means unknown.
	freeSpace func(path string) int64
}

// NewDirSink creates a sink writing into dir, which is created on demand.
func NewDirSink(dir string, logger *slog.Logger) *DirSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirSink{dir: dir, logger: logger, freeSpace: getFreeDiskSpace}
}

// Deliver writes data to dir/name atomically.
func (s *DirSink) Deliver(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("invalid archive name %q", name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	if free := s.freeSpace(s.dir); free > 0 && free < int64(len(data)) {
		return "", fmt.Errorf("%w: need %s, have %s", ErrInsufficientSpace,
			humanize.Bytes(uint64(len(data))), humanize.Bytes(uint64(free)))
	}

	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fmt.Errorf("rename archive: %w", err)
	}

	s.logger.Info("archive written", "path", path, "size", humanize.Bytes(uint64(len(data))))
	return path, nil
}
