// Package evidence stores the screenshot taken at the end of a probe run.
package evidence

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// Artifact is an optional screenshot payload.
type Artifact struct {
	data []byte
}

// NewArtifact wraps screenshot bytes. Empty data yields an absent artifact.
func NewArtifact(data []byte) Artifact {
	return Artifact{data: data}
}

// Present reports whether the artifact carries a screenshot.
func (a Artifact) Present() bool {
	return len(a.data) > 0
}

// Bytes returns the screenshot bytes, or nil when absent.
func (a Artifact) Bytes() []byte {
	return a.data
}

// Store keeps the screenshot of the latest run at a single well-known path.
type Store struct {
	Path string
}

// Clear removes the screenshot left by a previous run. A missing file is not an error.
func (s Store) Clear() error {
	err := os.Remove(s.Path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale screenshot %q: %w", s.Path, err)
	}
	return nil
}

// Save overwrites the screenshot file.
func (s Store) Save(data []byte) error {
	if err := os.WriteFile(s.Path, data, 0o644); err != nil {
		return fmt.Errorf("writing screenshot %q: %w", s.Path, err)
	}
	return nil
}

// Shooter takes a screenshot of the current page.
type Shooter interface {
	Screenshot(ctx context.Context) ([]byte, error)
}

// Capture takes one screenshot and saves it. The returned artifact is absent
// when no screenshot could be taken; a failed save is logged and the bytes
// are still returned. Failures never fail the run.
func Capture(ctx context.Context, shooter Shooter, store Store, logger *slog.Logger) Artifact {
	if logger == nil {
		logger = slog.Default()
	}
	data, err := shooter.Screenshot(ctx)
	if err != nil {
		logger.Warn("taking browser screenshot", "error", err)
		return Artifact{}
	}
	if len(data) == 0 {
		logger.Warn("browser returned an empty screenshot")
		return Artifact{}
	}
	if err := store.Save(data); err != nil {
		logger.Warn("saving screenshot", "error", err)
	} else {
		logger.Debug("screenshot saved", "path", store.Path, "bytes", len(data))
	}
	return NewArtifact(data)
}
