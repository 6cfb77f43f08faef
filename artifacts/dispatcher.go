package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ruteri/artifact-repository/interfaces"
)

// DbfsBackend serves dbfs: URIs. It probes the mount once when constructed
// and binds to either the mounted backend or the fallback for its whole
// lifetime.
type DbfsBackend struct {
	delegate interfaces.ArtifactRepository
	mounted  bool
	log      *slog.Logger
}

// NewDbfsBackend runs probe and binds the resulting delegate. mounted is
// only called when the probe succeeds and fallback only when it fails. A
// probe failure is logged, never returned; errors come from constructing
// the chosen delegate.
func NewDbfsBackend(ctx context.Context, probe Probe, mounted, fallback func() (interfaces.ArtifactRepository, error), logger *slog.Logger) (*DbfsBackend, error) {
	if logger == nil {
		logger = slog.Default()
	}

	start := time.Now()
	var probeErr error
	if probe == nil {
		probeErr = fmt.Errorf("%w: no probe configured", interfaces.ErrBackendUnavailable)
	} else {
		probeErr = probe(ctx)
	}

	build := mounted
	if probeErr != nil {
		logger.Debug("Distributed filesystem mount unavailable, using fallback backend",
			slog.Duration("duration", time.Since(start)),
			"err", probeErr)
		build = fallback
	}

	delegate, err := build()
	if err != nil {
		return nil, fmt.Errorf("failed to create dbfs delegate backend: %w", err)
	}

	logger.Debug("Bound dbfs artifact repository",
		slog.String("backend_name", delegate.Name()),
		slog.Bool("mounted", probeErr == nil))

	return &DbfsBackend{
		delegate: delegate,
		mounted:  probeErr == nil,
		log:      logger,
	}, nil
}

// Delegate returns the bound backend.
func (d *DbfsBackend) Delegate() interfaces.ArtifactRepository {
	return d.delegate
}

// Mounted reports whether the probe succeeded.
func (d *DbfsBackend) Mounted() bool {
	return d.mounted
}

func (d *DbfsBackend) LogArtifact(ctx context.Context, localFile, artifactPath string) error {
	return d.delegate.LogArtifact(ctx, localFile, artifactPath)
}

func (d *DbfsBackend) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	return d.delegate.LogArtifacts(ctx, localDir, artifactPath)
}

func (d *DbfsBackend) ListArtifacts(ctx context.Context, artifactPath string) ([]interfaces.FileInfo, error) {
	return d.delegate.ListArtifacts(ctx, artifactPath)
}

func (d *DbfsBackend) DownloadArtifacts(ctx context.Context, artifactPath string) (string, error) {
	return d.delegate.DownloadArtifacts(ctx, artifactPath)
}

// Name returns the name of this backend
func (d *DbfsBackend) Name() string {
	return "dbfs[" + d.delegate.Name() + "]"
}

// ArtifactURI returns the URI of the bound delegate
func (d *DbfsBackend) ArtifactURI() string {
	return d.delegate.ArtifactURI()
}
