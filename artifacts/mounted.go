package artifacts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/ruteri/artifact-repository/interfaces"
	"github.com/spf13/afero"
)

// DefaultDbfsMountRoot is where the distributed filesystem is mounted on
// cluster nodes.
const DefaultDbfsMountRoot = "/dbfs"

// Probe reports whether a medium is usable in the current environment.
// Any non-nil error disqualifies the medium.
type Probe func(ctx context.Context) error

// ProbeMount checks that the root of a mounted filesystem resolves to a
// directory.
func ProbeMount(mount afero.Fs) Probe {
	return func(ctx context.Context) error {
		if mount == nil {
			return fmt.Errorf("%w: no filesystem mounted", interfaces.ErrBackendUnavailable)
		}
		info, err := mount.Stat("/")
		if err != nil {
			return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: mount root is not a directory", interfaces.ErrBackendUnavailable)
		}
		return nil
	}
}

// NewDbfsMount returns the OS filesystem rooted at mountRoot, so that
// dbfs:/a/b resolves to <mountRoot>/a/b.
func NewDbfsMount(mountRoot string) afero.Fs {
	return afero.NewBasePathFs(afero.NewOsFs(), mountRoot)
}

// MountedBackend implements interfaces.ArtifactRepository on top of a
// filesystem reachable through ordinary file calls: the distributed
// filesystem mount, or the local disk for file:// URIs.
type MountedBackend struct {
	fs          afero.Fs
	root        string
	log         *slog.Logger
	artifactURI string
}

// NewMountedBackend creates a backend storing artifacts below root inside fs.
func NewMountedBackend(fs afero.Fs, root, artifactURI string, log *slog.Logger) *MountedBackend {
	if log == nil {
		log = slog.Default()
	}
	if root == "" {
		root = "/"
	}
	return &MountedBackend{
		fs:          fs,
		root:        root,
		log:         log,
		artifactURI: artifactURI,
	}
}

// LogArtifact copies a local file to root/artifactPath/basename.
func (b *MountedBackend) LogArtifact(ctx context.Context, localFile, artifactPath string) error {
	if err := checkLocalFile(localFile); err != nil {
		return err
	}
	dst := RemotePath(b.root, JoinArtifactPath(artifactPath, filepath.Base(localFile)))
	return b.copyIn(localFile, dst)
}

// LogArtifacts mirrors a local directory tree below root/artifactPath.
func (b *MountedBackend) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	start := time.Now()
	if err := walkLocalTree(ctx, localDir, artifactPath, b.LogArtifact); err != nil {
		return err
	}
	b.log.Debug("Logged artifact directory",
		slog.String("local_dir", localDir),
		slog.String("artifact_path", artifactPath),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// ListArtifacts lists the immediate children of root/artifactPath.
func (b *MountedBackend) ListArtifacts(ctx context.Context, artifactPath string) ([]interfaces.FileInfo, error) {
	dir := RemotePath(b.root, artifactPath)

	info, err := b.fs.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []interfaces.FileInfo{}, nil
		}
		return nil, &interfaces.StorageError{Op: "list artifacts in", Path: dir, Err: err}
	}
	if !info.IsDir() {
		return []interfaces.FileInfo{}, nil
	}

	entries, err := afero.ReadDir(b.fs, dir)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "list artifacts in", Path: dir, Err: err}
	}

	infos := make([]interfaces.FileInfo, 0, len(entries))
	for _, entry := range entries {
		rel, err := RelativeArtifactPath(b.root, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, &interfaces.StorageError{Op: "list artifacts in", Path: dir, Err: err}
		}
		if entry.IsDir() {
			infos = append(infos, interfaces.NewDirEntry(rel))
		} else {
			infos = append(infos, interfaces.NewFileEntry(rel, entry.Size()))
		}
	}
	interfaces.SortFileInfos(infos)
	return infos, nil
}

// DownloadArtifacts copies the file or tree at root/artifactPath into a new
// temporary directory.
func (b *MountedBackend) DownloadArtifacts(ctx context.Context, artifactPath string) (localPath string, err error) {
	start := time.Now()
	remote := RemotePath(b.root, artifactPath)

	info, err := b.fs.Stat(remote)
	if err != nil {
		return "", &interfaces.StorageError{Op: "download artifacts from", Path: remote, Err: err}
	}

	stageDir, err := stageDownloadDir()
	if err != nil {
		return "", err
	}
	defer discardStageOnError(stageDir, &err)

	if !info.IsDir() {
		dst := filepath.Join(stageDir, path.Base(remote))
		if err := b.copyOut(remote, dst); err != nil {
			return "", err
		}
		return dst, nil
	}

	files := 0
	err = afero.Walk(b.fs, remote, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return &interfaces.StorageError{Op: "download artifacts from", Path: p, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if fi.IsDir() {
			return nil
		}
		relParent, err := RelativeArtifactPath(remote, path.Dir(p))
		if err != nil {
			return &interfaces.StorageError{Op: "download artifacts from", Path: p, Err: err}
		}
		dst, err := localDestination(stageDir, JoinArtifactPath(relParent, path.Base(p)))
		if err != nil {
			return err
		}
		files++
		return b.copyOut(p, dst)
	})
	if err != nil {
		return "", err
	}

	b.log.Debug("Downloaded artifacts",
		slog.String("remote", remote),
		slog.String("local", stageDir),
		slog.Int("files", files),
		slog.Duration("duration", time.Since(start)))
	return stageDir, nil
}

// Name returns a unique identifier for this repository.
func (b *MountedBackend) Name() string {
	return fmt.Sprintf("mounted-%s", b.root)
}

// ArtifactURI returns the base artifact URI.
func (b *MountedBackend) ArtifactURI() string {
	return b.artifactURI
}

func (b *MountedBackend) copyIn(localFile, dst string) error {
	src, err := os.Open(localFile)
	if err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}
	defer src.Close()

	if err := b.fs.MkdirAll(path.Dir(dst), 0o755); err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}
	out, err := b.fs.Create(dst)
	if err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}
	n, err := io.Copy(out, src)
	if err != nil {
		out.Close()
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}
	if err := out.Close(); err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}

	b.log.Debug("Logged artifact",
		slog.String("local", localFile),
		slog.String("remote", dst),
		slog.Int64("size", n))
	return nil
}

func (b *MountedBackend) copyOut(remote, dst string) error {
	src, err := b.fs.Open(remote)
	if err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	defer src.Close()

	out, err := os.Create(dst)
	if err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	if err := out.Close(); err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	return nil
}
