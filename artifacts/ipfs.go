package artifacts

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/artifact-repository/interfaces"
)

// MFSClient is the subset of the IPFS shell used by IPFSBackend.
type MFSClient interface {
	FilesWrite(ctx context.Context, path string, data io.Reader, options ...shell.FilesOpt) error
	FilesRead(ctx context.Context, path string, options ...shell.FilesOpt) (io.ReadCloser, error)
	FilesLs(ctx context.Context, path string, options ...shell.FilesOpt) ([]*shell.MfsLsEntry, error)
	FilesStat(ctx context.Context, path string, options ...shell.FilesOpt) (*shell.FilesStatObject, error)
	IsUp() bool
}

const mfsTypeDirectory = "directory"

// IPFSBackend implements interfaces.ArtifactRepository on the IPFS mutable
// file system (MFS) of a node.
type IPFSBackend struct {
	shell       MFSClient
	host        string
	root        string
	log         *slog.Logger
	artifactURI string
}

// NewIPFSShell connects to the IPFS API at host:port.
func NewIPFSShell(host, port string, timeout time.Duration) *shell.Shell {
	sh := shell.NewShell(fmt.Sprintf("%s:%s", host, port))
	if timeout > 0 {
		sh.SetTimeout(timeout)
	}
	return sh
}

// NewIPFSBackend creates a backend storing artifacts below root in MFS.
func NewIPFSBackend(sh MFSClient, host, root, artifactURI string, log *slog.Logger) *IPFSBackend {
	if log == nil {
		log = slog.Default()
	}
	if root == "" {
		root = "/"
	}
	return &IPFSBackend{
		shell:       sh,
		host:        host,
		root:        root,
		log:         log,
		artifactURI: artifactURI,
	}
}

// Probe checks that the IPFS node answers.
func (b *IPFSBackend) Probe(ctx context.Context) error {
	if !b.shell.IsUp() {
		return fmt.Errorf("%w: IPFS node %s is down", interfaces.ErrBackendUnavailable, b.host)
	}
	return nil
}

// LogArtifact writes a local file to root/artifactPath/basename.
func (b *IPFSBackend) LogArtifact(ctx context.Context, localFile, artifactPath string) error {
	if err := checkLocalFile(localFile); err != nil {
		return err
	}
	dst := RemotePath(b.root, JoinArtifactPath(artifactPath, filepath.Base(localFile)))

	f, err := os.Open(localFile)
	if err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}
	defer f.Close()

	err = b.shell.FilesWrite(ctx, dst, f,
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		b.log.Error("Failed to write artifact to IPFS",
			slog.String("path", dst),
			"err", err)
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}

	b.log.Debug("Stored artifact in IPFS", slog.String("path", dst))
	return nil
}

// LogArtifacts mirrors a local directory tree below artifactPath.
func (b *IPFSBackend) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	return walkLocalTree(ctx, localDir, artifactPath, b.LogArtifact)
}

// ListArtifacts lists the immediate children of artifactPath.
func (b *IPFSBackend) ListArtifacts(ctx context.Context, artifactPath string) ([]interfaces.FileInfo, error) {
	dir := RemotePath(b.root, artifactPath)

	stat, err := b.shell.FilesStat(ctx, dir)
	if err != nil {
		if isMFSNotFound(err) {
			return []interfaces.FileInfo{}, nil
		}
		return nil, &interfaces.StorageError{Op: "list artifacts in", Path: dir, Err: err}
	}
	if stat.Type != mfsTypeDirectory {
		return []interfaces.FileInfo{}, nil
	}

	entries, err := b.shell.FilesLs(ctx, dir)
	if err != nil {
		return nil, &interfaces.StorageError{Op: "list artifacts in", Path: dir, Err: err}
	}

	infos := make([]interfaces.FileInfo, 0, len(entries))
	for _, entry := range entries {
		child := path.Join(dir, entry.Name)
		childStat, err := b.shell.FilesStat(ctx, child)
		if err != nil {
			return nil, &interfaces.StorageError{Op: "list artifacts in", Path: child, Err: err}
		}
		rel, err := RelativeArtifactPath(b.root, child)
		if err != nil {
			return nil, &interfaces.StorageError{Op: "list artifacts in", Path: child, Err: err}
		}
		if childStat.Type == mfsTypeDirectory {
			infos = append(infos, interfaces.NewDirEntry(rel))
		} else {
			infos = append(infos, interfaces.NewFileEntry(rel, int64(childStat.Size)))
		}
	}
	interfaces.SortFileInfos(infos)
	return infos, nil
}

// DownloadArtifacts copies the file or tree at artifactPath into a new
// temporary directory.
func (b *IPFSBackend) DownloadArtifacts(ctx context.Context, artifactPath string) (localPath string, err error) {
	requested := NormalizeArtifactPath(artifactPath)
	remote := RemotePath(b.root, requested)

	stat, err := b.shell.FilesStat(ctx, remote)
	if err != nil {
		return "", &interfaces.StorageError{Op: "download artifacts from", Path: remote, Err: err}
	}

	stageDir, err := stageDownloadDir()
	if err != nil {
		return "", err
	}
	defer discardStageOnError(stageDir, &err)

	if stat.Type != mfsTypeDirectory {
		dst := filepath.Join(stageDir, path.Base(remote))
		if err := b.fetch(ctx, remote, dst); err != nil {
			return "", err
		}
		return dst, nil
	}

	if err := b.downloadTree(ctx, requested, requested, stageDir); err != nil {
		return "", err
	}
	return stageDir, nil
}

func (b *IPFSBackend) downloadTree(ctx context.Context, root, dir, stageDir string) error {
	listing, err := b.ListArtifacts(ctx, dir)
	if err != nil {
		return err
	}
	for _, entry := range listing {
		if entry.IsDir {
			if err := b.downloadTree(ctx, root, entry.Path, stageDir); err != nil {
				return err
			}
			continue
		}
		rel, err := RelativeArtifactPath(root, entry.Path)
		if err != nil {
			return &interfaces.StorageError{Op: "download artifacts from", Path: entry.Path, Err: err}
		}
		dst, err := localDestination(stageDir, rel)
		if err != nil {
			return err
		}
		if err := b.fetch(ctx, RemotePath(b.root, entry.Path), dst); err != nil {
			return err
		}
	}
	return nil
}

func (b *IPFSBackend) fetch(ctx context.Context, remote, dst string) error {
	reader, err := b.shell.FilesRead(ctx, remote)
	if err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	defer reader.Close()

	out, err := os.Create(dst)
	if err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	if _, err := io.Copy(out, reader); err != nil {
		out.Close()
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	if err := out.Close(); err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	return nil
}

// Name returns a unique identifier for this repository.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s%s", b.host, b.root)
}

// ArtifactURI returns the base artifact URI.
func (b *IPFSBackend) ArtifactURI() string {
	return b.artifactURI
}

func isMFSNotFound(err error) bool {
	return strings.Contains(err.Error(), "file does not exist")
}
