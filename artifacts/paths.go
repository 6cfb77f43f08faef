package artifacts

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ruteri/artifact-repository/interfaces"
)

// NormalizeArtifactPath strips exactly one leading "/" from an artifact path
// and drops trailing slashes. "" stays "" (the root).
func NormalizeArtifactPath(artifactPath string) string {
	p := strings.TrimPrefix(artifactPath, "/")
	if p == "" {
		return ""
	}
	return strings.TrimRight(p, "/")
}

// JoinArtifactPath returns normalize(artifactPath)/name, or name alone when
// artifactPath is the root.
func JoinArtifactPath(artifactPath, name string) string {
	base := NormalizeArtifactPath(artifactPath)
	if base == "" {
		return name
	}
	if name == "" {
		return base
	}
	return base + "/" + name
}

// RemotePath joins a medium root with a normalized artifact path.
func RemotePath(root, artifactPath string) string {
	rel := NormalizeArtifactPath(artifactPath)
	if rel == "" {
		return root
	}
	if root == "" || root == "/" {
		return "/" + rel
	}
	return strings.TrimRight(root, "/") + "/" + rel
}

// RelativeArtifactPath relativizes a slash-separated remote path against
// root. target == root yields "".
func RelativeArtifactPath(root, target string) (string, error) {
	root = path.Clean("/" + root)
	target = path.Clean("/" + target)
	if target == root {
		return "", nil
	}
	prefix := root
	if prefix != "/" {
		prefix += "/"
	}
	if !strings.HasPrefix(target, prefix) {
		return "", fmt.Errorf("path %s is not below %s", target, root)
	}
	return strings.TrimPrefix(target, prefix), nil
}

// checkLocalFile validates the source of a single-file upload.
func checkLocalFile(localFile string) error {
	info, err := os.Stat(localFile)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: local file does not exist: %s", interfaces.ErrInvalidArgument, localFile)
		}
		return fmt.Errorf("%w: cannot stat local file %s: %v", interfaces.ErrInvalidArgument, localFile, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: local path points to a directory, use LogArtifacts instead: %s", interfaces.ErrInvalidArgument, localFile)
	}
	return nil
}

// checkLocalDir validates the source of a tree upload.
func checkLocalDir(localDir string) error {
	info, err := os.Stat(localDir)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: local directory does not exist: %s", interfaces.ErrInvalidArgument, localDir)
		}
		return fmt.Errorf("%w: cannot stat local directory %s: %v", interfaces.ErrInvalidArgument, localDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: local path points to a file, use LogArtifact instead: %s", interfaces.ErrInvalidArgument, localDir)
	}
	return nil
}

// logFileFunc uploads one local file under an artifact directory.
type logFileFunc func(ctx context.Context, localFile, artifactDir string) error

// walkLocalTree visits every regular file below localDir and hands it to
// logFile together with its mirrored artifact directory: a file in
// localDir/sub/x is logged under artifactPath/sub. Depth is unbounded.
func walkLocalTree(ctx context.Context, localDir, artifactPath string, logFile logFileFunc) error {
	if err := checkLocalDir(localDir); err != nil {
		return err
	}
	base := NormalizeArtifactPath(artifactPath)

	return filepath.WalkDir(localDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return &interfaces.StorageError{Op: "walk local directory", Path: p, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			// Symlinked files are uploaded; symlinked directories are not descended.
			info, err := os.Stat(p)
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
		} else if !d.Type().IsRegular() {
			return nil
		}

		relDir, err := filepath.Rel(localDir, filepath.Dir(p))
		if err != nil {
			return &interfaces.StorageError{Op: "walk local directory", Path: p, Err: err}
		}
		artifactDir := base
		if relDir != "." {
			artifactDir = JoinArtifactPath(base, filepath.ToSlash(relDir))
		}
		return logFile(ctx, p, artifactDir)
	})
}

// stageDownloadDir creates the fresh temporary directory every download
// writes into.
func stageDownloadDir() (string, error) {
	dir, err := os.MkdirTemp("", "artifacts-")
	if err != nil {
		return "", &interfaces.StorageError{Op: "create download directory", Err: err}
	}
	return dir, nil
}

// discardStageOnError removes a staged download directory when the download
// that created it fails. Use it deferred with the caller's named error.
func discardStageOnError(stageDir string, err *error) {
	if *err != nil && stageDir != "" {
		_ = os.RemoveAll(stageDir)
	}
}

// localDestination maps a remote file, given relative to the download
// target, into the staging directory and creates its parent.
func localDestination(stageDir, relPath string) (string, error) {
	dst := filepath.Join(stageDir, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", &interfaces.StorageError{Op: "create download directory", Path: filepath.Dir(dst), Err: err}
	}
	return dst, nil
}
