package interfaces

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ArtifactLocation represents the parsed base artifact URI of a run.
type ArtifactLocation struct {
	Raw    string     // Original URI, trailing slashes removed
	Scheme string     // Protocol, "file" for bare local paths
	Host   string     // Hostname or bucket
	Path   string     // Resource path
	Query  url.Values // Query parameters
	Auth   string     // Authentication info
}

// NewArtifactLocation parses an artifact URI. A URI without a scheme is
// treated as a local filesystem path.
func NewArtifactLocation(uri string) (ArtifactLocation, error) {
	cleaned := strings.TrimRight(strings.TrimSpace(uri), "/")
	if cleaned == "" {
		if strings.HasPrefix(strings.TrimSpace(uri), "/") {
			cleaned = "/"
		} else {
			return ArtifactLocation{}, fmt.Errorf("%w: empty URI", ErrInvalidArtifactURI)
		}
	}

	// Bare paths and Windows drive letters never carry a real scheme.
	if !strings.Contains(cleaned, ":") || (len(cleaned) > 1 && cleaned[1] == ':') {
		return ArtifactLocation{
			Raw:    cleaned,
			Scheme: "file",
			Path:   cleaned,
			Query:  url.Values{},
		}, nil
	}

	parsed, err := url.Parse(cleaned)
	if err != nil {
		return ArtifactLocation{}, fmt.Errorf("%w: %v", ErrInvalidArtifactURI, err)
	}
	if parsed.Scheme == "" {
		return ArtifactLocation{}, fmt.Errorf("%w: missing scheme in %q", ErrInvalidArtifactURI, uri)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	path := parsed.Path
	if parsed.Opaque != "" {
		// dbfs:relative is never produced by the tracking server, but
		// url.Parse puts it into Opaque rather than Path.
		path = "/" + strings.TrimPrefix(parsed.Opaque, "/")
	}

	return ArtifactLocation{
		Raw:    cleaned,
		Scheme: strings.ToLower(parsed.Scheme),
		Host:   parsed.Host,
		Path:   path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI string.
func (loc ArtifactLocation) String() string {
	return loc.Raw
}

// IsDbfs checks if this location lives on the distributed filesystem.
func (loc ArtifactLocation) IsDbfs() bool {
	return loc.Scheme == "dbfs"
}

// IsFile checks if this is a local file system location.
func (loc ArtifactLocation) IsFile() bool {
	return loc.Scheme == "file"
}

// IsS3 checks if this is an S3 location.
func (loc ArtifactLocation) IsS3() bool {
	return loc.Scheme == "s3"
}

// IsIPFS checks if this is an IPFS MFS location.
func (loc ArtifactLocation) IsIPFS() bool {
	return loc.Scheme == "ipfs"
}

// StripScheme returns the URI without its "scheme:" prefix, e.g.
// "dbfs:/a/b" -> "/a/b".
func (loc ArtifactLocation) StripScheme() string {
	if loc.IsFile() && !strings.HasPrefix(loc.Raw, "file:") {
		return loc.Raw
	}
	return strings.TrimPrefix(loc.Raw, loc.Scheme+":")
}

// GetParam returns a query parameter value.
func (loc ArtifactLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc ArtifactLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}

var (
	// ErrInvalidArgument is returned when a local source path is missing or
	// has the wrong type (file where a directory is expected or vice versa).
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrStorageOperationFailed is the kind shared by every medium failure:
	// IO errors, non-zero subprocess exits and malformed responses.
	ErrStorageOperationFailed = errors.New("storage operation failed")

	// ErrBackendUnavailable is returned by capability probes. Repositories
	// never surface it; the dispatcher turns it into a fallback choice.
	ErrBackendUnavailable = errors.New("artifact backend unavailable")

	// ErrInvalidArtifactURI is returned when an artifact URI is malformed.
	ErrInvalidArtifactURI = errors.New("invalid artifact URI")

	// ErrUnsupportedScheme is returned when no backend serves a URI scheme.
	ErrUnsupportedScheme = errors.New("unsupported artifact URI scheme")
)

// StorageError describes a failed medium operation.
type StorageError struct {
	// Op names the repository operation, e.g. "log artifact".
	Op string
	// Path is the remote or local path the operation was acting on.
	Path string
	// Command and Stderr are only set by subprocess-backed repositories.
	Command string
	Stderr  string
	// Err is the underlying cause.
	Err error
}

func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString("failed to ")
	b.WriteString(e.Op)
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Command != "" {
		b.WriteString(" (command: ")
		b.WriteString(e.Command)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString("; stderr: ")
		b.WriteString(stderr)
	}
	return b.String()
}

// Unwrap makes errors.Is match both ErrStorageOperationFailed and the cause.
func (e *StorageError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrStorageOperationFailed}
	}
	return []error{ErrStorageOperationFailed, e.Err}
}

// ArtifactRepository uploads, downloads and lists the artifacts of one run.
// ArtifactPath arguments are relative to the repository's artifact URI; an
// empty string means the root. One leading "/" is ignored.
type ArtifactRepository interface {
	// LogArtifact uploads a single local file to artifactPath/basename(localFile).
	LogArtifact(ctx context.Context, localFile, artifactPath string) error

	// LogArtifacts uploads a local directory tree below artifactPath,
	// mirroring its sub-directory layout.
	LogArtifacts(ctx context.Context, localDir, artifactPath string) error

	// ListArtifacts returns the immediate children of artifactPath sorted by
	// path. A missing artifactPath yields an empty slice and no error.
	ListArtifacts(ctx context.Context, artifactPath string) ([]FileInfo, error)

	// DownloadArtifacts copies the file or tree at artifactPath into a new
	// temporary directory and returns the local path.
	DownloadArtifacts(ctx context.Context, artifactPath string) (string, error)

	// Name returns identifier for logging.
	Name() string

	// ArtifactURI returns the base artifact URI this repository serves.
	ArtifactURI() string
}

// ArtifactRepositoryFactory creates artifact repositories.
type ArtifactRepositoryFactory interface {
	// ArtifactRepositoryFor selects and builds the backend serving artifactURI.
	ArtifactRepositoryFor(artifactURI, runID string) (ArtifactRepository, error)
}
