package artifacts

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/artifact-repository/interfaces"
	"github.com/spf13/afero"
)

// BackendKind enumerates the backend variants the selector can choose.
type BackendKind int

const (
	KindUnsupported BackendKind = iota
	KindDbfs
	KindCLI
	KindLocal
	KindS3
	KindIPFS
)

func (k BackendKind) String() string {
	switch k {
	case KindDbfs:
		return "dbfs"
	case KindCLI:
		return "cli"
	case KindLocal:
		return "local"
	case KindS3:
		return "s3"
	case KindIPFS:
		return "ipfs"
	default:
		return "unsupported"
	}
}

// SelectBackend maps an artifact location to a backend variant.
//
// In the default mode dbfs: locations get the probing dispatcher and every
// other scheme is delegated to the CLI tool. Native mode is used by the CLI
// tool itself and serves file, s3 and ipfs locations in-process.
func SelectBackend(loc interfaces.ArtifactLocation, native bool) BackendKind {
	if loc.IsDbfs() {
		return KindDbfs
	}
	if !native {
		return KindCLI
	}
	switch {
	case loc.IsFile():
		return KindLocal
	case loc.IsS3():
		return KindS3
	case loc.IsIPFS():
		return KindIPFS
	default:
		return KindUnsupported
	}
}

const (
	defaultS3Region    = "us-east-1"
	defaultIPFSPort    = "5001"
	defaultIPFSTimeout = 30 * time.Second
)

// RepositoryFactory creates artifact repositories from artifact URIs.
type RepositoryFactory struct {
	log        *slog.Logger
	creds      interfaces.HostCredsProvider
	mount      afero.Fs
	probe      Probe
	launcher   ProcessLauncher
	cliTool    string
	native     bool
	s3Client   s3iface.S3API
	ipfsShell  MFSClient
	restPrefix string
}

// NewRepositoryFactory creates a factory in the default mode. creds is
// forwarded to the CLI tool and used by the REST backend; it may be nil
// when neither needs it.
func NewRepositoryFactory(logger *slog.Logger, creds interfaces.HostCredsProvider) *RepositoryFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &RepositoryFactory{
		log:        logger,
		creds:      creds,
		cliTool:    DefaultCLITool,
		restPrefix: interfaces.DefaultRESTPrefix,
	}
}

// WithMount sets the filesystem dbfs: paths resolve against. Unless WithProbe
// is also used, the probe checks this filesystem.
func (f *RepositoryFactory) WithMount(mount afero.Fs) *RepositoryFactory {
	f.mount = mount
	return f
}

// WithProbe overrides the capability probe of the dbfs dispatcher.
func (f *RepositoryFactory) WithProbe(probe Probe) *RepositoryFactory {
	f.probe = probe
	return f
}

// WithLauncher sets the process launcher of CLI backends.
func (f *RepositoryFactory) WithLauncher(launcher ProcessLauncher) *RepositoryFactory {
	f.launcher = launcher
	return f
}

// WithCLITool sets the executable CLI backends invoke.
func (f *RepositoryFactory) WithCLITool(tool string) *RepositoryFactory {
	if tool != "" {
		f.cliTool = tool
	}
	return f
}

// WithNativeBackends switches to native mode: no scheme is delegated to the
// CLI tool and the REST backend becomes the dbfs fallback.
func (f *RepositoryFactory) WithNativeBackends() *RepositoryFactory {
	f.native = true
	return f
}

// WithS3Client sets the client used for s3: URIs instead of one built from
// the URI.
func (f *RepositoryFactory) WithS3Client(client s3iface.S3API) *RepositoryFactory {
	f.s3Client = client
	return f
}

// WithIPFSShell sets the shell used for ipfs: URIs instead of one built from
// the URI.
func (f *RepositoryFactory) WithIPFSShell(sh MFSClient) *RepositoryFactory {
	f.ipfsShell = sh
	return f
}

// WithRESTPrefix sets the endpoint prefix of the REST backend.
func (f *RepositoryFactory) WithRESTPrefix(prefix string) *RepositoryFactory {
	if prefix != "" {
		f.restPrefix = prefix
	}
	return f
}

// ArtifactRepositoryFor creates the repository serving artifactURI.
//
// Supported URIs:
//   - dbfs:/path - mounted distributed filesystem, falling back to the CLI
//     tool (default mode) or the REST object store (native mode)
//   - file:///path or a bare path - local filesystem (native mode)
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=&endpoint=&path_style=true (native mode)
//   - ipfs://host:port/mfs/root?timeout=30s (native mode)
//
// In the default mode every non-dbfs URI is served by the CLI backend.
func (f *RepositoryFactory) ArtifactRepositoryFor(artifactURI, runID string) (interfaces.ArtifactRepository, error) {
	loc, err := interfaces.NewArtifactLocation(artifactURI)
	if err != nil {
		return nil, err
	}

	kind := SelectBackend(loc, f.native)
	f.log.Debug("Selected artifact backend",
		slog.String("scheme", loc.Scheme),
		slog.String("backend", kind.String()),
		slog.Bool("native", f.native))

	switch kind {
	case KindDbfs:
		return f.createDbfsBackend(loc, runID)
	case KindCLI:
		return f.createCliBackend(loc, runID)
	case KindLocal:
		return f.createLocalBackend(loc)
	case KindS3:
		return f.createS3Backend(loc)
	case KindIPFS:
		return f.createIPFSBackend(loc)
	default:
		return nil, fmt.Errorf("%w: %s", interfaces.ErrUnsupportedScheme, loc.Scheme)
	}
}

func (f *RepositoryFactory) createDbfsBackend(loc interfaces.ArtifactLocation, runID string) (interfaces.ArtifactRepository, error) {
	mount := f.mount
	if mount == nil {
		mount = NewDbfsMount(DefaultDbfsMountRoot)
	}
	probe := f.probe
	if probe == nil {
		probe = ProbeMount(mount)
	}

	root := loc.Path
	if root == "" {
		root = "/"
	}

	mounted := func() (interfaces.ArtifactRepository, error) {
		return NewMountedBackend(mount, root, loc.String(), f.log), nil
	}
	fallback := func() (interfaces.ArtifactRepository, error) {
		if f.native {
			return NewRestBackend(loc.String(), f.restPrefix, f.creds, f.log)
		}
		return f.createCliBackend(loc, runID)
	}

	return NewDbfsBackend(context.Background(), probe, mounted, fallback, f.log)
}

func (f *RepositoryFactory) createCliBackend(loc interfaces.ArtifactLocation, runID string) (interfaces.ArtifactRepository, error) {
	return NewCliBackend(loc.String(), runID, f.cliTool, f.creds, f.launcher, f.log)
}

// createLocalBackend serves file:///abs/path, file://./rel/path and bare
// paths from the local disk.
func (f *RepositoryFactory) createLocalBackend(loc interfaces.ArtifactLocation) (interfaces.ArtifactRepository, error) {
	p := loc.Path
	if loc.Host != "" {
		p = loc.Host + "/" + strings.TrimPrefix(p, "/")
	}
	if p == "" {
		return nil, fmt.Errorf("%w: empty path in file URI: %s", interfaces.ErrInvalidArtifactURI, loc.String())
	}

	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidArtifactURI, err)
	}

	f.log.Debug("Creating local artifact backend", slog.String("root", abs))
	return NewMountedBackend(afero.NewOsFs(), filepath.ToSlash(abs), loc.String(), f.log), nil
}

func (f *RepositoryFactory) createS3Backend(loc interfaces.ArtifactLocation) (interfaces.ArtifactRepository, error) {
	bucketName := loc.Host
	if bucketName == "" {
		return nil, fmt.Errorf("%w: missing bucket in %s", interfaces.ErrInvalidArtifactURI, loc.Scheme)
	}
	prefix := strings.TrimPrefix(loc.Path, "/")

	client := f.s3Client
	if client == nil {
		region := loc.GetParam("region")
		if region == "" {
			region = defaultS3Region
		}

		var accessKey, secretKey string
		if loc.Auth != "" {
			accessKey, secretKey, _ = strings.Cut(loc.Auth, ":")
			f.log.Debug("Using embedded S3 credentials")
		} else {
			f.log.Debug("No S3 credentials in URI, using the default credential chain")
		}

		var err error
		client, err = NewS3Client(region, loc.GetParam("endpoint"), accessKey, secretKey, loc.GetParamBool("path_style"))
		if err != nil {
			return nil, err
		}
	}

	f.log.Debug("Creating S3 artifact backend",
		slog.String("bucket", bucketName),
		slog.String("prefix", prefix))
	return NewS3Backend(client, bucketName, prefix, redactAuth(loc), f.log), nil
}

func (f *RepositoryFactory) createIPFSBackend(loc interfaces.ArtifactLocation) (interfaces.ArtifactRepository, error) {
	host, port, err := net.SplitHostPort(loc.Host)
	if err != nil {
		host = loc.Host
		port = defaultIPFSPort
	}
	if host == "" {
		return nil, fmt.Errorf("%w: missing IPFS host", interfaces.ErrInvalidArtifactURI)
	}

	sh := f.ipfsShell
	if sh == nil {
		timeout := defaultIPFSTimeout
		if raw := loc.GetParam("timeout"); raw != "" {
			timeout, err = time.ParseDuration(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid timeout: %v", interfaces.ErrInvalidArtifactURI, err)
			}
		}
		sh = NewIPFSShell(host, port, timeout)
	}

	f.log.Debug("Creating IPFS artifact backend",
		slog.String("host", host),
		slog.String("port", port),
		slog.String("root", loc.Path))
	repo := NewIPFSBackend(sh, net.JoinHostPort(host, port), loc.Path, loc.String(), f.log)
	if err := repo.Probe(context.Background()); err != nil {
		f.log.Warn("IPFS node unavailable",
			slog.String("host", host),
			slog.String("port", port),
			"err", err)
	}
	return repo, nil
}

// redactAuth drops embedded credentials from the URI reported by ArtifactURI.
func redactAuth(loc interfaces.ArtifactLocation) string {
	if loc.Auth == "" {
		return loc.String()
	}
	return strings.Replace(loc.String(), loc.Auth+"@", "", 1)
}
