package artifacts

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/ruteri/artifact-repository/interfaces"
)

// RestBackend implements interfaces.ArtifactRepository over the REST object
// store. Every request re-reads credentials from the provider.
type RestBackend struct {
	client         *http.Client
	insecureClient *http.Client
	creds          interfaces.HostCredsProvider
	prefix         string
	basePath       string
	log            *slog.Logger
	artifactURI    string
}

// NewRestBackend creates a REST backend for artifactURI. The endpoint is
// prefix + "/" + the URI without its scheme, so dbfs:/a/b maps to /dbfs/a/b.
func NewRestBackend(artifactURI, prefix string, creds interfaces.HostCredsProvider, log *slog.Logger) (*RestBackend, error) {
	if creds == nil {
		return nil, fmt.Errorf("REST backend requires a host credentials provider")
	}
	if log == nil {
		log = slog.Default()
	}
	loc, err := interfaces.NewArtifactLocation(artifactURI)
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = interfaces.DefaultRESTPrefix
	}

	basePath := "/" + strings.Trim(loc.StripScheme(), "/")

	insecureTransport := cleanhttp.DefaultPooledTransport()
	insecureTransport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}

	return &RestBackend{
		client:         cleanhttp.DefaultPooledClient(),
		insecureClient: &http.Client{Transport: insecureTransport},
		creds:          creds,
		prefix:         "/" + strings.Trim(prefix, "/"),
		basePath:       basePath,
		log:            log,
		artifactURI:    loc.String(),
	}, nil
}

// LogArtifact uploads a local file with PUT.
func (b *RestBackend) LogArtifact(ctx context.Context, localFile, artifactPath string) error {
	if err := checkLocalFile(localFile); err != nil {
		return err
	}
	dst := RemotePath(b.basePath, JoinArtifactPath(artifactPath, filepath.Base(localFile)))

	f, err := os.Open(localFile)
	if err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}

	resp, err := b.do(ctx, http.MethodPut, dst, nil, f, stat.Size())
	if err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: dst, Err: err}
	}

	b.log.Debug("Uploaded artifact",
		slog.String("local", localFile),
		slog.String("remote", dst),
		slog.Int64("size", stat.Size()))
	return nil
}

// LogArtifacts mirrors a local directory tree below artifactPath.
func (b *RestBackend) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	return walkLocalTree(ctx, localDir, artifactPath, b.LogArtifact)
}

// restTarget is what a list request found at the requested path.
type restTarget int

const (
	restTargetMissing restTarget = iota
	restTargetFile
	restTargetDir
)

// ListArtifacts lists the immediate children of artifactPath.
func (b *RestBackend) ListArtifacts(ctx context.Context, artifactPath string) ([]interfaces.FileInfo, error) {
	infos, _, err := b.list(ctx, artifactPath)
	return infos, err
}

// list lists artifactPath and classifies it. Files and missing targets have
// no children.
func (b *RestBackend) list(ctx context.Context, artifactPath string) ([]interfaces.FileInfo, restTarget, error) {
	target := RemotePath(b.basePath, artifactPath)

	resp, err := b.do(ctx, http.MethodGet, target, url.Values{interfaces.ListQueryParam: []string{""}}, nil, 0)
	if err != nil {
		return nil, restTargetMissing, &interfaces.StorageError{Op: "list artifacts in", Path: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, restTargetMissing, &interfaces.StorageError{Op: "list artifacts in", Path: target, Err: err}
	}

	var listing interfaces.RESTListResponse
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, restTargetMissing, &interfaces.StorageError{
			Op:   "list artifacts in",
			Path: target,
			Err:  fmt.Errorf("status %d, unparsable body %q: %w", resp.StatusCode, truncate(body), err),
		}
	}
	if listing.ErrorCode == interfaces.ErrorCodeResourceDoesNotExist {
		return []interfaces.FileInfo{}, restTargetMissing, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, restTargetMissing, &interfaces.StorageError{
			Op:   "list artifacts in",
			Path: target,
			Err:  fmt.Errorf("status %d: %s %s", resp.StatusCode, listing.ErrorCode, listing.Message),
		}
	}

	requested := NormalizeArtifactPath(artifactPath)
	infos := make([]interfaces.FileInfo, 0, len(listing.Files))
	for _, f := range listing.Files {
		rel, err := RelativeArtifactPath(b.basePath, f.Path)
		if err != nil {
			return nil, restTargetMissing, &interfaces.StorageError{Op: "list artifacts in", Path: target, Err: err}
		}
		// Listing a file returns the file itself.
		if rel == requested && !f.IsDir {
			return []interfaces.FileInfo{}, restTargetFile, nil
		}
		if f.IsDir {
			infos = append(infos, interfaces.NewDirEntry(rel))
		} else {
			infos = append(infos, interfaces.NewFileEntry(rel, f.FileSize))
		}
	}
	interfaces.SortFileInfos(infos)
	return infos, restTargetDir, nil
}

// DownloadArtifacts fetches a file, or every file of a tree, into a new
// temporary directory.
func (b *RestBackend) DownloadArtifacts(ctx context.Context, artifactPath string) (localPath string, err error) {
	start := time.Now()
	requested := NormalizeArtifactPath(artifactPath)
	remote := RemotePath(b.basePath, requested)

	listing, kind, err := b.list(ctx, requested)
	if err != nil {
		return "", err
	}
	// The root is always a directory, possibly an empty one.
	if kind == restTargetMissing && requested != "" {
		return "", &interfaces.StorageError{Op: "download artifacts from", Path: remote, Err: os.ErrNotExist}
	}

	stageDir, err := stageDownloadDir()
	if err != nil {
		return "", err
	}
	defer discardStageOnError(stageDir, &err)

	if kind == restTargetFile {
		dst := filepath.Join(stageDir, path.Base(requested))
		if err := b.fetch(ctx, requested, dst); err != nil {
			return "", err
		}
		return dst, nil
	}

	files, err := b.downloadTree(ctx, requested, listing, stageDir)
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

func (b *RestBackend) downloadTree(ctx context.Context, root string, listing []interfaces.FileInfo, stageDir string) (int, error) {
	files := 0
	for _, entry := range listing {
		if entry.IsDir {
			children, err := b.ListArtifacts(ctx, entry.Path)
			if err != nil {
				return files, err
			}
			n, err := b.downloadTree(ctx, root, children, stageDir)
			files += n
			if err != nil {
				return files, err
			}
			continue
		}

		rel, err := RelativeArtifactPath(root, entry.Path)
		if err != nil {
			return files, &interfaces.StorageError{Op: "download artifacts from", Path: entry.Path, Err: err}
		}
		dst, err := localDestination(stageDir, rel)
		if err != nil {
			return files, err
		}
		if err := b.fetch(ctx, entry.Path, dst); err != nil {
			return files, err
		}
		files++
	}
	return files, nil
}

func (b *RestBackend) fetch(ctx context.Context, artifactPath, dst string) error {
	remote := RemotePath(b.basePath, artifactPath)

	resp, err := b.do(ctx, http.MethodGet, remote, nil, nil, 0)
	if err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}

	out, err := os.Create(dst)
	if err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	if err := out.Close(); err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: remote, Err: err}
	}
	return nil
}

// Name returns a unique identifier for this repository.
func (b *RestBackend) Name() string {
	return fmt.Sprintf("rest-%s%s", b.prefix, b.basePath)
}

// ArtifactURI returns the base artifact URI.
func (b *RestBackend) ArtifactURI() string {
	return b.artifactURI
}

// Endpoint returns the request path for a medium path.
func (b *RestBackend) Endpoint(mediumPath string) string {
	if mediumPath == "/" {
		return b.prefix
	}
	return b.prefix + mediumPath
}

func (b *RestBackend) do(ctx context.Context, method, mediumPath string, query url.Values, body io.Reader, size int64) (*http.Response, error) {
	creds, err := b.creds.HostCreds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host credentials: %w", err)
	}
	if creds.Host == "" {
		return nil, fmt.Errorf("host credentials carry no host")
	}

	u := strings.TrimRight(creds.Host, "/") + (&url.URL{Path: b.Endpoint(mediumPath)}).EscapedPath()
	if len(query) > 0 {
		u += "?" + encodeQuery(query)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.ContentLength = size
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	setAuth(req, creds)

	client := b.client
	if creds.Insecure {
		client = b.insecureClient
	}
	return client.Do(req)
}

func setAuth(req *http.Request, creds interfaces.HostCreds) {
	switch {
	case creds.Token != "":
		token := base64.StdEncoding.EncodeToString([]byte("token:" + creds.Token))
		req.Header.Set("Authorization", "Basic "+token)
	case creds.Username != "" || creds.Password != "":
		req.SetBasicAuth(creds.Username, creds.Password)
	}
}

// encodeQuery renders valueless flags as "?list" rather than "?list=".
func encodeQuery(query url.Values) string {
	parts := make([]string, 0, len(query))
	for k, vs := range query {
		for _, v := range vs {
			if v == "" {
				parts = append(parts, url.QueryEscape(k))
			} else {
				parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
			}
		}
	}
	return strings.Join(parts, "&")
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("status %d: %w: %s", resp.StatusCode, os.ErrNotExist, truncate(body))
	}
	return fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body))
}

func truncate(body []byte) string {
	const max = 512
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
