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

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/artifact-repository/interfaces"
)

// S3Backend implements interfaces.ArtifactRepository on Amazon S3 or a
// compatible object store. Directories are key prefixes.
type S3Backend struct {
	client      s3iface.S3API
	bucketName  string
	prefix      string
	log         *slog.Logger
	artifactURI string
}

// NewS3Client creates an S3 client for the given region and optional custom
// endpoint. Without static credentials the default AWS credential chain is
// used.
func NewS3Client(region, endpoint, accessKey, secretKey string, pathStyle bool) (s3iface.S3API, error) {
	cfg := aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
	}
	if pathStyle {
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	if accessKey != "" && secretKey != "" {
		cfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return s3.New(sess), nil
}

// NewS3Backend creates a backend storing artifacts below bucketName/prefix.
func NewS3Backend(client s3iface.S3API, bucketName, prefix, artifactURI string, log *slog.Logger) *S3Backend {
	if log == nil {
		log = slog.Default()
	}
	return &S3Backend{
		client:      client,
		bucketName:  bucketName,
		prefix:      strings.Trim(prefix, "/"),
		log:         log,
		artifactURI: artifactURI,
	}
}

// LogArtifact uploads a local file to prefix/artifactPath/basename.
func (b *S3Backend) LogArtifact(ctx context.Context, localFile, artifactPath string) error {
	if err := checkLocalFile(localFile); err != nil {
		return err
	}
	key := b.objectKey(JoinArtifactPath(artifactPath, filepath.Base(localFile)))

	f, err := os.Open(localFile)
	if err != nil {
		return &interfaces.StorageError{Op: "log artifact to", Path: key, Err: err}
	}
	defer f.Close()

	_, err = b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		b.log.Error("Failed to upload object to S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", key),
			"err", err)
		return &interfaces.StorageError{Op: "log artifact to", Path: key, Err: err}
	}

	b.log.Debug("Stored artifact in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", key))
	return nil
}

// LogArtifacts mirrors a local directory tree below artifactPath.
func (b *S3Backend) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	return walkLocalTree(ctx, localDir, artifactPath, b.LogArtifact)
}

// ListArtifacts lists the immediate children of artifactPath using a "/"
// delimiter: common prefixes are directories, objects are files.
func (b *S3Backend) ListArtifacts(ctx context.Context, artifactPath string) ([]interfaces.FileInfo, error) {
	dirKey := b.objectKey(NormalizeArtifactPath(artifactPath))
	listPrefix := ""
	if dirKey != "" {
		listPrefix = dirKey + "/"
	}

	infos := []interfaces.FileInfo{}
	err := b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.bucketName),
		Prefix:    aws.String(listPrefix),
		Delimiter: aws.String("/"),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, cp := range page.CommonPrefixes {
			rel, err := b.relativeKey(strings.TrimSuffix(aws.StringValue(cp.Prefix), "/"))
			if err != nil {
				continue
			}
			infos = append(infos, interfaces.NewDirEntry(rel))
		}
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == listPrefix {
				// Zero-byte directory marker.
				continue
			}
			rel, err := b.relativeKey(key)
			if err != nil {
				continue
			}
			infos = append(infos, interfaces.NewFileEntry(rel, aws.Int64Value(obj.Size)))
		}
		return true
	})
	if err != nil {
		if isS3NotFound(err) {
			return []interfaces.FileInfo{}, nil
		}
		return nil, &interfaces.StorageError{Op: "list artifacts in", Path: listPrefix, Err: err}
	}

	interfaces.SortFileInfos(infos)
	return infos, nil
}

// DownloadArtifacts fetches the object or every object below artifactPath
// into a new temporary directory.
func (b *S3Backend) DownloadArtifacts(ctx context.Context, artifactPath string) (localPath string, err error) {
	start := time.Now()
	requested := NormalizeArtifactPath(artifactPath)
	dirKey := b.objectKey(requested)

	var keys []string
	sawMarker := false
	listPrefix := ""
	if dirKey != "" {
		listPrefix = dirKey + "/"
	}
	err = b.client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(b.bucketName),
		Prefix: aws.String(listPrefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if strings.HasSuffix(key, "/") {
				// Directory markers make an otherwise empty prefix a directory.
				sawMarker = true
				continue
			}
			keys = append(keys, key)
		}
		return true
	})
	if err != nil && !isS3NotFound(err) {
		return "", &interfaces.StorageError{Op: "download artifacts from", Path: listPrefix, Err: err}
	}

	stageDir, err := stageDownloadDir()
	if err != nil {
		return "", err
	}
	defer discardStageOnError(stageDir, &err)

	if len(keys) == 0 {
		if requested == "" || sawMarker {
			return stageDir, nil
		}
		dst := filepath.Join(stageDir, path.Base(requested))
		if err := b.fetch(ctx, dirKey, dst); err != nil {
			return "", err
		}
		return dst, nil
	}

	for _, key := range keys {
		rel := strings.TrimPrefix(key, listPrefix)
		dst, err := localDestination(stageDir, rel)
		if err != nil {
			return "", err
		}
		if err := b.fetch(ctx, key, dst); err != nil {
			return "", err
		}
	}

	b.log.Debug("Downloaded artifacts from S3",
		slog.String("bucket", b.bucketName),
		slog.String("prefix", listPrefix),
		slog.Int("files", len(keys)),
		slog.Duration("duration", time.Since(start)))
	return stageDir, nil
}

// Name returns a unique identifier for this repository.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// ArtifactURI returns the base artifact URI.
func (b *S3Backend) ArtifactURI() string {
	return b.artifactURI
}

func (b *S3Backend) fetch(ctx context.Context, key, dst string) error {
	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: key, Err: err}
	}
	defer result.Body.Close()

	out, err := os.Create(dst)
	if err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: key, Err: err}
	}
	if _, err := io.Copy(out, result.Body); err != nil {
		out.Close()
		return &interfaces.StorageError{Op: "download artifact from", Path: key, Err: err}
	}
	if err := out.Close(); err != nil {
		return &interfaces.StorageError{Op: "download artifact from", Path: key, Err: err}
	}
	return nil
}

// objectKey generates an S3 object key for a normalized artifact path.
func (b *S3Backend) objectKey(rel string) string {
	if b.prefix == "" {
		return rel
	}
	if rel == "" {
		return b.prefix
	}
	return path.Join(b.prefix, rel)
}

func (b *S3Backend) relativeKey(key string) (string, error) {
	if b.prefix == "" {
		return key, nil
	}
	if !strings.HasPrefix(key, b.prefix+"/") {
		return "", fmt.Errorf("key %s is not below %s", key, b.prefix)
	}
	return strings.TrimPrefix(key, b.prefix+"/"), nil
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}
