package artifacts

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/ruteri/artifact-repository/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket implementing the calls S3Backend makes.
type fakeS3 struct {
	s3iface.S3API

	mu        sync.Mutex
	bucket    string
	objects   map[string][]byte
	listCalls int
	listErr   error
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{bucket: bucket, objects: map[string][]byte{}}
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	if aws.StringValue(input.Bucket) != f.bucket {
		return nil, awserr.New(s3.ErrCodeNoSuchBucket, "no such bucket", nil)
	}
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.StringValue(input.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.StringValue(input.Key)]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "The specified key does not exist.", nil)
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) ListObjectsV2PagesWithContext(ctx aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return f.listErr
	}

	prefix := aws.StringValue(input.Prefix)
	delimiter := aws.StringValue(input.Delimiter)

	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &s3.ListObjectsV2Output{}
	seen := map[string]bool{}
	for _, k := range keys {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		if delimiter != "" {
			if i := strings.Index(rest, delimiter); i >= 0 {
				cp := prefix + rest[:i+len(delimiter)]
				if !seen[cp] {
					seen[cp] = true
					out.CommonPrefixes = append(out.CommonPrefixes, &s3.CommonPrefix{Prefix: aws.String(cp)})
				}
				continue
			}
		}
		out.Contents = append(out.Contents, &s3.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(f.objects[k]))),
		})
	}

	// Deliver one object per page to exercise pagination.
	if len(out.Contents) <= 1 {
		fn(out, true)
		return nil
	}
	for i, obj := range out.Contents {
		page := &s3.ListObjectsV2Output{Contents: []*s3.Object{obj}}
		if i == 0 {
			page.CommonPrefixes = out.CommonPrefixes
		}
		if !fn(page, i == len(out.Contents)-1) {
			break
		}
	}
	return nil
}

func TestS3Backend_Contract(t *testing.T) {
	testRepositoryContract(t, func(t *testing.T) interfaces.ArtifactRepository {
		return NewS3Backend(newFakeS3("artifacts"), "artifacts", "/runs/1/", "s3://artifacts/runs/1", testLogger())
	})
}

func TestS3Backend_NoPrefix(t *testing.T) {
	testRepositoryContract(t, func(t *testing.T) interfaces.ArtifactRepository {
		return NewS3Backend(newFakeS3("artifacts"), "artifacts", "", "s3://artifacts", testLogger())
	})
}

func TestS3Backend_ObjectLayout(t *testing.T) {
	client := newFakeS3("artifacts")
	repo := NewS3Backend(client, "artifacts", "runs/1", "s3://artifacts/runs/1", testLogger())

	local := t.TempDir()
	writeTree(t, local, map[string]string{"a.txt": "a", "sub/b.txt": "b"})
	require.NoError(t, repo.LogArtifacts(context.Background(), local, "/out"))

	keys := make([]string, 0, len(client.objects))
	for k := range client.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"runs/1/out/a.txt", "runs/1/out/sub/b.txt"}, keys)
	assert.Equal(t, "s3-artifacts", repo.Name())
}

func TestS3Backend_SkipsDirectoryMarkers(t *testing.T) {
	client := newFakeS3("artifacts")
	client.objects["runs/1/out/"] = nil
	client.objects["runs/1/out/a.txt"] = []byte("abc")
	repo := NewS3Backend(client, "artifacts", "runs/1", "s3://artifacts/runs/1", testLogger())

	infos, err := repo.ListArtifacts(context.Background(), "out")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.FileInfo{fileEntry("out/a.txt", 3)}, infos)
}

func TestS3Backend_ListErrors(t *testing.T) {
	client := newFakeS3("artifacts")
	repo := NewS3Backend(client, "artifacts", "", "s3://artifacts", testLogger())

	client.listErr = awserr.New(s3.ErrCodeNoSuchBucket, "gone", nil)
	infos, err := repo.ListArtifacts(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, infos)

	denied := awserr.New("AccessDenied", "denied", nil)
	client.listErr = denied
	_, err = repo.ListArtifacts(context.Background(), "")
	assert.ErrorIs(t, err, interfaces.ErrStorageOperationFailed)
	assert.True(t, errors.Is(err, denied))
}

func TestS3Backend_UploadToMissingBucket(t *testing.T) {
	repo := NewS3Backend(newFakeS3("artifacts"), "other", "", "s3://other", testLogger())

	local := t.TempDir()
	writeTree(t, local, map[string]string{"f.txt": "x"})
	err := repo.LogArtifact(context.Background(), filepath.Join(local, "f.txt"), "")
	assert.ErrorIs(t, err, interfaces.ErrStorageOperationFailed)
}
