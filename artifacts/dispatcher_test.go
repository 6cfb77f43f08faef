package artifacts

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ruteri/artifact-repository/interfaces"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func failingProbe(ctx context.Context) error {
	return errors.New("no FileSystem for scheme: dbfs")
}

func TestDbfsBackend_ProbeSuccessBindsMounted(t *testing.T) {
	fs := afero.NewMemMapFs()
	fallbackCalled := false

	d, err := NewDbfsBackend(context.Background(), ProbeMount(fs),
		func() (interfaces.ArtifactRepository, error) {
			return NewMountedBackend(fs, "/r", "dbfs:/r", testLogger()), nil
		},
		func() (interfaces.ArtifactRepository, error) {
			fallbackCalled = true
			return nil, errors.New("unexpected")
		},
		testLogger())
	require.NoError(t, err)

	assert.True(t, d.Mounted())
	assert.False(t, fallbackCalled)
	assert.IsType(t, &MountedBackend{}, d.Delegate())
	assert.Equal(t, "dbfs[mounted-/r]", d.Name())
	assert.Equal(t, "dbfs:/r", d.ArtifactURI())
}

func TestDbfsBackend_ProbeFailureRoutesEverythingToCli(t *testing.T) {
	ctx := context.Background()
	local := t.TempDir()
	writeTree(t, local, map[string]string{"model.pkl": "0123456789"})
	file := filepath.Join(local, "model.pkl")

	launcher := new(MockLauncher)
	launcher.On("Run", mock.Anything, []string{"artifacts", "artifacts", "log-artifact", "--run-id", "r1", "--local-file", file}, mock.Anything).
		Return(ProcessResult{}, nil)
	launcher.On("Run", mock.Anything, []string{"artifacts", "artifacts", "log-artifacts", "--run-id", "r1", "--local-dir", local}, mock.Anything).
		Return(ProcessResult{}, nil)
	launcher.On("Run", mock.Anything, []string{"artifacts", "artifacts", "list", "--run-id", "r1"}, mock.Anything).
		Return(ProcessResult{Stdout: []byte(`[{"path":"model.pkl","is_dir":false,"file_size":10}]`)}, nil)
	launcher.On("Run", mock.Anything, []string{"artifacts", "artifacts", "download", "--run-id", "r1"}, mock.Anything).
		Return(ProcessResult{Stdout: []byte("/tmp/artifacts-1\n")}, nil)

	mountedCalled := false
	d, err := NewDbfsBackend(ctx, failingProbe,
		func() (interfaces.ArtifactRepository, error) {
			mountedCalled = true
			return nil, errors.New("unexpected")
		},
		func() (interfaces.ArtifactRepository, error) {
			return NewCliBackend("dbfs:/r", "r1", "", nil, launcher, testLogger())
		},
		testLogger())
	require.NoError(t, err)
	assert.False(t, d.Mounted())
	assert.False(t, mountedCalled)

	require.NoError(t, d.LogArtifact(ctx, file, ""))
	require.NoError(t, d.LogArtifacts(ctx, local, ""))

	infos, err := d.ListArtifacts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []interfaces.FileInfo{fileEntry("model.pkl", 10)}, infos)

	localPath, err := d.DownloadArtifacts(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/artifacts-1", localPath)

	launcher.AssertNumberOfCalls(t, "Run", 4)
}

func TestDbfsBackend_NilProbeFallsBack(t *testing.T) {
	d, err := NewDbfsBackend(context.Background(), nil,
		func() (interfaces.ArtifactRepository, error) {
			return nil, errors.New("unexpected")
		},
		func() (interfaces.ArtifactRepository, error) {
			return NewMountedBackend(afero.NewMemMapFs(), "/", "dbfs:/", testLogger()), nil
		},
		testLogger())
	require.NoError(t, err)
	assert.False(t, d.Mounted())
}

func TestDbfsBackend_DelegateConstructionError(t *testing.T) {
	_, err := NewDbfsBackend(context.Background(), failingProbe,
		nil,
		func() (interfaces.ArtifactRepository, error) {
			return NewCliBackend("dbfs:/r", "", "", nil, nil, testLogger())
		},
		testLogger())
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}
