package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ruteri/artifact-repository/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var stdout bytes.Buffer
	app.Writer = &stdout
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"artifacts"}, args...))
	return stdout.String(), err
}

func TestRunArtifactURI(t *testing.T) {
	tests := []struct {
		root    string
		runID   string
		want    string
		wantErr bool
	}{
		{root: "s3://bucket/mlruns", runID: "abc", want: "s3://bucket/mlruns/abc/artifacts"},
		{root: "dbfs:/databricks/mlflow/", runID: "abc", want: "dbfs:/databricks/mlflow/abc/artifacts"},
		{root: "/tmp/runs", runID: "/abc/", want: "/tmp/runs/abc/artifacts"},
		{root: "", runID: "abc", wantErr: true},
		{root: "/tmp/runs", runID: "a/b", wantErr: true},
		{root: "/tmp/runs", runID: "..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.root+"|"+tt.runID, func(t *testing.T) {
			got, err := runArtifactURI(tt.root, tt.runID)
			if tt.wantErr {
				assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArtifactsCommand_RoundTrip(t *testing.T) {
	root := "file://" + filepath.ToSlash(t.TempDir())

	local := t.TempDir()
	file := filepath.Join(local, "model.pkl")
	require.NoError(t, os.WriteFile(file, []byte("abc"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(local, "plots"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(local, "plots", "loss.png"), []byte("png"), 0o644))

	_, err := runApp(t, "--artifact-root", root, "artifacts", "log-artifact", "--run-id", "r1", "--local-file", file)
	require.NoError(t, err)

	_, err = runApp(t, "--artifact-root", root, "artifacts", "log-artifacts", "--run-id", "r1", "--artifact-path", "out", "--local-dir", local)
	require.NoError(t, err)

	stdout, err := runApp(t, "--artifact-root", root, "artifacts", "list", "--run-id", "r1")
	require.NoError(t, err)
	var infos []interfaces.FileInfo
	require.NoError(t, json.Unmarshal([]byte(stdout), &infos))
	assert.Equal(t, []interfaces.FileInfo{
		interfaces.NewFileEntry("model.pkl", 3),
		interfaces.NewDirEntry("out"),
	}, infos)

	stdout, err = runApp(t, "--artifact-root", root, "artifacts", "download", "--run-id", "r1", "--artifact-path", "out")
	require.NoError(t, err)
	localPath := strings.TrimSpace(stdout)
	data, err := os.ReadFile(filepath.Join(localPath, "plots", "loss.png"))
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestArtifactsCommand_ListMissingRun(t *testing.T) {
	stdout, err := runApp(t, "--artifact-root", t.TempDir(), "artifacts", "list", "--run-id", "nope")
	require.NoError(t, err)
	assert.Equal(t, "[]\n", stdout)
}

func TestArtifactsCommand_Errors(t *testing.T) {
	_, err := runApp(t, "artifacts", "list")
	assert.Error(t, err, "--run-id is required")

	_, err = runApp(t, "--artifact-root", "gs://bucket/runs", "artifacts", "list", "--run-id", "r1")
	assert.ErrorIs(t, err, interfaces.ErrUnsupportedScheme)

	_, err = runApp(t, "--artifact-root", t.TempDir(), "artifacts", "log-artifact", "--run-id", "r1", "--local-file", filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, interfaces.ErrInvalidArgument)
}
