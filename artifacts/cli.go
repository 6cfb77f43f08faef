package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/ruteri/artifact-repository/creds"
	"github.com/ruteri/artifact-repository/interfaces"
)

// DefaultCLITool is the executable the CLI backend delegates to.
const DefaultCLITool = "artifacts"

// ProcessResult is the outcome of one subprocess invocation.
type ProcessResult struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// ProcessLauncher runs argv to completion. A non-zero exit is reported in
// ProcessResult, not as an error; err is reserved for launch failures.
type ProcessLauncher interface {
	Run(ctx context.Context, argv []string, env []string) (ProcessResult, error)
}

// ExecLauncher launches real subprocesses. The child inherits the parent
// environment plus env. Cancelling ctx kills the child.
type ExecLauncher struct{}

// Run executes argv and captures stdout and stderr.
func (ExecLauncher) Run(ctx context.Context, argv []string, env []string) (ProcessResult, error) {
	if len(argv) == 0 {
		return ProcessResult{}, errors.New("empty command line")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Env = append(os.Environ(), env...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := ProcessResult{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}
	return result, nil
}

// CliBackend implements interfaces.ArtifactRepository by invoking the
// artifacts command line tool once per operation.
type CliBackend struct {
	tool        string
	runID       string
	creds       interfaces.HostCredsProvider
	launcher    ProcessLauncher
	log         *slog.Logger
	artifactURI string
}

// NewCliBackend creates a CLI-delegating backend. hostCreds may be nil, in which
// case the child relies on its inherited environment.
func NewCliBackend(artifactURI, runID, tool string, hostCreds interfaces.HostCredsProvider, launcher ProcessLauncher, log *slog.Logger) (*CliBackend, error) {
	if strings.TrimSpace(runID) == "" {
		return nil, fmt.Errorf("%w: run id is required by the CLI backend", interfaces.ErrInvalidArgument)
	}
	if tool == "" {
		tool = DefaultCLITool
	}
	if launcher == nil {
		launcher = ExecLauncher{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &CliBackend{
		tool:        tool,
		runID:       runID,
		creds:       hostCreds,
		launcher:    launcher,
		log:         log,
		artifactURI: artifactURI,
	}, nil
}

// LogArtifact runs "artifacts log-artifact --local-file <file>".
func (b *CliBackend) LogArtifact(ctx context.Context, localFile, artifactPath string) error {
	if err := checkLocalFile(localFile); err != nil {
		return err
	}
	_, err := b.invoke(ctx, "log artifact", "log-artifact", artifactPath, "--local-file", localFile)
	return err
}

// LogArtifacts runs "artifacts log-artifacts --local-dir <dir>".
func (b *CliBackend) LogArtifacts(ctx context.Context, localDir, artifactPath string) error {
	if err := checkLocalDir(localDir); err != nil {
		return err
	}
	_, err := b.invoke(ctx, "log artifacts", "log-artifacts", artifactPath, "--local-dir", localDir)
	return err
}

// ListArtifacts runs "artifacts list" and decodes its JSON output.
func (b *CliBackend) ListArtifacts(ctx context.Context, artifactPath string) ([]interfaces.FileInfo, error) {
	result, argv, err := b.invokeRaw(ctx, "list artifacts", "list", artifactPath)
	if err != nil {
		return nil, err
	}

	out := bytes.TrimSpace(result.Stdout)
	infos := []interfaces.FileInfo{}
	if len(out) > 0 {
		if err := json.Unmarshal(out, &infos); err != nil {
			return nil, &interfaces.StorageError{
				Op:      "list artifacts",
				Path:    artifactPath,
				Command: strings.Join(argv, " "),
				Stderr:  string(result.Stderr),
				Err:     fmt.Errorf("unparsable output: %w", err),
			}
		}
	}
	if infos == nil {
		infos = []interfaces.FileInfo{}
	}
	interfaces.SortFileInfos(infos)
	return infos, nil
}

// DownloadArtifacts runs "artifacts download" and returns the local path it
// prints.
func (b *CliBackend) DownloadArtifacts(ctx context.Context, artifactPath string) (string, error) {
	result, argv, err := b.invokeRaw(ctx, "download artifacts", "download", artifactPath)
	if err != nil {
		return "", err
	}

	localPath := strings.TrimSpace(string(result.Stdout))
	if localPath == "" || strings.Contains(localPath, "\n") {
		return "", &interfaces.StorageError{
			Op:      "download artifacts",
			Path:    artifactPath,
			Command: strings.Join(argv, " "),
			Stderr:  string(result.Stderr),
			Err:     fmt.Errorf("expected a single output line with the local path, got %q", localPath),
		}
	}
	return localPath, nil
}

// Name returns a unique identifier for this repository.
func (b *CliBackend) Name() string {
	return fmt.Sprintf("cli-%s-%s", b.tool, b.runID)
}

// ArtifactURI returns the base artifact URI.
func (b *CliBackend) ArtifactURI() string {
	return b.artifactURI
}

// Argv builds [tool, "artifacts", verb, "--run-id", runID, ("--artifact-path", p)?, extra...].
func (b *CliBackend) Argv(verb, artifactPath string, extra ...string) []string {
	argv := []string{b.tool, "artifacts", verb, "--run-id", b.runID}
	if p := NormalizeArtifactPath(artifactPath); p != "" {
		argv = append(argv, "--artifact-path", p)
	}
	return append(argv, extra...)
}

func (b *CliBackend) invoke(ctx context.Context, op, verb, artifactPath string, extra ...string) (ProcessResult, error) {
	result, _, err := b.invokeRaw(ctx, op, verb, artifactPath, extra...)
	return result, err
}

func (b *CliBackend) invokeRaw(ctx context.Context, op, verb, artifactPath string, extra ...string) (ProcessResult, []string, error) {
	start := time.Now()
	argv := b.Argv(verb, artifactPath, extra...)
	command := strings.Join(argv, " ")

	var env []string
	if b.creds != nil {
		c, err := b.creds.HostCreds(ctx)
		if err != nil {
			return ProcessResult{}, argv, &interfaces.StorageError{Op: op, Path: artifactPath, Command: command, Err: err}
		}
		env = creds.Environ(c)
	}

	result, err := b.launcher.Run(ctx, argv, env)
	if err != nil {
		b.log.Error("Failed to launch artifacts command",
			slog.String("command", command),
			"err", err)
		return result, argv, &interfaces.StorageError{
			Op:      op,
			Path:    artifactPath,
			Command: command,
			Stderr:  string(result.Stderr),
			Err:     err,
		}
	}
	if result.ExitCode != 0 {
		b.log.Warn("Artifacts command failed",
			slog.String("command", command),
			slog.Int("exit_code", result.ExitCode),
			slog.Duration("duration", time.Since(start)))
		return result, argv, &interfaces.StorageError{
			Op:      op,
			Path:    artifactPath,
			Command: command,
			Stderr:  string(result.Stderr),
			Err:     fmt.Errorf("exit code %d", result.ExitCode),
		}
	}

	b.log.Debug("Artifacts command succeeded",
		slog.String("command", command),
		slog.Duration("duration", time.Since(start)))
	return result, argv, nil
}
