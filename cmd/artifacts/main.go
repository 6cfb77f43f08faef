package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ruteri/artifact-repository/artifacts"
	"github.com/ruteri/artifact-repository/cmd/flags"
	"github.com/ruteri/artifact-repository/creds"
	"github.com/ruteri/artifact-repository/interfaces"
	"github.com/urfave/cli/v2"
)

var profileFlag = &cli.StringFlag{
	Name:    "profile",
	EnvVars: []string{"ARTIFACTS_PROFILE"},
	Usage:   "read tracking credentials from this section of ~/.artifactscfg instead of TRACKING_* variables",
}

var runIDFlag = &cli.StringFlag{
	Name:     "run-id",
	Required: true,
	Usage:    "run whose artifacts are addressed",
}

var artifactPathFlag = &cli.StringFlag{
	Name:  "artifact-path",
	Usage: "path relative to the run's artifact root",
}

func newApp() *cli.App {
	globalFlags := append([]cli.Flag{
		flags.LogServiceFlagFn("artifacts"),
		flags.ArtifactRootFlag,
		flags.MountRootFlag,
		flags.RESTPrefixFlag,
		profileFlag,
	}, flags.LogFlags...)

	return &cli.App{
		Name:  "artifacts",
		Usage: "Upload, list and download run artifacts",
		Flags: globalFlags,
		Commands: []*cli.Command{
			{
				Name:  "artifacts",
				Usage: "Operate on the artifacts of a run",
				Subcommands: []*cli.Command{
					{
						Name:  "log-artifact",
						Usage: "Upload a single local file",
						Flags: []cli.Flag{runIDFlag, artifactPathFlag, &cli.StringFlag{
							Name:     "local-file",
							Required: true,
							Usage:    "file to upload",
						}},
						Action: func(cCtx *cli.Context) error {
							return withRepository(cCtx, func(ctx context.Context, repo interfaces.ArtifactRepository) error {
								return repo.LogArtifact(ctx, cCtx.String("local-file"), cCtx.String(artifactPathFlag.Name))
							})
						},
					},
					{
						Name:  "log-artifacts",
						Usage: "Upload the contents of a local directory",
						Flags: []cli.Flag{runIDFlag, artifactPathFlag, &cli.StringFlag{
							Name:     "local-dir",
							Required: true,
							Usage:    "directory whose contents are uploaded",
						}},
						Action: func(cCtx *cli.Context) error {
							return withRepository(cCtx, func(ctx context.Context, repo interfaces.ArtifactRepository) error {
								return repo.LogArtifacts(ctx, cCtx.String("local-dir"), cCtx.String(artifactPathFlag.Name))
							})
						},
					},
					{
						Name:  "list",
						Usage: "Print the direct children of an artifact path as a JSON array",
						Flags: []cli.Flag{runIDFlag, artifactPathFlag},
						Action: func(cCtx *cli.Context) error {
							return withRepository(cCtx, func(ctx context.Context, repo interfaces.ArtifactRepository) error {
								infos, err := repo.ListArtifacts(ctx, cCtx.String(artifactPathFlag.Name))
								if err != nil {
									return err
								}
								if infos == nil {
									infos = []interfaces.FileInfo{}
								}
								return json.NewEncoder(cCtx.App.Writer).Encode(infos)
							})
						},
					},
					{
						Name:  "download",
						Usage: "Download an artifact file or directory and print the local path",
						Flags: []cli.Flag{runIDFlag, artifactPathFlag},
						Action: func(cCtx *cli.Context) error {
							return withRepository(cCtx, func(ctx context.Context, repo interfaces.ArtifactRepository) error {
								localPath, err := repo.DownloadArtifacts(ctx, cCtx.String(artifactPathFlag.Name))
								if err != nil {
									return err
								}
								_, err = fmt.Fprintln(cCtx.App.Writer, localPath)
								return err
							})
						},
					},
				},
			},
		},
	}
}

// withRepository resolves the run's repository with native backends only, so
// the CLI backend never ends up invoking this binary again.
func withRepository(cCtx *cli.Context, fn func(ctx context.Context, repo interfaces.ArtifactRepository) error) error {
	logger := flags.SetupLogger(cCtx)

	runID := cCtx.String(runIDFlag.Name)
	artifactURI, err := runArtifactURI(cCtx.String(flags.ArtifactRootFlag.Name), runID)
	if err != nil {
		return err
	}

	var provider interfaces.HostCredsProvider = creds.EnvProvider{}
	if profile := cCtx.String(profileFlag.Name); profile != "" {
		provider = creds.ProfileProvider{Profile: profile}
	}

	factory := artifacts.NewRepositoryFactory(logger, provider).
		WithNativeBackends().
		WithMount(artifacts.NewDbfsMount(cCtx.String(flags.MountRootFlag.Name))).
		WithRESTPrefix(cCtx.String(flags.RESTPrefixFlag.Name))

	repo, err := factory.ArtifactRepositoryFor(artifactURI, runID)
	if err != nil {
		logger.Error("Failed to create artifact repository", "uri", artifactURI, "err", err)
		return err
	}

	logger.Debug("Running artifacts command",
		slog.String("command", cCtx.Command.Name),
		slog.String("run_id", runID),
		slog.String("backend", repo.Name()))

	if err := fn(cCtx.Context, repo); err != nil {
		logger.Error("Artifacts command failed", "command", cCtx.Command.Name, "err", err)
		return err
	}
	return nil
}

// runArtifactURI returns <artifactRoot>/<runID>/artifacts.
func runArtifactURI(artifactRoot, runID string) (string, error) {
	artifactRoot = strings.TrimRight(strings.TrimSpace(artifactRoot), "/")
	if artifactRoot == "" {
		return "", fmt.Errorf("%w: --%s (or ARTIFACT_ROOT) is required", interfaces.ErrInvalidArgument, flags.ArtifactRootFlag.Name)
	}
	runID = strings.Trim(strings.TrimSpace(runID), "/")
	if runID == "" || strings.Contains(runID, "/") || runID == "." || runID == ".." {
		return "", fmt.Errorf("%w: invalid run id %q", interfaces.ErrInvalidArgument, runID)
	}
	return artifactRoot + "/" + runID + "/artifacts", nil
}

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}
