package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ruteri/artifact-repository/cmd/flags"
	"github.com/ruteri/artifact-repository/httpserver"
	"github.com/spf13/afero"
	"github.com/urfave/cli/v2"
)

var storageRootFlag = &cli.StringFlag{
	Name:    "storage-root",
	EnvVars: []string{"ARTIFACTS_STORAGE_ROOT"},
	Usage:   "local directory holding the stored objects",
}

var appFlags = append([]cli.Flag{
	&cli.StringFlag{
		Name:  "listen-addr",
		Value: "127.0.0.1:8080",
		Usage: "address to listen on for API",
	},
	storageRootFlag,
	flags.RESTPrefixFlag,
	flags.AuthTokenFlag,
	flags.LogServiceFlagFn("artifact-gateway"),
}, flags.CommonFlags...)

func main() {
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "artifact-gateway",
		Usage: "Serve a local directory as the REST artifact object store",
		Flags: appFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			storageRoot := cCtx.String(storageRootFlag.Name)
			if storageRoot == "" {
				logger.Error("storage-root is required")
				return errors.New("storage-root is required")
			}
			if err := os.MkdirAll(storageRoot, 0o755); err != nil {
				logger.Error("Failed to create storage root", "path", storageRoot, "err", err)
				return err
			}

			fs := afero.NewBasePathFs(afero.NewOsFs(), storageRoot)
			handler := httpserver.NewHandler(fs, cCtx.String(flags.RESTPrefixFlag.Name), logger).
				WithAuthToken(cCtx.String(flags.AuthTokenFlag.Name))

			cfg := flags.ConfigureServer(cCtx, logger, cCtx.String("listen-addr"))
			server, err := httpserver.New(cfg, handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			logger.Info("Starting server",
				"listen_addr", cfg.ListenAddr,
				"storage_root", storageRoot,
				"prefix", handler.Prefix())
			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
