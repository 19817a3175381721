package cmd

import (
	"context"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/internal/observability"
	"github.com/3leaps/clipqueue/internal/server"
	"github.com/3leaps/clipqueue/internal/server/handlers"
	"github.com/3leaps/clipqueue/pkg/match"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the upload and status API with a background worker",
	Long: `Start the HTTP API and the job worker.

Routes:
  POST /upload              multipart files[] plus action (resize|reverse|remove_bg)
  GET  /tasks               all jobs in submission order
  GET  /tasks/{id}          one job
  GET  /download/{filename} a finished artifact
  GET  /health, /version

On SIGINT or SIGTERM the server stops accepting requests, the queue is
closed and the worker drains until the shutdown timeout.

Example:
  clipqueue serve
  clipqueue serve --port 9000 --workers 2`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Listen host (default from config)")
	serveCmd.Flags().Int("port", 0, "Listen port (default from config)")
	serveCmd.Flags().Int("workers", 0, "Concurrent job consumers (default from config)")
	serveCmd.Flags().String("upload-dir", "", "Directory for uploaded files")
	serveCmd.Flags().String("transform", "", "Background removal transform (chroma|matte)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}

	svc, err := buildServices(ctx, cfg, nil, logger)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start services", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("Failed to release services", zap.Error(err))
		}
	}()

	ext, err := match.NewExtensionMatcher(cfg.AllowedExtensions)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid allowed_extensions", err)
	}
	tasks, err := handlers.NewTaskHandler(svc.queue, handlers.TaskConfig{
		UploadDir:      cfg.Storage.UploadDir,
		OutputDir:      cfg.Storage.OutputDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Extensions:     ext,
	}, logger.Named("tasks"))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid upload configuration", err)
	}

	workerCtx, stopWorker := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorker()
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		_ = svc.worker.Run(workerCtx)
	}()

	id := GetAppIdentity()
	hm := handlers.InitHealthManager(versionInfo.Version)
	hm.RegisterChecker("signals", signalHealthChecker{})
	hm.RegisterChecker("identity", identityHealthChecker{
		binaryName: id.BinaryName,
		envPrefix:  id.EnvPrefix,
		configName: id.ConfigName,
	})
	hm.RegisterChecker("ffmpeg", toolHealthChecker{path: cfg.Media.FFmpegPath})
	hm.RegisterChecker("ffprobe", toolHealthChecker{path: cfg.Media.FFprobePath})
	hm.RegisterChecker("output_dir", dirHealthChecker{dir: cfg.Storage.OutputDir})
	hm.RegisterChecker("worker", workerHealthChecker{done: workerDone})

	srv := server.New(cfg.Server.Host, cfg.Server.Port,
		server.WithTasks(tasks),
		server.WithLogger(logger.Named("http")),
		server.WithSubmitLimit(cfg.Server.SubmitRate, cfg.Server.SubmitBurst),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout),
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	logger.Info("clipqueue serving",
		zap.String("addr", srv.Addr()),
		zap.Int("workers", cfg.Workers),
		zap.String("transform", cfg.Pipeline.Transform))

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutdown requested")
	case err := <-serveErr:
		if err != nil {
			runErr = exitError(foundry.ExitExternalServiceUnavailable, "HTTP server failed", err)
		}
	}

	shutdown(logger, srv, svc, workerDone, stopWorker, cfg.Server.ShutdownTimeout)
	return runErr
}

// shutdown stops the server, closes the queue and waits for the worker to
// drain until timeout, then cancels whatever is still running.
func shutdown(logger *zap.Logger, srv *server.Server, svc *services, workerDone <-chan struct{}, stopWorker context.CancelFunc, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}

	svc.queue.Close()
	select {
	case <-workerDone:
		logger.Info("Worker drained")
	case <-ctx.Done():
		logger.Warn("Shutdown timeout reached, canceling running jobs",
			zap.Int("pending", svc.queue.Len()))
		stopWorker()
		<-workerDone
	}
}
