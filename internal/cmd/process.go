package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/internal/observability"
	"github.com/3leaps/clipqueue/pkg/job"
	"github.com/3leaps/clipqueue/pkg/output"
	"github.com/3leaps/clipqueue/pkg/provider"
)

var processCmd = &cobra.Command{
	Use:   "process <file|s3://bucket/key>",
	Short: "Run one job and wait for it",
	Long: `Run a single job against a local file or an s3:// object and wait for it
to finish. The final job record is written as JSONL.

Operations: resize, reverse, remove_bg (aliases: rescale, remove_background).

Examples:
  clipqueue process clip.mp4 --op remove_bg
  clipqueue process clip.mp4 --op reverse --output-dir renders
  clipqueue process s3://footage/in/take1.mov --op resize --region eu-west-1`,
	Args: cobra.ExactArgs(1),
	RunE: runProcess,
}

var (
	processOp               string
	processOutput           string
	processProgressInterval time.Duration
	processConn             s3Connection
)

func init() {
	rootCmd.AddCommand(processCmd)

	processCmd.Flags().StringVar(&processOp, "op", "", "Operation (resize|reverse|remove_bg) (required)")
	processCmd.Flags().StringVarP(&processOutput, "output", "o", "stdout", "Record destination (stdout, PATH or file:PATH)")
	processCmd.Flags().DurationVar(&processProgressInterval, "progress-interval", 0, "Emit progress records at this interval (0 disables)")
	processCmd.Flags().String("transform", "", "Background removal transform (chroma|matte)")
	addS3ConnectionFlags(processCmd, &processConn)

	_ = processCmd.MarkFlagRequired("op")
}

// addS3ConnectionFlags registers the flags used to reach s3:// inputs.
func addS3ConnectionFlags(c *cobra.Command, conn *s3Connection) {
	c.Flags().StringVar(&conn.Region, "region", "", "AWS region for s3:// inputs")
	c.Flags().StringVar(&conn.Endpoint, "endpoint", "", "Custom S3 endpoint for s3:// inputs")
	c.Flags().StringVar(&conn.Profile, "profile", "", "AWS profile for s3:// inputs")
	c.Flags().BoolVar(&conn.ForcePathStyle, "force-path-style", false, "Use path-style S3 addressing")
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}

	op, err := job.ParseOperation(processOp)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid --op", err)
	}

	location, name, inputs, err := resolveProcessInput(ctx, args[0])
	if err != nil {
		return err
	}
	if inputs != nil {
		defer func() { _ = inputs.Close() }()
	}

	svc, err := buildServices(ctx, cfg, inputs, logger)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start services", err)
	}
	defer func() { _ = svc.Close() }()

	runID := uuid.NewString()
	writer, cleanup, err := createWriter(processOutput, runID)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	id, err := svc.queue.Submit(name, op, location)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Failed to submit job", err)
	}
	svc.queue.Close()
	logger.Info("Job submitted",
		zap.String("job_id", id),
		zap.String("input", location),
		zap.String("operation", string(op)))

	progressCtx, stopProgress := context.WithCancel(ctx)
	go reportProgress(progressCtx, svc.queue, writer, processProgressInterval)
	runErr := svc.worker.Run(ctx)
	stopProgress()

	j, err := svc.queue.Get(id)
	if err != nil {
		return exitError(exitFailure, "Job lost", err)
	}
	if err := writer.WriteJob(context.WithoutCancel(ctx), output.NewJobRecord(j)); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write job record", err)
	}

	if runErr != nil && j.State != job.StateCompleted {
		return exitError(foundry.ExitSignalInt, "Interrupted", runErr)
	}
	if j.State == job.StateFailed {
		return exitError(exitCodeForFailure(j.FailureCode), "Job failed", errors.New(j.FailureReason))
	}
	if j.State != job.StateCompleted {
		return exitError(exitFailure, "Job did not finish", fmt.Errorf("state %s", j.State))
	}
	logger.Info("Job completed", zap.String("job_id", id), zap.String("output", j.OutputLocation))
	return nil
}

// resolveProcessInput returns the job location and display name for arg.
// s3:// inputs also return the store that serves them.
func resolveProcessInput(ctx context.Context, arg string) (string, string, provider.Provider, error) {
	if provider.IsRemote(arg) {
		loc, err := provider.ParseURI(arg)
		if err != nil {
			return "", "", nil, exitError(foundry.ExitInvalidArgument, "Invalid input URI", err)
		}
		if loc.Key == "" || loc.Key[len(loc.Key)-1] == '/' {
			return "", "", nil, exitError(foundry.ExitInvalidArgument, "Input URI names no object", fmt.Errorf("%s", arg))
		}
		store, err := newInputStore(ctx, loc.Bucket, processConn)
		if err != nil {
			return "", "", nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open input bucket", err)
		}
		return loc.String(), path.Base(loc.Key), store, nil
	}

	abs, err := filepath.Abs(arg)
	if err != nil {
		return "", "", nil, exitError(foundry.ExitInvalidArgument, "Invalid input path", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", nil, exitError(foundry.ExitFileNotFound, "Input not found", err)
	}
	if info.IsDir() {
		return "", "", nil, exitError(foundry.ExitInvalidArgument, "Input is a directory", fmt.Errorf("%s", abs))
	}
	return abs, filepath.Base(abs), nil, nil
}
