// Package worker consumes the job queue and runs each job to a terminal
// state.
//
// By default a single consumer processes jobs strictly one after another.
// Config.Workers > 1 starts a fixed pool of consumers sharing the queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/pkg/framesource"
	"github.com/3leaps/clipqueue/pkg/job"
	"github.com/3leaps/clipqueue/pkg/jobqueue"
	"github.com/3leaps/clipqueue/pkg/media"
	"github.com/3leaps/clipqueue/pkg/pipeline"
	"github.com/3leaps/clipqueue/pkg/provider"
)

// Transcoder runs the single-invocation transforms (rescale, reverse).
type Transcoder interface {
	Transcode(ctx context.Context, op job.Operation, inputPath, outputPath string, progress media.ProgressFunc) error
}

// Remover runs the streaming background removal.
type Remover interface {
	Run(ctx context.Context, inputPath, outputPath string, progress pipeline.ProgressFunc) (pipeline.Result, error)
}

// ProbeFunc reads source metadata. The worker uses it to estimate the total
// frame count of transcode jobs.
type ProbeFunc func(ctx context.Context, path string) (framesource.Metadata, error)

// Config tunes the worker.
type Config struct {
	// Workers is the number of concurrent consumers. Values below 1 mean 1.
	Workers int

	// OutputDir receives finished artifacts.
	OutputDir string

	// FetchDir receives remote inputs downloaded before processing.
	FetchDir string

	// PublishPrefix is prepended to artifact names when publishing.
	PublishPrefix string
}

// DefaultConfig returns the default worker configuration.
func DefaultConfig() Config {
	return Config{
		Workers:   1,
		OutputDir: "outputs",
		FetchDir:  "uploads",
	}
}

// Options carries the collaborators a worker dispatches to. Transcoder and
// Remover are required; the rest are optional.
type Options struct {
	Transcoder Transcoder
	Remover    Remover

	// Probe estimates total frames for transcode jobs.
	Probe ProbeFunc

	// Inputs serves s3:// input locations.
	Inputs provider.Provider

	// Publisher receives a copy of every completed artifact.
	Publisher provider.Provider
}

// Worker drives jobs from a queue through the media tools.
type Worker struct {
	queue  *jobqueue.Queue
	opts   Options
	cfg    Config
	logger *zap.Logger
	now    func() time.Time

	// complete records a finished job; the queue's Complete by default.
	complete func(id string, out job.Output) error
}

// New creates a worker. A nil logger disables logging.
func New(q *jobqueue.Queue, opts Options, cfg Config, logger *zap.Logger) *Worker {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultConfig().OutputDir
	}
	if cfg.FetchDir == "" {
		cfg.FetchDir = DefaultConfig().FetchDir
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    q,
		opts:     opts,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		complete: q.Complete,
	}
}

// Run consumes jobs until the queue is closed and drained or ctx is done.
// It returns ctx.Err() when stopped by the context and nil otherwise.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("Worker started", zap.Int("workers", w.cfg.Workers))

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consume(ctx, slot)
		}(i)
	}
	wg.Wait()

	w.logger.Info("Worker stopped")
	return ctx.Err()
}

func (w *Worker) consume(ctx context.Context, slot int) {
	for {
		id, err := w.queue.Dequeue(ctx)
		if err != nil {
			if !errors.Is(err, jobqueue.ErrClosed) && ctx.Err() == nil {
				w.logger.Error("Dequeue failed", zap.Int("slot", slot), zap.Error(err))
			}
			return
		}
		_, _ = w.Process(ctx, id)
	}
}

// Process runs one job to a terminal state and returns its final snapshot.
// The returned error is the failure recorded on the job, if any. Panics are
// recovered and recorded as failures.
func (w *Worker) Process(ctx context.Context, id string) (j job.Job, err error) {
	logger := w.logger.With(zap.String("job_id", id))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			logger.Error("Job panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			w.fail(logger, id, err)
			j, _ = w.queue.Get(id)
		}
	}()

	j, err = w.queue.Get(id)
	if err != nil {
		return j, err
	}
	if err := w.queue.Start(id); err != nil {
		logger.Warn("Job could not start", zap.Error(err))
		return j, err
	}
	logger.Info("Job started",
		zap.String("operation", string(j.Operation)),
		zap.String("filename", j.SourceName),
	)

	out, runErr := w.execute(ctx, logger, j)
	if runErr != nil {
		w.fail(logger, id, runErr)
		j, _ = w.queue.Get(id)
		return j, runErr
	}

	if err := w.complete(id, out); err != nil {
		logger.Error("Failed to record completion", zap.Error(err))
		err = fmt.Errorf("record completion: %w", err)
		w.fail(logger, id, err)
		j, _ = w.queue.Get(id)
		return j, err
	}
	logger.Info("Job completed", zap.String("output", out.Name))

	if w.opts.Publisher != nil {
		w.publish(ctx, logger, id, out)
	}

	j, _ = w.queue.Get(id)
	return j, nil
}

func (w *Worker) fail(logger *zap.Logger, id string, cause error) {
	code := media.Code(cause)
	logger.Warn("Job failed", zap.String("code", code), zap.Error(cause))
	if err := w.queue.Fail(id, code, media.Reason(cause)); err != nil {
		logger.Error("Failed to record failure", zap.Error(err))
	}
}

// execute resolves the input, dispatches by operation and verifies the
// artifact.
func (w *Worker) execute(ctx context.Context, logger *zap.Logger, j job.Job) (job.Output, error) {
	if !j.Operation.Valid() {
		return job.Output{}, &media.Error{Op: "dispatch", Err: media.ErrInvalidOperation, Cause: fmt.Errorf("operation %q", j.Operation)}
	}

	inputPath, cleanup, err := w.resolveInput(ctx, logger, j)
	if err != nil {
		return job.Output{}, err
	}
	defer cleanup()

	if err := os.MkdirAll(w.cfg.OutputDir, 0o755); err != nil {
		return job.Output{}, fmt.Errorf("create output dir: %w", err)
	}
	name := media.OutputName(j.SourceName, j.Operation, media.Token(w.now(), j.ID))
	outputPath := filepath.Join(w.cfg.OutputDir, name)

	switch j.Operation {
	case job.OpRemoveBackground:
		_, err = w.opts.Remover.Run(ctx, inputPath, outputPath, func(frames, total int64) {
			w.progress(logger, j.ID, frames, total)
		})
	default:
		total := w.estimateFrames(ctx, logger, inputPath)
		err = w.opts.Transcoder.Transcode(ctx, j.Operation, inputPath, outputPath, func(frames int64) {
			w.progress(logger, j.ID, frames, total)
		})
	}
	if err != nil {
		return job.Output{}, err
	}

	size, err := media.VerifyArtifact(outputPath)
	if err != nil {
		return job.Output{}, err
	}
	logger.Debug("Artifact verified", zap.String("path", outputPath), zap.Int64("bytes", size))

	return job.Output{Name: name, Location: outputPath}, nil
}

func (w *Worker) progress(logger *zap.Logger, id string, frames, total int64) {
	if err := w.queue.SetProgress(id, frames, total); err != nil {
		logger.Debug("Progress update rejected", zap.Error(err))
	}
}

// estimateFrames returns the probed frame count, or zero when unknown.
func (w *Worker) estimateFrames(ctx context.Context, logger *zap.Logger, inputPath string) int64 {
	if w.opts.Probe == nil {
		return 0
	}
	meta, err := w.opts.Probe(ctx, inputPath)
	if err != nil {
		logger.Debug("Frame estimate unavailable", zap.Error(err))
		return 0
	}
	return meta.FrameCount
}

// resolveInput returns a local path for the job's input. Remote inputs are
// downloaded into FetchDir and removed by the returned cleanup.
func (w *Worker) resolveInput(ctx context.Context, logger *zap.Logger, j job.Job) (string, func(), error) {
	noop := func() {}
	if !provider.IsRemote(j.InputLocation) {
		return j.InputLocation, noop, nil
	}

	loc, err := provider.ParseURI(j.InputLocation)
	if err != nil {
		return "", noop, &media.Error{Op: "fetch", Path: j.InputLocation, Err: media.ErrSourceOpenFailed, Cause: err}
	}
	if w.opts.Inputs == nil {
		return "", noop, &media.Error{Op: "fetch", Path: j.InputLocation, Err: media.ErrSourceOpenFailed, Detail: "no input store configured"}
	}
	if b, ok := w.opts.Inputs.(interface{ Bucket() string }); ok && b.Bucket() != loc.Bucket {
		return "", noop, &media.Error{Op: "fetch", Path: j.InputLocation, Err: media.ErrSourceOpenFailed, Detail: "input store serves bucket " + b.Bucket()}
	}

	dest := filepath.Join(w.cfg.FetchDir, j.ID+"_"+path.Base(loc.Key))
	n, err := provider.Fetch(ctx, w.opts.Inputs, loc.Key, dest)
	if err != nil {
		if provider.IsNotFound(err) {
			return "", noop, &media.Error{Op: "fetch", Path: j.InputLocation, Err: media.ErrInputNotFound, Cause: err}
		}
		return "", noop, &media.Error{Op: "fetch", Path: j.InputLocation, Err: media.ErrSourceOpenFailed, Cause: err}
	}
	logger.Info("Fetched input", zap.String("uri", j.InputLocation), zap.Int64("bytes", n))

	return dest, func() {
		if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
			logger.Warn("Failed to remove fetched input", zap.String("path", dest), zap.Error(err))
		}
	}, nil
}

// publish copies a completed artifact to the publisher. Failures are logged;
// the job stays completed.
func (w *Worker) publish(ctx context.Context, logger *zap.Logger, id string, out job.Output) {
	key := provider.JoinKey(w.cfg.PublishPrefix, out.Name)
	uri, err := provider.Publish(ctx, w.opts.Publisher, out.Location, key)
	if err != nil {
		logger.Warn("Publish failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := w.queue.SetPublished(id, uri); err != nil {
		logger.Warn("Failed to record publish", zap.Error(err))
		return
	}
	logger.Info("Artifact published", zap.String("uri", uri))
}
