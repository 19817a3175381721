package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/internal/config"
	"github.com/3leaps/clipqueue/pkg/encoder"
	"github.com/3leaps/clipqueue/pkg/framesource"
	"github.com/3leaps/clipqueue/pkg/jobqueue"
	"github.com/3leaps/clipqueue/pkg/media"
	"github.com/3leaps/clipqueue/pkg/pipeline"
	"github.com/3leaps/clipqueue/pkg/provider"
	"github.com/3leaps/clipqueue/pkg/provider/file"
	"github.com/3leaps/clipqueue/pkg/provider/s3"
	"github.com/3leaps/clipqueue/pkg/transform"
	"github.com/3leaps/clipqueue/pkg/worker"
)

// services is the queue and everything the worker dispatches to.
type services struct {
	queue  *jobqueue.Queue
	worker *worker.Worker

	closers []func() error
}

// Close releases the transform and any stores.
func (s *services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildServices wires a queue and a worker from cfg. inputs serves s3://
// job inputs and may be nil.
func buildServices(ctx context.Context, cfg *config.Config, inputs provider.Provider, logger *zap.Logger) (*services, error) {
	svc := &services{queue: jobqueue.New()}

	tr, err := transform.New(transform.Config{
		Kind: transform.Kind(cfg.Pipeline.Transform),
		Chroma: transform.ChromaConfig{
			KeyColor:  cfg.Pipeline.Chroma.KeyColor,
			Tolerance: cfg.Pipeline.Chroma.Tolerance,
			Softness:  cfg.Pipeline.Chroma.Softness,
		},
		Matte: transform.MatteConfig{
			Command: cfg.Pipeline.Matte.Command,
			Args:    cfg.Pipeline.Matte.Args,
		},
	}, logger.Named("transform"))
	if err != nil {
		return nil, fmt.Errorf("create transform: %w", err)
	}
	svc.closers = append(svc.closers, tr.Close)

	publisher, err := newPublisher(ctx, cfg.Publish)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	if publisher != nil {
		svc.closers = append(svc.closers, publisher.Close)
	}

	opener := framesource.NewFFmpegOpener(framesource.Config{
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
		FallbackFPS: cfg.Media.FallbackFPS,
	}, logger.Named("decoder"))
	enc := encoder.New(encoder.Config{
		FFmpegPath:  cfg.Media.FFmpegPath,
		WaitTimeout: cfg.Pipeline.EncoderWaitTimeout,
	}, logger.Named("encoder"))
	remover := pipeline.New(opener, tr, enc, pipeline.Config{
		FallbackFPS:         cfg.Media.FallbackFPS,
		ProgressLogEvery:    cfg.Pipeline.ProgressLogEvery,
		RemovePartialOutput: cfg.Pipeline.RemovePartialOutput,
	}, logger.Named("pipeline"))

	svc.worker = worker.New(svc.queue, worker.Options{
		Transcoder: media.NewRunner(cfg.Media.FFmpegPath, logger.Named("ffmpeg")),
		Remover:    remover,
		Probe:      probeFunc(cfg),
		Inputs:     inputs,
		Publisher:  publisher,
	}, worker.Config{
		Workers:       cfg.Workers,
		OutputDir:     cfg.Storage.OutputDir,
		FetchDir:      cfg.Storage.UploadDir,
		PublishPrefix: cfg.Publish.Prefix,
	}, logger.Named("worker"))

	return svc, nil
}

func probeFunc(cfg *config.Config) worker.ProbeFunc {
	return func(ctx context.Context, path string) (framesource.Metadata, error) {
		return framesource.Probe(ctx, cfg.Media.FFprobePath, path, cfg.Media.FallbackFPS)
	}
}

// newPublisher returns the configured artifact store, or nil when
// publishing is disabled.
func newPublisher(ctx context.Context, cfg config.PublishConfig) (provider.Provider, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch cfg.Provider {
	case "file":
		p, err := file.New(file.Config{BaseDir: cfg.File.Dir})
		if err != nil {
			return nil, fmt.Errorf("create file publisher: %w", err)
		}
		return p, nil
	case "s3", "":
		p, err := s3.New(ctx, s3.Config{
			Bucket:         cfg.S3.Bucket,
			Region:         cfg.S3.Region,
			Endpoint:       cfg.S3.Endpoint,
			Profile:        cfg.S3.Profile,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("create s3 publisher: %w", err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown publish provider %q", cfg.Provider)
	}
}

// s3Connection is the connection settings for an s3:// input store.
type s3Connection struct {
	Region         string
	Endpoint       string
	Profile        string
	ForcePathStyle bool
}

// newInputStore opens the bucket that serves an s3:// input.
func newInputStore(ctx context.Context, bucket string, conn s3Connection) (provider.Provider, error) {
	p, err := s3.New(ctx, s3.Config{
		Bucket:         bucket,
		Region:         conn.Region,
		Endpoint:       conn.Endpoint,
		Profile:        conn.Profile,
		ForcePathStyle: conn.ForcePathStyle,
	})
	if err != nil {
		return nil, fmt.Errorf("open s3://%s: %w", bucket, err)
	}
	return p, nil
}
