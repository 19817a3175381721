// Package pipeline runs background removal as a stream: frames are decoded,
// keyed and piped into the encoder one at a time so memory stays bounded by
// a couple of frames regardless of clip length.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/3leaps/clipqueue/pkg/encoder"
	"github.com/3leaps/clipqueue/pkg/frame"
	"github.com/3leaps/clipqueue/pkg/framesource"
	"github.com/3leaps/clipqueue/pkg/media"
	"github.com/3leaps/clipqueue/pkg/transform"
)

// State is a pipeline run's lifecycle stage.
type State string

const (
	StateInit      State = "init"
	StateStreaming State = "streaming"
	StateDraining  State = "draining"
	StateDone      State = "done"
	StateAborted   State = "aborted"
)

// Config tunes a pipeline.
type Config struct {
	// FallbackFPS replaces unusable source frame rates.
	FallbackFPS float64

	// ProgressLogEvery logs progress once per this many frames.
	ProgressLogEvery int

	// RemovePartialOutput deletes the output file of a failed run.
	RemovePartialOutput bool
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() Config {
	return Config{
		FallbackFPS:      framesource.DefaultFallbackFPS,
		ProgressLogEvery: 30,
	}
}

// ProgressFunc receives the processed frame count and the estimated total
// (zero when unknown).
type ProgressFunc func(frames, total int64)

// Result summarizes a run.
type Result struct {
	State    State
	Metadata framesource.Metadata
	Frames   int64
	Bytes    int64
	Output   string
}

// Pipeline wires a frame source, a transform and an encoder.
type Pipeline struct {
	source    framesource.Opener
	transform transform.Transform
	encoder   encoder.Starter
	cfg       Config
	logger    *zap.Logger
}

// New creates a pipeline. A nil logger disables logging.
func New(source framesource.Opener, tr transform.Transform, enc encoder.Starter, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.ProgressLogEvery <= 0 {
		cfg.ProgressLogEvery = DefaultConfig().ProgressLogEvery
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		source:    source,
		transform: tr,
		encoder:   enc,
		cfg:       cfg,
		logger:    logger,
	}
}

// run carries the per-invocation state.
type run struct {
	p        *Pipeline
	logger   *zap.Logger
	progress ProgressFunc
	sample   *rate.Sometimes

	state  State
	result Result
}

func (r *run) enter(s State) {
	r.logger.Debug("Pipeline state", zap.String("from", string(r.state)), zap.String("to", string(s)))
	r.state = s
	r.result.State = s
}

// Run removes the background of inputPath into outputPath.
//
// Cancellation is observed between frames; a canceled run still closes the
// encoder input and waits for it before returning a Canceled error.
func (p *Pipeline) Run(ctx context.Context, inputPath, outputPath string, progress ProgressFunc) (Result, error) {
	r := &run{
		p:        p,
		logger:   p.logger.With(zap.String("input", inputPath), zap.String("output", outputPath)),
		progress: progress,
		sample:   &rate.Sometimes{Every: p.cfg.ProgressLogEvery},
		state:    StateInit,
	}
	r.result = Result{State: StateInit, Output: outputPath}

	err := r.execute(ctx, inputPath, outputPath)
	if err != nil {
		r.enter(StateAborted)
		if p.cfg.RemovePartialOutput {
			if rmErr := os.Remove(outputPath); rmErr != nil && !os.IsNotExist(rmErr) {
				r.logger.Warn("Failed to remove partial output", zap.Error(rmErr))
			}
		}
		return r.result, err
	}
	r.enter(StateDone)
	return r.result, nil
}

func (r *run) execute(ctx context.Context, inputPath, outputPath string) error {
	if err := media.CheckInput("remove_bg", inputPath); err != nil {
		return err
	}

	src, err := r.p.source.Open(ctx, inputPath)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	meta := src.Metadata()
	meta.FPS, meta.FPSFallback = framesource.NormalizeFPS(meta.FPS, r.p.cfg.FallbackFPS)
	r.result.Metadata = meta
	r.logger.Info("Removing background",
		zap.Int("width", meta.Width),
		zap.Int("height", meta.Height),
		zap.Float64("fps", meta.FPS),
		zap.Int64("total_frames", meta.FrameCount),
	)

	enc, err := r.p.encoder.Start(ctx, encoder.Params{
		Width:      meta.Width,
		Height:     meta.Height,
		FPS:        meta.FPS,
		OutputPath: outputPath,
	})
	if err != nil {
		return err
	}
	// A panic in the transform unwinds past draining; the encoder is
	// released on every path that does not reach Close.
	released := false
	defer func() {
		if !released {
			_ = enc.Abort()
		}
	}()

	r.enter(StateStreaming)
	streamErr := r.stream(ctx, src, enc, meta)

	var canceled bool
	if streamErr != nil {
		if !errors.Is(streamErr, media.ErrCanceled) {
			return streamErr
		}
		canceled = true
	}

	r.enter(StateDraining)
	released = true
	if err := enc.Close(); err != nil {
		if canceled {
			r.logger.Warn("Encoder failed while draining a canceled run", zap.Error(err))
			return streamErr
		}
		return err
	}
	if canceled {
		return streamErr
	}

	size, err := media.VerifyArtifact(outputPath)
	if err != nil {
		return err
	}
	r.result.Bytes = size
	r.logger.Info("Background removed",
		zap.Int64("frames", r.result.Frames),
		zap.Int64("bytes", size),
	)
	return nil
}

// stream moves frames from the decoder to the encoder. The decoder runs in
// its own goroutine and hands frames over a one-slot channel, so at most one
// decoded frame waits while another is transformed and written.
func (r *run) stream(ctx context.Context, src framesource.Source, enc encoder.Stream, meta framesource.Metadata) error {
	decodeCtx, stopDecode := context.WithCancel(ctx)
	defer stopDecode()

	frames := make(chan *frame.Buffer, 1)
	decodeErr := make(chan error, 1)
	go func() {
		defer close(frames)
		for {
			f, err := src.Next(decodeCtx)
			if err != nil {
				if !errors.Is(err, io.EOF) && decodeCtx.Err() == nil {
					decodeErr <- err
				}
				return
			}
			select {
			case frames <- f:
			case <-decodeCtx.Done():
				return
			}
		}
	}()

	// On early exit the decoder is stopped and the channel drained so the
	// goroutine never leaks.
	stop := func() {
		stopDecode()
		_ = src.Close()
		for range frames {
		}
	}

	for f := range frames {
		if err := ctx.Err(); err != nil {
			stop()
			return &media.Error{Op: "remove_bg", Err: media.ErrCanceled, Cause: err}
		}
		if err := r.processFrame(ctx, f, enc); err != nil {
			stop()
			return err
		}
		r.result.Frames++
		r.report(meta.FrameCount)
	}

	select {
	case err := <-decodeErr:
		return err
	default:
	}
	if err := ctx.Err(); err != nil {
		return &media.Error{Op: "remove_bg", Err: media.ErrCanceled, Cause: err}
	}
	return nil
}

func (r *run) processFrame(ctx context.Context, f *frame.Buffer, enc encoder.Stream) error {
	// The decoder emits bgr24; transforms consume rgb24.
	if err := f.ToRGB(); err != nil {
		return err
	}
	out, err := r.p.transform.Apply(ctx, f)
	if err != nil {
		if ctx.Err() != nil {
			return &media.Error{Op: "remove_bg", Err: media.ErrCanceled, Cause: ctx.Err()}
		}
		return fmt.Errorf("transform frame %d: %w", f.Seq, err)
	}
	if err := enc.WriteFrame(ctx, out); err != nil {
		if ctx.Err() != nil && !errors.Is(err, media.ErrPipeWriteFailed) {
			return &media.Error{Op: "remove_bg", Err: media.ErrCanceled, Cause: ctx.Err()}
		}
		return err
	}
	return nil
}

func (r *run) report(total int64) {
	n := r.result.Frames
	if r.progress != nil {
		r.progress(n, total)
	}
	r.sample.Do(func() {
		r.logger.Info("Processed frames",
			zap.Int64("frames", n),
			zap.Int64("total", total),
		)
	})
}
