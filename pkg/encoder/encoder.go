// Package encoder streams raw RGBA frames into an ffmpeg subprocess that
// writes an alpha-capable ProRes 4444 file.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/pkg/frame"
	"github.com/3leaps/clipqueue/pkg/media"
)

// Params describes the stream the encoder receives.
type Params struct {
	Width      int
	Height     int
	FPS        float64
	OutputPath string
}

// Stream is a running encoder.
type Stream interface {
	// WriteFrame writes exactly Width*Height*4 RGBA bytes.
	WriteFrame(ctx context.Context, f *frame.Buffer) error

	// Close ends the input stream and waits for the encoder to finish.
	Close() error

	// Abort stops the encoder without waiting for a clean finish.
	Abort() error
}

// Starter launches encoder streams.
type Starter interface {
	Start(ctx context.Context, p Params) (Stream, error)
}

// Config configures the ffmpeg encoder.
type Config struct {
	FFmpegPath string

	// WaitTimeout bounds the wait after stdin is closed. Zero waits forever.
	WaitTimeout time.Duration
}

// FFmpeg starts ffmpeg encoder processes.
type FFmpeg struct {
	cfg    Config
	logger *zap.Logger
}

// New creates an ffmpeg encoder starter. A nil logger disables logging.
func New(cfg Config, logger *zap.Logger) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpeg{cfg: cfg, logger: logger}
}

// Start launches ffmpeg reading rawvideo RGBA from stdin.
//
// The process is not bound to ctx: a canceled run still closes stdin and
// waits so the container is finalized.
func (e *FFmpeg) Start(ctx context.Context, p Params) (Stream, error) {
	if p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("encoder: invalid dimensions %dx%d", p.Width, p.Height)
	}
	if err := ctx.Err(); err != nil {
		return nil, &media.Error{Op: "encode", Err: media.ErrCanceled, Cause: err}
	}

	bin, err := media.LookTool(e.cfg.FFmpegPath)
	if err != nil {
		return nil, err
	}

	args := media.EncoderArgs(p.Width, p.Height, p.FPS, p.OutputPath)
	cmd := exec.Command(bin, args...)
	stderr := media.NewTailBuffer(media.DefaultStderrTail)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &media.Error{Op: "encode", Tool: e.cfg.FFmpegPath, Path: p.OutputPath, Err: media.ErrToolFailed, Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, media.StartError("encode", e.cfg.FFmpegPath, err)
	}

	e.logger.Debug("Encoder started",
		zap.String("tool", bin),
		zap.Strings("args", args),
		zap.Int("pid", cmd.Process.Pid),
	)

	return &stream{
		params:    p,
		tool:      e.cfg.FFmpegPath,
		timeout:   e.cfg.WaitTimeout,
		cmd:       cmd,
		stdin:     stdin,
		stderr:    stderr,
		logger:    e.logger,
		frameSize: frame.Size(p.Width, p.Height, frame.RGBA),
	}, nil
}

type stream struct {
	params  Params
	tool    string
	timeout time.Duration

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *media.TailBuffer
	logger *zap.Logger

	frameSize int
	written   int64

	once   sync.Once
	result error
}

func (s *stream) WriteFrame(ctx context.Context, f *frame.Buffer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.Width != s.params.Width || f.Height != s.params.Height {
		return fmt.Errorf("frame %d: %dx%d does not match encoder %dx%d", f.Seq, f.Width, f.Height, s.params.Width, s.params.Height)
	}
	data, err := f.Pack()
	if err != nil {
		return err
	}
	if len(data) != s.frameSize {
		return fmt.Errorf("frame %d: packed %d bytes, want %d", f.Seq, len(data), s.frameSize)
	}

	if err := writeAll(s.stdin, data); err != nil {
		return &media.Error{
			Op:     "encode",
			Tool:   s.tool,
			Path:   s.params.OutputPath,
			Err:    media.ErrPipeWriteFailed,
			Cause:  err,
			Detail: s.stderr.String(),
		}
	}
	s.written++
	return nil
}

func (s *stream) Close() error {
	s.once.Do(func() {
		if err := s.stdin.Close(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			s.logger.Debug("Closing encoder stdin", zap.Error(err))
		}
		s.result = s.wait()
		s.logger.Debug("Encoder finished",
			zap.Int64("frames", s.written),
			zap.Error(s.result),
		)
	})
	return s.result
}

func (s *stream) Abort() error {
	s.once.Do(func() {
		_ = s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		_ = s.cmd.Wait()
		s.result = &media.Error{Op: "encode", Tool: s.tool, Path: s.params.OutputPath, Err: media.ErrCanceled, Detail: "encoder aborted"}
	})
	return nil
}

// wait reaps the process, killing it if the optional timeout expires.
func (s *stream) wait() error {
	done := make(chan error, 1)
	go func() { done <- s.cmd.Wait() }()

	var timer <-chan time.Time
	if s.timeout > 0 {
		t := time.NewTimer(s.timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-done:
		if err != nil {
			return &media.Error{Op: "encode", Tool: s.tool, Path: s.params.OutputPath, Err: media.ErrToolFailed, Cause: err, Detail: s.stderr.String()}
		}
		return nil
	case <-timer:
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		<-done
		return &media.Error{
			Op:     "encode",
			Tool:   s.tool,
			Path:   s.params.OutputPath,
			Err:    media.ErrToolFailed,
			Detail: fmt.Sprintf("encoder did not exit within %s", s.timeout),
		}
	}
}

// writeAll writes the full buffer, looping on short writes.
func writeAll(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		b = b[n:]
	}
	return nil
}
