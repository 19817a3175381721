package framesource

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/pkg/frame"
	"github.com/3leaps/clipqueue/pkg/media"
)

// Source yields decoded frames in sequence order.
type Source interface {
	// Metadata returns the stream metadata with the fps fallback applied.
	Metadata() Metadata

	// Next returns the next BGR frame, or io.EOF when the stream is exhausted.
	Next(ctx context.Context) (*frame.Buffer, error)

	// Close releases the decoder. Safe to call more than once, and from
	// another goroutine to unblock a pending Next.
	Close() error
}

// Opener opens a Source for an input path.
type Opener interface {
	Open(ctx context.Context, path string) (Source, error)
}

// Config configures the ffmpeg-backed opener.
type Config struct {
	FFmpegPath  string
	FFprobePath string
	FallbackFPS float64
}

// DefaultConfig returns the default decoder configuration.
func DefaultConfig() Config {
	return Config{
		FFmpegPath:  "ffmpeg",
		FFprobePath: "ffprobe",
		FallbackFPS: DefaultFallbackFPS,
	}
}

// FFmpegOpener probes with ffprobe and decodes with ffmpeg to raw bgr24 on
// stdout.
type FFmpegOpener struct {
	cfg    Config
	logger *zap.Logger
}

// NewFFmpegOpener creates an opener. A nil logger disables logging.
func NewFFmpegOpener(cfg Config, logger *zap.Logger) *FFmpegOpener {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.FallbackFPS <= 0 {
		cfg.FallbackFPS = DefaultFallbackFPS
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegOpener{cfg: cfg, logger: logger}
}

// Open validates the input, reads its metadata and starts the decoder.
func (o *FFmpegOpener) Open(ctx context.Context, path string) (Source, error) {
	if err := media.CheckInput("open", path); err != nil {
		return nil, err
	}

	meta, err := Probe(ctx, o.cfg.FFprobePath, path, o.cfg.FallbackFPS)
	if err != nil {
		return nil, err
	}
	if meta.FPSFallback {
		o.logger.Warn("Frame rate unavailable, using fallback",
			zap.String("path", path),
			zap.Float64("fps", meta.FPS),
		)
	}

	bin, err := media.LookTool(o.cfg.FFmpegPath)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-nostdin",
		"-i", path,
		"-map", "0:v:0",
		"-f", "rawvideo",
		"-pix_fmt", frame.BGR.String(),
		"-",
	)
	stderr := media.NewTailBuffer(media.DefaultStderrTail)
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &media.Error{Op: "open", Tool: o.cfg.FFmpegPath, Path: path, Err: media.ErrSourceOpenFailed, Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, media.StartError("open", o.cfg.FFmpegPath, err)
	}

	src := newStreamSource(meta, stdout, o.logger.With(zap.String("path", path)))
	src.wait = func() error {
		err := cmd.Wait()
		if err != nil && stderr.String() != "" {
			return &media.Error{Op: "decode", Tool: o.cfg.FFmpegPath, Path: path, Err: media.ErrToolFailed, Cause: err, Detail: stderr.String()}
		}
		return err
	}
	src.kill = func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
	return src, nil
}

// streamSource reads fixed-size bgr24 frames from a byte stream.
type streamSource struct {
	meta   Metadata
	rd     *bufio.Reader
	logger *zap.Logger

	wait func() error
	kill func()

	seq       int64
	exhausted bool

	// complete is set once the stream was read to its end. Close may run
	// concurrently with Next to unblock a pending read.
	complete atomic.Bool

	closeOnce sync.Once
}

func newStreamSource(meta Metadata, r io.Reader, logger *zap.Logger) *streamSource {
	return &streamSource{
		meta:   meta,
		rd:     bufio.NewReaderSize(r, frame.Size(meta.Width, meta.Height, frame.BGR)),
		logger: logger,
	}
}

func (s *streamSource) Metadata() Metadata {
	return s.meta
}

func (s *streamSource) Next(ctx context.Context) (*frame.Buffer, error) {
	if s.exhausted {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	buf := frame.New(s.meta.Width, s.meta.Height, frame.BGR, s.seq)
	n, err := io.ReadFull(s.rd, buf.Data)
	switch {
	case err == nil:
		s.seq++
		return buf, nil
	case errors.Is(err, io.EOF):
		s.exhausted = true
		s.complete.Store(true)
		return nil, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		// A truncated trailing frame ends the stream; it is never emitted.
		s.exhausted = true
		s.complete.Store(true)
		s.logger.Warn("Dropping partial trailing frame",
			zap.Int64("seq", s.seq),
			zap.Int("bytes", n),
			zap.Int("want", len(buf.Data)),
		)
		return nil, io.EOF
	default:
		s.exhausted = true
		return nil, &media.Error{Op: "decode", Err: media.ErrSourceOpenFailed, Cause: err}
	}
}

// Close stops the decoder and reaps it. A decoder that exits non-zero after
// the stream was read to the end is logged, not returned: the artifact check
// decides the job outcome.
func (s *streamSource) Close() error {
	s.closeOnce.Do(func() {
		if !s.complete.Load() && s.kill != nil {
			s.kill()
		}
		if s.wait == nil {
			return
		}
		if err := s.wait(); err != nil {
			s.logger.Warn("Decoder exited with error",
				zap.Bool("stream_complete", s.complete.Load()),
				zap.Error(err),
			)
		}
	})
	return nil
}
