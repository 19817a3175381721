package media

import (
	"bufio"
	"context"
	"errors"
	"io"
	"io/fs"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/pkg/job"
)

// DefaultStderrTail is how many bytes of tool stderr are kept for diagnostics.
const DefaultStderrTail = 4096

// LookTool resolves an external binary, returning ErrToolMissing when it is
// not on the execution path.
func LookTool(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", &Error{Op: "lookup", Tool: name, Err: ErrToolMissing, Cause: err}
	}
	return path, nil
}

// StartError classifies an exec.Cmd Start failure.
func StartError(op, tool string, err error) error {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
		return &Error{Op: op, Tool: tool, Err: ErrToolMissing, Cause: err}
	}
	return &Error{Op: op, Tool: tool, Err: ErrToolFailed, Cause: err}
}

// WaitError classifies an exec.Cmd Wait failure. A done context wins over the
// exit status since the process was killed on our behalf.
func WaitError(ctx context.Context, op, tool string, err error, stderr *TailBuffer) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return &Error{Op: op, Tool: tool, Err: ErrCanceled, Cause: ctx.Err()}
	}
	e := &Error{Op: op, Tool: tool, Err: ErrToolFailed, Cause: err}
	if stderr != nil {
		e.Detail = stderr.String()
	}
	return e
}

// TailBuffer is an io.Writer that retains only the last Max bytes written.
// Safe for concurrent use.
type TailBuffer struct {
	Max int

	mu  sync.Mutex
	buf []byte
}

// NewTailBuffer returns a TailBuffer keeping max bytes.
func NewTailBuffer(max int) *TailBuffer {
	if max <= 0 {
		max = DefaultStderrTail
	}
	return &TailBuffer{Max: max}
}

// Write implements io.Writer.
func (t *TailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	max := t.Max
	if max <= 0 {
		max = DefaultStderrTail
	}
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

// String returns the retained bytes with surrounding whitespace trimmed.
func (t *TailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

// ParseProgressLine extracts the frame counter from one line of ffmpeg
// "-progress" output ("frame=123").
func ParseProgressLine(line string) (int64, bool) {
	key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
	if !ok || key != "frame" {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ProgressFunc receives the number of frames processed so far.
type ProgressFunc func(frames int64)

// Runner executes the simple transforms as single blocking ffmpeg invocations.
type Runner struct {
	// FFmpegPath is the encoder binary name or path.
	FFmpegPath string

	// Logger receives tool diagnostics. Nil means no logging.
	Logger *zap.Logger
}

// NewRunner creates a runner for the given ffmpeg binary.
func NewRunner(ffmpegPath string, logger *zap.Logger) *Runner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{FFmpegPath: ffmpegPath, Logger: logger}
}

// Transcode runs the fixed template for op from inputPath to outputPath and
// blocks until the tool exits. Progress is reported from the tool's
// "-progress" stream when a callback is given.
//
// A zero exit does not prove an artifact exists; callers verify with
// VerifyArtifact.
func (r *Runner) Transcode(ctx context.Context, op job.Operation, inputPath, outputPath string, progress ProgressFunc) error {
	opName := string(op)
	if err := CheckInput(opName, inputPath); err != nil {
		return err
	}

	template, err := TemplateArgs(op, inputPath, outputPath)
	if err != nil {
		return err
	}

	bin, err := LookTool(r.FFmpegPath)
	if err != nil {
		return err
	}

	args := append([]string{"-nostats", "-progress", "pipe:1"}, template...)
	cmd := exec.CommandContext(ctx, bin, args...)
	stderr := NewTailBuffer(DefaultStderrTail)
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Op: opName, Tool: r.FFmpegPath, Err: ErrToolFailed, Cause: err}
	}

	r.logger().Debug("Starting tool",
		zap.String("tool", bin),
		zap.Strings("args", args),
	)

	if err := cmd.Start(); err != nil {
		return StartError(opName, r.FFmpegPath, err)
	}

	consumeProgress(stdout, progress)

	return WaitError(ctx, opName, r.FFmpegPath, cmd.Wait(), stderr)
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// consumeProgress reads the "-progress" key/value stream until EOF. The pipe
// must be drained fully before Wait.
func consumeProgress(rd io.Reader, progress ProgressFunc) {
	scanner := bufio.NewScanner(rd)
	for scanner.Scan() {
		if progress == nil {
			continue
		}
		if n, ok := ParseProgressLine(scanner.Text()); ok {
			progress(n)
		}
	}
	_, _ = io.Copy(io.Discard, rd)
}
