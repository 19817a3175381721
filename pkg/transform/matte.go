package transform

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/pkg/frame"
	"github.com/3leaps/clipqueue/pkg/media"
)

// MatteConfig configures the external matting helper.
type MatteConfig struct {
	// Command is the helper binary. It holds the segmentation model.
	Command string
	Args    []string
}

// ExternalMatte delegates alpha estimation to a long-running helper process.
//
// Frame protocol on the helper's stdin/stdout, per frame:
//
//	-> uint32 width, uint32 height (big endian), width*height*3 bytes RGB
//	<- width*height bytes of alpha
//
// The helper is started on first use and shared by all callers; requests are
// serialized since the helper processes one frame at a time.
type ExternalMatte struct {
	cfg    MatteConfig
	logger *zap.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *media.TailBuffer
}

// NewExternalMatte validates cfg. The helper is not started until Apply.
func NewExternalMatte(cfg MatteConfig, logger *zap.Logger) (*ExternalMatte, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("matte transform requires a helper command")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExternalMatte{cfg: cfg, logger: logger}, nil
}

// Apply implements Transform.
func (m *ExternalMatte) Apply(ctx context.Context, in *frame.Buffer) (*frame.Buffer, error) {
	if err := checkInput(in); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cmd == nil {
		if err := m.start(); err != nil {
			return nil, err
		}
	}

	alpha, err := m.roundTrip(in)
	if err != nil {
		m.stopLocked()
		return nil, err
	}
	return in.WithAlpha(alpha)
}

func (m *ExternalMatte) roundTrip(in *frame.Buffer) ([]byte, error) {
	var header [8]byte
	binary.BigEndian.PutUint32(header[0:4], uint32(in.Width))
	binary.BigEndian.PutUint32(header[4:8], uint32(in.Height))

	if _, err := m.stdin.Write(header[:]); err != nil {
		return nil, m.helperError("write", err)
	}
	if _, err := m.stdin.Write(in.Data); err != nil {
		return nil, m.helperError("write", err)
	}

	alpha := make([]byte, in.Width*in.Height)
	if _, err := io.ReadFull(m.stdout, alpha); err != nil {
		return nil, m.helperError("read", err)
	}
	return alpha, nil
}

func (m *ExternalMatte) helperError(step string, err error) error {
	return &media.Error{
		Op:     "matte " + step,
		Tool:   m.cfg.Command,
		Err:    media.ErrToolFailed,
		Cause:  err,
		Detail: m.stderr.String(),
	}
}

// start launches the helper. The helper outlives any single job, so it is
// not bound to a request context.
func (m *ExternalMatte) start() error {
	bin, err := media.LookTool(m.cfg.Command)
	if err != nil {
		return err
	}

	cmd := exec.Command(bin, m.cfg.Args...)
	stderr := media.NewTailBuffer(media.DefaultStderrTail)
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &media.Error{Op: "matte start", Tool: m.cfg.Command, Err: media.ErrToolFailed, Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &media.Error{Op: "matte start", Tool: m.cfg.Command, Err: media.ErrToolFailed, Cause: err}
	}
	if err := cmd.Start(); err != nil {
		return media.StartError("matte start", m.cfg.Command, err)
	}

	m.logger.Info("Matting helper started",
		zap.String("command", bin),
		zap.Int("pid", cmd.Process.Pid),
	)

	m.cmd = cmd
	m.stdin = stdin
	m.stdout = bufio.NewReader(stdout)
	m.stderr = stderr
	return nil
}

func (m *ExternalMatte) stopLocked() {
	if m.cmd == nil {
		return
	}
	_ = m.stdin.Close()
	if m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
	if err := m.cmd.Wait(); err != nil {
		m.logger.Debug("Matting helper exited", zap.Error(err))
	}
	m.cmd = nil
	m.stdin = nil
	m.stdout = nil
}

// Close stops the helper if it is running.
func (m *ExternalMatte) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	return nil
}
