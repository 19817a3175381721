package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/clipqueue/pkg/job"
)

func TestTemplateArgs(t *testing.T) {
	tests := []struct {
		name string
		op   job.Operation
		in   string
		out  string
		want []string
	}{
		{
			name: "rescale standard",
			op:   job.OpRescale,
			in:   "in.mp4",
			out:  "out.mp4",
			want: []string{"-i", "in.mp4", "-vf", scale4K, "-c:v", "hevc_videotoolbox", "-q:v", "55", "-c:a", "copy", "-y", "out.mp4"},
		},
		{
			name: "rescale mov",
			op:   job.OpRescale,
			in:   "in.MOV",
			out:  "out.MOV",
			want: []string{"-i", "in.MOV", "-vf", scale4K, "-c:v", "prores_ks", "-profile:v", "4444", "-pix_fmt", "yuva444p10le", "-c:a", "copy", "-y", "out.MOV"},
		},
		{
			name: "reverse standard",
			op:   job.OpReverse,
			in:   "in.webm",
			out:  "out.webm",
			want: []string{"-i", "in.webm", "-vf", "reverse", "-af", "areverse", "-y", "out.webm"},
		},
		{
			name: "reverse mov output only",
			op:   job.OpReverse,
			in:   "in.mp4",
			out:  "out.mov",
			want: []string{"-i", "in.mp4", "-vf", "reverse", "-af", "areverse", "-c:v", "prores_ks", "-profile:v", "4444", "-pix_fmt", "yuva444p10le", "-y", "out.mov"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := TemplateArgs(tt.op, tt.in, tt.out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := TemplateArgs(job.OpRemoveBackground, "a.mp4", "b.mov")
	require.Error(t, err)
	assert.Equal(t, "InvalidOperation", Code(err))
}

func TestEncoderArgs(t *testing.T) {
	got := EncoderArgs(640, 360, 25, "/tmp/out.mov")
	assert.Equal(t, []string{
		"-y", "-f", "rawvideo", "-vcodec", "rawvideo",
		"-s", "640x360", "-pix_fmt", "rgba", "-r", "25", "-i", "-",
		"-c:v", "prores_ks", "-profile:v", "4444", "-pix_fmt", "yuva444p10le",
		"/tmp/out.mov",
	}, got)

	assert.Equal(t, "29.97", FormatRate(29.97))
	assert.Equal(t, "23.976024", FormatRate(24000.0/1001.0))
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		source string
		op     job.Operation
		want   string
	}{
		{"1700000000_clip.mp4", job.OpRescale, "1700000000_clip_4k_tok.mp4"},
		{"holiday.webm", job.OpReverse, "holiday_reverse_tok.webm"},
		{"greenscreen.mp4", job.OpRemoveBackground, "greenscreen_nobg_tok.mov"},
		{"/var/uploads/a.b.mkv", job.OpRescale, "a.b_4k_tok.mkv"},
		{"noext", job.OpReverse, "noext_reverse_tok"},
	}

	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputName(tt.source, tt.op, "tok"))
		})
	}
}

func TestToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	assert.Equal(t, "1700000000-3f2a9c1e", Token(now, "3f2a9c1e-0000-4000-8000-000000000000"))
	assert.Equal(t, "1700000000-abc", Token(now, "abc"))
	assert.Equal(t, "1700000000", Token(now, ""))

	// distinct jobs submitted within the same second never share a name
	a := OutputName("clip.mp4", job.OpRescale, Token(now, "11111111-aaaa"))
	b := OutputName("clip.mp4", job.OpRescale, Token(now, "22222222-bbbb"))
	assert.NotEqual(t, a, b)
}

func TestCheckInputAndVerifyArtifact(t *testing.T) {
	dir := t.TempDir()

	err := CheckInput("rescale", filepath.Join(dir, "missing.mp4"))
	require.Error(t, err)
	assert.True(t, IsInputNotFound(err))

	err = CheckInput("rescale", dir)
	assert.Equal(t, "SourceOpenFailed", Code(err))

	empty := filepath.Join(dir, "empty.mov")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	_, err = VerifyArtifact(empty)
	assert.True(t, IsOutputMissing(err))

	_, err = VerifyArtifact(filepath.Join(dir, "none.mov"))
	assert.True(t, IsOutputMissing(err))

	full := filepath.Join(dir, "full.mov")
	require.NoError(t, os.WriteFile(full, []byte("moov"), 0o644))
	size, err := VerifyArtifact(full)
	require.NoError(t, err)
	assert.Equal(t, int64(4), size)
	require.NoError(t, CheckInput("rescale", full))
}

func TestCode(t *testing.T) {
	assert.Equal(t, "", Code(nil))
	assert.Equal(t, "ToolMissing", Code(&Error{Op: "encode", Err: ErrToolMissing}))
	assert.Equal(t, "PipeWriteFailed", Code(fmt.Errorf("wrapped: %w", &Error{Op: "encode", Err: ErrPipeWriteFailed})))
	assert.Equal(t, "Canceled", Code(context.Canceled))
	assert.Equal(t, "Internal", Code(errors.New("boom")))

	err := &Error{Op: "rescale", Tool: "ffmpeg", Path: "a.mp4", Err: ErrToolFailed, Detail: " invalid data \n"}
	assert.Equal(t, "rescale (ffmpeg): a.mp4: tool failed: invalid data", err.Error())
	assert.Equal(t, "ToolFailed: rescale (ffmpeg): a.mp4: tool failed: invalid data", Reason(err))

	cause := errors.New("broken pipe")
	wrapped := &Error{Op: "encode", Err: ErrPipeWriteFailed, Cause: cause}
	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, ErrPipeWriteFailed)
}

func TestTailBuffer(t *testing.T) {
	tb := NewTailBuffer(8)
	_, _ = tb.Write([]byte("0123456789"))
	assert.Equal(t, "23456789", tb.String())
	_, _ = tb.Write([]byte("ab"))
	assert.Equal(t, "456789ab", tb.String())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = tb.Write([]byte("xx"))
		}()
	}
	wg.Wait()
	assert.Equal(t, "xxxxxxxx", tb.String())
}

func TestParseProgressLine(t *testing.T) {
	n, ok := ParseProgressLine("frame=42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), n)

	for _, line := range []string{"fps=30.0", "frame=", "frame=abc", "progress=end", ""} {
		_, ok := ParseProgressLine(line)
		assert.False(t, ok, line)
	}
}

// writeTool writes an executable shell script standing in for ffmpeg.
func writeTool(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "fake-ffmpeg")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func writeInput(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("video"), 0o644))
	return path
}

func TestRunnerTranscode(t *testing.T) {
	ctx := context.Background()

	t.Run("success reports progress", func(t *testing.T) {
		tool := writeTool(t, `for last; do :; done
echo "frame=5"
echo "progress=continue"
echo "frame=10"
echo "progress=end"
printf 'data' > "$last"
`)
		in := writeInput(t, "clip.mp4")
		out := filepath.Join(t.TempDir(), "clip_4k.mp4")

		var seen []int64
		err := NewRunner(tool, nil).Transcode(ctx, job.OpRescale, in, out, func(n int64) { seen = append(seen, n) })
		require.NoError(t, err)
		assert.Equal(t, []int64{5, 10}, seen)

		_, err = VerifyArtifact(out)
		require.NoError(t, err)
	})

	t.Run("non-zero exit carries stderr tail", func(t *testing.T) {
		tool := writeTool(t, `echo "Invalid data found when processing input" >&2
exit 1
`)
		in := writeInput(t, "clip.mp4")
		err := NewRunner(tool, nil).Transcode(ctx, job.OpReverse, in, filepath.Join(t.TempDir(), "o.mp4"), nil)
		require.Error(t, err)
		assert.True(t, IsToolFailed(err))
		assert.Contains(t, err.Error(), "Invalid data found")
	})

	t.Run("zero exit without artifact", func(t *testing.T) {
		tool := writeTool(t, "exit 0\n")
		in := writeInput(t, "clip.mp4")
		out := filepath.Join(t.TempDir(), "o.mp4")
		require.NoError(t, NewRunner(tool, nil).Transcode(ctx, job.OpReverse, in, out, nil))

		_, err := VerifyArtifact(out)
		assert.Equal(t, "OutputMissing", Code(err))
	})

	t.Run("tool missing", func(t *testing.T) {
		in := writeInput(t, "clip.mp4")
		err := NewRunner(filepath.Join(t.TempDir(), "no-such-ffmpeg"), nil).Transcode(ctx, job.OpRescale, in, "o.mp4", nil)
		assert.True(t, IsToolMissing(err))
	})

	t.Run("input missing launches nothing", func(t *testing.T) {
		marker := filepath.Join(t.TempDir(), "launched")
		tool := writeTool(t, fmt.Sprintf("touch %q\n", marker))
		err := NewRunner(tool, nil).Transcode(ctx, job.OpRescale, filepath.Join(t.TempDir(), "gone.mp4"), "o.mp4", nil)
		assert.True(t, IsInputNotFound(err))
		assert.NoFileExists(t, marker)
	})

	t.Run("canceled context", func(t *testing.T) {
		tool := writeTool(t, "exec sleep 5\n")
		in := writeInput(t, "clip.mp4")
		cctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		err := NewRunner(tool, nil).Transcode(cctx, job.OpRescale, in, "o.mp4", nil)
		assert.Equal(t, "Canceled", Code(err))
	})
}
