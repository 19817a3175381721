package framesource

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/pkg/frame"
	"github.com/3leaps/clipqueue/pkg/media"
)

func TestParseRate(t *testing.T) {
	assert.InDelta(t, 29.97, ParseRate("30000/1001"), 0.001)
	assert.Equal(t, 25.0, ParseRate("25/1"))
	assert.Equal(t, 24.0, ParseRate("24"))
	assert.True(t, math.IsNaN(ParseRate("0/0")))
	assert.True(t, math.IsNaN(ParseRate("")))
	assert.True(t, math.IsNaN(ParseRate("n/a")))
}

func TestNormalizeFPS(t *testing.T) {
	tests := []struct {
		name     string
		in       float64
		want     float64
		fallback bool
	}{
		{"valid", 30, 30, false},
		{"zero", 0, 25, true},
		{"negative", -1, 25, true},
		{"nan", math.NaN(), 25, true},
		{"inf", math.Inf(1), 25, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, fb := NormalizeFPS(tt.in, 25)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.fallback, fb)
		})
	}

	got, _ := NormalizeFPS(0, 0)
	assert.Equal(t, DefaultFallbackFPS, got)
}

func TestParseProbe(t *testing.T) {
	t.Run("nb_frames", func(t *testing.T) {
		meta, err := parseProbe([]byte(`{"streams":[{"width":640,"height":360,"r_frame_rate":"30/1","avg_frame_rate":"30000/1001","nb_frames":"300"}]}`), 25)
		require.NoError(t, err)
		assert.Equal(t, 640, meta.Width)
		assert.Equal(t, 360, meta.Height)
		assert.InDelta(t, 29.97, meta.FPS, 0.001)
		assert.Equal(t, int64(300), meta.FrameCount)
		assert.False(t, meta.FPSFallback)
	})

	t.Run("fallback fps and duration estimate", func(t *testing.T) {
		meta, err := parseProbe([]byte(`{"streams":[{"width":2,"height":2,"r_frame_rate":"0/0","avg_frame_rate":"0/0"}],"format":{"duration":"2.0"}}`), 25)
		require.NoError(t, err)
		assert.Equal(t, 25.0, meta.FPS)
		assert.True(t, meta.FPSFallback)
		assert.Equal(t, int64(50), meta.FrameCount)
	})

	t.Run("unknown frame count", func(t *testing.T) {
		meta, err := parseProbe([]byte(`{"streams":[{"width":2,"height":2,"avg_frame_rate":"24/1"}]}`), 25)
		require.NoError(t, err)
		assert.Zero(t, meta.FrameCount)
	})

	for name, body := range map[string]string{
		"no streams": `{"streams":[]}`,
		"bad json":   `{`,
		"no size":    `{"streams":[{"width":0,"height":0}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := parseProbe([]byte(body), 25)
			assert.Error(t, err)
		})
	}
}

func TestStreamSourceFrames(t *testing.T) {
	meta := Metadata{Width: 2, Height: 1, FPS: 25}
	// two full frames plus a 1-byte tail
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13}
	src := newStreamSource(meta, bytes.NewReader(data), zap.NewNop())
	ctx := context.Background()

	f0, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, frame.BGR, f0.Order)
	assert.Equal(t, int64(0), f0.Seq)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, f0.Data)

	f1, err := src.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f1.Seq)

	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF, "partial trailing frame ends the stream")
	_, err = src.Next(ctx)
	assert.ErrorIs(t, err, io.EOF)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
}

func TestStreamSourceCanceled(t *testing.T) {
	src := newStreamSource(Metadata{Width: 1, Height: 1}, bytes.NewReader(make([]byte, 30)), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestFFmpegOpener(t *testing.T) {
	dir := t.TempDir()
	probe := writeScript(t, dir, "ffprobe", `echo '{"streams":[{"width":2,"height":1,"avg_frame_rate":"0/0","r_frame_rate":"0/0","nb_frames":"2"}]}'`+"\n")
	decoder := writeScript(t, dir, "ffmpeg", `printf '\001\002\003\004\005\006\007\010\011\012\013\014'`+"\n")

	input := filepath.Join(dir, "clip.mp4")
	require.NoError(t, os.WriteFile(input, []byte("video"), 0o644))

	opener := NewFFmpegOpener(Config{FFmpegPath: decoder, FFprobePath: probe}, nil)
	src, err := opener.Open(context.Background(), input)
	require.NoError(t, err)
	defer func() { _ = src.Close() }()

	meta := src.Metadata()
	assert.Equal(t, 25.0, meta.FPS)
	assert.True(t, meta.FPSFallback)

	var frames int
	for {
		f, err := src.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assert.Len(t, f.Data, 6)
		frames++
	}
	assert.Equal(t, 2, frames)
}

func TestFFmpegOpenerErrors(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "launched")
	probe := writeScript(t, dir, "ffprobe", fmt.Sprintf("touch %q\necho 'moov atom not found' >&2\nexit 1\n", marker))

	t.Run("missing input launches nothing", func(t *testing.T) {
		opener := NewFFmpegOpener(Config{FFprobePath: probe}, nil)
		_, err := opener.Open(context.Background(), filepath.Join(dir, "missing.mp4"))
		assert.True(t, media.IsInputNotFound(err))
		assert.NoFileExists(t, marker)
	})

	t.Run("unreadable input", func(t *testing.T) {
		input := filepath.Join(dir, "corrupt.mp4")
		require.NoError(t, os.WriteFile(input, []byte("junk"), 0o644))
		opener := NewFFmpegOpener(Config{FFprobePath: probe}, nil)
		_, err := opener.Open(context.Background(), input)
		assert.Equal(t, "SourceOpenFailed", media.Code(err))
		assert.Contains(t, err.Error(), "moov atom not found")
	})

	t.Run("probe tool missing", func(t *testing.T) {
		input := filepath.Join(dir, "ok.mp4")
		require.NoError(t, os.WriteFile(input, []byte("video"), 0o644))
		opener := NewFFmpegOpener(Config{FFprobePath: filepath.Join(dir, "nope")}, nil)
		_, err := opener.Open(context.Background(), input)
		assert.True(t, media.IsToolMissing(err))
	})
}
