// Package framesource decodes an input video into raw frames and reports the
// stream metadata the encoder needs.
package framesource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/3leaps/clipqueue/pkg/media"
)

// DefaultFallbackFPS is used when the container reports no usable frame rate.
const DefaultFallbackFPS = 25.0

// Metadata describes the decoded video stream.
type Metadata struct {
	Width  int     `json:"width"`
	Height int     `json:"height"`
	FPS    float64 `json:"fps"`

	// FrameCount is an estimate for progress display. Zero means unknown.
	FrameCount int64 `json:"frame_count"`

	// FPSFallback is true when FPS was substituted.
	FPSFallback bool `json:"fps_fallback,omitempty"`
}

// NormalizeFPS replaces zero, negative, NaN and infinite rates with fallback.
func NormalizeFPS(fps, fallback float64) (float64, bool) {
	if fallback <= 0 || math.IsNaN(fallback) || math.IsInf(fallback, 0) {
		fallback = DefaultFallbackFPS
	}
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return fallback, true
	}
	return fps, false
}

// ParseRate parses an ffprobe rational ("30000/1001") or decimal rate.
// Unparsable input and zero denominators yield NaN.
func ParseRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return math.NaN()
	}
	num, den, ok := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return math.NaN()
	}
	if !ok {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return math.NaN()
	}
	return n / d
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
		NbFrames     string `json:"nb_frames"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

// parseProbe decodes ffprobe JSON into Metadata with the fps fallback applied.
func parseProbe(data []byte, fallbackFPS float64) (Metadata, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Metadata{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return Metadata{}, fmt.Errorf("no video stream")
	}
	s := out.Streams[0]
	if s.Width <= 0 || s.Height <= 0 {
		return Metadata{}, fmt.Errorf("invalid dimensions %dx%d", s.Width, s.Height)
	}

	rate := ParseRate(s.AvgFrameRate)
	if rate <= 0 || math.IsNaN(rate) {
		rate = ParseRate(s.RFrameRate)
	}
	fps, fellBack := NormalizeFPS(rate, fallbackFPS)

	meta := Metadata{Width: s.Width, Height: s.Height, FPS: fps, FPSFallback: fellBack}
	if n, err := strconv.ParseInt(s.NbFrames, 10, 64); err == nil && n > 0 {
		meta.FrameCount = n
	} else if d, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil && d > 0 {
		meta.FrameCount = int64(math.Round(d * fps))
	}
	return meta, nil
}

// Probe reads stream metadata for path with ffprobe.
func Probe(ctx context.Context, ffprobePath, path string, fallbackFPS float64) (Metadata, error) {
	if err := media.CheckInput("probe", path); err != nil {
		return Metadata{}, err
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	bin, err := media.LookTool(ffprobePath)
	if err != nil {
		return Metadata{}, err
	}

	cmd := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate,nb_frames:format=duration",
		"-of", "json",
		path,
	)
	var stdout bytes.Buffer
	stderr := media.NewTailBuffer(media.DefaultStderrTail)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return Metadata{}, &media.Error{Op: "probe", Tool: ffprobePath, Path: path, Err: media.ErrCanceled, Cause: ctx.Err()}
		}
		return Metadata{}, &media.Error{Op: "probe", Tool: ffprobePath, Path: path, Err: media.ErrSourceOpenFailed, Cause: err, Detail: stderr.String()}
	}

	meta, err := parseProbe(stdout.Bytes(), fallbackFPS)
	if err != nil {
		return Metadata{}, &media.Error{Op: "probe", Tool: ffprobePath, Path: path, Err: media.ErrSourceOpenFailed, Cause: err}
	}
	return meta, nil
}
