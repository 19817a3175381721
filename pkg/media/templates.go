// Package media wraps the external ffmpeg tooling used by clipqueue: the
// fixed argument templates of the simple transforms, output naming, artifact
// verification and the error taxonomy shared by the worker and pipeline.
package media

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/3leaps/clipqueue/pkg/job"
)

// scale4K fits the input inside 3840x2160 and letterboxes the remainder.
const scale4K = "scale=3840:2160:force_original_aspect_ratio=decrease,pad=3840:2160:(ow-iw)/2:(oh-ih)/2"

// Alpha-capable output settings (ProRes 4444 keeps a real alpha channel).
var proresAlpha = []string{"-c:v", "prores_ks", "-profile:v", "4444", "-pix_fmt", "yuva444p10le"}

// AlphaContainerExt is the container forced for background removal output.
const AlphaContainerExt = ".mov"

// IsAlphaContainer reports whether either path uses the alpha-capable container.
func IsAlphaContainer(inputPath, outputPath string) bool {
	return strings.EqualFold(filepath.Ext(inputPath), AlphaContainerExt) ||
		strings.EqualFold(filepath.Ext(outputPath), AlphaContainerExt)
}

// TemplateArgs returns the ffmpeg arguments for a simple transform.
//
// The templates are fixed per operation and container; only the input and
// output paths vary. RemoveBackground is not a simple transform and yields
// ErrInvalidOperation.
func TemplateArgs(op job.Operation, inputPath, outputPath string) ([]string, error) {
	alpha := IsAlphaContainer(inputPath, outputPath)

	args := []string{"-i", inputPath}
	switch op {
	case job.OpRescale:
		args = append(args, "-vf", scale4K)
		if alpha {
			args = append(args, proresAlpha...)
		} else {
			args = append(args, "-c:v", "hevc_videotoolbox", "-q:v", "55")
		}
		args = append(args, "-c:a", "copy")
	case job.OpReverse:
		args = append(args, "-vf", "reverse", "-af", "areverse")
		if alpha {
			args = append(args, proresAlpha...)
		}
	default:
		return nil, &Error{Op: "template", Err: ErrInvalidOperation, Cause: fmt.Errorf("operation %q has no command template", op)}
	}
	return append(args, "-y", outputPath), nil
}

// EncoderArgs returns the ffmpeg arguments that read raw RGBA frames from
// stdin and write an alpha-capable ProRes 4444 file.
func EncoderArgs(width, height int, fps float64, outputPath string) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-vcodec", "rawvideo",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-pix_fmt", "rgba",
		"-r", FormatRate(fps),
		"-i", "-",
	}
	args = append(args, proresAlpha...)
	return append(args, outputPath)
}

// FormatRate renders a frame rate without trailing zeros ("25", "29.97").
func FormatRate(fps float64) string {
	s := fmt.Sprintf("%.6f", fps)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
