package cmd

import (
	"encoding/json"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/internal/observability"
	"github.com/3leaps/clipqueue/pkg/framesource"
	"github.com/3leaps/clipqueue/pkg/media"
)

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Print video metadata",
	Long: `Read width, height, frame rate and an estimated frame count with ffprobe
and print them as JSON. An unusable frame rate is replaced by
media.fallback_fps and reported with fps_fallback.

Example:
  clipqueue probe clip.mp4`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadedConfig()
	if err != nil {
		return err
	}

	meta, err := framesource.Probe(cmd.Context(), cfg.Media.FFprobePath, args[0], cfg.Media.FallbackFPS)
	if err != nil {
		observability.CLILogger.Error("Probe failed", zap.String("path", args[0]), zap.Error(err))
		switch {
		case media.IsInputNotFound(err):
			return exitError(foundry.ExitFileNotFound, "Input not found", err)
		case media.IsToolMissing(err):
			return exitError(foundry.ExitExternalServiceUnavailable, "ffprobe not available", err)
		default:
			return exitError(foundry.ExitFileReadError, "Failed to probe input", err)
		}
	}
	if meta.FPSFallback {
		observability.CLILogger.Warn("Frame rate unusable, using fallback", zap.Float64("fps", meta.FPS))
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(meta)
}
