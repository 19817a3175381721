// Package cmd implements the clipqueue command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/3leaps/clipqueue/internal/config"
	"github.com/3leaps/clipqueue/internal/observability"
	"github.com/3leaps/clipqueue/internal/server/handlers"
)

// VersionInfo is the build metadata injected by main.
type VersionInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

var versionInfo = VersionInfo{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

var (
	cfgFile     string
	verbose     bool
	appIdentity *config.Identity
)

// skipConfigAnnotation marks commands that run without loading config.
const skipConfigAnnotation = "clipqueue/skip-config"

// flagKeys maps command flags to the config keys they override.
var flagKeys = map[string]string{
	"host":       "server.host",
	"port":       "server.port",
	"workers":    "workers",
	"log-level":  "logging.level",
	"output-dir": "storage.output_dir",
	"upload-dir": "storage.upload_dir",
	"ffmpeg":     "media.ffmpeg_path",
	"ffprobe":    "media.ffprobe_path",
	"transform":  "pipeline.transform",
}

var rootCmd = &cobra.Command{
	Use:   "clipqueue",
	Short: "Video job queue with streaming background removal",
	Long: `clipqueue accepts video files, queues transformation jobs and runs them
against ffmpeg: rescale, reverse and streaming background removal.

Run "clipqueue serve" for the upload and status API, or "clipqueue process"
and "clipqueue batch" to run jobs from the command line.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initRuntime,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./clipqueue.yaml, then the user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("output-dir", "", "Directory for finished artifacts")
	rootCmd.PersistentFlags().String("ffmpeg", "", "Path to the ffmpeg binary")
	rootCmd.PersistentFlags().String("ffprobe", "", "Path to the ffprobe binary")
}

// Execute runs the root command and returns the process exit code.
// SIGINT and SIGTERM cancel the command context.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return ExitCode(err)
}

// SetVersionInfo records build metadata for the CLI and the HTTP API.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
	handlers.SetVersionInfo(version, commit, buildDate)
}

// GetAppIdentity returns the identity set up by the root command, or nil
// before it has run.
func GetAppIdentity() *config.Identity {
	return appIdentity
}

// initRuntime loads configuration and installs the CLI logger.
func initRuntime(cmd *cobra.Command, args []string) error {
	id := config.DefaultIdentity
	appIdentity = &id

	if cmd.Annotations[skipConfigAnnotation] == "true" {
		observability.InitCLILogger(id.BinaryName, verbose)
		return nil
	}

	config.SetConfigFile(cfgFile)
	cfg, err := config.Load(cmd.Context(), flagOverrides(cmd.Flags()))
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}

	level := cfg.Logging.Level
	if verbose {
		level = "debug"
	}
	logger, err := observability.NewLogger(level, cfg.Logging.Profile)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	observability.SetCLILogger(logger.Named(id.BinaryName))
	return nil
}

// flagOverrides collects the explicitly set flags that map to config keys.
func flagOverrides(flags *pflag.FlagSet) map[string]any {
	overrides := map[string]any{}
	flags.Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.String()
		}
	})
	return overrides
}

// loadedConfig returns the configuration loaded by initRuntime.
func loadedConfig() (*config.Config, error) {
	cfg := config.GetConfig()
	if cfg == nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Configuration not loaded", fmt.Errorf("no configuration"))
	}
	return cfg, nil
}
