package cmd

import (
	"context"
	"fmt"
	"runtime"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/internal/config"
	apperrors "github.com/3leaps/clipqueue/internal/errors"
	"github.com/3leaps/clipqueue/internal/observability"
	"github.com/3leaps/clipqueue/pkg/media"
)

var (
	doctorProvider string
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run diagnostic checks",
	Long: `Run diagnostic checks on the system and suggest fixes for common issues.

Examples:
  clipqueue doctor               # Full environment check
  clipqueue doctor --provider s3 # Also check AWS credentials for s3:// inputs and publishing`,
	Annotations: map[string]string{skipConfigAnnotation: "true"},
	Run:         runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
	doctorCmd.Flags().StringVar(&doctorProvider, "provider", "", "Run provider-specific checks (s3)")
}

func runDoctor(cmd *cobra.Command, args []string) {
	logger := observability.CLILogger
	identity := GetAppIdentity()
	bannerName := "doctor"
	if identity != nil && identity.BinaryName != "" {
		bannerName = identity.BinaryName + " doctor"
	}
	logger.Info("=== " + bannerName + " ===")
	logger.Info("")
	logger.Info("Running diagnostic checks...")
	logger.Info("")

	allChecks := true
	checkNum := 1
	totalChecks := 6

	if doctorProvider == "s3" {
		totalChecks = 8
	}

	// Check 1: configuration
	config.SetConfigFile(cfgFile)
	cfg, err := config.Load(cmd.Context(), flagOverrides(cmd.Flags()))
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking configuration... ❌ %v", checkNum, totalChecks, err))
		ExitWithCode(logger, foundry.ExitInvalidArgument, "Invalid configuration", err)
		return
	}
	logger.Info(fmt.Sprintf("[%d/%d] Checking configuration... ✅ transform=%s workers=%d", checkNum, totalChecks, cfg.Pipeline.Transform, cfg.Workers))
	checkNum++

	// Checks 2-3: media tools
	for _, tool := range []struct{ name, path string }{
		{"ffmpeg", cfg.Media.FFmpegPath},
		{"ffprobe", cfg.Media.FFprobePath},
	} {
		resolved, err := media.LookTool(tool.path)
		if err != nil {
			logger.Error(fmt.Sprintf("[%d/%d] Checking %s... ❌ not found (%s)", checkNum, totalChecks, tool.name, tool.path),
				zap.Error(err))
			allChecks = false
		} else {
			logger.Info(fmt.Sprintf("[%d/%d] Checking %s... ✅ %s", checkNum, totalChecks, tool.name, resolved),
				zap.String("path", resolved))
		}
		checkNum++
	}

	// Check 4: Crucible and Gofulmen access
	version := crucible.GetVersion()
	if version.Crucible != "" && version.Gofulmen != "" {
		logger.Info(fmt.Sprintf("[%d/%d] Checking Crucible/Gofulmen access... ✅ v%s / v%s", checkNum, totalChecks, version.Crucible, version.Gofulmen),
			zap.String("crucible_version", version.Crucible),
			zap.String("gofulmen_version", version.Gofulmen))
	} else {
		logger.Error(fmt.Sprintf("[%d/%d] Checking Crucible/Gofulmen access... ❌ version metadata unavailable", checkNum, totalChecks),
			zap.Error(apperrors.NewExternalServiceError("Crucible metadata unavailable")))
		allChecks = false
	}
	checkNum++

	// Check 5: storage directories
	storageOK := true
	for _, dir := range []string{cfg.Storage.UploadDir, cfg.Storage.OutputDir} {
		if err := (dirHealthChecker{dir: dir}).CheckHealth(cmd.Context()); err != nil {
			logger.Error(fmt.Sprintf("[%d/%d] Checking storage... ❌ %v", checkNum, totalChecks, err))
			storageOK = false
			allChecks = false
			break
		}
	}
	if storageOK {
		logger.Info(fmt.Sprintf("[%d/%d] Checking storage... ✅ %s, %s", checkNum, totalChecks, cfg.Storage.UploadDir, cfg.Storage.OutputDir))
	}
	checkNum++

	// Check 6: Environment
	logger.Info(fmt.Sprintf("[%d/%d] Checking environment... ✅ %s %s/%s", checkNum, totalChecks, runtime.Version(), runtime.GOOS, runtime.GOARCH),
		zap.String("os", runtime.GOOS),
		zap.String("arch", runtime.GOARCH))
	checkNum++

	if doctorProvider == "s3" {
		allChecks = runS3Checks(cmd.Context(), checkNum, totalChecks, allChecks)
	}

	logger.Info("")
	if allChecks {
		logger.Info(fmt.Sprintf("✅ All checks passed! Your %s installation is healthy.", bannerName))
	} else {
		logger.Warn("⚠️  Some checks failed. Review the output above for details.")
	}
	logger.Info("")
	logger.Info("=== End Diagnostics ===")
}

// runS3Checks runs S3-specific diagnostic checks.
func runS3Checks(ctx context.Context, checkNum, totalChecks int, allChecks bool) bool {
	logger := observability.CLILogger
	logger.Info("")
	logger.Info("S3 Provider Checks:")

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot load AWS config", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	creds, err := cfg.Credentials.Retrieve(ctx)
	if err != nil {
		logger.Error(fmt.Sprintf("[%d/%d] Checking AWS credentials... ❌ Cannot retrieve credentials", checkNum, totalChecks),
			zap.Error(err))
		printAWSCredentialsHelp()
		return false
	}

	logger.Info(fmt.Sprintf("[%d/%d] Checking AWS credentials... ✅ Found credentials", checkNum, totalChecks),
		zap.String("access_key", maskAccessKey(creds.AccessKeyID)),
		zap.String("source", creds.Source))
	checkNum++

	source := creds.Source
	if source == "" {
		source = "unknown"
	}
	logger.Info(fmt.Sprintf("[%d/%d] Checking credential source... ✅ %s", checkNum, totalChecks, source),
		zap.String("credential_source", source))

	return allChecks
}

// maskAccessKey masks all but the last 4 characters of an access key.
func maskAccessKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// printAWSCredentialsHelp prints help for configuring AWS credentials.
func printAWSCredentialsHelp() {
	logger := observability.CLILogger
	logger.Info("")
	logger.Info("To configure AWS credentials:")
	logger.Info("  1. Set AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY environment variables, or")
	logger.Info("  2. Run 'aws configure' to set up a profile, or")
	logger.Info("  3. Use IAM role when running on AWS infrastructure")
	logger.Info("")
	logger.Info("For S3-compatible storage (MinIO, Wasabi, etc.), also set:")
	logger.Info("  - publish.s3.endpoint in config, or --endpoint on process")
	logger.Info("")
}
