package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/internal/observability"
	"github.com/3leaps/clipqueue/pkg/job"
	"github.com/3leaps/clipqueue/pkg/manifest"
	"github.com/3leaps/clipqueue/pkg/match"
	"github.com/3leaps/clipqueue/pkg/output"
	"github.com/3leaps/clipqueue/pkg/provider"
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run the jobs listed in a manifest",
	Long: `Run every input of a YAML or JSON manifest through the queue and wait for
all jobs to finish.

Inputs are local globs (path) or s3:// key patterns (uri). Excludes, the
container allow-list and filters decide which matches become jobs; the rest
are reported as skip records.

Example:
  clipqueue batch --manifest batch.yaml
  clipqueue batch --manifest batch.yaml --output results.jsonl
  clipqueue batch --manifest batch.yaml --dry-run`,
	RunE: runBatch,
}

var (
	batchManifestPath     string
	batchOutput           string
	batchQuiet            bool
	batchDryRun           bool
	batchProgressInterval time.Duration
)

func init() {
	rootCmd.AddCommand(batchCmd)

	batchCmd.Flags().StringVarP(&batchManifestPath, "manifest", "m", "", "Path to batch manifest (required)")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "Override record destination")
	batchCmd.Flags().BoolVarP(&batchQuiet, "quiet", "q", false, "Suppress progress records")
	batchCmd.Flags().BoolVar(&batchDryRun, "dry-run", false, "Expand inputs and show the plan without running")
	batchCmd.Flags().DurationVar(&batchProgressInterval, "progress-interval", 2*time.Second, "Interval between progress records")
	batchCmd.Flags().Int("workers", 0, "Concurrent job consumers (default from config)")

	_ = batchCmd.MarkFlagRequired("manifest")
}

// batchPlan is the expanded manifest.
type batchPlan struct {
	jobs   []plannedJob
	skips  []output.SkipRecord
	errors []output.ErrorRecord

	// store serves the manifest's s3:// inputs, if any.
	store provider.Provider
}

type plannedJob struct {
	name      string
	location  string
	operation job.Operation
}

func runBatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	logger := observability.CLILogger
	start := time.Now()

	cfg, err := loadedConfig()
	if err != nil {
		return err
	}

	m, err := manifest.Load(batchManifestPath)
	if err != nil {
		logger.Error("Failed to load manifest",
			zap.String("path", batchManifestPath),
			zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid manifest", err)
	}
	if batchOutput != "" {
		m.Output.Destination = batchOutput
	}
	if batchQuiet {
		enabled := false
		m.Output.Progress = &enabled
	}

	plan, err := expandManifest(ctx, m)
	if err != nil {
		return err
	}
	if plan.store != nil {
		defer func() { _ = plan.store.Close() }()
	}
	logger.Debug("Expanded manifest",
		zap.String("path", batchManifestPath),
		zap.Int("jobs", len(plan.jobs)),
		zap.Int("skipped", len(plan.skips)),
		zap.Int("errors", len(plan.errors)))

	if batchDryRun {
		showBatchPlan(m, plan)
		return nil
	}

	svc, err := buildServices(ctx, cfg, plan.store, logger)
	if err != nil {
		return exitError(foundry.ExitExternalServiceUnavailable, "Failed to start services", err)
	}
	defer func() { _ = svc.Close() }()

	writer, cleanup, err := createWriter(m.Output.Destination, uuid.NewString())
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create output", err)
	}
	defer cleanup()

	summary := &output.SummaryRecord{
		Skipped: int64(len(plan.skips)),
		Errors:  int64(len(plan.errors)),
	}
	for i := range plan.skips {
		if err := writer.WriteSkip(ctx, &plan.skips[i]); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write record", err)
		}
	}
	for i := range plan.errors {
		if err := writer.WriteError(ctx, &plan.errors[i]); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write record", err)
		}
	}

	ids := make([]string, 0, len(plan.jobs))
	for _, pj := range plan.jobs {
		id, err := svc.queue.Submit(pj.name, pj.operation, pj.location)
		if err != nil {
			summary.Errors++
			_ = writer.WriteError(ctx, &output.ErrorRecord{
				Code:    output.ErrCodeInvalidInput,
				Message: err.Error(),
				Input:   pj.location,
			})
			continue
		}
		ids = append(ids, id)
	}
	svc.queue.Close()
	summary.Submitted = int64(len(ids))

	interval := time.Duration(0)
	if m.Output.ProgressEnabled() {
		interval = batchProgressInterval
	}
	progressCtx, stopProgress := context.WithCancel(ctx)
	go reportProgress(progressCtx, svc.queue, writer, interval)
	runErr := svc.worker.Run(ctx)
	stopProgress()

	recordCtx := context.WithoutCancel(ctx)
	for _, id := range ids {
		j, err := svc.queue.Get(id)
		if err != nil {
			continue
		}
		switch j.State {
		case job.StateCompleted:
			summary.Completed++
		case job.StateFailed:
			summary.Failed++
		}
		if err := writer.WriteJob(recordCtx, output.NewJobRecord(j)); err != nil {
			return exitError(foundry.ExitFileWriteError, "Failed to write job record", err)
		}
	}

	summary.Duration = time.Since(start)
	summary.DurationHuman = summary.Duration.Round(time.Millisecond).String()
	if err := writer.WriteSummary(recordCtx, summary); err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to write summary", err)
	}

	logger.Info("Batch finished",
		zap.Int64("submitted", summary.Submitted),
		zap.Int64("completed", summary.Completed),
		zap.Int64("failed", summary.Failed),
		zap.Int64("skipped", summary.Skipped),
		zap.Duration("duration", summary.Duration))

	if runErr != nil {
		return exitError(foundry.ExitSignalInt, "Interrupted", runErr)
	}
	if summary.Failed > 0 {
		return exitError(exitFailure, "Batch incomplete", fmt.Errorf("%d of %d jobs failed", summary.Failed, summary.Submitted))
	}
	return nil
}

// expandManifest turns the manifest inputs into planned jobs. Inputs that
// cannot be expanded become error records; matches rejected by the
// extension allow-list or the filters become skip records.
func expandManifest(ctx context.Context, m *manifest.Manifest) (*batchPlan, error) {
	ext, err := match.NewExtensionMatcher(m.Extensions)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid extensions", err)
	}
	filter, err := match.NewFilterFromConfig(m.Filters)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid filters", err)
	}
	expander := match.Expander{Excludes: m.Exclude}

	plan := &batchPlan{}
	for _, in := range m.Inputs {
		if err := ctx.Err(); err != nil {
			return nil, exitError(foundry.ExitSignalInt, "Interrupted", err)
		}

		var (
			cands []match.Candidate
			input string
		)
		if in.Path != "" {
			input = m.ResolvePath(in.Path)
			cands, err = expander.Local(ctx, input)
		} else {
			input = in.URI
			cands, err = expandRemote(ctx, m, plan, expander, in.URI)
		}
		if err != nil {
			plan.errors = append(plan.errors, output.ErrorRecord{
				Code:    errorCode(err),
				Message: err.Error(),
				Input:   input,
			})
			continue
		}
		if len(cands) == 0 {
			plan.errors = append(plan.errors, output.ErrorRecord{
				Code:    output.ErrCodeNotFound,
				Message: "no inputs matched",
				Input:   input,
			})
			continue
		}

		op := m.OperationFor(in)
		for _, c := range cands {
			switch {
			case !ext.Allowed(c.Name):
				plan.skips = append(plan.skips, output.SkipRecord{Input: c.Location, Reason: output.SkipExtension})
			case !filter.Match(&c.Object):
				plan.skips = append(plan.skips, output.SkipRecord{Input: c.Location, Reason: output.SkipFiltered})
			default:
				plan.jobs = append(plan.jobs, plannedJob{name: c.Name, location: c.Location, operation: op})
			}
		}
	}
	return plan, nil
}

// expandRemote expands an s3:// pattern, opening the manifest's bucket on
// first use.
func expandRemote(ctx context.Context, m *manifest.Manifest, plan *batchPlan, expander match.Expander, uri string) ([]match.Candidate, error) {
	loc, err := provider.ParseURI(uri)
	if err != nil {
		return nil, err
	}
	if plan.store == nil {
		store, err := newInputStore(ctx, loc.Bucket, s3Connection{
			Region:         m.Connection.Region,
			Endpoint:       m.Connection.Endpoint,
			Profile:        m.Connection.Profile,
			ForcePathStyle: m.Connection.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		plan.store = store
	}
	return expander.Remote(ctx, plan.store, loc.Key)
}

// errorCode maps an expansion failure to an error record code.
func errorCode(err error) string {
	switch {
	case provider.IsNotFound(err):
		return output.ErrCodeNotFound
	case provider.IsAccessDenied(err):
		return output.ErrCodeAccessDenied
	case errors.Is(err, match.ErrInvalidPattern):
		return output.ErrCodeInvalidInput
	default:
		return output.ErrCodeInternal
	}
}

// showBatchPlan displays what would run without executing.
func showBatchPlan(m *manifest.Manifest, plan *batchPlan) {
	fmt.Println("=== Batch Plan (dry-run) ===")
	fmt.Println()
	fmt.Printf("Manifest:    %s\n", batchManifestPath)
	fmt.Printf("Operation:   %s\n", m.Operation)
	fmt.Printf("Extensions:  %v\n", m.Extensions)
	if len(m.Exclude) > 0 {
		fmt.Printf("Exclude:     %v\n", m.Exclude)
	}
	if m.Connection.Region != "" {
		fmt.Printf("Region:      %s\n", m.Connection.Region)
	}
	if m.Connection.Endpoint != "" {
		fmt.Printf("Endpoint:    %s\n", m.Connection.Endpoint)
	}
	fmt.Printf("Output:      %s\n", m.Output.Destination)
	fmt.Println()

	fmt.Printf("Jobs (%d):\n", len(plan.jobs))
	for _, pj := range plan.jobs {
		fmt.Printf("  - %-10s %s\n", pj.operation, pj.location)
	}
	if len(plan.skips) > 0 {
		fmt.Printf("Skipped (%d):\n", len(plan.skips))
		for _, s := range plan.skips {
			fmt.Printf("  - %s (%s)\n", s.Input, s.Reason)
		}
	}
	if len(plan.errors) > 0 {
		fmt.Printf("Errors (%d):\n", len(plan.errors))
		for _, e := range plan.errors {
			fmt.Printf("  - %s: %s [%s]\n", e.Input, e.Message, e.Code)
		}
	}
	fmt.Println()
	fmt.Println("Manifest is valid. Use without --dry-run to execute.")
}
