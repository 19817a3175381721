package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/clipqueue/internal/observability"
	"github.com/3leaps/clipqueue/pkg/job"
	"github.com/3leaps/clipqueue/pkg/jobqueue"
	"github.com/3leaps/clipqueue/pkg/output"
)

// createWriter creates an output writer for a destination: "stdout", a
// path, or "file:PATH". It returns the writer and a cleanup function.
func createWriter(dest, runID string) (output.Writer, func(), error) {
	if dest == "" || dest == "stdout" {
		w := output.NewJSONLWriter(os.Stdout, runID)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, runID)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}

// reportProgress writes a progress record for every processing job on each
// tick until ctx is done.
func reportProgress(ctx context.Context, q *jobqueue.Queue, w output.Writer, every time.Duration) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := map[string]int64{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, j := range q.List() {
			if j.State != job.StateProcessing || last[j.ID] == j.Progress {
				continue
			}
			last[j.ID] = j.Progress
			rec := &output.ProgressRecord{
				JobID:       j.ID,
				Frames:      j.Progress,
				TotalFrames: j.TotalFrames,
				Percent:     j.Percent(),
			}
			if err := w.WriteProgress(ctx, rec); err != nil {
				observability.CLILogger.Debug("Progress record dropped", zap.Error(err))
			}
		}
	}
}
