package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/clipqueue/pkg/job"
	"github.com/3leaps/clipqueue/pkg/jobqueue"
	"github.com/3leaps/clipqueue/pkg/output"
)

func TestCreateWriterFile(t *testing.T) {
	for _, prefix := range []string{"", "file:"} {
		t.Run("prefix "+prefix, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "records.jsonl")
			w, cleanup, err := createWriter(prefix+path, "run-1")
			require.NoError(t, err)

			require.NoError(t, w.WriteSkip(context.Background(), &output.SkipRecord{Input: "a.txt", Reason: output.SkipExtension}))
			cleanup()

			f, err := os.Open(path)
			require.NoError(t, err)
			defer f.Close()

			sc := bufio.NewScanner(f)
			require.True(t, sc.Scan())
			var rec output.Record
			require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
			assert.Equal(t, output.TypeSkip, rec.Type)
			assert.Equal(t, "run-1", rec.RunID)
			assert.False(t, sc.Scan())
		})
	}
}

func TestCreateWriterBadPath(t *testing.T) {
	_, _, err := createWriter(filepath.Join(t.TempDir(), "missing", "records.jsonl"), "run-1")
	assert.Error(t, err)
}

// progressRecorder keeps the progress records it receives.
type progressRecorder struct {
	output.Writer

	mu   sync.Mutex
	recs []output.ProgressRecord
}

func (r *progressRecorder) WriteProgress(ctx context.Context, p *output.ProgressRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, *p)
	return nil
}

func (r *progressRecorder) records() []output.ProgressRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]output.ProgressRecord(nil), r.recs...)
}

func TestReportProgress(t *testing.T) {
	q := jobqueue.New()
	running, err := q.Submit("a.mp4", job.OpRescale, "/in/a.mp4")
	require.NoError(t, err)
	_, err = q.Submit("b.mp4", job.OpRescale, "/in/b.mp4")
	require.NoError(t, err)

	require.NoError(t, q.Start(running))
	require.NoError(t, q.SetProgress(running, 25, 100))

	rec := &progressRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reportProgress(ctx, q, rec, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return len(rec.records()) > 0 }, time.Second, 5*time.Millisecond)
	// Unchanged progress is reported once.
	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	got := rec.records()
	require.Len(t, got, 1, "pending jobs and unchanged progress are not reported")
	assert.Equal(t, output.ProgressRecord{JobID: running, Frames: 25, TotalFrames: 100, Percent: 25}, got[0])
}

func TestReportProgressDisabled(t *testing.T) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		reportProgress(context.Background(), jobqueue.New(), &progressRecorder{}, 0)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reportProgress with zero interval should return immediately")
	}
}
