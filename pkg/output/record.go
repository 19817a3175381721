// Package output provides JSONL output for CLI runs.
//
// Output is structured as typed record envelopes containing job results,
// progress, skipped inputs, errors and a final summary. Each line is a
// self-contained JSON object that can be parsed independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/3leaps/clipqueue/pkg/job"
)

// Record type constants follow the pattern clipqueue.<type>.v<version>.
const (
	// TypeJob identifies terminal job records.
	TypeJob = "clipqueue.job.v1"

	// TypeProgress identifies frame progress records.
	TypeProgress = "clipqueue.progress.v1"

	// TypeSkip identifies inputs that were not submitted.
	TypeSkip = "clipqueue.skip.v1"

	// TypeError identifies errors outside a single job.
	TypeError = "clipqueue.error.v1"

	// TypeSummary identifies the final summary record.
	TypeSummary = "clipqueue.summary.v1"
)

// Record is the envelope for all JSONL output.
type Record struct {
	// Type identifies the payload in Data.
	Type string `json:"type"`

	// TS is when the record was written.
	TS time.Time `json:"ts"`

	// RunID correlates records from one CLI invocation.
	RunID string `json:"run_id"`

	Data json.RawMessage `json:"data"`
}

// JobRecord is the data payload for a job that reached a terminal state.
type JobRecord struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	Input     string `json:"input"`
	Operation string `json:"operation"`
	State     string `json:"state"`

	Frames      int64 `json:"frames"`
	TotalFrames int64 `json:"total_frames,omitempty"`

	Output       string `json:"output,omitempty"`
	PublishedURI string `json:"published_uri,omitempty"`

	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// NewJobRecord builds a record from a job snapshot.
func NewJobRecord(j job.Job) *JobRecord {
	d := j.Duration()
	return &JobRecord{
		ID:            j.ID,
		Filename:      j.SourceName,
		Input:         j.InputLocation,
		Operation:     string(j.Operation),
		State:         string(j.State),
		Frames:        j.Progress,
		TotalFrames:   j.TotalFrames,
		Output:        j.OutputLocation,
		PublishedURI:  j.PublishedURI,
		ErrorCode:     j.FailureCode,
		Error:         j.FailureReason,
		Duration:      d,
		DurationHuman: d.Round(time.Millisecond).String(),
	}
}

// ProgressRecord is the data payload for frame progress.
type ProgressRecord struct {
	JobID       string  `json:"job_id"`
	Frames      int64   `json:"frames"`
	TotalFrames int64   `json:"total_frames,omitempty"`
	Percent     float64 `json:"percent,omitempty"`
}

// SkipRecord is the data payload for an input that was not submitted.
type SkipRecord struct {
	Input  string `json:"input"`
	Reason string `json:"reason"`
}

// Skip reasons.
const (
	SkipExtension = "extension_not_allowed"
	SkipFiltered  = "filtered"
)

// ErrorRecord is the data payload for errors outside a single job, such
// as an input pattern that could not be expanded.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	Message string `json:"message"`

	// Input is the pattern or location related to this error, if any.
	Input string `json:"input,omitempty"`

	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord.
const (
	ErrCodeAccessDenied = "ACCESS_DENIED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeInternal     = "INTERNAL"
)

// SummaryRecord is the data payload for the final summary.
type SummaryRecord struct {
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Skipped   int64 `json:"skipped"`
	Errors    int64 `json:"errors"`

	Duration      time.Duration `json:"duration_ns"`
	DurationHuman string        `json:"duration"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
