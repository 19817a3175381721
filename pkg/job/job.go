// Package job defines the unit of work processed by clipqueue and its
// lifecycle.
package job

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Operation selects the transformation a job performs.
//
// NOTE: the string values are part of the status API contract.
type Operation string

const (
	OpRescale          Operation = "rescale"
	OpReverse          Operation = "reverse"
	OpRemoveBackground Operation = "remove_bg"
)

// ParseOperation maps user input to an Operation.
//
// "resize" is accepted as an alias for rescale because the upload form of the
// web front end submits that value.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rescale", "resize", "4k":
		return OpRescale, nil
	case "reverse":
		return OpReverse, nil
	case "remove_bg", "remove-bg", "removebg", "nobg":
		return OpRemoveBackground, nil
	default:
		return "", fmt.Errorf("unknown operation %q", s)
	}
}

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpRescale, OpReverse, OpRemoveBackground:
		return true
	}
	return false
}

// Tag is the operation tag used in output filenames.
func (o Operation) Tag() string {
	switch o {
	case OpRescale:
		return "4k"
	case OpReverse:
		return "reverse"
	case OpRemoveBackground:
		return "nobg"
	}
	return ""
}

// State is the lifecycle state of a job.
type State string

const (
	StatePending    State = "pending"
	StateProcessing State = "processing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether moving from s to next is allowed.
//
// pending -> processing -> completed|failed. A pending job may also fail
// directly, which happens when the worker rejects it before starting.
func (s State) CanTransition(next State) bool {
	switch s {
	case StatePending:
		return next == StateProcessing || next == StateFailed
	case StateProcessing:
		return next == StateCompleted || next == StateFailed
	}
	return false
}

// Job is a snapshot of one queued unit of work.
//
// Values handed out by the queue are copies; mutating them has no effect on
// the registry.
type Job struct {
	ID            string    `json:"id"`
	SourceName    string    `json:"filename"`
	Operation     Operation `json:"operation"`
	InputLocation string    `json:"-"`
	State         State     `json:"state"`
	Progress      int64     `json:"progress"`
	TotalFrames   int64     `json:"total_frames,omitempty"`

	OutputName     string `json:"output_filename"`
	OutputLocation string `json:"-"`
	PublishedURI   string `json:"published_uri,omitempty"`

	FailureCode   string `json:"error_code,omitempty"`
	FailureReason string `json:"error"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// MarshalJSON always emits output_filename and error, as null until the job
// reaches the matching terminal state.
func (j Job) MarshalJSON() ([]byte, error) {
	type fields Job
	return json.Marshal(struct {
		fields
		OutputName    *string `json:"output_filename"`
		FailureReason *string `json:"error"`
	}{fields(j), nullString(j.OutputName), nullString(j.FailureReason)})
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Output describes the artifact of a completed job.
type Output struct {
	Name         string
	Location     string
	PublishedURI string
}

// Percent returns the progress ratio in [0, 100] when the total frame count
// is known, and -1 otherwise.
func (j Job) Percent() float64 {
	if j.State == StateCompleted {
		return 100
	}
	if j.TotalFrames <= 0 {
		return -1
	}
	p := float64(j.Progress) / float64(j.TotalFrames) * 100
	if p > 100 {
		p = 100
	}
	return p
}

// Duration returns how long the job ran, or zero if it has not finished.
func (j Job) Duration() time.Duration {
	if j.StartedAt == nil || j.EndedAt == nil {
		return 0
	}
	return j.EndedAt.Sub(*j.StartedAt)
}
