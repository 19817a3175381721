// Package jobqueue is the in-memory job registry and FIFO dispatcher.
//
// The registry owns every job for the life of the process. Submitters and
// status readers only ever see copies; the worker that dequeued a job is the
// only caller that mutates it.
package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/3leaps/clipqueue/pkg/job"
	"github.com/3leaps/clipqueue/pkg/media"
)

var (
	// ErrNotFound indicates an unknown job id.
	ErrNotFound = errors.New("job not found")

	// ErrInvalidTransition indicates a state change the lifecycle forbids.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrClosed indicates the queue no longer accepts submissions.
	ErrClosed = errors.New("queue closed")
)

// Queue is a concurrency-safe job registry with FIFO dispatch.
type Queue struct {
	mu      sync.Mutex
	jobs    map[string]*job.Job
	order   []string
	pending []string
	closed  bool

	// ready holds a token while pending is non-empty.
	ready chan struct{}
	done  chan struct{}

	now   func() time.Time
	newID func() string
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{
		jobs:  make(map[string]*job.Job),
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
		now:   func() time.Time { return time.Now().UTC() },
		newID: func() string { return uuid.NewString() },
	}
}

// Submit registers a pending job and appends it to the dispatch list.
func (q *Queue) Submit(sourceName string, op job.Operation, inputLocation string) (string, error) {
	if !op.Valid() {
		return "", &media.Error{Op: "submit", Err: media.ErrInvalidOperation, Cause: fmt.Errorf("operation %q", op)}
	}
	if strings.TrimSpace(inputLocation) == "" {
		return "", fmt.Errorf("submit: input location is required")
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return "", ErrClosed
	}

	id := q.newID()
	for _, taken := q.jobs[id]; taken; _, taken = q.jobs[id] {
		id = q.newID()
	}

	q.jobs[id] = &job.Job{
		ID:            id,
		SourceName:    sourceName,
		Operation:     op,
		InputLocation: inputLocation,
		State:         job.StatePending,
		CreatedAt:     q.now(),
	}
	q.order = append(q.order, id)
	q.pending = append(q.pending, id)
	q.signal()
	return id, nil
}

// signal leaves a wake-up token for one consumer. Callers hold mu.
func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Get returns a snapshot of one job.
func (q *Queue) Get(id string) (job.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return job.Job{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snapshot(j), nil
}

// List returns snapshots of all jobs in submission order.
func (q *Queue) List() []job.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]job.Job, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, snapshot(q.jobs[id]))
	}
	return out
}

// Len returns the number of jobs waiting for dispatch.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Dequeue blocks until a job id is available or ctx is done. Each id is
// handed to exactly one caller.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			id := q.pending[0]
			q.pending[0] = ""
			q.pending = q.pending[1:]
			if len(q.pending) > 0 {
				q.signal()
			}
			q.mu.Unlock()
			return id, nil
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return "", ErrClosed
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.done:
		case <-q.ready:
		}
	}
}

// Close stops accepting submissions. Consumers drain what is pending and
// then receive ErrClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Start moves a job to processing.
func (q *Queue) Start(id string) error {
	return q.update(id, func(j *job.Job) error {
		if err := transition(j, job.StateProcessing); err != nil {
			return err
		}
		t := q.now()
		j.StartedAt = &t
		return nil
	})
}

// SetProgress records frames processed and the estimated total. Counter
// decreases are ignored.
func (q *Queue) SetProgress(id string, frames, total int64) error {
	return q.update(id, func(j *job.Job) error {
		if j.State != job.StateProcessing {
			return fmt.Errorf("%w: progress on %s job", ErrInvalidTransition, j.State)
		}
		if frames > j.Progress {
			j.Progress = frames
		}
		if total > 0 {
			j.TotalFrames = total
		}
		return nil
	})
}

// Complete moves a job to completed and records its output.
func (q *Queue) Complete(id string, out job.Output) error {
	if strings.TrimSpace(out.Name) == "" {
		return fmt.Errorf("complete %s: output name is required", id)
	}
	return q.update(id, func(j *job.Job) error {
		if err := transition(j, job.StateCompleted); err != nil {
			return err
		}
		j.OutputName = out.Name
		j.OutputLocation = out.Location
		j.PublishedURI = out.PublishedURI
		t := q.now()
		j.EndedAt = &t
		return nil
	})
}

// Fail moves a job to failed and records why.
func (q *Queue) Fail(id, code, reason string) error {
	if strings.TrimSpace(reason) == "" {
		reason = "unknown failure"
	}
	return q.update(id, func(j *job.Job) error {
		if err := transition(j, job.StateFailed); err != nil {
			return err
		}
		j.FailureCode = code
		j.FailureReason = reason
		t := q.now()
		j.EndedAt = &t
		return nil
	})
}

// SetPublished records where a completed job's artifact was copied.
func (q *Queue) SetPublished(id, uri string) error {
	return q.update(id, func(j *job.Job) error {
		if j.State != job.StateCompleted {
			return fmt.Errorf("%w: publish on %s job", ErrInvalidTransition, j.State)
		}
		j.PublishedURI = uri
		return nil
	})
}

func (q *Queue) update(id string, fn func(*job.Job) error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fn(j)
}

func transition(j *job.Job, next job.State) error {
	if !j.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s (job %s)", ErrInvalidTransition, j.State, next, j.ID)
	}
	j.State = next
	return nil
}

func snapshot(j *job.Job) job.Job {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.EndedAt != nil {
		t := *j.EndedAt
		c.EndedAt = &t
	}
	return c
}

// IsNotFound returns true if err is an unknown job id.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
