package output

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Writer emits run records. Implementations must accept calls from the
// progress reporter and the command goroutine at the same time.
type Writer interface {
	WriteJob(ctx context.Context, rec *JobRecord) error
	WriteProgress(ctx context.Context, prog *ProgressRecord) error
	WriteSkip(ctx context.Context, skip *SkipRecord) error
	WriteError(ctx context.Context, err *ErrorRecord) error
	WriteSummary(ctx context.Context, sum *SummaryRecord) error
	Close() error
}

// JSONLWriter encodes each record as one line of JSON on an io.Writer.
// A line is written with a single locked call so concurrent records
// never interleave.
type JSONLWriter struct {
	mu     sync.Mutex
	dst    io.Writer
	runID  string
	now    func() time.Time
	closed bool
}

// NewJSONLWriter returns a writer that stamps every envelope with runID.
func NewJSONLWriter(w io.Writer, runID string) *JSONLWriter {
	return &JSONLWriter{dst: w, runID: runID, now: time.Now}
}

func (jw *JSONLWriter) WriteJob(ctx context.Context, rec *JobRecord) error {
	return jw.emit(ctx, TypeJob, rec)
}

func (jw *JSONLWriter) WriteProgress(ctx context.Context, prog *ProgressRecord) error {
	return jw.emit(ctx, TypeProgress, prog)
}

func (jw *JSONLWriter) WriteSkip(ctx context.Context, skip *SkipRecord) error {
	return jw.emit(ctx, TypeSkip, skip)
}

func (jw *JSONLWriter) WriteError(ctx context.Context, err *ErrorRecord) error {
	return jw.emit(ctx, TypeError, err)
}

func (jw *JSONLWriter) WriteSummary(ctx context.Context, sum *SummaryRecord) error {
	return jw.emit(ctx, TypeSummary, sum)
}

// Close rejects further records. The destination stays open; its owner
// closes it.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	jw.closed = true
	jw.mu.Unlock()
	return nil
}

func (jw *JSONLWriter) emit(ctx context.Context, kind string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()
	switch {
	case jw.closed:
		return ErrWriterClosed
	case ctx.Err() != nil:
		return ctx.Err()
	}

	var line bytes.Buffer
	enc := json.NewEncoder(&line)
	enc.SetEscapeHTML(false)
	env := Record{Type: kind, TS: jw.now().UTC(), RunID: jw.runID, Data: data}
	if err := enc.Encode(&env); err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// Encode terminates the line with '\n'.
	for p := line.Bytes(); len(p) > 0; {
		n, err := jw.dst.Write(p)
		if err == nil && n == 0 {
			err = io.ErrShortWrite
		}
		if err != nil {
			return &WriteError{Op: "write", Err: err}
		}
		p = p[n:]
	}
	return nil
}

var _ Writer = (*JSONLWriter)(nil)
