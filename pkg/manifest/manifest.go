// Package manifest loads batch manifests: YAML or JSON files that list the
// inputs of a clipqueue batch run and how to process them.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	operation: rescale
//	inputs:
//	  - path: "clips/**/*.mp4"
//	  - uri: "s3://renders/incoming/**"
//	    operation: remove_bg
//	exclude:
//	  - "**/draft_*"
//	filters:
//	  size:
//	    max: 2GiB
//	connection:
//	  region: us-east-1
//	output:
//	  destination: stdout
package manifest

import (
	"path/filepath"

	"github.com/3leaps/clipqueue/pkg/job"
	"github.com/3leaps/clipqueue/pkg/match"
)

// Manifest is a validated batch manifest.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest format version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Operation is the default operation for inputs that name none.
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`

	// Inputs are local globs or s3:// key patterns.
	Inputs []Input `json:"inputs" yaml:"inputs"`

	// Exclude drops matches of these patterns from every input.
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`

	// Extensions overrides the container allow-list.
	Extensions []string `json:"extensions,omitempty" yaml:"extensions,omitempty"`

	// Filters applies size, date and name criteria.
	Filters *match.FilterConfig `json:"filters,omitempty" yaml:"filters,omitempty"`

	// Connection configures access to s3:// inputs.
	Connection ConnectionConfig `json:"connection,omitempty" yaml:"connection,omitempty"`

	// Output configures where job records are written.
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`

	// BaseDir resolves relative input paths. Load sets it to the manifest's
	// directory.
	BaseDir string `json:"-" yaml:"-"`
}

// Input selects source videos.
type Input struct {
	// Path is a local file or doublestar glob.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// URI is an s3://bucket/pattern location.
	URI string `json:"uri,omitempty" yaml:"uri,omitempty"`

	// Operation overrides the manifest default for this input.
	Operation string `json:"operation,omitempty" yaml:"operation,omitempty"`
}

// ConnectionConfig configures the S3 client used for s3:// inputs.
type ConnectionConfig struct {
	Region         string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint       string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Profile        string `json:"profile,omitempty" yaml:"profile,omitempty"`
	ForcePathStyle bool   `json:"force_path_style,omitempty" yaml:"force_path_style,omitempty"`
}

// OutputConfig configures job record output.
type OutputConfig struct {
	// Destination is "stdout" or a file path for JSONL records.
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`

	// Progress emits progress records while jobs run.
	Progress *bool `json:"progress,omitempty" yaml:"progress,omitempty"`
}

// Default values for optional fields.
const (
	DefaultVersion     = "1.0"
	DefaultOperation   = job.OpRescale
	DefaultDestination = "stdout"
	DefaultProgress    = false
)

// ApplyDefaults fills in optional fields.
func (m *Manifest) ApplyDefaults() {
	if m.Operation == "" {
		m.Operation = string(DefaultOperation)
	}
	if len(m.Extensions) == 0 {
		m.Extensions = append([]string(nil), match.DefaultExtensions...)
	}
	if m.Output.Destination == "" {
		m.Output.Destination = DefaultDestination
	}
	if m.Output.Progress == nil {
		p := DefaultProgress
		m.Output.Progress = &p
	}
}

// OperationFor returns the operation for in, falling back to the manifest
// default. Validate guarantees both parse.
func (m *Manifest) OperationFor(in Input) job.Operation {
	raw := in.Operation
	if raw == "" {
		raw = m.Operation
	}
	op, err := job.ParseOperation(raw)
	if err != nil {
		return DefaultOperation
	}
	return op
}

// ResolvePath makes a relative input path relative to BaseDir.
func (m *Manifest) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || m.BaseDir == "" {
		return p
	}
	return filepath.Join(m.BaseDir, p)
}

// ProgressEnabled reports whether progress records are emitted.
func (o *OutputConfig) ProgressEnabled() bool {
	if o.Progress == nil {
		return DefaultProgress
	}
	return *o.Progress
}
