package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/3leaps/clipqueue/pkg/job"
	"github.com/3leaps/clipqueue/pkg/match"
	"github.com/3leaps/clipqueue/pkg/provider"
)

// ErrValidationFailed indicates the manifest failed validation.
var ErrValidationFailed = errors.New("manifest validation failed")

// ValidationError is a single validation issue.
type ValidationError struct {
	// Path locates the field, e.g. "/inputs/0/uri".
	Path    string
	Message string
}

// Error implements error interface.
func (e ValidationError) Error() string {
	if e.Path == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// ValidationErrors collects every issue found.
type ValidationErrors []ValidationError

// Error implements error interface.
func (e ValidationErrors) Error() string {
	switch len(e) {
	case 0:
		return "validation failed"
	case 1:
		return e[0].Error()
	}
	msgs := make([]string, len(e))
	for i, ve := range e {
		msgs[i] = ve.Error()
	}
	return fmt.Sprintf("%d validation errors:\n  - %s", len(e), strings.Join(msgs, "\n  - "))
}

// Unwrap lets errors.Is match ErrValidationFailed.
func (e ValidationErrors) Unwrap() error {
	return ErrValidationFailed
}

// Validate checks the manifest and returns ValidationErrors listing every
// problem, or nil.
func (m *Manifest) Validate() error {
	var errs ValidationErrors
	add := func(path, format string, args ...any) {
		errs = append(errs, ValidationError{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if m.Version != DefaultVersion {
		add("/version", "must be %q, got %q", DefaultVersion, m.Version)
	}
	if m.Operation != "" {
		if _, err := job.ParseOperation(m.Operation); err != nil {
			add("/operation", "%v", err)
		}
	}
	if len(m.Inputs) == 0 {
		add("/inputs", "at least one input is required")
	}
	bucket := ""
	for i, in := range m.Inputs {
		base := fmt.Sprintf("/inputs/%d", i)
		switch {
		case in.Path == "" && in.URI == "":
			add(base, "one of path or uri is required")
		case in.Path != "" && in.URI != "":
			add(base, "path and uri are mutually exclusive")
		case in.URI != "":
			loc, err := provider.ParseURI(in.URI)
			if err != nil {
				add(base+"/uri", "%v", err)
				break
			}
			if bucket == "" {
				bucket = loc.Bucket
			} else if loc.Bucket != bucket {
				add(base+"/uri", "all s3 inputs must use one bucket (%s), got %s", bucket, loc.Bucket)
			}
		}
		if in.Operation != "" {
			if _, err := job.ParseOperation(in.Operation); err != nil {
				add(base+"/operation", "%v", err)
			}
		}
	}
	for i, p := range m.Exclude {
		if _, err := match.New(match.Config{Includes: []string{p}}); err != nil {
			add(fmt.Sprintf("/exclude/%d", i), "%v", err)
		}
	}
	if len(m.Extensions) > 0 {
		if _, err := match.ExtensionPattern(m.Extensions); err != nil {
			add("/extensions", "%v", err)
		}
	}
	if _, err := match.NewFilterFromConfig(m.Filters); err != nil {
		add("/filters", "%v", err)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
