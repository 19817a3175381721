package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/3leaps/clipqueue/pkg/job"
)

// OutputName builds "{base}_{tag}_{token}{ext}" for a job.
//
// Rescale and Reverse keep the source extension; RemoveBackground always
// writes the alpha-capable container regardless of the input.
func OutputName(sourceName string, op job.Operation, token string) string {
	name := filepath.Base(sourceName)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	if op == job.OpRemoveBackground {
		ext = AlphaContainerExt
	}
	return fmt.Sprintf("%s_%s_%s%s", base, op.Tag(), token, ext)
}

// Token returns the uniqueness token for an output filename: the unix time
// followed by the first 8 characters of the job id.
func Token(now time.Time, jobID string) string {
	id := strings.ReplaceAll(jobID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		return fmt.Sprintf("%d", now.Unix())
	}
	return fmt.Sprintf("%d-%s", now.Unix(), id)
}

// CheckInput returns ErrInputNotFound when path does not exist.
func CheckInput(op, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Error{Op: op, Path: path, Err: ErrInputNotFound}
		}
		return &Error{Op: op, Path: path, Err: ErrSourceOpenFailed, Cause: err}
	}
	if info.IsDir() {
		return &Error{Op: op, Path: path, Err: ErrSourceOpenFailed, Cause: fmt.Errorf("input is a directory")}
	}
	return nil
}

// VerifyArtifact confirms the output file exists and is non-empty.
func VerifyArtifact(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, &Error{Op: "verify", Path: path, Err: ErrOutputMissing}
		}
		return 0, &Error{Op: "verify", Path: path, Err: ErrOutputMissing, Cause: err}
	}
	if info.IsDir() || info.Size() == 0 {
		return 0, &Error{Op: "verify", Path: path, Err: ErrOutputMissing, Detail: "artifact is empty"}
	}
	return info.Size(), nil
}
